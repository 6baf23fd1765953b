package httpapi

import (
	"net/http"

	"opsnav/internal/apperr"
	"opsnav/internal/models"
	"opsnav/internal/store"
)

// handleListTasks filters the task log by status/type with pagination;
// any combination of filters may be omitted.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		Status:   models.TaskStatus(q.Get("status")),
		Kind:     models.TaskKind(q.Get("type")),
		Page:     atoiDefault(q.Get("page"), 1),
		PageSize: atoiDefault(q.Get("page_size"), 20),
	}

	items, err := s.tasks.List(filter)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{"total": len(items), "items": items})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := s.tasks.Get(id)
	if err != nil {
		s.errorResponse(w, apperr.Wrap(apperr.NotFoundKind, "task not found", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, task)
}
