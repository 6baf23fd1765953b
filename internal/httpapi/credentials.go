package httpapi

import (
	"net/http"
	"strconv"

	"opsnav/internal/apperr"
	"opsnav/internal/models"
)

type credentialRequest struct {
	Name        string `json:"name"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Description string `json:"description"`
}

type credentialResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Username    string `json:"username"`
	Description string `json:"description,omitempty"`
}

func credentialToResponse(c *models.Credential) credentialResponse {
	return credentialResponse{ID: c.ID, Name: c.Alias, Username: c.Username, Description: c.Description}
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.store.ListCredentials()
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	out := make([]credentialResponse, 0, len(creds))
	for _, c := range creds {
		out = append(out, credentialToResponse(c))
	}
	s.jsonResponse(w, http.StatusOK, out)
}

// handleCreateCredential stores a named username/secret preset used by
// the install-tools endpoint's credential_id shortcut.
func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, err)
		return
	}
	if req.Name == "" || req.Username == "" || req.Password == "" {
		s.errorResponse(w, apperr.New(apperr.ValidationKind, "name, username, and password are required"))
		return
	}

	cred := &models.Credential{Alias: req.Name, Username: req.Username, Secret: req.Password, Description: req.Description}
	if err := s.store.CreateCredential(cred); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, credentialToResponse(cred))
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.errorResponse(w, apperr.New(apperr.ValidationKind, "invalid credential id"))
		return
	}
	if err := s.store.DeleteCredential(id); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}
