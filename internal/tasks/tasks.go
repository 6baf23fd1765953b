// Package tasks tracks asynchronous operations (clone and guest-tools
// install; power actions and sync create no task row) as durable rows so
// clients can poll progress after the triggering HTTP request has
// already returned.
package tasks

import (
	"time"

	"github.com/google/uuid"

	"opsnav/internal/apperr"
	"opsnav/internal/metrics"
	"opsnav/internal/models"
	"opsnav/internal/store"
)

// Tracker is the seam every background worker uses to report progress.
// It never blocks for longer than a single SQLite write.
type Tracker struct {
	store *store.Store
}

// New builds a Tracker over store.
func New(s *store.Store) *Tracker {
	return &Tracker{store: s}
}

// Create inserts a new pending task and returns its opaque ID.
func (t *Tracker) Create(kind models.TaskKind, targetID string) (*models.Task, error) {
	task := &models.Task{
		ID:       uuid.NewString(),
		Kind:     kind,
		TargetID: targetID,
	}
	if err := t.store.CreateTask(task); err != nil {
		return nil, apperr.Wrap(apperr.HypervisorKind, "create task", err)
	}
	return task, nil
}

// Update applies a partial patch; progress is expected to be monotone
// non-decreasing until a terminal status is set, though this is a
// caller discipline, not enforced here.
func (t *Tracker) Update(id string, status *models.TaskStatus, progress *int, message *string, result map[string]interface{}) error {
	return t.store.UpdateTask(id, store.TaskPatch{
		Status: status, Progress: progress, Message: message, Result: result,
	})
}

// MarkRunning is a convenience for the first update a worker makes after
// a task is picked up.
func (t *Tracker) MarkRunning(id string, progress int, message string) error {
	status := models.TaskRunning
	return t.Update(id, &status, &progress, &message, nil)
}

// MarkProgress updates progress/message without touching status.
func (t *Tracker) MarkProgress(id string, progress int, message string) error {
	return t.Update(id, nil, &progress, &message, nil)
}

// MarkSuccess finalizes a task at 100% with an optional result payload.
func (t *Tracker) MarkSuccess(id, message string, result map[string]interface{}) error {
	status := models.TaskSuccess
	progress := 100
	t.recordOutcome(id, status)
	return t.Update(id, &status, &progress, &message, result)
}

// MarkFailed finalizes a task as failed, leaving progress where it
// stopped so a caller can see how far it got.
func (t *Tracker) MarkFailed(id, message string) error {
	status := models.TaskFailed
	t.recordOutcome(id, status)
	return t.Update(id, &status, nil, &message, nil)
}

// recordOutcome increments the finished-task counter, looking up the
// task's kind first since callers only pass the id.
func (t *Tracker) recordOutcome(id string, status models.TaskStatus) {
	task, err := t.store.GetTask(id)
	if err != nil {
		return
	}
	metrics.TaskOutcomeTotal.WithLabelValues(string(task.Kind), string(status)).Inc()
}

// Get fetches a single task by ID.
func (t *Tracker) Get(id string) (*models.Task, error) {
	task, err := t.store.GetTask(id)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFoundKind, "task not found: "+id, err)
	}
	return task, nil
}

// List returns tasks matching filter, newest first.
func (t *Tracker) List(filter store.TaskFilter) ([]*models.Task, error) {
	return t.store.ListTasks(filter)
}

// StaleThreshold is how long a task may sit in "running" with no update
// before a fleet-health check should flag it as abandoned (e.g. daemon
// restarted mid-task). Not enforced automatically: IsStale reports it,
// and nothing in opsnavd or opsnavctl calls IsStale.
const StaleThreshold = 30 * time.Minute

// IsStale reports whether a running task hasn't been touched recently
// enough to still be trusted as in-flight.
func IsStale(t *models.Task) bool {
	return t.Status == models.TaskRunning && time.Since(t.UpdatedAt) > StaleThreshold
}
