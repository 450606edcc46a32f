package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/meridian-search/meridian/internal/task"
	"github.com/meridian-search/meridian/pkg/errors"
)

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	items := []map[string]any{}
	for _, name := range s.manager.Names() {
		idx, ok := s.manager.Get(name)
		if !ok {
			continue
		}
		snap := idx.Snapshot()
		items = append(items, map[string]any{
			"name":     name,
			"entries":  snap.NumDocs(),
			"degraded": idx.Degraded(),
		})
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"items":   items,
		"nbItems": len(items),
	})
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.manager.Enqueue(&task.Task{Index: name, Kind: task.KindDeleteIndex})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"deletedAt": time.Now().UTC().Format(time.RFC3339),
		"taskID":    t.ID,
	})
}

// handleTaskStatus reports whether a task has been applied. Clients poll this
// endpoint after a write to wait for its effect to become visible.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := strconv.ParseUint(r.PathValue("taskID"), 10, 64)
	if err != nil {
		s.writeError(w, r, errors.Newf(errors.ErrValidation, 400,
			"invalid task id %q", r.PathValue("taskID")))
		return
	}
	t, err := s.manager.GetTask(name, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := "notPublished"
	if t.Status == task.StatusPublished {
		status = "published"
	}
	body := map[string]any{
		"status":      status,
		"pendingTask": !t.Status.Done(),
	}
	if t.Status == task.StatusFailed {
		body["error"] = t.Error
	}
	s.writeJSON(w, r, http.StatusOK, body)
}
