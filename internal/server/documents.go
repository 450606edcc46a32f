package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/meridian-search/meridian/internal/document"

	"github.com/meridian-search/meridian/internal/search"
	"github.com/meridian-search/meridian/internal/task"
	"github.com/meridian-search/meridian/pkg/errors"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	idx, ok := s.manager.Get(name)
	if !ok {
		s.writeError(w, r, errors.Newf(errors.ErrIndexNotFound, 404, "index %s does not exist", name))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, errors.Newf(errors.ErrValidation, 400, "read request body: %v", err))
		return
	}
	params, err := search.ParseParams(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.engine.Search(r.Context(), idx, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

type batchRequest struct {
	Requests []task.Operation `json:"requests"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Requests) == 0 {
		s.writeError(w, r, errors.New(errors.ErrValidation, 400, "batch has no operations"))
		return
	}
	if max := s.cfg.Engine.MaxBatchSize; max > 0 && len(req.Requests) > max {
		s.writeError(w, r, errors.Newf(errors.ErrValidation, 400,
			"batch exceeds %d operations", max))
		return
	}
	ops, objectIDs := task.NormalizeBatch(req.Requests)
	t, err := s.manager.Enqueue(&task.Task{
		Index:      name,
		Kind:       task.KindBatch,
		Operations: ops,
		ObjectIDs:  objectIDs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"taskID":    t.ID,
		"objectIDs": t.ObjectIDs,
	})
}

// handleAddObject indexes a single document, generating an objectID when the
// body has none.
func (s *Server) handleAddObject(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, errors.Newf(errors.ErrValidation, 400, "read request body: %v", err))
		return
	}
	ops, objectIDs := task.NormalizeBatch([]task.Operation{
		{Action: task.ActionAddObject, Body: body},
	})
	if ops[0].Error != "" {
		s.writeError(w, r, errors.New(errors.ErrValidation, 400, ops[0].Error))
		return
	}
	t, err := s.manager.Enqueue(&task.Task{
		Index:      name,
		Kind:       task.KindBatch,
		Operations: ops,
		ObjectIDs:  objectIDs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, map[string]any{
		"createdAt": time.Now().UTC().Format(time.RFC3339),
		"taskID":    t.ID,
		"objectID":  objectIDs[0],
	})
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	objectID := r.PathValue("objectID")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, errors.Newf(errors.ErrValidation, 400, "read request body: %v", err))
		return
	}
	body, err = forceObjectID(body, objectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ops, objectIDs := task.NormalizeBatch([]task.Operation{
		{Action: task.ActionUpdateObject, Body: body},
	})
	if ops[0].Error != "" {
		s.writeError(w, r, errors.New(errors.ErrValidation, 400, ops[0].Error))
		return
	}
	t, err := s.manager.Enqueue(&task.Task{
		Index:      name,
		Kind:       task.KindBatch,
		Operations: ops,
		ObjectIDs:  objectIDs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
		"taskID":    t.ID,
		"objectID":  objectID,
	})
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	idx, ok := s.manager.Get(name)
	if !ok {
		s.writeError(w, r, errors.Newf(errors.ErrIndexNotFound, 404, "index %s does not exist", name))
		return
	}
	objectID := r.PathValue("objectID")
	doc, ok := idx.Snapshot().Docs[objectID]
	if !ok {
		s.writeError(w, r, errors.Newf(errors.ErrDocumentNotFound, 404,
			"objectID %s does not exist", objectID))
		return
	}
	s.writeJSON(w, r, http.StatusOK, doc)
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	objectID := r.PathValue("objectID")
	t, err := s.manager.Enqueue(&task.Task{
		Index:      name,
		Kind:       task.KindBatch,
		Operations: []task.Operation{{Action: task.ActionDeleteObject, ObjectID: objectID}},
		ObjectIDs:  []string{objectID},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"deletedAt": time.Now().UTC().Format(time.RFC3339),
		"taskID":    t.ID,
	})
}

// forceObjectID makes the document body carry the objectID from the URL,
// which wins over any id inside the payload.
func forceObjectID(body []byte, objectID string) ([]byte, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return nil, errors.New(errors.ErrValidation, 400, "document body must be a JSON object")
	}
	raw[document.IDAttribute] = objectID
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Newf(errors.ErrValidation, 400, "encode document: %v", err)
	}
	return out, nil
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.manager.Enqueue(&task.Task{Index: name, Kind: task.KindClear})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
		"taskID":    t.ID,
	})
}
