package server

import (
	"io"
	"net/http"
	"time"

	"github.com/meridian-search/meridian/internal/settings"
	"github.com/meridian-search/meridian/internal/task"
	"github.com/meridian-search/meridian/pkg/errors"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
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
	s.writeJSON(w, r, http.StatusOK, idx.Snapshot().Settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
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
	// reject malformed payloads synchronously; the final validation happens
	// at apply time against the settings the task actually lands on
	probe := settings.Default()
	if err := probe.ApplyJSON(body); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.manager.Enqueue(&task.Task{Index: name, Kind: task.KindSettings, Settings: body})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
		"taskID":    t.ID,
	})
}

func (s *Server) handleSynonymsBatch(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var records []settings.Synonym
	if err := decodeBody(r, &records); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := task.ValidateSynonyms(records); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.manager.Enqueue(&task.Task{Index: name, Kind: task.KindSynonyms, Synonyms: records})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
		"taskID":    t.ID,
	})
}

func (s *Server) handleSynonymsSearch(w http.ResponseWriter, r *http.Request) {
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
	records := idx.Snapshot().Synonyms
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"hits":   records,
		"nbHits": len(records),
	})
}

func (s *Server) handleGetSynonym(w http.ResponseWriter, r *http.Request) {
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
	for _, rec := range idx.Snapshot().Synonyms {
		if rec.ObjectID == objectID {
			s.writeJSON(w, r, http.StatusOK, rec)
			return
		}
	}
	s.writeError(w, r, errors.Newf(errors.ErrDocumentNotFound, 404,
		"synonym %s does not exist", objectID))
}

func (s *Server) handleDeleteSynonym(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.manager.Enqueue(&task.Task{
		Index:    name,
		Kind:     task.KindDeleteSynonym,
		TargetID: r.PathValue("objectID"),
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

func (s *Server) handleRulesBatch(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var rules []settings.Rule
	if err := decodeBody(r, &rules); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := task.ValidateRules(rules); err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.manager.Enqueue(&task.Task{Index: name, Kind: task.KindRules, Rules: rules})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
		"taskID":    t.ID,
	})
}

func (s *Server) handleRulesSearch(w http.ResponseWriter, r *http.Request) {
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
	rules := idx.Snapshot().Rules
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"hits":   rules,
		"nbHits": len(rules),
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
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
	for i := range idx.Snapshot().Rules {
		rule := idx.Snapshot().Rules[i]
		if rule.ObjectID == objectID {
			s.writeJSON(w, r, http.StatusOK, rule)
			return
		}
	}
	s.writeError(w, r, errors.Newf(errors.ErrDocumentNotFound, 404,
		"rule %s does not exist", objectID))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	name, err := indexName(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.manager.Enqueue(&task.Task{
		Index:    name,
		Kind:     task.KindDeleteRule,
		TargetID: r.PathValue("objectID"),
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
