package task

import (
	"context"

	"github.com/meridian-search/meridian/internal/document"
	"github.com/meridian-search/meridian/internal/index"
	"github.com/meridian-search/meridian/pkg/errors"
)

// apply executes the task against the store first, then publishes the new
// snapshot. The store is the source of truth: a snapshot is only swapped in
// once the write it reflects is durable.
func (m *Manager) apply(st *state, t *Task) error {
	snap := st.idx.Snapshot()
	switch t.Kind {
	case KindBatch:
		return m.applyBatch(st, snap, t)

	case KindSettings:
		cfg := snap.Settings
		if err := cfg.ApplyJSON(t.Settings); err != nil {
			return err
		}
		if err := m.store.PutSettings(t.Index, cfg); err != nil {
			return err
		}
		st.idx.Swap(snap.WithSettings(t.ID, cfg))
		return nil

	case KindSynonyms:
		if err := ValidateSynonyms(t.Synonyms); err != nil {
			return err
		}
		if err := m.store.PutSynonyms(t.Index, t.Synonyms); err != nil {
			return err
		}
		return m.reloadSynonyms(st, t)

	case KindDeleteSynonym:
		if err := m.store.DeleteSynonym(t.Index, t.TargetID); err != nil {
			return err
		}
		return m.reloadSynonyms(st, t)

	case KindRules:
		if err := ValidateRules(t.Rules); err != nil {
			return err
		}
		if err := m.store.PutRules(t.Index, t.Rules); err != nil {
			return err
		}
		return m.reloadRules(st, t)

	case KindDeleteRule:
		if err := m.store.DeleteRule(t.Index, t.TargetID); err != nil {
			return err
		}
		return m.reloadRules(st, t)

	case KindClear:
		if err := m.store.ClearDocuments(t.Index); err != nil {
			return err
		}
		st.idx.Swap(snap.Cleared(t.ID))
		return nil

	case KindDeleteIndex:
		if err := m.store.DeleteIndex(t.Index); err != nil {
			return err
		}
		m.mu.Lock()
		st.deleted = true
		st.pending = nil
		delete(m.indexes, t.Index)
		if m.metrics != nil {
			m.metrics.ActiveIndexes.Set(float64(len(m.indexes)))
		}
		m.mu.Unlock()
		if m.cache != nil {
			m.cache.Invalidate(context.Background(), t.Index)
		}
		return nil

	default:
		return errors.Newf(errors.ErrTaskFailed, 500, "unknown task kind %q", t.Kind)
	}
}

// applyBatch folds the operations left to right, so later operations in one
// batch see the effect of earlier ones, then persists the net change.
func (m *Manager) applyBatch(st *state, snap *index.Snapshot, t *Task) error {
	changed := map[string]document.Document{}
	deleted := map[string]bool{}

	current := func(id string) (document.Document, bool) {
		if deleted[id] {
			return nil, false
		}
		if doc, ok := changed[id]; ok {
			return doc, true
		}
		doc, ok := snap.Docs[id]
		return doc, ok
	}

	for _, op := range t.Operations {
		if op.Error != "" {
			continue
		}
		switch op.Action {
		case ActionAddObject, ActionUpdateObject:
			doc, err := document.Parse(op.Body)
			if err != nil {
				continue
			}
			changed[doc.ObjectID()] = doc
			delete(deleted, doc.ObjectID())
		case ActionPartialUpdateObject:
			patch, err := document.Parse(op.Body)
			if err != nil {
				continue
			}
			id := patch.ObjectID()
			base, ok := current(id)
			if !ok {
				// a partial update of a missing document creates it
				base = document.Document{document.IDAttribute: id}
			}
			changed[id] = base.Merge(patch)
			delete(deleted, id)
		case ActionDeleteObject:
			deleted[op.ObjectID] = true
			delete(changed, op.ObjectID)
		}
	}

	upserts := make([]document.Document, 0, len(changed))
	for _, doc := range changed {
		upserts = append(upserts, doc)
	}
	deletes := make([]string, 0, len(deleted))
	for id := range deleted {
		deletes = append(deletes, id)
	}

	if len(upserts) > 0 {
		if err := m.store.PutDocuments(t.Index, upserts); err != nil {
			return err
		}
	}
	if len(deletes) > 0 {
		if err := m.store.DeleteDocuments(t.Index, deletes); err != nil {
			return err
		}
	}

	next := snap.WithDeletes(t.ID, deletes).WithUpserts(t.ID, upserts)
	st.idx.Swap(next)
	if m.metrics != nil && len(upserts) > 0 {
		m.metrics.DocsIndexedTotal.Add(float64(len(upserts)))
	}
	return nil
}

func (m *Manager) reloadSynonyms(st *state, t *Task) error {
	records, err := m.store.ListSynonyms(t.Index)
	if err != nil {
		return err
	}
	st.idx.Swap(st.idx.Snapshot().WithSynonyms(t.ID, records))
	return nil
}

func (m *Manager) reloadRules(st *state, t *Task) error {
	rules, err := m.store.ListRules(t.Index)
	if err != nil {
		return err
	}
	st.idx.Swap(st.idx.Snapshot().WithRules(t.ID, rules))
	return nil
}
