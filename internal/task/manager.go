package task

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/meridian-search/meridian/internal/document"
	"github.com/meridian-search/meridian/internal/index"
	"github.com/meridian-search/meridian/internal/search"
	"github.com/meridian-search/meridian/internal/settings"
	"github.com/meridian-search/meridian/internal/storage"
	"github.com/meridian-search/meridian/pkg/config"
	"github.com/meridian-search/meridian/pkg/errors"
	"github.com/meridian-search/meridian/pkg/metrics"
)

// Manager owns the live indexes and their write pipelines. One worker pool
// is shared by all indexes; the in-flight flag of each index keeps its tasks
// strictly ordered.
type Manager struct {
	cfg     config.EngineConfig
	store   *storage.Store
	pool    *ants.Pool
	metrics *metrics.Metrics
	cache   *search.Cache
	log     *slog.Logger

	mu      sync.Mutex
	indexes map[string]*state
}

type state struct {
	idx      *index.Index
	pending  []*Task
	inFlight bool
	deleted  bool
}

// NewManager builds the manager and recovers every persisted index: the
// snapshot is rebuilt from the store and any task that never reached a
// terminal status is replayed, in id order, before the first query can run.
func NewManager(cfg config.EngineConfig, store *storage.Store, m *metrics.Metrics,
	cache *search.Cache, log *slog.Logger) (*Manager, error) {

	if log == nil {
		log = slog.Default()
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize < 1 {
		poolSize = 4
	}
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, errors.Newf(errors.ErrStorageIO, 500, "create worker pool: %v", err)
	}
	mgr := &Manager{
		cfg:     cfg,
		store:   store,
		pool:    pool,
		metrics: m,
		cache:   cache,
		log:     log.With("component", "tasks"),
		indexes: map[string]*state{},
	}
	if err := mgr.recover(); err != nil {
		pool.Release()
		return nil, err
	}
	return mgr, nil
}

// Close drains the worker pool. Pending tasks stay in the store and replay
// on the next start.
func (m *Manager) Close() {
	_ = m.pool.ReleaseTimeout(10 * time.Second)
}

func (m *Manager) recover() error {
	names, err := m.store.ListIndexes()
	if err != nil {
		return err
	}
	for _, name := range names {
		st, err := m.recoverIndex(name)
		if err != nil {
			return err
		}
		if st.deleted {
			// the replayed task dropped the index; its data is gone
			continue
		}
		m.indexes[name] = st
	}
	if m.metrics != nil {
		m.metrics.ActiveIndexes.Set(float64(len(m.indexes)))
	}
	return nil
}

func (m *Manager) recoverIndex(name string) (*state, error) {
	docs, err := m.store.LoadDocuments(name)
	if err != nil {
		return nil, err
	}
	cfg, _, err := m.store.GetSettings(name)
	if err != nil {
		return nil, err
	}
	synonyms, err := m.store.ListSynonyms(name)
	if err != nil {
		return nil, err
	}
	rules, err := m.store.ListRules(name)
	if err != nil {
		return nil, err
	}

	var version uint64
	var unfinished []*Task
	err = m.store.EachTask(name, func(id uint64, data []byte) error {
		t, err := decodeTask(data)
		if err != nil {
			return err
		}
		if t.Status.Done() {
			if id > version {
				version = id
			}
			return nil
		}
		unfinished = append(unfinished, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// compact the task log: records below the last applied task only serve
	// status polls, which do not survive a restart anyway
	if version > 0 {
		if err := m.store.DeleteTasksBelow(name, version); err != nil {
			m.log.Warn("task log compaction failed", "index", name, "error", err)
		}
	}

	st := &state{idx: index.New(name, index.Rebuild(version, docs, cfg, synonyms, rules))}
	for _, t := range unfinished {
		m.log.Info("replaying task", "index", name, "taskID", t.ID, "kind", t.Kind)
		if m.metrics != nil {
			m.metrics.TaskQueueDepth.Inc()
		}
		m.run(st, t)
	}
	if len(unfinished) > 0 {
		m.log.Info("index recovered", "index", name,
			"documents", st.idx.Snapshot().NumDocs(), "replayed", len(unfinished))
	}
	return st, nil
}

// Get returns the live handle of an index.
func (m *Manager) Get(name string) (*index.Index, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.indexes[name]
	if !ok {
		return nil, false
	}
	return st.idx, true
}

// Names lists the live indexes in lexical order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.indexes))
	for name := range m.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enqueue persists the task, acknowledges it with an id, and schedules it.
// Writing to an unknown index creates the index first.
func (m *Manager) Enqueue(t *Task) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.indexes[t.Index]
	if !ok {
		if t.Kind == KindDeleteIndex {
			return nil, errors.Newf(errors.ErrIndexNotFound, 404, "index %s does not exist", t.Index)
		}
		if err := m.store.EnsureIndex(t.Index); err != nil {
			return nil, err
		}
		st = &state{idx: index.New(t.Index, index.Empty())}
		m.indexes[t.Index] = st
		if m.metrics != nil {
			m.metrics.ActiveIndexes.Set(float64(len(m.indexes)))
		}
	}
	if depth := m.cfg.TaskQueueDepth; depth > 0 && len(st.pending) >= depth {
		return nil, errors.Newf(errors.ErrValidation, 429,
			"index %s has %d tasks pending, retry later", t.Index, len(st.pending))
	}

	id, err := m.store.NextTaskID(t.Index)
	if err != nil {
		return nil, err
	}
	t.ID = id
	t.Status = StatusEnqueued
	t.EnqueuedAt = time.Now().UTC()
	data, err := t.encode()
	if err != nil {
		return nil, err
	}
	if err := m.store.PutTask(t.Index, t.ID, data); err != nil {
		return nil, err
	}

	st.pending = append(st.pending, t)
	if m.metrics != nil {
		m.metrics.TasksEnqueuedTotal.WithLabelValues(string(t.Kind)).Inc()
		m.metrics.TaskQueueDepth.Inc()
	}
	m.dispatch(st)
	return t, nil
}

// dispatchRetryDelay paces redispatch attempts while every worker is busy.
const dispatchRetryDelay = 5 * time.Millisecond

// dispatch hands st to a worker unless one already owns it. The worker drains
// the whole queue before releasing the in-flight flag, so tasks of one index
// never interleave. Callers must hold m.mu.
func (m *Manager) dispatch(st *state) {
	if st.inFlight || st.deleted || len(st.pending) == 0 {
		return
	}
	st.inFlight = true
	err := m.pool.Submit(func() { m.drain(st) })
	if err == nil {
		return
	}
	st.inFlight = false
	if errors.Is(err, ants.ErrPoolOverload) {
		// every worker is busy draining another index; retry once one frees
		time.AfterFunc(dispatchRetryDelay, func() {
			m.mu.Lock()
			m.dispatch(st)
			m.mu.Unlock()
		})
		return
	}
	// pool is shutting down; the tasks stay persisted for next start
	m.log.Warn("task dispatch refused", "index", st.idx.Name, "error", err)
}

// drain applies pending tasks in id order until the queue is empty, taking
// m.mu only to pop. Applies run unlocked so reads never wait on the write
// path.
func (m *Manager) drain(st *state) {
	for {
		m.mu.Lock()
		if st.deleted || len(st.pending) == 0 {
			st.inFlight = false
			m.mu.Unlock()
			return
		}
		t := st.pending[0]
		st.pending = st.pending[1:]
		m.mu.Unlock()
		m.run(st, t)
	}
}

// run applies one task and persists every status transition.
func (m *Manager) run(st *state, t *Task) {
	start := time.Now()
	t.Status = StatusProcessing
	m.persistTask(t)

	err := m.apply(st, t)

	now := time.Now().UTC()
	t.FinishedAt = &now
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		m.log.Error("task failed", "index", t.Index, "taskID", t.ID, "kind", t.Kind, "error", err)
		if errors.Is(err, errors.ErrStorageIO) {
			st.idx.SetDegraded(true)
			if m.metrics != nil {
				m.metrics.DegradedIndexes.Inc()
			}
		}
	} else {
		t.Status = StatusPublished
		if st.idx.Degraded() {
			st.idx.SetDegraded(false)
			if m.metrics != nil {
				m.metrics.DegradedIndexes.Dec()
			}
		}
	}
	if t.Kind != KindDeleteIndex || err != nil {
		m.persistTask(t)
	}
	if m.metrics != nil {
		m.metrics.TasksAppliedTotal.WithLabelValues(string(t.Status)).Inc()
		m.metrics.TaskApplyDuration.Observe(time.Since(start).Seconds())
		m.metrics.TaskQueueDepth.Dec()
	}
	m.log.Debug("task finished", "index", t.Index, "taskID", t.ID,
		"kind", t.Kind, "status", t.Status, "durationMs", time.Since(start).Milliseconds())
}

func (m *Manager) persistTask(t *Task) {
	data, err := t.encode()
	if err == nil {
		err = m.store.PutTask(t.Index, t.ID, data)
	}
	if err != nil {
		m.log.Error("task record write failed", "index", t.Index, "taskID", t.ID, "error", err)
	}
}

// GetTask reads the durable record of a task.
func (m *Manager) GetTask(indexName string, id uint64) (*Task, error) {
	data, err := m.store.GetTask(indexName, id)
	if err != nil {
		return nil, err
	}
	return decodeTask(data)
}

// WaitTask blocks until the task reaches a terminal status, polling the
// store. It returns the final record.
func (m *Manager) WaitTask(ctx context.Context, indexName string, id uint64) (*Task, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		t, err := m.GetTask(indexName, id)
		if err != nil {
			return nil, err
		}
		if t.Status.Done() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.New(errors.ErrTimeout, 504, "timed out waiting for task")
		case <-ticker.C:
		}
	}
}

// NormalizeBatch validates batch operations and resolves the objectID each
// one targets. addObject without an objectID gets a generated one. Invalid
// operations are kept with their error recorded so the batch response stays
// positional; they are skipped at apply time.
func NormalizeBatch(ops []Operation) ([]Operation, []string) {
	objectIDs := make([]string, len(ops))
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = op
		switch op.Action {
		case ActionAddObject, ActionUpdateObject, ActionPartialUpdateObject:
			var raw map[string]any
			if err := json.Unmarshal(op.Body, &raw); err != nil || raw == nil {
				out[i].Error = "body must be a JSON object"
				continue
			}
			if _, ok := raw[document.IDAttribute]; !ok {
				if op.Action != ActionAddObject {
					out[i].Error = "body is missing the objectID attribute"
					continue
				}
				raw[document.IDAttribute] = generateObjectID()
				body, err := json.Marshal(raw)
				if err != nil {
					out[i].Error = "body must be a JSON object"
					continue
				}
				out[i].Body = body
			}
			doc, err := document.FromRaw(raw)
			if err != nil {
				out[i].Error = err.Error()
				continue
			}
			out[i].ObjectID = doc.ObjectID()
			objectIDs[i] = doc.ObjectID()
		case ActionDeleteObject:
			id := op.ObjectID
			if id == "" && len(op.Body) > 0 {
				var raw struct {
					ObjectID string `json:"objectID"`
				}
				if err := json.Unmarshal(op.Body, &raw); err == nil {
					id = raw.ObjectID
				}
			}
			if id == "" {
				out[i].Error = "deleteObject needs an objectID"
				continue
			}
			out[i].ObjectID = id
			objectIDs[i] = id
		default:
			out[i].Error = "unknown action " + op.Action
		}
	}
	return out, objectIDs
}

func generateObjectID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// ValidateSynonyms checks a synonym batch before it is enqueued.
func ValidateSynonyms(records []settings.Synonym) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRules checks a rule batch before it is enqueued.
func ValidateRules(rules []settings.Rule) error {
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
