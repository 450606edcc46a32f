package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meridian-search/meridian/internal/settings"
	"github.com/meridian-search/meridian/internal/storage"
	"github.com/meridian-search/meridian/pkg/config"
	"github.com/meridian-search/meridian/pkg/errors"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(config.StorageConfig{InMemory: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newManager(t *testing.T, store *storage.Store) *Manager {
	t.Helper()
	mgr, err := NewManager(config.EngineConfig{WorkerPoolSize: 4, TaskQueueDepth: 1000},
		store, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Close)
	return mgr
}

func wait(t *testing.T, mgr *Manager, indexName string, id uint64) *Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := mgr.WaitTask(ctx, indexName, id)
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func addOp(t *testing.T, raw map[string]any) Operation {
	t.Helper()
	body, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	return Operation{Action: ActionAddObject, Body: body}
}

func enqueueBatch(t *testing.T, mgr *Manager, indexName string, ops ...Operation) *Task {
	t.Helper()
	normalized, objectIDs := NormalizeBatch(ops)
	task, err := mgr.Enqueue(&Task{
		Index:      indexName,
		Kind:       KindBatch,
		Operations: normalized,
		ObjectIDs:  objectIDs,
	})
	if err != nil {
		t.Fatal(err)
	}
	return task
}

func TestBatchLifecycle(t *testing.T) {
	mgr := newManager(t, openStore(t))

	task := enqueueBatch(t, mgr, "products",
		addOp(t, map[string]any{"objectID": "1", "title": "iPhone"}),
		addOp(t, map[string]any{"objectID": "2", "title": "Galaxy"}),
	)
	if task.ID == 0 {
		t.Fatal("enqueue must assign an id")
	}
	if got := task.ObjectIDs; len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("objectIDs = %v", got)
	}

	final := wait(t, mgr, "products", task.ID)
	if final.Status != StatusPublished {
		t.Fatalf("status = %s, error = %s", final.Status, final.Error)
	}

	idx, ok := mgr.Get("products")
	if !ok {
		t.Fatal("index was not created by the write")
	}
	snap := idx.Snapshot()
	if snap.NumDocs() != 2 {
		t.Errorf("NumDocs = %d", snap.NumDocs())
	}
	if snap.Version != task.ID {
		t.Errorf("snapshot version = %d, want %d", snap.Version, task.ID)
	}
}

func TestTasksApplyInEnqueueOrder(t *testing.T) {
	mgr := newManager(t, openStore(t))

	var last *Task
	for i := 1; i <= 50; i++ {
		last = enqueueBatch(t, mgr, "seq",
			addOp(t, map[string]any{"objectID": "doc", "revision": float64(i)}))
	}
	wait(t, mgr, "seq", last.ID)

	idx, _ := mgr.Get("seq")
	doc := idx.Snapshot().Docs["doc"]
	if rev, _ := doc.Number("revision"); rev != 50 {
		t.Errorf("revision = %v, want the last write", rev)
	}
}

func TestBatchFoldsOperationsLeftToRight(t *testing.T) {
	mgr := newManager(t, openStore(t))

	patch, _ := json.Marshal(map[string]any{"objectID": "1", "stock": float64(5)})
	task := enqueueBatch(t, mgr, "products",
		addOp(t, map[string]any{"objectID": "1", "title": "iPhone", "price": float64(999)}),
		Operation{Action: ActionPartialUpdateObject, Body: patch},
		addOp(t, map[string]any{"objectID": "2", "title": "Galaxy"}),
		Operation{Action: ActionDeleteObject, ObjectID: "2"},
	)
	final := wait(t, mgr, "products", task.ID)
	if final.Status != StatusPublished {
		t.Fatalf("status = %s, error = %s", final.Status, final.Error)
	}

	idx, _ := mgr.Get("products")
	snap := idx.Snapshot()
	if snap.NumDocs() != 1 {
		t.Fatalf("NumDocs = %d", snap.NumDocs())
	}
	doc := snap.Docs["1"]
	if doc["title"] != "iPhone" {
		t.Error("partial update dropped an untouched attribute")
	}
	if stock, _ := doc.Number("stock"); stock != 5 {
		t.Error("partial update was not applied")
	}
}

func TestPartialUpdateCreatesMissingDocument(t *testing.T) {
	mgr := newManager(t, openStore(t))

	patch, _ := json.Marshal(map[string]any{"objectID": "ghost", "seen": true})
	task := enqueueBatch(t, mgr, "products",
		Operation{Action: ActionPartialUpdateObject, Body: patch})
	wait(t, mgr, "products", task.ID)

	idx, _ := mgr.Get("products")
	if doc, ok := idx.Snapshot().Docs["ghost"]; !ok || doc["seen"] != true {
		t.Errorf("doc = %v", doc)
	}
}

func TestSettingsTask(t *testing.T) {
	mgr := newManager(t, openStore(t))

	task, err := mgr.Enqueue(&Task{
		Index:    "products",
		Kind:     KindSettings,
		Settings: json.RawMessage(`{"searchableAttributes": ["title"], "hitsPerPage": 5}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	final := wait(t, mgr, "products", task.ID)
	if final.Status != StatusPublished {
		t.Fatalf("status = %s, error = %s", final.Status, final.Error)
	}

	idx, _ := mgr.Get("products")
	st := idx.Snapshot().Settings
	if len(st.SearchableAttributes) != 1 || st.HitsPerPage != 5 {
		t.Errorf("settings = %+v", st)
	}
	if st.MinWordSizefor1Typo != 4 {
		t.Error("partial settings update reset an untouched attribute")
	}
}

func TestInvalidSettingsTaskFails(t *testing.T) {
	mgr := newManager(t, openStore(t))

	task, err := mgr.Enqueue(&Task{
		Index:    "products",
		Kind:     KindSettings,
		Settings: json.RawMessage(`{"hitsPerPage": 0}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	final := wait(t, mgr, "products", task.ID)
	if final.Status != StatusFailed || final.Error == "" {
		t.Errorf("status = %s, error = %q", final.Status, final.Error)
	}
}

func TestSynonymAndRuleTasks(t *testing.T) {
	mgr := newManager(t, openStore(t))

	synTask, err := mgr.Enqueue(&Task{
		Index: "products",
		Kind:  KindSynonyms,
		Synonyms: []settings.Synonym{
			{ObjectID: "s1", Type: settings.SynonymTypeMutual, Synonyms: []string{"tv", "telly"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	wait(t, mgr, "products", synTask.ID)

	ruleTask, err := mgr.Enqueue(&Task{
		Index: "products",
		Kind:  KindRules,
		Rules: []settings.Rule{{
			ObjectID:    "r1",
			Conditions:  []settings.RuleCondition{{Pattern: "x", Anchoring: settings.AnchorIs}},
			Consequence: settings.RuleConsequence{Hide: []settings.HiddenObject{{ObjectID: "1"}}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	wait(t, mgr, "products", ruleTask.ID)

	idx, _ := mgr.Get("products")
	snap := idx.Snapshot()
	if snap.SynonymMap.Alternatives("tv") == nil {
		t.Error("synonyms not published")
	}
	if len(snap.Rules) != 1 {
		t.Error("rules not published")
	}

	delTask, err := mgr.Enqueue(&Task{Index: "products", Kind: KindDeleteSynonym, TargetID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	wait(t, mgr, "products", delTask.ID)
	if idx.Snapshot().SynonymMap.Alternatives("tv") != nil {
		t.Error("synonym delete not published")
	}
}

func TestClearAndDeleteIndex(t *testing.T) {
	store := openStore(t)
	mgr := newManager(t, store)

	batch := enqueueBatch(t, mgr, "products",
		addOp(t, map[string]any{"objectID": "1", "title": "iPhone"}))
	wait(t, mgr, "products", batch.ID)

	clear, err := mgr.Enqueue(&Task{Index: "products", Kind: KindClear})
	if err != nil {
		t.Fatal(err)
	}
	wait(t, mgr, "products", clear.ID)
	idx, _ := mgr.Get("products")
	if idx.Snapshot().NumDocs() != 0 {
		t.Error("clear left documents")
	}

	del, err := mgr.Enqueue(&Task{Index: "products", Kind: KindDeleteIndex})
	if err != nil {
		t.Fatal(err)
	}
	// the task record is dropped with the index, so poll the registry
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := mgr.Get("products"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("index still present after delete task %d", del.ID)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if names, err := store.ListIndexes(); err != nil || len(names) != 0 {
		t.Errorf("ListIndexes = %v, %v", names, err)
	}

	if _, err := mgr.Enqueue(&Task{Index: "nope", Kind: KindDeleteIndex}); !errors.Is(err, errors.ErrIndexNotFound) {
		t.Errorf("deleting a missing index: err = %v", err)
	}
}

func TestRecoveryReplaysUnfinishedTasks(t *testing.T) {
	store := openStore(t)

	// simulate a crash: a task persisted as enqueued but never applied
	if err := store.EnsureIndex("products"); err != nil {
		t.Fatal(err)
	}
	id, err := store.NextTaskID("products")
	if err != nil {
		t.Fatal(err)
	}
	ops, objectIDs := NormalizeBatch([]Operation{
		{Action: ActionAddObject, Body: json.RawMessage(`{"objectID": "1", "title": "iPhone"}`)},
	})
	crashed := &Task{
		ID:         id,
		Index:      "products",
		Kind:       KindBatch,
		Status:     StatusEnqueued,
		Operations: ops,
		ObjectIDs:  objectIDs,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(crashed)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutTask("products", id, data); err != nil {
		t.Fatal(err)
	}

	mgr := newManager(t, store)
	idx, ok := mgr.Get("products")
	if !ok {
		t.Fatal("index not recovered")
	}
	if idx.Snapshot().NumDocs() != 1 {
		t.Error("replay did not apply the crashed task")
	}
	replayed, err := mgr.GetTask("products", id)
	if err != nil {
		t.Fatal(err)
	}
	if replayed.Status != StatusPublished {
		t.Errorf("status = %s", replayed.Status)
	}
}

func TestNormalizeBatch(t *testing.T) {
	ops, objectIDs := NormalizeBatch([]Operation{
		{Action: ActionAddObject, Body: json.RawMessage(`{"title": "no id"}`)},
		{Action: ActionUpdateObject, Body: json.RawMessage(`{"title": "no id"}`)},
		{Action: ActionDeleteObject, ObjectID: "7"},
		{Action: ActionDeleteObject, Body: json.RawMessage(`{"objectID": "8"}`)},
		{Action: "replaceAll", Body: json.RawMessage(`{}`)},
		{Action: ActionAddObject, Body: json.RawMessage(`not json`)},
	})
	if len(ops) != 6 || len(objectIDs) != 6 {
		t.Fatalf("lengths = %d, %d", len(ops), len(objectIDs))
	}
	if objectIDs[0] == "" || ops[0].Error != "" {
		t.Error("addObject without an id must get a generated one")
	}
	if ops[1].Error == "" {
		t.Error("updateObject without an id must fail")
	}
	if objectIDs[2] != "7" || objectIDs[3] != "8" {
		t.Errorf("delete ids = %q, %q", objectIDs[2], objectIDs[3])
	}
	if ops[4].Error == "" || ops[5].Error == "" {
		t.Error("invalid operations must carry their error")
	}
}

func TestQueueDepthLimit(t *testing.T) {
	store := openStore(t)
	mgr, err := NewManager(config.EngineConfig{WorkerPoolSize: 1, TaskQueueDepth: 2},
		store, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Close)

	var lastErr error
	for i := 0; i < 200 && lastErr == nil; i++ {
		_, lastErr = mgr.Enqueue(&Task{
			Index: "busy",
			Kind:  KindBatch,
			Operations: []Operation{{
				Action: ActionAddObject,
				Body:   json.RawMessage(fmt.Sprintf(`{"objectID": "%d"}`, i)),
			}},
		})
	}
	if lastErr == nil {
		t.Skip("queue drained faster than it filled")
	}
	if errors.HTTPStatusCode(lastErr) != 429 {
		t.Errorf("status = %d, want 429", errors.HTTPStatusCode(lastErr))
	}
}

func TestSingleWorkerDrainsQueuedTasks(t *testing.T) {
	store := openStore(t)
	mgr, err := NewManager(config.EngineConfig{WorkerPoolSize: 1, TaskQueueDepth: 1000},
		store, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Close)

	enqueueBatch(t, mgr, "products", addOp(t, map[string]any{"objectID": "1", "title": "iPhone"}))
	second := enqueueBatch(t, mgr, "products", addOp(t, map[string]any{"objectID": "2", "title": "Galaxy"}))
	other := enqueueBatch(t, mgr, "reviews", addOp(t, map[string]any{"objectID": "1", "stars": float64(5)}))

	// reads must not queue behind the single worker
	done := make(chan struct{})
	go func() {
		mgr.Get("products")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Get blocked behind the write pipeline")
	}

	if final := wait(t, mgr, "products", second.ID); final.Status != StatusPublished {
		t.Fatalf("status = %s, error = %s", final.Status, final.Error)
	}
	if final := wait(t, mgr, "reviews", other.ID); final.Status != StatusPublished {
		t.Fatalf("status = %s, error = %s", final.Status, final.Error)
	}
	idx, _ := mgr.Get("products")
	if idx.Snapshot().NumDocs() != 2 {
		t.Errorf("NumDocs = %d", idx.Snapshot().NumDocs())
	}
}

func TestRecoverySkipsDeletedIndex(t *testing.T) {
	store := openStore(t)

	// simulate a crash with a deleteIndex task acknowledged but never applied
	if err := store.EnsureIndex("products"); err != nil {
		t.Fatal(err)
	}
	id, err := store.NextTaskID("products")
	if err != nil {
		t.Fatal(err)
	}
	dropped := &Task{
		ID:         id,
		Index:      "products",
		Kind:       KindDeleteIndex,
		Status:     StatusEnqueued,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(dropped)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutTask("products", id, data); err != nil {
		t.Fatal(err)
	}

	mgr := newManager(t, store)
	if _, ok := mgr.Get("products"); ok {
		t.Error("deleted index came back through recovery")
	}
	if names := mgr.Names(); len(names) != 0 {
		t.Errorf("Names = %v", names)
	}
	if names, err := store.ListIndexes(); err != nil || len(names) != 0 {
		t.Errorf("ListIndexes = %v, %v", names, err)
	}
}

func TestStorageFailureMarksIndexDegraded(t *testing.T) {
	store, err := storage.Open(config.StorageConfig{InMemory: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mgr := newManager(t, store)

	published := enqueueBatch(t, mgr, "products",
		addOp(t, map[string]any{"objectID": "1", "title": "iPhone"}))
	wait(t, mgr, "products", published.ID)

	idx, ok := mgr.Get("products")
	if !ok {
		t.Fatal("index missing")
	}
	snap := idx.Snapshot()

	// take the store down, then apply a task straight through the runner
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	mgr.mu.Lock()
	st := mgr.indexes["products"]
	mgr.mu.Unlock()

	ops, objectIDs := NormalizeBatch([]Operation{
		addOp(t, map[string]any{"objectID": "2", "title": "Galaxy"}),
	})
	failing := &Task{
		ID:         published.ID + 1,
		Index:      "products",
		Kind:       KindBatch,
		Status:     StatusEnqueued,
		Operations: ops,
		ObjectIDs:  objectIDs,
		EnqueuedAt: time.Now().UTC(),
	}
	mgr.run(st, failing)

	if failing.Status != StatusFailed {
		t.Errorf("status = %s, want %s", failing.Status, StatusFailed)
	}
	if !idx.Degraded() {
		t.Error("index must be degraded after a storage failure")
	}
	if idx.Snapshot() != snap {
		t.Error("a failed task must not change the visible snapshot")
	}
}

func TestConcurrentWritesApplyInTaskIDOrder(t *testing.T) {
	mgr := newManager(t, openStore(t))

	const writers = 32
	var wg sync.WaitGroup
	ids := make([]uint64, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(rev int) {
			defer wg.Done()
			ops, objectIDs := NormalizeBatch([]Operation{{
				Action: ActionAddObject,
				Body:   json.RawMessage(fmt.Sprintf(`{"objectID": "1", "rev": %d}`, rev)),
			}})
			task, err := mgr.Enqueue(&Task{
				Index:      "products",
				Kind:       KindBatch,
				Operations: ops,
				ObjectIDs:  objectIDs,
			})
			if err != nil {
				t.Error(err)
				return
			}
			ids[rev] = task.ID
		}(i)
	}
	wg.Wait()

	// the revision holding the highest task id must win
	lastID, lastRev := uint64(0), 0
	for rev, id := range ids {
		if id > lastID {
			lastID, lastRev = id, rev
		}
	}
	wait(t, mgr, "products", lastID)

	idx, _ := mgr.Get("products")
	doc, ok := idx.Snapshot().Docs["1"]
	if !ok {
		t.Fatal("document missing")
	}
	if got, _ := doc.Number("rev"); int(got) != lastRev {
		t.Errorf("rev = %v, want %d", got, lastRev)
	}
}
