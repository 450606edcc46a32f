// Package storage persists every index to a single embedded Badger database:
// documents, settings, synonyms, rules, and the per-index task log. Keys are
// namespaced by index name so dropping one index is a prefix drop.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/meridian-search/meridian/internal/document"
	"github.com/meridian-search/meridian/internal/settings"
	"github.com/meridian-search/meridian/pkg/config"
	"github.com/meridian-search/meridian/pkg/errors"
)

// Key layout. The \x00 separator cannot appear in an index name, which the
// server validates before anything reaches the store.
const (
	prefixMeta     = "m"
	prefixDocument = "d"
	prefixSettings = "c"
	prefixSynonym  = "y"
	prefixRule     = "r"
	prefixTask     = "t"
	prefixSequence = "q"
)

func key(kind, index string, parts ...string) []byte {
	b := strings.Builder{}
	b.WriteString(kind)
	b.WriteByte(0)
	b.WriteString(index)
	for _, p := range parts {
		b.WriteByte(0)
		b.WriteString(p)
	}
	return []byte(b.String())
}

func taskKey(index string, id uint64) []byte {
	k := key(prefixTask, index)
	k = append(k, 0)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(k, buf[:]...)
}

// Store is the durable layer shared by every index.
type Store struct {
	db  *badger.DB
	log *slog.Logger

	mu        sync.Mutex
	sequences map[string]*badger.Sequence
}

// Open opens or creates the database under cfg.DataDir. With cfg.InMemory
// nothing touches disk, which the tests rely on.
func Open(cfg config.StorageConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "storage")

	opts := badger.DefaultOptions(cfg.DataDir).
		WithLogger(badgerLogger{log}).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Newf(errors.ErrStorageIO, 500, "open database: %v", err)
	}
	return &Store{db: db, log: log, sequences: map[string]*badger.Sequence{}}, nil
}

// Close releases sequences and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, seq := range s.sequences {
		_ = seq.Release()
	}
	s.sequences = map[string]*badger.Sequence{}
	s.mu.Unlock()
	return s.db.Close()
}

// RunGC discards stale value-log files on an interval until ctx is done.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

// Healthy reports whether the database accepts reads.
func (s *Store) Healthy() error {
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

func storageErr(op string, err error) error {
	return errors.Newf(errors.ErrStorageIO, 500, "%s: %v", op, err)
}

// guard rejects writes once the database is closed. Badger's write batches
// block on a closed database instead of failing, so writers check up front.
func (s *Store) guard() error {
	if s.db.IsClosed() {
		return errors.New(errors.ErrStorageIO, 500, "database is closed")
	}
	return nil
}

// EnsureIndex records an index in the registry. Creating an existing index
// is a no-op.
func (s *Store) EnsureIndex(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		meta := fmt.Sprintf(`{"createdAt":%q}`, time.Now().UTC().Format(time.RFC3339))
		return txn.Set(key(prefixMeta, name), []byte(meta))
	})
	if err != nil {
		return storageErr("ensure index", err)
	}
	return nil
}

// HasIndex reports whether name is in the registry.
func (s *Store) HasIndex(name string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(prefixMeta, name))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, storageErr("read index registry", err)
	}
	return true, nil
}

// ListIndexes returns every registered index name in lexical order.
func (s *Store) ListIndexes() ([]string, error) {
	prefix := []byte(prefixMeta + "\x00")
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list indexes", err)
	}
	return names, nil
}

// DeleteIndex drops every key of the index, the registry entry included.
func (s *Store) DeleteIndex(name string) error {
	s.mu.Lock()
	if seq, ok := s.sequences[name]; ok {
		_ = seq.Release()
		delete(s.sequences, name)
	}
	s.mu.Unlock()
	for _, kind := range []string{prefixMeta, prefixDocument, prefixSettings,
		prefixSynonym, prefixRule, prefixTask, prefixSequence} {
		if err := s.db.DropPrefix(key(kind, name)); err != nil {
			return storageErr("drop index", err)
		}
	}
	return nil
}

// PutDocuments writes documents in one batch.
func (s *Store) PutDocuments(index string, docs []document.Document) error {
	if err := s.guard(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return storageErr("encode document", err)
		}
		if err := wb.Set(key(prefixDocument, index, doc.ObjectID()), data); err != nil {
			return storageErr("write document", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return storageErr("write documents", err)
	}
	return nil
}

// DeleteDocuments removes documents by objectID. Missing ids are ignored.
func (s *Store) DeleteDocuments(index string, ids []string) error {
	if err := s.guard(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		if err := wb.Delete(key(prefixDocument, index, id)); err != nil {
			return storageErr("delete document", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return storageErr("delete documents", err)
	}
	return nil
}

// GetDocument reads one document.
func (s *Store) GetDocument(index, id string) (document.Document, error) {
	var doc document.Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(prefixDocument, index, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.Newf(errors.ErrDocumentNotFound, 404, "objectID %s does not exist", id)
	}
	if err != nil {
		return nil, storageErr("read document", err)
	}
	return doc, nil
}

// LoadDocuments reads the whole document table of an index.
func (s *Store) LoadDocuments(index string) (map[string]document.Document, error) {
	prefix := key(prefixDocument, index)
	prefix = append(prefix, 0)
	docs := map[string]document.Document{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var doc document.Document
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return err
			}
			docs[doc.ObjectID()] = doc
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("load documents", err)
	}
	return docs, nil
}

// ClearDocuments drops the document table of an index.
func (s *Store) ClearDocuments(index string) error {
	prefix := key(prefixDocument, index)
	prefix = append(prefix, 0)
	if err := s.db.DropPrefix(prefix); err != nil {
		return storageErr("clear documents", err)
	}
	return nil
}

// PutSettings persists the index settings.
func (s *Store) PutSettings(index string, st settings.Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return storageErr("encode settings", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(prefixSettings, index), data)
	})
	if err != nil {
		return storageErr("write settings", err)
	}
	return nil
}

// GetSettings reads the index settings, reporting false when none were ever
// written.
func (s *Store) GetSettings(index string) (settings.Settings, bool, error) {
	st := settings.Default()
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(prefixSettings, index))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err != nil {
		return st, false, storageErr("read settings", err)
	}
	return st, found, nil
}

// PutSynonyms upserts synonym records by objectID.
func (s *Store) PutSynonyms(index string, records []settings.Synonym) error {
	if err := s.guard(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return storageErr("encode synonym", err)
		}
		if err := wb.Set(key(prefixSynonym, index, rec.ObjectID), data); err != nil {
			return storageErr("write synonym", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return storageErr("write synonyms", err)
	}
	return nil
}

// DeleteSynonym removes one synonym record.
func (s *Store) DeleteSynonym(index, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(prefixSynonym, index, id))
	})
	if err != nil {
		return storageErr("delete synonym", err)
	}
	return nil
}

// ListSynonyms reads every synonym record of an index.
func (s *Store) ListSynonyms(index string) ([]settings.Synonym, error) {
	var records []settings.Synonym
	err := s.scanJSON(key(prefixSynonym, index), func(val []byte) error {
		var rec settings.Synonym
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, storageErr("list synonyms", err)
	}
	return records, nil
}

// PutRules upserts rule records by objectID.
func (s *Store) PutRules(index string, rules []settings.Rule) error {
	if err := s.guard(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, rule := range rules {
		data, err := json.Marshal(rule)
		if err != nil {
			return storageErr("encode rule", err)
		}
		if err := wb.Set(key(prefixRule, index, rule.ObjectID), data); err != nil {
			return storageErr("write rule", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return storageErr("write rules", err)
	}
	return nil
}

// DeleteRule removes one rule record.
func (s *Store) DeleteRule(index, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(prefixRule, index, id))
	})
	if err != nil {
		return storageErr("delete rule", err)
	}
	return nil
}

// ListRules reads every rule record of an index.
func (s *Store) ListRules(index string) ([]settings.Rule, error) {
	var rules []settings.Rule
	err := s.scanJSON(key(prefixRule, index), func(val []byte) error {
		var rule settings.Rule
		if err := json.Unmarshal(val, &rule); err != nil {
			return err
		}
		rules = append(rules, rule)
		return nil
	})
	if err != nil {
		return nil, storageErr("list rules", err)
	}
	return rules, nil
}

func (s *Store) scanJSON(rawPrefix []byte, fn func(val []byte) error) error {
	prefix := append(rawPrefix, 0)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// NextTaskID hands out the next id of the index's monotonic task sequence.
// Ids may skip after a crash, never repeat.
func (s *Store) NextTaskID(index string) (uint64, error) {
	s.mu.Lock()
	seq, ok := s.sequences[index]
	if !ok {
		var err error
		seq, err = s.db.GetSequence(key(prefixSequence, index), 100)
		if err != nil {
			s.mu.Unlock()
			return 0, storageErr("open task sequence", err)
		}
		s.sequences[index] = seq
	}
	s.mu.Unlock()
	id, err := seq.Next()
	if err != nil {
		return 0, storageErr("advance task sequence", err)
	}
	// task ids start at 1 so 0 can mean "no task"
	return id + 1, nil
}

// PutTask writes the encoded task record under its id.
func (s *Store) PutTask(index string, id uint64, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(taskKey(index, id), data)
	})
	if err != nil {
		return storageErr("write task", err)
	}
	return nil
}

// GetTask reads one encoded task record.
func (s *Store) GetTask(index string, id uint64) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(index, id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.Newf(errors.ErrTaskNotFound, 404, "task %d does not exist", id)
	}
	if err != nil {
		return nil, storageErr("read task", err)
	}
	return data, nil
}

// EachTask streams the task records of an index in ascending id order.
func (s *Store) EachTask(index string, fn func(id uint64, data []byte) error) error {
	prefix := key(prefixTask, index)
	prefix = append(prefix, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := binary.BigEndian.Uint64(item.Key()[len(prefix):])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(id, val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("scan tasks", err)
	}
	return nil
}

// DeleteTasksBelow trims the task log, dropping every record with id < below.
func (s *Store) DeleteTasksBelow(index string, below uint64) error {
	var stale [][]byte
	err := s.EachTask(index, func(id uint64, _ []byte) error {
		if id < below {
			stale = append(stale, taskKey(index, id))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.guard(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return storageErr("trim task log", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return storageErr("trim task log", err)
	}
	return nil
}

type badgerLogger struct{ log *slog.Logger }

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
