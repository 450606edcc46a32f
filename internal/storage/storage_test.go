package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-search/meridian/internal/document"
	"github.com/meridian-search/meridian/internal/settings"
	"github.com/meridian-search/meridian/pkg/config"
	"github.com/meridian-search/meridian/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(config.StorageConfig{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustDoc(t *testing.T, raw map[string]any) document.Document {
	t.Helper()
	doc, err := document.FromRaw(raw)
	require.NoError(t, err)
	return doc
}

func TestIndexRegistry(t *testing.T) {
	store := openTestStore(t)

	ok, err := store.HasIndex("products")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.EnsureIndex("products"))
	require.NoError(t, store.EnsureIndex("products")) // idempotent
	require.NoError(t, store.EnsureIndex("authors"))

	ok, err = store.HasIndex("products")
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := store.ListIndexes()
	require.NoError(t, err)
	assert.Equal(t, []string{"authors", "products"}, names)

	require.NoError(t, store.DeleteIndex("authors"))
	names, err = store.ListIndexes()
	require.NoError(t, err)
	assert.Equal(t, []string{"products"}, names)
}

func TestDocumentRoundTrip(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.EnsureIndex("products"))

	docs := []document.Document{
		mustDoc(t, map[string]any{"objectID": "1", "title": "iPhone", "price": float64(999)}),
		mustDoc(t, map[string]any{"objectID": "2", "title": "Galaxy"}),
	}
	require.NoError(t, store.PutDocuments("products", docs))

	got, err := store.GetDocument("products", "1")
	require.NoError(t, err)
	assert.Equal(t, "iPhone", got["title"])
	assert.Equal(t, float64(999), got["price"])

	_, err = store.GetDocument("products", "missing")
	assert.ErrorIs(t, err, errors.ErrDocumentNotFound)

	all, err := store.LoadDocuments("products")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.DeleteDocuments("products", []string{"1", "missing"}))
	all, err = store.LoadDocuments("products")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.ClearDocuments("products"))
	all, err = store.LoadDocuments("products")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDocumentsAreScopedByIndex(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.PutDocuments("a", []document.Document{
		mustDoc(t, map[string]any{"objectID": "1", "from": "a"}),
	}))
	require.NoError(t, store.PutDocuments("b", []document.Document{
		mustDoc(t, map[string]any{"objectID": "1", "from": "b"}),
	}))

	got, err := store.GetDocument("a", "1")
	require.NoError(t, err)
	assert.Equal(t, "a", got["from"])

	require.NoError(t, store.DeleteIndex("a"))
	_, err = store.GetDocument("a", "1")
	assert.ErrorIs(t, err, errors.ErrDocumentNotFound)
	got, err = store.GetDocument("b", "1")
	require.NoError(t, err)
	assert.Equal(t, "b", got["from"])
}

func TestSettingsRoundTrip(t *testing.T) {
	store := openTestStore(t)

	st, found, err := store.GetSettings("products")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 20, st.HitsPerPage) // defaults when unset

	st.SearchableAttributes = []string{"title"}
	st.HitsPerPage = 10
	require.NoError(t, store.PutSettings("products", st))

	got, found, err := store.GetSettings("products")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"title"}, got.SearchableAttributes)
	assert.Equal(t, 10, got.HitsPerPage)
}

func TestSynonymsAndRules(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.PutSynonyms("products", []settings.Synonym{
		{ObjectID: "s1", Type: settings.SynonymTypeMutual, Synonyms: []string{"tv", "telly"}},
		{ObjectID: "s2", Type: settings.SynonymTypeOneWay, Input: "phone", Synonyms: []string{"iphone"}},
	}))
	records, err := store.ListSynonyms("products")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// upsert by objectID
	require.NoError(t, store.PutSynonyms("products", []settings.Synonym{
		{ObjectID: "s1", Type: settings.SynonymTypeMutual, Synonyms: []string{"tv", "television"}},
	}))
	records, err = store.ListSynonyms("products")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, store.DeleteSynonym("products", "s2"))
	records, err = store.ListSynonyms("products")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Synonyms, "television")

	require.NoError(t, store.PutRules("products", []settings.Rule{{
		ObjectID:    "r1",
		Conditions:  []settings.RuleCondition{{Pattern: "x", Anchoring: settings.AnchorIs}},
		Consequence: settings.RuleConsequence{Hide: []settings.HiddenObject{{ObjectID: "1"}}},
	}}))
	rules, err := store.ListRules("products")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "r1", rules[0].ObjectID)

	require.NoError(t, store.DeleteRule("products", "r1"))
	rules, err = store.ListRules("products")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestTaskLog(t *testing.T) {
	store := openTestStore(t)

	first, err := store.NextTaskID("products")
	require.NoError(t, err)
	second, err := store.NextTaskID("products")
	require.NoError(t, err)
	assert.Greater(t, second, first)

	otherIndex, err := store.NextTaskID("authors")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), otherIndex) // sequences are per index

	record := func(id uint64, status string) []byte {
		data, err := json.Marshal(map[string]any{"id": id, "status": status})
		require.NoError(t, err)
		return data
	}
	require.NoError(t, store.PutTask("products", first, record(first, "enqueued")))
	require.NoError(t, store.PutTask("products", second, record(second, "enqueued")))

	data, err := store.GetTask("products", first)
	require.NoError(t, err)
	assert.Contains(t, string(data), "enqueued")

	_, err = store.GetTask("products", 9999)
	assert.ErrorIs(t, err, errors.ErrTaskNotFound)

	var seen []uint64
	require.NoError(t, store.EachTask("products", func(id uint64, _ []byte) error {
		seen = append(seen, id)
		return nil
	}))
	assert.Equal(t, []uint64{first, second}, seen)

	require.NoError(t, store.DeleteTasksBelow("products", second))
	seen = nil
	require.NoError(t, store.EachTask("products", func(id uint64, _ []byte) error {
		seen = append(seen, id)
		return nil
	}))
	assert.Equal(t, []uint64{second}, seen)
}

func TestClosedStoreFailsWritesFast(t *testing.T) {
	store, err := Open(config.StorageConfig{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, store.PutDocuments("products", []document.Document{
		mustDoc(t, map[string]any{"objectID": "1"}),
	}))
	require.NoError(t, store.Close())

	// batched writes must fail instead of blocking on the closed database
	err = store.PutDocuments("products", []document.Document{
		mustDoc(t, map[string]any{"objectID": "2"}),
	})
	assert.ErrorIs(t, err, errors.ErrStorageIO)
	assert.ErrorIs(t, store.DeleteDocuments("products", []string{"1"}), errors.ErrStorageIO)
	assert.ErrorIs(t, store.PutSynonyms("products", []settings.Synonym{
		{ObjectID: "s1", Type: settings.SynonymTypeMutual, Synonyms: []string{"tv", "telly"}},
	}), errors.ErrStorageIO)
	assert.ErrorIs(t, store.PutRules("products", []settings.Rule{{
		ObjectID:    "r1",
		Conditions:  []settings.RuleCondition{{Pattern: "x", Anchoring: settings.AnchorIs}},
		Consequence: settings.RuleConsequence{Hide: []settings.HiddenObject{{ObjectID: "1"}}},
	}}), errors.ErrStorageIO)
}
