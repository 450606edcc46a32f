// Package task implements the asynchronous write pipeline. Every mutation of
// an index becomes a durable task; tasks of one index apply strictly in the
// order their ids were handed out, while different indexes apply in parallel
// on a shared worker pool.
package task

import (
	"encoding/json"
	"time"

	"github.com/meridian-search/meridian/internal/settings"
	"github.com/meridian-search/meridian/pkg/errors"
)

// Status of a task. Reads never see a task's effect before it reports
// StatusPublished.
type Status string

const (
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
)

// Done reports whether the status is terminal.
func (s Status) Done() bool {
	return s == StatusPublished || s == StatusFailed
}

// Kind of write a task carries.
type Kind string

const (
	KindBatch         Kind = "batch"
	KindSettings      Kind = "settings"
	KindSynonyms      Kind = "synonyms"
	KindDeleteSynonym Kind = "deleteSynonym"
	KindRules         Kind = "rules"
	KindDeleteRule    Kind = "deleteRule"
	KindClear         Kind = "clear"
	KindDeleteIndex   Kind = "deleteIndex"
)

// Batch operation actions.
const (
	ActionAddObject           = "addObject"
	ActionUpdateObject        = "updateObject"
	ActionPartialUpdateObject = "partialUpdateObject"
	ActionDeleteObject        = "deleteObject"
)

// Operation is one entry of a batch task. Body holds the document payload
// for the write actions; ObjectID targets the delete action. Error records a
// per-operation validation failure without failing the siblings.
type Operation struct {
	Action   string          `json:"action"`
	Body     json.RawMessage `json:"body,omitempty"`
	ObjectID string          `json:"objectID,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Task is the durable record of one write.
type Task struct {
	ID         uint64     `json:"id"`
	Index      string     `json:"index"`
	Kind       Kind       `json:"kind"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// payloads, one populated per kind
	Operations []Operation        `json:"operations,omitempty"`
	Settings   json.RawMessage    `json:"settings,omitempty"`
	Synonyms   []settings.Synonym `json:"synonyms,omitempty"`
	Rules      []settings.Rule    `json:"rules,omitempty"`
	TargetID   string             `json:"targetID,omitempty"`

	// ObjectIDs echoes, in operation order, the id every batch operation
	// touched. Filled at enqueue time so the HTTP response can return them
	// before the task applies.
	ObjectIDs []string `json:"objectIDs,omitempty"`
}

func (t *Task) encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Newf(errors.ErrStorageIO, 500, "encode task: %v", err)
	}
	return data, nil
}

func decodeTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Newf(errors.ErrStorageIO, 500, "decode task: %v", err)
	}
	return &t, nil
}
