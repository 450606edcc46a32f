package index

import (
	"sync/atomic"
)

// Index is the live handle for one named index. Readers load the current
// snapshot without locking; the task applier publishes new snapshots with
// Swap.
type Index struct {
	Name string

	snapshot atomic.Pointer[Snapshot]
	degraded atomic.Bool
}

// New creates a handle publishing the given snapshot.
func New(name string, snap *Snapshot) *Index {
	idx := &Index{Name: name}
	idx.snapshot.Store(snap)
	return idx
}

// Snapshot returns the currently published snapshot.
func (i *Index) Snapshot() *Snapshot {
	return i.snapshot.Load()
}

// Swap publishes a new snapshot. Only the single writer goroutine of the
// index may call this.
func (i *Index) Swap(snap *Snapshot) {
	i.snapshot.Store(snap)
}

// Degraded reports whether the index is serving reads from its last good
// snapshot after a storage failure.
func (i *Index) Degraded() bool { return i.degraded.Load() }

// SetDegraded flips the degraded flag.
func (i *Index) SetDegraded(v bool) { i.degraded.Store(v) }
