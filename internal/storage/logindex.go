// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"sync"

	"github.com/google/btree"
)

// logEntry maps one committed version of a page to its log frame.
type logEntry struct {
	pageID   PageID
	version  uint64
	position int64
}

// Less orders entries by page, then version.
func (e logEntry) Less(than btree.Item) bool {
	o := than.(logEntry)
	if e.pageID != o.pageID {
		return e.pageID < o.pageID
	}
	return e.version < o.version
}

// LogIndex is the in-memory index of committed log frames. It answers "where
// is the newest copy of page P visible to read version V" and tracks which
// read versions are still in use.
type LogIndex struct {
	mu      sync.RWMutex
	tree    *btree.BTree
	version uint64
	readers map[uint64]int
}

// NewLogIndex creates an empty log index.
func NewLogIndex() *LogIndex {
	return &LogIndex{
		tree:    btree.New(32),
		readers: make(map[uint64]int),
	}
}

// Version returns the latest committed version.
func (li *LogIndex) Version() uint64 {
	li.mu.RLock()
	defer li.mu.RUnlock()
	return li.version
}

// Acquire registers a reader at the latest committed version and returns it.
// Every Acquire must be paired with Release.
func (li *LogIndex) Acquire() uint64 {
	li.mu.Lock()
	defer li.mu.Unlock()
	li.readers[li.version]++
	return li.version
}

// Release unregisters a reader.
func (li *LogIndex) Release(version uint64) {
	li.mu.Lock()
	defer li.mu.Unlock()
	if n := li.readers[version]; n <= 1 {
		delete(li.readers, version)
	} else {
		li.readers[version] = n - 1
	}
}

// OldestReader returns the smallest registered read version, or the latest
// committed version when nobody is reading.
func (li *LogIndex) OldestReader() uint64 {
	li.mu.RLock()
	defer li.mu.RUnlock()
	return li.oldestLocked()
}

func (li *LogIndex) oldestLocked() uint64 {
	oldest := li.version
	for v := range li.readers {
		if v < oldest {
			oldest = v
		}
	}
	return oldest
}

// Readers returns the number of registered readers.
func (li *LogIndex) Readers() int {
	li.mu.RLock()
	defer li.mu.RUnlock()
	n := 0
	for _, c := range li.readers {
		n += c
	}
	return n
}

// Lookup returns the log position of the newest copy of pageID with a
// version at or below readVersion.
func (li *LogIndex) Lookup(pageID PageID, readVersion uint64) (int64, bool) {
	li.mu.RLock()
	defer li.mu.RUnlock()
	return li.lookupLocked(pageID, readVersion)
}

func (li *LogIndex) lookupLocked(pageID PageID, readVersion uint64) (int64, bool) {
	var found logEntry
	ok := false
	li.tree.DescendLessOrEqual(logEntry{pageID: pageID, version: readVersion}, func(i btree.Item) bool {
		e := i.(logEntry)
		if e.pageID == pageID {
			found, ok = e, true
		}
		return false
	})
	return found.position, ok
}

// Publish records a committed run of frames under a new version and makes it
// visible. positions[i] is the frame of pages[i].
func (li *LogIndex) Publish(pages []PageID, positions []int64) uint64 {
	li.mu.Lock()
	defer li.mu.Unlock()
	li.version++
	for i, id := range pages {
		li.tree.ReplaceOrInsert(logEntry{pageID: id, version: li.version, position: positions[i]})
	}
	return li.version
}

// Len returns the number of indexed frames.
func (li *LogIndex) Len() int {
	li.mu.RLock()
	defer li.mu.RUnlock()
	return li.tree.Len()
}

// CheckpointPlan lists, per page, the frame to copy into the data area and
// the entries that become unnecessary once the copy is durable.
type CheckpointPlan struct {
	Upto    uint64
	Copy    map[PageID]int64
	Discard []logEntry
}

// Plan computes the checkpoint work for all versions at or below the oldest
// live reader.
func (li *LogIndex) Plan() *CheckpointPlan {
	li.mu.RLock()
	defer li.mu.RUnlock()
	plan := &CheckpointPlan{
		Upto: li.oldestLocked(),
		Copy: make(map[PageID]int64),
	}
	li.tree.Ascend(func(i btree.Item) bool {
		e := i.(logEntry)
		if e.version <= plan.Upto {
			// Entries ascend by version within a page, so the last one
			// seen wins.
			plan.Copy[e.pageID] = e.position
			plan.Discard = append(plan.Discard, e)
		}
		return true
	})
	return plan
}

// Apply removes the entries of a completed checkpoint plan and reports
// whether the index is now empty.
func (li *LogIndex) Apply(plan *CheckpointPlan) bool {
	li.mu.Lock()
	defer li.mu.Unlock()
	for _, e := range plan.Discard {
		li.tree.Delete(e)
	}
	return li.tree.Len() == 0
}

// Lock and Unlock give exclusive access to the index, blocking readers that
// resolve pages while the log is truncated.
func (li *LogIndex) Lock() {
	li.mu.Lock()
}

// Unlock releases Lock.
func (li *LogIndex) Unlock() {
	li.mu.Unlock()
}

// RLock holds off log truncation while a reader resolves and reads a frame.
func (li *LogIndex) RLock() {
	li.mu.RLock()
}

// RUnlock releases RLock.
func (li *LogIndex) RUnlock() {
	li.mu.RUnlock()
}

// LookupLocked is Lookup for callers already holding RLock.
func (li *LogIndex) LookupLocked(pageID PageID, readVersion uint64) (int64, bool) {
	return li.lookupLocked(pageID, readVersion)
}

// Reset clears the index after the log was truncated.
func (li *LogIndex) Reset() {
	li.mu.Lock()
	defer li.mu.Unlock()
	li.tree.Clear(false)
}

// SetVersion sets the version counter, used by recovery.
func (li *LogIndex) SetVersion(v uint64) {
	li.mu.Lock()
	defer li.mu.Unlock()
	li.version = v
}
