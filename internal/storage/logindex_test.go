// Package storage provides the core storage engine components for PageDB.
package storage

import "testing"

// TestLogIndexLookup tests version-bounded lookups.
func TestLogIndexLookup(t *testing.T) {
	li := NewLogIndex()
	li.Publish([]PageID{1, 2}, []int64{0, 1}) // v1
	li.Publish([]PageID{1}, []int64{2})       // v2
	li.Publish([]PageID{3}, []int64{3})       // v3

	tests := []struct {
		page    PageID
		version uint64
		wantPos int64
		wantOK  bool
	}{
		{1, 0, 0, false},
		{1, 1, 0, true},
		{1, 2, 2, true},
		{1, 9, 2, true},
		{2, 3, 1, true},
		{3, 2, 0, false},
		{3, 3, 3, true},
		{4, 3, 0, false},
	}

	for _, tt := range tests {
		pos, ok := li.Lookup(tt.page, tt.version)
		if ok != tt.wantOK || (ok && pos != tt.wantPos) {
			t.Errorf("Lookup(%d, %d) = %d, %v; want %d, %v", tt.page, tt.version, pos, ok, tt.wantPos, tt.wantOK)
		}
	}

	if li.Version() != 3 {
		t.Errorf("Version() = %d, want 3", li.Version())
	}
}

// TestLogIndexReaders tests read-version registration.
func TestLogIndexReaders(t *testing.T) {
	li := NewLogIndex()
	li.Publish([]PageID{1}, []int64{0})

	r1 := li.Acquire()
	li.Publish([]PageID{1}, []int64{1})
	r2 := li.Acquire()
	li.Publish([]PageID{1}, []int64{2})

	if r1 != 1 || r2 != 2 {
		t.Fatalf("Acquire() = %d, %d; want 1, 2", r1, r2)
	}
	if got := li.OldestReader(); got != 1 {
		t.Errorf("OldestReader() = %d, want 1", got)
	}

	li.Release(r1)
	if got := li.OldestReader(); got != 2 {
		t.Errorf("OldestReader() = %d, want 2", got)
	}

	li.Release(r2)
	if got := li.OldestReader(); got != 3 {
		t.Errorf("OldestReader() with no readers = %d, want 3", got)
	}
	if li.Readers() != 0 {
		t.Errorf("Readers() = %d, want 0", li.Readers())
	}
}

// TestLogIndexPlanKeepsLiveVersions tests that a checkpoint plan never discards a frame a reader needs.
func TestLogIndexPlanKeepsLiveVersions(t *testing.T) {
	li := NewLogIndex()
	li.Publish([]PageID{1, 2}, []int64{0, 1}) // v1
	reader := li.Acquire()                    // holds v1
	li.Publish([]PageID{1}, []int64{2})       // v2

	plan := li.Plan()
	if plan.Upto != 1 {
		t.Fatalf("Plan().Upto = %d, want 1", plan.Upto)
	}
	if plan.Copy[1] != 0 || plan.Copy[2] != 1 || len(plan.Copy) != 2 {
		t.Errorf("Plan().Copy = %v, want page1->0 page2->1", plan.Copy)
	}

	if empty := li.Apply(plan); empty {
		t.Error("Apply() reported an empty index while v2 is pending")
	}
	// The reader now resolves page 1 from the data area; v2 readers still see the log.
	if _, ok := li.Lookup(1, reader); ok {
		t.Error("v1 frame of page 1 is still indexed after checkpoint")
	}
	if pos, ok := li.Lookup(1, 2); !ok || pos != 2 {
		t.Errorf("Lookup(1, 2) = %d, %v; want 2, true", pos, ok)
	}

	li.Release(reader)
	if !li.Apply(li.Plan()) {
		t.Error("Apply() after the reader left should empty the index")
	}
}
