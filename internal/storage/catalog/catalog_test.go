package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/index"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/lock"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/tx"
)

const testPageSize = storage.MinPageSize

// newTestCatalog creates a bootstrapped catalog over an in-memory store.
func newTestCatalog(t *testing.T) (*tx.Manager, *Catalog) {
	t.Helper()
	h := storage.NewFileHeader(testPageSize)
	hp, err := h.ToPage()
	if err != nil {
		t.Fatalf("ToPage() error = %v", err)
	}
	stream := storage.NewMemoryStream()
	if _, err := stream.WriteAt(hp.Bytes(), 0); err != nil {
		t.Fatalf("WriteAt() error = %v", err)
	}
	disk := storage.NewDiskService(stream, storage.NewMemoryStream(), testPageSize, nil, false)
	store, err := storage.NewPageStore(disk, storage.MinCacheSize, nil)
	if err != nil {
		t.Fatalf("NewPageStore() error = %v", err)
	}
	m := tx.NewManager(store, lock.NewService(200*time.Millisecond, store.Metrics), h, 0, tx.Config{})
	c := New(m, 0, nil, nil)
	if err := run(m, c, c.Bootstrap); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	return m, c
}

// run executes fn in a transaction committed through c.
func run(m *tx.Manager, c *Catalog, fn func(tr *tx.Transaction) error) error {
	tr, err := m.Begin()
	if err != nil {
		return err
	}
	defer tr.Rollback()
	if err := fn(tr); err != nil {
		return err
	}
	return c.Commit(tr)
}

func create(t *testing.T, m *tx.Manager, c *Catalog, name string) {
	t.Helper()
	err := run(m, c, func(tr *tx.Transaction) error {
		_, err := c.Create(tr, name)
		return err
	})
	if err != nil {
		t.Fatalf("Create(%q) error = %v", name, err)
	}
}

// insert stores doc and indexes it under every index of h.
func insert(t *testing.T, h *Handle, doc *document.Document) {
	t.Helper()
	addr, err := h.Data.Insert(document.Encode(doc))
	if err != nil {
		t.Fatalf("Data.Insert() error = %v", err)
	}
	for _, def := range h.Indexes {
		for _, k := range def.Keys(doc, h.Index.Collation()) {
			if err := h.Index.Insert(def, k, addr); err != nil {
				t.Fatalf("Index.Insert() error = %v", err)
			}
		}
	}
}

func fill(t *testing.T, m *tx.Manager, c *Catalog, name string, docs int, age func(i int) int) {
	t.Helper()
	err := run(m, c, func(tr *tx.Transaction) error {
		h, err := c.Open(tr, name, true)
		if err != nil {
			return err
		}
		for i := 0; i < docs; i++ {
			insert(t, h, document.New().Set("_id", i).Set("age", age(i)))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
}

func exists(t *testing.T, m *tx.Manager, c *Catalog, name string) bool {
	t.Helper()
	tr, err := m.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tr.Rollback()
	ok, err := c.Exists(tr, name)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	return ok
}

// TestCreateAndOpen tests creating a collection and opening it again.
func TestCreateAndOpen(t *testing.T) {
	m, c := newTestCatalog(t)
	create(t, m, c, "users")

	tr, _ := m.Begin()
	defer tr.Rollback()
	h, err := c.Open(tr, "users", false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if h.Name != "users" || h.ID != 1 {
		t.Errorf("Open() = %q/%d, want users/1", h.Name, h.ID)
	}
	if h.PrimaryKey() == nil {
		t.Error("PrimaryKey() = nil")
	}

	cols := c.Collections()
	if len(cols) != 1 || cols[0].Name != "users" {
		t.Errorf("Collections() = %v, want [users]", cols)
	}
	names, err := c.List(tr)
	if err != nil || len(names) != 1 || names[0] != "users" {
		t.Errorf("List() = %v, %v, want [users]", names, err)
	}
}

// TestCreateExisting tests that a name can only be created once.
func TestCreateExisting(t *testing.T) {
	m, c := newTestCatalog(t)
	create(t, m, c, "users")
	err := run(m, c, func(tr *tx.Transaction) error {
		_, err := c.Create(tr, "users")
		return err
	})
	if !errors.Is(err, ErrCollectionExists) || storage.CodeOf(err) != storage.CodeInvalidArgument {
		t.Errorf("Create() error = %v, want ErrCollectionExists", err)
	}
}

// TestCheckName tests name validation.
func TestCheckName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"users", false},
		{"order_items-2024.v1", false},
		{"", true},
		{"$catalog", true},
		{"has space", true},
		{"a/b", true},
		{string(make([]byte, MaxNameLength+1)), true},
	}
	for _, tt := range tests {
		err := CheckName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

// TestOpenMissing tests the error for an unknown collection.
func TestOpenMissing(t *testing.T) {
	m, c := newTestCatalog(t)
	tr, _ := m.Begin()
	defer tr.Rollback()
	_, err := c.Open(tr, "nope", false)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Open() error = %v, want NotFound", err)
	}
	if _, err := c.Open(tr, Name, true); !errors.Is(err, storage.ErrNotSupported) {
		t.Errorf("Open(catalog, write) error = %v, want NotSupported", err)
	}
}

// TestDrop tests that dropping frees the collection pages.
func TestDrop(t *testing.T) {
	m, c := newTestCatalog(t)
	create(t, m, c, "users")
	fill(t, m, c, "users", 200, func(i int) int { return i })

	var dropped bool
	err := run(m, c, func(tr *tx.Transaction) error {
		var err error
		dropped, err = c.Drop(tr, "users")
		return err
	})
	if err != nil || !dropped {
		t.Fatalf("Drop() = %v, %v, want true", dropped, err)
	}
	if exists(t, m, c, "users") {
		t.Error("users still exists after Drop")
	}
	if m.Header().FreeEmptyPageList == 0 {
		t.Error("Drop() did not return pages to the empty list")
	}
	if len(c.Collections()) != 0 {
		t.Errorf("Collections() = %v, want none", c.Collections())
	}

	err = run(m, c, func(tr *tx.Transaction) error {
		dropped, err = c.Drop(tr, "users")
		return err
	})
	if err != nil || dropped {
		t.Errorf("second Drop() = %v, %v, want false", dropped, err)
	}
}

// TestRename tests renaming a collection.
func TestRename(t *testing.T) {
	m, c := newTestCatalog(t)
	create(t, m, c, "users")
	create(t, m, c, "orders")

	err := run(m, c, func(tr *tx.Transaction) error { return c.Rename(tr, "users", "people") })
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if exists(t, m, c, "users") || !exists(t, m, c, "people") {
		t.Error("Rename() did not move the name")
	}

	tr, _ := m.Begin()
	h, err := c.Open(tr, "people", false)
	if err != nil || h.Name != "people" {
		t.Errorf("Open(people) = %v, %v", h, err)
	}
	tr.Rollback()

	err = run(m, c, func(tr *tx.Transaction) error { return c.Rename(tr, "people", "orders") })
	if !errors.Is(err, ErrCollectionExists) {
		t.Errorf("Rename() onto existing error = %v, want ErrCollectionExists", err)
	}
}

// TestEnsureIndex tests index creation over existing documents.
func TestEnsureIndex(t *testing.T) {
	m, c := newTestCatalog(t)
	create(t, m, c, "users")
	fill(t, m, c, "users", 100, func(i int) int { return i % 10 })

	var created bool
	err := run(m, c, func(tr *tx.Transaction) error {
		var err error
		created, err = c.EnsureIndex(tr, "users", "age", "$.age", false)
		return err
	})
	if err != nil || !created {
		t.Fatalf("EnsureIndex() = %v, %v, want true", created, err)
	}

	tr, _ := m.Begin()
	h, err := c.Open(tr, "users", false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	def := h.Definition("age")
	if def == nil {
		t.Fatal("age index missing after commit")
	}
	keys, unique, err := h.Index.Count(def)
	if err != nil || keys != 100 || unique != 10 {
		t.Errorf("Count() = (%d, %d, %v), want (100, 10)", keys, unique, err)
	}
	tr.Rollback()

	err = run(m, c, func(tr *tx.Transaction) error {
		created, err = c.EnsureIndex(tr, "users", "age", "age", false)
		return err
	})
	if err != nil || created {
		t.Errorf("repeated EnsureIndex() = %v, %v, want false", created, err)
	}
	err = run(m, c, func(tr *tx.Transaction) error {
		_, err := c.EnsureIndex(tr, "users", "age", "$.name", false)
		return err
	})
	if !errors.Is(err, ErrIndexExists) {
		t.Errorf("conflicting EnsureIndex() error = %v, want ErrIndexExists", err)
	}
}

// TestEnsureUniqueIndexDuplicate tests that a unique index over duplicate
// values fails and leaves no trace after rollback.
func TestEnsureUniqueIndexDuplicate(t *testing.T) {
	m, c := newTestCatalog(t)
	create(t, m, c, "users")
	fill(t, m, c, "users", 20, func(i int) int { return i % 3 })

	err := run(m, c, func(tr *tx.Transaction) error {
		_, err := c.EnsureIndex(tr, "users", "age", "age", true)
		return err
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("EnsureIndex() error = %v, want DuplicateKey", err)
	}

	tr, _ := m.Begin()
	defer tr.Rollback()
	h, err := c.Open(tr, "users", false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if h.Definition("age") != nil {
		t.Error("age index exists after failed EnsureIndex")
	}
}

// TestDropIndex tests index removal.
func TestDropIndex(t *testing.T) {
	m, c := newTestCatalog(t)
	create(t, m, c, "users")
	fill(t, m, c, "users", 50, func(i int) int { return i })
	err := run(m, c, func(tr *tx.Transaction) error {
		_, err := c.EnsureIndex(tr, "users", "age", "age", false)
		return err
	})
	if err != nil {
		t.Fatalf("EnsureIndex() error = %v", err)
	}

	var dropped bool
	err = run(m, c, func(tr *tx.Transaction) error {
		var err error
		dropped, err = c.DropIndex(tr, "users", "age")
		return err
	})
	if err != nil || !dropped {
		t.Fatalf("DropIndex() = %v, %v, want true", dropped, err)
	}
	cols := c.Collections()
	if len(cols) != 1 || len(cols[0].Indexes) != 1 {
		t.Errorf("indexes after DropIndex = %v, want only _id", cols[0].Indexes)
	}

	err = run(m, c, func(tr *tx.Transaction) error {
		_, err := c.DropIndex(tr, "users", index.PrimaryKey)
		return err
	})
	if !errors.Is(err, ErrPrimaryKeyIndex) {
		t.Errorf("DropIndex(_id) error = %v, want ErrPrimaryKeyIndex", err)
	}
}

// TestCatalogIsolation tests that catalog changes follow snapshot rules.
func TestCatalogIsolation(t *testing.T) {
	m, c := newTestCatalog(t)

	reader, _ := m.Begin()
	defer reader.Rollback()
	if ok, _ := c.Exists(reader, "late"); ok {
		t.Fatal("late exists before creation")
	}

	writer, _ := m.Begin()
	if _, err := c.Create(writer, "late"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if exists(t, m, c, "late") {
		t.Error("uncommitted collection is visible")
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if ok, _ := c.Exists(reader, "late"); ok {
		t.Error("collection created after the snapshot is visible")
	}
	if !exists(t, m, c, "late") {
		t.Error("committed collection is not visible to a new transaction")
	}
}

// TestLoad tests that a fresh catalog reads back what was committed.
func TestLoad(t *testing.T) {
	m, c := newTestCatalog(t)
	create(t, m, c, "a")
	create(t, m, c, "b")

	reloaded := New(m, m.Header().CatalogPageID, nil, nil)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cols := reloaded.Collections()
	if len(cols) != 2 || cols[0].Name != "a" || cols[1].Name != "b" {
		t.Errorf("Collections() = %v, want [a b]", cols)
	}
	if cols[1].ID != 2 {
		t.Errorf("b.ID = %d, want 2", cols[1].ID)
	}
}

// TestMirrorFollowsCommits tests that lookups stay correct whether or not
// the mirror was reloaded after a catalog commit.
func TestMirrorFollowsCommits(t *testing.T) {
	m, c := newTestCatalog(t)
	create(t, m, c, "a")
	if cols := c.Collections(); len(cols) != 1 || cols[0].Name != "a" {
		t.Fatalf("Collections() = %v, want [a]", cols)
	}

	err := m.Run(func(tr *tx.Transaction) error {
		_, err := c.Create(tr, "b")
		return err
	})
	if err != nil {
		t.Fatalf("Create(b) error = %v", err)
	}
	if len(c.Collections()) != 1 {
		t.Errorf("Collections() = %v, want the mirror before reload", c.Collections())
	}
	if !exists(t, m, c, "b") {
		t.Error("b is not visible while the mirror is behind")
	}

	c.Refresh()
	if cols := c.Collections(); len(cols) != 2 {
		t.Errorf("Collections() after Refresh = %v, want [a b]", cols)
	}
}

// TestRenameLockTimeout tests that a rename blocked by another writer
// changes nothing and can be retried in the same transaction.
func TestRenameLockTimeout(t *testing.T) {
	m, c := newTestCatalog(t)
	create(t, m, c, "c")
	m.Locks().SetTimeout(20 * time.Millisecond)

	owner, _ := m.Begin()
	if _, err := c.Open(owner, "c", true); err != nil {
		t.Fatalf("Open(c, write) error = %v", err)
	}

	tr, _ := m.Begin()
	defer tr.Rollback()
	if err := c.Rename(tr, "c", "d"); !errors.Is(err, storage.ErrLockTimeout) {
		t.Fatalf("Rename() error = %v, want LockTimeout", err)
	}
	names, err := c.List(tr)
	if err != nil || len(names) != 1 || names[0] != "c" {
		t.Errorf("List() after timeout = %v, %v, want [c]", names, err)
	}

	if err := owner.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := c.Rename(tr, "c", "d"); err != nil {
		t.Fatalf("retried Rename() error = %v", err)
	}
	if err := c.Commit(tr); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	check, _ := m.Begin()
	defer check.Rollback()
	h, err := c.Open(check, "d", false)
	if err != nil || h.Name != "d" {
		t.Errorf("Open(d) = %v, %v, want the renamed collection", h, err)
	}
	if ok, _ := c.Exists(check, "c"); ok {
		t.Error("c still exists after the rename")
	}
}
