package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KilimcininKorOglu/pagedb/internal/crypto"
	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/index"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/query"
)

func testSettings(path string) storage.Settings {
	return storage.DefaultSettings(path).
		WithCacheSize(storage.MinCacheSize).
		WithTimeout(2 * time.Second)
}

func openMemory(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(testSettings(storage.MemoryPath))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func openPath(t *testing.T, s storage.Settings) *Engine {
	t.Helper()
	e, err := Open(s)
	if err != nil {
		t.Fatalf("Open(%s): %v", s.Path, err)
	}
	return e
}

func person(id int, name string, age int) *document.Document {
	return document.New().Set("_id", id).Set("name", name).Set("age", age)
}

func mustInsert(t *testing.T, e *Engine, coll string, docs ...*document.Document) {
	t.Helper()
	for _, d := range docs {
		if _, err := e.Insert(coll, d); err != nil {
			t.Fatalf("Insert(%s): %v", d, err)
		}
	}
}

func mustCount(t *testing.T, e *Engine, coll string, q *query.Query) int {
	t.Helper()
	n, err := e.Count(coll, q)
	if err != nil {
		t.Fatalf("Count(%s): %v", coll, err)
	}
	return n
}

func indexInfo(t *testing.T, e *Engine, coll, name string) IndexInfo {
	t.Helper()
	infos, err := e.ListIndexes(coll)
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	for _, info := range infos {
		if info.Name == name {
			return info
		}
	}
	t.Fatalf("index %q not listed", name)
	return IndexInfo{}
}

// TestInsertAndFindByID tests inserting into a new collection and reading
// documents back.
func TestInsertAndFindByID(t *testing.T) {
	e := openMemory(t)

	mustInsert(t, e, "people", person(1, "Alice", 31), person(2, "Bob", 45))
	id, err := e.Insert("people", document.New().Set("name", "Carol"))
	if err != nil {
		t.Fatalf("Insert without _id: %v", err)
	}
	if id.Type() != document.TypeUUID {
		t.Errorf("generated _id type = %v, want %v", id.Type(), document.TypeUUID)
	}

	names, err := e.ListCollections()
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(names) != 1 || names[0] != "people" {
		t.Errorf("ListCollections = %v, want [people]", names)
	}

	doc, err := e.FindByID("people", 2)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if doc == nil || doc.Value("name").AsString() != "Bob" {
		t.Errorf("FindByID(2) = %v, want Bob", doc)
	}
	if doc, err := e.FindByID("people", id); err != nil || doc == nil {
		t.Errorf("FindByID(generated) = %v, %v", doc, err)
	}
	if doc, err := e.FindByID("people", 99); err != nil || doc != nil {
		t.Errorf("FindByID(99) = %v, %v, want nil", doc, err)
	}
	if doc, err := e.FindByID("missing", 1); err != nil || doc != nil {
		t.Errorf("FindByID on missing collection = %v, %v, want nil", doc, err)
	}
	if n := mustCount(t, e, "people", nil); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

// TestInvalidDocuments tests the _id values and documents Insert refuses.
func TestInvalidDocuments(t *testing.T) {
	e := openMemory(t)

	tests := []struct {
		name string
		doc  *document.Document
	}{
		{"nil document", nil},
		{"array id", document.New().Set("_id", []int{1, 2})},
		{"min value id", document.New().Set("_id", document.MinValue())},
		{"max value id", document.New().Set("_id", document.MaxValue())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Insert("c", tt.doc)
			if !errors.Is(err, storage.ErrInvalidArgument) {
				t.Errorf("Insert error = %v, want InvalidArgument", err)
			}
		})
	}
	if _, err := e.Insert("$catalog", person(1, "x", 1)); !errors.Is(err, storage.ErrNotSupported) {
		t.Errorf("Insert into $catalog error = %v, want NotSupported", err)
	}
}

// TestDuplicateKey tests that unique violations change nothing.
func TestDuplicateKey(t *testing.T) {
	e := openMemory(t)

	if _, err := e.EnsureIndex("users", "email", "email", true); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	mustInsert(t, e, "users", document.New().Set("_id", 1).Set("email", "a@example.com"))

	_, err := e.Insert("users", document.New().Set("_id", 1).Set("email", "b@example.com"))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("duplicate _id error = %v, want DuplicateKey", err)
	}
	_, err = e.Insert("users", document.New().Set("_id", 2).Set("email", "a@example.com"))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("duplicate email error = %v, want DuplicateKey", err)
	}

	if n := mustCount(t, e, "users", nil); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if info := indexInfo(t, e, "users", "email"); info.Keys != 1 {
		t.Errorf("email keys = %d, want 1", info.Keys)
	}
	if info := indexInfo(t, e, "users", index.PrimaryKey); info.Keys != 1 {
		t.Errorf("_id keys = %d, want 1", info.Keys)
	}
}

// TestDuplicateKeyInTransaction tests that a transaction stays usable after
// a unique violation.
func TestDuplicateKeyInTransaction(t *testing.T) {
	e := openMemory(t)
	mustInsert(t, e, "c", person(1, "a", 1))

	x, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer x.Rollback()
	if _, err := x.Insert("c", person(2, "b", 2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := x.Insert("c", person(1, "dup", 3)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Insert duplicate error = %v, want DuplicateKey", err)
	}
	if _, err := x.Insert("c", person(3, "c", 3)); err != nil {
		t.Fatalf("Insert after duplicate: %v", err)
	}
	if err := x.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := mustCount(t, e, "c", nil); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

// TestUpdateMovesIndexKeys tests that Update keeps secondary indexes in
// step with the document.
func TestUpdateMovesIndexKeys(t *testing.T) {
	e := openMemory(t)
	if _, err := e.EnsureIndex("people", "age", "$.age", false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	mustInsert(t, e, "people", person(1, "Alice", 30), person(2, "Bob", 30))

	ok, err := e.Update("people", person(1, "Alice", 40))
	if err != nil || !ok {
		t.Fatalf("Update = %v, %v, want true", ok, err)
	}
	tests := []struct {
		age  int
		want int
	}{
		{30, 1},
		{40, 1},
		{50, 0},
	}
	for _, tt := range tests {
		if n := mustCount(t, e, "people", query.EQ("age", tt.age)); n != tt.want {
			t.Errorf("Count(age = %d) = %d, want %d", tt.age, n, tt.want)
		}
	}
	if info := indexInfo(t, e, "people", "age"); info.Keys != 2 || info.UniqueKeys != 2 {
		t.Errorf("age index = %d keys / %d unique, want 2 / 2", info.Keys, info.UniqueKeys)
	}

	if ok, err := e.Update("people", person(9, "Nobody", 1)); err != nil || ok {
		t.Errorf("Update(missing) = %v, %v, want false", ok, err)
	}
	if ok, err := e.Update("nothing", person(1, "x", 1)); err != nil || ok {
		t.Errorf("Update(missing collection) = %v, %v, want false", ok, err)
	}
}

// TestUpsert tests both branches of Upsert.
func TestUpsert(t *testing.T) {
	e := openMemory(t)

	inserted, err := e.Upsert("c", person(1, "a", 1))
	if err != nil || !inserted {
		t.Fatalf("Upsert new = %v, %v, want true", inserted, err)
	}
	inserted, err = e.Upsert("c", person(1, "b", 2))
	if err != nil || inserted {
		t.Fatalf("Upsert existing = %v, %v, want false", inserted, err)
	}
	doc, err := e.FindByID("c", 1)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got := doc.Value("name").AsString(); got != "b" {
		t.Errorf("name = %q, want %q", got, "b")
	}
}

// TestDeleteMultiKey tests that Delete removes every key an array produced.
func TestDeleteMultiKey(t *testing.T) {
	e := openMemory(t)
	if _, err := e.EnsureIndex("c", "tags", "$.tags[*]", false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	mustInsert(t, e, "c",
		document.New().Set("_id", 1).Set("tags", []int{1, 2, 2, 3}),
		document.New().Set("_id", 2).Set("tags", []int{3}))

	if info := indexInfo(t, e, "c", "tags"); info.Keys != 4 {
		t.Fatalf("tags keys = %d, want 4", info.Keys)
	}
	ok, err := e.Delete("c", 1)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v, want true", ok, err)
	}
	if info := indexInfo(t, e, "c", "tags"); info.Keys != 1 {
		t.Errorf("tags keys after delete = %d, want 1", info.Keys)
	}
	if ok, err := e.Delete("c", 1); err != nil || ok {
		t.Errorf("second Delete = %v, %v, want false", ok, err)
	}
}

// TestDeleteMany tests deleting by query.
func TestDeleteMany(t *testing.T) {
	e := openMemory(t)
	if _, err := e.EnsureIndex("c", "age", "age", false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	docs := make([]*document.Document, 100)
	for i := range docs {
		docs[i] = person(i, fmt.Sprintf("p%d", i), i%10)
	}
	if n, err := e.InsertMany("c", docs); err != nil || n != 100 {
		t.Fatalf("InsertMany = %d, %v", n, err)
	}

	n, err := e.DeleteMany("c", query.EQ("age", 3))
	if err != nil || n != 10 {
		t.Fatalf("DeleteMany = %d, %v, want 10", n, err)
	}
	if got := mustCount(t, e, "c", nil); got != 90 {
		t.Errorf("Count = %d, want 90", got)
	}
	if got := mustCount(t, e, "c", query.EQ("age", 3)); got != 0 {
		t.Errorf("Count(age = 3) = %d, want 0", got)
	}
	if n, err := e.DeleteMany("missing", nil); err != nil || n != 0 {
		t.Errorf("DeleteMany(missing) = %d, %v, want 0", n, err)
	}
}

// TestFindSorted tests an engine-level cursor and its transaction.
func TestFindSorted(t *testing.T) {
	e := openMemory(t)
	mustInsert(t, e, "c", person(1, "Carol", 3), person(2, "Alice", 1), person(3, "Bob", 2))

	cur, err := e.Find("c", query.All().Sort("name", index.Descending).Page(1, 0))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	docs, err := cur.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	var names []string
	for _, d := range docs {
		names = append(names, d.Value("name").AsString())
	}
	if got := strings.Join(names, ","); got != "Bob,Alice" {
		t.Errorf("names = %s, want Bob,Alice", got)
	}

	st, err := e.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.ActiveTransactions != 0 {
		t.Errorf("ActiveTransactions after cursor close = %d, want 0", st.ActiveTransactions)
	}
}

// TestSnapshotIsolation tests that a transaction keeps reading the version
// it started with.
func TestSnapshotIsolation(t *testing.T) {
	e := openMemory(t)
	mustInsert(t, e, "c", person(1, "a", 1))

	reader, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer reader.Rollback()
	if n, err := reader.Count("c", nil); err != nil || n != 1 {
		t.Fatalf("reader Count = %d, %v, want 1", n, err)
	}

	mustInsert(t, e, "c", person(2, "b", 2))
	if _, err := e.Update("c", person(1, "changed", 1)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if n, err := reader.Count("c", nil); err != nil || n != 1 {
		t.Errorf("reader Count after commit = %d, %v, want 1", n, err)
	}
	doc, err := reader.FindByID("c", 1)
	if err != nil {
		t.Fatalf("reader FindByID: %v", err)
	}
	if got := doc.Value("name").AsString(); got != "a" {
		t.Errorf("reader sees name %q, want %q", got, "a")
	}
	if n := mustCount(t, e, "c", nil); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

// TestSnapshotAtBegin tests that a transaction whose first read comes after
// another commit still reads the version current at Begin.
func TestSnapshotAtBegin(t *testing.T) {
	e := openMemory(t)
	mustInsert(t, e, "c", person(0, "first", 1))

	x, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer x.Rollback()

	docs := make([]*document.Document, 100)
	for i := range docs {
		docs[i] = person(i+1, "later", i)
	}
	if _, err := e.InsertMany("c", docs); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	mustInsert(t, e, "late", person(1, "a", 1))

	if n, err := x.Count("c", nil); err != nil || n != 1 {
		t.Errorf("Count after commit = %d, %v, want 1", n, err)
	}
	if ok, err := x.CollectionExists("late"); err != nil || ok {
		t.Errorf("CollectionExists(late) = %v, %v, want false", ok, err)
	}
	if n := mustCount(t, e, "c", nil); n != 101 {
		t.Errorf("Count outside = %d, want 101", n)
	}
}

// TestCrossCollectionSnapshot tests that reads of two collections in one
// transaction come from the same version.
func TestCrossCollectionSnapshot(t *testing.T) {
	e := openMemory(t)
	mustInsert(t, e, "a", person(1, "a0", 1))
	mustInsert(t, e, "b", person(1, "b0", 1))

	reader, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer reader.Rollback()
	da, err := reader.FindByID("a", 1)
	if err != nil {
		t.Fatalf("FindByID(a): %v", err)
	}

	writer, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := writer.Update("a", person(1, "a1", 1)); err != nil {
		t.Fatalf("Update(a): %v", err)
	}
	if _, err := writer.Update("b", person(1, "b1", 1)); err != nil {
		t.Fatalf("Update(b): %v", err)
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	db, err := reader.FindByID("b", 1)
	if err != nil {
		t.Fatalf("FindByID(b): %v", err)
	}
	got := da.Value("name").AsString() + " " + db.Value("name").AsString()
	if got != "a0 b0" {
		t.Errorf("reader sees %q, want %q", got, "a0 b0")
	}
}

// TestUncommittedInvisible tests that other transactions do not see
// uncommitted collections or documents.
func TestUncommittedInvisible(t *testing.T) {
	e := openMemory(t)

	x, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := x.Insert("fresh", person(1, "a", 1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ok, err := e.CollectionExists("fresh"); err != nil || ok {
		t.Errorf("CollectionExists before commit = %v, %v, want false", ok, err)
	}
	if n := mustCount(t, e, "fresh", nil); n != 0 {
		t.Errorf("Count before commit = %d, want 0", n)
	}
	if n, err := x.Count("fresh", nil); err != nil || n != 1 {
		t.Errorf("own Count = %d, %v, want 1", n, err)
	}
	if err := x.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := mustCount(t, e, "fresh", nil); n != 1 {
		t.Errorf("Count after commit = %d, want 1", n)
	}
}

// TestRollbackDiscards tests that a rolled back transaction leaves no trace.
func TestRollbackDiscards(t *testing.T) {
	e := openMemory(t)
	mustInsert(t, e, "c", person(1, "a", 1))

	x, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for i := 2; i < 200; i++ {
		if _, err := x.Insert("c", person(i, "x", i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := x.Delete("c", 1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := x.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if n := mustCount(t, e, "c", nil); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if _, err := x.Insert("c", person(500, "late", 1)); err == nil {
		t.Error("Insert after Rollback succeeded")
	}
}

// TestLockTimeout tests that a second writer of a collection gives up.
func TestLockTimeout(t *testing.T) {
	e, err := Open(testSettings(storage.MemoryPath).WithTimeout(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	mustInsert(t, e, "c", person(1, "a", 1))

	x, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := x.Insert("c", person(2, "b", 2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	start := time.Now()
	_, err = e.Insert("c", person(3, "c", 3))
	if !errors.Is(err, storage.ErrLockTimeout) {
		t.Errorf("concurrent Insert error = %v, want LockTimeout", err)
	}
	if d := time.Since(start); d < 100*time.Millisecond {
		t.Errorf("gave up after %v, want at least 100ms", d)
	}
	mustInsert(t, e, "other", person(1, "a", 1))

	if err := x.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	mustInsert(t, e, "c", person(3, "c", 3))
}

// TestStructuralLockTimeout tests that structural changes blocked by
// another writer leave the transaction usable and succeed when retried.
func TestStructuralLockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry.db")
	e := openPath(t, testSettings(path).WithTimeout(50*time.Millisecond))
	defer e.Close()
	mustInsert(t, e, "c", person(1, "a", 1))
	mustInsert(t, e, "gone", person(1, "a", 1))

	owner, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	mustOwn := func(coll string) {
		t.Helper()
		if _, err := owner.Insert(coll, person(2, "b", 2)); err != nil {
			t.Fatalf("owner Insert(%s): %v", coll, err)
		}
	}
	mustOwn("c")
	mustOwn("gone")

	x, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer x.Rollback()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"ensure index", func() error { _, err := x.EnsureIndex("c", "age", "age", false); return err }},
		{"drop", func() error { _, err := x.DropCollection("gone"); return err }},
		{"rename", func() error { return x.RenameCollection("c", "d") }},
	}
	for _, tt := range tests {
		if err := tt.fn(); !errors.Is(err, storage.ErrLockTimeout) {
			t.Fatalf("%s error = %v, want LockTimeout", tt.name, err)
		}
		names, err := x.ListCollections()
		if err != nil {
			t.Fatalf("ListCollections after %s: %v", tt.name, err)
		}
		if got := strings.Join(names, ","); got != "c,gone" {
			t.Errorf("ListCollections after %s = %s, want c,gone", tt.name, got)
		}
	}

	if err := owner.Commit(); err != nil {
		t.Fatalf("owner Commit: %v", err)
	}
	for _, tt := range tests {
		if err := tt.fn(); err != nil {
			t.Fatalf("retried %s: %v", tt.name, err)
		}
	}
	if err := x.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	check := func(when string) {
		t.Helper()
		names, err := e.ListCollections()
		if err != nil {
			t.Fatalf("ListCollections %s: %v", when, err)
		}
		if got := strings.Join(names, ","); got != "d" {
			t.Errorf("ListCollections %s = %s, want d", when, got)
		}
		if n := mustCount(t, e, "d", query.EQ("age", 2)); n != 1 {
			t.Errorf("Count(age = 2) %s = %d, want 1", when, n)
		}
		if info := indexInfo(t, e, "d", "age"); info.Keys != 2 {
			t.Errorf("age index keys %s = %d, want 2", when, info.Keys)
		}
	}
	check("after commit")
	if _, err := e.Rebuild(RebuildOptions{}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	check("after rebuild")
}

// TestCrashRecovery tests that committed transactions survive a crash and
// uncommitted ones do not.
func TestCrashRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.db")
	s := testSettings(path).WithCheckpointSize(0)
	e := openPath(t, s)

	x, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for i := 0; i < 1000; i++ {
		if _, err := x.Insert("c", person(i, "committed", i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := x.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	pending, err := e.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for i := 1000; i < 2000; i++ {
		if _, err := pending.Insert("c", person(i, "pending", i)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	// Drop the process state without a checkpoint and tear the log tail.
	c := e.core.Load()
	if c.store.WAL.Frames() == 0 {
		t.Fatal("log is empty before the crash")
	}
	c.store.Close()
	f, err := os.OpenFile(s.LogPath(), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	f.Write(bytes.Repeat([]byte{0xAB}, s.PageSize))
	f.Close()

	e2 := openPath(t, s)
	defer e2.Close()
	if rec := e2.Recovery(); rec.Replayed == 0 || rec.Discarded == 0 {
		t.Errorf("recovery = %+v, want replayed runs and a discarded tail", rec)
	}
	if n := mustCount(t, e2, "c", nil); n != 1000 {
		t.Errorf("Count after recovery = %d, want 1000", n)
	}
	if doc, err := e2.FindByID("c", 1500); err != nil || doc != nil {
		t.Errorf("FindByID(uncommitted) = %v, %v, want nil", doc, err)
	}
	mustInsert(t, e2, "c", person(5000, "after", 1))
}

// TestReopen tests that data, indexes and pragmas persist across Close.
func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	e := openPath(t, testSettings(path))
	mustInsert(t, e, "c", person(1, "a", 10), person(2, "b", 20))
	if _, err := e.EnsureIndex("c", "age", "age", false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if err := e.SetUserVersion(7); err != nil {
		t.Fatalf("SetUserVersion: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if info, err := os.Stat(testSettings(path).LogPath()); err != nil || info.Size() != 0 {
		t.Errorf("log after Close: %v, %v, want empty", info, err)
	}

	e = openPath(t, testSettings(path))
	defer e.Close()
	if v, err := e.UserVersion(); err != nil || v != 7 {
		t.Errorf("UserVersion = %d, %v, want 7", v, err)
	}
	if n := mustCount(t, e, "c", query.GT("age", 15)); n != 1 {
		t.Errorf("Count(age > 15) = %d, want 1", n)
	}
	if info := indexInfo(t, e, "c", "age"); info.Expression != "$.age" {
		t.Errorf("age expression = %q, want %q", info.Expression, "$.age")
	}
}

// TestReadOnly tests that a read-only engine reads and refuses writes.
func TestReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.db")
	e := openPath(t, testSettings(path))
	mustInsert(t, e, "c", person(1, "a", 1))
	e.Close()

	ro := openPath(t, testSettings(path).WithReadOnly(true))
	defer ro.Close()
	if doc, err := ro.FindByID("c", 1); err != nil || doc == nil {
		t.Fatalf("FindByID = %v, %v", doc, err)
	}
	tests := []struct {
		name string
		fn   func() error
	}{
		{"insert", func() error { _, err := ro.Insert("c", person(2, "b", 2)); return err }},
		{"create", func() error { return ro.CreateCollection("d") }},
		{"checkpoint", func() error { _, err := ro.Checkpoint(); return err }},
		{"user version", func() error { return ro.SetUserVersion(1) }},
		{"rebuild", func() error { _, err := ro.Rebuild(RebuildOptions{}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, storage.ErrNotSupported) {
				t.Errorf("error = %v, want NotSupported", err)
			}
		})
	}
}

// TestEncryption tests password handling and that pages are not stored in
// plain text.
func TestEncryption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.db")
	e := openPath(t, testSettings(path).WithPassword("correct horse"))
	mustInsert(t, e, "c", document.New().Set("_id", 1).Set("value", "top-secret-value"))
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Contains(raw, []byte("top-secret-value")) {
		t.Error("data file contains the plain text value")
	}

	_, err = Open(testSettings(path).WithPassword("wrong"))
	if !errors.Is(err, storage.ErrInvalidArgument) || !errors.Is(err, crypto.ErrInvalidPassword) {
		t.Errorf("Open with wrong password error = %v, want invalid password", err)
	}
	_, err = Open(testSettings(path))
	if !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("Open without password error = %v, want %v", err, ErrPasswordRequired)
	}

	e = openPath(t, testSettings(path).WithPassword("correct horse"))
	defer e.Close()
	doc, err := e.FindByID("c", 1)
	if err != nil || doc == nil {
		t.Fatalf("FindByID = %v, %v", doc, err)
	}
	if got := doc.Value("value").AsString(); got != "top-secret-value" {
		t.Errorf("value = %q, want %q", got, "top-secret-value")
	}
}

// TestRebuildReclaims tests that Rebuild shrinks a file with deleted
// documents and keeps a backup.
func TestRebuildReclaims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.db")
	s := testSettings(path)
	e := openPath(t, s)
	defer e.Close()

	if _, err := e.EnsureIndex("c", "age", "age", false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	pad := strings.Repeat("x", 300)
	docs := make([]*document.Document, 2000)
	for i := range docs {
		docs[i] = person(i, pad, i%50)
	}
	if _, err := e.InsertMany("c", docs); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	if _, err := e.DeleteMany("c", query.GTE("_id", 100)); err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if err := e.SetUserVersion(3); err != nil {
		t.Fatalf("SetUserVersion: %v", err)
	}

	reclaimed, err := e.Rebuild(RebuildOptions{})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if reclaimed <= 0 {
		t.Errorf("reclaimed = %d, want > 0", reclaimed)
	}
	if _, err := os.Stat(s.BackupPath()); err != nil {
		t.Errorf("backup file: %v", err)
	}
	if n := mustCount(t, e, "c", nil); n != 100 {
		t.Errorf("Count = %d, want 100", n)
	}
	if n := mustCount(t, e, "c", query.EQ("age", 7)); n != 2 {
		t.Errorf("Count(age = 7) = %d, want 2", n)
	}
	if v, err := e.UserVersion(); err != nil || v != 3 {
		t.Errorf("UserVersion = %d, %v, want 3", v, err)
	}
	mustInsert(t, e, "c", person(5000, "after", 1))
}

// TestRebuildCollation tests changing the collation, including a unique
// index the new collation would violate.
func TestRebuildCollation(t *testing.T) {
	e := openMemory(t)
	mustInsert(t, e, "c",
		document.New().Set("_id", 1).Set("name", "Alice"),
		document.New().Set("_id", 2).Set("name", "alice"))
	if _, err := e.EnsureIndex("c", "name", "name", true); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}

	ci := "en-US/IgnoreCase"
	_, err := e.Rebuild(RebuildOptions{Collation: &ci})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Rebuild error = %v, want DuplicateKey", err)
	}
	if n := mustCount(t, e, "c", nil); n != 2 {
		t.Errorf("Count after failed rebuild = %d, want 2", n)
	}

	if _, err := e.DropIndex("c", "name"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	if _, err := e.Rebuild(RebuildOptions{Collation: &ci}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	p, err := e.Pragmas()
	if err != nil {
		t.Fatalf("Pragmas: %v", err)
	}
	if p.Collation != ci {
		t.Errorf("Collation = %q, want %q", p.Collation, ci)
	}
	if _, err := e.EnsureIndex("c", "name", "name", false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if n := mustCount(t, e, "c", query.EQ("name", "ALICE")); n != 2 {
		t.Errorf("Count(name = ALICE) = %d, want 2", n)
	}
}

// TestRebuildPassword tests adding a password with Rebuild.
func TestRebuildPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pw.db")
	e := openPath(t, testSettings(path))
	mustInsert(t, e, "c", person(1, "a", 1))

	pw := "s3cret"
	if _, err := e.Rebuild(RebuildOptions{Password: &pw}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n := mustCount(t, e, "c", nil); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := Open(testSettings(path)); !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("Open without password error = %v, want %v", err, ErrPasswordRequired)
	}
	e = openPath(t, testSettings(path).WithPassword(pw))
	defer e.Close()
	if n := mustCount(t, e, "c", nil); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

// TestSalvage tests that a page scan rebuild keeps readable documents and
// records the damage.
func TestSalvage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "damaged.db")
	s := testSettings(path)
	e := openPath(t, s)
	if _, err := e.EnsureIndex("c", "age", "age", false); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	docs := make([]*document.Document, 500)
	for i := range docs {
		docs[i] = person(i, strings.Repeat("n", 100), i%7)
	}
	if _, err := e.InsertMany("c", docs); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	e.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	damaged := false
	for off := s.PageSize; off+s.PageSize <= len(raw); off += s.PageSize {
		pg := raw[off : off+s.PageSize]
		if storage.PageType(pg[4]) == storage.PageTypeData && pg[8] == 1 {
			pg[s.PageSize/2] ^= 0xFF
			damaged = true
			break
		}
	}
	if !damaged {
		t.Fatal("no data page found")
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	e = openPath(t, s)
	defer e.Close()
	if _, err := e.Rebuild(RebuildOptions{Salvage: true}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	n := mustCount(t, e, "c", nil)
	if n == 0 || n >= 500 {
		t.Errorf("Count = %d, want between 1 and 499", n)
	}
	if got := mustCount(t, e, RebuildErrors, nil); got == 0 {
		t.Errorf("%s is empty", RebuildErrors)
	}
	if info := indexInfo(t, e, "c", "age"); info.Keys != n {
		t.Errorf("age keys = %d, want %d", info.Keys, n)
	}
}

// TestCollections tests collection management.
func TestCollections(t *testing.T) {
	e := openMemory(t)
	for _, name := range []string{"b", "a", "c"} {
		if err := e.CreateCollection(name); err != nil {
			t.Fatalf("CreateCollection(%s): %v", name, err)
		}
	}
	if err := e.CreateCollection("a"); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("CreateCollection(existing) error = %v, want InvalidArgument", err)
	}
	if err := e.RenameCollection("c", "d"); err != nil {
		t.Fatalf("RenameCollection: %v", err)
	}
	if ok, err := e.DropCollection("b"); err != nil || !ok {
		t.Fatalf("DropCollection = %v, %v", ok, err)
	}
	if ok, err := e.DropCollection("b"); err != nil || ok {
		t.Errorf("DropCollection(again) = %v, %v, want false", ok, err)
	}
	names, err := e.ListCollections()
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if got := strings.Join(names, ","); got != "a,d" {
		t.Errorf("ListCollections = %s, want a,d", got)
	}
	if _, err := e.ListIndexes("b"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ListIndexes(dropped) error = %v, want NotFound", err)
	}
}

// TestPragmas tests persisted settings updates.
func TestPragmas(t *testing.T) {
	e := openMemory(t)
	if err := e.SetTimeout(3 * time.Second); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}
	p, err := e.Pragmas()
	if err != nil {
		t.Fatalf("Pragmas: %v", err)
	}
	if p.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", p.Timeout)
	}

	tests := []struct {
		name string
		fn   func(p *storage.Pragmas) error
	}{
		{"collation", func(p *storage.Pragmas) error { p.Collation = "en-US"; return nil }},
		{"timeout", func(p *storage.Pragmas) error { p.Timeout = 0; return nil }},
		{"limit", func(p *storage.Pragmas) error { p.LimitSize = 1; return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.UpdatePragmas(tt.fn); !errors.Is(err, storage.ErrInvalidArgument) {
				t.Errorf("UpdatePragmas error = %v, want InvalidArgument", err)
			}
		})
	}
}

// TestStatsAndMetrics tests the reporting surface.
func TestStatsAndMetrics(t *testing.T) {
	e := openMemory(t)
	mustInsert(t, e, "c", person(1, "a", 1), person(2, "b", 2))

	st, err := e.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(st.Collections) != 1 || st.Collections[0].Documents != 2 {
		t.Fatalf("Collections = %+v, want c with 2 documents", st.Collections)
	}
	if st.Collections[0].DataPages == 0 {
		t.Error("DataPages = 0")
	}

	var buf bytes.Buffer
	e.WriteMetrics(&buf)
	for _, name := range []string{"pagedb_commits_total", "pagedb_log_pages", "pagedb_active_transactions"} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("metrics output lacks %s", name)
		}
	}
}

// TestClosed tests calls after Close.
func TestClosed(t *testing.T) {
	e, err := Open(testSettings(storage.MemoryPath))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := e.Insert("c", person(1, "a", 1)); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Insert after Close error = %v, want %v", err, ErrEngineClosed)
	}
	if _, err := e.Begin(); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Begin after Close error = %v, want %v", err, ErrEngineClosed)
	}
}
