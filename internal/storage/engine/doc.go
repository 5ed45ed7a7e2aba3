// Package engine is the public surface of PageDB: it opens a database file
// and exposes collections, documents, indexes, transactions and maintenance.
//
// # Overview
//
// An Engine owns one data file and the log file next to it. Every operation
// runs in a transaction; the Engine methods open and commit one of their
// own, while Begin returns a Tx that groups several operations:
//
//   - Collections: CreateCollection, DropCollection, RenameCollection,
//     ListCollections, CollectionExists
//   - Documents: Insert, Update, Upsert, Delete, DeleteMany, FindByID,
//     Find, Count
//   - Indexes: EnsureIndex, DropIndex, ListIndexes
//   - Maintenance: Checkpoint, Rebuild, Pragmas, UserVersion, Stats,
//     WriteMetrics
//
// # Opening a Database
//
//	settings := storage.DefaultSettings("app.db").
//	    WithTimeout(5 * time.Second).
//	    WithCollation("en-US/IgnoreCase")
//
//	db, err := engine.Open(settings)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Use storage.MemoryPath as the path for a database that lives in memory.
//
// # Documents
//
//	doc := document.New().Set("name", "Alice").Set("age", 31)
//	id, err := db.Insert("people", doc)
//
//	db.EnsureIndex("people", "age", "$.age", false)
//	cur, err := db.Find("people", query.Between("age", 30, 40).Desc())
//	if err != nil {
//	    return err
//	}
//	defer cur.Close()
//	for cur.Next() {
//	    fmt.Println(cur.Document())
//	}
//
// Inserting into a collection that does not exist creates it. A document
// without _id gets a time-ordered UUID.
//
// # Transactions
//
//	tx, err := db.Begin()
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	tx.Insert("accounts", from)
//	tx.Update("accounts", to)
//	return tx.Commit()
//
// A transaction reads every collection as of Begin and sees its own
// changes. Writers of one collection are serialized; a writer
// that waits longer than the lock timeout fails with storage.ErrLockTimeout.
//
// # Errors
//
// Every failure is a *storage.Error. Classify it with errors.Is against the
// storage sentinels:
//
//	if errors.Is(err, storage.ErrDuplicateKey) {
//	    ...
//	}
//
// A statement that violates a unique index changes nothing. A disk failure
// during commit faults the engine: every later call returns
// storage.ErrFaulted until the database is reopened.
//
// # Maintenance
//
// Commits go to the log. Once the log holds CheckpointSize pages its
// contents are copied into the data file; Close always does so. Rebuild
// writes a compacted copy, optionally with a new collation or password, and
// keeps the previous file as a backup.
package engine
