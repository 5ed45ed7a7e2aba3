// Package tx implements transactions for the PageDB storage engine.
//
// # Overview
//
// A Transaction reads through per-collection snapshots and buffers every
// page it changes in a private copy-on-write set. Commit appends the set to
// the log as one run ending with the header page, then publishes it as the
// next committed version:
//
//	t, err := manager.Begin()
//	if err != nil {
//	    return err
//	}
//	defer t.Rollback()
//
//	snap, err := t.Snapshot(collectionID, true)
//	if err != nil {
//	    return err
//	}
//	// read and write pages through snap
//
//	return t.Commit()
//
// # Snapshots
//
// Begin pins the committed version current at that moment and every read
// snapshot of the transaction uses it. A write snapshot first takes the
// collection's write lock and then moves to the latest committed version,
// so a writer always builds on the newest state of the collection it owns.
//
// # States
//
//   - Active: the transaction accepts reads and writes
//   - Committed: changes are durable and visible
//   - RolledBack: changes were discarded
//
// Rollback is idempotent and is safe to defer after Commit. It writes
// nothing to the log.
package tx
