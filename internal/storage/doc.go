// Package storage provides the core storage engine components for PageDB,
// an embedded single-file transactional document store.
//
// # Overview
//
// This package holds the layers below transactions:
//
//   - Page: fixed-size block with a 32-byte header and an xxhash checksum
//   - SlottedPage: record directory used by Data and Index pages
//   - FileHeader: page 0, with the empty-page list, catalog root and pragmas
//   - DiskService: page I/O over a data Stream and a log Stream, with
//     optional AES-XTS encryption
//   - WAL: append-only runs of page images, one run per committed transaction
//   - LogIndex: (page, version) to log frame, plus the live read versions
//   - MemoryCache: pinned immutable page images with an LRU clean tier
//   - PageStore: versioned reads, commit, checkpoint and recovery
//
// # Versioned Reads
//
// Every commit publishes a new version. A reader registered at version V
// sees, for each page, the newest log frame with a version at or below V, or
// the data area when there is none:
//
//	v := store.Index.Acquire()
//	defer store.Index.Release(v)
//
//	cp, err := store.Read(pageID, v)
//	if err != nil {
//	    return err
//	}
//	defer store.Cache.Release(cp)
//
// # Checkpoint
//
// Checkpoint merges log frames into the data area up to the oldest live
// reader, so it can run while older snapshots are still open. The log is
// truncated once nothing in it is indexed.
//
// # Errors
//
// Failures are returned as *Error values carrying an ErrorCode. Use
// errors.Is with the sentinel errors to classify them:
//
//	if errors.Is(err, storage.ErrLockTimeout) {
//	    // retry
//	}
package storage
