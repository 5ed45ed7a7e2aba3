// Package storage provides the core storage engine components for PageDB.
package storage

// Pager is the page access a transaction snapshot gives to the data, index
// and allocation services.
//
// Pages returned by ReadPage are shared and must not be modified. To change
// a page, call WritablePage and re-read any pointer obtained before: the
// writable copy replaces the shared one for the rest of the transaction.
type Pager interface {
	// PageSize returns the page size in bytes.
	PageSize() int
	// CollectionID returns the collection the snapshot is bound to.
	CollectionID() uint32
	// ReadPage returns the page as seen by the snapshot.
	ReadPage(id PageID) (*Page, error)
	// WritablePage returns a private copy of the page that is written at
	// commit.
	WritablePage(id PageID) (*Page, error)
	// NewPage allocates a page of type t owned by the snapshot's collection.
	NewPage(t PageType) (*Page, error)
	// FreePage returns a page to the Empty list at commit.
	FreePage(id PageID) error
}
