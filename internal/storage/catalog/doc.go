// Package catalog keeps the list of collections and their index
// definitions.
//
// The catalog is itself a collection, "$catalog" with id 0, holding one
// document per collection:
//
//	{_id: name, id: collection id, page: Collection page, created: time}
//
// Each collection owns a Collection page that records its allocation map
// and index definitions. An in-memory mirror of every collection is loaded
// at open and rebuilt synchronously by the commit of any transaction that
// changed the catalog, so readers at the latest version never walk the
// catalog pages.
package catalog
