// Package index implements collection indexes as skip lists stored in
// slotted Index pages.
//
// # Overview
//
// Every index is a skip list with up to MaxLevel levels. Two sentinel nodes
// bound it: the head holds MinValue and the tail holds MaxValue, both at the
// full height. Nodes are ordered by key, then by the address of the document
// they point to, so equal keys of a non-unique index have a stable order and
// a node can be found by key and location together.
//
// A node record is:
//
//	level(1) | data address(6) | prev(6) next(6) per level | key
//
// Links are rewritten in place, so splicing a node never moves its
// neighbours.
//
// # Multi-key values
//
// An index expression that resolves to an array indexes every distinct
// element, one node per element per document. See Definition.Keys.
package index
