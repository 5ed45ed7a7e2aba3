package engine

import (
	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/tx"
)

// Tx is an explicit transaction. It reads every collection as of Begin and
// sees its own changes. Collections it writes are read at the latest
// committed version once their write lock is held. A Tx is not safe for
// concurrent use.
type Tx struct {
	c *core
	t *tx.Transaction
}

// Begin starts a transaction. Commit or Rollback must be called to release
// it.
func (e *Engine) Begin() (*Tx, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, err := e.acquire("begin")
	if err != nil {
		return nil, err
	}
	t, err := c.txm.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{c: c, t: t}, nil
}

// run executes fn in a transaction of its own, committing when fn succeeds.
func (e *Engine) run(op string, fn func(x *Tx) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, err := e.acquire(op)
	if err != nil {
		return err
	}
	return c.run(fn)
}

func (c *core) run(fn func(x *Tx) error) error {
	t, err := c.txm.Begin()
	if err != nil {
		return err
	}
	x := &Tx{c: c, t: t}
	defer x.Rollback()
	if err := fn(x); err != nil {
		return err
	}
	return x.Commit()
}

// ID returns the transaction id.
func (x *Tx) ID() uint32 {
	return x.t.ID()
}

// Commit makes the transaction's changes durable and visible to
// transactions started afterwards.
func (x *Tx) Commit() error {
	return x.c.catalog.Commit(x.t)
}

// Rollback discards the transaction's changes. It does nothing after
// Commit or Rollback.
func (x *Tx) Rollback() error {
	return x.t.Rollback()
}

// abort rolls the transaction back after a statement failed half way and
// returns err. Later calls fail with an inactive transaction error.
func (x *Tx) abort(err error) error {
	if rerr := x.t.Rollback(); rerr != nil {
		x.c.log.Warn("rollback after failed statement", "tx", x.t.ID(), "error", rerr)
	}
	return err
}

// mutating reports whether err may have come after a statement started
// changing pages.
func mutating(err error) bool {
	switch storage.CodeOf(err) {
	case storage.CodeInvalidArgument, storage.CodeNotFound, storage.CodeLockTimeout, storage.CodeNotSupported:
		return false
	}
	return true
}
