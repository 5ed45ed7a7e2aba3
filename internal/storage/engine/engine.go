package engine

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/KilimcininKorOglu/pagedb/internal/crypto"
	"github.com/KilimcininKorOglu/pagedb/internal/logging"
	"github.com/KilimcininKorOglu/pagedb/internal/storage"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/catalog"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/document"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/lock"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/query"
	"github.com/KilimcininKorOglu/pagedb/internal/storage/tx"
)

// Engine errors.
var (
	ErrEngineClosed     = errors.New("engine is closed")
	ErrPasswordRequired = errors.New("file is encrypted and no password was given")
	ErrNotEncrypted     = errors.New("file is not encrypted")
	ErrNoCatalog        = errors.New("file has no catalog")
	ErrInvalidDocument  = errors.New("invalid document")
	ErrInvalidID        = errors.New("invalid _id value")
	ErrCollationChange  = errors.New("collation can only change through Rebuild")
)

// core is one opened file: everything Rebuild replaces.
type core struct {
	settings  storage.Settings
	log       logging.Logger
	store     *storage.PageStore
	locks     *lock.Service
	txm       *tx.Manager
	catalog   *catalog.Catalog
	collation *document.Collation
	runner    *query.Runner
	recovery  *storage.RecoveryReport
	created   bool
}

// Engine is an open PageDB database.
type Engine struct {
	settings storage.Settings
	log      logging.Logger
	metrics  *storage.Metrics

	// mu excludes Rebuild and Close from everything else.
	mu     sync.RWMutex
	core   atomic.Pointer[core]
	closed bool
}

// Open opens or creates the database described by settings.
func Open(settings storage.Settings) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, storage.NewError(storage.CodeInvalidArgument, "open", err)
	}
	e := &Engine{
		settings: settings,
		log:      settings.Logger.WithFields("path", settings.Path),
		metrics:  storage.NewMetrics(),
	}

	c, err := openCore(settings, e.metrics, e.log)
	if err != nil {
		return nil, err
	}
	if err := c.loadCatalog(); err != nil {
		if storage.CodeOf(err) != storage.CodeCorruption || !c.autoRebuild() || settings.ReadOnly {
			c.close()
			return nil, err
		}
		e.log.Warn("catalog unreadable, salvaging", "error", err)
		if c, err = e.rebuild(c, RebuildOptions{Salvage: true}); err != nil {
			return nil, err
		}
	}
	e.core.Store(c)
	e.registerGauges()

	e.log.Info("database opened",
		"created", c.created,
		"page_size", c.store.PageSize(),
		"read_only", settings.ReadOnly,
		"replayed", c.recovery.Replayed)
	return e, nil
}

// openStreams opens the data and log streams named by s.
func openStreams(s storage.Settings) (storage.Stream, storage.Stream, error) {
	if s.InMemory() {
		return storage.NewMemoryStream(), storage.NewMemoryStream(), nil
	}
	data, err := storage.OpenFileStream(s.Path, s.ReadOnly)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, storage.NewError(storage.CodeNotFound, "open", err)
		}
		return nil, nil, storage.NewError(storage.CodeFaulted, "open", err)
	}
	log, err := storage.OpenFileStream(s.LogPath(), s.ReadOnly)
	if err != nil {
		if s.ReadOnly && errors.Is(err, os.ErrNotExist) {
			return data, storage.NewMemoryStream(), nil
		}
		data.Close()
		return nil, nil, storage.NewError(storage.CodeFaulted, "open", err)
	}
	return data, log, nil
}

// openCore opens the file up to, but not including, the catalog.
func openCore(s storage.Settings, m *storage.Metrics, log logging.Logger) (*core, error) {
	data, logStream, err := openStreams(s)
	if err != nil {
		return nil, err
	}
	size, err := data.Size()
	if err != nil {
		data.Close()
		logStream.Close()
		return nil, storage.NewError(storage.CodeFaulted, "open", err)
	}

	var disk *storage.DiskService
	var header *storage.FileHeader
	created := size == 0
	if created {
		disk, header, err = createFile(s, data, logStream)
	} else {
		disk, header, err = openFile(s, data, logStream)
	}
	if err != nil {
		data.Close()
		logStream.Close()
		return nil, err
	}

	store, err := storage.NewPageStore(disk, s.CacheSize, m)
	if err != nil {
		disk.Close()
		return nil, storage.NewError(storage.CodeInvalidArgument, "open", err)
	}
	report, err := store.Recover(s.AutoRebuild || header.Pragmas.AutoRebuild, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	if !created {
		// The newest header may still be in the log.
		hp, err := store.ReadCopy(storage.HeaderPageID, store.Index.Version())
		if err != nil {
			store.Close()
			return nil, err
		}
		if header, err = storage.HeaderFromPage(hp); err != nil {
			store.Close()
			return nil, storage.CorruptPage("open", storage.HeaderPageID, err)
		}
	}

	collation, err := document.ParseCollation(header.Pragmas.Collation)
	if err != nil {
		store.Close()
		return nil, storage.NewError(storage.CodeInvalidArgument, "open", err)
	}
	locks := lock.NewService(header.Pragmas.Timeout, m)
	txm := tx.NewManager(store, locks, header, report.MaxTxID, tx.Config{
		CheckpointSize: int(header.Pragmas.CheckpointSize),
		Logger:         log,
	})
	c := &core{
		settings:  s,
		log:       log,
		store:     store,
		locks:     locks,
		txm:       txm,
		catalog:   catalog.New(txm, header.CatalogPageID, collation, log),
		collation: collation,
		recovery:  report,
		created:   created,
	}
	c.runner = &query.Runner{SortBufferSize: s.SortBufferSize, Temp: c.tempStream}
	return c, nil
}

// createFile writes the header of a new file straight to the data area.
func createFile(s storage.Settings, data, logStream storage.Stream) (*storage.DiskService, *storage.FileHeader, error) {
	if s.ReadOnly {
		return nil, nil, storage.NewError(storage.CodeNotSupported, "create", storage.ErrReadOnly)
	}
	if _, err := document.ParseCollation(s.Collation); err != nil {
		return nil, nil, storage.NewError(storage.CodeInvalidArgument, "create", err)
	}
	h := storage.NewFileHeader(s.PageSize)
	h.Pragmas = storage.Pragmas{
		Collation:      s.Collation,
		Timeout:        s.Timeout,
		LimitSize:      s.LimitSize,
		CheckpointSize: uint32(s.CheckpointSize),
		AutoRebuild:    s.AutoRebuild,
	}

	var cipher *crypto.PageCipher
	if s.Password != "" {
		salt, err := crypto.GenerateSalt()
		if err != nil {
			return nil, nil, storage.NewError(storage.CodeFaulted, "create", err)
		}
		if cipher, err = crypto.NewPageCipher(s.Password, salt); err != nil {
			return nil, nil, storage.NewError(storage.CodeInvalidArgument, "create", err)
		}
		h.Encrypted = true
		copy(h.Salt[:], salt)
		h.KeyCheck = cipher.KeyCheck()
	}

	// A log left behind by a deleted data file belongs to another database.
	if err := logStream.Truncate(0); err != nil {
		return nil, nil, storage.NewError(storage.CodeFaulted, "create", err)
	}
	disk := storage.NewDiskService(data, logStream, s.PageSize, cipher, false)
	hp, err := h.ToPage()
	if err != nil {
		return nil, nil, storage.NewError(storage.CodeInvalidArgument, "create", err)
	}
	if err := disk.WriteDataPages([]*storage.Page{hp}); err != nil {
		return nil, nil, storage.NewError(storage.CodeFaulted, "create", err)
	}
	if s.InitialSize > 0 {
		pages := (s.InitialSize + int64(s.PageSize) - 1) / int64(s.PageSize)
		if pages > 1 {
			if err := disk.TruncateData(pages); err != nil {
				return nil, nil, storage.NewError(storage.CodeFaulted, "create", err)
			}
		}
	}
	if err := disk.SyncData(); err != nil {
		return nil, nil, storage.NewError(storage.CodeFaulted, "create", err)
	}
	return disk, h, nil
}

// openFile reads the data-area header of an existing file and sets up
// decryption.
func openFile(s storage.Settings, data, logStream storage.Stream) (*storage.DiskService, *storage.FileHeader, error) {
	probe := make([]byte, storage.PageHeaderSize+64)
	n, err := data.ReadAt(probe, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, storage.NewError(storage.CodeFaulted, "open", err)
	}
	pageSize, err := storage.ProbePageSize(probe[:n])
	if err != nil {
		return nil, nil, storage.CorruptPage("open", storage.HeaderPageID, err)
	}
	plain := storage.NewDiskService(data, logStream, pageSize, nil, true)
	p, err := plain.ReadPage(storage.OriginData, int64(storage.HeaderPageID))
	if err != nil {
		return nil, nil, err
	}
	h, err := storage.HeaderFromPage(p)
	if err != nil {
		return nil, nil, storage.CorruptPage("open", storage.HeaderPageID, err)
	}

	var cipher *crypto.PageCipher
	switch {
	case h.Encrypted && s.Password == "":
		return nil, nil, storage.NewError(storage.CodeInvalidArgument, "open", ErrPasswordRequired)
	case h.Encrypted:
		if cipher, err = crypto.NewPageCipher(s.Password, h.Salt[:]); err != nil {
			return nil, nil, storage.NewError(storage.CodeInvalidArgument, "open", err)
		}
		if err := cipher.Verify(h.KeyCheck[:]); err != nil {
			return nil, nil, storage.NewError(storage.CodeInvalidArgument, "open", err)
		}
	case s.Password != "":
		return nil, nil, storage.NewError(storage.CodeInvalidArgument, "open", ErrNotEncrypted)
	}
	return storage.NewDiskService(data, logStream, pageSize, cipher, s.ReadOnly), h, nil
}

// loadCatalog bootstraps the catalog of a new file or loads an existing one.
// A file whose first commit never completed has no catalog yet.
func (c *core) loadCatalog() error {
	if c.txm.Header().CatalogPageID == storage.PageID(0) {
		if c.settings.ReadOnly {
			return storage.CorruptPage("open", storage.HeaderPageID, ErrNoCatalog)
		}
		return c.run(func(x *Tx) error { return c.catalog.Bootstrap(x.t) })
	}
	return c.catalog.Load()
}

func (c *core) autoRebuild() bool {
	return c.settings.AutoRebuild || c.txm.Header().Pragmas.AutoRebuild
}

// tempStream creates a spill stream for the sort service next to the data
// file.
func (c *core) tempStream() (storage.Stream, error) {
	if c.settings.InMemory() {
		return storage.NewMemoryStream(), nil
	}
	dir, base := filepath.Split(c.settings.Path)
	f, err := os.CreateTemp(dir, strings.TrimSuffix(base, filepath.Ext(base))+"-sort-*")
	if err != nil {
		return nil, storage.NewError(storage.CodeFaulted, "sort", err)
	}
	name := f.Name()
	f.Close()
	return storage.OpenFileStream(name, false)
}

// close checkpoints and releases the file. Active transactions get the
// lock timeout to finish.
func (c *core) close() error {
	var errs []error
	if err := c.locks.EnterExclusive(); err != nil {
		c.log.Warn("closing with active transactions", "active", c.txm.Active(), "error", err)
	} else {
		defer c.locks.ExitExclusive()
	}
	if !c.settings.ReadOnly && c.txm.Err() == nil {
		if _, err := c.txm.Checkpoint(); err != nil {
			errs = append(errs, err)
		}
	}
	c.collation.Close()
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// acquire returns the open core. Callers hold e.mu for reading.
func (e *Engine) acquire(op string) (*core, error) {
	if e.closed {
		return nil, storage.NewError(storage.CodeNotSupported, op, ErrEngineClosed)
	}
	c := e.core.Load()
	if err := c.txm.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// Settings returns the settings the engine was opened with.
func (e *Engine) Settings() storage.Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// Recovery returns the report of the recovery pass run at open.
func (e *Engine) Recovery() *storage.RecoveryReport {
	return e.core.Load().recovery
}

// Close checkpoints the log into the data file and closes it. It is safe to
// call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.core.Load().close()
	e.log.Info("database closed")
	return err
}
