// Package lock implements the PageDB lock service: exclusive per-collection
// write locks plus an engine-wide shared/exclusive lock, all bounded by a
// timeout. Reads take no locks; they rely on versioned pages.
package lock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/KilimcininKorOglu/pagedb/internal/storage"
)

// Service coordinates writers.
type Service struct {
	timeout     atomic.Int64
	collections *xsync.MapOf[uint32, chan struct{}]
	engine      rwLock
	metrics     *storage.Metrics
}

// NewService creates a lock service with a default timeout.
func NewService(timeout time.Duration, m *storage.Metrics) *Service {
	if m == nil {
		m = storage.NewMetrics()
	}
	s := &Service{
		collections: xsync.NewMapOf[uint32, chan struct{}](),
		engine:      rwLock{changed: make(chan struct{})},
		metrics:     m,
	}
	s.timeout.Store(int64(timeout))
	return s
}

// Timeout returns the default acquisition timeout.
func (s *Service) Timeout() time.Duration {
	return time.Duration(s.timeout.Load())
}

// SetTimeout changes the default acquisition timeout.
func (s *Service) SetTimeout(d time.Duration) {
	s.timeout.Store(int64(d))
}

func (s *Service) timedOut(op string, err error) error {
	s.metrics.LockTimeouts.Inc()
	return &storage.Error{Code: storage.CodeLockTimeout, Op: op, Err: err}
}

// TryAcquireWrite takes the write lock of a collection, waiting at most
// timeout (the service default when zero).
func (s *Service) TryAcquireWrite(collectionID uint32, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.Timeout()
	}
	sem, _ := s.collections.LoadOrCompute(collectionID, func() chan struct{} {
		return make(chan struct{}, 1)
	})

	select {
	case sem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case sem <- struct{}{}:
		return nil
	case <-timer.C:
		return s.timedOut("acquire write lock",
			fmt.Errorf("collection %d still locked after %s", collectionID, timeout))
	}
}

// ReleaseWrite releases a collection write lock.
func (s *Service) ReleaseWrite(collectionID uint32) {
	sem, ok := s.collections.Load(collectionID)
	if !ok {
		return
	}
	select {
	case <-sem:
	default:
	}
}

// IsWriteLocked reports whether a collection is currently write-locked.
func (s *Service) IsWriteLocked(collectionID uint32) bool {
	sem, ok := s.collections.Load(collectionID)
	return ok && len(sem) == 1
}

// EnterTransaction takes the engine lock in shared mode. Every transaction
// holds it for its lifetime.
func (s *Service) EnterTransaction() error {
	if err := s.engine.lock(false, s.Timeout()); err != nil {
		return s.timedOut("enter transaction", err)
	}
	return nil
}

// ExitTransaction releases EnterTransaction.
func (s *Service) ExitTransaction() {
	s.engine.unlock(false)
}

// EnterExclusive waits for all transactions to finish and blocks new ones.
func (s *Service) EnterExclusive() error {
	if err := s.engine.lock(true, s.Timeout()); err != nil {
		return s.timedOut("enter exclusive", err)
	}
	return nil
}

// ExitExclusive releases EnterExclusive.
func (s *Service) ExitExclusive() {
	s.engine.unlock(true)
}

// rwLock is a reader/writer lock with timed acquisition. Waiters sleep on a
// channel that is closed and replaced on every release. A waiting writer
// keeps new readers out.
type rwLock struct {
	mu            sync.Mutex
	readers       int
	writer        bool
	writerWaiting int
	changed       chan struct{}
}

func (l *rwLock) lock(exclusive bool, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	l.mu.Lock()
	if exclusive {
		l.writerWaiting++
	}
	for {
		if exclusive && !l.writer && l.readers == 0 {
			l.writerWaiting--
			l.writer = true
			l.mu.Unlock()
			return nil
		}
		if !exclusive && !l.writer && l.writerWaiting == 0 {
			l.readers++
			l.mu.Unlock()
			return nil
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
			l.mu.Lock()
		case <-timer.C:
			l.mu.Lock()
			if exclusive {
				l.writerWaiting--
				l.notifyLocked()
			}
			l.mu.Unlock()
			return fmt.Errorf("engine lock not acquired after %s", timeout)
		}
	}
}

func (l *rwLock) unlock(exclusive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exclusive {
		l.writer = false
	} else if l.readers > 0 {
		l.readers--
	}
	l.notifyLocked()
}

func (l *rwLock) notifyLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}
