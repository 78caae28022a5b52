package lock

import (
	"context"
	"sync"

	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/metrics"
)

// Mode identifies one of the three acquisition modes spec.md §4.2 defines
// for the SHM and per-module RW locks.
type Mode string

const (
	Read            Mode = "read"
	ReadUpgradeable Mode = "read_upgradeable"
	Write           Mode = "write"
)

// RWLock is a single RW lock instance: any number of Read holders, at most
// one ReadUpgradeable holder (which may later Upgrade to Write without
// releasing its read slot first), or a single Write holder to the
// exclusion of everyone else.
type RWLock struct {
	mu   sync.Mutex
	cond *sync.Cond

	readers     int
	upgradeable bool
	writer      bool
}

// New returns a ready-to-use lock.
func New() *RWLock {
	l := &RWLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until mode can be granted or ctx's deadline passes,
// whichever comes first. A ctx with no deadline waits indefinitely.
func (l *RWLock) Acquire(ctx context.Context, mode Mode) error {
	timer := metrics.NewTimer()
	err := l.acquire(ctx, mode)
	timer.ObserveDurationVec(metrics.LockWaitSeconds, string(mode))
	if err != nil {
		metrics.LockTimeoutsTotal.Inc()
	}
	return err
}

func (l *RWLock) acquire(ctx context.Context, mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ready := func() bool {
		switch mode {
		case Read:
			return !l.writer
		case ReadUpgradeable:
			return !l.writer && !l.upgradeable
		case Write:
			return !l.writer && l.readers == 0 && !l.upgradeable
		default:
			return false
		}
	}

	if err := l.waitLocked(ctx, ready); err != nil {
		return err
	}

	switch mode {
	case Read:
		l.readers++
	case ReadUpgradeable:
		l.upgradeable = true
		l.readers++
	case Write:
		l.writer = true
	}
	return nil
}

// waitLocked waits on l.cond, with l.mu already held, until ready() is true
// or ctx is done (canceled or past its deadline, if any). A background
// goroutine rebroadcasts when ctx.Done() fires so the cond.Wait loop below
// wakes up to notice it, since sync.Cond has no native context support.
func (l *RWLock) waitLocked(ctx context.Context, ready func() bool) error {
	if ready() {
		return nil
	}
	if ctx.Done() == nil {
		for !ready() {
			l.cond.Wait()
		}
		return nil
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-stop:
		}
	}()
	defer close(stop)

	for !ready() {
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.Timeout, ctx.Err(), "lock: deadline exceeded waiting to acquire lock")
		default:
		}
		l.cond.Wait()
	}
	return nil
}

// Release drops one holder of mode, waking any waiters.
func (l *RWLock) Release(mode Mode) {
	l.mu.Lock()
	switch mode {
	case Read:
		l.readers--
	case ReadUpgradeable:
		l.upgradeable = false
		l.readers--
	case Write:
		l.writer = false
	}
	l.mu.Unlock()
	l.cond.Broadcast()
}

// Upgrade promotes an already-held ReadUpgradeable acquisition to Write,
// blocking until the remaining readers (if any) drain. The caller must
// currently hold ReadUpgradeable; on success it holds Write instead (the
// upgradeable read slot is consumed).
func (l *RWLock) Upgrade(ctx context.Context) error {
	timer := metrics.NewTimer()

	l.mu.Lock()
	defer l.mu.Unlock()

	ready := func() bool { return l.readers == 1 }

	err := l.waitLocked(ctx, ready)
	timer.ObserveDurationVec(metrics.LockWaitSeconds, string(Write))
	if err != nil {
		metrics.LockTimeoutsTotal.Inc()
		return err
	}

	l.upgradeable = false
	l.readers = 0
	l.writer = true
	return nil
}

// Stats reports the lock's current holder counts, used by the
// introspection service.
func (l *RWLock) Stats() (readers int, upgradeable, writer bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers, l.upgradeable, l.writer
}
