// Package deploy implements the blue/green deploy pipeline engine: the
// reentrant pipeline lock, the staged orchestrator, the cutover, the
// rollback planner, and the preview/estimation API.
package deploy

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// PipelineLock serializes entire pipeline runs within one process.
// It is reentrant for the owning goroutine, so a nested auto-rollback
// can re-acquire the lock it already holds. Waiters are served in
// strict FIFO order of acquisition.
type PipelineLock struct {
	mu      sync.Mutex
	owner   int64
	depth   int
	handoff bool
	waiters []chan struct{}
}

// NewPipelineLock creates an unlocked pipeline lock.
func NewPipelineLock() *PipelineLock {
	return &PipelineLock{}
}

// Acquire takes the lock, blocking until it is available or ctx is
// done. The owning goroutine may acquire repeatedly; each Acquire must
// be paired with a Release.
func (l *PipelineLock) Acquire(ctx context.Context) error {
	gid := goroutineID()

	l.mu.Lock()
	if l.depth > 0 && l.owner == gid {
		l.depth++
		l.mu.Unlock()
		return nil
	}
	if l.depth == 0 && !l.handoff && len(l.waiters) == 0 {
		l.owner = gid
		l.depth = 1
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		l.mu.Lock()
		l.owner = gid
		l.depth = 1
		l.handoff = false
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// The lock was handed to us while we were giving up;
			// pass it along so the queue keeps moving.
			l.passOnLocked()
		default:
			l.removeWaiterLocked(ready)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Release gives up one hold on the lock. Releasing a lock the calling
// goroutine does not own is a programmer error and panics.
func (l *PipelineLock) Release() {
	gid := goroutineID()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.depth == 0 || l.owner != gid {
		panic(fmt.Errorf("%w: goroutine %d", syerrors.ErrLockNotOwned, gid))
	}

	l.depth--
	if l.depth > 0 {
		return
	}

	l.owner = 0
	l.passOnLocked()
}

// Held reports whether any goroutine currently owns the lock.
func (l *PipelineLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth > 0 || l.handoff
}

// passOnLocked hands the lock to the queue head, or marks it free.
// Callers must hold l.mu.
func (l *PipelineLock) passOnLocked() {
	if len(l.waiters) == 0 {
		l.handoff = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	l.handoff = true
	close(next)
}

// removeWaiterLocked drops a canceled waiter from the queue.
// Callers must hold l.mu.
func (l *PipelineLock) removeWaiterLocked(target chan struct{}) {
	for i, waiter := range l.waiters {
		if waiter == target {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// goroutineID extracts the current goroutine's id from the runtime
// stack header ("goroutine N [running]:"). The runtime offers no
// public accessor; this is the ownership key for reentrance.
func goroutineID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	fields := bytes.Fields(buf)
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
