package booking

import (
	"context"
	"sync"
	"time"

	"github.com/bookline/schedcore/services/scheduling-service/internal/model"
)

// staffLocks serializes mutations per staff calendar inside one process.
// The database exclusion constraint is the cross-process backstop; this
// layer keeps the common case on the cheap path and bounds how long a
// request waits behind a slow competitor.
type staffLocks struct {
	mu      sync.Mutex
	held    map[string]chan struct{}
	maxWait time.Duration
}

func newStaffLocks(maxWait time.Duration) *staffLocks {
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}
	return &staffLocks{
		held:    make(map[string]chan struct{}),
		maxWait: maxWait,
	}
}

// acquire takes the lock for staffID or fails with model.ErrBusy after the
// bounded wait. The returned release must be called exactly once.
func (l *staffLocks) acquire(ctx context.Context, staffID string) (release func(), err error) {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	for {
		l.mu.Lock()
		ch, taken := l.held[staffID]
		if !taken {
			l.held[staffID] = make(chan struct{})
			l.mu.Unlock()
			return func() { l.release(staffID) }, nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
			// Holder released; loop and race for the slot again.
		case <-timer.C:
			return nil, model.ErrBusy
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *staffLocks) release(staffID string) {
	l.mu.Lock()
	ch := l.held[staffID]
	delete(l.held, staffID)
	l.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}
