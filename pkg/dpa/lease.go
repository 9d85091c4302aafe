package dpa

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExclusiveLease grants its holder sole access to the coordinator for a
// multi-step sequence (e.g. SmartConnect's bond/enumerate run). While a
// lease is live, Engine.Execute by anyone else fails immediately with
// ErrExclusiveAccessBusy; the holder issues its transactions through the
// lease's own Execute/ExecuteWithRetry, which carry the same contract as
// the engine's.
type ExclusiveLease struct {
	token    uuid.UUID
	engine   *Engine
	mu       sync.Mutex
	released bool
}

// Execute runs one transaction under this lease. A released lease fails
// with ErrLeaseAlreadyReleased.
func (l *ExclusiveLease) Execute(ctx context.Context, request Frame, timeout time.Duration) Result {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return Result{Err: ErrLeaseAlreadyReleased, Outcome: OutcomeAborted}
	}
	return l.engine.executeAs(ctx, request, timeout, l)
}

// ExecuteWithRetry is Engine.ExecuteWithRetry under this lease.
func (l *ExclusiveLease) ExecuteWithRetry(ctx context.Context, request Frame, timeout time.Duration, maxRetries int) Result {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return Result{Err: ErrLeaseAlreadyReleased, Outcome: OutcomeAborted}
	}
	return l.engine.executeWithRetryAs(ctx, request, timeout, maxRetries, l)
}

// Token identifies this lease instance, useful for logging which holder
// is currently blocking other callers.
func (l *ExclusiveLease) Token() uuid.UUID {
	return l.token
}

// Release ends the lease, allowing AcquireExclusive and Execute to proceed
// for other callers. Calling Release more than once returns
// ErrLeaseAlreadyReleased; it is always safe to call from a defer even if
// the caller already released explicitly on a success path.
func (l *ExclusiveLease) Release() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return ErrLeaseAlreadyReleased
	}
	l.released = true
	l.mu.Unlock()

	l.engine.releaseExclusive(l)
	return nil
}
