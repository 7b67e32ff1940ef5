package types

import (
	"context"
	"sync/atomic"
)

// CancellationToken is a run-wide cancellation flag. Cancel sets it once; it is never cleared.
// The runner only observes it between tests.
type CancellationToken struct {
	cancelled atomic.Bool
}

// NewCancellationToken creates an unset token
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// Cancel marks the run as cancelled
func (t *CancellationToken) Cancel() {
	t.cancelled.Store(true)
}

// IsCancelled reports whether Cancel has been called. A nil token is never cancelled.
func (t *CancellationToken) IsCancelled() bool {
	return t != nil && t.cancelled.Load()
}

// CancelOnDone cancels the token once ctx is done. The returned function detaches the token from ctx.
func (t *CancellationToken) CancelOnDone(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, t.Cancel)
}
