package player

import "sync"

// CancelToken signals a running playback to stop between chunks. One token
// belongs to one session; it is set on barge-in and reset only after the
// player has confirmed it stopped.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
}

// NewCancelToken returns an unset token
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel sets the token. Safe to call repeatedly.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// Cancelled reports whether the token is set
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Reset clears the token for the next playback
func (t *CancelToken) Reset() {
	t.mu.Lock()
	t.cancelled = false
	t.mu.Unlock()
}
