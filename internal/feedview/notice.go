package feedview

import (
	"sync"
	"time"
)

// Notice holds the short-lived user-facing message: a rolled back mutation
// or an expired session.
type Notice struct {
	mu      sync.RWMutex
	message string
	expires time.Time
}

// Set stores a message that expires after d.
func (n *Notice) Set(msg string, d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.message = msg
	n.expires = time.Now().Add(d)
}

// Get returns the current message, or empty if expired.
func (n *Notice) Get() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if time.Now().After(n.expires) {
		return ""
	}
	return n.message
}
