package syncer

import "sync"

// BindState identifies which backend the coordinator is bound to.
type BindState int

const (
	StateUnbound BindState = iota
	StateConnectingRemote
	StateBoundRemote
	StateBoundLocal // terminal for the session
)

func (s BindState) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateConnectingRemote:
		return "connecting-remote"
	case StateBoundRemote:
		return "bound-remote"
	case StateBoundLocal:
		return "bound-local"
	default:
		return "unknown"
	}
}

// ConnectionState owns the backend-selection state for one coordinator.
// The fallback transition is one-way: once engaged it never flips back
// within a session. Owned per coordinator instance rather than held as a
// package-level singleton so independent coordinators carry independent
// state.
type ConnectionState struct {
	mu       sync.Mutex
	state    BindState
	fallback bool
}

// NewConnectionState starts in the unbound state.
func NewConnectionState() *ConnectionState {
	return &ConnectionState{state: StateUnbound}
}

// State returns the current bind state.
func (c *ConnectionState) State() BindState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FallbackEngaged reports whether the one-way local fallback has fired.
func (c *ConnectionState) FallbackEngaged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback
}

// BeginConnecting moves unbound -> connecting-remote.
func (c *ConnectionState) BeginConnecting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUnbound {
		c.state = StateConnectingRemote
	}
}

// MarkBoundRemote records a successful remote bind. Returns false if the
// fallback already engaged, in which case the remote bind lost the race
// and must not be treated as active.
func (c *ConnectionState) MarkBoundRemote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fallback {
		return false
	}
	c.state = StateBoundRemote
	return true
}

// EngageFallback flips to the local backend. Returns true exactly once;
// concurrent or repeated error callbacks see false and must not run the
// fallback sequence again.
func (c *ConnectionState) EngageFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fallback {
		return false
	}
	c.fallback = true
	c.state = StateBoundLocal
	return true
}
