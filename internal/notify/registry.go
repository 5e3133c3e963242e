package notify

import (
	"sync"

	"mintify/internal/metrics"
)

// Conn is one live push connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Registry maps user ids to their open push connections. It is process
// local: each notifier instance only reaches the connections it holds.
type Registry struct {
	mu    sync.Mutex
	conns map[string]map[Conn]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[Conn]struct{})}
}

// Add registers a connection under the given user. A user may hold any
// number of simultaneous connections.
func (reg *Registry) Add(userID string, c Conn) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	set, ok := reg.conns[userID]
	if !ok {
		set = make(map[Conn]struct{})
		reg.conns[userID] = set
	}
	set[c] = struct{}{}
	metrics.PushConnections.Inc()
}

// Remove drops a connection, pruning the user entry when it was the last
// one. Removing an unknown connection is a no-op.
func (reg *Registry) Remove(userID string, c Conn) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.remove(userID, c)
}

func (reg *Registry) remove(userID string, c Conn) {
	set, ok := reg.conns[userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(reg.conns, userID)
	}
	metrics.PushConnections.Dec()
}

// Broadcast writes the frame to every open connection of the user and
// returns how many writes succeeded. A connection that fails the write is
// treated as closed and removed. Zero recipients is not an error.
func (reg *Registry) Broadcast(userID string, frame any) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var dead []Conn
	sent := 0
	for c := range reg.conns[userID] {
		if err := c.WriteJSON(frame); err != nil {
			dead = append(dead, c)
			continue
		}
		sent++
		metrics.NotificationsBroadcast.Inc()
	}
	for _, c := range dead {
		reg.remove(userID, c)
		_ = c.Close()
	}
	return sent
}

// Count reports the user's open connections.
func (reg *Registry) Count(userID string) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.conns[userID])
}
