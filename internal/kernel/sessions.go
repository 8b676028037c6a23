package kernel

import (
	"sync"
	"time"
)

// SessionManager tracks the peers a listener-based server has accepted so
// idle connections can be reclaimed. Reaping closes the peer, which drains
// its pending table and destroys its session; a reaped peer is never
// reused.
type SessionManager struct {
	mu    sync.Mutex
	peers map[*Peer]struct{}
}

// NewSessionManager creates an empty manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{peers: make(map[*Peer]struct{})}
}

// Add starts tracking p.
func (m *SessionManager) Add(p *Peer) {
	m.mu.Lock()
	m.peers[p] = struct{}{}
	m.mu.Unlock()
}

// Remove stops tracking p; a no-op if p was never added.
func (m *SessionManager) Remove(p *Peer) {
	m.mu.Lock()
	delete(m.peers, p)
	m.mu.Unlock()
}

// Count reports how many peers are currently tracked.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// ReapIdle closes and removes every peer whose session has been inactive
// for longer than maxIdle, measured from now. Peers that have not finished
// initializing carry no session and are left alone; ReapIdle never closes
// them. Returns how many peers were reaped.
func (m *SessionManager) ReapIdle(now time.Time, maxIdle time.Duration) int {
	m.mu.Lock()
	var idle []*Peer
	for p := range m.peers {
		sess := p.Session()
		if sess == nil {
			continue
		}
		if now.Sub(sess.LastActivity()) > maxIdle {
			idle = append(idle, p)
			delete(m.peers, p)
		}
	}
	m.mu.Unlock()

	for _, p := range idle {
		_ = p.Close()
	}
	return len(idle)
}
