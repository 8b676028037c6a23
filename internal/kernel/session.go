package kernel

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-mcp/kernel/internal/protocol"
)

// Session is the per-connection record created on initialize and destroyed
// on close or idle-reclaim.
type Session struct {
	ID              string
	ClientInfo      protocol.Implementation
	ClientCaps      protocol.Capabilities
	ServerInfo      protocol.Implementation
	ServerCaps      protocol.Capabilities
	NegotiatedVer   string
	CreatedAt       time.Time
	lastActivityMu  sync.Mutex
	lastActivity    time.Time

	// consentApproved tracks tools already approved in this session under
	// consent mode Once/PerTool, consulted by the policy interceptor.
	consentMu       sync.Mutex
	consentApproved map[string]struct{}
}

// NewSession creates a session record with a fresh id.
func NewSession(now time.Time) *Session {
	return &Session{
		ID:              uuid.NewString(),
		CreatedAt:       now,
		lastActivity:    now,
		consentApproved: make(map[string]struct{}),
	}
}

// Touch records activity for idle-reclaim bookkeeping.
func (s *Session) Touch(now time.Time) {
	s.lastActivityMu.Lock()
	s.lastActivity = now
	s.lastActivityMu.Unlock()
}

// LastActivity returns the last time Touch was called.
func (s *Session) LastActivity() time.Time {
	s.lastActivityMu.Lock()
	defer s.lastActivityMu.Unlock()
	return s.lastActivity
}

// ConsentApproved reports whether tool was already approved for consent in
// this session.
func (s *Session) ConsentApproved(tool string) bool {
	s.consentMu.Lock()
	defer s.consentMu.Unlock()
	_, ok := s.consentApproved[tool]
	return ok
}

// ApproveConsent records that tool has been approved for the remainder of
// the session (consent mode Once/PerTool).
func (s *Session) ApproveConsent(tool string) {
	s.consentMu.Lock()
	s.consentApproved[tool] = struct{}{}
	s.consentMu.Unlock()
}
