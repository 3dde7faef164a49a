package history

import (
	"sync"

	"github.com/adjara-labs/concierge/internal/core"
)

// Store keeps per-session conversation history in process memory. Nothing
// here is durable: a restart loses all sessions, which is the documented
// behavior, not an accident.
//
// The store guards its own map, so GetOrCreate and Reset are safe from any
// goroutine. It does not take per-session locks: callers of Append must be
// serialized per session, which the dispatcher's one-lane-per-session
// discipline provides.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]core.Turn
	maxTurns int
}

// NewStore creates an empty store. maxTurns caps how many turns a session
// may hold; oldest turns are dropped pairwise once the cap is exceeded.
// maxTurns <= 0 means unbounded, the default. Unbounded growth over the
// process lifetime is an accepted limitation.
func NewStore(maxTurns int) *Store {
	return &Store{
		sessions: make(map[string][]core.Turn),
		maxTurns: maxTurns,
	}
}

// GetOrCreate returns a snapshot of the session's history, creating the
// session on first use. The returned slice is a copy; the caller may hold it
// across blocking calls without observing later appends.
func (s *Store) GetOrCreate(sessionID string) []core.Turn {
	s.mu.RLock()
	turns, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		if _, ok := s.sessions[sessionID]; !ok {
			s.sessions[sessionID] = nil
		}
		s.mu.Unlock()
		return nil
	}

	snapshot := make([]core.Turn, len(turns))
	copy(snapshot, turns)
	return snapshot
}

// Append adds turns at the end of the session's history, in the order given.
func (s *Store) Append(sessionID string, turns ...core.Turn) {
	if len(turns) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session := append(s.sessions[sessionID], turns...)
	if s.maxTurns > 0 && len(session) > s.maxTurns {
		drop := len(session) - s.maxTurns
		if drop%2 == 1 {
			// Drop whole exchanges so the history keeps alternating roles.
			drop++
		}
		session = append([]core.Turn(nil), session[drop:]...)
	}
	s.sessions[sessionID] = session
}

// Len returns the number of turns recorded for the session.
func (s *Store) Len(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID])
}

// Reset clears the session's history but keeps the session known.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	s.sessions[sessionID] = nil
	s.mu.Unlock()
}
