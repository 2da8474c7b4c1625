package room

import (
	"sort"
	"sync"
	"time"

	"github.com/junothreadborne/ListenRoom/internal/errs"
)

// Store is the process-wide registry of live sessions: the single source of
// truth for who is connected, who holds the playback token, and what the
// current playback triple is.
//
// Concurrency: mu guards only the two registry maps. Every Session carries its
// own mutex, so mutations on different sessions proceed independently; all
// cross-field mutations on one session happen inside that session's critical
// section. Lock order is always registry before session. Operations return
// value copies, never pointers into live state, so no caller can hold a
// reference across an I/O boundary.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	conns    map[string]string // connection id -> session id side index

	maxParticipants int
	now             func() int64 // ms since epoch, injectable for tests
}

// NewStore creates an empty store. maxParticipants of 0 means unlimited.
func NewStore(maxParticipants int) *Store {
	return &Store{
		sessions:        make(map[string]*Session),
		conns:           make(map[string]string),
		maxParticipants: maxParticipants,
		now:             func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the playback timestamp source (tests).
func (st *Store) SetClock(now func() int64) { st.now = now }

// Create registers live state for a session with its first participant, the
// host, who starts with the token. Fails if the session is already live.
func (st *Store) Create(sessionID, mediaURL, hostConnID, hostName, hostColor string) (Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[sessionID]; ok {
		return Snapshot{}, errs.ErrSessionExists
	}
	if hostColor == "" {
		hostColor = palette[0]
	}
	s := &Session{
		ID:            sessionID,
		MediaURL:      mediaURL,
		HostID:        hostConnID,
		TokenHolderID: hostConnID,
		Playback:      Playback{SentAt: st.now()},
		Participants: map[string]*Participant{
			hostConnID: {
				ConnectionID: hostConnID,
				DisplayName:  hostName,
				Color:        hostColor,
				IsHost:       true,
				HasToken:     true,
			},
		},
	}
	st.sessions[sessionID] = s
	st.conns[hostConnID] = sessionID
	return s.snapshotLocked(), nil
}

// Has reports whether the session has live state.
func (st *Store) Has(sessionID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.sessions[sessionID]
	return ok
}

// AddParticipant registers a new connection in a live session and returns the
// participant as stored (color filled from the palette when not preassigned).
func (st *Store) AddParticipant(sessionID, connID, displayName, color string) (Participant, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return Participant{}, errs.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.maxParticipants > 0 && len(s.Participants) >= st.maxParticipants {
		return Participant{}, errs.ErrTooManyParticipants
	}
	if color == "" {
		color = s.nextColor()
	}
	p := &Participant{
		ConnectionID: connID,
		DisplayName:  displayName,
		Color:        color,
	}
	s.Participants[connID] = p
	st.conns[connID] = sessionID
	return *p, nil
}

// RemoveParticipant deletes a connection from its session. It returns the
// removed participant, how many remain, and whether the removed connection
// was the token holder. heldToken is decided against TokenHolderID inside the
// critical section, never from a membership snapshot taken earlier, so a
// transfer racing the removal cannot strand the token on a gone connection.
// Removing an unknown connection is a no-op with ok=false, which makes
// disconnect cleanup idempotent.
func (st *Store) RemoveParticipant(sessionID, connID string) (removed Participant, remaining int, heldToken bool, ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, present := st.sessions[sessionID]
	if !present {
		return Participant{}, 0, false, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, present := s.Participants[connID]
	if !present {
		return Participant{}, len(s.Participants), false, false
	}
	heldToken = s.TokenHolderID == connID
	delete(s.Participants, connID)
	delete(st.conns, connID)
	return *p, len(s.Participants), heldToken, true
}

// UpdatePlayback writes the playback triple, stamping SentAt from the store
// clock. Only the current token holder may write: the authority check and the
// write share the session critical section, so a transfer cannot land between
// them. Position, playing flag and timestamp are always updated together.
func (st *Store) UpdatePlayback(sessionID, connID string, position float64, playing bool) (Playback, error) {
	s, ok := st.get(sessionID)
	if !ok {
		return Playback{}, errs.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TokenHolderID != connID {
		return Playback{}, errs.ErrPermissionDenied
	}
	s.Playback = Playback{Position: position, Playing: playing, SentAt: st.now()}
	return s.Playback, nil
}

// PassToken moves the token from fromConnID to another connected participant.
// Fails with ErrPermissionDenied when fromConnID does not hold the token at
// the moment of transfer; check and transfer are one critical section.
func (st *Store) PassToken(sessionID, fromConnID, toConnID string) (Participant, error) {
	s, ok := st.get(sessionID)
	if !ok {
		return Participant{}, errs.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TokenHolderID != fromConnID {
		return Participant{}, errs.ErrPermissionDenied
	}
	return s.transferLocked(toConnID)
}

// TransferToken moves playback authority unconditionally (host reclaim and
// lifecycle failover). The previous holder's HasToken flag is cleared if that
// connection is still present; the whole transfer is atomic under the session
// lock.
func (st *Store) TransferToken(sessionID, toConnID string) (Participant, error) {
	s, ok := st.get(sessionID)
	if !ok {
		return Participant{}, errs.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferLocked(toConnID)
}

// TokenHolder returns the current holder of the session's token.
func (st *Store) TokenHolder(sessionID string) (Participant, bool) {
	s, ok := st.get(sessionID)
	if !ok {
		return Participant{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Participants[s.TokenHolderID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// FailoverCandidate picks who should receive the token after the given
// connection departs: the host if still connected, otherwise the remaining
// participant with the smallest connection id (map order is not
// deterministic). ok=false means the session is empty or gone.
func (st *Store) FailoverCandidate(sessionID, departedConnID string) (Participant, bool) {
	s, ok := st.get(sessionID)
	if !ok {
		return Participant{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if host, ok := s.Participants[s.HostID]; ok && s.HostID != departedConnID {
		return *host, true
	}
	ids := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		if id != departedConnID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Participant{}, false
	}
	sort.Strings(ids)
	return *s.Participants[ids[0]], true
}

// SetRecording flips the participant's recording flag, which is orthogonal to
// playback authority.
func (st *Store) SetRecording(sessionID, connID string, recording bool) (Participant, error) {
	s, ok := st.get(sessionID)
	if !ok {
		return Participant{}, errs.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Participants[connID]
	if !ok {
		return Participant{}, errs.ErrTargetNotFound
	}
	p.IsRecording = recording
	return *p, nil
}

// SetSharedContent replaces the live copy of the shared document used to seed
// join snapshots.
func (st *Store) SetSharedContent(sessionID, content string) error {
	s, ok := st.get(sessionID)
	if !ok {
		return errs.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SharedContent = content
	return nil
}

// FindParticipant is the reverse lookup from a connection id to its session,
// used when a connection drops without announcing which session it was in.
func (st *Store) FindParticipant(connID string) (string, Participant, bool) {
	st.mu.RLock()
	sessionID, ok := st.conns[connID]
	var s *Session
	if ok {
		s, ok = st.sessions[sessionID]
	}
	st.mu.RUnlock()
	if !ok {
		return "", Participant{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Participants[connID]
	if !ok {
		return "", Participant{}, false
	}
	return sessionID, *p, true
}

// Snapshot returns an immutable copy of the full session state.
func (st *Store) Snapshot(sessionID string) (Snapshot, bool) {
	s, ok := st.get(sessionID)
	if !ok {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), true
}

// Destroy removes the session's live state and every index entry pointing at
// it. Destroying an unknown session is a no-op.
func (st *Store) Destroy(sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return
	}
	s.mu.Lock()
	for connID := range s.Participants {
		delete(st.conns, connID)
	}
	// Empty the set so an in-flight reverse lookup holding a stale pointer
	// cannot resolve a participant of a destroyed session.
	s.Participants = make(map[string]*Participant)
	s.mu.Unlock()
	delete(st.sessions, sessionID)
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// ParticipantCount returns the number of participants in a session.
func (st *Store) ParticipantCount(sessionID string) int {
	s, ok := st.get(sessionID)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Participants)
}

func (st *Store) get(sessionID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[sessionID]
	return s, ok
}
