package room

import (
	"sync"

	"github.com/junothreadborne/ListenRoom/internal/errs"
)

// Playback is the session-wide playback triple. SentAt is the server clock in
// milliseconds at the moment of the last authorized update; receivers use it
// to compensate for transport delay.
type Playback struct {
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
	SentAt   int64   `json:"sent_at"`
}

// Participant is one connected client within a live session. HasToken is a
// derived convenience flag for snapshot serialization; Session.TokenHolderID
// is the source of truth.
type Participant struct {
	ConnectionID string `json:"connection_id"`
	DisplayName  string `json:"display_name"`
	Color        string `json:"color"`
	IsHost       bool   `json:"is_host"`
	HasToken     bool   `json:"has_token"`
	IsRecording  bool   `json:"is_recording"`
}

// Session is the live coordination state of one listening room. All fields
// except ID and MediaURL are guarded by mu; callers outside this package go
// through Store operations and never touch a Session directly.
type Session struct {
	ID            string
	MediaURL      string
	HostID        string
	TokenHolderID string
	Playback      Playback
	Participants  map[string]*Participant
	SharedContent string

	mu sync.Mutex
}

// Snapshot is an immutable copy of session state used as a notification
// payload. It never aliases live store memory.
type Snapshot struct {
	SessionID     string        `json:"session_id"`
	MediaURL      string        `json:"media_url"`
	HostID        string        `json:"host_id"`
	TokenHolderID string        `json:"token_holder_id"`
	Playback      Playback      `json:"playback"`
	Participants  []Participant `json:"participants"`
	SharedContent string        `json:"shared_content"`
}

// palette is the fixed set of participant colors. A joiner gets the first
// color not already in use in the session; past 8 participants colors repeat.
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
}

// nextColor picks a color for a new participant. Caller holds s.mu.
func (s *Session) nextColor() string {
	used := make(map[string]bool, len(s.Participants))
	for _, p := range s.Participants {
		used[p.Color] = true
	}
	for _, c := range palette {
		if !used[c] {
			return c
		}
	}
	return palette[len(s.Participants)%len(palette)]
}

// transferLocked moves the token to toConnID, keeping the derived HasToken
// flags in step with TokenHolderID. Caller holds s.mu.
func (s *Session) transferLocked(toConnID string) (Participant, error) {
	target, ok := s.Participants[toConnID]
	if !ok {
		return Participant{}, errs.ErrTargetNotFound
	}
	if prev, ok := s.Participants[s.TokenHolderID]; ok {
		prev.HasToken = false
	}
	target.HasToken = true
	s.TokenHolderID = toConnID
	return *target, nil
}

// snapshotLocked copies the session state. Caller holds s.mu.
func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:     s.ID,
		MediaURL:      s.MediaURL,
		HostID:        s.HostID,
		TokenHolderID: s.TokenHolderID,
		Playback:      s.Playback,
		SharedContent: s.SharedContent,
		Participants:  make([]Participant, 0, len(s.Participants)),
	}
	for _, p := range s.Participants {
		snap.Participants = append(snap.Participants, *p)
	}
	return snap
}
