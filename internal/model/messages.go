package model

import (
	"encoding/json"

	"github.com/junothreadborne/ListenRoom/internal/room"
)

// Inbound action names on the WebSocket channel.
const (
	ActionJoinSession      = "join_session"
	ActionUpdatePlayback   = "update_playback"
	ActionPassToken        = "pass_token"
	ActionReclaimToken     = "reclaim_token"
	ActionUpdateContent    = "update_content"
	ActionRecordingReady   = "recording_ready"
	ActionRecordingStarted = "recording_started"
	ActionRecordingStopped = "recording_stopped"
	ActionRequestSeek      = "request_seek"
	ActionLeaveSession     = "leave_session"
	ActionEndSession       = "end_session"
)

// Outbound event names.
const (
	EventSessionJoined     = "session_joined"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventPlaybackSync      = "playback_sync"
	EventTokenUpdated      = "token_updated"
	EventSeekRequested     = "seek_requested"
	EventRecordingState    = "recording_state"
	EventContentUpdated    = "content_updated"
	EventParticipantTyping = "participant_typing"
	EventSessionEnded      = "session_ended"
	EventError             = "error"
)

// Error codes carried by the error event.
const (
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeNotFound         = "not_found"
	ErrCodeNotAParticipant  = "not_a_participant"
	ErrCodeSessionFull      = "session_full"
	ErrCodeInvalidPayload   = "invalid_payload"
)

// Envelope documents the inbound wire frame, {"action": ..., "data": {...}},
// and is how clients and tests build frames. The dispatcher itself pulls the
// two fields out of the raw bytes with gjson rather than decoding the whole
// frame.
type Envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Event is the wire frame for outbound notifications.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Inbound payloads.

type JoinSessionData struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name"`
}

type UpdatePlaybackData struct {
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
}

type PassTokenData struct {
	To string `json:"to"`
}

type UpdateContentData struct {
	Content string `json:"content"`
}

type RequestSeekData struct {
	Position float64 `json:"position"`
}

// Outbound payloads.

// SessionJoinedData is the full snapshot delivered to the joiner only.
type SessionJoinedData struct {
	ConnectionID    string             `json:"connection_id"`
	SessionID       string             `json:"session_id"`
	MediaURL        string             `json:"media_url"`
	Playback        room.Playback      `json:"playback"`
	TokenHolderID   string             `json:"token_holder_id"`
	TokenHolderName string             `json:"token_holder_name"`
	Participants    []room.Participant `json:"participants"`
	SharedContent   string             `json:"shared_content"`
}

// ParticipantJoinedData is the lightweight notice sent to everyone else.
type ParticipantJoinedData struct {
	ConnectionID string `json:"connection_id"`
	DisplayName  string `json:"display_name"`
	Color        string `json:"color"`
	IsHost       bool   `json:"is_host"`
}

type ParticipantLeftData struct {
	ConnectionID string `json:"connection_id"`
	DisplayName  string `json:"display_name"`
}

type TokenUpdatedData struct {
	HolderID   string `json:"holder_id"`
	HolderName string `json:"holder_name"`
}

type SeekRequestedData struct {
	FromName string  `json:"from_name"`
	Position float64 `json:"position"`
}

type RecordingStateData struct {
	ConnectionID string `json:"connection_id"`
	IsRecording  bool   `json:"is_recording"`
}

type ContentUpdatedData struct {
	Content string `json:"content"`
	FromID  string `json:"from_id"`
}

type ParticipantTypingData struct {
	ConnectionID string `json:"connection_id"`
	DisplayName  string `json:"display_name"`
}

type SessionEndedData struct {
	SessionID string `json:"session_id"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
