package model

import "time"

// SessionStatus represents the durable session state.
type SessionStatus string

const (
	SessionStatusWaiting  SessionStatus = "waiting"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusFinished SessionStatus = "finished"
)

// Session is the API view of a listening session (not the GORM entity).
type Session struct {
	ID            string        `json:"id"`
	HostName      string        `json:"host_name"`
	MediaURL      string        `json:"media_url"`
	SharedContent string        `json:"shared_content"`
	Status        SessionStatus `json:"status"`
	Participants  []Member      `json:"participants"`
	CreatedAt     time.Time     `json:"created_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
}

// Member is the durable participant view used in API responses.
type Member struct {
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color"`
	JoinedAt    time.Time `json:"joined_at"`
}

// CreateSessionRequest is the request body for POST /sessions.
type CreateSessionRequest struct {
	HostName string `json:"host_name" binding:"required"`
	MediaURL string `json:"media_url" binding:"required"`
}

// CreateSessionResponse is the response for POST /sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
	Status    string `json:"status"`
}

// SessionParticipantsResponse is the response for GET /sessions/:id/participants.
type SessionParticipantsResponse struct {
	SessionID    string   `json:"session_id"`
	Participants []Member `json:"participants"`
}
