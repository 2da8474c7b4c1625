package model

import "time"

// ListeningSession is the durable session record (GORM). The live
// coordination state never blocks on it; it is read at session creation and
// cold start, and written by background checkpoints.
type ListeningSession struct {
	ID            string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	HostName      string     `gorm:"size:120;not null"`
	MediaURL      string     `gorm:"size:2048;not null"`
	SharedContent string     `gorm:"type:text;not null;default:''"`
	Status        string     `gorm:"size:20;not null;default:waiting"` // waiting, active, finished
	CreatedAt     time.Time  `gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`

	Participants []SessionParticipant `gorm:"foreignKey:SessionID"`
}

func (ListeningSession) TableName() string { return "listening_sessions" }

// SessionParticipant is the durable participant record (GORM), keyed by
// display name within a session so a reconnecting participant keeps its color.
type SessionParticipant struct {
	ID          string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionID   string    `gorm:"type:uuid;not null;index"`
	DisplayName string    `gorm:"size:120;not null;index"`
	Color       string    `gorm:"size:16;not null"`
	JoinedAt    time.Time `gorm:"column:joined_at;not null"`
}

func (SessionParticipant) TableName() string { return "session_participants" }
