package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/junothreadborne/ListenRoom/internal/errs"
	"github.com/junothreadborne/ListenRoom/internal/model"
	"gorm.io/gorm"
)

// SessionService manages the durable session record. It is consulted at
// session creation, cold start, and participant add; all writes driven by
// live actions happen on background goroutines owned by the coordinator.
type SessionService struct {
	db *gorm.DB
}

// NewSessionService creates a session service.
func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{db: db}
}

// SessionServicer is the REST-facing surface of the durable layer.
type SessionServicer interface {
	Create(hostName, mediaURL string) (*model.Session, error)
	Get(sessionID string) (*model.Session, error)
	GetParticipants(sessionID string) ([]model.Member, error)
	Finish(sessionID string) error
}

var _ SessionServicer = (*SessionService)(nil)
var _ Persistence = (*SessionService)(nil)

// Create creates a new durable session record.
func (s *SessionService) Create(hostName, mediaURL string) (*model.Session, error) {
	ent := &model.ListeningSession{
		ID:       uuid.New().String(),
		HostName: hostName,
		MediaURL: mediaURL,
		Status:   string(model.SessionStatusWaiting),
	}
	if err := s.db.Create(ent).Error; err != nil {
		return nil, err
	}
	return entityToSession(ent), nil
}

// Get returns a session by ID.
func (s *SessionService) Get(sessionID string) (*model.Session, error) {
	var ent model.ListeningSession
	if err := s.db.Preload("Participants").Where("id = ?", sessionID).First(&ent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrSessionNotFound
		}
		return nil, err
	}
	return entityToSession(&ent), nil
}

// GetParticipants returns the durable participant records for a session.
func (s *SessionService) GetParticipants(sessionID string) ([]model.Member, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Participants, nil
}

// LoadSession implements Persistence for cold start.
func (s *SessionService) LoadSession(sessionID string) (*model.Session, error) {
	return s.Get(sessionID)
}

// ParticipantColor returns a previously assigned color for the display name,
// so a reconnecting participant keeps its color across connections.
func (s *SessionService) ParticipantColor(sessionID, displayName string) (string, bool) {
	var ent model.SessionParticipant
	err := s.db.Where("session_id = ? AND display_name = ?", sessionID, displayName).
		First(&ent).Error
	if err != nil {
		return "", false
	}
	return ent.Color, true
}

// SaveParticipant upserts the durable participant record for the display name.
func (s *SessionService) SaveParticipant(sessionID, displayName, color string) error {
	var ent model.SessionParticipant
	err := s.db.Where("session_id = ? AND display_name = ?", sessionID, displayName).
		First(&ent).Error
	if err == nil {
		return s.db.Model(&ent).Update("color", color).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.db.Create(&model.SessionParticipant{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		DisplayName: displayName,
		Color:       color,
		JoinedAt:    time.Now(),
	}).Error
}

// SaveContent checkpoints the shared document on the durable record.
func (s *SessionService) SaveContent(sessionID, content string) error {
	return s.db.Model(&model.ListeningSession{}).
		Where("id = ?", sessionID).
		Update("shared_content", content).Error
}

// MarkActive flips a waiting session to active on its first live join.
func (s *SessionService) MarkActive(sessionID string) error {
	return s.db.Model(&model.ListeningSession{}).
		Where("id = ? AND status = ?", sessionID, string(model.SessionStatusWaiting)).
		Update("status", string(model.SessionStatusActive)).Error
}

// Finish marks the durable record finished.
func (s *SessionService) Finish(sessionID string) error {
	var ent model.ListeningSession
	if err := s.db.Where("id = ?", sessionID).First(&ent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrSessionNotFound
		}
		return err
	}
	now := time.Now()
	return s.db.Model(&ent).Updates(map[string]interface{}{
		"status":      string(model.SessionStatusFinished),
		"finished_at": now,
	}).Error
}

func entityToSession(ent *model.ListeningSession) *model.Session {
	sess := &model.Session{
		ID:            ent.ID,
		HostName:      ent.HostName,
		MediaURL:      ent.MediaURL,
		SharedContent: ent.SharedContent,
		Status:        model.SessionStatus(ent.Status),
		CreatedAt:     ent.CreatedAt,
		FinishedAt:    ent.FinishedAt,
	}
	for _, p := range ent.Participants {
		sess.Participants = append(sess.Participants, model.Member{
			DisplayName: p.DisplayName,
			Color:       p.Color,
			JoinedAt:    p.JoinedAt,
		})
	}
	return sess
}
