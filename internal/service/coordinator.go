package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/junothreadborne/ListenRoom/internal/errs"
	"github.com/junothreadborne/ListenRoom/internal/metrics"
	"github.com/junothreadborne/ListenRoom/internal/model"
	"github.com/junothreadborne/ListenRoom/internal/room"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Persistence is the durable-store seam. The coordinator reads it at cold
// start and participant add, and writes through it only from detached
// background work; a persistence failure never fails a live action.
type Persistence interface {
	// LoadSession returns the durable record for cold start.
	LoadSession(sessionID string) (*model.Session, error)
	// ParticipantColor returns a previously assigned color for the display
	// name in this session, if any.
	ParticipantColor(sessionID, displayName string) (string, bool)
	// SaveParticipant upserts the durable participant record.
	SaveParticipant(sessionID, displayName, color string) error
	// SaveContent checkpoints the shared document.
	SaveContent(sessionID, content string) error
	// MarkActive flips the durable record to active on first live join.
	MarkActive(sessionID string) error
	// Finish marks the durable record finished.
	Finish(sessionID string) error
}

// ContentForwarder hands shared-content updates to the document-sync service.
type ContentForwarder interface {
	Forward(ctx context.Context, sessionID, content string) error
}

// AssemblyTrigger signals the recording-assembly pipeline that a session
// ended. The coordinator fires it and moves on; it never waits for assembly.
type AssemblyTrigger interface {
	Trigger(ctx context.Context, sessionID string) error
}

type actionHandler func(p *Peer, data []byte)

// Coordinator owns the inbound action dispatch table. Every mutating action is
// checked against the caller's authority before any state change; errors go to
// the caller only, as an error event, and never to the rest of the group.
type Coordinator struct {
	store    *room.Store
	hub      *Hub
	persist  Persistence
	content  ContentForwarder
	assembly AssemblyTrigger
	stats    *metrics.Metrics
	log      *zap.Logger

	handlers map[string]actionHandler

	bgTimeout time.Duration
}

// NewCoordinator wires the dispatch table. content, assembly and stats may be
// nil (disabled collaborators).
func NewCoordinator(store *room.Store, hub *Hub, persist Persistence, content ContentForwarder, assembly AssemblyTrigger, stats *metrics.Metrics, log *zap.Logger) *Coordinator {
	c := &Coordinator{
		store:     store,
		hub:       hub,
		persist:   persist,
		content:   content,
		assembly:  assembly,
		stats:     stats,
		log:       log,
		bgTimeout: 10 * time.Second,
	}
	c.handlers = map[string]actionHandler{
		model.ActionJoinSession:      c.handleJoin,
		model.ActionUpdatePlayback:   c.handleUpdatePlayback,
		model.ActionPassToken:        c.handlePassToken,
		model.ActionReclaimToken:     c.handleReclaimToken,
		model.ActionUpdateContent:    c.handleUpdateContent,
		model.ActionRecordingReady:   func(p *Peer, data []byte) { c.handleRecording(p, nil) },
		model.ActionRecordingStarted: func(p *Peer, data []byte) { c.handleRecording(p, boolPtr(true)) },
		model.ActionRecordingStopped: func(p *Peer, data []byte) { c.handleRecording(p, boolPtr(false)) },
		model.ActionRequestSeek:      c.handleRequestSeek,
		model.ActionLeaveSession:     func(p *Peer, data []byte) { c.Disconnect(p) },
		model.ActionEndSession:       c.handleEndSession,
	}
	return c
}

// HandleMessage dispatches one inbound frame from the peer's read pump.
// Frames for one connection arrive in order; cross-connection ordering is
// linearized per session by the store's critical sections.
func (c *Coordinator) HandleMessage(p *Peer, raw []byte) {
	action := gjson.GetBytes(raw, "action").String()
	h, ok := c.handlers[action]
	if !ok {
		c.sendError(p, model.ErrCodeInvalidPayload, "unknown action")
		return
	}
	if c.stats != nil {
		c.stats.IncAction(action)
	}
	var data []byte
	if d := gjson.GetBytes(raw, "data"); d.Exists() {
		data = []byte(d.Raw)
	}
	h(p, data)
}

// Disconnect runs the leave path for a connection: store removal, hub
// detachment, token failover, departure broadcast. Safe to call for
// connections that never joined and safe to call twice; both are no-ops.
func (c *Coordinator) Disconnect(p *Peer) {
	sessionID, _, ok := c.store.FindParticipant(p.ConnID)
	if !ok {
		return
	}
	removed, remaining, heldToken, ok := c.store.RemoveParticipant(sessionID, p.ConnID)
	if !ok {
		return
	}
	c.hub.Detach(sessionID, p.ConnID)
	if c.stats != nil {
		c.stats.DecParticipants()
	}

	if remaining == 0 {
		c.store.Destroy(sessionID)
		if c.stats != nil {
			c.stats.SetActiveSessions(c.store.Len())
		}
		c.log.Info("last participant left, live state destroyed",
			zap.String("session_id", sessionID))
		return
	}

	// Authority failover before the departure notice: clients must never
	// observe a session with no eligible holder. heldToken comes from the
	// removal's critical section, so a pass_token racing this disconnect
	// cannot leave TokenHolderID pointing at the removed connection.
	if heldToken {
		if cand, ok := c.store.FailoverCandidate(sessionID, p.ConnID); ok {
			if holder, err := c.store.TransferToken(sessionID, cand.ConnectionID); err == nil {
				c.hub.Broadcast(sessionID, "", model.Event{
					Event: model.EventTokenUpdated,
					Data:  model.TokenUpdatedData{HolderID: holder.ConnectionID, HolderName: holder.DisplayName},
				})
			} else {
				c.log.Error("token failover failed",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}

	c.hub.Broadcast(sessionID, "", model.Event{
		Event: model.EventParticipantLeft,
		Data:  model.ParticipantLeftData{ConnectionID: removed.ConnectionID, DisplayName: removed.DisplayName},
	})
	c.log.Info("participant left",
		zap.String("session_id", sessionID),
		zap.String("connection_id", p.ConnID))
}

func (c *Coordinator) handleJoin(p *Peer, data []byte) {
	var req model.JoinSessionData
	if err := json.Unmarshal(data, &req); err != nil || req.SessionID == "" || req.DisplayName == "" {
		c.sendError(p, model.ErrCodeInvalidPayload, "join_session requires session_id and display_name")
		return
	}
	if _, _, ok := c.store.FindParticipant(p.ConnID); ok {
		c.sendError(p, model.ErrCodeInvalidPayload, "connection already joined a session")
		return
	}

	var joined room.Participant
	if c.store.Has(req.SessionID) {
		color, _ := c.persist.ParticipantColor(req.SessionID, req.DisplayName)
		var err error
		joined, err = c.store.AddParticipant(req.SessionID, p.ConnID, req.DisplayName, color)
		switch {
		case err == nil:
		case err == errs.ErrTooManyParticipants:
			c.sendError(p, model.ErrCodeSessionFull, err.Error())
			return
		default:
			// Live state vanished between Has and Add; treat as cold start.
			joined, err = c.coldStart(p, req)
			if err != nil {
				return
			}
		}
	} else {
		var err error
		joined, err = c.coldStart(p, req)
		if err != nil {
			return
		}
	}

	c.hub.Attach(req.SessionID, p)
	if c.stats != nil {
		c.stats.IncParticipants()
		c.stats.SetActiveSessions(c.store.Len())
	}

	c.background("save participant", func(ctx context.Context) error {
		return c.persist.SaveParticipant(req.SessionID, joined.DisplayName, joined.Color)
	})

	snap, ok := c.store.Snapshot(req.SessionID)
	if !ok {
		c.sendError(p, model.ErrCodeNotFound, errs.ErrSessionNotFound.Error())
		return
	}
	holderName := ""
	if holder, ok := c.store.TokenHolder(req.SessionID); ok {
		holderName = holder.DisplayName
	}
	c.hub.SendToPeer(p, model.Event{
		Event: model.EventSessionJoined,
		Data: model.SessionJoinedData{
			ConnectionID:    p.ConnID,
			SessionID:       snap.SessionID,
			MediaURL:        snap.MediaURL,
			Playback:        snap.Playback,
			TokenHolderID:   snap.TokenHolderID,
			TokenHolderName: holderName,
			Participants:    snap.Participants,
			SharedContent:   snap.SharedContent,
		},
	})
	c.hub.Broadcast(req.SessionID, p.ConnID, model.Event{
		Event: model.EventParticipantJoined,
		Data: model.ParticipantJoinedData{
			ConnectionID: joined.ConnectionID,
			DisplayName:  joined.DisplayName,
			Color:        joined.Color,
			IsHost:       joined.IsHost,
		},
	})
	c.log.Info("participant joined",
		zap.String("session_id", req.SessionID),
		zap.String("connection_id", p.ConnID),
		zap.String("display_name", req.DisplayName))
}

// coldStart reconstructs live state from the durable record when the first
// connection attaches to a pre-existing session. The first joiner becomes the
// session's host connection for this live run.
func (c *Coordinator) coldStart(p *Peer, req model.JoinSessionData) (room.Participant, error) {
	durable, err := c.persist.LoadSession(req.SessionID)
	if err != nil {
		c.sendError(p, model.ErrCodeNotFound, errs.ErrSessionNotFound.Error())
		return room.Participant{}, err
	}
	if durable.Status == model.SessionStatusFinished {
		c.sendError(p, model.ErrCodeNotFound, errs.ErrSessionFinished.Error())
		return room.Participant{}, errs.ErrSessionFinished
	}
	color, _ := c.persist.ParticipantColor(req.SessionID, req.DisplayName)
	snap, err := c.store.Create(req.SessionID, durable.MediaURL, p.ConnID, req.DisplayName, color)
	if err != nil {
		// Lost the cold-start race: someone else created live state first.
		joined, addErr := c.store.AddParticipant(req.SessionID, p.ConnID, req.DisplayName, color)
		if addErr == nil {
			return joined, nil
		}
		if addErr == errs.ErrTooManyParticipants {
			c.sendError(p, model.ErrCodeSessionFull, addErr.Error())
		} else {
			c.sendError(p, model.ErrCodeNotFound, errs.ErrSessionNotFound.Error())
		}
		return room.Participant{}, addErr
	}
	c.log.Info("cold start: live state seeded from durable record",
		zap.String("session_id", req.SessionID),
		zap.String("host_connection_id", p.ConnID))
	_ = c.store.SetSharedContent(req.SessionID, durable.SharedContent)
	c.background("mark active", func(ctx context.Context) error {
		return c.persist.MarkActive(req.SessionID)
	})
	return snap.Participants[0], nil
}

func (c *Coordinator) handleUpdatePlayback(p *Peer, data []byte) {
	sessionID, _, ok := c.requireParticipant(p)
	if !ok {
		return
	}
	var req model.UpdatePlaybackData
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(p, model.ErrCodeInvalidPayload, "update_playback requires position and playing")
		return
	}
	pb, err := c.store.UpdatePlayback(sessionID, p.ConnID, req.Position, req.Playing)
	switch {
	case err == nil:
	case err == errs.ErrPermissionDenied:
		c.sendError(p, model.ErrCodePermissionDenied, err.Error())
		return
	default:
		c.sendError(p, model.ErrCodeNotFound, err.Error())
		return
	}
	if c.stats != nil {
		c.stats.IncSyncBroadcasts()
	}
	c.hub.Broadcast(sessionID, p.ConnID, model.Event{
		Event: model.EventPlaybackSync,
		Data:  pb,
	})
}

func (c *Coordinator) handlePassToken(p *Peer, data []byte) {
	sessionID, _, ok := c.requireParticipant(p)
	if !ok {
		return
	}
	var req model.PassTokenData
	if err := json.Unmarshal(data, &req); err != nil || req.To == "" {
		c.sendError(p, model.ErrCodeInvalidPayload, "pass_token requires to")
		return
	}
	holder, err := c.store.PassToken(sessionID, p.ConnID, req.To)
	switch {
	case err == nil:
	case err == errs.ErrPermissionDenied:
		c.sendError(p, model.ErrCodePermissionDenied, err.Error())
		return
	default:
		c.sendError(p, model.ErrCodeNotFound, err.Error())
		return
	}
	c.broadcastTokenUpdated(sessionID, holder)
}

func (c *Coordinator) handleReclaimToken(p *Peer, data []byte) {
	sessionID, caller, ok := c.requireParticipant(p)
	if !ok {
		return
	}
	if !caller.IsHost {
		c.sendError(p, model.ErrCodePermissionDenied, errs.ErrPermissionDenied.Error())
		return
	}
	holder, err := c.store.TransferToken(sessionID, p.ConnID)
	if err != nil {
		c.sendError(p, model.ErrCodeNotFound, err.Error())
		return
	}
	c.broadcastTokenUpdated(sessionID, holder)
}

func (c *Coordinator) handleUpdateContent(p *Peer, data []byte) {
	sessionID, caller, ok := c.requireParticipant(p)
	if !ok {
		return
	}
	var req model.UpdateContentData
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(p, model.ErrCodeInvalidPayload, "update_content requires content")
		return
	}
	if err := c.store.SetSharedContent(sessionID, req.Content); err != nil {
		c.sendError(p, model.ErrCodeNotFound, err.Error())
		return
	}
	c.hub.Broadcast(sessionID, p.ConnID, model.Event{
		Event: model.EventContentUpdated,
		Data:  model.ContentUpdatedData{Content: req.Content, FromID: p.ConnID},
	})
	c.hub.Broadcast(sessionID, p.ConnID, model.Event{
		Event: model.EventParticipantTyping,
		Data:  model.ParticipantTypingData{ConnectionID: p.ConnID, DisplayName: caller.DisplayName},
	})
	c.background("checkpoint content", func(ctx context.Context) error {
		return c.persist.SaveContent(sessionID, req.Content)
	})
	if c.content != nil {
		c.background("forward content", func(ctx context.Context) error {
			return c.content.Forward(ctx, sessionID, req.Content)
		})
	}
}

// handleRecording covers the three recording actions. A nil flag means
// "ready": announce the current state without flipping it.
func (c *Coordinator) handleRecording(p *Peer, flag *bool) {
	sessionID, caller, ok := c.requireParticipant(p)
	if !ok {
		return
	}
	isRecording := caller.IsRecording
	if flag != nil {
		updated, err := c.store.SetRecording(sessionID, p.ConnID, *flag)
		if err != nil {
			c.sendError(p, model.ErrCodeNotFound, err.Error())
			return
		}
		isRecording = updated.IsRecording
	}
	c.hub.Broadcast(sessionID, "", model.Event{
		Event: model.EventRecordingState,
		Data:  model.RecordingStateData{ConnectionID: p.ConnID, IsRecording: isRecording},
	})
}

func (c *Coordinator) handleRequestSeek(p *Peer, data []byte) {
	sessionID, caller, ok := c.requireParticipant(p)
	if !ok {
		return
	}
	var req model.RequestSeekData
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(p, model.ErrCodeInvalidPayload, "request_seek requires position")
		return
	}
	holder, ok := c.store.TokenHolder(sessionID)
	if !ok {
		c.sendError(p, model.ErrCodeNotFound, errs.ErrTargetNotFound.Error())
		return
	}
	if holder.ConnectionID == p.ConnID {
		// The holder seeks directly via update_playback.
		c.sendError(p, model.ErrCodePermissionDenied, errs.ErrPermissionDenied.Error())
		return
	}
	if !c.hub.SendTo(sessionID, holder.ConnectionID, model.Event{
		Event: model.EventSeekRequested,
		Data:  model.SeekRequestedData{FromName: caller.DisplayName, Position: req.Position},
	}) {
		c.sendError(p, model.ErrCodeNotFound, errs.ErrTargetNotFound.Error())
	}
}

func (c *Coordinator) handleEndSession(p *Peer, data []byte) {
	sessionID, caller, ok := c.requireParticipant(p)
	if !ok {
		return
	}
	if !caller.IsHost {
		c.sendError(p, model.ErrCodePermissionDenied, errs.ErrPermissionDenied.Error())
		return
	}
	c.hub.Broadcast(sessionID, "", model.Event{
		Event: model.EventSessionEnded,
		Data:  model.SessionEndedData{SessionID: sessionID},
	})
	c.hub.CloseSession(sessionID)
	c.store.Destroy(sessionID)
	if c.stats != nil {
		c.stats.SetActiveSessions(c.store.Len())
	}
	c.background("finish session", func(ctx context.Context) error {
		return c.persist.Finish(sessionID)
	})
	if c.assembly != nil {
		c.background("trigger assembly", func(ctx context.Context) error {
			return c.assembly.Trigger(ctx, sessionID)
		})
	}
	c.log.Info("session ended by host",
		zap.String("session_id", sessionID),
		zap.String("connection_id", p.ConnID))
}

// requireParticipant resolves the caller or fails the action with
// not_a_participant, which takes priority over action-specific checks.
func (c *Coordinator) requireParticipant(p *Peer) (string, room.Participant, bool) {
	sessionID, caller, ok := c.store.FindParticipant(p.ConnID)
	if !ok {
		c.sendError(p, model.ErrCodeNotAParticipant, errs.ErrNotAParticipant.Error())
		return "", room.Participant{}, false
	}
	return sessionID, caller, true
}

func (c *Coordinator) broadcastTokenUpdated(sessionID string, holder room.Participant) {
	c.hub.Broadcast(sessionID, "", model.Event{
		Event: model.EventTokenUpdated,
		Data:  model.TokenUpdatedData{HolderID: holder.ConnectionID, HolderName: holder.DisplayName},
	})
}

func (c *Coordinator) sendError(p *Peer, code, message string) {
	if c.stats != nil {
		c.stats.IncActionErrors()
	}
	c.hub.SendToPeer(p, model.Event{
		Event: model.EventError,
		Data:  model.ErrorData{Code: code, Message: message},
	})
}

// background runs durable/collaborator work detached from the action path.
// Failures are logged, never surfaced to the caller, and never roll back an
// already-broadcast notification.
func (c *Coordinator) background(what string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.bgTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			c.log.Warn("background "+what+" failed", zap.Error(err))
		}
	}()
}

func boolPtr(b bool) *bool { return &b }
