package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/junothreadborne/ListenRoom/internal/errs"
	"github.com/junothreadborne/ListenRoom/internal/model"
	"github.com/junothreadborne/ListenRoom/internal/room"
	"go.uber.org/zap"
)

// fakePersistence is an in-memory Persistence for coordinator tests.
type fakePersistence struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	colors   map[string]string
	saved    map[string]string
	finished []string
	content  map[string]string
	loads    int
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		sessions: make(map[string]*model.Session),
		colors:   make(map[string]string),
		saved:    make(map[string]string),
		content:  make(map[string]string),
	}
}

func (f *fakePersistence) addDurable(sessionID, mediaURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = &model.Session{
		ID:       sessionID,
		HostName: "host",
		MediaURL: mediaURL,
		Status:   model.SessionStatusWaiting,
	}
}

func (f *fakePersistence) LoadSession(sessionID string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakePersistence) ParticipantColor(sessionID, displayName string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.colors[sessionID+"/"+displayName]
	return c, ok
}

func (f *fakePersistence) SaveParticipant(sessionID, displayName, color string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[sessionID+"/"+displayName] = color
	return nil
}

func (f *fakePersistence) SaveContent(sessionID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[sessionID] = content
	return nil
}

func (f *fakePersistence) MarkActive(sessionID string) error { return nil }

func (f *fakePersistence) Finish(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, sessionID)
	return nil
}

// wireEvent mirrors model.Event with raw data for decoding in assertions.
type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func drain(t *testing.T, p *Peer) []wireEvent {
	t.Helper()
	var out []wireEvent
	for {
		select {
		case raw, ok := <-p.Send:
			if !ok {
				return out
			}
			var ev wireEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Fatalf("bad frame %q: %v", raw, err)
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventNames(evs []wireEvent) []string {
	names := make([]string, len(evs))
	for i, e := range evs {
		names[i] = e.Event
	}
	return names
}

func newTestCoordinator(maxParticipants int) (*Coordinator, *room.Store, *Hub, *fakePersistence) {
	log := zap.NewNop()
	store := room.NewStore(maxParticipants)
	hub := NewHub(1024, 1024, 1<<16, log)
	persist := newFakePersistence()
	c := NewCoordinator(store, hub, persist, nil, nil, nil, log)
	return c, store, hub, persist
}

func frame(t *testing.T, action string, data any) []byte {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = b
	}
	b, err := json.Marshal(model.Envelope{Action: action, Data: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return b
}

func join(t *testing.T, c *Coordinator, p *Peer, sessionID, name string) {
	t.Helper()
	c.HandleMessage(p, frame(t, model.ActionJoinSession, model.JoinSessionData{
		SessionID: sessionID, DisplayName: name,
	}))
}

func TestJoin_ColdStartThenSecondJoin(t *testing.T) {
	c, store, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "https://cdn/ep1.mp3")

	p1 := NewPeer("c1", nil)
	join(t, c, p1, "s1", "ana")

	evs := drain(t, p1)
	if len(evs) != 1 || evs[0].Event != model.EventSessionJoined {
		t.Fatalf("joiner events = %v, want [session_joined]", eventNames(evs))
	}
	var snap model.SessionJoinedData
	if err := json.Unmarshal(evs[0].Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.MediaURL != "https://cdn/ep1.mp3" {
		t.Errorf("media url = %q, want the durable one", snap.MediaURL)
	}
	if snap.TokenHolderID != "c1" || snap.TokenHolderName != "ana" {
		t.Errorf("cold-start host must hold the token: %+v", snap)
	}
	if !store.Has("s1") {
		t.Error("live state must exist after cold start")
	}

	p2 := NewPeer("c2", nil)
	join(t, c, p2, "s1", "bo")

	evs2 := drain(t, p2)
	if len(evs2) != 1 || evs2[0].Event != model.EventSessionJoined {
		t.Fatalf("second joiner events = %v", eventNames(evs2))
	}
	var snap2 model.SessionJoinedData
	_ = json.Unmarshal(evs2[0].Data, &snap2)
	if len(snap2.Participants) != 2 {
		t.Errorf("snapshot participants = %d, want 2", len(snap2.Participants))
	}

	// The first participant sees the lightweight notice, not a snapshot.
	evs1 := drain(t, p1)
	if len(evs1) != 1 || evs1[0].Event != model.EventParticipantJoined {
		t.Fatalf("first participant events = %v, want [participant_joined]", eventNames(evs1))
	}
	var notice model.ParticipantJoinedData
	_ = json.Unmarshal(evs1[0].Data, &notice)
	if notice.ConnectionID != "c2" || notice.DisplayName != "bo" || notice.IsHost {
		t.Errorf("unexpected join notice: %+v", notice)
	}
}

func TestJoin_UnknownSession(t *testing.T) {
	c, _, _, _ := newTestCoordinator(0)
	p := NewPeer("c1", nil)
	join(t, c, p, "ghost", "ana")

	evs := drain(t, p)
	if len(evs) != 1 || evs[0].Event != model.EventError {
		t.Fatalf("events = %v, want [error]", eventNames(evs))
	}
	var e model.ErrorData
	_ = json.Unmarshal(evs[0].Data, &e)
	if e.Code != model.ErrCodeNotFound {
		t.Errorf("code = %q, want not_found", e.Code)
	}
}

func TestJoin_SessionFull(t *testing.T) {
	c, _, _, persist := newTestCoordinator(2)
	persist.addDurable("s1", "u")
	p1, p2, p3 := NewPeer("c1", nil), NewPeer("c2", nil), NewPeer("c3", nil)
	join(t, c, p1, "s1", "a")
	join(t, c, p2, "s1", "b")
	join(t, c, p3, "s1", "c")

	evs := drain(t, p3)
	if len(evs) != 1 || evs[0].Event != model.EventError {
		t.Fatalf("third joiner events = %v, want [error]", eventNames(evs))
	}
	var e model.ErrorData
	_ = json.Unmarshal(evs[0].Data, &e)
	if e.Code != model.ErrCodeSessionFull {
		t.Errorf("code = %q, want session_full", e.Code)
	}
}

func TestJoin_ReconnectKeepsDurableColor(t *testing.T) {
	c, _, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	persist.colors["s1/ana"] = "#abcdef"

	p1 := NewPeer("c1", nil)
	join(t, c, p1, "s1", "host")
	p2 := NewPeer("c2", nil)
	join(t, c, p2, "s1", "ana")

	evs := drain(t, p2)
	var snap model.SessionJoinedData
	_ = json.Unmarshal(evs[0].Data, &snap)
	for _, part := range snap.Participants {
		if part.ConnectionID == "c2" && part.Color != "#abcdef" {
			t.Errorf("reconnecting participant color = %q, want durable #abcdef", part.Color)
		}
	}
}

func TestPassToken_ChainAndStaleHolderDenied(t *testing.T) {
	c, _, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	p1, p2, p3 := NewPeer("c1", nil), NewPeer("c2", nil), NewPeer("c3", nil)
	join(t, c, p1, "s1", "a")
	join(t, c, p2, "s1", "b")
	join(t, c, p3, "s1", "c")
	drain(t, p1)
	drain(t, p2)
	drain(t, p3)

	// Holder passes to c2; everyone sees exactly one token_updated.
	c.HandleMessage(p1, frame(t, model.ActionPassToken, model.PassTokenData{To: "c2"}))
	for _, p := range []*Peer{p1, p2, p3} {
		evs := drain(t, p)
		if len(evs) != 1 || evs[0].Event != model.EventTokenUpdated {
			t.Fatalf("peer %s events = %v, want [token_updated]", p.ConnID, eventNames(evs))
		}
	}

	// New holder can pass again immediately.
	c.HandleMessage(p2, frame(t, model.ActionPassToken, model.PassTokenData{To: "c3"}))
	drain(t, p1)
	drain(t, p2)
	drain(t, p3)

	// The original holder's playback update is denied, caller-only, no mutation.
	c.HandleMessage(p1, frame(t, model.ActionUpdatePlayback, model.UpdatePlaybackData{Position: 99, Playing: true}))
	evs := drain(t, p1)
	if len(evs) != 1 || evs[0].Event != model.EventError {
		t.Fatalf("stale holder events = %v, want [error]", eventNames(evs))
	}
	var e model.ErrorData
	_ = json.Unmarshal(evs[0].Data, &e)
	if e.Code != model.ErrCodePermissionDenied {
		t.Errorf("code = %q, want permission_denied", e.Code)
	}
	if others := append(drain(t, p2), drain(t, p3)...); len(others) != 0 {
		t.Errorf("denied action must not notify others, got %v", eventNames(others))
	}
}

func TestPassToken_UnknownTarget(t *testing.T) {
	c, _, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	p1 := NewPeer("c1", nil)
	join(t, c, p1, "s1", "a")
	drain(t, p1)

	c.HandleMessage(p1, frame(t, model.ActionPassToken, model.PassTokenData{To: "ghost"}))
	evs := drain(t, p1)
	if len(evs) != 1 || evs[0].Event != model.EventError {
		t.Fatalf("events = %v, want [error]", eventNames(evs))
	}
	var e model.ErrorData
	_ = json.Unmarshal(evs[0].Data, &e)
	if e.Code != model.ErrCodeNotFound {
		t.Errorf("code = %q, want not_found", e.Code)
	}
}

func TestReclaimToken_HostOnly(t *testing.T) {
	c, store, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	p1, p2 := NewPeer("c1", nil), NewPeer("c2", nil)
	join(t, c, p1, "s1", "a")
	join(t, c, p2, "s1", "b")
	c.HandleMessage(p1, frame(t, model.ActionPassToken, model.PassTokenData{To: "c2"}))
	drain(t, p1)
	drain(t, p2)

	// Non-host cannot reclaim.
	c.HandleMessage(p2, frame(t, model.ActionReclaimToken, nil))
	// p2 holds the token, so reclaim-to-self via reclaim_token is host-only:
	// c2 is not host, denied.
	evs := drain(t, p2)
	if len(evs) != 1 || evs[0].Event != model.EventError {
		t.Fatalf("non-host reclaim events = %v", eventNames(evs))
	}

	// Host reclaims unconditionally.
	c.HandleMessage(p1, frame(t, model.ActionReclaimToken, nil))
	if holder, ok := store.TokenHolder("s1"); !ok || holder.ConnectionID != "c1" {
		t.Errorf("holder after reclaim = %+v, want c1", holder)
	}
	for _, p := range []*Peer{p1, p2} {
		evs := drain(t, p)
		if len(evs) != 1 || evs[0].Event != model.EventTokenUpdated {
			t.Fatalf("peer %s events = %v, want [token_updated]", p.ConnID, eventNames(evs))
		}
	}
}

func TestUpdatePlayback_BroadcastExcludesSender(t *testing.T) {
	c, store, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	p1, p2 := NewPeer("c1", nil), NewPeer("c2", nil)
	join(t, c, p1, "s1", "a")
	join(t, c, p2, "s1", "b")
	drain(t, p1)
	drain(t, p2)

	store.SetClock(func() int64 { return 42_000 })
	c.HandleMessage(p1, frame(t, model.ActionUpdatePlayback, model.UpdatePlaybackData{Position: 100.0, Playing: true}))

	if evs := drain(t, p1); len(evs) != 0 {
		t.Errorf("sender must not receive its own sync, got %v", eventNames(evs))
	}
	evs := drain(t, p2)
	if len(evs) != 1 || evs[0].Event != model.EventPlaybackSync {
		t.Fatalf("receiver events = %v, want [playback_sync]", eventNames(evs))
	}
	var pb room.Playback
	_ = json.Unmarshal(evs[0].Data, &pb)
	if pb.Position != 100.0 || !pb.Playing || pb.SentAt != 42_000 {
		t.Errorf("triple = %+v, want {100 true 42000}", pb)
	}
}

func TestDisconnect_HolderFailoverOrdering(t *testing.T) {
	c, _, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	host, p2, p3 := NewPeer("c1", nil), NewPeer("c2", nil), NewPeer("c3", nil)
	join(t, c, host, "s1", "ana")
	join(t, c, p2, "s1", "bo")
	join(t, c, p3, "s1", "cy")
	c.HandleMessage(host, frame(t, model.ActionPassToken, model.PassTokenData{To: "c2"}))
	drain(t, host)
	drain(t, p2)
	drain(t, p3)

	c.Disconnect(p2)

	for _, p := range []*Peer{host, p3} {
		evs := drain(t, p)
		names := eventNames(evs)
		if len(names) != 2 || names[0] != model.EventTokenUpdated || names[1] != model.EventParticipantLeft {
			t.Fatalf("peer %s saw %v, want [token_updated participant_left] in order", p.ConnID, names)
		}
		var tok model.TokenUpdatedData
		_ = json.Unmarshal(evs[0].Data, &tok)
		if tok.HolderID != "c1" || tok.HolderName != "ana" {
			t.Errorf("failover must name the host, got %+v", tok)
		}
	}
}

func TestDisconnect_RacingPassTokenKeepsHolderResolvable(t *testing.T) {
	// A transfer to a departing connection may land between the disconnect's
	// reverse lookup and the store removal. Whoever wins, the session must
	// come out with a resolvable holder among the remaining participants.
	for i := 0; i < 300; i++ {
		c, store, _, persist := newTestCoordinator(0)
		persist.addDurable("s1", "u")
		host, victim, other := NewPeer("a-host", nil), NewPeer("b-victim", nil), NewPeer("c-other", nil)
		join(t, c, host, "s1", "ana")
		join(t, c, victim, "s1", "bo")
		join(t, c, other, "s1", "cy")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.PassToken("s1", "a-host", "b-victim")
		}()
		go func() {
			defer wg.Done()
			c.Disconnect(victim)
		}()
		wg.Wait()

		holder, ok := store.TokenHolder("s1")
		if !ok {
			t.Fatalf("iteration %d: no resolvable token holder after disconnect", i)
		}
		if holder.ConnectionID == "b-victim" {
			t.Fatalf("iteration %d: token left on the removed connection", i)
		}
	}
}

func TestDisconnect_LastParticipantDestroysAndColdStartAgain(t *testing.T) {
	c, store, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "https://cdn/a.mp3")
	p1 := NewPeer("c1", nil)
	join(t, c, p1, "s1", "ana")
	drain(t, p1)
	loadsBefore := persist.loads

	c.Disconnect(p1)
	if store.Has("s1") {
		t.Fatal("live state must be destroyed when the last participant leaves")
	}

	// A subsequent join reseeds from the durable record, not stale memory.
	p2 := NewPeer("c2", nil)
	join(t, c, p2, "s1", "ana")
	evs := drain(t, p2)
	if len(evs) != 1 || evs[0].Event != model.EventSessionJoined {
		t.Fatalf("rejoin events = %v", eventNames(evs))
	}
	persist.mu.Lock()
	loadsAfter := persist.loads
	persist.mu.Unlock()
	if loadsAfter <= loadsBefore {
		t.Error("rejoin must hit the durable store (cold start)")
	}
}

func TestDisconnect_NeverJoinedAndDoubleAreNoOps(t *testing.T) {
	c, _, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	p1 := NewPeer("c1", nil)
	join(t, c, p1, "s1", "ana")
	drain(t, p1)

	ghost := NewPeer("ghost", nil)
	c.Disconnect(ghost) // failed mid-handshake: no notifications
	if evs := drain(t, p1); len(evs) != 0 {
		t.Errorf("ghost disconnect must not notify anyone, got %v", eventNames(evs))
	}

	p2 := NewPeer("c2", nil)
	join(t, c, p2, "s1", "bo")
	drain(t, p1)
	drain(t, p2)
	c.Disconnect(p2)
	drain(t, p1)
	c.Disconnect(p2) // second invocation is a no-op
	if evs := drain(t, p1); len(evs) != 0 {
		t.Errorf("double disconnect must not emit again, got %v", eventNames(evs))
	}
}

func TestRequestSeek_ReachesOnlyHolder(t *testing.T) {
	c, _, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	holder, p2, p3 := NewPeer("c1", nil), NewPeer("c2", nil), NewPeer("c3", nil)
	join(t, c, holder, "s1", "ana")
	join(t, c, p2, "s1", "bo")
	join(t, c, p3, "s1", "cy")
	drain(t, holder)
	drain(t, p2)
	drain(t, p3)

	c.HandleMessage(p2, frame(t, model.ActionRequestSeek, model.RequestSeekData{Position: 321.5}))

	evs := drain(t, holder)
	if len(evs) != 1 || evs[0].Event != model.EventSeekRequested {
		t.Fatalf("holder events = %v, want [seek_requested]", eventNames(evs))
	}
	var seek model.SeekRequestedData
	_ = json.Unmarshal(evs[0].Data, &seek)
	if seek.FromName != "bo" || seek.Position != 321.5 {
		t.Errorf("seek payload = %+v", seek)
	}
	if evs := drain(t, p2); len(evs) != 0 {
		t.Errorf("requester must get nothing, got %v", eventNames(evs))
	}
	if evs := drain(t, p3); len(evs) != 0 {
		t.Errorf("bystander must get nothing, got %v", eventNames(evs))
	}

	// The holder itself may not request a seek.
	c.HandleMessage(holder, frame(t, model.ActionRequestSeek, model.RequestSeekData{Position: 1}))
	evs = drain(t, holder)
	if len(evs) != 1 || evs[0].Event != model.EventError {
		t.Fatalf("holder request_seek events = %v, want [error]", eventNames(evs))
	}
}

func TestRecording_FlagAndBroadcast(t *testing.T) {
	c, store, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	p1, p2 := NewPeer("c1", nil), NewPeer("c2", nil)
	join(t, c, p1, "s1", "a")
	join(t, c, p2, "s1", "b")
	drain(t, p1)
	drain(t, p2)

	c.HandleMessage(p2, frame(t, model.ActionRecordingStarted, nil))
	for _, p := range []*Peer{p1, p2} {
		evs := drain(t, p)
		if len(evs) != 1 || evs[0].Event != model.EventRecordingState {
			t.Fatalf("peer %s events = %v, want [recording_state]", p.ConnID, eventNames(evs))
		}
		var rec model.RecordingStateData
		_ = json.Unmarshal(evs[0].Data, &rec)
		if rec.ConnectionID != "c2" || !rec.IsRecording {
			t.Errorf("recording payload = %+v", rec)
		}
	}
	snap, _ := store.Snapshot("s1")
	for _, part := range snap.Participants {
		if part.ConnectionID == "c2" && !part.IsRecording {
			t.Error("recording flag must be set in the store")
		}
	}

	c.HandleMessage(p2, frame(t, model.ActionRecordingStopped, nil))
	drain(t, p1)
	drain(t, p2)
	snap, _ = store.Snapshot("s1")
	for _, part := range snap.Participants {
		if part.ConnectionID == "c2" && part.IsRecording {
			t.Error("recording flag must be cleared")
		}
	}
}

func TestUpdateContent_PairExcludesSenderAndSeedsSnapshots(t *testing.T) {
	c, _, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	p1, p2 := NewPeer("c1", nil), NewPeer("c2", nil)
	join(t, c, p1, "s1", "a")
	join(t, c, p2, "s1", "b")
	drain(t, p1)
	drain(t, p2)

	c.HandleMessage(p1, frame(t, model.ActionUpdateContent, model.UpdateContentData{Content: "show notes v2"}))

	if evs := drain(t, p1); len(evs) != 0 {
		t.Errorf("sender must not receive content events, got %v", eventNames(evs))
	}
	evs := drain(t, p2)
	names := eventNames(evs)
	if len(names) != 2 || names[0] != model.EventContentUpdated || names[1] != model.EventParticipantTyping {
		t.Fatalf("receiver saw %v, want [content_updated participant_typing]", names)
	}

	// A later joiner sees the content in its snapshot.
	p3 := NewPeer("c3", nil)
	join(t, c, p3, "s1", "cy")
	evs3 := drain(t, p3)
	var snap model.SessionJoinedData
	_ = json.Unmarshal(evs3[0].Data, &snap)
	if snap.SharedContent != "show notes v2" {
		t.Errorf("snapshot shared content = %q", snap.SharedContent)
	}

	// Checkpoint lands in the durable store eventually (detached write).
	deadline := time.After(2 * time.Second)
	for {
		persist.mu.Lock()
		got := persist.content["s1"]
		persist.mu.Unlock()
		if got == "show notes v2" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("content checkpoint never persisted")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEndSession_HostOnlyTerminal(t *testing.T) {
	c, store, hub, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	host, p2 := NewPeer("c1", nil), NewPeer("c2", nil)
	join(t, c, host, "s1", "ana")
	join(t, c, p2, "s1", "bo")
	drain(t, host)
	drain(t, p2)

	c.HandleMessage(p2, frame(t, model.ActionEndSession, nil))
	evs := drain(t, p2)
	if len(evs) != 1 || evs[0].Event != model.EventError {
		t.Fatalf("non-host end events = %v, want [error]", eventNames(evs))
	}

	c.HandleMessage(host, frame(t, model.ActionEndSession, nil))
	for _, p := range []*Peer{host, p2} {
		evs := drain(t, p)
		if len(evs) == 0 || evs[0].Event != model.EventSessionEnded {
			t.Fatalf("peer %s saw %v, want session_ended first", p.ConnID, eventNames(evs))
		}
	}
	if store.Has("s1") {
		t.Error("live state must be destroyed on end_session")
	}
	if hub.GroupSize("s1") != 0 {
		t.Error("group must be closed on end_session")
	}

	deadline := time.After(2 * time.Second)
	for {
		persist.mu.Lock()
		n := len(persist.finished)
		persist.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("durable finish never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEndSession_FiresAssemblyTrigger(t *testing.T) {
	log := zap.NewNop()
	store := room.NewStore(0)
	hub := NewHub(1024, 1024, 1<<16, log)
	persist := newFakePersistence()
	persist.addDurable("s1", "u")
	trigger := &recordingTrigger{fired: make(chan string, 1)}
	c := NewCoordinator(store, hub, persist, nil, trigger, nil, log)

	host := NewPeer("c1", nil)
	join(t, c, host, "s1", "ana")
	c.HandleMessage(host, frame(t, model.ActionEndSession, nil))

	select {
	case sid := <-trigger.fired:
		if sid != "s1" {
			t.Errorf("assembly triggered for %q, want s1", sid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("assembly trigger never fired")
	}
}

type recordingTrigger struct {
	fired chan string
}

func (r *recordingTrigger) Trigger(ctx context.Context, sessionID string) error {
	r.fired <- sessionID
	return nil
}

func TestHandleMessage_UnknownActionAndNotAParticipant(t *testing.T) {
	c, _, _, _ := newTestCoordinator(0)
	p := NewPeer("c1", nil)

	c.HandleMessage(p, []byte(`{"action":"warp_time"}`))
	evs := drain(t, p)
	if len(evs) != 1 || evs[0].Event != model.EventError {
		t.Fatalf("unknown action events = %v", eventNames(evs))
	}
	var e model.ErrorData
	_ = json.Unmarshal(evs[0].Data, &e)
	if e.Code != model.ErrCodeInvalidPayload {
		t.Errorf("code = %q, want invalid_payload", e.Code)
	}

	// Any real action before joining fails uniformly.
	for _, action := range []string{
		model.ActionUpdatePlayback, model.ActionPassToken, model.ActionReclaimToken,
		model.ActionUpdateContent, model.ActionRequestSeek, model.ActionEndSession,
	} {
		c.HandleMessage(p, frame(t, action, map[string]any{}))
		evs := drain(t, p)
		if len(evs) != 1 || evs[0].Event != model.EventError {
			t.Fatalf("%s before join: events = %v", action, eventNames(evs))
		}
		var e model.ErrorData
		_ = json.Unmarshal(evs[0].Data, &e)
		if e.Code != model.ErrCodeNotAParticipant {
			t.Errorf("%s before join: code = %q, want not_a_participant", action, e.Code)
		}
	}
}

func TestConcurrentPlaybackUpdates_AllBroadcastNoTorn(t *testing.T) {
	c, store, _, persist := newTestCoordinator(0)
	persist.addDurable("s1", "u")
	holder, watcher := NewPeer("c1", nil), NewPeer("c2", nil)
	join(t, c, holder, "s1", "a")
	join(t, c, watcher, "s1", "b")
	drain(t, holder)
	drain(t, watcher)

	var clock int64
	var clockMu sync.Mutex
	store.SetClock(func() int64 {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock++
		return clock
	})

	const n = 100
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = frame(t, model.ActionUpdatePlayback,
			model.UpdatePlaybackData{Position: float64(i), Playing: true})
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.HandleMessage(holder, frames[i])
		}(i)
	}
	wg.Wait()

	evs := drain(t, watcher)
	if len(evs) != n {
		t.Fatalf("watcher got %d syncs, want %d (no lost update)", len(evs), n)
	}
	seen := make(map[int64]bool)
	for _, ev := range evs {
		if ev.Event != model.EventPlaybackSync {
			t.Fatalf("unexpected event %q", ev.Event)
		}
		var pb room.Playback
		_ = json.Unmarshal(ev.Data, &pb)
		if seen[pb.SentAt] {
			t.Errorf("duplicate sent_at %d: torn or repeated triple", pb.SentAt)
		}
		seen[pb.SentAt] = true
	}
}
