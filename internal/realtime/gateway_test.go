package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/call"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/platform/auth"
)

const testSecret = "test-secret"

// fakeConn satisfies Conn without a network. Tests drive dispatch directly
// and read outbound frames straight from the client's send channel.
type fakeConn struct{}

func (fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, context.Canceled }
func (fakeConn) WriteMessage(int, []byte) error    { return nil }
func (fakeConn) Close() error                      { return nil }

type stubUsers struct {
	users map[uuid.UUID]*identity.User
}

func (s *stubUsers) GetUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

type stubChats struct {
	members map[uuid.UUID]map[uuid.UUID]bool
}

func (s *stubChats) IsMember(_ context.Context, chatID, userID uuid.UUID) (bool, error) {
	return s.members[chatID][userID], nil
}

type stubCalls struct {
	records map[uuid.UUID]*call.Record
}

func (s *stubCalls) get(id uuid.UUID) (*call.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, call.ErrCallNotFound
	}
	return rec, nil
}

func (s *stubCalls) Get(_ context.Context, id uuid.UUID) (*call.Record, error) {
	return s.get(id)
}

func (s *stubCalls) transition(id, actorID uuid.UUID, status string) (*call.Record, error) {
	rec, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if actorID != rec.CallerID && actorID != rec.ReceiverID {
		return nil, call.ErrNotParticipant
	}
	if call.Terminal(rec.CallStatus) {
		return nil, call.ErrAlreadyTerminal
	}
	rec.CallStatus = status
	return rec, nil
}

func (s *stubCalls) Accept(_ context.Context, id, actorID uuid.UUID) (*call.Record, error) {
	return s.transition(id, actorID, call.StatusAnswered)
}

func (s *stubCalls) Reject(_ context.Context, id, actorID uuid.UUID) (*call.Record, error) {
	return s.transition(id, actorID, call.StatusRejected)
}

func (s *stubCalls) End(_ context.Context, id, actorID uuid.UUID) (*call.Record, error) {
	rec, err := s.transition(id, actorID, call.StatusEnded)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	dur := int64(now.Sub(rec.StartTime).Seconds())
	rec.EndTime = &now
	rec.Duration = &dur
	return rec, nil
}

type testRig struct {
	gw    *Gateway
	users *stubUsers
	chats *stubChats
	calls *stubCalls
}

func newTestRig() *testRig {
	users := &stubUsers{users: make(map[uuid.UUID]*identity.User)}
	chats := &stubChats{members: make(map[uuid.UUID]map[uuid.UUID]bool)}
	calls := &stubCalls{records: make(map[uuid.UUID]*call.Record)}
	gw := NewGateway(zerolog.Nop(), auth.NewVerifier(testSecret),
		users, chats, calls, NewMemoryDirectory(), NewHub())
	return &testRig{gw: gw, users: users, chats: chats, calls: calls}
}

// connect attaches a fake client and drains the connected frame.
func (r *testRig) connect(t *testing.T, name string) *Client {
	t.Helper()
	userID := uuid.New()
	r.users.users[userID] = &identity.User{ID: userID, DisplayName: name, IsActive: true}
	client := newClient(userID, name, fakeConn{})
	r.gw.attach(client)
	if f := recvFrame(t, client); f.Event != EventConnected {
		t.Fatalf("expected connected frame, got %s", f.Event)
	}
	return client
}

func (r *testRig) addChat(clients ...*Client) uuid.UUID {
	chatID := uuid.New()
	r.chats.members[chatID] = make(map[uuid.UUID]bool)
	for _, c := range clients {
		r.chats.members[chatID][c.UserID] = true
	}
	return chatID
}

func (r *testRig) addCall(caller, receiver *Client, status string) uuid.UUID {
	id := uuid.New()
	r.calls.records[id] = &call.Record{
		ID:         id,
		CallerID:   caller.UserID,
		ReceiverID: receiver.UserID,
		CallType:   call.TypeVoice,
		CallStatus: status,
		StartTime:  time.Now().UTC().Add(-time.Minute),
	}
	return id
}

func send(t *testing.T, rig *testRig, client *Client, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	rig.gw.dispatch(client, raw)
}

func recvFrame(t *testing.T, client *Client) Frame {
	t.Helper()
	select {
	case raw := <-client.send:
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return f
	default:
		t.Fatal("expected a frame, send queue is empty")
		return Frame{}
	}
}

func expectNoFrame(t *testing.T, client *Client) {
	t.Helper()
	select {
	case raw := <-client.send:
		t.Fatalf("expected no frame, got %s", raw)
	default:
	}
}

func TestJoinChat_MembershipGate(t *testing.T) {
	rig := newTestRig()
	member := rig.connect(t, "Dr. Adams")
	outsider := rig.connect(t, "Dr. Banks")
	chatID := rig.addChat(member)

	send(t, rig, outsider, EventJoinChat, JoinChat{ChatID: chatID})
	if f := recvFrame(t, outsider); f.Event != EventError {
		t.Fatalf("expected error for non-member join, got %s", f.Event)
	}
	if rig.gw.hub.InRoom(outsider, chatID) {
		t.Error("non-member must not enter the room")
	}

	send(t, rig, member, EventJoinChat, JoinChat{ChatID: chatID})
	expectNoFrame(t, member) // join announcement excludes the joiner
	if !rig.gw.hub.InRoom(member, chatID) {
		t.Error("member should be in the room after join")
	}
}

func TestJoinChat_AnnouncedToOthers(t *testing.T) {
	rig := newTestRig()
	first := rig.connect(t, "Dr. Adams")
	second := rig.connect(t, "Dr. Banks")
	chatID := rig.addChat(first, second)

	send(t, rig, first, EventJoinChat, JoinChat{ChatID: chatID})
	send(t, rig, second, EventJoinChat, JoinChat{ChatID: chatID})

	f := recvFrame(t, first)
	if f.Event != EventUserJoinedChat {
		t.Fatalf("expected user_joined_chat, got %s", f.Event)
	}
	var p UserJoinedChatPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != second.UserID || p.UserName != "Dr. Banks" {
		t.Errorf("announcement should identify the joiner, got %+v", p)
	}
	expectNoFrame(t, second)
}

func TestSendMessage_ReachesWholeRoomIncludingSender(t *testing.T) {
	rig := newTestRig()
	sender := rig.connect(t, "Dr. Adams")
	peer := rig.connect(t, "Dr. Banks")
	bystander := rig.connect(t, "Dr. Chen")
	chatID := rig.addChat(sender, peer)
	otherChat := rig.addChat(bystander)

	rig.gw.hub.Join(sender, chatID)
	rig.gw.hub.Join(peer, chatID)
	rig.gw.hub.Join(bystander, otherChat)

	send(t, rig, sender, EventSendMessage, SendMessage{ChatID: chatID, Message: "rounds at 9"})

	for _, c := range []*Client{sender, peer} {
		f := recvFrame(t, c)
		if f.Event != EventNewMessage {
			t.Fatalf("expected new_message, got %s", f.Event)
		}
		var p NewMessagePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.Message != "rounds at 9" || p.SenderID != sender.UserID {
			t.Errorf("unexpected payload %+v", p)
		}
	}
	expectNoFrame(t, bystander)
}

func TestSendMessage_RevokedMembership(t *testing.T) {
	rig := newTestRig()
	sender := rig.connect(t, "Dr. Adams")
	peer := rig.connect(t, "Dr. Banks")
	chatID := rig.addChat(sender, peer)
	rig.gw.hub.Join(sender, chatID)
	rig.gw.hub.Join(peer, chatID)

	// Removed after joining: the per-send re-check must block delivery.
	delete(rig.chats.members[chatID], sender.UserID)

	send(t, rig, sender, EventSendMessage, SendMessage{ChatID: chatID, Message: "hello"})
	if f := recvFrame(t, sender); f.Event != EventError {
		t.Fatalf("expected error, got %s", f.Event)
	}
	expectNoFrame(t, peer)
}

func TestTyping_ExcludesSender(t *testing.T) {
	rig := newTestRig()
	typist := rig.connect(t, "Dr. Adams")
	peer := rig.connect(t, "Dr. Banks")
	chatID := rig.addChat(typist, peer)
	rig.gw.hub.Join(typist, chatID)
	rig.gw.hub.Join(peer, chatID)

	send(t, rig, typist, EventUserTyping, Typing{ChatID: chatID})

	f := recvFrame(t, peer)
	if f.Event != EventUserTyping {
		t.Fatalf("expected user_typing, got %s", f.Event)
	}
	var p TypingPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if !p.IsTyping || p.UserID != typist.UserID {
		t.Errorf("unexpected payload %+v", p)
	}
	expectNoFrame(t, typist)

	send(t, rig, typist, EventUserStoppedTyping, Typing{ChatID: chatID})
	f = recvFrame(t, peer)
	if f.Event != EventUserStoppedTyping {
		t.Fatalf("expected user_stopped_typing, got %s", f.Event)
	}
}

func TestInitiateCall_OnlineReceiver(t *testing.T) {
	rig := newTestRig()
	caller := rig.connect(t, "Dr. Adams")
	receiver := rig.connect(t, "Dr. Banks")
	callID := rig.addCall(caller, receiver, call.StatusInitiated)

	send(t, rig, caller, EventInitiateCall, InitiateCall{
		ReceiverID: receiver.UserID, CallType: call.TypeVoice, CallID: callID,
	})

	f := recvFrame(t, receiver)
	if f.Event != EventIncomingCall {
		t.Fatalf("expected incoming_call, got %s", f.Event)
	}
	var p IncomingCallPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.CallerName != "Dr. Adams" || p.CallID != callID {
		t.Errorf("unexpected payload %+v", p)
	}
	expectNoFrame(t, caller)

	if rig.calls.records[callID].CallStatus != call.StatusInitiated {
		t.Error("initiation must not touch the persisted status")
	}
}

func TestInitiateCall_OfflineReceiver(t *testing.T) {
	rig := newTestRig()
	caller := rig.connect(t, "Dr. Adams")
	receiver := rig.connect(t, "Dr. Banks")
	callID := rig.addCall(caller, receiver, call.StatusInitiated)

	rig.gw.detach(receiver)
	drain(caller)

	send(t, rig, caller, EventInitiateCall, InitiateCall{
		ReceiverID: receiver.UserID, CallType: call.TypeVoice, CallID: callID,
	})

	f := recvFrame(t, caller)
	if f.Event != EventCallInitiatedOffline {
		t.Fatalf("expected call_initiated_offline, got %s", f.Event)
	}
	var p CallInitiatedOfflinePayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.ReceiverID != receiver.UserID || p.CallID != callID {
		t.Errorf("unexpected payload %+v", p)
	}
	if rig.calls.records[callID].CallStatus != call.StatusInitiated {
		t.Error("offline initiation must not advance the call status")
	}
}

func TestAcceptCall_RelaysToCaller(t *testing.T) {
	rig := newTestRig()
	caller := rig.connect(t, "Dr. Adams")
	receiver := rig.connect(t, "Dr. Banks")
	callID := rig.addCall(caller, receiver, call.StatusRinging)

	send(t, rig, receiver, EventAcceptCall, AcceptCall{CallerID: caller.UserID, CallID: callID})

	f := recvFrame(t, caller)
	if f.Event != EventCallAccepted {
		t.Fatalf("expected call_accepted, got %s", f.Event)
	}
	if rig.calls.records[callID].CallStatus != call.StatusAnswered {
		t.Error("call should be answered")
	}
	expectNoFrame(t, receiver)
}

func TestAcceptCall_RelayTargetComesFromRecord(t *testing.T) {
	rig := newTestRig()
	caller := rig.connect(t, "Dr. Adams")
	receiver := rig.connect(t, "Dr. Banks")
	bystander := rig.connect(t, "Dr. Chen")
	callID := rig.addCall(caller, receiver, call.StatusRinging)

	// A payload naming someone else must not redirect the notification.
	send(t, rig, receiver, EventAcceptCall, AcceptCall{CallerID: bystander.UserID, CallID: callID})

	if f := recvFrame(t, caller); f.Event != EventCallAccepted {
		t.Fatalf("expected call_accepted at the true caller, got %s", f.Event)
	}
	expectNoFrame(t, bystander)

	callID = rig.addCall(caller, receiver, call.StatusRinging)
	send(t, rig, receiver, EventRejectCall, RejectCall{CallerID: bystander.UserID, CallID: callID})

	if f := recvFrame(t, caller); f.Event != EventCallRejected {
		t.Fatalf("expected call_rejected at the true caller, got %s", f.Event)
	}
	expectNoFrame(t, bystander)
}

func TestAcceptCall_TerminalRecordRejected(t *testing.T) {
	rig := newTestRig()
	caller := rig.connect(t, "Dr. Adams")
	receiver := rig.connect(t, "Dr. Banks")
	callID := rig.addCall(caller, receiver, call.StatusRejected)

	send(t, rig, receiver, EventAcceptCall, AcceptCall{CallerID: caller.UserID, CallID: callID})

	if f := recvFrame(t, receiver); f.Event != EventError {
		t.Fatalf("expected error on terminal call, got %s", f.Event)
	}
	expectNoFrame(t, caller)
	if rig.calls.records[callID].CallStatus != call.StatusRejected {
		t.Error("terminal status must not change")
	}
}

func TestAcceptCall_CallerWentOffline(t *testing.T) {
	rig := newTestRig()
	caller := rig.connect(t, "Dr. Adams")
	receiver := rig.connect(t, "Dr. Banks")
	callID := rig.addCall(caller, receiver, call.StatusRinging)

	rig.gw.detach(caller)
	drain(receiver)

	send(t, rig, receiver, EventAcceptCall, AcceptCall{CallerID: caller.UserID, CallID: callID})

	// Status is written first; only then is the dead relay reported.
	if rig.calls.records[callID].CallStatus != call.StatusAnswered {
		t.Error("accept must persist even when the caller is gone")
	}
	if f := recvFrame(t, receiver); f.Event != EventError {
		t.Fatalf("expected error about offline caller, got %s", f.Event)
	}
}

func TestEndCall_PersistsWhenOtherPartyOffline(t *testing.T) {
	rig := newTestRig()
	caller := rig.connect(t, "Dr. Adams")
	receiver := rig.connect(t, "Dr. Banks")
	callID := rig.addCall(caller, receiver, call.StatusAnswered)

	rig.gw.detach(receiver)
	drain(caller)

	send(t, rig, caller, EventEndCall, EndCall{OtherUserID: receiver.UserID, CallID: callID})

	rec := rig.calls.records[callID]
	if rec.CallStatus != call.StatusEnded {
		t.Error("end must persist regardless of relay outcome")
	}
	if rec.EndTime == nil || rec.Duration == nil {
		t.Error("end time and duration must be recorded")
	}
	expectNoFrame(t, caller) // ending party gets no error for lost notification
}

func TestEndCall_NotifiesOtherParty(t *testing.T) {
	rig := newTestRig()
	caller := rig.connect(t, "Dr. Adams")
	receiver := rig.connect(t, "Dr. Banks")
	callID := rig.addCall(caller, receiver, call.StatusAnswered)

	send(t, rig, receiver, EventEndCall, EndCall{OtherUserID: caller.UserID, CallID: callID})

	f := recvFrame(t, caller)
	if f.Event != EventCallEnded {
		t.Fatalf("expected call_ended, got %s", f.Event)
	}
	var p CallEndedPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.EndedByID != receiver.UserID {
		t.Errorf("expected ended-by to be the receiver, got %+v", p)
	}
}

func TestCallSignal_RelayedVerbatim(t *testing.T) {
	rig := newTestRig()
	caller := rig.connect(t, "Dr. Adams")
	receiver := rig.connect(t, "Dr. Banks")
	callID := uuid.New()

	signal := json.RawMessage(`{"type":"offer","sdp":"v=0 o=- 42"}`)
	send(t, rig, caller, EventCallSignal, CallSignal{
		ToUserID: receiver.UserID, Signal: signal, CallID: callID,
	})

	f := recvFrame(t, receiver)
	if f.Event != EventCallSignal {
		t.Fatalf("expected call_signal, got %s", f.Event)
	}
	var p CallSignalPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if string(p.Signal) != string(signal) {
		t.Errorf("signal must relay verbatim, got %s", p.Signal)
	}
	if p.FromUserID != caller.UserID {
		t.Errorf("relay must stamp the sender, got %s", p.FromUserID)
	}
}

func TestCallSignal_OfflineTarget(t *testing.T) {
	rig := newTestRig()
	caller := rig.connect(t, "Dr. Adams")

	send(t, rig, caller, EventCallSignal, CallSignal{
		ToUserID: uuid.New(), Signal: json.RawMessage(`{}`), CallID: uuid.New(),
	})

	if f := recvFrame(t, caller); f.Event != EventError {
		t.Fatalf("expected error for offline target, got %s", f.Event)
	}
}

func TestDisconnect_BroadcastsOffline(t *testing.T) {
	rig := newTestRig()
	leaving := rig.connect(t, "Dr. Adams")
	watcher := rig.connect(t, "Dr. Banks")

	rig.gw.detach(leaving)

	f := recvFrame(t, watcher)
	if f.Event != EventUserOffline {
		t.Fatalf("expected user_offline, got %s", f.Event)
	}
	var p UserOfflinePayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != leaving.UserID {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestDisconnect_StaleSessionKeepsNewPresence(t *testing.T) {
	rig := newTestRig()
	old := rig.connect(t, "Dr. Adams")

	// Same user reconnects before the old session's disconnect lands.
	fresh := newClient(old.UserID, old.Name, fakeConn{})
	rig.gw.attach(fresh)
	recvFrame(t, fresh)

	rig.gw.detach(old)

	connID, online, err := rig.gw.presence.Lookup(context.Background(), old.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if !online || connID != fresh.ID {
		t.Error("stale disconnect must not evict the newer session")
	}
}

func TestDispatch_MalformedFrame(t *testing.T) {
	rig := newTestRig()
	client := rig.connect(t, "Dr. Adams")

	rig.gw.dispatch(client, []byte(`{"event":"send_message","data":{"chatId":"nope"}}`))
	if f := recvFrame(t, client); f.Event != EventError {
		t.Fatalf("expected error frame, got %s", f.Event)
	}

	rig.gw.dispatch(client, []byte(`not json`))
	if f := recvFrame(t, client); f.Event != EventError {
		t.Fatalf("expected error frame, got %s", f.Event)
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// -- handshake --

func signTestToken(t *testing.T, subject string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestHandleConnect_Handshake(t *testing.T) {
	rig := newTestRig()
	userID := uuid.New()
	rig.users.users[userID] = &identity.User{ID: userID, DisplayName: "Dr. Adams", IsActive: true}

	e := echo.New()
	e.GET("/ws", rig.gw.HandleConnect)
	srv := httptest.NewServer(e)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	// Missing token is refused before the upgrade.
	if _, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("expected dial to fail without a token")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}

	// Valid token for an unknown user is refused too.
	badURL := wsURL + "?auth=" + signTestToken(t, uuid.New().String())
	if _, resp, err := gorillawebsocket.DefaultDialer.Dial(badURL, nil); err == nil {
		t.Fatal("expected dial to fail for unknown user")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}

	// Valid token for a known user connects and gets the welcome frame.
	goodURL := wsURL + "?auth=" + signTestToken(t, userID.String())
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(goodURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read welcome frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatal(err)
	}
	if f.Event != EventConnected {
		t.Fatalf("expected connected, got %s", f.Event)
	}
	var p ConnectedPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != userID || p.SocketID == "" {
		t.Errorf("unexpected welcome payload %+v", p)
	}
}
