package realtime

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/call"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/metrics"
)

// UserResolver resolves a token subject to an active staff account.
type UserResolver interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// MembershipChecker answers whether a user belongs to a chat.
type MembershipChecker interface {
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
}

// CallService is the slice of the call domain the gateway drives.
type CallService interface {
	Get(ctx context.Context, id uuid.UUID) (*call.Record, error)
	Accept(ctx context.Context, id, actorID uuid.UUID) (*call.Record, error)
	Reject(ctx context.Context, id, actorID uuid.UUID) (*call.Record, error)
	End(ctx context.Context, id, actorID uuid.UUID) (*call.Record, error)
}

// Gateway is the websocket entry point: it authenticates connections,
// maintains the presence directory, fans chat events out to rooms, and
// relays call signaling between the two parties of a call.
type Gateway struct {
	log      zerolog.Logger
	verifier *auth.Verifier
	users    UserResolver
	chats    MembershipChecker
	calls    CallService
	presence Directory
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

func NewGateway(log zerolog.Logger, verifier *auth.Verifier, users UserResolver,
	chats MembershipChecker, calls CallService, presence Directory, hub *Hub) *Gateway {
	return &Gateway{
		log:      log.With().Str("component", "gateway").Logger(),
		verifier: verifier,
		users:    users,
		chats:    chats,
		calls:    calls,
		presence: presence,
		hub:      hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleConnect authenticates and upgrades a websocket connection. Any
// failure before the upgrade is a plain HTTP 401; after the upgrade the
// connection is fully attached before the first frame is read.
func (g *Gateway) HandleConnect(c echo.Context) error {
	r := c.Request()
	ctx := r.Context()

	claims, err := g.verifier.Verify(auth.ExtractToken(r))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication error")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication error")
	}
	user, err := g.users.GetUser(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "user not found")
	}

	ws, err := g.upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		return err
	}

	client := newClient(user.ID, user.DisplayName, ws)
	g.attach(client)
	g.serve(client)
	return nil
}

// attach registers the client everywhere and confirms the connection. The
// presence write is unconditional: a user's newest session always wins.
func (g *Gateway) attach(client *Client) {
	if err := g.presence.Register(context.Background(), client.UserID, client.ID); err != nil {
		g.log.Error().Err(err).Str("user_id", client.UserID.String()).Msg("presence register failed")
	}
	g.hub.Add(client)
	metrics.ConnectionOpened()

	g.sendEvent(client, EventConnected, ConnectedPayload{
		Message:  "connected",
		UserID:   client.UserID,
		SocketID: client.ID,
	})

	g.log.Info().
		Str("user_id", client.UserID.String()).
		Str("conn_id", client.ID).
		Msg("client connected")
}

// serve runs the connection's pumps and cleans up when the read side ends.
func (g *Gateway) serve(client *Client) {
	go client.writePump()
	g.readPump(client)
	g.detach(client)
}

func (g *Gateway) readPump(client *Client) {
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		g.dispatch(client, raw)
	}
}

// dispatch decodes one inbound frame and routes it. A panic in a handler is
// contained to this frame: the sender gets an error event and the
// connection stays up.
func (g *Gateway) dispatch(client *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).
				Str("user_id", client.UserID.String()).
				Msg("event handler panicked")
			g.sendError(client, "internal error")
		}
	}()

	event, payload, err := Decode(raw)
	if err != nil {
		metrics.EventRejected("malformed")
		g.sendError(client, err.Error())
		return
	}
	metrics.EventReceived(event)

	ctx := context.Background()
	switch p := payload.(type) {
	case JoinChat:
		g.handleJoinChat(ctx, client, p)
	case LeaveChat:
		g.hub.Leave(client, p.ChatID)
	case SendMessage:
		g.handleSendMessage(ctx, client, p)
	case Typing:
		g.handleTyping(client, p, event == EventUserTyping)
	case InitiateCall:
		g.handleInitiateCall(ctx, client, p)
	case AcceptCall:
		g.handleAcceptCall(ctx, client, p)
	case RejectCall:
		g.handleRejectCall(ctx, client, p)
	case EndCall:
		g.handleEndCall(ctx, client, p)
	case CallSignal:
		g.handleCallSignal(ctx, client, p)
	}
}

// detach tears the connection down. The presence delete is guarded by the
// connection ID so a slow disconnect never evicts the user's newer session.
func (g *Gateway) detach(client *Client) {
	if err := g.presence.Unregister(context.Background(), client.UserID, client.ID); err != nil {
		g.log.Error().Err(err).Str("user_id", client.UserID.String()).Msg("presence unregister failed")
	}
	g.hub.Remove(client)
	metrics.ConnectionClosed()

	if frame, err := Encode(EventUserOffline, UserOfflinePayload{
		UserID:   client.UserID,
		UserName: client.Name,
	}); err == nil {
		g.hub.BroadcastAll(frame, client)
	}

	g.log.Info().
		Str("user_id", client.UserID.String()).
		Str("conn_id", client.ID).
		Msg("client disconnected")
}

// -- Chat events --

func (g *Gateway) handleJoinChat(ctx context.Context, client *Client, p JoinChat) {
	ok, err := g.chats.IsMember(ctx, p.ChatID, client.UserID)
	if err != nil {
		g.sendError(client, "membership check failed")
		return
	}
	if !ok {
		metrics.EventRejected("not_member")
		g.sendError(client, "you are not a member of this chat")
		return
	}

	g.hub.Join(client, p.ChatID)

	if frame, err := Encode(EventUserJoinedChat, UserJoinedChatPayload{
		ChatID:   p.ChatID,
		UserID:   client.UserID,
		UserName: client.Name,
	}); err == nil {
		g.hub.Broadcast(p.ChatID, frame, client)
	}
}

// handleSendMessage re-checks membership on every send: a user removed from
// the chat after joining the room loses send rights immediately. Delivery
// includes the sender so every member renders the same stream.
func (g *Gateway) handleSendMessage(ctx context.Context, client *Client, p SendMessage) {
	ok, err := g.chats.IsMember(ctx, p.ChatID, client.UserID)
	if err != nil {
		g.sendError(client, "membership check failed")
		return
	}
	if !ok {
		metrics.EventRejected("not_member")
		g.sendError(client, "you are not a member of this chat")
		return
	}

	if frame, err := Encode(EventNewMessage, NewMessagePayload{
		ChatID:     p.ChatID,
		Message:    p.Message,
		SenderID:   client.UserID,
		SenderName: client.Name,
	}); err == nil {
		g.hub.Broadcast(p.ChatID, frame, nil)
	}
}

// handleTyping relays a typing indicator to everyone else in the room. No
// membership check: the indicator is transient and only reaches clients that
// already passed the join gate.
func (g *Gateway) handleTyping(client *Client, p Typing, isTyping bool) {
	event := EventUserTyping
	if !isTyping {
		event = EventUserStoppedTyping
	}
	if frame, err := Encode(event, TypingPayload{
		ChatID:   p.ChatID,
		UserID:   client.UserID,
		UserName: client.Name,
		IsTyping: isTyping,
	}); err == nil {
		g.hub.Broadcast(p.ChatID, frame, client)
	}
}

// -- Call events --

// handleInitiateCall rings the receiver if they are online. The record's
// status is not touched either way: it stays initiated until the receiver
// acts on it or the stale-call sweeper marks it missed.
func (g *Gateway) handleInitiateCall(ctx context.Context, client *Client, p InitiateCall) {
	rec, err := g.calls.Get(ctx, p.CallID)
	if err != nil {
		g.sendError(client, "call not found")
		return
	}
	if rec.CallerID != client.UserID {
		metrics.EventRejected("not_participant")
		g.sendError(client, "you are not the caller of this call")
		return
	}

	connID, online, err := g.presence.Lookup(ctx, p.ReceiverID)
	if err != nil {
		g.sendError(client, "presence lookup failed")
		return
	}
	if !online {
		metrics.RelayMiss(EventInitiateCall)
		g.sendEvent(client, EventCallInitiatedOffline, CallInitiatedOfflinePayload{
			Message:    "user is not online",
			ReceiverID: p.ReceiverID,
			CallID:     p.CallID,
		})
		return
	}

	frame, err := Encode(EventIncomingCall, IncomingCallPayload{
		CallID:     p.CallID,
		CallerID:   client.UserID,
		CallerName: client.Name,
		ReceiverID: p.ReceiverID,
		CallType:   p.CallType,
		ChatID:     p.ChatID,
	})
	if err != nil {
		return
	}
	if !g.hub.SendTo(connID, frame) {
		// Directory said online but the connection is gone from this hub.
		metrics.RelayMiss(EventInitiateCall)
		g.sendEvent(client, EventCallInitiatedOffline, CallInitiatedOfflinePayload{
			Message:    "user is not online",
			ReceiverID: p.ReceiverID,
			CallID:     p.CallID,
		})
	}
}

// handleAcceptCall persists the transition first, then relays. A terminal
// record rejects the accept outright; a vanished caller is reported back to
// the acceptor after the answered status has already been written. The relay
// target is the record's caller, never the payload's: the payload value is
// client-supplied and cannot be allowed to redirect the notification.
func (g *Gateway) handleAcceptCall(ctx context.Context, client *Client, p AcceptCall) {
	rec, err := g.calls.Accept(ctx, p.CallID, client.UserID)
	if err != nil {
		g.sendTransitionError(client, err)
		return
	}

	g.relayToUser(ctx, client, rec.CallerID, EventAcceptCall, EventCallAccepted, CallAnsweredPayload{
		CallID:       rec.ID,
		ReceiverID:   client.UserID,
		ReceiverName: client.Name,
	})
}

func (g *Gateway) handleRejectCall(ctx context.Context, client *Client, p RejectCall) {
	rec, err := g.calls.Reject(ctx, p.CallID, client.UserID)
	if err != nil {
		g.sendTransitionError(client, err)
		return
	}

	g.relayToUser(ctx, client, rec.CallerID, EventRejectCall, EventCallRejected, CallAnsweredPayload{
		CallID:       rec.ID,
		ReceiverID:   client.UserID,
		ReceiverName: client.Name,
	})
}

// handleEndCall writes the final status unconditionally. Whether the other
// party is reachable has no bearing on the ledger: the end time and duration
// are durable even when the notification is lost.
func (g *Gateway) handleEndCall(ctx context.Context, client *Client, p EndCall) {
	rec, err := g.calls.End(ctx, p.CallID, client.UserID)
	if err != nil {
		g.sendTransitionError(client, err)
		return
	}

	frame, err := Encode(EventCallEnded, CallEndedPayload{
		CallID:      rec.ID,
		EndedByID:   client.UserID,
		EndedByName: client.Name,
	})
	if err != nil {
		return
	}
	connID, online, err := g.presence.Lookup(ctx, p.OtherUserID)
	if err != nil || !online || !g.hub.SendTo(connID, frame) {
		metrics.RelayMiss(EventEndCall)
	}
}

// handleCallSignal relays an opaque signaling blob verbatim. The gateway
// never inspects the signal payload.
func (g *Gateway) handleCallSignal(ctx context.Context, client *Client, p CallSignal) {
	frame, err := Encode(EventCallSignal, CallSignalPayload{
		FromUserID: client.UserID,
		Signal:     p.Signal,
		CallID:     p.CallID,
	})
	if err != nil {
		return
	}

	connID, online, lookupErr := g.presence.Lookup(ctx, p.ToUserID)
	if lookupErr != nil || !online || !g.hub.SendTo(connID, frame) {
		metrics.RelayMiss(EventCallSignal)
		g.sendError(client, "user is not online")
	}
}

// relayToUser delivers a call event to one user, reporting an offline target
// back to the actor. By the time this runs the status write has already
// happened, so the error is informational.
func (g *Gateway) relayToUser(ctx context.Context, actor *Client, targetID uuid.UUID,
	inbound, outbound string, payload interface{}) {
	frame, err := Encode(outbound, payload)
	if err != nil {
		return
	}
	connID, online, lookupErr := g.presence.Lookup(ctx, targetID)
	if lookupErr != nil || !online || !g.hub.SendTo(connID, frame) {
		metrics.RelayMiss(inbound)
		g.sendError(actor, "user is not online")
	}
}

func (g *Gateway) sendTransitionError(client *Client, err error) {
	switch {
	case errors.Is(err, call.ErrAlreadyTerminal):
		metrics.EventRejected("terminal_call")
	case errors.Is(err, call.ErrNotParticipant):
		metrics.EventRejected("not_participant")
	}
	g.sendError(client, err.Error())
}

func (g *Gateway) sendError(client *Client, message string) {
	g.sendEvent(client, EventError, ErrorPayload{Message: message})
}

func (g *Gateway) sendEvent(client *Client, event string, payload interface{}) {
	frame, err := Encode(event, payload)
	if err != nil {
		g.log.Error().Err(err).Str("event", event).Msg("encode failed")
		return
	}
	client.enqueue(frame)
}
