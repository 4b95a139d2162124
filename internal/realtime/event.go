// Package realtime implements the websocket gateway for the CareLink Teams
// module: connection authentication, the presence directory, chat-room
// fan-out, and the call signaling relay.
package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Inbound event names.
const (
	EventJoinChat          = "join_chat"
	EventLeaveChat         = "leave_chat"
	EventSendMessage       = "send_message"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventInitiateCall      = "initiate_call"
	EventAcceptCall        = "accept_call"
	EventRejectCall        = "reject_call"
	EventEndCall           = "end_call"
	EventCallSignal        = "call_signal"
)

// Outbound event names.
const (
	EventConnected            = "connected"
	EventError                = "error"
	EventUserJoinedChat       = "user_joined_chat"
	EventNewMessage           = "new_message"
	EventIncomingCall         = "incoming_call"
	EventCallInitiatedOffline = "call_initiated_offline"
	EventCallAccepted         = "call_accepted"
	EventCallRejected         = "call_rejected"
	EventCallEnded            = "call_ended"
	EventUserOffline          = "user_offline"
)

// Frame is the wire envelope for every event in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// -- Inbound payloads --
//
// Each inbound event has a closed payload type validated before any handler
// logic runs, so malformed frames fail fast with a structured error instead
// of zero values flowing downstream.

type JoinChat struct {
	ChatID uuid.UUID `json:"chatId"`
}

type LeaveChat struct {
	ChatID uuid.UUID `json:"chatId"`
}

type SendMessage struct {
	ChatID  uuid.UUID `json:"chatId"`
	Message string    `json:"message"`
}

type Typing struct {
	ChatID uuid.UUID `json:"chatId"`
}

type InitiateCall struct {
	ReceiverID uuid.UUID  `json:"receiverId"`
	CallType   string     `json:"callType"`
	ChatID     *uuid.UUID `json:"chatId,omitempty"`
	CallID     uuid.UUID  `json:"callId"`
}

type AcceptCall struct {
	CallerID uuid.UUID `json:"callerId"`
	CallID   uuid.UUID `json:"callId"`
}

type RejectCall struct {
	CallerID uuid.UUID `json:"callerId"`
	CallID   uuid.UUID `json:"callId"`
}

type EndCall struct {
	OtherUserID uuid.UUID  `json:"otherUserId"`
	CallID      uuid.UUID  `json:"callId"`
	ChatID      *uuid.UUID `json:"chatId,omitempty"`
}

type CallSignal struct {
	ToUserID uuid.UUID       `json:"toUserId"`
	Signal   json.RawMessage `json:"signal"`
	CallID   uuid.UUID       `json:"callId"`
}

// DecodeError describes an inbound frame that failed validation. It is
// reported to the offending connection only.
type DecodeError struct {
	Event  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Event, e.Reason)
}

// Decode parses a raw inbound frame into its typed payload. The returned
// value is one of the inbound payload structs above.
func Decode(raw []byte) (string, interface{}, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", nil, &DecodeError{Event: "unknown", Reason: "malformed frame"}
	}
	if frame.Event == "" {
		return "", nil, &DecodeError{Event: "unknown", Reason: "missing event name"}
	}

	payload, err := decodePayload(frame)
	if err != nil {
		return frame.Event, nil, err
	}
	return frame.Event, payload, nil
}

func decodePayload(frame Frame) (interface{}, error) {
	fail := func(reason string) (interface{}, error) {
		return nil, &DecodeError{Event: frame.Event, Reason: reason}
	}

	unmarshal := func(v interface{}) error {
		if len(frame.Data) == 0 {
			return fmt.Errorf("missing payload")
		}
		return json.Unmarshal(frame.Data, v)
	}

	switch frame.Event {
	case EventJoinChat:
		var p JoinChat
		if err := unmarshal(&p); err != nil || p.ChatID == uuid.Nil {
			return fail("chatId is required")
		}
		return p, nil

	case EventLeaveChat:
		var p LeaveChat
		if err := unmarshal(&p); err != nil || p.ChatID == uuid.Nil {
			return fail("chatId is required")
		}
		return p, nil

	case EventSendMessage:
		var p SendMessage
		if err := unmarshal(&p); err != nil || p.ChatID == uuid.Nil {
			return fail("chatId is required")
		}
		if p.Message == "" {
			return fail("message is required")
		}
		return p, nil

	case EventUserTyping, EventUserStoppedTyping:
		var p Typing
		if err := unmarshal(&p); err != nil || p.ChatID == uuid.Nil {
			return fail("chatId is required")
		}
		return p, nil

	case EventInitiateCall:
		var p InitiateCall
		if err := unmarshal(&p); err != nil {
			return fail("malformed payload")
		}
		if p.ReceiverID == uuid.Nil {
			return fail("receiverId is required")
		}
		if p.CallID == uuid.Nil {
			return fail("callId is required")
		}
		if p.CallType != "voice" && p.CallType != "video" {
			return fail("callType must be voice or video")
		}
		return p, nil

	case EventAcceptCall:
		var p AcceptCall
		if err := unmarshal(&p); err != nil || p.CallerID == uuid.Nil || p.CallID == uuid.Nil {
			return fail("callerId and callId are required")
		}
		return p, nil

	case EventRejectCall:
		var p RejectCall
		if err := unmarshal(&p); err != nil || p.CallerID == uuid.Nil || p.CallID == uuid.Nil {
			return fail("callerId and callId are required")
		}
		return p, nil

	case EventEndCall:
		var p EndCall
		if err := unmarshal(&p); err != nil || p.OtherUserID == uuid.Nil || p.CallID == uuid.Nil {
			return fail("otherUserId and callId are required")
		}
		return p, nil

	case EventCallSignal:
		var p CallSignal
		if err := unmarshal(&p); err != nil || p.ToUserID == uuid.Nil || p.CallID == uuid.Nil {
			return fail("toUserId and callId are required")
		}
		if len(p.Signal) == 0 {
			return fail("signal is required")
		}
		return p, nil
	}

	return fail("unknown event")
}

// Encode wraps an outbound payload in a Frame and marshals it.
func Encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// -- Outbound payloads --

type ConnectedPayload struct {
	Message  string    `json:"message"`
	UserID   uuid.UUID `json:"userId"`
	SocketID string    `json:"socketId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type UserJoinedChatPayload struct {
	ChatID   uuid.UUID `json:"chatId"`
	UserID   uuid.UUID `json:"userId"`
	UserName string    `json:"userName"`
}

type NewMessagePayload struct {
	ChatID     uuid.UUID `json:"chatId"`
	Message    string    `json:"message"`
	SenderID   uuid.UUID `json:"senderId"`
	SenderName string    `json:"senderName"`
}

type TypingPayload struct {
	ChatID   uuid.UUID `json:"chatId"`
	UserID   uuid.UUID `json:"userId"`
	UserName string    `json:"userName"`
	IsTyping bool      `json:"isTyping"`
}

type IncomingCallPayload struct {
	CallID     uuid.UUID  `json:"callId"`
	CallerID   uuid.UUID  `json:"callerId"`
	CallerName string     `json:"callerName"`
	ReceiverID uuid.UUID  `json:"receiverId"`
	CallType   string     `json:"callType"`
	ChatID     *uuid.UUID `json:"chatId,omitempty"`
}

type CallInitiatedOfflinePayload struct {
	Message    string    `json:"message"`
	ReceiverID uuid.UUID `json:"receiverId"`
	CallID     uuid.UUID `json:"callId"`
}

type CallAnsweredPayload struct {
	CallID       uuid.UUID `json:"callId"`
	ReceiverID   uuid.UUID `json:"receiverId"`
	ReceiverName string    `json:"receiverName"`
}

type CallEndedPayload struct {
	CallID      uuid.UUID `json:"callId"`
	EndedByID   uuid.UUID `json:"endedById"`
	EndedByName string    `json:"endedByName"`
}

type CallSignalPayload struct {
	FromUserID uuid.UUID       `json:"fromUserId"`
	Signal     json.RawMessage `json:"signal"`
	CallID     uuid.UUID       `json:"callId"`
}

type UserOfflinePayload struct {
	UserID   uuid.UUID `json:"userId"`
	UserName string    `json:"userName"`
}
