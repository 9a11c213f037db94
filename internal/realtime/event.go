package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the declared type of an inbound client event.
type Kind string

const (
	KindJoinConversation  Kind = "join:conversation"
	KindLeaveConversation Kind = "leave:conversation"
	KindMessageSend       Kind = "message:send"
	KindTypingStart       Kind = "typing:start"
	KindTypingStop        Kind = "typing:stop"
	KindSnapSend          Kind = "snap:send"
	KindStoryCreate       Kind = "story:create"
	KindFriendRequest     Kind = "friend:request"
	KindCallInitiate      Kind = "call:initiate"
	KindCallAnswer        Kind = "call:answer"
	KindCallReject        Kind = "call:reject"
	KindCallEnd           Kind = "call:end"
	KindCallICECandidate  Kind = "call:ice-candidate"
)

// Server-emitted event names.
const (
	EventMessageReceive            = "message:receive"
	EventNotificationMessage       = "notification:message"
	EventNotificationSnap          = "notification:snap"
	EventNotificationStory         = "notification:story"
	EventNotificationFriendRequest = "notification:friend_request"
	EventTypingStart               = "typing:start"
	EventTypingStop                = "typing:stop"
	EventCallIncoming              = "call:incoming"
	EventCallAnswered              = "call:answered"
	EventCallRejected              = "call:rejected"
	EventCallEnded                 = "call:ended"
	EventCallICECandidate          = "call:ice-candidate"
	EventUserOnline                = "user:online"
	EventUserOffline               = "user:offline"
	EventError                     = "error"
)

// Inbound is the wire envelope for client events. Payloads are decoded per
// kind; untyped events are rejected.
type Inbound struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound is the wire envelope for server-emitted events. The timestamp is
// always server-assigned; clients never supply it.
type Outbound struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewOutbound(eventType string, data interface{}) Outbound {
	return Outbound{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ValidationError is returned to the sender when an event fails structural
// validation. It never aborts the connection.
type ValidationError struct {
	Event  Kind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s event: %s", e.Event, e.Reason)
}

func invalid(kind Kind, reason string) *ValidationError {
	return &ValidationError{Event: kind, Reason: reason}
}

// Inbound payloads.

type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type MessagePayload struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId,omitempty"`
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
}

type SnapPayload struct {
	RecipientIDs []string `json:"recipientIds"`
	SnapID       string   `json:"snapId"`
	Type         string   `json:"type"`
}

type StoryPayload struct {
	StoryID string `json:"storyId"`
	Type    string `json:"type"`
}

type FriendRequestPayload struct {
	RecipientID string `json:"recipientId"`
}

// Call signaling payloads carry opaque SDP/ICE blobs; only presence of the
// routing fields is validated.

type CallInitiatePayload struct {
	RecipientID string          `json:"recipientId"`
	Type        string          `json:"type"`
	Offer       json.RawMessage `json:"offer"`
}

type CallAnswerPayload struct {
	CallerID string          `json:"callerId"`
	Answer   json.RawMessage `json:"answer"`
}

type CallRejectPayload struct {
	CallerID string `json:"callerId"`
}

type CallEndPayload struct {
	RecipientID string `json:"recipientId"`
}

type ICECandidatePayload struct {
	RecipientID string          `json:"recipientId"`
	Candidate   json.RawMessage `json:"candidate"`
}

// Outbound payloads.

type MessageReceiveData struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId,omitempty"`
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
}

type MessageNotificationData struct {
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	ConversationID string `json:"conversationId"`
	Type           string `json:"type"`
	Preview        string `json:"preview"`
}

type TypingData struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	ConversationID string `json:"conversationId"`
}

type SnapNotificationData struct {
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	SnapID         string `json:"snapId"`
	Type           string `json:"type"`
}

type StoryNotificationData struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	StoryID  string `json:"storyId"`
	Type     string `json:"type"`
}

type FriendRequestNotificationData struct {
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
}

type CallIncomingData struct {
	CallerID       string          `json:"callerId"`
	CallerUsername string          `json:"callerUsername"`
	Type           string          `json:"type"`
	Offer          json.RawMessage `json:"offer"`
}

type CallAnsweredData struct {
	Answer json.RawMessage `json:"answer"`
}

type ICECandidateData struct {
	Candidate json.RawMessage `json:"candidate"`
}

type PresenceData struct {
	UserID   string     `json:"userId"`
	Username string     `json:"username"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type ErrorData struct {
	Event   Kind   `json:"event,omitempty"`
	Message string `json:"message"`
}
