package realtime

import (
	"encoding/json"
	"errors"

	"snapclone/pkg/logger"
)

const messagePreviewLength = 50

// Sender delivers outbound events to connections. The gateway implements it
// over live websockets; tests substitute a recording fake.
type Sender interface {
	// Send delivers to a single connection. Unknown connection ids are a
	// silent no-op (best-effort delivery).
	Send(connID string, ev Outbound)
	// Broadcast delivers to every connection except the excluded one.
	Broadcast(excludeConnID string, ev Outbound)
}

// Dispatcher validates inbound events, stamps server-side metadata and routes
// them per kind. It holds no cross-event state; every event is processed
// independently.
type Dispatcher struct {
	sessions *SessionDirectory
	rooms    *RoomRouter
	sender   Sender
}

func NewDispatcher(sessions *SessionDirectory, rooms *RoomRouter, sender Sender) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		rooms:    rooms,
		sender:   sender,
	}
}

// Dispatch processes one raw inbound event from the given connection. A
// returned *ValidationError is meant to be echoed back to the sender; any
// other error is internal and already handled (logged, event dropped).
func (d *Dispatcher) Dispatch(connID string, raw []byte) error {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return invalid("", "malformed event envelope")
	}
	if in.Type == "" {
		return invalid("", "missing event type")
	}

	// The sender identity comes from the connection, never from the payload.
	sender, ok := d.sessions.ResolveUser(connID)
	if !ok {
		// Connection already deregistered; the event raced its own
		// disconnect. Dropping it is an acceptable outcome.
		logger.Debug("Dropping %s event from stale connection %s", in.Type, connID)
		return nil
	}
	d.sessions.Touch(connID)

	switch in.Type {
	case KindJoinConversation:
		return d.handleJoin(connID, sender, in.Data)
	case KindLeaveConversation:
		return d.handleLeave(connID, in.Data)
	case KindMessageSend:
		return d.handleMessage(connID, sender, in.Data)
	case KindTypingStart, KindTypingStop:
		return d.handleTyping(connID, sender, in.Type, in.Data)
	case KindSnapSend:
		return d.handleSnap(connID, sender, in.Data)
	case KindStoryCreate:
		return d.handleStory(connID, sender, in.Data)
	case KindFriendRequest:
		return d.handleFriendRequest(connID, sender, in.Data)
	case KindCallInitiate:
		return d.handleCallInitiate(connID, sender, in.Data)
	case KindCallAnswer:
		return d.handleCallAnswer(connID, in.Data)
	case KindCallReject:
		return d.handleCallReject(connID, in.Data)
	case KindCallEnd:
		return d.handleCallEnd(connID, in.Data)
	case KindCallICECandidate:
		return d.handleICECandidate(connID, in.Data)
	default:
		return invalid(in.Type, "unknown event type")
	}
}

func (d *Dispatcher) handleJoin(connID string, sender Identity, data json.RawMessage) error {
	var p ConversationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return invalid(KindJoinConversation, "conversationId is required")
	}

	if err := d.rooms.Join(connID, ConversationRoom(p.ConversationID)); err != nil {
		if errors.Is(err, ErrStaleConnection) {
			logger.Debug("Dropping join for stale connection %s", connID)
			return nil
		}
		return err
	}

	logger.Info("User %s joined conversation: %s", sender.Username, p.ConversationID)
	return nil
}

func (d *Dispatcher) handleLeave(connID string, data json.RawMessage) error {
	var p ConversationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return invalid(KindLeaveConversation, "conversationId is required")
	}

	d.rooms.Leave(connID, ConversationRoom(p.ConversationID))
	return nil
}

func (d *Dispatcher) handleMessage(connID string, sender Identity, data json.RawMessage) error {
	var p MessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return invalid(KindMessageSend, "conversationId is required")
	}

	receive := NewOutbound(EventMessageReceive, MessageReceiveData{
		ConversationID: p.ConversationID,
		RecipientID:    p.RecipientID,
		Type:           p.Type,
		Text:           p.Text,
		MediaURL:       p.MediaURL,
		SenderID:       sender.UserID,
		SenderUsername: sender.Username,
	})
	d.toRoom(ConversationRoom(p.ConversationID), connID, receive)

	// Parallel notification to the recipient's personal room so they see
	// the message even with the conversation closed.
	if p.RecipientID != "" {
		preview := p.Text
		if preview == "" {
			preview = "Media message"
		} else if len(preview) > messagePreviewLength {
			preview = preview[:messagePreviewLength]
		}

		notify := NewOutbound(EventNotificationMessage, MessageNotificationData{
			SenderID:       sender.UserID,
			SenderUsername: sender.Username,
			ConversationID: p.ConversationID,
			Type:           p.Type,
			Preview:        preview,
		})
		d.toRoom(PersonalRoom(p.RecipientID), connID, notify)
	}

	return nil
}

func (d *Dispatcher) handleTyping(connID string, sender Identity, kind Kind, data json.RawMessage) error {
	var p ConversationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return invalid(kind, "conversationId is required")
	}

	eventType := EventTypingStart
	if kind == KindTypingStop {
		eventType = EventTypingStop
	}

	d.toRoom(ConversationRoom(p.ConversationID), connID, NewOutbound(eventType, TypingData{
		UserID:         sender.UserID,
		Username:       sender.Username,
		ConversationID: p.ConversationID,
	}))
	return nil
}

func (d *Dispatcher) handleSnap(connID string, sender Identity, data json.RawMessage) error {
	var p SnapPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return invalid(KindSnapSend, "malformed payload")
	}
	if len(p.RecipientIDs) == 0 {
		return invalid(KindSnapSend, "recipientIds must not be empty")
	}
	if p.SnapID == "" {
		return invalid(KindSnapSend, "snapId is required")
	}

	notify := NewOutbound(EventNotificationSnap, SnapNotificationData{
		SenderID:       sender.UserID,
		SenderUsername: sender.Username,
		SnapID:         p.SnapID,
		Type:           p.Type,
	})

	// Independent fan-out: an offline recipient never aborts the rest.
	for _, recipientID := range p.RecipientIDs {
		d.toRoom(PersonalRoom(recipientID), connID, notify)
	}

	logger.Info("Snap sent from %s to %d recipients", sender.Username, len(p.RecipientIDs))
	return nil
}

func (d *Dispatcher) handleStory(connID string, sender Identity, data json.RawMessage) error {
	var p StoryPayload
	if err := json.Unmarshal(data, &p); err != nil || p.StoryID == "" {
		return invalid(KindStoryCreate, "storyId is required")
	}

	// Stories go to every connected user; friend-graph filtering happens in
	// feed assembly, not here.
	d.sender.Broadcast(connID, NewOutbound(EventNotificationStory, StoryNotificationData{
		UserID:   sender.UserID,
		Username: sender.Username,
		StoryID:  p.StoryID,
		Type:     p.Type,
	}))

	logger.Info("Story created by %s: %s", sender.Username, p.StoryID)
	return nil
}

func (d *Dispatcher) handleFriendRequest(connID string, sender Identity, data json.RawMessage) error {
	var p FriendRequestPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RecipientID == "" {
		return invalid(KindFriendRequest, "recipientId is required")
	}

	d.toRoom(PersonalRoom(p.RecipientID), connID, NewOutbound(EventNotificationFriendRequest, FriendRequestNotificationData{
		SenderID:       sender.UserID,
		SenderUsername: sender.Username,
	}))
	return nil
}

func (d *Dispatcher) handleCallInitiate(connID string, sender Identity, data json.RawMessage) error {
	var p CallInitiatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return invalid(KindCallInitiate, "malformed payload")
	}
	if p.RecipientID == "" {
		return invalid(KindCallInitiate, "recipientId is required")
	}
	if len(p.Offer) == 0 {
		return invalid(KindCallInitiate, "offer is required")
	}

	d.toRoom(PersonalRoom(p.RecipientID), connID, NewOutbound(EventCallIncoming, CallIncomingData{
		CallerID:       sender.UserID,
		CallerUsername: sender.Username,
		Type:           p.Type,
		Offer:          p.Offer,
	}))

	logger.Info("%s call initiated from %s to user: %s", p.Type, sender.Username, p.RecipientID)
	return nil
}

func (d *Dispatcher) handleCallAnswer(connID string, data json.RawMessage) error {
	var p CallAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return invalid(KindCallAnswer, "malformed payload")
	}
	if p.CallerID == "" {
		return invalid(KindCallAnswer, "callerId is required")
	}
	if len(p.Answer) == 0 {
		return invalid(KindCallAnswer, "answer is required")
	}

	d.toRoom(PersonalRoom(p.CallerID), connID, NewOutbound(EventCallAnswered, CallAnsweredData{Answer: p.Answer}))
	return nil
}

func (d *Dispatcher) handleCallReject(connID string, data json.RawMessage) error {
	var p CallRejectPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallerID == "" {
		return invalid(KindCallReject, "callerId is required")
	}

	d.toRoom(PersonalRoom(p.CallerID), connID, NewOutbound(EventCallRejected, nil))
	return nil
}

func (d *Dispatcher) handleCallEnd(connID string, data json.RawMessage) error {
	var p CallEndPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RecipientID == "" {
		return invalid(KindCallEnd, "recipientId is required")
	}

	d.toRoom(PersonalRoom(p.RecipientID), connID, NewOutbound(EventCallEnded, nil))
	return nil
}

func (d *Dispatcher) handleICECandidate(connID string, data json.RawMessage) error {
	var p ICECandidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return invalid(KindCallICECandidate, "malformed payload")
	}
	if p.RecipientID == "" {
		return invalid(KindCallICECandidate, "recipientId is required")
	}
	if len(p.Candidate) == 0 {
		return invalid(KindCallICECandidate, "candidate is required")
	}

	d.toRoom(PersonalRoom(p.RecipientID), connID, NewOutbound(EventCallICECandidate, ICECandidateData{Candidate: p.Candidate}))
	return nil
}

// toRoom delivers to every current room member except the sending connection.
// A missing room is a routing miss, which is expected steady-state behavior,
// not an error.
func (d *Dispatcher) toRoom(roomKey, excludeConnID string, ev Outbound) {
	for _, memberID := range d.rooms.Members(roomKey) {
		if memberID == excludeConnID {
			continue
		}
		d.sender.Send(memberID, ev)
	}
}
