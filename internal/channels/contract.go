package channels

import (
	"github.com/beaconhq/beacon/pkg/models"
)

// ChannelKind identifies which messaging platform a message arrived on
// or should be sent to. It is the models.ChannelType registered by an
// adapter, kept as its own name at the contract boundary since the
// engine never needs the full adapter interface, only this tag.
type ChannelKind = models.ChannelType

// IncomingMessage is the shape a channel adapter hands to the gateway
// for a message the engine should turn into a turn. The gateway is the
// only thing that knows how to convert this into session history and
// an agent.CompletionRequest; adapters never see those internal types.
type IncomingMessage struct {
	UserID      string
	SessionID   string
	Content     string
	ChannelKind ChannelKind
	PersonaID   string
	ThreadID    string
	Attachments []models.Attachment
}

// OutgoingMessage is the shape the gateway hands back to a channel
// adapter once a turn has produced a reply.
type OutgoingMessage struct {
	SessionID   string
	Content     string
	Attachments []models.Attachment
}

// ToMessage converts an IncomingMessage into the unified wire message
// used by session history and memory.
func (m *IncomingMessage) ToMessage() *models.Message {
	return &models.Message{
		SessionID:   m.SessionID,
		Channel:     m.ChannelKind,
		Direction:   models.DirectionInbound,
		Role:        models.RoleUser,
		Content:     m.Content,
		Attachments: m.Attachments,
	}
}

// FromMessage builds an OutgoingMessage from an assistant reply.
func FromMessage(msg *models.Message) *OutgoingMessage {
	return &OutgoingMessage{
		SessionID:   msg.SessionID,
		Content:     msg.Content,
		Attachments: msg.Attachments,
	}
}
