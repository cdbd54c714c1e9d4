// Package hooks provides an event-driven extension point for the turn
// engine and plugins: handlers subscribe to named events (a turn
// starting, a tool call completing, a session being created) and run
// without the engine knowing who is listening.
package hooks

import (
	"context"
	"time"

	"github.com/beaconhq/beacon/pkg/models"
)

// EventType identifies the category of hook event.
type EventType string

const (
	EventMessageReceived  EventType = "message.received"
	EventMessageProcessed EventType = "message.processed"
	EventMessageSent      EventType = "message.sent"

	EventSessionCreated EventType = "session.created"
	EventSessionUpdated EventType = "session.updated"
	EventSessionEnded   EventType = "session.ended"

	EventTurnStarted   EventType = "turn.started"
	EventTurnCompleted EventType = "turn.completed"
	EventTurnError     EventType = "turn.error"

	EventToolPreExecution  EventType = "tool.pre_execution"
	EventToolPostExecution EventType = "tool.post_execution"
	EventToolCalled        EventType = "tool.called"
	EventToolCompleted     EventType = "tool.completed"

	EventLoopDetected EventType = "loop.detected"

	EventGatewayStartup  EventType = "gateway.startup"
	EventGatewayShutdown EventType = "gateway.shutdown"
)

// Event represents a hook event with context and payload.
type Event struct {
	Type        EventType          `json:"type"`
	Action      string             `json:"action,omitempty"`
	SessionKey  string             `json:"session_key,omitempty"`
	ChannelID   string             `json:"channel_id,omitempty"`
	ChannelType models.ChannelType `json:"channel_type,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Message     *models.Message    `json:"message,omitempty"`
	Context     map[string]any     `json:"context,omitempty"`
	Error       error              `json:"-"`
	ErrorMsg    string             `json:"error,omitempty"`
}

// Handler is a function that processes hook events. Handlers should be
// fast and non-blocking; long-running work should be dispatched to a
// goroutine from inside the handler.
type Handler func(ctx context.Context, event *Event) error

// Priority determines the order handlers are called, lower first.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration represents a registered hook handler.
type Registration struct {
	ID       string
	EventKey string
	Handler  Handler
	Priority Priority
	Name     string
	Source   string
}

// NewEvent creates a new event stamped with the current time.
func NewEvent(eventType EventType, action string) *Event {
	return &Event{
		Type:      eventType,
		Action:    action,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
}

// WithSession sets the session key on the event.
func (e *Event) WithSession(sessionKey string) *Event {
	e.SessionKey = sessionKey
	return e
}

// WithChannel sets the channel info on the event.
func (e *Event) WithChannel(channelID string, channelType models.ChannelType) *Event {
	e.ChannelID = channelID
	e.ChannelType = channelType
	return e
}

// WithMessage sets the message on the event.
func (e *Event) WithMessage(msg *models.Message) *Event {
	e.Message = msg
	return e
}

// WithContext adds context data to the event.
func (e *Event) WithContext(key string, value any) *Event {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithError sets the error on the event.
func (e *Event) WithError(err error) *Event {
	e.Error = err
	if err != nil {
		e.ErrorMsg = err.Error()
	}
	return e
}
