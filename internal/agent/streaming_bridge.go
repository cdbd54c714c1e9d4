package agent

import (
	"encoding/json"
	"time"
)

// streamHeartbeatInterval is how often the Streaming Bridge emits a
// heartbeat event when no other event has fired, so channel adapters can
// detect a stalled connection rather than waiting indefinitely.
const streamHeartbeatInterval = 20 * time.Second

// StreamEventKind discriminates the events a turn emits to channel
// consumers via the Streaming Bridge.
type StreamEventKind string

const (
	StreamChatChunk    StreamEventKind = "chat_chunk"
	StreamToolStart    StreamEventKind = "tool_start"
	StreamToolResult   StreamEventKind = "tool_result"
	StreamProgress     StreamEventKind = "progress"
	StreamChatComplete StreamEventKind = "chat_complete"
	StreamHeartbeat    StreamEventKind = "heartbeat"
)

// StreamEvent is one fan-out event published for a turn in progress. It is
// the public surface channel adapters subscribe to; ChatEvent/ResponseChunk
// remain internal to the engine and providers.
type StreamEvent struct {
	Kind       StreamEventKind `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	// Summary is a short, human-readable description of a tool invocation's
	// arguments (see summarizeToolCall), suitable for a "Running: ..." UI line.
	Summary      string `json:"summary,omitempty"`
	Iteration    int    `json:"iteration,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// StreamingBridge fans turn progress out to a bounded channel, inserting a
// heartbeat whenever streamHeartbeatInterval elapses with no other event so
// long-lived connections do not look dead during slow tool calls.
type StreamingBridge struct {
	out     chan *StreamEvent
	done    chan struct{}
	closed  bool
}

// NewStreamingBridge creates a bridge with the given output buffer size and
// starts its heartbeat goroutine.
func NewStreamingBridge(buffer int) *StreamingBridge {
	b := &StreamingBridge{
		out:  make(chan *StreamEvent, buffer),
		done: make(chan struct{}),
	}
	go b.heartbeatLoop()
	return b
}

// Events returns the channel consumers should range over.
func (b *StreamingBridge) Events() <-chan *StreamEvent {
	return b.out
}

// Publish sends an event, resetting the heartbeat timer implicitly since the
// heartbeat loop only fires when Publish has been silent.
func (b *StreamingBridge) Publish(e *StreamEvent) {
	select {
	case b.out <- e:
	case <-b.done:
	}
}

// Close stops the heartbeat loop and closes the output channel. Safe to
// call once per bridge.
func (b *StreamingBridge) Close() {
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	close(b.out)
}

func (b *StreamingBridge) heartbeatLoop() {
	ticker := time.NewTicker(streamHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case b.out <- &StreamEvent{Kind: StreamHeartbeat}:
			case <-b.done:
				return
			}
		case <-b.done:
			return
		}
	}
}

// summarizeToolCall builds the short human-readable Summary shown alongside
// a StreamToolStart event: it looks for one of a handful of conventional
// argument fields and falls back to a truncated dump of the raw arguments.
func summarizeToolCall(name string, arguments json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(arguments, &fields); err == nil {
		for _, key := range []string{"query", "path", "command", "url", "pattern", "glob"} {
			if raw, ok := fields[key]; ok {
				var s string
				if err := json.Unmarshal(raw, &s); err == nil && s != "" {
					return truncateSummary(s)
				}
			}
		}
	}
	return truncateSummary(string(arguments))
}

const maxSummaryLength = 60

func truncateSummary(s string) string {
	if len(s) <= maxSummaryLength {
		return s
	}
	return s[:maxSummaryLength-1] + "…"
}
