package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FeedbackRequest is a pending interactive tool call awaiting a user
// decision before the engine may run it.
type FeedbackRequest struct {
	ID       string
	ToolName string
	Prompt   string
}

// FeedbackResponse carries the user's decision for a single feedback
// request.
type FeedbackResponse struct {
	Approved bool
	Note     string
}

// FeedbackArbiter implements a one-shot, UUID-keyed rendezvous between the
// engine (which registers a request and blocks) and whichever channel
// surfaces the prompt to the user and eventually calls Respond. Delivery is
// exactly once: a response delivered after Cancel or after the waiter gave
// up is silently dropped rather than erroring, since there is no longer
// anyone listening.
type FeedbackArbiter struct {
	mu      sync.Mutex
	pending map[string]chan FeedbackResponse
}

// NewFeedbackArbiter returns an empty arbiter.
func NewFeedbackArbiter() *FeedbackArbiter {
	return &FeedbackArbiter{pending: make(map[string]chan FeedbackResponse)}
}

// Register creates a new pending feedback request and returns its ID and
// the channel the engine should wait on.
func (a *FeedbackArbiter) Register(toolName, prompt string) (string, <-chan FeedbackResponse) {
	id := uuid.NewString()
	ch := make(chan FeedbackResponse, 1)

	a.mu.Lock()
	a.pending[id] = ch
	a.mu.Unlock()

	return id, ch
}

// Respond delivers a response to the request with the given ID. It returns
// false if no such request is pending (already answered, cancelled, or
// never registered) — the call is a no-op in that case, not an error.
func (a *FeedbackArbiter) Respond(id string, resp FeedbackResponse) bool {
	a.mu.Lock()
	ch, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()

	if !ok {
		return false
	}
	ch <- resp
	close(ch)
	return true
}

// CancelAll removes every pending request, closing its channel without a
// value so waiters unblock with the zero FeedbackResponse. Used on turn
// abort or shutdown so no goroutine is left waiting forever.
func (a *FeedbackArbiter) CancelAll() {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[string]chan FeedbackResponse)
	a.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// Wait blocks until either a response arrives, the request is cancelled, or
// ctx is done, whichever happens first.
func (a *FeedbackArbiter) Wait(ctx context.Context, id string, ch <-chan FeedbackResponse) (FeedbackResponse, error) {
	select {
	case resp, ok := <-ch:
		if !ok {
			return FeedbackResponse{}, fmt.Errorf("feedback request %s cancelled", id)
		}
		return resp, nil
	case <-ctx.Done():
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return FeedbackResponse{}, ctx.Err()
	}
}
