package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/beaconhq/beacon/internal/observability"
	"github.com/beaconhq/beacon/internal/tools/policy"
	"github.com/beaconhq/beacon/pkg/models"
)

// maxIterationsCeiling is the hard upper bound on a turn's iteration count,
// regardless of what EngineOptions.MaxIterations requests.
const maxIterationsCeiling = 20

// defaultMaxIterations is used when EngineOptions.MaxIterations is unset.
const defaultMaxIterations = 8

// EngineOptions configures a single Engine instance. Values are turn-scoped
// defaults; individual turns may not override them, matching the spec's
// single bounded-iteration-budget-per-engine model.
type EngineOptions struct {
	MaxIterations int
	Logger        *slog.Logger

	// Metrics records Prometheus observations for the turn, tool
	// dispatch, and provider calls. Nil disables instrumentation.
	Metrics *observability.Metrics

	// Events records a replayable timeline of the turn. Nil disables it.
	Events *observability.EventRecorder

	// Tracer emits an OpenTelemetry span covering the turn. Nil disables it.
	Tracer *observability.Tracer
}

func (o EngineOptions) iterationBudget() int {
	n := o.MaxIterations
	if n <= 0 {
		n = defaultMaxIterations
	}
	if n > maxIterationsCeiling {
		n = maxIterationsCeiling
	}
	return n
}

// SessionRepository is the narrow persistence interface the engine needs to
// load and append turn history. Storage substrate concerns (which database,
// which driver) live entirely behind this interface per spec §6.
type SessionRepository interface {
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
}

// Engine drives the bounded multi-iteration Agent Turn Engine (C8): it
// streams from an LLMProvider, accumulates tool calls, dispatches them
// through the Tool Executor, checks the Loop Detector after each
// invocation, and returns once the provider reports a finish reason other
// than "tool_calls" or the iteration budget is exhausted.
type Engine struct {
	provider  LLMProvider
	registry  *ToolRegistry
	executor  *Executor
	arbiter   *FeedbackArbiter
	bridge    *StreamingBridge
	sessions  SessionRepository
	plugins   *PluginRegistry
	opts      EngineOptions
}

// NewEngine wires together the components a turn needs. bridge and sessions
// may be nil for callers that don't need streaming fan-out or persistence
// (e.g. the beaconctl CLI running a one-off demo turn).
func NewEngine(provider LLMProvider, registry *ToolRegistry, executor *Executor, arbiter *FeedbackArbiter, bridge *StreamingBridge, sessions SessionRepository, plugins *PluginRegistry, opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		provider: provider,
		registry: registry,
		executor: executor,
		arbiter:  arbiter,
		bridge:   bridge,
		sessions: sessions,
		plugins:  plugins,
		opts:     opts,
	}
}

// TurnResult is what RunTurn returns once the turn concludes.
type TurnResult struct {
	FinalText  string
	Iterations int
	Severity   LoopSeverity
}

// RunTurn drives one full agent turn for sessionID starting from messages,
// which must already include the new user message. It mutates messages in
// place as tool calls and results are appended, and persists each appended
// message through sessions (when non-nil) as it goes.
func (e *Engine) RunTurn(ctx context.Context, sessionID string, systemPrompt string, messages []CompletionMessage) (*TurnResult, error) {
	detector := NewLoopDetector()
	budget := e.opts.iterationBudget()
	turnStart := time.Now()

	if e.opts.Tracer != nil {
		var span trace.Span
		ctx, span = e.opts.Tracer.TraceTurn(ctx, "", sessionID)
		defer span.End()
	}

	observability.EmitSessionState(&observability.SessionStateEvent{
		SessionID: sessionID,
		PrevState: observability.SessionStateIdle,
		State:     observability.SessionStateProcessing,
	})
	defer observability.EmitSessionState(&observability.SessionStateEvent{
		SessionID: sessionID,
		PrevState: observability.SessionStateProcessing,
		State:     observability.SessionStateIdle,
	})

	var finalText string
	severity := LoopNone

	for iteration := 0; iteration < budget; iteration++ {
		e.emitEvent(ctx, models.AgentEventIterStarted, iteration)

		req := &CompletionRequest{
			System:   systemPrompt,
			Messages: messages,
			Tools:    e.registry.AsLLMTools(),
		}

		llmStart := time.Now()
		events, err := e.provider.Complete(ctx, req)
		if err != nil {
			e.recordLLMRequest(req.Model, time.Since(llmStart), "error")
			return nil, fmt.Errorf("engine: provider complete: %w", err)
		}

		text, pending, finishReason, streamErr := e.drainStream(ctx, events, iteration)
		if streamErr != nil {
			e.recordLLMRequest(req.Model, time.Since(llmStart), "error")
			return nil, fmt.Errorf("engine: stream: %w", streamErr)
		}
		e.recordLLMRequest(req.Model, time.Since(llmStart), "success")
		finalText = text

		assistantMsg := CompletionMessage{Role: string(models.RoleAssistant), Content: text}
		for _, tc := range pending {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, tc)
		}
		messages = append(messages, assistantMsg)
		e.persist(ctx, sessionID, models.RoleAssistant, text, assistantMsg.ToolCalls, nil)

		if finishReason != "tool_calls" || len(pending) == 0 {
			e.emitEvent(ctx, models.AgentEventIterFinished, iteration)
			e.recordTurn(ctx, sessionID, "stop", iteration+1, severity, turnStart)
			return &TurnResult{FinalText: finalText, Iterations: iteration + 1, Severity: severity}, nil
		}

		reads, mutates, interactive := e.partitionByKind(pending)

		results := make(map[string]models.ToolResult, len(pending))
		readResults := e.executor.ExecuteReadBatch(ctx, reads)
		for i, r := range readResults {
			results[r.ToolCallID] = toModelResult(r)
			severity = e.observeResult(detector, r, reads[i].Input)
			e.recordToolExecution(r, "read")
		}
		mutateResults := e.executor.ExecuteSerial(ctx, mutates)
		for i, r := range mutateResults {
			results[r.ToolCallID] = toModelResult(r)
			severity = e.observeResult(detector, r, mutates[i].Input)
			e.recordToolExecution(r, "mutate")
		}
		for _, tc := range interactive {
			interactiveStart := time.Now()
			result := e.runInteractive(ctx, tc)
			results[tc.ID] = result
			severity = detector.Observe(tc.Name, tc.Input, result.IsError)
			e.recordToolOutcome(tc.Name, "interactive", result.IsError, time.Since(interactiveStart))
		}

		// Append tool results in the pending calls' declaration order,
		// independent of which batch finished first — the ordering
		// invariant the spec requires of the Tool Executor.
		toolMsg := CompletionMessage{Role: string(models.RoleTool)}
		for _, tc := range pending {
			res := results[tc.ID]
			toolMsg.ToolResults = append(toolMsg.ToolResults, res)
			e.persist(ctx, sessionID, models.RoleTool, res.Content, nil, []models.ToolResult{res})
		}
		messages = append(messages, toolMsg)

		if severity == LoopCircuitBreaker {
			e.opts.Logger.Warn("loop detector tripped circuit breaker", "session_id", sessionID, "iteration", iteration)
			e.recordTurn(ctx, sessionID, "circuit_breaker", iteration+1, severity, turnStart)
			return &TurnResult{FinalText: finalText, Iterations: iteration + 1, Severity: severity}, nil
		}

		e.emitEvent(ctx, models.AgentEventIterFinished, iteration)
	}

	e.opts.Logger.Warn("turn exhausted iteration budget", "session_id", sessionID, "budget", budget)
	e.recordTurn(ctx, sessionID, "max_iterations", budget, severity, turnStart)
	return &TurnResult{FinalText: finalText, Iterations: budget, Severity: severity}, ErrMaxIterations
}

// recordTurn reports the turn's outcome to the configured Metrics and
// EventRecorder. Both are optional; nil either disables instrumentation.
func (e *Engine) recordTurn(ctx context.Context, sessionID, finishReason string, iterations int, severity LoopSeverity, start time.Time) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordTurn(finishReason, iterations, time.Since(start))
		if severity != LoopNone {
			e.opts.Metrics.RecordLoopSeverity(string(severity))
		}
	}
	if e.opts.Events != nil {
		ctx = observability.AddSessionID(ctx, sessionID)
		_ = e.opts.Events.RecordRunEnd(ctx, time.Since(start), nil)
	}
}

// recordLLMRequest reports one provider completion round-trip.
func (e *Engine) recordLLMRequest(model string, elapsed time.Duration, status string) {
	if model == "" {
		model = "default"
	}
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordLLMRequest(e.provider.Name(), model, status, elapsed)
	}
	observability.EmitModelUsage(&observability.ModelUsageEvent{
		Provider:   e.provider.Name(),
		Model:      model,
		DurationMs: elapsed.Milliseconds(),
	})
}

// recordToolExecution reports one batched (read or mutate) tool dispatch.
func (e *Engine) recordToolExecution(r *ExecutionResult, kind string) {
	isError := r.Error != nil || (r.Result != nil && r.Result.IsError)
	e.recordToolOutcome(r.ToolName, kind, isError, r.Duration)
}

func (e *Engine) recordToolOutcome(toolName, kind string, isError bool, elapsed time.Duration) {
	if e.opts.Metrics == nil {
		return
	}
	status := "success"
	if isError {
		status = "error"
	}
	e.opts.Metrics.RecordToolExecution(toolName, kind, status, elapsed)
}

// drainStream consumes a provider's raw ChatEvent stream, concatenating
// ContentDelta text and assembling tool calls from index-keyed
// ToolCallStart/ToolCallDelta events into a finalized slice once Done
// arrives with finish_reason="tool_calls".
func (e *Engine) drainStream(ctx context.Context, events <-chan *ChatEvent, iteration int) (text string, calls []models.ToolCall, finishReason string, err error) {
	var builder strings.Builder
	var pending []PendingToolCall

	for {
		select {
		case <-ctx.Done():
			return builder.String(), nil, "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return builder.String(), finalizeToolCalls(pending), finishReason, nil
			}

			switch ev.Kind {
			case EventContentDelta:
				builder.WriteString(ev.Text)
				e.publishStream(&StreamEvent{Kind: StreamChatChunk, Text: ev.Text, Iteration: iteration})

			case EventToolCallStart:
				if ev.Index >= len(pending) {
					grown := make([]PendingToolCall, ev.Index+1)
					copy(grown, pending)
					pending = grown
				}
				pending[ev.Index].ID = ev.ToolCallID
				pending[ev.Index].Name = ev.ToolCallName
				e.publishStream(&StreamEvent{
					Kind: StreamToolStart, ToolCallID: ev.ToolCallID, ToolName: ev.ToolCallName, Iteration: iteration,
				})

			case EventToolCallDelta:
				if ev.Index < len(pending) {
					pending[ev.Index].Arguments.WriteString(ev.ArgumentsChunk)
				}

			case EventDone:
				finishReason = ev.FinishReason
				return builder.String(), finalizeToolCalls(pending), finishReason, nil

			case EventError:
				return builder.String(), nil, "", fmt.Errorf("provider stream error: %s", ev.Message)
			}
		}
	}
}

func finalizeToolCalls(pending []PendingToolCall) []models.ToolCall {
	if len(pending) == 0 {
		return nil
	}
	calls := make([]models.ToolCall, 0, len(pending))
	for _, p := range pending {
		if p.Name == "" {
			continue
		}
		args := p.Arguments.String()
		if args == "" {
			args = "{}"
		}
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		calls = append(calls, models.ToolCall{ID: id, Name: p.Name, Input: json.RawMessage(args)})
	}
	return calls
}

func (e *Engine) partitionByKind(calls []models.ToolCall) (reads, mutates, interactive []models.ToolCall) {
	for _, c := range calls {
		switch e.registry.Kind(c.Name) {
		case policy.ToolKindRead:
			reads = append(reads, c)
		case policy.ToolKindInteractive:
			interactive = append(interactive, c)
		default:
			mutates = append(mutates, c)
		}
	}
	return
}

// headlessSentinel is the literal tool message content appended for an
// interactive tool call when no notification sink (Streaming Bridge) is
// configured to carry the request to a caller who could answer it.
const headlessSentinel = "[not available in headless mode]"

func (e *Engine) runInteractive(ctx context.Context, tc models.ToolCall) models.ToolResult {
	if e.bridge == nil {
		return models.ToolResult{ToolCallID: tc.ID, Content: headlessSentinel}
	}
	if e.arbiter == nil {
		return models.ToolResult{ToolCallID: tc.ID, Content: "interactive tools unavailable: no feedback arbiter configured", IsError: true}
	}

	id, ch := e.arbiter.Register(tc.Name, summarizeToolCall(tc.Name, tc.Input))

	resp, err := e.arbiter.Wait(ctx, id, ch)
	if err != nil {
		return models.ToolResult{ToolCallID: tc.ID, Content: err.Error(), IsError: true}
	}
	if !resp.Approved {
		return models.ToolResult{ToolCallID: tc.ID, Content: "user declined: " + resp.Note, IsError: true}
	}

	result, err := e.registry.Execute(ctx, tc.Name, tc.Input)
	if err != nil {
		return models.ToolResult{ToolCallID: tc.ID, Content: err.Error(), IsError: true}
	}
	return models.ToolResult{ToolCallID: tc.ID, Content: result.Content, IsError: result.IsError}
}

func (e *Engine) observeResult(detector *LoopDetector, r *ExecutionResult, arguments json.RawMessage) LoopSeverity {
	isError := r.Error != nil || (r.Result != nil && r.Result.IsError)
	return detector.Observe(r.ToolName, arguments, isError)
}

func toModelResult(r *ExecutionResult) models.ToolResult {
	if r.Error != nil {
		return models.ToolResult{ToolCallID: r.ToolCallID, Content: r.Error.Error(), IsError: true}
	}
	if r.Result == nil {
		return models.ToolResult{ToolCallID: r.ToolCallID, Content: "", IsError: false}
	}
	return models.ToolResult{ToolCallID: r.ToolCallID, Content: r.Result.Content, IsError: r.Result.IsError}
}

func (e *Engine) emitEvent(ctx context.Context, eventType models.AgentEventType, iteration int) {
	if e.plugins == nil {
		return
	}
	e.plugins.Emit(ctx, models.AgentEvent{
		Version:   1,
		Type:      eventType,
		Time:      time.Now(),
		IterIndex: iteration,
	})
}

func (e *Engine) publishStream(ev *StreamEvent) {
	if e.bridge == nil {
		return
	}
	e.bridge.Publish(ev)
}

func (e *Engine) persist(ctx context.Context, sessionID string, role models.Role, content string, toolCalls []models.ToolCall, toolResults []models.ToolResult) {
	if e.sessions == nil {
		return
	}
	msg := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Role:        role,
		Content:     content,
		ToolCalls:   toolCalls,
		ToolResults: toolResults,
		CreatedAt:   time.Now(),
	}
	if err := e.sessions.AppendMessage(ctx, sessionID, msg); err != nil {
		e.opts.Logger.Warn("failed to persist message", "error", err, "session_id", sessionID)
	}
}
