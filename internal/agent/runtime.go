package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/beaconhq/beacon/internal/sessions"
	"github.com/beaconhq/beacon/pkg/models"
)

// Runtime is the long-lived facade a process builds once at startup: an
// LLM provider, a session store, and a tool registry that plugins and
// built-in tool packages register into before any turn runs. It exists
// so plugin loading and tool wiring don't need to know about Engine's
// turn-scoped construction — Runtime.NewEngine builds one on demand.
type Runtime struct {
	provider LLMProvider
	tools    *ToolRegistry
	sessions sessions.Store
	plugins  *PluginRegistry
	logger   *slog.Logger
}

// NewRuntime creates a runtime with an empty tool registry. Call
// RegisterTool to add tools before building an Engine from it.
func NewRuntime(provider LLMProvider, store sessions.Store) *Runtime {
	return &Runtime{
		provider: provider,
		tools:    NewToolRegistry(),
		sessions: store,
		plugins:  NewPluginRegistry(),
		logger:   slog.Default(),
	}
}

// RegisterTool adds a tool to the runtime's registry, available to every
// Engine built from this runtime afterward.
func (r *Runtime) RegisterTool(tool Tool) error {
	if r == nil || r.tools == nil {
		return fmt.Errorf("runtime: tool registry not initialized")
	}
	return r.tools.Register(tool)
}

// Use registers a plugin that observes the agent event stream of every
// Engine built from this runtime afterward.
func (r *Runtime) Use(p Plugin) {
	if r == nil || r.plugins == nil {
		return
	}
	r.plugins.Use(p)
}

// Tools returns the runtime's tool registry.
func (r *Runtime) Tools() *ToolRegistry {
	return r.tools
}

// Provider returns the runtime's LLM provider.
func (r *Runtime) Provider() LLMProvider {
	return r.provider
}

// Sessions returns the runtime's session store.
func (r *Runtime) Sessions() sessions.Store {
	return r.sessions
}

// NewEngine builds a turn engine from the runtime's registered tools,
// provider, and session store. executor, arbiter, and bridge are
// supplied by the caller since their concurrency and fan-out settings
// are process-wide configuration, not runtime state.
func (r *Runtime) NewEngine(executor *Executor, arbiter *FeedbackArbiter, bridge *StreamingBridge, opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = r.logger
	}
	var repo SessionRepository
	if r.sessions != nil {
		repo = sessionRepositoryAdapter{store: r.sessions}
	}
	return NewEngine(r.provider, r.tools, executor, arbiter, bridge, repo, r.plugins, opts)
}

// sessionRepositoryAdapter narrows a full sessions.Store down to the
// single method Engine needs for persistence.
type sessionRepositoryAdapter struct {
	store sessions.Store
}

func (a sessionRepositoryAdapter) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	return a.store.AppendMessage(ctx, sessionID, msg)
}
