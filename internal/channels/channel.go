// Package channels defines the narrow contract external channel adapters
// use to hand messages to the gateway, plus the lifecycle registry that
// lets a runtime plugin register an in-process adapter (Telegram, Slack,
// Discord, or anything else) without the gateway importing its SDK.
package channels

import (
	"context"
	"sync"
	"time"

	"github.com/beaconhq/beacon/pkg/models"
)

// Adapter is the minimal contract for a channel connector.
type Adapter interface {
	Type() models.ChannelType
}

// LifecycleAdapter represents adapters that can start and stop.
type LifecycleAdapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboundAdapter represents adapters that can send messages.
type OutboundAdapter interface {
	Send(ctx context.Context, msg *models.Message) error
}

// InboundAdapter represents adapters that emit inbound messages.
type InboundAdapter interface {
	Messages() <-chan *models.Message
}

// HealthAdapter represents adapters that expose status and metrics.
type HealthAdapter interface {
	Status() Status
	HealthCheck(ctx context.Context) HealthStatus
	Metrics() MetricsSnapshot
}

// FullAdapter aggregates all adapter capabilities for convenience.
type FullAdapter interface {
	Adapter
	LifecycleAdapter
	OutboundAdapter
	InboundAdapter
	HealthAdapter
}

// Status represents the connection status of a channel.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"`
}

// HealthStatus represents the health check result for an adapter.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	LastCheck time.Time     `json:"last_check"`
	Degraded  bool          `json:"degraded,omitempty"`
}

// MetricsSnapshot is a point-in-time count of adapter traffic. Channel
// adapters are external collaborators (spec §1); the gateway only needs
// enough here to surface a health dashboard, not full latency histograms.
type MetricsSnapshot struct {
	ChannelType      models.ChannelType `json:"channel_type"`
	MessagesSent     uint64             `json:"messages_sent"`
	MessagesReceived uint64             `json:"messages_received"`
	MessagesFailed   uint64             `json:"messages_failed"`
}

// Registry tracks the channel adapters a plugin has registered, and lets
// the gateway send outbound replies without knowing which adapter owns a
// given channel type.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[models.ChannelType]Adapter
	inbound   map[models.ChannelType]InboundAdapter
	outbound  map[models.ChannelType]OutboundAdapter
	lifecycle map[models.ChannelType]LifecycleAdapter
	health    map[models.ChannelType]HealthAdapter
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[models.ChannelType]Adapter),
		inbound:   make(map[models.ChannelType]InboundAdapter),
		outbound:  make(map[models.ChannelType]OutboundAdapter),
		lifecycle: make(map[models.ChannelType]LifecycleAdapter),
		health:    make(map[models.ChannelType]HealthAdapter),
	}
}

// Register adds or replaces an adapter for its channel type.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channelType := adapter.Type()
	r.adapters[channelType] = adapter

	if inbound, ok := adapter.(InboundAdapter); ok {
		r.inbound[channelType] = inbound
	} else {
		delete(r.inbound, channelType)
	}

	if outbound, ok := adapter.(OutboundAdapter); ok {
		r.outbound[channelType] = outbound
	} else {
		delete(r.outbound, channelType)
	}

	if lifecycle, ok := adapter.(LifecycleAdapter); ok {
		r.lifecycle[channelType] = lifecycle
	} else {
		delete(r.lifecycle, channelType)
	}

	if health, ok := adapter.(HealthAdapter); ok {
		r.health[channelType] = health
	} else {
		delete(r.health, channelType)
	}
}

// Get returns the adapter registered for a channel type.
func (r *Registry) Get(channelType models.ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[channelType]
	return adapter, ok
}

// GetOutbound returns an adapter that can send messages for the channel.
func (r *Registry) GetOutbound(channelType models.ChannelType) (OutboundAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.outbound[channelType]
	return adapter, ok
}

// HealthAdapters returns a copy of the registered health adapters.
func (r *Registry) HealthAdapters() map[models.ChannelType]HealthAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.ChannelType]HealthAdapter, len(r.health))
	for channelType, adapter := range r.health {
		out[channelType] = adapter
	}
	return out
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	return adapters
}

// StartAll starts every adapter that supports a lifecycle.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycle := make([]LifecycleAdapter, 0, len(r.lifecycle))
	for _, adapter := range r.lifecycle {
		lifecycle = append(lifecycle, adapter)
	}
	r.mu.RUnlock()

	for _, adapter := range lifecycle {
		if err := adapter.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every adapter that supports a lifecycle, continuing past
// individual failures and returning the last one seen.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycle := make([]LifecycleAdapter, 0, len(r.lifecycle))
	for _, adapter := range r.lifecycle {
		lifecycle = append(lifecycle, adapter)
	}
	r.mu.RUnlock()

	var lastErr error
	for _, adapter := range lifecycle {
		if err := adapter.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AggregateMessages fans the inbound stream of every adapter into one
// channel, closed once the context is cancelled or all adapters close.
func (r *Registry) AggregateMessages(ctx context.Context) <-chan *models.Message {
	r.mu.RLock()
	inbound := make([]InboundAdapter, 0, len(r.inbound))
	for _, adapter := range r.inbound {
		inbound = append(inbound, adapter)
	}
	r.mu.RUnlock()

	out := make(chan *models.Message)
	var wg sync.WaitGroup

	for _, adapter := range inbound {
		wg.Add(1)
		go func(a InboundAdapter) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-a.Messages():
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(adapter)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
