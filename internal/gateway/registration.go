package gateway

import (
	"context"
	"net/http"
	"sync"

	"sapo/internal/log"
)

// Registration hosts the generations of one gateway. At most one is active
// and serves requests; a newer installed one waits until SkipWaiting unless
// AutoActivate is set.
type Registration struct {
	// AutoActivate promotes a generation as soon as it is installed, even
	// while another one is active. Set it before the first Register.
	AutoActivate bool

	// lifecycle serialises install and activation
	lifecycle sync.Mutex

	mu      sync.RWMutex
	active  *Gateway
	waiting *Gateway

	transport http.RoundTripper
	logger    *log.Logger
}

// NewRegistration creates an empty registration. Until a generation is
// active every request passes through transport.
func NewRegistration(transport http.RoundTripper, logger *log.Logger) *Registration {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Registration{
		transport: transport,
		logger:    logger.WithComponent(log.ComponentGateway),
	}
}

// Register installs g. It is activated at once when no other generation is
// active, otherwise it waits. A previously waiting generation is discarded.
func (r *Registration) Register(ctx context.Context, g *Gateway) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if err := g.Install(ctx); err != nil {
		return err
	}

	r.mu.RLock()
	hasActive := r.active != nil
	r.mu.RUnlock()

	if !hasActive {
		if err := g.Activate(ctx); err != nil {
			return err
		}
		r.mu.Lock()
		r.active = g
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	if r.waiting != nil {
		r.waiting.retire()
	}
	r.waiting = g
	r.mu.Unlock()
	if r.AutoActivate {
		return r.promote(ctx)
	}
	r.logger.InfoContext(ctx, "Generation waiting", log.NewFields().WithGeneration(g.Generation()).ToSlice()...)
	return nil
}

// SkipWaiting promotes the waiting generation, if any.
func (r *Registration) SkipWaiting(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.promote(ctx)
}

// promote activates the waiting generation. The caller holds lifecycle.
func (r *Registration) promote(ctx context.Context) error {
	r.mu.RLock()
	next := r.waiting
	r.mu.RUnlock()
	if next == nil {
		return nil
	}
	if err := next.Activate(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	previous := r.active
	r.active, r.waiting = next, nil
	r.mu.Unlock()
	if previous != nil {
		previous.retire()
	}
	return nil
}

func (r *Registration) Active() *Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registration) Waiting() *Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// controller is the generation answering messages: the active one, else
// the waiting one.
func (r *Registration) controller() *Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active != nil {
		return r.active
	}
	return r.waiting
}

// RoundTrip implements http.RoundTripper by routing to the active
// generation.
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	if g := r.Active(); g != nil {
		return g.RoundTrip(req)
	}
	return r.transport.RoundTrip(req)
}

// HandleMessage implements MessageHandler.
func (r *Registration) HandleMessage(ctx context.Context, msg Message, reply chan<- Reply) error {
	if msg.Type == MsgSkipWaiting {
		r.logger.InfoContext(ctx, "Skip waiting requested")
		return r.SkipWaiting(ctx)
	}
	g := r.controller()
	if g == nil {
		switch msg.Type {
		case MsgCacheURLs:
			send(ctx, reply, failureReply(ErrNoGeneration))
		case MsgGetVersion:
			send(ctx, reply, Reply{})
		}
		return nil
	}
	return g.HandleMessage(ctx, msg, reply)
}

// Sync forwards a deferred-sync event to the active generation.
func (r *Registration) Sync(ctx context.Context, tag string) error {
	g := r.Active()
	if g == nil {
		return ErrNoGeneration
	}
	return g.Sync(ctx, tag)
}
