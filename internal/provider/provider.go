package provider

import (
	"context"
	"fmt"

	"github.com/driftlane/outreach-gateway/internal/core"
)

// Provider delivers one message through a concrete backend. Implementations
// report provider-level success/failure and a message id; they never touch
// usage counters or rotation state.
type Provider interface {
	Send(ctx context.Context, acct core.Account, req core.SendRequest) (providerMsgID string, err error)
}

// Registry maps an account's provider tag to its Provider implementation and
// satisfies core.Sender for the dispatcher.
type Registry struct {
	byKind map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string]Provider)}
}

func (r *Registry) Register(kind string, p Provider) {
	r.byKind[kind] = p
}

func (r *Registry) Send(ctx context.Context, acct core.Account, req core.SendRequest) (string, error) {
	p, ok := r.byKind[acct.Provider]
	if !ok {
		return "", fmt.Errorf("no provider registered for kind %q", acct.Provider)
	}
	return p.Send(ctx, acct, req)
}
