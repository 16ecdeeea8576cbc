package provider

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/driftlane/outreach-gateway/internal/core"
)

// Dummy simulates a provider for dry runs and local smoke tests.
type Dummy struct {
	FailurePercent int // 0-100
}

func NewDummy() *Dummy { return &Dummy{FailurePercent: 3} }

func (d *Dummy) Send(ctx context.Context, _ core.Account, _ core.SendRequest) (string, error) {
	// Simulate latency and occasional failures.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	if rand.Intn(100) < d.FailurePercent {
		return "", errors.New("provider_temporary_error")
	}
	return "prov-" + randomID(), nil
}

func randomID() string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
