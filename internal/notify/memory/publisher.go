// Package memory provides an in-process notify.Publisher for tests and for
// recipes that do not use the object-store sink (which otherwise requires a
// publisher to be configured).
package memory

import (
	"context"
	"sync"

	"github.com/oriys/fetchengine/internal/notify"
)

// Publisher records every published message; safe for concurrent use.
type Publisher struct {
	mu       sync.Mutex
	Messages []notify.BundleCompletion
}

func New() *Publisher { return &Publisher{} }

func (p *Publisher) Publish(_ context.Context, msg notify.BundleCompletion) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages = append(p.Messages, msg)
	return nil
}

func (p *Publisher) Close() error { return nil }

// Len reports how many messages have been published.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Messages)
}
