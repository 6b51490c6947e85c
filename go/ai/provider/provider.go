// Package provider defines the streaming provider contract and the shared
// plumbing its adapters use to feed model output into a stream consumer.
package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/ferrow/llmstream/go/ai"
)

const (
	Anthropic = "anthropic"
	Openai    = "openai"
	Groq      = "groq"
	Cerebras  = "cerebras"
	Google    = "google"
	Xai       = "xai"
)

// Provider is the lifecycle surface every adapter implements.
type Provider interface {
	ProviderId() string
	Start(context.Context) error
	Stop()
}

// TextToTextClient streams chat generations.
type TextToTextClient interface {
	Provider
	TextToTextStream(*Request, Stream) error
}

// Request describes one generation. PartialToolCalls asks the adapter to
// stream healed snapshots of in-flight tool calls alongside the text deltas.
type Request struct {
	Model            string
	System           string
	Messages         []*ai.Message
	Tools            []*ai.Tool
	MaxTokens        int64
	Temperature      float64
	PartialToolCalls bool
}

// Stream consumes the events of one streamed generation. Send is called
// from the provider's streaming loop; Context cancels the generation.
type Stream interface {
	Context() context.Context
	Send(*ai.StreamResponse) error
}

// StreamFunc adapts a function to the Stream interface.
type StreamFunc struct {
	ctx context.Context
	fn  func(*ai.StreamResponse) error
}

func NewStreamFunc(ctx context.Context, fn func(*ai.StreamResponse) error) *StreamFunc {
	return &StreamFunc{ctx: ctx, fn: fn}
}

func (s *StreamFunc) Context() context.Context        { return s.ctx }
func (s *StreamFunc) Send(r *ai.StreamResponse) error { return s.fn(r) }

// Registry holds the configured providers keyed by provider id.
type Registry struct {
	providers map[string]TextToTextClient
}

func NewRegistry(clients ...TextToTextClient) *Registry {
	r := &Registry{providers: make(map[string]TextToTextClient, len(clients))}
	for _, client := range clients {
		r.Register(client)
	}
	return r
}

func (r *Registry) Register(client TextToTextClient) {
	r.providers[client.ProviderId()] = client
}

func (r *Registry) Get(providerId string) (TextToTextClient, error) {
	client, ok := r.providers[providerId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ai.ErrUnknownProvider, providerId)
	}
	return client, nil
}

// Ids returns the registered provider ids in sorted order.
func (r *Registry) Ids() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartAll starts every registered provider, stopping the ones already
// started if one fails.
func (r *Registry) StartAll(ctx context.Context) error {
	var started []TextToTextClient
	for _, id := range r.Ids() {
		client := r.providers[id]
		if err := client.Start(ctx); err != nil {
			for _, s := range started {
				s.Stop()
			}
			return fmt.Errorf("starting provider %s: %w", id, err)
		}
		started = append(started, client)
	}
	return nil
}

func (r *Registry) StopAll() {
	for _, client := range r.providers {
		client.Stop()
	}
}
