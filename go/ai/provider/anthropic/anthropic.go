// Package anthropic streams chat generations through Anthropic's Messages
// API.
package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ferrow/llmstream/go/ai/provider"
)

// Client implements the provider interfaces using Anthropic's API.
type Client struct {
	client anthropic.Client
}

// NewClient creates a new Anthropic client.
func NewClient(apiKey string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Implements the provider.Provider interface.
func (c *Client) ProviderId() string { return provider.Anthropic }

// Implements the provider.Provider interface.
func (c *Client) Start(context.Context) error { return nil }

// Implements the provider.Provider interface.
func (c *Client) Stop() {}

// Verify interface compliance at compile time.
var (
	_ provider.TextToTextClient = (*Client)(nil)
)
