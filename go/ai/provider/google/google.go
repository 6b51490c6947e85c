// Package google streams chat generations through the Gemini API.
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/ferrow/llmstream/go/ai/provider"
)

// Client is a Google Gemini API client.
type Client struct {
	apiKey string
	client *genai.Client
}

// NewClient creates a new Google Gemini client.
func NewClient(apiKey string) *Client {
	return &Client{apiKey: apiKey}
}

// Implements the provider.Provider interface.
func (c *Client) Start(ctx context.Context) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: c.apiKey,
	})
	if err != nil {
		return fmt.Errorf("creating genai client: %w", err)
	}
	c.client = client
	return nil
}

// Implements the provider.Provider interface.
func (c *Client) ProviderId() string { return provider.Google }

// Implements the provider.Provider interface.
func (c *Client) Stop() {}

// Verify interface compliance at compile time.
var (
	_ provider.TextToTextClient = (*Client)(nil)
)
