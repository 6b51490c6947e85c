// Package openai streams chat generations through OpenAI's API and through
// OpenAI-compatible vendors (Groq, Cerebras, xAI).
package openai

import (
	"context"

	openai2 "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ferrow/llmstream/go/ai/provider"
)

type config struct {
	ID      string
	BaseUrl string
}

func (c *config) clientConfig(apiKey string) openai.ClientConfig {
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = c.BaseUrl
	return clientConfig
}

// Client implements the provider interfaces using OpenAI's API. The openai
// provider itself streams through the current SDK (client2); compatible
// vendors stream through the legacy chat-completions client, which tolerates
// their protocol drift better.
type Client struct {
	config  *config
	client  *openai.Client
	client2 openai2.Client
}

func newClient(apiKey string, config *config) *Client {
	return &Client{
		config:  config,
		client:  openai.NewClientWithConfig(config.clientConfig(apiKey)),
		client2: openai2.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(config.BaseUrl)),
	}
}

func NewClient(apiKey string) *Client {
	return newClient(apiKey, configOpenAI)
}

func NewGroqClient(apiKey string) *Client {
	return newClient(apiKey, configGroq)
}

func NewCerebrasClient(apiKey string) *Client {
	return newClient(apiKey, configCerebras)
}

func NewXaiClient(apiKey string) *Client {
	return newClient(apiKey, configXai)
}

// Implements the provider.Provider interface.
func (c *Client) ProviderId() string { return c.config.ID }

// Implements the provider.Provider interface.
func (c *Client) Start(context.Context) error { return nil }

// Implements the provider.Provider interface.
func (c *Client) Stop() {}

// Implements the provider.TextToTextClient interface.
func (c *Client) TextToTextStream(request *provider.Request, stream provider.Stream) error {
	if c.config.ID == provider.Openai {
		return c.textToTextStreamV2(request, stream)
	}
	return c.textToTextStreamCompat(request, stream)
}

// Verify interface compliance at compile time.
var (
	_ provider.TextToTextClient = (*Client)(nil)
)

var configOpenAI = &config{
	ID:      provider.Openai,
	BaseUrl: "https://api.openai.com/v1",
}

var configGroq = &config{
	ID:      provider.Groq,
	BaseUrl: "https://api.groq.com/openai/v1",
}

var configCerebras = &config{
	ID:      provider.Cerebras,
	BaseUrl: "https://api.cerebras.ai/v1",
}

var configXai = &config{
	ID:      provider.Xai,
	BaseUrl: "https://api.x.ai/v1",
}
