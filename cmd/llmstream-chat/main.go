package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ferrow/llmstream/go/ai"
	"github.com/ferrow/llmstream/go/ai/provider"
	"github.com/ferrow/llmstream/go/ai/provider/anthropic"
	"github.com/ferrow/llmstream/go/ai/provider/google"
	"github.com/ferrow/llmstream/go/ai/provider/openai"
	"github.com/ferrow/llmstream/go/ai/tool"
	"github.com/ferrow/llmstream/go/ai/toolcall"
	"github.com/ferrow/llmstream/go/flags"
	"github.com/ferrow/llmstream/go/jsonutil"
	"github.com/ferrow/llmstream/go/logging"
	"github.com/ferrow/llmstream/go/prometheus"
	"github.com/ferrow/llmstream/go/routine"
)

var opts struct {
	Logging    *logging.Opts    `group:"Logging" namespace:"logging" env-namespace:"LOGGING"`
	Prometheus *prometheus.Opts `group:"Prometheus" namespace:"prometheus" env-namespace:"PROMETHEUS"`

	AnthropicAPIKey string `long:"anthropic-api-key" env:"ANTHROPIC_API_KEY" description:"Anthropic API key"`
	OpenaiAPIKey    string `long:"openai-api-key" env:"OPENAI_API_KEY" description:"OpenAI API key"`
	GroqAPIKey      string `long:"groq-api-key" env:"GROQ_API_KEY" description:"Groq API key"`
	CerebrasAPIKey  string `long:"cerebras-api-key" env:"CEREBRAS_API_KEY" description:"Cerebras API key"`
	GoogleAPIKey    string `long:"google-api-key" env:"GOOGLE_API_KEY" description:"Google API key"`
	XaiAPIKey       string `long:"xai-api-key" env:"XAI_API_KEY" description:"xAI API key"`

	Provider         string  `long:"provider" description:"Provider name" default:"anthropic"`
	Model            string  `long:"model" description:"Model ID" default:"claude-sonnet-4-5"`
	System           string  `long:"system" description:"System message" default:"You are a helpful assistant."`
	Message          string  `long:"message" description:"User message (empty for interactive mode)"`
	MaxTokens        int64   `long:"max-tokens" description:"Max tokens to generate" default:"10000"`
	Temperature      float64 `long:"temperature" description:"Temperature 0.0-2.0" default:"1.0"`
	UseTools         bool    `long:"use-tools" description:"Enable tool calling with a sample weather tool"`
	PartialToolCalls bool    `long:"partial-tool-calls" description:"Stream healed snapshots of in-flight tool calls"`
	MaxToolRounds    int     `long:"max-tool-rounds" description:"Max tool dispatch rounds per user turn" default:"8"`
}

const (
	colorYellow = "\033[1;33m"
	colorCyan   = "\033[1;36m"
	colorGreen  = "\033[1;32m"
	colorRed    = "\033[1;31m"
	colorDim    = "\033[2m"
	colorReset  = "\033[0m"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		slog.ErrorContext(ctx, "running", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := flags.Parse(&opts); err != nil {
		return err
	}
	if err := logging.Init(opts.Logging); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted")
		cancel()
	}()

	if opts.Prometheus.Enabled() {
		promServer := prometheus.NewServer(opts.Prometheus)
		promRoutine := routine.New(
			"prometheus-server",
			func(ctx context.Context) error {
				promServer.Start(ctx)
				return nil
			},
			func(err error) { slog.Error("prometheus server permanent error", "error", err) },
		).WithTickerS(5).Start(ctx)
		defer promRoutine.Close()
		defer promServer.Stop(context.Background())
	}

	registry := buildRegistry()
	if len(registry.Ids()) == 0 {
		return fmt.Errorf("no provider configured: set at least one API key")
	}
	if err := registry.StartAll(ctx); err != nil {
		return err
	}
	defer registry.StopAll()

	client, err := registry.Get(opts.Provider)
	if err != nil {
		return fmt.Errorf("%w (configured: %s)", err, strings.Join(registry.Ids(), ", "))
	}

	session := &chat{
		client:     client,
		dispatcher: tool.NewDispatcher(toolRegistry()),
	}

	printRequestInfo()

	if opts.Message != "" {
		return session.runTurn(ctx, opts.Message)
	}
	return session.runInteractive(ctx)
}

func buildRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	if opts.AnthropicAPIKey != "" {
		registry.Register(anthropic.NewClient(opts.AnthropicAPIKey))
	}
	if opts.OpenaiAPIKey != "" {
		registry.Register(openai.NewClient(opts.OpenaiAPIKey))
	}
	if opts.GroqAPIKey != "" {
		registry.Register(openai.NewGroqClient(opts.GroqAPIKey))
	}
	if opts.CerebrasAPIKey != "" {
		registry.Register(openai.NewCerebrasClient(opts.CerebrasAPIKey))
	}
	if opts.GoogleAPIKey != "" {
		registry.Register(google.NewClient(opts.GoogleAPIKey))
	}
	if opts.XaiAPIKey != "" {
		registry.Register(openai.NewXaiClient(opts.XaiAPIKey))
	}
	return registry
}

type chat struct {
	client     provider.TextToTextClient
	dispatcher *tool.Dispatcher
	messages   []*ai.Message
}

func (c *chat) runInteractive(ctx context.Context) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%sEntering multi-turn mode. Type 'exit' to quit.%s\n\n", colorGreen, colorReset)

	for {
		fmt.Printf("%sYou: %s", colorGreen, colorReset)
		os.Stdout.Sync()

		input, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			break
		}

		if err := c.runTurn(ctx, input); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Printf("\n%sError: %v%s\n", colorRed, err, colorReset)
		}
		fmt.Println()
	}

	return nil
}

// runTurn sends one user message and keeps generating until the model stops
// asking for tools.
func (c *chat) runTurn(ctx context.Context, input string) error {
	c.messages = append(c.messages, ai.NewUserMessage(ai.NewTextBlock(input)))

	for round := 0; ; round++ {
		fmt.Printf("%sAssistant: %s", colorCyan, colorReset)
		os.Stdout.Sync()

		response, err := c.generate(ctx)
		if err != nil {
			c.messages = c.messages[:len(c.messages)-1]
			return err
		}
		c.messages = append(c.messages, response.Message)

		// Gemini reports a plain stop even when it emitted tool calls, so
		// dispatch on the calls themselves rather than the stop reason.
		toolCalls := response.Message.ToolCalls()
		if len(toolCalls) == 0 {
			return nil
		}
		if round >= opts.MaxToolRounds {
			return fmt.Errorf("exceeded %d tool rounds", opts.MaxToolRounds)
		}
		if err := c.dispatchToolCalls(ctx, toolCalls); err != nil {
			slog.WarnContext(ctx, "tool dispatch reported failures", "error", err)
		}
	}
}

// generate streams one assistant generation, printing events as they arrive.
func (c *chat) generate(ctx context.Context) (*ai.Response, error) {
	accumulator := ai.NewMessageAccumulator()
	stream := provider.NewStreamFunc(ctx, func(response *ai.StreamResponse) error {
		printStreamResponse(response)
		return accumulator.Add(response)
	})

	request := &provider.Request{
		Model:            opts.Model,
		System:           opts.System,
		Messages:         c.messages,
		MaxTokens:        opts.MaxTokens,
		Temperature:      opts.Temperature,
		PartialToolCalls: opts.PartialToolCalls,
	}
	if opts.UseTools {
		request.Tools = c.dispatcher.Registry().Definitions()
	}

	if err := c.client.TextToTextStream(request, stream); err != nil {
		return nil, fmt.Errorf("streaming generation: %w", err)
	}
	fmt.Println()
	return accumulator.Response(), nil
}

func (c *chat) dispatchToolCalls(ctx context.Context, toolCalls []*ai.ToolCall) error {
	calls := make([]toolcall.CompletedToolCall, 0, len(toolCalls))
	for _, call := range toolCalls {
		calls = append(calls, toolcall.CompletedToolCall{
			ID:   call.ID,
			Name: call.Name,
			Args: call.Args,
		})
	}

	results, err := c.dispatcher.Dispatch(ctx, calls)

	blocks := make([]*ai.Block, 0, len(results))
	for _, result := range results {
		printToolResult(result)
		blocks = append(blocks, ai.NewToolResultBlock(result))
	}
	c.messages = append(c.messages, ai.NewToolMessage(blocks...))
	return err
}

func printStreamResponse(response *ai.StreamResponse) {
	switch {
	case response.Block != nil:
		printBlock(response.Block)

	case response.StopReason != ai.StopReasonUnspecified:
		fmt.Printf("\n%s[stop: %s]%s", colorDim, response.StopReason, colorReset)

	case response.Usage != nil:
		printUsageCompact(response.Usage)

	case response.Metrics != nil:
		printMetricsCompact(response.Metrics)
	}
	os.Stdout.Sync()
}

func printBlock(block *ai.Block) {
	switch block.Type {
	case ai.BlockTypeText:
		fmt.Print(block.Text)

	case ai.BlockTypeThought:
		fmt.Printf("%s%s%s", colorYellow, block.Thought, colorReset)

	case ai.BlockTypePartialToolCall:
		fmt.Printf("\n%s[partial %s: %s]%s", colorDim, block.ToolCall.Name, jsonutil.MustMarshalPretty(block.ToolCall.Args), colorReset)

	case ai.BlockTypeToolCall:
		fmt.Printf("\n%s[tool call %s (%s)]%s\n%s\n", colorCyan, block.ToolCall.Name, block.ToolCall.ID, colorReset, jsonutil.MustMarshalPretty(block.ToolCall.Args))
	}
}

func printToolResult(result *ai.ToolResult) {
	if result.Error != "" {
		fmt.Printf("%s[tool %s failed: %s]%s\n", colorRed, result.ToolName, result.Error, colorReset)
		return
	}
	fmt.Printf("%s[tool %s result]%s\n%s\n", colorGreen, result.ToolName, colorReset, result.Content)
}

func printUsageCompact(usage *ai.Usage) {
	parts := []string{
		fmt.Sprintf("in:%d", usage.InputTokens),
		fmt.Sprintf("out:%d", usage.OutputTokens),
	}
	if usage.CacheReadTokens > 0 {
		parts = append(parts, fmt.Sprintf("cache-read:%d", usage.CacheReadTokens))
	}
	if usage.CacheWriteTokens > 0 {
		parts = append(parts, fmt.Sprintf("cache-write:%d", usage.CacheWriteTokens))
	}
	fmt.Printf(" %s[tokens: %s]%s", colorDim, strings.Join(parts, ", "), colorReset)
}

func printMetricsCompact(metrics *ai.GenerationMetrics) {
	var parts []string
	if metrics.TTFB > 0 {
		parts = append(parts, fmt.Sprintf("ttfb:%s", metrics.TTFB))
	}
	if metrics.Duration > 0 {
		parts = append(parts, fmt.Sprintf("duration:%s", metrics.Duration))
	}
	if len(parts) > 0 {
		fmt.Printf(" %s[%s]%s", colorDim, strings.Join(parts, ", "), colorReset)
	}
}

func printRequestInfo() {
	fmt.Println("┌─────────────────────────────────────────────────────────")
	fmt.Printf("│ Provider: %s\n", opts.Provider)
	fmt.Printf("│ Model: %s\n", opts.Model)
	if opts.Message != "" {
		fmt.Printf("│ Message: %s\n", opts.Message)
	} else {
		fmt.Printf("│ Mode: Interactive (multi-turn)\n")
	}
	fmt.Printf("│ Tools: %v\n", opts.UseTools)
	fmt.Printf("│ Partial tool calls: %v\n", opts.PartialToolCalls)
	fmt.Println("└─────────────────────────────────────────────────────────")
}

func toolRegistry() *tool.Registry {
	return tool.NewRegistry(&tool.Tool{
		Name:        "get_weather",
		Description: "Get the current weather for a location",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "City name, e.g. 'Paris' or 'San Francisco'",
				},
				"unit": map[string]any{
					"type":        "string",
					"enum":        []string{"celsius", "fahrenheit"},
					"description": "Temperature unit",
				},
			},
			"required": []string{"location"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			location, _ := args["location"].(string)
			if location == "" {
				return nil, fmt.Errorf("missing location")
			}
			unit, _ := args["unit"].(string)
			if unit == "" {
				unit = "celsius"
			}
			return map[string]any{
				"location":    location,
				"temperature": 21,
				"unit":        unit,
				"conditions":  "partly cloudy",
			}, nil
		},
	})
}
