package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ferrow/llmstream/go/ai"
	"github.com/ferrow/llmstream/go/ai/provider"
	"github.com/ferrow/llmstream/go/ai/turn"
)

// textToTextStreamCompat streams through the legacy chat-completions client
// used for OpenAI-compatible vendors.
func (c *Client) textToTextStreamCompat(request *provider.Request, stream provider.Stream) error {
	ctx := stream.Context()

	messages, err := buildMessagesCompat(request)
	if err != nil {
		return err
	}

	chatCompletionRequest := openai.ChatCompletionRequest{
		Model:               request.Model,
		Messages:            messages,
		MaxCompletionTokens: int(request.MaxTokens),
		Temperature:         float32(request.Temperature),
		Stream:              true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	for _, tool := range request.Tools {
		openaiTool, err := aiToolToCompat(tool)
		if err != nil {
			return fmt.Errorf("converting tool %s: %w", tool.Name, err)
		}
		chatCompletionRequest.Tools = append(chatCompletionRequest.Tools, openaiTool)
	}

	startTime := time.Now()
	chatStream, err := c.client.CreateChatCompletionStream(ctx, chatCompletionRequest)
	if err != nil {
		return fmt.Errorf("chat completion stream failed: %w", err)
	}
	defer chatStream.Close()

	cs := provider.NewAsyncContentSender(stream, 100)
	defer cs.Close()

	tca := turn.New()
	var sentTtfb bool
	var stopReason ai.StopReason
	usage := &ai.Usage{}

	for {
		response, err := chatStream.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			tca.Abort()
			return fmt.Errorf("error reading stream: %w", err)
		}
		if cs.Err() != nil {
			break
		}

		if !sentTtfb {
			cs.SendMetrics(ctx, &ai.GenerationMetrics{TTFB: time.Since(startTime)})
			sentTtfb = true
		}

		if response.Usage != nil {
			usage.InputTokens = int64(response.Usage.PromptTokens)
			usage.OutputTokens = int64(response.Usage.CompletionTokens)
			if response.Usage.PromptTokensDetails != nil {
				usage.CacheReadTokens = int64(response.Usage.PromptTokensDetails.CachedTokens)
			}
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			cs.SendBlocks(ctx, ai.NewTextBlock(choice.Delta.Content))
		}
		if choice.Delta.ReasoningContent != "" {
			cs.SendBlocks(ctx, ai.NewThoughtBlock(choice.Delta.ReasoningContent))
		}
		// Groq reasoning format.
		if choice.Delta.Reasoning != "" {
			cs.SendBlocks(ctx, ai.NewThoughtBlock(choice.Delta.Reasoning))
		}

		for _, toolCall := range choice.Delta.ToolCalls {
			// Some vendors omit the index on continuation chunks; the
			// accumulator routes those to the open call.
			var index int64
			if toolCall.Index != nil {
				index = int64(*toolCall.Index)
			}
			result := tca.AddChunk(index, toolCall.Function.Arguments, toolCall.ID, toolCall.Function.Name)
			if request.PartialToolCalls && !result.Complete {
				if block := provider.PartialToolCallBlock(tca.Accumulator(), result.Index); block != nil {
					cs.SendBlocks(ctx, block)
				}
			}
		}

		if choice.FinishReason != "" {
			var ok bool
			stopReason, ok = openAIFinishReasonToAi[choice.FinishReason]
			if !ok {
				return fmt.Errorf("unknown finish reason: %s", choice.FinishReason)
			}
		}
	}

	cs.SendBlocks(ctx, provider.HarvestToolCalls(tca.Accumulator())...)

	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		cs.SendUsage(ctx, usage)
	}
	if stopReason != ai.StopReasonUnspecified {
		cs.SendStopReason(ctx, stopReason)
	}
	cs.SendMetrics(ctx, &ai.GenerationMetrics{Duration: time.Since(startTime)})

	cs.Close()
	return cs.Wait(ctx)
}

func buildMessagesCompat(request *provider.Request) ([]openai.ChatCompletionMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages)+1)
	if request.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: request.System,
		})
	}
	for i, msg := range request.Messages {
		switch msg.Role {
		case ai.RoleSystem:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Text(),
			})

		case ai.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Text(),
			})

		case ai.RoleAssistant:
			message := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, tc := range msg.ToolCalls() {
				bytes, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, fmt.Errorf("message [%d]: marshaling tool call arguments: %w", i, err)
				}
				message.ToolCalls = append(message.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(bytes),
					},
				})
			}
			messages = append(messages, message)

		case ai.RoleTool:
			for j, block := range msg.Blocks {
				if block.Type != ai.BlockTypeToolResult {
					return nil, fmt.Errorf("message [%d] block [%d]: unexpected block type %v for tool role", i, j, block.Type)
				}
				text, err := ai.ParseToolResult(block.ToolResult)
				if err != nil {
					return nil, fmt.Errorf("message [%d] block [%d]: converting tool result: %w", i, j, err)
				}
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    text,
					ToolCallID: block.ToolResult.ToolCallID,
				})
			}

		default:
			return nil, fmt.Errorf("message [%d]: unexpected role %v", i, msg.Role)
		}
	}
	return messages, nil
}

func aiToolToCompat(tool *ai.Tool) (openai.Tool, error) {
	bytes, err := json.Marshal(tool.Parameters)
	if err != nil {
		return openai.Tool{}, fmt.Errorf("marshaling parameters: %w", err)
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  json.RawMessage(bytes),
		},
	}, nil
}

var openAIFinishReasonToAi = map[openai.FinishReason]ai.StopReason{
	openai.FinishReasonStop:          ai.StopReasonEndTurn,
	openai.FinishReasonLength:        ai.StopReasonMaxTokens,
	openai.FinishReasonToolCalls:     ai.StopReasonToolCall,
	openai.FinishReasonFunctionCall:  ai.StopReasonToolCall, // Deprecated.
	openai.FinishReasonContentFilter: ai.StopReasonContentFilter,
}
