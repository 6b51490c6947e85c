package openai

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	"github.com/ferrow/llmstream/go/ai"
	"github.com/ferrow/llmstream/go/ai/provider"
	"github.com/ferrow/llmstream/go/ai/turn"
)

func (c *Client) textToTextStreamV2(request *provider.Request, stream provider.Stream) error {
	ctx := stream.Context()

	messages, err := buildMessagesV2(request)
	if err != nil {
		return err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(request.Model),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if request.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(request.MaxTokens)
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}
	if len(request.Tools) > 0 {
		params.Tools = make([]openai.ChatCompletionToolUnionParam, 0, len(request.Tools))
		for _, tool := range request.Tools {
			params.Tools = append(params.Tools, aiToolToOpenAIV2(tool))
		}
	}

	startTime := time.Now()
	chatStream := c.client2.Chat.Completions.NewStreaming(ctx, params)

	cs := provider.NewAsyncContentSender(stream, 100)
	defer cs.Close()

	tca := turn.New()
	var sentTtfb bool
	var stopReason ai.StopReason

	for chatStream.Next() && cs.Err() == nil {
		chunk := chatStream.Current()

		if !sentTtfb {
			cs.SendMetrics(ctx, &ai.GenerationMetrics{TTFB: time.Since(startTime)})
			sentTtfb = true
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			cs.SendUsage(ctx, &ai.Usage{
				InputTokens:     chunk.Usage.PromptTokens,
				OutputTokens:    chunk.Usage.CompletionTokens,
				CacheReadTokens: chunk.Usage.PromptTokensDetails.CachedTokens,
			})
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			cs.SendBlocks(ctx, ai.NewTextBlock(choice.Delta.Content))
		}
		if reasoning := choice.Delta.JSON.ExtraFields["reasoning"].Raw(); reasoning != "" {
			cs.SendBlocks(ctx, ai.NewThoughtBlock(reasoning))
		}

		for _, toolCall := range choice.Delta.ToolCalls {
			result := tca.AddChunk(toolCall.Index, toolCall.Function.Arguments, toolCall.ID, toolCall.Function.Name)
			if request.PartialToolCalls && !result.Complete {
				if block := provider.PartialToolCallBlock(tca.Accumulator(), result.Index); block != nil {
					cs.SendBlocks(ctx, block)
				}
			}
		}

		if choice.FinishReason != "" {
			var ok bool
			stopReason, ok = openAIFinishReasonToAiV2[string(choice.FinishReason)]
			if !ok {
				return fmt.Errorf("unknown finish reason: %s", choice.FinishReason)
			}
		}
	}

	if err := chatStream.Err(); err != nil {
		tca.Abort()
		return fmt.Errorf("error reading stream: %w", err)
	}

	cs.SendBlocks(ctx, provider.HarvestToolCalls(tca.Accumulator())...)

	if stopReason != ai.StopReasonUnspecified {
		cs.SendStopReason(ctx, stopReason)
	}
	cs.SendMetrics(ctx, &ai.GenerationMetrics{Duration: time.Since(startTime)})

	cs.Close()
	return cs.Wait(ctx)
}

func buildMessagesV2(request *provider.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(request.Messages)+1)
	if request.System != "" {
		messages = append(messages, openai.SystemMessage(request.System))
	}
	for i, msg := range request.Messages {
		switch msg.Role {
		case ai.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Text()))

		case ai.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Text()))

		case ai.RoleAssistant:
			params := &openai.ChatCompletionAssistantMessageParam{}
			if text := msg.Text(); text != "" {
				params.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(text),
				}
			}
			for _, tc := range msg.ToolCalls() {
				bytes, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, fmt.Errorf("message [%d]: marshaling tool call arguments: %w", i, err)
				}
				params.ToolCalls = append(params.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(bytes),
						},
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: params})

		case ai.RoleTool:
			for j, block := range msg.Blocks {
				if block.Type != ai.BlockTypeToolResult {
					return nil, fmt.Errorf("message [%d] block [%d]: unexpected block type %v for tool role", i, j, block.Type)
				}
				text, err := ai.ParseToolResult(block.ToolResult)
				if err != nil {
					return nil, fmt.Errorf("message [%d] block [%d]: converting tool result: %w", i, j, err)
				}
				messages = append(messages, openai.ToolMessage(text, block.ToolResult.ToolCallID))
			}

		default:
			return nil, fmt.Errorf("message [%d]: unexpected role %v", i, msg.Role)
		}
	}
	return messages, nil
}

func aiToolToOpenAIV2(tool *ai.Tool) openai.ChatCompletionToolUnionParam {
	return openai.ChatCompletionToolUnionParam{
		OfFunction: &openai.ChatCompletionFunctionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Parameters),
			},
		},
	}
}

var openAIFinishReasonToAiV2 = map[string]ai.StopReason{
	"stop":           ai.StopReasonEndTurn,
	"length":         ai.StopReasonMaxTokens,
	"tool_calls":     ai.StopReasonToolCall,
	"function_call":  ai.StopReasonToolCall, // Deprecated.
	"content_filter": ai.StopReasonContentFilter,
}
