package anthropic

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ferrow/llmstream/go/ai"
	"github.com/ferrow/llmstream/go/ai/provider"
	"github.com/ferrow/llmstream/go/ai/turn"
)

func (c *Client) TextToTextStream(request *provider.Request, stream provider.Stream) error {
	ctx := stream.Context()

	messageParams, err := buildMessageParams(request)
	if err != nil {
		return fmt.Errorf("building message params: %w", err)
	}

	startTime := time.Now()
	messageStream := c.client.Messages.NewStreaming(ctx, messageParams)

	cs := provider.NewAsyncContentSender(stream, 100)
	defer cs.Close()

	tca := turn.New()
	var sentTtfb bool

	for messageStream.Next() && cs.Err() == nil {
		event := messageStream.Current()

		if !sentTtfb {
			cs.SendMetrics(ctx, &ai.GenerationMetrics{TTFB: time.Since(startTime)})
			sentTtfb = true
		}

		switch variant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			cs.SendUsage(ctx, &ai.Usage{
				InputTokens:      variant.Message.Usage.InputTokens,
				CacheReadTokens:  variant.Message.Usage.CacheReadInputTokens,
				CacheWriteTokens: variant.Message.Usage.CacheCreationInputTokens,
			})

		case anthropic.ContentBlockStartEvent:
			switch contentBlock := variant.ContentBlock.AsAny().(type) {
			case anthropic.ToolUseBlock:
				tca.AddChunk(variant.Index, "", contentBlock.ID, contentBlock.Name)
				if request.PartialToolCalls {
					if block := provider.PartialToolCallBlock(tca.Accumulator(), variant.Index); block != nil {
						cs.SendBlocks(ctx, block)
					}
				}
			case anthropic.TextBlock:
			case anthropic.ThinkingBlock:
			case anthropic.RedactedThinkingBlock:
			default:
				return fmt.Errorf("unexpected content block type: %T", contentBlock)
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				block := ai.NewTextBlock(delta.Text)
				block.Index = variant.Index
				cs.SendBlocks(ctx, block)
			case anthropic.ThinkingDelta:
				block := ai.NewThoughtBlock(delta.Thinking)
				block.Index = variant.Index
				cs.SendBlocks(ctx, block)
			case anthropic.SignatureDelta:
			case anthropic.InputJSONDelta:
				result := tca.AddChunk(variant.Index, delta.PartialJSON, "", "")
				if request.PartialToolCalls && !result.Complete {
					if block := provider.PartialToolCallBlock(tca.Accumulator(), result.Index); block != nil {
						cs.SendBlocks(ctx, block)
					}
				}
			default:
				return fmt.Errorf("unexpected delta type: %T", delta)
			}

		case anthropic.ContentBlockStopEvent:

		case anthropic.MessageDeltaEvent:
			if variant.Usage.OutputTokens > 0 {
				cs.SendUsage(ctx, &ai.Usage{OutputTokens: variant.Usage.OutputTokens})
			}
			stopReason, ok := anthropicStopReasonToAi[variant.Delta.StopReason]
			if !ok {
				return fmt.Errorf("unknown stop reason: %s", variant.Delta.StopReason)
			}
			cs.SendStopReason(ctx, stopReason)

		case anthropic.MessageStopEvent:
			cs.SendMetrics(ctx, &ai.GenerationMetrics{Duration: time.Since(startTime)})

		default:
			return fmt.Errorf("unexpected event type: %T", variant)
		}
	}

	if err := messageStream.Err(); err != nil {
		tca.Abort()
		return fmt.Errorf("stream error: %w", err)
	}

	cs.SendBlocks(ctx, provider.HarvestToolCalls(tca.Accumulator())...)

	cs.Close()
	return cs.Wait(ctx)
}

func buildMessageParams(request *provider.Request) (anthropic.MessageNewParams, error) {
	var systemBlocks []anthropic.TextBlockParam
	if request.System != "" {
		systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: request.System})
	}

	messages := make([]anthropic.MessageParam, 0, len(request.Messages))
	for i, msg := range request.Messages {
		switch msg.Role {
		case ai.RoleSystem:
			for j, block := range msg.Blocks {
				if block.Type != ai.BlockTypeText {
					return anthropic.MessageNewParams{}, fmt.Errorf("message [%d] block [%d]: unexpected block type %v for system role", i, j, block.Type)
				}
				systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: block.Text})
			}

		case ai.RoleUser:
			var contentBlocks []anthropic.ContentBlockParamUnion
			for j, block := range msg.Blocks {
				if block.Type != ai.BlockTypeText {
					return anthropic.MessageNewParams{}, fmt.Errorf("message [%d] block [%d]: unexpected block type %v for user role", i, j, block.Type)
				}
				contentBlocks = append(contentBlocks, anthropic.NewTextBlock(block.Text))
			}
			messages = append(messages, anthropic.NewUserMessage(contentBlocks...))

		case ai.RoleAssistant:
			var contentBlocks []anthropic.ContentBlockParamUnion
			for j, block := range msg.Blocks {
				switch block.Type {
				case ai.BlockTypeText:
					contentBlocks = append(contentBlocks, anthropic.NewTextBlock(block.Text))
				case ai.BlockTypeThought:
					// Thought replay needs the provider signature, which the
					// model layer does not retain.
				case ai.BlockTypeToolCall:
					tc := block.ToolCall
					bytes, err := json.Marshal(tc.Args)
					if err != nil {
						return anthropic.MessageNewParams{}, fmt.Errorf("message [%d] block [%d]: marshaling tool call arguments: %w", i, j, err)
					}
					contentBlocks = append(contentBlocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(bytes), tc.Name))
				default:
					return anthropic.MessageNewParams{}, fmt.Errorf("message [%d] block [%d]: unexpected block type %v for assistant role", i, j, block.Type)
				}
			}
			messages = append(messages, anthropic.NewAssistantMessage(contentBlocks...))

		case ai.RoleTool:
			for j, block := range msg.Blocks {
				if block.Type != ai.BlockTypeToolResult {
					return anthropic.MessageNewParams{}, fmt.Errorf("message [%d] block [%d]: unexpected block type %v for tool role", i, j, block.Type)
				}
				tr := block.ToolResult
				text, err := ai.ParseToolResult(tr)
				if err != nil {
					return anthropic.MessageNewParams{}, fmt.Errorf("message [%d] block [%d]: converting tool result: %w", i, j, err)
				}
				toolResultBlock := anthropic.NewToolResultBlock(tr.ToolCallID, text, tr.Error != "")
				messages = append(messages, anthropic.NewUserMessage(toolResultBlock))
			}

		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("message [%d]: unexpected role %v", i, msg.Role)
		}
	}

	messageParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: request.MaxTokens,
	}
	if request.Temperature > 0 {
		messageParams.Temperature = anthropic.Float(request.Temperature)
	}
	if len(systemBlocks) > 0 {
		messageParams.System = systemBlocks
	}
	if len(request.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(request.Tools))
		for _, tool := range request.Tools {
			tools = append(tools, aiToolToAnthropic(tool))
		}
		messageParams.Tools = tools
	}
	return messageParams, nil
}

func aiToolToAnthropic(tool *ai.Tool) anthropic.ToolUnionParam {
	inputSchema := anthropic.ToolInputSchemaParam{
		Type:       "object",
		Properties: map[string]any{},
	}
	if properties, ok := tool.Parameters["properties"].(map[string]any); ok {
		inputSchema.Properties = properties
	}
	if required, ok := tool.Parameters["required"].([]string); ok {
		inputSchema.Required = required
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			Type:        anthropic.ToolTypeCustom,
			InputSchema: inputSchema,
		},
	}
}

var anthropicStopReasonToAi = map[anthropic.StopReason]ai.StopReason{
	anthropic.StopReasonEndTurn:      ai.StopReasonEndTurn,
	anthropic.StopReasonMaxTokens:    ai.StopReasonMaxTokens,
	anthropic.StopReasonToolUse:      ai.StopReasonToolCall,
	anthropic.StopReasonStopSequence: ai.StopReasonEndTurn,
	anthropic.StopReasonPauseTurn:    ai.StopReasonEndTurn,
	anthropic.StopReasonRefusal:      ai.StopReasonContentFilter,
}
