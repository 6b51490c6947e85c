package google

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/ferrow/llmstream/go/ai"
	"github.com/ferrow/llmstream/go/ai/provider"
	"github.com/ferrow/llmstream/go/ai/turn"
)

const (
	blockTypeText     = "text"
	blockTypeThought  = "thought"
	blockTypeToolCall = "tool_call"
)

func (c *Client) TextToTextStream(request *provider.Request, stream provider.Stream) error {
	ctx := stream.Context()

	contents, systemInstruction, err := buildContents(request)
	if err != nil {
		return fmt.Errorf("building contents: %w", err)
	}

	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}
	if request.Temperature > 0 {
		temp := float32(request.Temperature)
		config.Temperature = &temp
	}
	if len(request.Tools) > 0 {
		config.Tools = buildTools(request.Tools)
	}

	startTime := time.Now()
	iter := c.client.Models.GenerateContentStream(ctx, request.Model, contents, config)

	cs := provider.NewAsyncContentSender(stream, 100)
	defer cs.Close()

	tca := turn.New()

	var sentTtfb bool
	var stopReason ai.StopReason

	// Gemini reports no block indices; synthesize them as block types
	// change.
	var currentBlockIndex int64 = -1
	var currentBlockType string

	for resp, err := range iter {
		if err != nil {
			tca.Abort()
			return fmt.Errorf("reading stream: %w", err)
		}
		if err := cs.Err(); err != nil {
			return fmt.Errorf("sending content: %w", err)
		}

		if !sentTtfb {
			cs.SendMetrics(ctx, &ai.GenerationMetrics{TTFB: time.Since(startTime)})
			sentTtfb = true
		}

		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}

			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					if part.Thought {
						if currentBlockType != blockTypeThought {
							currentBlockIndex++
							currentBlockType = blockTypeThought
						}
						block := ai.NewThoughtBlock(part.Text)
						block.Index = currentBlockIndex
						cs.SendBlocks(ctx, block)
					} else {
						if currentBlockType != blockTypeText {
							currentBlockIndex++
							currentBlockType = blockTypeText
						}
						block := ai.NewTextBlock(part.Text)
						block.Index = currentBlockIndex
						cs.SendBlocks(ctx, block)
					}
				}

				if part.FunctionCall != nil {
					fc := part.FunctionCall

					// A call that is not a continuation of the open
					// tool-call block starts a new one. The accumulator's
					// own collision handling covers the case where the
					// model reuses the block for a second call.
					if currentBlockType != blockTypeToolCall {
						currentBlockIndex++
						currentBlockType = blockTypeToolCall
					}

					var fragment string
					if fc.Args != nil {
						argsJSON, err := json.Marshal(fc.Args)
						if err != nil {
							return fmt.Errorf("marshaling function call args: %w", err)
						}
						fragment = string(argsJSON)
					}
					result := tca.AddChunk(currentBlockIndex, fragment, fc.ID, fc.Name)

					willContinue := fc.WillContinue != nil && *fc.WillContinue
					if willContinue && request.PartialToolCalls && !result.Complete {
						if block := provider.PartialToolCallBlock(tca.Accumulator(), result.Index); block != nil {
							cs.SendBlocks(ctx, block)
						}
					}
				}
			}

			if candidate.FinishReason != genai.FinishReasonUnspecified {
				var ok bool
				stopReason, ok = finishReasonToAi[candidate.FinishReason]
				if !ok {
					return fmt.Errorf("unknown finish reason: %v", candidate.FinishReason)
				}
			}
		}

		if resp.UsageMetadata != nil {
			cs.SendUsage(ctx, buildUsage(resp.UsageMetadata))
		}
	}

	cs.SendBlocks(ctx, provider.HarvestToolCalls(tca.Accumulator())...)

	if stopReason != ai.StopReasonUnspecified {
		cs.SendStopReason(ctx, stopReason)
	}
	cs.SendMetrics(ctx, &ai.GenerationMetrics{Duration: time.Since(startTime)})

	cs.Close()
	return cs.Wait(ctx)
}

func buildContents(request *provider.Request) ([]*genai.Content, string, error) {
	var contents []*genai.Content
	systemInstruction := request.System

	for i, msg := range request.Messages {
		switch msg.Role {
		case ai.RoleSystem:
			for j, block := range msg.Blocks {
				if block.Type != ai.BlockTypeText {
					return nil, "", fmt.Errorf("message [%d] block [%d]: unexpected block type %v for system role", i, j, block.Type)
				}
				if systemInstruction != "" {
					systemInstruction += "\n\n"
				}
				systemInstruction += block.Text
			}

		case ai.RoleUser:
			var parts []*genai.Part
			for j, block := range msg.Blocks {
				if block.Type != ai.BlockTypeText {
					return nil, "", fmt.Errorf("message [%d] block [%d]: unexpected block type %v for user role", i, j, block.Type)
				}
				parts = append(parts, &genai.Part{Text: block.Text})
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: parts,
			})

		case ai.RoleAssistant:
			var parts []*genai.Part
			for j, block := range msg.Blocks {
				switch block.Type {
				case ai.BlockTypeText:
					parts = append(parts, &genai.Part{Text: block.Text})
				case ai.BlockTypeThought:
					parts = append(parts, &genai.Part{Text: block.Thought, Thought: true})
				case ai.BlockTypeToolCall:
					tc := block.ToolCall
					if tc.Name == "" {
						return nil, "", fmt.Errorf("message [%d] block [%d]: tool call missing name", i, j)
					}
					parts = append(parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							Name: tc.Name,
							Args: tc.Args,
						},
					})
				default:
					return nil, "", fmt.Errorf("message [%d] block [%d]: unexpected block type %v for assistant role", i, j, block.Type)
				}
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: parts,
			})

		case ai.RoleTool:
			for j, block := range msg.Blocks {
				if block.Type != ai.BlockTypeToolResult {
					return nil, "", fmt.Errorf("message [%d] block [%d]: unexpected block type %v for tool role", i, j, block.Type)
				}
				content, err := buildToolResultContent(block.ToolResult)
				if err != nil {
					return nil, "", fmt.Errorf("message [%d] block [%d]: %w", i, j, err)
				}
				contents = append(contents, content)
			}

		default:
			return nil, "", fmt.Errorf("message [%d]: unexpected role %v", i, msg.Role)
		}
	}

	return contents, systemInstruction, nil
}

func buildToolResultContent(tr *ai.ToolResult) (*genai.Content, error) {
	content, err := ai.ParseToolResult(tr)
	if err != nil {
		return nil, fmt.Errorf("parsing tool result: %w", err)
	}
	key := "output"
	if tr.Error != "" {
		key = "error"
	}
	functionResponse := &genai.FunctionResponse{
		ID:       tr.ToolCallID,
		Name:     tr.ToolName,
		Response: map[string]any{key: content},
	}
	return &genai.Content{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{FunctionResponse: functionResponse},
		},
	}, nil
}

func buildTools(tools []*ai.Tool) []*genai.Tool {
	functionDeclarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		functionDeclarations = append(functionDeclarations, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: tool.Parameters,
		})
	}
	return []*genai.Tool{
		{FunctionDeclarations: functionDeclarations},
	}
}

func buildUsage(usage *genai.GenerateContentResponseUsageMetadata) *ai.Usage {
	return &ai.Usage{
		InputTokens:     int64(usage.PromptTokenCount),
		OutputTokens:    int64(usage.CandidatesTokenCount),
		CacheReadTokens: int64(usage.CachedContentTokenCount),
	}
}

var finishReasonToAi = map[genai.FinishReason]ai.StopReason{
	genai.FinishReason(""):                  ai.StopReasonEndTurn,
	genai.FinishReasonStop:                  ai.StopReasonEndTurn,
	genai.FinishReasonMaxTokens:             ai.StopReasonMaxTokens,
	genai.FinishReasonSafety:                ai.StopReasonContentFilter,
	genai.FinishReasonRecitation:            ai.StopReasonContentFilter,
	genai.FinishReasonLanguage:              ai.StopReasonContentFilter,
	genai.FinishReasonOther:                 ai.StopReasonEndTurn,
	genai.FinishReasonBlocklist:             ai.StopReasonContentFilter,
	genai.FinishReasonProhibitedContent:     ai.StopReasonContentFilter,
	genai.FinishReasonSPII:                  ai.StopReasonContentFilter,
	genai.FinishReasonMalformedFunctionCall: ai.StopReasonEndTurn,
	genai.FinishReasonImageSafety:           ai.StopReasonContentFilter,
	genai.FinishReasonUnexpectedToolCall:    ai.StopReasonEndTurn,
}
