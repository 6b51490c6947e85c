package ai

import (
	"encoding/json"
	"fmt"
	"time"
)

func newMessage(role Role, blocks ...*Block) *Message {
	return &Message{
		CreateTime: time.Now(),
		Role:       role,
		Blocks:     blocks,
	}
}

func NewSystemMessage(blocks ...*Block) *Message {
	return newMessage(RoleSystem, blocks...)
}

func NewAssistantMessage(blocks ...*Block) *Message {
	return newMessage(RoleAssistant, blocks...)
}

func NewUserMessage(blocks ...*Block) *Message {
	return newMessage(RoleUser, blocks...)
}

func NewToolMessage(blocks ...*Block) *Message {
	return newMessage(RoleTool, blocks...)
}

func NewTextBlock(text string) *Block {
	return &Block{Type: BlockTypeText, Text: text}
}

func NewThoughtBlock(thought string) *Block {
	return &Block{Type: BlockTypeThought, Thought: thought}
}

func NewToolCallBlock(toolCall *ToolCall) *Block {
	return &Block{Type: BlockTypeToolCall, ToolCall: toolCall}
}

func NewPartialToolCallBlock(toolCall *ToolCall) *Block {
	return &Block{Type: BlockTypePartialToolCall, ToolCall: toolCall}
}

func NewToolResultBlock(toolResult *ToolResult) *Block {
	return &Block{Type: BlockTypeToolResult, ToolResult: toolResult}
}

func NewToolResult(toolName, toolCallID, content string) *ToolResult {
	return &ToolResult{
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Content:    content,
	}
}

func NewStructuredToolResult(toolName, toolCallID string, content any) (*ToolResult, error) {
	bytes, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshaling tool result structured content: %v", err)
	}
	return &ToolResult{
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Content:    string(bytes),
	}, nil
}

func NewErrorToolResult(toolName, toolCallID string, err error) *ToolResult {
	return &ToolResult{
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Error:      err.Error(),
	}
}

// ParseToolResult renders a tool result as the text handed back to the
// model.
func ParseToolResult(toolResult *ToolResult) (string, error) {
	if toolResult == nil {
		return "", fmt.Errorf("nil tool result")
	}
	if toolResult.Error != "" {
		return fmt.Sprintf("tool error: %s", toolResult.Error), nil
	}
	return toolResult.Content, nil
}

// GetBlocks filters a message's blocks down to the given types.
func GetBlocks(message *Message, blockTypes ...BlockType) []*Block {
	typeSet := make(map[BlockType]struct{}, len(blockTypes))
	for _, bt := range blockTypes {
		typeSet[bt] = struct{}{}
	}

	var blocks []*Block
	for _, block := range message.Blocks {
		if _, ok := typeSet[block.Type]; ok {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// ToolCalls returns the completed tool calls of a message, in block order.
func (m *Message) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, block := range GetBlocks(m, BlockTypeToolCall) {
		calls = append(calls, block.ToolCall)
	}
	return calls
}

// Text concatenates the message's text blocks.
func (m *Message) Text() string {
	var text string
	for _, block := range GetBlocks(m, BlockTypeText) {
		text += block.Text
	}
	return text
}

func NewBlockResponse(block *Block) *StreamResponse {
	return &StreamResponse{Block: block}
}

func NewStopReasonResponse(stopReason StopReason) *StreamResponse {
	return &StreamResponse{StopReason: stopReason}
}

func NewUsageResponse(usage *Usage) *StreamResponse {
	return &StreamResponse{Usage: usage}
}

func NewMetricsResponse(metrics *GenerationMetrics) *StreamResponse {
	return &StreamResponse{Metrics: metrics}
}
