// Package ai holds the provider-agnostic message model shared by the
// streaming provider adapters, the tool dispatch layer, and clients.
package ai

import (
	"time"
)

// Role identifies who authored a message.
type Role int

const (
	RoleUnspecified Role = iota
	RoleSystem
	RoleUser
	RoleAssistant
	RoleTool
)

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleTool:
		return "tool"
	default:
		return "unspecified"
	}
}

// StopReason reports why a streamed generation ended.
type StopReason int

const (
	StopReasonUnspecified StopReason = iota
	StopReasonEndTurn
	StopReasonMaxTokens
	StopReasonToolCall
	StopReasonContentFilter
	StopReasonError
)

func (s StopReason) String() string {
	switch s {
	case StopReasonEndTurn:
		return "end_turn"
	case StopReasonMaxTokens:
		return "max_tokens"
	case StopReasonToolCall:
		return "tool_call"
	case StopReasonContentFilter:
		return "content_filter"
	case StopReasonError:
		return "error"
	default:
		return "unspecified"
	}
}

// Usage counts tokens consumed by one generation.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// Merge adds other's counts into u.
func (u *Usage) Merge(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// GenerationMetrics carries provider-side latency measurements for one
// generation.
type GenerationMetrics struct {
	TTFB     time.Duration
	Duration time.Duration
}

// ToolCall is a fully- or partially-assembled call emitted by a model.
// Partial marks in-flight snapshots whose Args may still grow.
type ToolCall struct {
	ID      string
	Name    string
	Args    map[string]any
	Partial bool
}

// ToolResult reports the outcome of executing one tool call. Error is empty
// on success.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Content    string
	Error      string
}

// Tool describes a tool offered to the model. Parameters is a JSON-schema
// object in loose map form; providers serialize it for their wire format.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// BlockType discriminates Block contents.
type BlockType int

const (
	BlockTypeText BlockType = iota
	BlockTypeThought
	BlockTypeToolCall
	BlockTypePartialToolCall
	BlockTypeToolResult
)

// Block is one unit of message content. Exactly one content field is
// populated, matching Type; Index is the position within the streamed
// response.
type Block struct {
	Index      int64
	Type       BlockType
	Text       string
	Thought    string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// Message is an ordered list of blocks from a single author.
type Message struct {
	Role       Role
	Blocks     []*Block
	CreateTime time.Time
}

// StreamResponse is one event of a streamed generation: a content block, a
// stop reason, a usage report, or generation metrics. Exactly one field is
// populated.
type StreamResponse struct {
	Block      *Block
	StopReason StopReason
	Usage      *Usage
	Metrics    *GenerationMetrics
}

// Response is a fully accumulated generation.
type Response struct {
	Message    *Message
	StopReason StopReason
	Usage      *Usage
	Metrics    *GenerationMetrics
}
