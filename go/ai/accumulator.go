package ai

import (
	"fmt"
)

// MessageAccumulator merges the events of one streamed generation into a
// final assistant message. Deltas for a block are folded into a single block
// keyed by stream index; partial tool-call snapshots are skipped since the
// completed call supersedes them.
type MessageAccumulator struct {
	Message           *Message
	StopReason        StopReason
	Usage             *Usage
	Metrics           *GenerationMetrics
	blockIndexToBlock map[int64]*Block
}

func NewMessageAccumulator() *MessageAccumulator {
	return &MessageAccumulator{
		Message:           NewAssistantMessage(),
		blockIndexToBlock: map[int64]*Block{},
	}
}

func (a *MessageAccumulator) Add(response *StreamResponse) error {
	switch {
	case response.Block != nil:
		return a.addBlock(response.Block)

	case response.StopReason != StopReasonUnspecified:
		a.StopReason = response.StopReason

	case response.Usage != nil:
		if a.Usage == nil {
			a.Usage = &Usage{}
		}
		a.Usage.Merge(response.Usage)

	case response.Metrics != nil:
		if a.Metrics == nil {
			a.Metrics = &GenerationMetrics{}
		}
		if response.Metrics.TTFB != 0 {
			a.Metrics.TTFB = response.Metrics.TTFB
		}
		if response.Metrics.Duration != 0 {
			a.Metrics.Duration = response.Metrics.Duration
		}
	}
	return nil
}

func (a *MessageAccumulator) addBlock(delta *Block) error {
	if delta.Type == BlockTypePartialToolCall {
		return nil
	}
	block, ok := a.blockIndexToBlock[delta.Index]
	if !ok {
		block = &Block{Index: delta.Index, Type: delta.Type}
		a.blockIndexToBlock[delta.Index] = block
		a.Message.Blocks = append(a.Message.Blocks, block)
	}
	if block.Type != delta.Type {
		return fmt.Errorf("block %d: received %v content but block has type %v", delta.Index, delta.Type, block.Type)
	}
	switch delta.Type {
	case BlockTypeText:
		block.Text += delta.Text
	case BlockTypeThought:
		block.Thought += delta.Thought
	case BlockTypeToolCall:
		block.ToolCall = delta.ToolCall
	case BlockTypeToolResult:
		block.ToolResult = delta.ToolResult
	}
	return nil
}

func (a *MessageAccumulator) Response() *Response {
	return &Response{
		Message:    a.Message,
		StopReason: a.StopReason,
		Usage:      a.Usage,
		Metrics:    a.Metrics,
	}
}
