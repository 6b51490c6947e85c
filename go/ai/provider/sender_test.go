package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrow/llmstream/go/ai"
	"github.com/ferrow/llmstream/go/ai/toolcall"
)

type captureStream struct {
	ctx context.Context

	mu        sync.Mutex
	responses []*ai.StreamResponse
	failAfter int
}

func newCaptureStream(ctx context.Context) *captureStream {
	return &captureStream{ctx: ctx, failAfter: -1}
}

func (s *captureStream) Context() context.Context { return s.ctx }

func (s *captureStream) Send(r *ai.StreamResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter >= 0 && len(s.responses) >= s.failAfter {
		return errors.New("consumer gone")
	}
	s.responses = append(s.responses, r)
	return nil
}

func (s *captureStream) sent() []*ai.StreamResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ai.StreamResponse(nil), s.responses...)
}

func TestAsyncContentSender_DeliversInOrder(t *testing.T) {
	ctx := context.Background()
	stream := newCaptureStream(ctx)
	sender := NewAsyncContentSender(stream, 8)

	sender.SendBlocks(ctx, ai.NewTextBlock("a"), ai.NewTextBlock("b"))
	sender.SendUsage(ctx, &ai.Usage{InputTokens: 3})
	sender.SendStopReason(ctx, ai.StopReasonEndTurn)
	sender.Close()
	require.NoError(t, sender.Wait(ctx))

	responses := stream.sent()
	require.Len(t, responses, 4)
	require.Equal(t, "a", responses[0].Block.Text)
	require.Equal(t, "b", responses[1].Block.Text)
	require.EqualValues(t, 3, responses[2].Usage.InputTokens)
	require.Equal(t, ai.StopReasonEndTurn, responses[3].StopReason)
}

func TestAsyncContentSender_RetainsFirstSendError(t *testing.T) {
	ctx := context.Background()
	stream := newCaptureStream(ctx)
	stream.failAfter = 1
	sender := NewAsyncContentSender(stream, 8)

	sender.SendBlocks(ctx, ai.NewTextBlock("ok"))
	require.Eventually(t, func() bool {
		sender.SendBlocks(ctx, ai.NewTextBlock("dropped"))
		return sender.Err() != nil
	}, time.Second, 5*time.Millisecond)

	sender.Close()
	require.Error(t, sender.Wait(ctx))
	require.Len(t, stream.sent(), 1)
}

func TestAsyncContentSender_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := newCaptureStream(ctx)
	sender := NewAsyncContentSender(stream, 1)

	cancel()
	require.ErrorIs(t, sender.Wait(context.Background()), context.Canceled)
}

func TestHarvestToolCalls(t *testing.T) {
	accumulator := toolcall.NewAccumulator()
	require.True(t, accumulator.AddChunk(0, `{"q":"x"}`, "c1", "search").Complete)
	accumulator.AddChunk(1, `{"unterminated": "arg`, "c2", "emit")
	accumulator.AddChunk(2, `[1,2]`, "c3", "weird_args")

	blocks := HarvestToolCalls(accumulator)
	require.Len(t, blocks, 3)

	require.Equal(t, ai.BlockTypeToolCall, blocks[0].Type)
	require.Equal(t, "search", blocks[0].ToolCall.Name)
	require.Equal(t, map[string]any{"q": "x"}, blocks[0].ToolCall.Args)
	require.EqualValues(t, 0, blocks[0].Index)

	// Healed call comes through like any other.
	require.Equal(t, map[string]any{"unterminated": "arg"}, blocks[1].ToolCall.Args)

	// Non-object arguments are wrapped rather than dropped.
	require.Equal(t, map[string]any{"_raw": []any{float64(1), float64(2)}}, blocks[2].ToolCall.Args)
}

func TestPartialToolCallBlock(t *testing.T) {
	accumulator := toolcall.NewAccumulator()

	require.Nil(t, PartialToolCallBlock(accumulator, 0))

	accumulator.AddChunk(0, `{"query": "str`, "c1", "search")
	block := PartialToolCallBlock(accumulator, 0)
	require.NotNil(t, block)
	require.Equal(t, ai.BlockTypePartialToolCall, block.Type)
	require.True(t, block.ToolCall.Partial)
	require.Equal(t, map[string]any{"query": "str"}, block.ToolCall.Args)
}
