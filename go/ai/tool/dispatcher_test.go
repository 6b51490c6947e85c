package tool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrow/llmstream/go/ai"
	"github.com/ferrow/llmstream/go/ai/toolcall"
)

func testRegistry() *Registry {
	return NewRegistry(
		&Tool{
			Name: "echo",
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return args, nil
			},
		},
		&Tool{
			Name: "fail",
			Handler: func(_ context.Context, _ map[string]any) (any, error) {
				return nil, errors.New("boom")
			},
		},
	)
}

func TestDispatcher_Dispatch(t *testing.T) {
	d := NewDispatcher(testRegistry())

	calls := []toolcall.CompletedToolCall{
		{ID: "c1", Name: "echo", Args: map[string]any{"msg": "hi"}, Index: 0},
		{ID: "c2", Name: "fail", Args: map[string]any{}, Index: 1},
		{ID: "c3", Name: "unknown_tool", Args: map[string]any{}, Index: 2},
		{ID: "c4", Name: "echo", Args: []any{"not", "an", "object"}, Index: 3},
	}

	results, err := d.Dispatch(context.Background(), calls)
	require.Error(t, err)
	require.Len(t, results, 4)

	// Results hold call order even though handlers ran concurrently.
	require.Equal(t, "c1", results[0].ToolCallID)
	require.Empty(t, results[0].Error)
	require.JSONEq(t, `{"msg": "hi"}`, results[0].Content)

	require.Equal(t, "c2", results[1].ToolCallID)
	require.Contains(t, results[1].Error, "boom")

	require.Equal(t, "c3", results[2].ToolCallID)
	require.Contains(t, results[2].Error, ai.ErrUnknownTool.Error())

	require.Equal(t, "c4", results[3].ToolCallID)
	require.Contains(t, results[3].Error, ai.ErrInvalidToolArgs.Error())
}

func TestDispatcher_EmptyIDGetsFallback(t *testing.T) {
	d := NewDispatcher(testRegistry())

	results, err := d.Dispatch(context.Background(), []toolcall.CompletedToolCall{
		{Name: "echo", Args: map[string]any{}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0].ToolCallID)
}

func TestDispatcher_BoundedConcurrency(t *testing.T) {
	var running, peak atomic.Int64
	registry := NewRegistry(&Tool{
		Name: "count",
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			now := running.Add(1)
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			defer running.Add(-1)
			return nil, nil
		},
	})

	d := NewDispatcher(registry).WithConcurrency(2)
	calls := make([]toolcall.CompletedToolCall, 16)
	for i := range calls {
		calls[i] = toolcall.CompletedToolCall{
			ID:    fmt.Sprintf("c%d", i),
			Name:  "count",
			Args:  map[string]any{},
			Index: int64(i),
		}
	}

	results, err := d.Dispatch(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, results, 16)
	require.LessOrEqual(t, peak.Load(), int64(2))
}

func TestRegistry(t *testing.T) {
	registry := testRegistry()

	require.Equal(t, []string{"echo", "fail"}, registry.Names())

	_, err := registry.Get("echo")
	require.NoError(t, err)
	_, err = registry.Get("nope")
	require.ErrorIs(t, err, ai.ErrUnknownTool)

	definitions := registry.Definitions()
	require.Len(t, definitions, 2)
	require.Equal(t, "echo", definitions[0].Name)
}
