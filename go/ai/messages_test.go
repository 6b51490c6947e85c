package ai

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseToolResult(t *testing.T) {
	tests := []struct {
		name       string
		toolResult *ToolResult
		want       string
		wantErr    bool
	}{
		{
			name:       "content",
			toolResult: NewToolResult("search", "c1", `{"hits": 3}`),
			want:       `{"hits": 3}`,
		},
		{
			name:       "error",
			toolResult: NewErrorToolResult("search", "c1", errors.New("boom")),
			want:       "tool error: boom",
		},
		{
			name:    "nil",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseToolResult(tt.toolResult)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewStructuredToolResult(t *testing.T) {
	result, err := NewStructuredToolResult("weather", "c1", map[string]any{"temp": 21.5})
	require.NoError(t, err)
	require.Equal(t, "weather", result.ToolName)
	require.Equal(t, "c1", result.ToolCallID)
	require.JSONEq(t, `{"temp": 21.5}`, result.Content)
}

func TestGetBlocks(t *testing.T) {
	message := NewAssistantMessage(
		NewTextBlock("a"),
		NewThoughtBlock("t"),
		NewTextBlock("b"),
		NewToolCallBlock(&ToolCall{Name: "f"}),
	)

	require.Len(t, GetBlocks(message, BlockTypeText), 2)
	require.Len(t, GetBlocks(message, BlockTypeText, BlockTypeThought), 3)
	require.Empty(t, GetBlocks(message, BlockTypeToolResult))
	require.Equal(t, "ab", message.Text())
}
