package ai

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJSONString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "bare object",
			content: `{"a": 1}`,
			want:    `{"a": 1}`,
		},
		{
			name:    "object wrapped in prose",
			content: "Here is the result:\n```json\n{\"a\": 1}\n```\nDone.",
			want:    `{"a": 1}`,
		},
		{
			name:    "no object",
			content: "plain text",
			wantErr: true,
		},
		{
			name:    "brace order inverted",
			content: "} then {",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONString(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
