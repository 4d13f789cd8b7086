package rabbitmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingKey(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"records.*", "records.#"},
		{"reply.records.*", "reply.records.#"},
		{"*", "#"},
		{"records.abc", "records.abc"},
		{"reply.records.records.abc-123", "reply.records.records.abc-123"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := BindingKey(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBindingKeyRejectsUnsupportedGlobs(t *testing.T) {
	for _, pattern := range []string{"", "records.*.x", "rec*", "records.?", "records.[ab]", "records..x", "records.#"} {
		t.Run(pattern, func(t *testing.T) {
			_, err := BindingKey(pattern)
			assert.Error(t, err)
		})
	}
}
