package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeList(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []string{},
			expected: []string{},
		},
		{
			name:     "lowercases and trims",
			input:    []string{"  Chip_Read ", "LIVENESS"},
			expected: []string{"chip_read", "liveness"},
		},
		{
			name:     "case-insensitive dedupe preserves first appearance",
			input:    []string{"Chip_Read", "chip_read", "liveness", "CHIP_READ"},
			expected: []string{"chip_read", "liveness"},
		},
		{
			name:     "drops elements that are empty after trimming",
			input:    []string{"chip_read", "", "   ", "liveness"},
			expected: []string{"chip_read", "liveness"},
		},
		{
			name:     "all elements empty",
			input:    []string{"", "  "},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeList(tt.input))
		})
	}
}
