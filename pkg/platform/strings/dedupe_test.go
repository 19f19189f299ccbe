package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeList(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		maxLen   int
		expected []string
		ok       bool
	}{
		{name: "nil slice", input: nil, expected: nil, ok: true},
		{
			name:     "trims and drops empties",
			input:    []string{"  health cover ", "", "   "},
			expected: []string{"health cover"},
			ok:       true,
		},
		{
			name:     "case-insensitive duplicates keep first spelling",
			input:    []string{"Photos", "photos", "PHOTOS", "Travel"},
			expected: []string{"Photos", "Travel"},
			ok:       true,
		},
		{
			name:     "over-long element is flagged",
			input:    []string{"ok", "much too long"},
			maxLen:   5,
			expected: []string{"ok", "much too long"},
			ok:       false,
		},
		{
			name:     "length counts runes",
			input:    []string{"ñandú"},
			maxLen:   5,
			expected: []string{"ñandú"},
			ok:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeList(tt.input, tt.maxLen)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
