package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"nil", nil, nil},
		{"only blanks", []string{"", "  "}, nil},
		{"trims", []string{" case-17 "}, []string{"case-17"}},
		{"keeps first-seen order", []string{"b", "a", " b", "c", "a "}, []string{"b", "a", "c"}},
		{"case sensitive", []string{"Case-17", "case-17"}, []string{"Case-17", "case-17"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}
