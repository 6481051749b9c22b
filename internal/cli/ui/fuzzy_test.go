package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		s1, s2 string
		want   int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"blur.o", "blur.o", 0},
		{"blur.o", "blurr.o", 1},
		{"héllo", "hello", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevenshteinDistance(tt.s1, tt.s2), "%q -> %q", tt.s1, tt.s2)
	}
}

func TestFindSimilar(t *testing.T) {
	candidates := []string{"blur", "blend", "histogram", "BLUR2"}

	assert.Equal(t, []string{"blur", "BLUR2", "blend"}, FindSimilar("blu", candidates, nil))
	assert.Equal(t, []string{"blur"}, FindSimilar("blu", candidates, &FuzzyMatchOptions{CaseSensitive: true, MaxDistance: 2}))
	assert.Equal(t, []string{"blur"}, FindSimilar("blu", candidates, &FuzzyMatchOptions{MaxSuggestions: 1}))
	assert.Empty(t, FindSimilar("convolve", candidates, nil))
	assert.Empty(t, FindSimilar("blur", nil, nil))
}
