package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeItem(t *testing.T) {
	assert.Equal(t, "france", NormalizeItem("  France "))
	assert.Equal(t, "kosovo", NormalizeItem("KOSOVO"))
	assert.Equal(t, "", NormalizeItem("   "))
}

func TestCountsForScore(t *testing.T) {
	assert.True(t, CountsForScore("France"))
	assert.False(t, CountsForScore("Kosovo"))
	assert.False(t, CountsForScore("  kosovo "))
}
