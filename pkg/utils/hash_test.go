package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	a := HashKey("text-embedding-3-small", "asthma")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashKey("text-embedding-3-small", "asthma"))
	assert.NotEqual(t, a, HashKey("text-embedding-3-smallasthma"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "hél...", Truncate("héllo", 3))
	assert.Equal(t, "", Truncate("abc", 0))
}
