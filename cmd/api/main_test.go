package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://a.org", "https://b.org"}, splitOrigins(" https://a.org, ,https://b.org "))
	assert.Equal(t, []string{"*"}, splitOrigins(""))
}
