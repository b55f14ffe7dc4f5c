package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlacement(t *testing.T) {
	name, addr, err := parsePlacement(".text@0x40000000")
	require.NoError(t, err)
	assert.Equal(t, ".text", name)
	assert.Equal(t, uint32(0x40000000), addr)
}

func TestParsePlacementRejectsMissingAt(t *testing.T) {
	_, _, err := parsePlacement(".text40000000")
	require.Error(t, err)
}

func TestParsePlacementRejectsEmptyAddress(t *testing.T) {
	_, _, err := parsePlacement(".text@")
	require.Error(t, err)
}
