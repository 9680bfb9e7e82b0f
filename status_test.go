package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStatusCmd_Structure(t *testing.T) {
	t.Parallel()

	cmd := newStatusCmd()
	assert.Equal(t, "status", cmd.Name())
	assert.NotEmpty(t, cmd.Short)
	assert.NotNil(t, cmd.RunE)
}

func TestCollectStatusEntries_SkipsMissingState(t *testing.T) {
	t.Parallel()

	entries, err := collectStatusEntries(t.Context(), &engine{states: nil}, nil)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}
