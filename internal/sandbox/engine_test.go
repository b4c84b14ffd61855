package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(context.Background(), "local", nil)
	require.NoError(t, err)
	assert.Equal(t, "local", e.Name())

	_, err = NewEngine(context.Background(), "firecracker", nil)
	assert.ErrorIs(t, err, ErrNoEngine)
}
