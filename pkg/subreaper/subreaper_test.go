package subreaper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnableIsIdempotent(t *testing.T) {
	first, err := Enable()
	require.NoError(t, err)
	second, err := Enable()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	if !Available {
		assert.False(t, first)
	}
}
