package meminfo

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoWEfficiency(t *testing.T) {
	parent := Info{RSS: 2000}
	assert.InDelta(t, 25.0, Info{Shared: 500}.CoWEfficiency(parent), 1e-9)
	assert.Zero(t, Info{Shared: 500}.CoWEfficiency(Info{}))
}

func TestReadSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("smaps is linux only")
	}
	info, err := Read(int32(os.Getpid()))
	require.NoError(t, err)
	assert.Equal(t, int32(os.Getpid()), info.PID)
	assert.NotZero(t, info.RSS)
	assert.LessOrEqual(t, info.PSS, info.RSS)
}

func TestChildrenNone(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}
	infos, err := Children(int32(os.Getpid()))
	require.NoError(t, err)
	assert.Empty(t, infos)
}
