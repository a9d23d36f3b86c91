//go:build linux

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/counterpage/pkg/shm"
)

func TestFilesAttachSharesEveryPage(t *testing.T) {
	cfg, err := shm.Platform()
	require.NoError(t, err)

	parent, err := New(cfg)
	require.NoError(t, err)
	defer parent.Close()
	require.NoError(t, parent.Preallocate(2*cfg.Slots()))

	files, err := parent.Files()
	require.NoError(t, err)
	require.Len(t, files, parent.Pages())

	child, err := Attach(cfg, files)
	closeAll(files)
	require.NoError(t, err)
	defer child.Close()

	last := 2*cfg.Slots() - 1
	ws, err := child.WorkerState(last)
	require.NoError(t, err)
	require.NoError(t, ws.SetDeadline(99))
	require.NoError(t, ws.SetReady(true))
	require.NoError(t, parent.ShutDown())

	pws, err := parent.WorkerState(last)
	require.NoError(t, err)
	d, err := pws.Deadline()
	require.NoError(t, err)
	assert.Equal(t, uint64(99), d)

	down, err := child.ShuttingDown()
	require.NoError(t, err)
	assert.True(t, down)
}

func TestAttachNoFiles(t *testing.T) {
	cfg, err := shm.Platform()
	require.NoError(t, err)
	_, err = Attach(cfg, nil)
	assert.ErrorIs(t, err, ErrNotAllocated)
}
