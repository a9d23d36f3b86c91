//go:build linux

package shm

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "COUNTERPAGE_TEST_HELPER"

func TestHandlesShareRegion(t *testing.T) {
	cfg, err := Platform()
	require.NoError(t, err)

	a, err := NewPage(cfg, 10)
	require.NoError(t, err)
	defer a.Close()

	f, err := a.File()
	require.NoError(t, err)
	b, err := Attach(cfg, f, 10)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	defer b.Close()

	_, err = a.Set(3, 42)
	require.NoError(t, err)
	v, err := b.Get(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	_, err = b.Set(9, 7)
	require.NoError(t, err)
	v, err = a.Get(9)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)

	// releasing one handle leaves the other usable
	require.NoError(t, a.Close())
	v, err = b.Get(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}

func TestAttachRejectsSizeMismatch(t *testing.T) {
	cfg, err := Platform()
	require.NoError(t, err)

	p, err := NewPage(cfg, 1)
	require.NoError(t, err)
	defer p.Close()

	f, err := p.File()
	require.NoError(t, err)
	defer f.Close()

	_, err = Attach(cfg, f, cfg.Slots()+1)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = Attach(cfg, f, 0)
	assert.ErrorIs(t, err, ErrConfiguration)
}

// TestHelperChildWriter runs inside the child started by
// TestChildProcessSharesPage.
func TestHelperChildWriter(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	cfg, err := Platform()
	require.NoError(t, err)
	p, err := Attach(cfg, os.NewFile(3, "counterpage"), 10)
	require.NoError(t, err)
	defer p.Close()

	v, err := p.Get(0)
	require.NoError(t, err)
	_, err = p.Set(3, v+41)
	require.NoError(t, err)
}

func TestChildProcessSharesPage(t *testing.T) {
	cfg, err := Platform()
	require.NoError(t, err)
	p, err := NewPage(cfg, 10)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Set(0, 1)
	require.NoError(t, err)

	f, err := p.File()
	require.NoError(t, err)
	defer f.Close()

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperChildWriter$")
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	cmd.ExtraFiles = []*os.File{f}
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))

	v, err := p.Get(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}
