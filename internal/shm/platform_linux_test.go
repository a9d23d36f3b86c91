//go:build linux

package shm

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMapRegionZeroFilledAndShareable(t *testing.T) {
	size := os.Getpagesize()
	region, err := MapRegion(MapOptions{Name: "test", Size: size})
	require.NoError(t, err)
	defer func() { require.NoError(t, UnmapRegion(region)) }()

	require.Len(t, region.Addr, size)
	for i, b := range region.Addr {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, b)
		}
	}
	require.GreaterOrEqual(t, region.Fd, 0)

	other, err := AttachRegion(region.Fd, size)
	require.NoError(t, err)
	defer func() { require.NoError(t, UnmapRegion(other)) }()
	assert.NotEqual(t, region.Fd, other.Fd)

	region.Addr[17] = 0xab
	assert.Equal(t, byte(0xab), other.Addr[17])
}

func TestAttachRegionSizeMismatch(t *testing.T) {
	size := os.Getpagesize()
	region, err := MapRegion(MapOptions{Name: "test", Size: size})
	require.NoError(t, err)
	defer func() { require.NoError(t, UnmapRegion(region)) }()

	_, err = AttachRegion(region.Fd, 2*size)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestDupFdAnonymousUnsupported(t *testing.T) {
	_, err := DupFd(-1)
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}

func TestUnmapRegionTwice(t *testing.T) {
	region, err := MapRegion(MapOptions{Name: "test", Size: os.Getpagesize()})
	require.NoError(t, err)
	require.NoError(t, UnmapRegion(region))
	assert.Nil(t, region.Addr)
	assert.Equal(t, -1, region.Fd)
	assert.NoError(t, UnmapRegion(region))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(unix.ENOMEM))
	assert.True(t, IsTransient(unix.EAGAIN))
	assert.False(t, IsTransient(unix.EINVAL))
	assert.False(t, IsTransient(nil))
}
