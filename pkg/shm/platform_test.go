//go:build unix

package shm

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlatformConfig(t *testing.T) {
	cases := []struct {
		name     string
		page     int
		slot     int
		wantFail bool
	}{
		{"cache line", 4096, 64, false},
		{"default slot", 4096, 128, false},
		{"single cpu", 4096, 8, false},
		{"huge page", 1 << 21, 128, false},
		{"zero page", 0, 64, true},
		{"negative page", -4096, 64, true},
		{"page not power of two", 4000, 8, true},
		{"slot smaller than counter", 4096, 4, true},
		{"slot larger than page", 64, 128, true},
		{"slot does not divide page", 4096, 24, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg, err := NewPlatformConfig(c.page, c.slot)
			if c.wantFail {
				assert.ErrorIs(t, err, ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.page, cfg.PageSize())
			assert.Equal(t, c.slot, cfg.SlotSize())
			assert.Equal(t, c.page/c.slot, cfg.Slots())
		})
	}
}

func TestCapacityIsPageAligned(t *testing.T) {
	for _, sizes := range [][2]int{{4096, 64}, {4096, 128}, {4096, 8}, {16384, 128}} {
		cfg, err := NewPlatformConfig(sizes[0], sizes[1])
		require.NoError(t, err)
		for n := 1; n <= 3*cfg.Slots()+7; n++ {
			capa := cfg.Capacity(n)
			if capa*cfg.SlotSize()%cfg.PageSize() != 0 {
				t.Fatalf("%v: capacity(%d)=%d not page aligned", sizes, n, capa)
			}
			if capa < n {
				t.Fatalf("%v: capacity(%d)=%d below requested size", sizes, n, capa)
			}
			if capa-n >= cfg.Slots() {
				t.Fatalf("%v: capacity(%d)=%d pads more than a page", sizes, n, capa)
			}
		}
	}
}

func TestCapacityExample(t *testing.T) {
	cfg, err := NewPlatformConfig(4096, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Capacity(10))
	assert.Equal(t, 64, cfg.Capacity(64))
	assert.Equal(t, 128, cfg.Capacity(65))
	assert.Equal(t, 0, cfg.Capacity(0))
}

func TestSlotSizeFor(t *testing.T) {
	assert.Equal(t, counterSize, slotSizeFor(1, 64))
	assert.Equal(t, 64, slotSizeFor(8, 64))
	assert.Equal(t, defaultSlotSize, slotSizeFor(8, 0))
	assert.Equal(t, defaultSlotSize, slotSizeFor(2, -1))
}

func TestPlatformDetectedOnce(t *testing.T) {
	cfg, err := Platform()
	require.NoError(t, err)
	again, err := Platform()
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	assert.Equal(t, os.Getpagesize(), cfg.PageSize())
	assert.GreaterOrEqual(t, cfg.SlotSize(), counterSize)
	assert.Equal(t, cfg.PageSize()/cfg.SlotSize(), cfg.Slots())
}

func TestSlotMax(t *testing.T) {
	assert.Equal(t, uint64(math.MaxUint64), SlotMax)
}
