//go:build unix

package state

import (
	"fmt"
	"io"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

var slotNames = map[int]string{
	CurrentGenerationOffset: "generation",
	ShutdownOffset:          "shutdown",
	MoldTickOffset:          "mold",
	MoldPromotionTickOffset: "mold_promotion",
	ServiceTickOffset:       "service",
}

func slotName(offset int) string {
	if name, ok := slotNames[offset]; ok {
		return name
	}
	return "worker." + strconv.Itoa(offset-WorkerTickOffset)
}

// Dump writes every non-zero slot, one per line, for debugging. It reads
// without coordination so values may be mid-update relative to each other.
func (m *Memory) Dump(w io.Writer) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	slots := m.cfg.Slots()
	pages := m.pages.Count()
	fmt.Fprintf(buf, "pages:%d slots_per_page:%d slot_size:%d\n", pages, slots, m.cfg.SlotSize())
	for i := 0; i < pages; i++ {
		p, ok := m.pages.Get(i)
		if !ok {
			continue
		}
		for j := 0; j < slots; j++ {
			v, err := p.Get(j)
			if err != nil {
				return fmt.Errorf("state: dumping page %d: %w", i, err)
			}
			if v == 0 {
				continue
			}
			offset := i*slots + j
			fmt.Fprintf(buf, "offset:%d name:%s value:%d\n", offset, slotName(offset), v)
		}
	}
	_, err := buf.WriteTo(w)
	return err
}
