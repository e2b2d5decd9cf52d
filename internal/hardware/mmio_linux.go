//go:build linux

package hardware

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"periph.io/x/host/v3"
	"periph.io/x/host/v3/pmem"
)

// MMIO is the real register bus, a /dev/mem mapping of the DU window.
type MMIO struct {
	view  *pmem.View
	words []uint32
	base  uint64
}

// NewMMIO maps size bytes of physical memory at base. The process needs
// CAP_SYS_RAWIO or root.
func NewMMIO(base uint64, size int) (*MMIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mmio: host init failed: %w", err)
	}
	view, err := pmem.Map(base, size)
	if err != nil {
		return nil, fmt.Errorf("mmio: map 0x%x+0x%x: %w", base, size, err)
	}
	slog.Info("mmio: register window mapped", "base", fmt.Sprintf("0x%08x", base), "size", size)
	return &MMIO{view: view, words: view.Uint32(), base: base}, nil
}

func (m *MMIO) Read32(offset Register) uint32 {
	return atomic.LoadUint32(&m.words[offset/4])
}

func (m *MMIO) Write32(offset Register, val uint32) {
	atomic.StoreUint32(&m.words[offset/4], val)
}

// Close unmaps the register window.
func (m *MMIO) Close() error {
	m.words = nil
	return m.view.Close()
}

var _ Bus = (*MMIO)(nil)
