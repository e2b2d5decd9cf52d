package hardware

import (
	"sync"
)

// Access is one recorded register write.
type Access struct {
	Offset Register
	Value  uint32
}

// Mock is a thread-safe in-memory register file for testing and
// development. Unwritten registers read as zero. Writes to a CRTC's DSRCR
// clear the matching DSSR status bits, as the hardware does.
type Mock struct {
	mu     sync.Mutex
	regs   map[Register]uint32
	writes []Access
	record bool
}

// NewMock creates an empty mock bus that records writes.
func NewMock() *Mock {
	return &Mock{
		regs:   make(map[Register]uint32),
		record: true,
	}
}

func (m *Mock) Read32(offset Register) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[offset]
}

func (m *Mock) Write32(offset Register, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record {
		m.writes = append(m.writes, Access{Offset: offset, Value: val})
	}
	switch offset {
	case DU0RegOffset + DSRCR, DU1RegOffset + DSRCR, DU2RegOffset + DSRCR:
		dssr := offset - DSRCR + DSSR
		m.regs[dssr] &^= val & DSRCRMask
		return
	}
	m.regs[offset] = val
}

// Set stores a register value without recording a write. Tests use it to
// raise status bits.
func (m *Mock) Set(offset Register, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[offset] = val
}

// Get returns a register value for testing purposes.
func (m *Mock) Get(offset Register) uint32 {
	return m.Read32(offset)
}

// Writes returns a copy of the recorded write log.
func (m *Mock) Writes() []Access {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Access, len(m.writes))
	copy(out, m.writes)
	return out
}

// WritesTo returns the values written to offset, oldest first.
func (m *Mock) WritesTo(offset Register) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uint32
	for _, w := range m.writes {
		if w.Offset == offset {
			out = append(out, w.Value)
		}
	}
	return out
}

// ResetLog clears the write log.
func (m *Mock) ResetLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
}

// SetRecord enables or disables the write log.
func (m *Mock) SetRecord(record bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = record
}

var _ Bus = (*Mock)(nil)
