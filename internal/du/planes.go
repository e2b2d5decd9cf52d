package du

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/igel-oss/rcar-du-vdrm/internal/format"
)

// NumHWPlanes is the number of plane engines per group.
const NumHWPlanes = 8

// PlanePool allocates the hardware plane engines of one group. A bit set
// in the free mask means the engine is unassigned. Semi-planar formats take
// the pair (i, (i+1) mod 8).
//
// The pool mutex also guards the assignment state of the group's logical
// planes (owner, format, zpos, enabled) and is held across priority
// recomputation.
type PlanePool struct {
	mu   sync.Mutex
	free uint8
}

// NewPlanePool returns a pool with all engines free.
func NewPlanePool() *PlanePool {
	return &PlanePool{free: 0xff}
}

// Free returns the free-engine mask.
func (p *PlanePool) Free() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free
}

// FreeCount returns the number of unassigned engines.
func (p *PlanePool) FreeCount() int {
	return bits.OnesCount8(p.Free())
}

func engineMask(index, planes int) uint8 {
	m := uint8(1) << uint(index)
	if planes == 2 {
		m |= 1 << uint((index+1)%NumHWPlanes)
	}
	return m
}

// findFree returns the first index usable for a format with planes
// buffers in free, or -1.
func findFree(free uint8, planes int) int {
	for i := 0; i < NumHWPlanes; i++ {
		if free&(1<<uint(i)) == 0 {
			continue
		}
		if planes == 1 || free&(1<<uint((i+1)%NumHWPlanes)) != 0 {
			return i
		}
	}
	return -1
}

// Reserve assigns the first free engine (or engine pair) for f.
func (p *PlanePool) Reserve(f *format.Info) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserveLocked(f)
}

func (p *PlanePool) reserveLocked(f *format.Info) (int, error) {
	i := findFree(p.free, f.Planes)
	if i < 0 {
		return -1, fmt.Errorf("no free hardware plane for %s (free 0x%02x): %w", f.Fourcc, p.free, ErrResourceBusy)
	}
	p.free &^= engineMask(i, f.Planes)
	return i, nil
}

// Release returns the engine(s) at index reserved for f. A negative index
// is a no-op.
func (p *PlanePool) Release(index int, f *format.Info) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked(index, f)
}

func (p *PlanePool) releaseLocked(index int, f *format.Info) {
	if index < 0 || f == nil {
		return
	}
	p.free |= engineMask(index, f.Planes)
}

// CheckAvailable reports whether f could be reserved if the engine(s) at
// held, reserved for heldFormat, were released first. It changes nothing.
// Pass held < 0 for a plane that holds no engine.
func (p *PlanePool) CheckAvailable(held int, heldFormat, f *format.Info) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkLocked([]reservation{{held: held, heldFormat: heldFormat, want: f}})
}

// reservation is one plane's engine change inside a batch check.
type reservation struct {
	held       int
	heldFormat *format.Info
	want       *format.Info // nil releases only
}

// checkLocked dry-runs a batch of engine changes: all held engines are
// released first, then the wanted formats are reserved in order.
func (p *PlanePool) checkLocked(rs []reservation) error {
	free := p.free
	for _, r := range rs {
		if r.held >= 0 && r.heldFormat != nil {
			free |= engineMask(r.held, r.heldFormat.Planes)
		}
	}
	for _, r := range rs {
		if r.want == nil {
			continue
		}
		i := findFree(free, r.want.Planes)
		if i < 0 {
			return fmt.Errorf("no free hardware plane for %s: %w", r.want.Fourcc, ErrResourceBusy)
		}
		free &^= engineMask(i, r.want.Planes)
	}
	return nil
}
