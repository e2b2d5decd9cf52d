package du

import (
	"log/slog"
	"sync"

	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

var groupRegOffsets = [...]hardware.Register{hardware.DU0RegOffset, hardware.DU2RegOffset}

// Group is the pair of CRTCs sharing DSYSR, the plane engines and the
// priority and timing-assignment registers.
//
// Many configuration bits latch only while DSYSR.DRES holds both CRTCs in
// reset, so starting a CRTC while its sibling runs restarts the group and
// briefly blanks the sibling.
type Group struct {
	dev   *Device
	index int
	mmio  hardware.Register
	pool  *PlanePool

	// planes is indexed by the group-local plane number. The first
	// numCrtcs entries are the primary planes.
	planes   []*Plane
	numCrtcs int

	mu        sync.Mutex
	useCount  int
	usedCrtcs int
}

func newGroup(dev *Device, index int) *Group {
	g := &Group{
		dev:   dev,
		index: index,
		mmio:  groupRegOffsets[index],
		pool:  NewPlanePool(),
	}
	g.numCrtcs = min(dev.info.NumCrtcs-2*index, 2)
	return g
}

func (g *Group) read(reg hardware.Register) uint32 {
	return g.dev.bus.Read32(g.mmio + reg)
}

func (g *Group) write(reg hardware.Register, val uint32) {
	g.dev.bus.Write32(g.mmio+reg, val)
}

// Index returns the group number.
func (g *Group) Index() int { return g.index }

// Pool returns the group's plane engine allocator.
func (g *Group) Pool() *PlanePool { return g.pool }

func (g *Group) setup() {
	// Enable extended features
	g.write(hardware.DEFR, hardware.DEFRCode|hardware.DEFRDEFE)
	g.write(hardware.DEFR2, hardware.DEFR2Code|hardware.DEFR2DEFE2G)
	g.write(hardware.DEFR3, hardware.DEFR3Code|hardware.DEFR3DEFE3)
	g.write(hardware.DEFR4, hardware.DEFR4Code)
	g.write(hardware.DEFR5, hardware.DEFR5Code|hardware.DEFR5DEFE5)

	// DS1PR and DS2PR carry the plane priorities; superposition 0 drives
	// the DU0 pins. DU1 pins are routed when a CRTC starts.
	g.write(hardware.DORCR, hardware.DORCRPG1DDS1|hardware.DORCRDPRS)
}

// Acquire takes a reference on the group, setting it up on first use.
func (g *Group) Acquire() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.useCount == 0 {
		g.setup()
		slog.Debug("du: group set up", "group", g.index)
	}
	g.useCount++
}

// Release drops a reference. The registers keep their values; callers gate
// the clocks.
func (g *Group) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.useCount == 0 {
		slog.Warn("du: unbalanced group release", "group", g.index)
		return
	}
	g.useCount--
}

// UseCount returns the number of references held.
func (g *Group) UseCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.useCount
}

// UsedCrtcs returns how many CRTCs of the group are running.
func (g *Group) UsedCrtcs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usedCrtcs
}

func (g *Group) setRunning(start bool) {
	set := hardware.DSYSRDRES
	if start {
		set = hardware.DSYSRDEN
	}
	hardware.ClearSet(g.dev.bus, g.mmio+hardware.DSYSR, hardware.DSYSRDRES|hardware.DSYSRDEN, set)
}

// StartStop updates the running CRTC count. Starting while another CRTC of
// the group already runs cycles the reset so latched configuration is
// reloaded. Stopping asserts reset only for the last CRTC.
func (g *Group) StartStop(start bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if start {
		if g.usedCrtcs != 0 {
			g.setRunning(false)
		}
		g.usedCrtcs++
		g.setRunning(true)
		return
	}
	if g.usedCrtcs == 0 {
		slog.Warn("du: group stop without running crtc", "group", g.index)
		return
	}
	g.usedCrtcs--
	if g.usedCrtcs == 0 {
		g.setRunning(false)
	}
}

// Restart cycles reset to re-latch configuration without changing the
// running count.
func (g *Group) Restart() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restartLocked()
}

func (g *Group) restartLocked() {
	g.setRunning(false)
	g.setRunning(true)
}

// restartIfRunning restarts the group when at least one CRTC runs.
func (g *Group) restartIfRunning() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.usedCrtcs > 0 {
		slog.Debug("du: restarting group to latch plane routing", "group", g.index)
		g.restartLocked()
	}
}

// setRouting selects the DPAD1 source and, on devices with external
// control registers, the DPAD0 source.
func (g *Group) setRouting() error {
	crtc0 := g.dev.crtcs[g.index*2]
	dorcr := g.read(hardware.DORCR)
	dorcr &^= hardware.DORCRPG2T | hardware.DORCRDK2S | hardware.DORCRPG2DMask

	// Use CRTC 0 for DPAD1 only when asked to, so CRTC 0 is not cloned to
	// both DPAD outputs by default.
	if crtc0.routedOutputs()&(1<<uint(hardware.OutputDPAD1)) != 0 {
		dorcr |= hardware.DORCRPG2DDS1
	} else {
		dorcr |= hardware.DORCRPG2T | hardware.DORCRDK2S | hardware.DORCRPG2DDS2
	}
	g.write(hardware.DORCR, dorcr)

	return g.dev.setDPAD0Routing()
}

// setupDEFR8 writes the DPAD0 source into the first group's DEFR8.
func (g *Group) setupDEFR8(source int) {
	g.write(hardware.DEFR8, hardware.DEFR8Code|hardware.DEFR8DEFE8|hardware.DEFR8DRGBSDU(source))
}

// updatePlanesLocked recomputes the plane priorities of crtc. The pool
// mutex must be held.
func (g *Group) updatePlanesLocked(crtc *Crtc) {
	var sorted []*Plane
	for _, p := range g.planes {
		if p.crtc != crtc || !p.enabled {
			continue
		}
		// Insertion sort by ascending zpos, stable for equal values.
		j := len(sorted)
		sorted = append(sorted, p)
		for ; j > 0 && sorted[j-1].zpos > p.zpos; j-- {
			sorted[j] = sorted[j-1]
		}
		sorted[j] = p
	}

	var order []int
	var dptsr uint32
	for _, p := range sorted {
		index := p.hwIndex
		order = append(order, index)
		dptsr |= hardware.DPTSRPnDK(index) | hardware.DPTSRPnTS(index)
		if p.format.Planes == 2 {
			index = (index + 1) % NumHWPlanes
			order = append(order, index)
			dptsr |= hardware.DPTSRPnDK(index) | hardware.DPTSRPnTS(index)
		}
	}
	dspr := hardware.PackPriority(order)

	// Planes of superposition controller 2 use display timing and dot
	// clock generator 2. DPTSR latches only in reset, so a change restarts
	// the group and the sibling flickers.
	if crtc.index%2 == 1 {
		if g.read(hardware.DPTSR) != dptsr {
			g.write(hardware.DPTSR, dptsr)
			g.restartIfRunning()
		}
	}

	reg := hardware.DS1PR
	if crtc.index%2 == 1 {
		reg = hardware.DS2PR
	}
	g.write(reg, dspr)
}
