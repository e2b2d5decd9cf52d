package du

import (
	"fmt"

	"github.com/igel-oss/rcar-du-vdrm/internal/format"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

// PlaneType distinguishes the primary plane of a CRTC from overlays.
type PlaneType int

const (
	PlanePrimary PlaneType = iota
	PlaneOverlay
)

func (t PlaneType) String() string {
	if t == PlanePrimary {
		return "primary"
	}
	return "overlay"
}

// The colour key is an RGB888 triplet in XRGB8888 layout. Bit 24 enables
// source colour keying.
const (
	ColorKeyNone   uint32 = 0 << 24
	ColorKeySource uint32 = 1 << 24
	ColorKeyMask   uint32 = 1 << 24
	MaxColorKey    uint32 = 0x01ffffff
)

// Overlay property ranges.
const (
	MinZpos     = 1
	MaxZpos     = 7
	MaxAlpha    = 255
	primaryZpos = 0
)

// Rect is a rectangle in pixels.
type Rect struct {
	X, Y int
	W, H int
}

// Plane is a logical display plane. It is bound to one or two hardware
// engines of its group only while enabled.
//
// All fields below group are guarded by group.pool.mu.
type Plane struct {
	id    int
	group *Group
	typ   PlaneType

	crtc     *Crtc
	hwIndex  int
	format   *format.Info
	zpos     int
	alpha    uint32
	colorKey uint32
	enabled  bool
	src      Rect
	dst      Rect
	fb       *Framebuffer
	pitch    uint32
	dma      [2]uint32
}

func newPlane(id int, g *Group, typ PlaneType) *Plane {
	p := &Plane{
		id:       id,
		group:    g,
		typ:      typ,
		hwIndex:  -1,
		alpha:    MaxAlpha,
		colorKey: ColorKeyNone,
		zpos:     MinZpos,
	}
	if typ == PlanePrimary {
		p.zpos = primaryZpos
	}
	return p
}

// ID returns the device-wide plane index.
func (p *Plane) ID() int { return p.id }

// Type returns whether p is a primary or an overlay plane.
func (p *Plane) Type() PlaneType { return p.typ }

// Group returns the index of the group p belongs to.
func (p *Plane) Group() int { return p.group.index }

// PlaneStatus is a snapshot of a plane.
type PlaneStatus struct {
	ID       int
	Group    int
	Type     PlaneType
	Crtc     int // -1 when unassigned
	HWIndex  int // -1 when no engine is held
	Format   format.Fourcc
	Zpos     int
	Alpha    uint32
	ColorKey uint32
	Enabled  bool
	Src      Rect
	Dst      Rect
}

// Status returns a consistent snapshot of p.
func (p *Plane) Status() PlaneStatus {
	p.group.pool.mu.Lock()
	defer p.group.pool.mu.Unlock()
	s := PlaneStatus{
		ID:       p.id,
		Group:    p.group.index,
		Type:     p.typ,
		Crtc:     -1,
		HWIndex:  p.hwIndex,
		Zpos:     p.zpos,
		Alpha:    p.alpha,
		ColorKey: p.colorKey,
		Enabled:  p.enabled,
		Src:      p.src,
		Dst:      p.dst,
	}
	if p.crtc != nil {
		s.Crtc = p.crtc.index
	}
	if p.format != nil {
		s.Format = p.format.Fourcc
	}
	return s
}

func (p *Plane) write(index int, reg hardware.Register, val uint32) {
	p.group.write(hardware.PlaneReg(index, reg), val)
}

func (p *Plane) read(index int, reg hardware.Register) uint32 {
	return p.group.read(hardware.PlaneReg(index, reg))
}

// reserveLocked binds p to free engine(s) for f.
func (p *Plane) reserveLocked(f *format.Info) error {
	i, err := p.group.pool.reserveLocked(f)
	if err != nil {
		return err
	}
	p.hwIndex = i
	return nil
}

// releaseLocked returns p's engine(s) to the pool.
func (p *Plane) releaseLocked() {
	if p.hwIndex < 0 {
		return
	}
	p.group.pool.releaseLocked(p.hwIndex, p.format)
	p.hwIndex = -1
}

func (p *Plane) computeBase(fb *Framebuffer) {
	p.pitch = fb.Pitches[0]
	p.dma[0] = fb.Addrs[0]
	if p.format.Planes == 2 {
		p.dma[1] = fb.Addrs[1]
	}
}

func (p *Plane) interlaced() bool {
	return p.crtc != nil && p.crtc.interlaced.Load()
}

// updateBaseLocked programs pitch, source position and DMA address.
func (p *Plane) updateBaseLocked() {
	if p.hwIndex < 0 || p.format == nil {
		return
	}
	index := p.hwIndex
	interlaced := p.interlaced()
	srcX, srcY := uint32(p.src.X), uint32(p.src.Y)

	// Memory pitch in pixels, doubled for interlaced 32bpp.
	var mwr uint32
	if p.format.Planes == 2 {
		mwr = p.pitch
	} else {
		mwr = p.pitch * 8 / uint32(p.format.BPP)
	}
	if interlaced && p.format.BPP == 32 {
		mwr *= 2
	}
	p.write(index, hardware.PnMWR, mwr)

	// The Y position is in raster lines and doubled for progressive 32bpp.
	// The NV12/NV21 chroma plane takes a halved Y position in both scan
	// modes.
	spyr := srcY
	if !interlaced && p.format.BPP == 32 {
		spyr *= 2
	}
	p.write(index, hardware.PnSPXR, srcX)
	p.write(index, hardware.PnSPYR, spyr)
	p.write(index, hardware.PnDSA0R, p.dma[0])

	if p.format.Planes == 2 {
		index = (index + 1) % NumHWPlanes
		mul := uint32(1)
		if p.format.BPP == 16 {
			mul = 2
		}
		p.write(index, hardware.PnMWR, p.pitch)
		p.write(index, hardware.PnSPXR, srcX)
		p.write(index, hardware.PnSPYR, srcY*mul/2)
		p.write(index, hardware.PnDSA0R, p.dma[1])
	}
}

// setupModeLocked programs alpha blending, colour keying and the mode
// register of engine index.
func (p *Plane) setupModeLocked(index int) {
	// PnALPHAR only matters for the 16bpp ARGB/XRGB formats. ARGB maps
	// A=0 to alpha 0 and A=1 to 255; XRGB uses the plane-wide alpha.
	if p.format.Fourcc != format.XRGB1555 {
		p.write(index, hardware.PnALPHAR, hardware.PnALPHARABIT0)
	} else {
		p.write(index, hardware.PnALPHAR, hardware.PnALPHARABITX|p.alpha)
	}

	pnmr := hardware.PnMRBMMD | p.format.PnMR

	// YUV formats carry SPIM_TP_OFF in their table entry already.
	if p.colorKey&ColorKeyMask == ColorKeyNone {
		pnmr |= hardware.PnMRSPIMTPOff
	}
	if p.format.Fourcc == format.YUYV {
		pnmr |= hardware.PnMRYCDFYUYV
	}
	p.write(index, hardware.PnMR, pnmr)

	switch p.format.Fourcc {
	case format.RGB565:
		ck := (p.colorKey&0xf80000)>>8 | (p.colorKey&0x00fc00)>>5 | (p.colorKey&0x0000f8)>>3
		p.write(index, hardware.PnTC2R, ck)
	case format.ARGB1555, format.XRGB1555:
		ck := (p.colorKey&0xf80000)>>9 | (p.colorKey&0x00f800)>>6 | (p.colorKey&0x0000f8)>>3
		p.write(index, hardware.PnTC2R, ck)
	case format.XRGB8888, format.ARGB8888:
		p.write(index, hardware.PnTC3R, hardware.PnTC3RCode|p.colorKey&0xffffff)
	}
}

func (p *Plane) setupEngineLocked(index int) {
	ddcr2 := hardware.PnDDCR2Code

	ddcr4 := p.read(index, hardware.PnDDCR4)
	ddcr4 &^= hardware.PnDDCR4EDFMask
	ddcr4 |= p.format.EDF | hardware.PnDDCR4Code

	p.setupModeLocked(index)

	if p.format.Planes == 2 {
		if p.hwIndex != index {
			if p.format.Fourcc == format.NV12 || p.format.Fourcc == format.NV21 {
				ddcr2 |= hardware.PnDDCR2Y420
			}
			if p.format.Fourcc == format.NV21 {
				ddcr2 |= hardware.PnDDCR2NV21
			}
			ddcr2 |= hardware.PnDDCR2DIVU
		} else {
			ddcr2 |= hardware.PnDDCR2DIVY
		}
	}

	p.write(index, hardware.PnDDCR2, ddcr2)
	p.write(index, hardware.PnDDCR4, ddcr4)

	p.write(index, hardware.PnDSXR, uint32(p.dst.W))
	p.write(index, hardware.PnDSYR, uint32(p.dst.H))
	p.write(index, hardware.PnDPXR, uint32(p.dst.X))
	p.write(index, hardware.PnDPYR, uint32(p.dst.Y))

	// Wrap-around and blinking, disabled
	p.write(index, hardware.PnWASPR, 0)
	p.write(index, hardware.PnWAMWR, 4095)
	p.write(index, hardware.PnBTR, 0)
	p.write(index, hardware.PnMLR, 0)
}

// setupLocked programs every register of the engine(s) bound to p.
func (p *Plane) setupLocked() {
	if p.hwIndex < 0 || p.format == nil {
		return
	}
	p.setupEngineLocked(p.hwIndex)
	if p.format.Planes == 2 {
		p.setupEngineLocked((p.hwIndex + 1) % NumHWPlanes)
	}
	p.updateBaseLocked()
}

// disableLocked unbinds p and returns the framebuffer it was scanning out.
func (p *Plane) disableLocked() *Framebuffer {
	if !p.enabled {
		return nil
	}
	p.enabled = false
	p.releaseLocked()
	p.crtc = nil
	p.format = nil
	old := p.fb
	p.fb = nil
	return old
}

// detachLocked disables p when st changes the number of engines it needs
// and returns the framebuffer it was scanning out.
func (p *Plane) detachLocked(st *PlaneState) *Framebuffer {
	if !p.enabled || p.format.Planes == planeEngines(*st) {
		return nil
	}
	return p.disableLocked()
}

// update applies a committed plane state. It returns the framebuffer that
// was replaced; the caller drops it once the new one is visible. st.Fb
// must carry a reference owned by the plane from now on.
func (p *Plane) update(st *PlaneState, crtc *Crtc) (*Framebuffer, error) {
	p.group.pool.mu.Lock()
	defer p.group.pool.mu.Unlock()
	return p.updateLocked(st, crtc)
}

// updateLocked is update with the pool mutex held. When the engines for
// st cannot be reserved the plane is left as it was.
func (p *Plane) updateLocked(st *PlaneState, crtc *Crtc) (*Framebuffer, error) {
	if st == nil || crtc == nil || st.Framebuffer == nil {
		return p.disableLocked(), nil
	}

	f := st.Framebuffer.Format
	n := 0
	if p.format != nil {
		n = p.format.Planes
	}

	// Reallocate engines when the number of buffers changes.
	if f.Planes != n || p.hwIndex < 0 {
		err := p.group.pool.checkLocked([]reservation{{held: p.hwIndex, heldFormat: p.format, want: f}})
		if err == nil {
			p.releaseLocked()
			err = p.reserveLocked(f)
		}
		if err != nil {
			st.Framebuffer.Put()
			return nil, fmt.Errorf("plane %d: %w", p.id, err)
		}
	}

	old := p.fb
	p.crtc = crtc
	p.format = f
	p.fb = st.Framebuffer
	p.src = st.Src
	p.dst = st.Dst

	p.computeBase(st.Framebuffer)
	p.setupLocked()
	p.enabled = true
	return old, nil
}

func (p *Plane) checkOverlay(prop string) error {
	if p.typ == PlanePrimary {
		return fmt.Errorf("plane %d: primary planes have no %s property: %w", p.id, prop, ErrInvalidConfiguration)
	}
	return nil
}

// SetZpos sets the compositing order of an overlay (1..7, higher is in
// front). It takes effect immediately when the plane is enabled.
func (p *Plane) SetZpos(zpos int) error {
	if err := p.checkOverlay("zpos"); err != nil {
		return err
	}
	if zpos < MinZpos || zpos > MaxZpos {
		return fmt.Errorf("plane %d: zpos %d outside %d..%d: %w", p.id, zpos, MinZpos, MaxZpos, ErrInvalidConfiguration)
	}

	p.group.pool.mu.Lock()
	defer p.group.pool.mu.Unlock()
	if p.zpos == zpos {
		return nil
	}
	p.zpos = zpos
	if !p.enabled {
		return nil
	}
	p.group.updatePlanesLocked(p.crtc)
	return nil
}

// SetAlpha sets the plane-wide alpha (0..255). The hardware only uses it
// for XRGB1555.
func (p *Plane) SetAlpha(alpha uint32) error {
	if err := p.checkOverlay("alpha"); err != nil {
		return err
	}
	if alpha > MaxAlpha {
		return fmt.Errorf("plane %d: alpha %d above %d: %w", p.id, alpha, MaxAlpha, ErrInvalidConfiguration)
	}

	p.group.pool.mu.Lock()
	defer p.group.pool.mu.Unlock()
	if p.alpha == alpha {
		return nil
	}
	p.alpha = alpha
	if !p.enabled || p.format.Fourcc != format.XRGB1555 {
		return nil
	}
	p.setupModeLocked(p.hwIndex)
	return nil
}

// SetColorKey sets the source colour key (RGB888 plus ColorKeySource).
func (p *Plane) SetColorKey(key uint32) error {
	if err := p.checkOverlay("colorkey"); err != nil {
		return err
	}
	if key > MaxColorKey {
		return fmt.Errorf("plane %d: colorkey 0x%x above 0x%x: %w", p.id, key, MaxColorKey, ErrInvalidConfiguration)
	}

	p.group.pool.mu.Lock()
	defer p.group.pool.mu.Unlock()
	if p.colorKey == key {
		return nil
	}
	p.colorKey = key
	if !p.enabled {
		return nil
	}
	p.setupModeLocked(p.hwIndex)
	return nil
}
