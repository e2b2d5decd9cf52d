package du

import (
	"fmt"
	"sort"

	"github.com/igel-oss/rcar-du-vdrm/internal/format"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

// CrtcState is the requested configuration of a CRTC.
type CrtcState struct {
	Active  bool
	Mode    Mode
	Outputs uint32 // bit n set routes hardware.Output(n)
}

// OutputMask builds a CrtcState.Outputs value.
func OutputMask(outputs ...hardware.Output) uint32 {
	var m uint32
	for _, o := range outputs {
		m |= 1 << uint(o)
	}
	return m
}

// PlaneState is the requested configuration of a plane. Crtc is -1 for a
// disabled plane.
type PlaneState struct {
	Crtc        int
	Framebuffer *Framebuffer
	Src         Rect
	Dst         Rect
}

// DisabledPlane is the state of a plane that shows nothing.
var DisabledPlane = PlaneState{Crtc: -1}

// AtomicState is a set of CRTC and plane changes applied all-or-nothing by
// one commit. Objects absent from the maps keep their configuration.
type AtomicState struct {
	Crtcs  map[int]CrtcState
	Planes map[int]PlaneState
}

// NewAtomicState returns an empty change set.
func NewAtomicState() *AtomicState {
	return &AtomicState{
		Crtcs:  make(map[int]CrtcState),
		Planes: make(map[int]PlaneState),
	}
}

// SetCrtc adds a CRTC change.
func (s *AtomicState) SetCrtc(index int, cs CrtcState) *AtomicState {
	s.Crtcs[index] = cs
	return s
}

// SetPlane adds a plane change.
func (s *AtomicState) SetPlane(id int, ps PlaneState) *AtomicState {
	s.Planes[id] = ps
	return s
}

// DisablePlane adds a change turning plane id off.
func (s *AtomicState) DisablePlane(id int) *AtomicState {
	s.Planes[id] = DisabledPlane
	return s
}

func (s *AtomicState) clone() *AtomicState {
	out := NewAtomicState()
	for k, v := range s.Crtcs {
		out.Crtcs[k] = v
	}
	for k, v := range s.Planes {
		out.Planes[k] = v
	}
	return out
}

func (s *AtomicState) crtcIndices() []int {
	out := make([]int, 0, len(s.Crtcs))
	for k := range s.Crtcs {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (s *AtomicState) planeIDs() []int {
	out := make([]int, 0, len(s.Planes))
	for k := range s.Planes {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func maskIndices(mask uint32) []int {
	var out []int
	for i := 0; mask != 0; i++ {
		if mask&1 != 0 {
			out = append(out, i)
		}
		mask >>= 1
	}
	return out
}

// needsModeset reports whether going from old to cs requires a full
// disable and enable of the pipe.
func needsModeset(old, cs CrtcState) bool {
	return old.Active != cs.Active || old.Mode != cs.Mode || old.Outputs != cs.Outputs
}

// State returns a copy of the committed configuration.
func (d *Device) State() *AtomicState {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.cur.clone()
}

// AffectedCrtcs returns the CRTCs a commit of st touches: every CRTC in
// st and the old and new CRTC of every plane in st.
func (d *Device) AffectedCrtcs(st *AtomicState) uint32 {
	d.stateMu.Lock()
	cur := d.cur
	d.stateMu.Unlock()
	return affectedCrtcs(st, cur)
}

func affectedCrtcs(st, cur *AtomicState) uint32 {
	var mask uint32
	for i := range st.Crtcs {
		mask |= 1 << uint(i)
	}
	for id, ps := range st.Planes {
		if ps.Crtc >= 0 {
			mask |= 1 << uint(ps.Crtc)
		}
		if old, ok := cur.Planes[id]; ok && old.Crtc >= 0 {
			mask |= 1 << uint(old.Crtc)
		}
	}
	return mask
}

// Check validates st against the hardware constraints and the committed
// configuration. It changes nothing.
func (d *Device) Check(st *AtomicState) error {
	if err := d.validate(st); err != nil {
		return err
	}
	return d.checkEngines(st, d.engineGroups(st, nil))
}

// validate runs every check of Check except engine allocation.
func (d *Device) validate(st *AtomicState) error {
	if st == nil {
		return fmt.Errorf("nil state: %w", ErrInvalidConfiguration)
	}
	d.stateMu.Lock()
	cur := d.cur
	d.stateMu.Unlock()

	for _, i := range st.crtcIndices() {
		if i < 0 || i >= len(d.crtcs) {
			return fmt.Errorf("crtc %d does not exist: %w", i, ErrInvalidConfiguration)
		}
		cs := st.Crtcs[i]
		if !cs.Active {
			continue
		}
		if err := cs.Mode.Validate(); err != nil {
			return fmt.Errorf("crtc %d: %w", i, err)
		}
		if cs.Outputs == 0 {
			return fmt.Errorf("crtc %d: active without output: %w", i, ErrInvalidConfiguration)
		}
		for _, o := range maskIndices(cs.Outputs) {
			out := hardware.Output(o)
			if d.connected&(1<<uint(o)) == 0 {
				return fmt.Errorf("crtc %d: output %s is not connected: %w", i, out, ErrInvalidConfiguration)
			}
			if !d.info.CanRoute(out, i) {
				return fmt.Errorf("crtc %d cannot drive %s: %w", i, out, ErrInvalidConfiguration)
			}
		}
	}

	for _, id := range st.planeIDs() {
		if id < 0 || id >= len(d.planes) {
			return fmt.Errorf("plane %d does not exist: %w", id, ErrInvalidConfiguration)
		}
		if err := d.checkPlane(d.planes[id], st.Planes[id]); err != nil {
			return err
		}
	}

	// An active CRTC scans out its primary plane.
	for i, c := range d.crtcs {
		cs, ok := st.Crtcs[i]
		if !ok {
			cs = cur.Crtcs[i]
		}
		if !cs.Active {
			continue
		}
		ps, ok := st.Planes[c.plane.id]
		if !ok {
			ps = cur.Planes[c.plane.id]
		}
		if ps.Crtc != i || ps.Framebuffer == nil {
			return fmt.Errorf("crtc %d: active without primary framebuffer: %w", i, ErrInvalidConfiguration)
		}
	}

	return nil
}

func (d *Device) checkPlane(p *Plane, ps PlaneState) error {
	if ps.Crtc < 0 {
		return nil
	}
	if ps.Crtc >= len(d.crtcs) {
		return fmt.Errorf("plane %d: crtc %d does not exist: %w", p.id, ps.Crtc, ErrInvalidConfiguration)
	}
	c := d.crtcs[ps.Crtc]
	if c.group != p.group {
		return fmt.Errorf("plane %d: crtc %d is not in group %d: %w", p.id, ps.Crtc, p.group.index, ErrInvalidConfiguration)
	}
	if p.typ == PlanePrimary && c.plane != p {
		return fmt.Errorf("plane %d: primary plane cannot move to crtc %d: %w", p.id, ps.Crtc, ErrInvalidConfiguration)
	}
	fb := ps.Framebuffer
	if fb == nil {
		return fmt.Errorf("plane %d: no framebuffer: %w", p.id, ErrInvalidConfiguration)
	}
	if _, err := format.Lookup(fb.Format.Fourcc); err != nil {
		return fmt.Errorf("plane %d: %w: %w", p.id, ErrInvalidConfiguration, err)
	}
	if ps.Src.W != ps.Dst.W || ps.Src.H != ps.Dst.H {
		return fmt.Errorf("plane %d: scaling not supported: %w", p.id, ErrInvalidConfiguration)
	}
	if ps.Src.W <= 0 || ps.Src.H <= 0 {
		return fmt.Errorf("plane %d: empty source: %w", p.id, ErrInvalidConfiguration)
	}
	if ps.Src.X < 0 || ps.Src.Y < 0 || ps.Src.X+ps.Src.W > fb.Width || ps.Src.Y+ps.Src.H > fb.Height {
		return fmt.Errorf("plane %d: source outside %dx%d framebuffer: %w", p.id, fb.Width, fb.Height, ErrInvalidConfiguration)
	}
	if ps.Dst.X < 0 || ps.Dst.Y < 0 {
		return fmt.Errorf("plane %d: negative position: %w", p.id, ErrInvalidConfiguration)
	}
	return nil
}

func planeEngines(ps PlaneState) int {
	if ps.Crtc < 0 || ps.Framebuffer == nil {
		return 0
	}
	return ps.Framebuffer.Format.Planes
}

// engineGroups returns the groups in which st changes the engine count of
// a plane relative to cur, as a mask of group indices. A nil cur compares
// against the planes as programmed.
func (d *Device) engineGroups(st, cur *AtomicState) uint32 {
	var mask uint32
	for id, ps := range st.Planes {
		p := d.planes[id]
		held := 0
		if cur != nil {
			held = planeEngines(cur.Planes[id])
		} else {
			p.group.pool.mu.Lock()
			if p.format != nil {
				held = p.format.Planes
			}
			p.group.pool.mu.Unlock()
		}
		if held != planeEngines(ps) {
			mask |= 1 << uint(p.group.index)
		}
	}
	return mask
}

// groupCrtcs returns the CRTCs of the groups in mask.
func (d *Device) groupCrtcs(groups uint32) uint32 {
	var mask uint32
	for i, c := range d.crtcs {
		if groups&(1<<uint(c.group.index)) != 0 {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// checkEngines dry-runs the engine reallocations st needs in the groups
// of mask against the engines as programmed.
func (d *Device) checkEngines(st *AtomicState, groups uint32) error {
	for _, g := range d.groups {
		if groups&(1<<uint(g.index)) == 0 {
			continue
		}
		g.pool.mu.Lock()
		var rs []reservation
		for _, id := range st.planeIDs() {
			p := d.planes[id]
			if p.group != g {
				continue
			}
			ps := st.Planes[id]
			var want *format.Info
			if ps.Crtc >= 0 && ps.Framebuffer != nil {
				want = ps.Framebuffer.Format
			}
			held := 0
			if p.format != nil {
				held = p.format.Planes
			}
			wanted := 0
			if want != nil {
				wanted = want.Planes
			}
			// Planes keeping their engine count keep their engines.
			if held == wanted && p.hwIndex >= 0 {
				continue
			}
			if held == 0 && wanted == 0 {
				continue
			}
			rs = append(rs, reservation{held: p.hwIndex, heldFormat: p.format, want: want})
		}
		err := g.pool.checkLocked(rs)
		g.pool.mu.Unlock()
		if err != nil {
			return fmt.Errorf("group %d: %w", g.index, err)
		}
	}
	return nil
}
