package du

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/igel-oss/rcar-du-vdrm/internal/events"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

// flipTimeout bounds page flip and vblank waits.
const flipTimeout = 50 * time.Millisecond

var crtcRegOffsets = [...]hardware.Register{hardware.DU0RegOffset, hardware.DU1RegOffset, hardware.DU2RegOffset}

// FlipRequest asks for a completion event when a page flip reaches the
// screen.
type FlipRequest struct {
	UserData uint64
	// Owner tags the event so CancelPageFlip can drop it when its client
	// goes away.
	Owner string
}

// FlipEvent is the completion of one page flip. Done is closed exactly
// once, after the result fields are final.
type FlipEvent struct {
	Crtc     int
	UserData uint64
	Owner    string

	done     chan struct{}
	sequence uint64
	time     time.Time
	forced   bool
	canceled bool
	prev     *Framebuffer
}

// Done is closed when the flip completed or was cancelled.
func (e *FlipEvent) Done() <-chan struct{} { return e.done }

// Wait blocks until the flip completed or ctx is cancelled.
func (e *FlipEvent) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flip wait: %w: %w", ErrInterrupted, ctx.Err())
	}
}

// Sequence returns the vblank count at completion. Valid after Done.
func (e *FlipEvent) Sequence() uint64 { return e.sequence }

// Time returns the completion time. Valid after Done.
func (e *FlipEvent) Time() time.Time { return e.time }

// Forced reports whether the flip was completed by the stop timeout
// rather than by the hardware. Valid after Done.
func (e *FlipEvent) Forced() bool { return e.forced }

// Canceled reports whether the event was dropped by CancelPageFlip.
func (e *FlipEvent) Canceled() bool { return e.canceled }

// Crtc is one scan-out pipe.
type Crtc struct {
	dev      *Device
	group    *Group
	index    int
	mmio     hardware.Register
	plane    *Plane
	clock    hardware.Clock
	extClock hardware.Clock

	interlaced atomic.Bool
	outputs    atomic.Uint32

	// mu serializes the lifecycle.
	mu       sync.Mutex
	enabled  bool
	started  bool
	held     bool // clock and group reference of the enabled state
	suspend  bool
	mode     Mode
	dotClock DotClock

	// eventMu guards the flip slot and vblank state. It is taken on the
	// interrupt path and never held across a wait.
	eventMu    sync.Mutex
	flip       *FlipEvent
	vblankOn   bool
	vblankRefs int
	vbe        bool
	sequence   uint64
	vblankCh   chan struct{}
}

func newCrtc(dev *Device, g *Group, index int, clock, extClock hardware.Clock) *Crtc {
	c := &Crtc{
		dev:      dev,
		group:    g,
		index:    index,
		mmio:     crtcRegOffsets[index],
		plane:    g.planes[index%2],
		clock:    clock,
		extClock: extClock,
		vblankCh: make(chan struct{}),
	}
	c.plane.crtc = c
	return c
}

// Index returns the CRTC number.
func (c *Crtc) Index() int { return c.index }

// Group returns the group the CRTC belongs to.
func (c *Crtc) Group() *Group { return c.group }

// PrimaryPlane returns the dedicated primary plane.
func (c *Crtc) PrimaryPlane() *Plane { return c.plane }

func (c *Crtc) read(reg hardware.Register) uint32 {
	return c.dev.bus.Read32(c.mmio + reg)
}

func (c *Crtc) write(reg hardware.Register, val uint32) {
	c.dev.bus.Write32(c.mmio+reg, val)
}

func (c *Crtc) clearSet(reg hardware.Register, clr, set uint32) {
	hardware.ClearSet(c.dev.bus, c.mmio+reg, clr, set)
}

func (c *Crtc) routedOutputs() uint32 { return c.outputs.Load() }

// get enables the clocks and takes a group reference.
func (c *Crtc) get() error {
	if err := c.clock.Enable(); err != nil {
		return fmt.Errorf("crtc %d: enable clock: %w", c.index, err)
	}
	if c.extClock != nil {
		if err := c.extClock.Enable(); err != nil {
			c.clock.Disable()
			return fmt.Errorf("crtc %d: enable external clock: %w", c.index, err)
		}
	}
	c.group.Acquire()
	return nil
}

func (c *Crtc) put() {
	c.group.Release()
	if c.extClock != nil {
		c.extClock.Disable()
	}
	c.clock.Disable()
}

// setMode stores the mode used by the next start. c.mu must be held.
func (c *Crtc) setMode(m Mode) {
	c.mode = m
	c.interlaced.Store(m.Interlaced())
}

// setOutputs replaces the output routes used by the next start.
func (c *Crtc) setOutputs(mask uint32) {
	c.outputs.Store(mask)
	if mask&(1<<uint(hardware.OutputDPAD0)) != 0 {
		c.dev.dpad0Source.Store(int32(c.index))
	}
}

// RouteOutput declares that c drives output. It takes effect at the next
// start.
func (c *Crtc) RouteOutput(output hardware.Output) error {
	if !c.dev.info.CanRoute(output, c.index) {
		return fmt.Errorf("crtc %d cannot drive %s: %w", c.index, output, ErrInvalidConfiguration)
	}
	for {
		old := c.outputs.Load()
		if c.outputs.CompareAndSwap(old, old|1<<uint(output)) {
			break
		}
	}
	if output == hardware.OutputDPAD0 {
		c.dev.dpad0Source.Store(int32(c.index))
	}
	return nil
}

// start programs the pipe and sets it running. c.mu must be held.
func (c *Crtc) start() error {
	if c.started {
		return nil
	}

	c.group.pool.mu.Lock()
	ready := c.plane.format != nil
	c.group.pool.mu.Unlock()
	if !ready {
		return fmt.Errorf("crtc %d: no primary framebuffer: %w", c.index, ErrInvalidConfiguration)
	}

	// Display off and background black
	c.write(hardware.DOOR, hardware.DOORRGB(0, 0, 0))
	c.write(hardware.BPOR, hardware.BPORRGB(0, 0, 0))

	c.dotClock = c.setDisplayTiming(c.mode)
	if err := c.group.setRouting(); err != nil {
		slog.Warn("du: output routing failed", "crtc", c.index, "err", err)
	}

	// Plane registers may have been lost across a power transition and a
	// mode change alone does not update planes, so commit them all here.
	c.group.pool.mu.Lock()
	c.group.updatePlanesLocked(c)
	for _, p := range c.group.planes {
		if p.crtc == c && p.enabled {
			p.setupLocked()
		}
	}
	c.group.pool.mu.Unlock()

	// Master sync mode drives HSYNC and VSYNC as outputs.
	set := hardware.DSYSRTVMMaster
	if c.mode.Interlaced() {
		set |= hardware.DSYSRSCMIntVid
	}
	c.clearSet(hardware.DSYSR, hardware.DSYSRTVMMask|hardware.DSYSRSCMMask, set)

	c.group.StartStop(true)
	c.setVblank(true)
	c.started = true
	slog.Debug("du: crtc started", "crtc", c.index, "mode", c.mode.String())
	return nil
}

// stop waits for a pending flip and halts the pipe. c.mu must be held.
func (c *Crtc) stop() {
	if !c.started {
		return
	}

	// Userspace expects flips to complete, so finish them before vblank
	// reporting goes away.
	c.waitPageFlip()
	c.setVblank(false)

	// Switch sync mode stops display and makes HSYNC and VSYNC inputs.
	c.clearSet(hardware.DSYSR, hardware.DSYSRTVMMask, hardware.DSYSRTVMSwitch)

	c.group.StartStop(false)
	c.started = false
	slog.Debug("du: crtc stopped", "crtc", c.index)
}

// Enable acquires clocks and group and starts the pipe. It is a no-op
// when already enabled.
func (c *Crtc) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enableLocked()
}

func (c *Crtc) enableLocked() error {
	if c.enabled {
		return nil
	}
	acquired := false
	if !c.held {
		if err := c.get(); err != nil {
			return err
		}
		c.held = true
		acquired = true
	}
	if err := c.start(); err != nil {
		if acquired {
			c.put()
			c.held = false
		}
		return err
	}
	c.enabled = true
	return nil
}

// Disable stops the pipe and releases clocks and group. It is a no-op when
// already disabled.
func (c *Crtc) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disableLocked()
}

func (c *Crtc) disableLocked() {
	if !c.enabled {
		return
	}
	c.stop()
	if c.held {
		c.put()
		c.held = false
	}
	c.enabled = false
}

// Suspend stops the pipe and drops its clock and group reference without
// touching the enabled flag.
func (c *Crtc) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop()
	if c.held {
		c.put()
		c.held = false
	}
	c.suspend = true
}

// Resume restarts the pipe if it was enabled before Suspend.
func (c *Crtc) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspend = false
	if !c.enabled {
		return nil
	}
	if !c.held {
		if err := c.get(); err != nil {
			return err
		}
		c.held = true
	}
	if err := c.start(); err != nil {
		c.put()
		c.held = false
		return err
	}
	return nil
}

// Enabled reports the logical enable state.
func (c *Crtc) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Started reports whether the pipe is running.
func (c *Crtc) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// CrtcStatus is a snapshot of a CRTC.
type CrtcStatus struct {
	Index        int
	Group        int
	Enabled      bool
	Started      bool
	Suspended    bool
	Mode         Mode
	DotClock     DotClock
	Outputs      []hardware.Output
	PrimaryPlane int
	Sequence     uint64
	FlipPending  bool
}

// Status returns a snapshot of c.
func (c *Crtc) Status() CrtcStatus {
	c.mu.Lock()
	s := CrtcStatus{
		Index:        c.index,
		Group:        c.group.index,
		Enabled:      c.enabled,
		Started:      c.started,
		Suspended:    c.suspend,
		Mode:         c.mode,
		DotClock:     c.dotClock,
		PrimaryPlane: c.plane.id,
	}
	c.mu.Unlock()

	mask := c.outputs.Load()
	for o := hardware.OutputDPAD0; o < hardware.OutputMax; o++ {
		if mask&(1<<uint(o)) != 0 {
			s.Outputs = append(s.Outputs, o)
		}
	}

	c.eventMu.Lock()
	s.Sequence = c.sequence
	s.FlipPending = c.flip != nil
	c.eventMu.Unlock()
	return s
}

// -----------------------------------------------------------------------------
// Vertical blanking

func (c *Crtc) updateVBELocked() {
	want := c.vblankOn && c.vblankRefs > 0
	if want == c.vbe {
		return
	}
	c.vbe = want
	if want {
		c.clearSet(hardware.DSRCR, 0, hardware.DSRCRVBCL)
		c.clearSet(hardware.DIER, 0, hardware.DIERVBE)
	} else {
		c.clearSet(hardware.DIER, hardware.DIERVBE, 0)
	}
}

// setVblank turns vblank reporting on or off. Turning it off wakes all
// vblank waiters.
func (c *Crtc) setVblank(on bool) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.vblankOn = on
	if !on {
		close(c.vblankCh)
		c.vblankCh = make(chan struct{})
	}
	c.updateVBELocked()
}

func (c *Crtc) vblankGetLocked() error {
	if !c.vblankOn {
		return fmt.Errorf("crtc %d: vblank reporting is off: %w", c.index, ErrInvalidConfiguration)
	}
	c.vblankRefs++
	c.updateVBELocked()
	return nil
}

func (c *Crtc) vblankPutLocked() {
	if c.vblankRefs == 0 {
		return
	}
	c.vblankRefs--
	c.updateVBELocked()
}

// VblankRefs returns the number of vblank references held.
func (c *Crtc) VblankRefs() int {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	return c.vblankRefs
}

// WaitVblank blocks until the next vertical blank, for at most 50ms.
func (c *Crtc) WaitVblank(ctx context.Context) error {
	c.eventMu.Lock()
	if err := c.vblankGetLocked(); err != nil {
		c.eventMu.Unlock()
		return err
	}
	ch := c.vblankCh
	c.eventMu.Unlock()

	defer func() {
		c.eventMu.Lock()
		c.vblankPutLocked()
		c.eventMu.Unlock()
	}()

	timer := time.NewTimer(flipTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("crtc %d: vblank wait: %w", c.index, ErrHardwareTimeout)
	case <-ctx.Done():
		return fmt.Errorf("crtc %d: vblank wait: %w: %w", c.index, ErrInterrupted, ctx.Err())
	}
}

// Sequence returns the vblank counter.
func (c *Crtc) Sequence() uint64 {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	return c.sequence
}

func (c *Crtc) handleVblank() {
	c.eventMu.Lock()
	if !c.vblankOn {
		c.eventMu.Unlock()
		return
	}
	c.sequence++
	seq := c.sequence
	close(c.vblankCh)
	c.vblankCh = make(chan struct{})
	notify := c.vblankRefs > 0
	c.eventMu.Unlock()

	if notify {
		c.dev.events.Publish(events.Event{Kind: events.KindVblank, Crtc: c.index, Sequence: seq})
	}
}

// HandleInterrupt acknowledges the CRTC's status and, on frame end,
// signals vblank and completes the pending flip. It never blocks.
func (c *Crtc) HandleInterrupt() bool {
	status := c.read(hardware.DSSR)
	c.write(hardware.DSRCR, status&hardware.DSRCRMask)

	if status&hardware.DSSRFRM == 0 {
		return false
	}
	c.handleVblank()
	c.finishPageFlip(false)
	return true
}

// -----------------------------------------------------------------------------
// Page flip

// RequestFlip scans out fb on the primary plane from the next frame. With
// a non-nil req the returned event completes at that frame. It fails with
// ErrResourceBusy while another flip is pending.
func (c *Crtc) RequestFlip(fb *Framebuffer, req *FlipRequest) (*FlipEvent, error) {
	if fb == nil {
		return nil, fmt.Errorf("crtc %d: flip without framebuffer: %w", c.index, ErrInvalidConfiguration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil, fmt.Errorf("crtc %d: flip on stopped crtc: %w", c.index, ErrInvalidConfiguration)
	}

	c.eventMu.Lock()
	busy := c.flip != nil
	c.eventMu.Unlock()
	if busy {
		return nil, fmt.Errorf("crtc %d: flip already pending: %w", c.index, ErrResourceBusy)
	}

	p := c.plane
	c.group.pool.mu.Lock()
	if p.format == nil || fb.Format.Fourcc != p.format.Fourcc {
		c.group.pool.mu.Unlock()
		return nil, fmt.Errorf("crtc %d: flip cannot change the pixel format: %w", c.index, ErrInvalidConfiguration)
	}
	if p.src.X+p.src.W > fb.Width || p.src.Y+p.src.H > fb.Height {
		c.group.pool.mu.Unlock()
		return nil, fmt.Errorf("crtc %d: framebuffer %dx%d smaller than source: %w",
			c.index, fb.Width, fb.Height, ErrInvalidConfiguration)
	}
	prev := p.fb
	p.fb = fb.Get()
	p.computeBase(fb)
	p.updateBaseLocked()
	c.group.pool.mu.Unlock()

	c.dev.setPlaneFramebuffer(p.id, fb)

	if req == nil {
		prev.Put()
		return nil, nil
	}

	ev := &FlipEvent{
		Crtc:     c.index,
		UserData: req.UserData,
		Owner:    req.Owner,
		done:     make(chan struct{}),
		prev:     prev,
	}
	c.eventMu.Lock()
	if err := c.vblankGetLocked(); err != nil {
		c.eventMu.Unlock()
		prev.Put()
		return nil, err
	}
	c.flip = ev
	c.eventMu.Unlock()
	return ev, nil
}

// FlipPending reports whether a flip event is outstanding.
func (c *Crtc) FlipPending() bool {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	return c.flip != nil
}

func (c *Crtc) finishPageFlip(forced bool) {
	c.eventMu.Lock()
	ev := c.flip
	c.flip = nil
	if ev == nil {
		c.eventMu.Unlock()
		return
	}
	ev.sequence = c.sequence
	ev.time = time.Now()
	ev.forced = forced
	c.vblankPutLocked()
	c.eventMu.Unlock()

	close(ev.done)
	c.dev.events.Publish(events.Event{
		Kind:     events.KindFlipComplete,
		Crtc:     c.index,
		Sequence: ev.sequence,
		Time:     ev.time,
		UserData: ev.UserData,
		Forced:   forced,
	})
	ev.prev.Put()
}

// waitPageFlip waits up to 50ms for the pending flip and force-completes
// it on timeout.
func (c *Crtc) waitPageFlip() {
	c.eventMu.Lock()
	ev := c.flip
	c.eventMu.Unlock()
	if ev == nil {
		return
	}

	timer := time.NewTimer(flipTimeout)
	defer timer.Stop()
	select {
	case <-ev.done:
		return
	case <-timer.C:
	}

	if c.dev.warnLimit.Allow() {
		slog.Warn("du: page flip timeout", "crtc", c.index)
	}
	c.finishPageFlip(true)
}

// CancelPageFlip drops the pending flip event of owner without delivering
// it. It returns whether an event was dropped.
func (c *Crtc) CancelPageFlip(owner string) bool {
	c.eventMu.Lock()
	ev := c.flip
	if ev == nil || ev.Owner != owner {
		c.eventMu.Unlock()
		return false
	}
	c.flip = nil
	ev.canceled = true
	c.vblankPutLocked()
	c.eventMu.Unlock()

	close(ev.done)
	ev.prev.Put()
	return true
}

// -----------------------------------------------------------------------------
// Legacy mode setting

// ModeSet programs m with fb on the primary plane and restarts the pipe,
// bypassing the atomic commit path.
func (c *Crtc) ModeSet(m Mode, fb *Framebuffer, outputs ...hardware.Output) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if fb == nil || fb.Width < m.HDisplay || fb.Height < m.VDisplay {
		return fmt.Errorf("crtc %d: framebuffer does not cover %s: %w", c.index, m, ErrInvalidConfiguration)
	}
	var mask uint32
	for _, o := range outputs {
		if !c.dev.info.CanRoute(o, c.index) {
			return fmt.Errorf("crtc %d cannot drive %s: %w", c.index, o, ErrInvalidConfiguration)
		}
		mask |= 1 << uint(o)
	}

	c.dev.modeset.Lock()
	defer c.dev.modeset.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	// Prepare: the hardware is accessed during the mode set, so hold a
	// reference, then stop.
	if !c.held {
		if err := c.get(); err != nil {
			return err
		}
		c.held = true
	}
	c.stop()
	c.enabled = false
	c.setOutputs(mask)
	c.setMode(m)

	full := Rect{W: m.HDisplay, H: m.VDisplay}
	st := &PlaneState{Crtc: c.index, Framebuffer: fb.Get(), Src: full, Dst: full}
	old, err := c.plane.update(st, c)
	old.Put()
	if err != nil {
		return err
	}
	c.dev.recordCrtc(c.index, CrtcState{Active: true, Mode: m, Outputs: mask}, c.plane.id, st)

	// Commit: the reference taken above is dropped by Disable.
	if err := c.start(); err != nil {
		return err
	}
	c.enabled = true
	return nil
}

// DPMS turns the pipe on or off.
func (c *Crtc) DPMS(on bool) error {
	c.dev.modeset.Lock()
	defer c.dev.modeset.Unlock()
	if on {
		return c.Enable()
	}
	c.Disable()
	return nil
}
