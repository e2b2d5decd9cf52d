// Package du drives the R-Car Display Unit: the plane engine allocator,
// the channel groups, the CRTC state machine and the atomic commit
// scheduler.
//
// Lock order: Device.modeset, Crtc.mu, PlanePool.mu, Group.mu. Crtc.eventMu
// is a leaf and is the only lock taken on the interrupt path.
package du

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/igel-oss/rcar-du-vdrm/internal/events"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

// overlaysPerGroup is the number of overlay planes of each group.
const overlaysPerGroup = 7

// Options configure a Device.
type Options struct {
	// Outputs lists the outputs with something connected. Outputs the SoC
	// cannot route are skipped.
	Outputs []hardware.Output
	// Events receives vblank, flip and commit events. Nil drops them.
	Events events.Publisher
}

// Device is one DU instance.
type Device struct {
	bus       hardware.Bus
	info      hardware.Info
	connected uint32
	events    events.Publisher
	warnLimit *rate.Limiter

	groups []*Group
	crtcs  []*Crtc
	planes []*Plane

	sched       *Scheduler
	dpad0Source atomic.Int32

	// modeset serializes hardware reprogramming across CRTCs.
	modeset sync.Mutex

	stateMu sync.Mutex
	cur     *AtomicState // committed configuration, replaced on change
}

// New creates the groups, planes and CRTCs of info on bus. It returns an
// error wrapping ErrProbeDeferred when a clock is not ready yet, or
// ErrFatal when the device cannot work at all.
func New(bus hardware.Bus, info hardware.Info, clocks hardware.ClockProvider, opts Options) (*Device, error) {
	if info.NumCrtcs <= 0 || info.NumCrtcs > len(crtcRegOffsets) {
		return nil, fmt.Errorf("du: %d crtcs not supported: %w", info.NumCrtcs, ErrFatal)
	}

	d := &Device{
		bus:       bus,
		info:      info,
		events:    opts.Events,
		warnLimit: rate.NewLimiter(rate.Every(time.Second), 4),
		sched:     NewScheduler(),
		cur:       NewAtomicState(),
	}
	if d.events == nil {
		d.events = events.Discard
	}

	for _, o := range opts.Outputs {
		r, ok := info.Routes[o]
		if !ok || r.PossibleCrtcs == 0 {
			slog.Warn("du: output does not exist on this SoC, skipping", "model", info.Model, "output", o)
			continue
		}
		d.connected |= 1 << uint(o)
	}
	if d.connected == 0 {
		return nil, fmt.Errorf("du: no output could be initialized: %w", ErrFatal)
	}

	for i := 0; i < info.NumGroups(); i++ {
		g := newGroup(d, i)
		n := g.numCrtcs + overlaysPerGroup
		for j := 0; j < n; j++ {
			typ := PlaneOverlay
			if j < g.numCrtcs {
				typ = PlanePrimary
			}
			p := newPlane(len(d.planes), g, typ)
			g.planes = append(g.planes, p)
			d.planes = append(d.planes, p)
			d.cur.Planes[p.id] = DisabledPlane
		}
		d.groups = append(d.groups, g)
	}

	for i := 0; i < info.NumCrtcs; i++ {
		clk, ext, err := crtcClocks(&info, clocks, i)
		if err != nil {
			return nil, err
		}
		d.crtcs = append(d.crtcs, newCrtc(d, d.groups[i/2], i, clk, ext))
		d.cur.Crtcs[i] = CrtcState{}
	}

	slog.Info("du: device initialized", "model", info.Model, "crtcs", len(d.crtcs),
		"planes", len(d.planes), "outputs", fmt.Sprintf("0x%x", d.connected))
	return d, nil
}

func crtcClocks(info *hardware.Info, clocks hardware.ClockProvider, index int) (hardware.Clock, hardware.Clock, error) {
	name := ""
	if info.Has(hardware.FeatureCRTCIRQClock) {
		name = fmt.Sprintf("du.%d", index)
	}
	clk, err := clocks.Clock(name)
	if err != nil {
		if errors.Is(err, hardware.ErrClockNotReady) {
			return nil, nil, fmt.Errorf("du: clock for crtc %d: %w: %w", index, ErrProbeDeferred, err)
		}
		return nil, nil, fmt.Errorf("du: no clock for crtc %d: %w: %w", index, ErrFatal, err)
	}

	// The external dot clock is optional.
	ext, err := clocks.Clock(fmt.Sprintf("dclkin.%d", index))
	if err != nil {
		if errors.Is(err, hardware.ErrClockNotReady) {
			slog.Info("du: external clock not ready", "crtc", index)
			return nil, nil, fmt.Errorf("du: external clock for crtc %d: %w: %w", index, ErrProbeDeferred, err)
		}
		ext = nil
	}
	return clk, ext, nil
}

// Info returns the SoC description.
func (d *Device) Info() *hardware.Info { return &d.info }

// Crtcs returns all CRTCs in index order.
func (d *Device) Crtcs() []*Crtc { return d.crtcs }

// Crtc returns CRTC index or nil.
func (d *Device) Crtc(index int) *Crtc {
	if index < 0 || index >= len(d.crtcs) {
		return nil
	}
	return d.crtcs[index]
}

// Planes returns all planes in id order.
func (d *Device) Planes() []*Plane { return d.planes }

// Plane returns plane id or nil.
func (d *Device) Plane(id int) *Plane {
	if id < 0 || id >= len(d.planes) {
		return nil
	}
	return d.planes[id]
}

// Groups returns all groups.
func (d *Device) Groups() []*Group { return d.groups }

// Connected returns the mask of connected outputs.
func (d *Device) Connected() uint32 { return d.connected }

// Scheduler returns the commit scheduler.
func (d *Device) Scheduler() *Scheduler { return d.sched }

// NewFramebuffer validates desc for this device. release must not block;
// it may run on the interrupt path.
func (d *Device) NewFramebuffer(desc FramebufferDesc, release func()) (*Framebuffer, error) {
	return NewFramebuffer(&d.info, desc, release)
}

// DumbPitch returns the pitch of a dumb buffer on this device.
func (d *Device) DumbPitch(width, bpp uint32) uint32 {
	return DumbPitch(&d.info, width, bpp)
}

// setDPAD0Routing programs the DPAD0 source on devices with external
// control registers. The first CRTC's clock gates the register access.
func (d *Device) setDPAD0Routing() error {
	if !d.info.Has(hardware.FeatureExtCtrlRegs) {
		return nil
	}
	clk := d.crtcs[0].clock
	if err := clk.Enable(); err != nil {
		return fmt.Errorf("dpad0 routing: %w", err)
	}
	d.groups[0].setupDEFR8(int(d.dpad0Source.Load()))
	clk.Disable()
	return nil
}

func (d *Device) updateState(fn func(s *AtomicState)) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	next := d.cur.clone()
	fn(next)
	d.cur = next
}

func (d *Device) setPlaneFramebuffer(id int, fb *Framebuffer) {
	d.updateState(func(s *AtomicState) {
		ps := s.Planes[id]
		ps.Framebuffer = fb
		s.Planes[id] = ps
	})
}

func (d *Device) recordCrtc(index int, cs CrtcState, planeID int, ps *PlaneState) {
	d.updateState(func(s *AtomicState) {
		s.Crtcs[index] = cs
		s.Planes[planeID] = *ps
	})
}

func (d *Device) setActive(index int, on bool) {
	d.updateState(func(s *AtomicState) {
		cs := s.Crtcs[index]
		cs.Active = on
		s.Crtcs[index] = cs
	})
}

// DPMS turns CRTC index on or off outside of a commit.
func (d *Device) DPMS(index int, on bool) error {
	c := d.Crtc(index)
	if c == nil {
		return fmt.Errorf("crtc %d does not exist: %w", index, ErrInvalidConfiguration)
	}
	if err := c.DPMS(on); err != nil {
		return err
	}
	d.setActive(index, on)
	return nil
}

// HandleInterrupt services the status of every CRTC. It never blocks and
// reports whether any CRTC had a frame end.
func (d *Device) HandleInterrupt() bool {
	handled := false
	for _, c := range d.crtcs {
		if c.HandleInterrupt() {
			handled = true
		}
	}
	return handled
}

// Run services interrupts from src until ctx is cancelled.
func (d *Device) Run(ctx context.Context, src hardware.InterruptSource) error {
	for {
		n, err := src.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("du: interrupt wait: %w", err)
		}
		if n > 0 {
			d.HandleInterrupt()
		}
	}
}

// Suspend stops every CRTC and drops their clocks for a power-loss window.
func (d *Device) Suspend() {
	d.modeset.Lock()
	defer d.modeset.Unlock()
	for _, c := range d.crtcs {
		c.Suspend()
	}
	slog.Info("du: suspended")
	d.events.Publish(events.Event{Kind: events.KindSuspend, Crtc: -1})
}

// Resume restarts every CRTC that was enabled before Suspend.
func (d *Device) Resume() error {
	d.modeset.Lock()
	defer d.modeset.Unlock()
	var errs []error
	for _, c := range d.crtcs {
		if err := c.Resume(); err != nil {
			errs = append(errs, err)
		}
	}
	slog.Info("du: resumed")
	d.events.Publish(events.Event{Kind: events.KindResume, Crtc: -1})
	return errors.Join(errs...)
}

// Close waits for in-flight commits, disables every CRTC and releases the
// framebuffers still scanned out.
func (d *Device) Close() error {
	d.sched.Close()

	d.modeset.Lock()
	defer d.modeset.Unlock()
	for _, c := range d.crtcs {
		c.Disable()
	}
	for _, p := range d.planes {
		p.group.pool.mu.Lock()
		fb := p.disableLocked()
		p.group.pool.mu.Unlock()
		fb.Put()
	}
	d.updateState(func(s *AtomicState) {
		for i := range s.Crtcs {
			s.Crtcs[i] = CrtcState{}
		}
		for id := range s.Planes {
			s.Planes[id] = DisabledPlane
		}
	})
	return nil
}
