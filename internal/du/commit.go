package du

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/igel-oss/rcar-du-vdrm/internal/events"
)

// Commit is an admitted atomic commit.
type Commit struct {
	ID    string
	Crtcs uint32

	state *AtomicState
	old   *AtomicState // committed values of the objects in state, before swap
	done  chan struct{}
	errs  []error
}

// Done is closed when the commit has been applied and its CRTCs released.
func (c *Commit) Done() <-chan struct{} { return c.done }

// Wait blocks until the commit completed and returns the apply errors.
func (c *Commit) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return errors.Join(c.errs...)
	case <-ctx.Done():
		return fmt.Errorf("commit %s: %w: %w", c.ID, ErrInterrupted, ctx.Err())
	}
}

// Err returns the errors raised while applying. Valid after Done.
func (c *Commit) Err() error { return errors.Join(c.errs...) }

// Commit checks st and applies it all-or-nothing. It waits, interruptibly,
// for earlier commits on overlapping CRTCs. With async set the hardware
// is programmed in the background and the returned Commit completes later.
//
// Check and admission errors leave everything unchanged. Engine
// reallocations are checked once the commit holds every CRTC of the
// groups involved, so ErrResourceBusy is reported here and never from
// Wait.
func (d *Device) Commit(ctx context.Context, st *AtomicState, async bool) (*Commit, error) {
	if err := d.validate(st); err != nil {
		return nil, err
	}

	c := &Commit{
		ID:    uuid.NewString(),
		Crtcs: d.AffectedCrtcs(st),
		state: st.clone(),
		done:  make(chan struct{}),
	}

	// Take the references the planes will hold.
	prepared := d.prepare(c.state)

	err := d.sched.Commit(ctx, Job{
		Crtcs:    c.Crtcs,
		Admit:    func(held uint32) (uint32, error) { return d.admit(c, held) },
		Apply:    func() { d.apply(c) },
		Complete: func() { d.complete(c) },
	}, async)
	if err != nil {
		for _, fb := range prepared {
			fb.Put()
		}
		return nil, err
	}
	slog.Debug("du: commit admitted", "id", c.ID, "crtcs", fmt.Sprintf("0x%x", c.Crtcs), "async", async)
	return c, nil
}

func (d *Device) prepare(st *AtomicState) []*Framebuffer {
	var fbs []*Framebuffer
	for _, id := range st.planeIDs() {
		ps := st.Planes[id]
		if ps.Crtc >= 0 && ps.Framebuffer != nil {
			fbs = append(fbs, ps.Framebuffer.Get())
		}
	}
	return fbs
}

// admit runs with the CRTCs in held reserved. A commit reallocating
// engines in a group needs every CRTC of that group, then no other commit
// is in flight there and the engines as programmed are final. On success
// c.state becomes authoritative.
func (d *Device) admit(c *Commit, held uint32) (uint32, error) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	groups := d.engineGroups(c.state, d.cur)
	affected := affectedCrtcs(c.state, d.cur)
	need := affected | d.groupCrtcs(groups)
	if need&^held != 0 {
		return need, nil
	}
	if err := d.checkEngines(c.state, groups); err != nil {
		return held, err
	}
	c.Crtcs = affected
	c.old = d.swapLocked(c.state)
	return held, nil
}

// swapLocked makes st authoritative and returns the previous values of
// the objects it changes. d.stateMu must be held.
func (d *Device) swapLocked(st *AtomicState) *AtomicState {
	old := NewAtomicState()
	next := d.cur.clone()
	for i, cs := range st.Crtcs {
		old.Crtcs[i] = next.Crtcs[i]
		next.Crtcs[i] = cs
	}
	for id, ps := range st.Planes {
		old.Planes[id] = next.Planes[id]
		next.Planes[id] = ps
	}
	d.cur = next
	return old
}

func (c *Commit) fail(err error) {
	slog.Error("du: commit apply failed", "id", c.ID, "err", err)
	c.errs = append(c.errs, err)
}

// apply programs the hardware: mode-set disables, plane updates, mode-set
// enables, then a vblank wait before the superseded framebuffers go.
func (d *Device) apply(c *Commit) {
	st := c.state
	crtcs := maskIndices(c.Crtcs)
	var garbage []*Framebuffer

	d.modeset.Lock()

	for _, i := range st.crtcIndices() {
		if needsModeset(c.old.Crtcs[i], st.Crtcs[i]) {
			d.crtcs[i].Disable()
		}
	}

	// The hardware is accessed during the update, hold the CRTCs.
	held := make(map[int]bool, len(crtcs))
	for _, i := range crtcs {
		if err := d.crtcs[i].get(); err != nil {
			c.fail(err)
			continue
		}
		held[i] = true
	}

	for _, g := range d.groups {
		var ids []int
		for _, id := range st.planeIDs() {
			if d.planes[id].group == g {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		g.pool.mu.Lock()
		// Release every engine changing hands before reserving any, in
		// the order admission checked.
		for _, id := range ids {
			ps := st.Planes[id]
			if old := d.planes[id].detachLocked(&ps); old != nil {
				garbage = append(garbage, old)
			}
		}
		for _, id := range ids {
			ps := st.Planes[id]
			var crtc *Crtc
			if ps.Crtc >= 0 {
				crtc = d.crtcs[ps.Crtc]
			}
			old, err := d.planes[id].updateLocked(&ps, crtc)
			if old != nil {
				garbage = append(garbage, old)
			}
			if err != nil {
				c.fail(err)
			}
		}
		g.pool.mu.Unlock()
	}

	for _, i := range crtcs {
		crtc := d.crtcs[i]
		crtc.group.pool.mu.Lock()
		crtc.group.updatePlanesLocked(crtc)
		crtc.group.pool.mu.Unlock()
		if held[i] {
			crtc.put()
		}
	}

	for _, i := range st.crtcIndices() {
		cs := st.Crtcs[i]
		if !cs.Active || !needsModeset(c.old.Crtcs[i], cs) {
			continue
		}
		if err := d.crtcs[i].configure(cs); err != nil {
			c.fail(err)
		}
	}

	d.modeset.Unlock()

	// The new frame is on screen after the next vblank.
	for _, i := range crtcs {
		crtc := d.crtcs[i]
		if !crtc.Started() {
			continue
		}
		err := crtc.WaitVblank(context.Background())
		if errors.Is(err, ErrHardwareTimeout) && d.warnLimit.Allow() {
			slog.Warn("du: vblank wait timed out", "id", c.ID, "crtc", i)
		}
	}

	for _, fb := range garbage {
		fb.Put()
	}
}

func (d *Device) complete(c *Commit) {
	close(c.done)
	for _, i := range maskIndices(c.Crtcs) {
		d.events.Publish(events.Event{Kind: events.KindCommitComplete, Crtc: i, CommitID: c.ID})
	}
	slog.Debug("du: commit complete", "id", c.ID)
}

// configure sets the mode and routes of c and enables it.
func (c *Crtc) configure(cs CrtcState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setMode(cs.Mode)
	c.setOutputs(cs.Outputs)
	return c.enableLocked()
}
