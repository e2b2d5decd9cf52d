package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// recentLayouts is how many saved layouts Reload recognizes as our own.
const recentLayouts = 8

// Commit replaces the whole layout. CRTCs and planes missing from in are
// turned off; framebuffers listed in in and not yet registered are
// registered. With async set the call returns once the commit is admitted.
func (c *Controller) Commit(ctx context.Context, in models.State, async bool) (models.CommitResult, *models.AppError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.commitLocked(ctx, in, async)
	return res, toAppError(err)
}

// Reload commits the layout found in the store unless it is one this
// controller saved itself.
func (c *Controller) Reload(ctx context.Context) error {
	stored, err := c.store.Load()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := layoutKey(stored)
	if key == layoutKey(&c.state) {
		return nil
	}
	for _, k := range c.saved {
		if k == key {
			return nil
		}
	}
	slog.Info("controller: layout changed on disk, reloading", "path", c.store.Path())
	if _, err := c.commitLocked(ctx, *stored, false); err != nil {
		return err
	}
	return nil
}

func (c *Controller) commitLocked(ctx context.Context, in models.State, async bool) (models.CommitResult, error) {
	next, err := c.completeLayout(&in)
	if err != nil {
		return models.CommitResult{}, err
	}

	var added []string
	rollback := func() {
		for _, id := range added {
			c.unregisterLocked(id)
		}
	}
	for _, fb := range in.Framebuffers {
		if _, ok := c.fbs[fb.ID]; ok {
			continue
		}
		reg, err := c.registerLocked(fb)
		if err != nil {
			rollback()
			return models.CommitResult{}, err
		}
		added = append(added, reg.ID)
	}

	st, err := c.atomicState(&next)
	if err != nil {
		rollback()
		return models.CommitResult{}, err
	}

	res := models.CommitResult{Crtcs: []int{}, Async: async}
	var applyErr error
	if len(st.Crtcs) > 0 || len(st.Planes) > 0 {
		commit, err := c.dev.Commit(ctx, st, async)
		if err != nil {
			rollback()
			return models.CommitResult{}, err
		}
		res.ID = commit.ID
		for i := range c.dev.Crtcs() {
			if commit.Crtcs&(1<<uint(i)) != 0 {
				res.Crtcs = append(res.Crtcs, i)
			}
		}
		if !async {
			// The configuration is committed even when programming failed.
			applyErr = commit.Err()
		}
	}

	c.applyProperties(&next)
	next.Framebuffers = c.framebufferListLocked()
	next.Info = c.state.Info
	c.setStateLocked(next)
	return res, applyErr
}

// completeLayout validates in and expands it to every CRTC and plane of
// the device. Plane properties missing from in keep their value.
func (c *Controller) completeLayout(in *models.State) (models.State, error) {
	next := c.emptyLayout()
	next.Info = c.state.Info

	seen := make(map[int]bool)
	for _, mc := range in.Crtcs {
		if c.dev.Crtc(mc.ID) == nil {
			return models.State{}, models.ErrBadRequest(fmt.Sprintf("crtc %d does not exist", mc.ID))
		}
		if seen[mc.ID] {
			return models.State{}, models.ErrBadRequest(fmt.Sprintf("crtc %d listed twice", mc.ID))
		}
		seen[mc.ID] = true
		if mc.Active && mc.Mode == nil {
			return models.State{}, models.ErrBadRequest(fmt.Sprintf("crtc %d: active without mode", mc.ID))
		}
		out := models.Crtc{ID: mc.ID, Active: mc.Active}
		if mc.Mode != nil {
			m := *mc.Mode
			m.Flags = append([]string(nil), mc.Mode.Flags...)
			out.Mode = &m
		}
		for _, name := range mc.Outputs {
			o, err := hardware.ParseOutput(name)
			if err != nil {
				return models.State{}, models.ErrBadRequest(fmt.Sprintf("crtc %d: %v", mc.ID, err))
			}
			out.Outputs = append(out.Outputs, o.String())
		}
		*next.FindCrtc(mc.ID) = out
	}

	seen = make(map[int]bool)
	for _, mp := range in.Planes {
		p := c.dev.Plane(mp.ID)
		if p == nil {
			return models.State{}, models.ErrBadRequest(fmt.Sprintf("plane %d does not exist", mp.ID))
		}
		if seen[mp.ID] {
			return models.State{}, models.ErrBadRequest(fmt.Sprintf("plane %d listed twice", mp.ID))
		}
		seen[mp.ID] = true

		dst := next.FindPlane(mp.ID)
		if cur := c.state.FindPlane(mp.ID); cur != nil {
			dst.Zpos, dst.Alpha, dst.ColorKey = cur.Zpos, cur.Alpha, cur.ColorKey
		}
		if p.Type() == du.PlanePrimary {
			if mp.Zpos != nil || mp.Alpha != nil || mp.ColorKey != nil {
				return models.State{}, models.ErrBadRequest(fmt.Sprintf("plane %d: primary planes have no properties", mp.ID))
			}
		} else {
			if err := checkProperties(mp.ID, mp.Zpos, mp.Alpha, mp.ColorKey); err != nil {
				return models.State{}, err
			}
			if mp.Zpos != nil {
				dst.Zpos = models.IntPtr(*mp.Zpos)
			}
			if mp.Alpha != nil {
				dst.Alpha = models.IntPtr(*mp.Alpha)
			}
			if mp.ColorKey != nil {
				key := *mp.ColorKey
				dst.ColorKey = &key
			}
		}
		if mp.Crtc == nil {
			continue
		}
		dst.Crtc = models.IntPtr(*mp.Crtc)
		dst.Framebuffer = mp.Framebuffer
		dst.Src, dst.Dst = mp.Src, mp.Dst
	}
	return next, nil
}

// atomicState builds the change set turning the committed configuration
// into next. Source rectangles left empty cover the whole framebuffer and
// empty destinations take the source size; next is updated to match.
func (c *Controller) atomicState(next *models.State) (*du.AtomicState, error) {
	cur := c.dev.State()
	st := du.NewAtomicState()

	for _, mc := range next.Crtcs {
		cs := du.CrtcState{Active: mc.Active}
		if mc.Mode != nil {
			m, err := toMode(mc.Mode)
			if err != nil {
				return nil, err
			}
			cs.Mode = m
		}
		mask, err := toOutputs(mc.Outputs)
		if err != nil {
			return nil, err
		}
		cs.Outputs = mask
		if cs != cur.Crtcs[mc.ID] {
			st.SetCrtc(mc.ID, cs)
		}
	}

	for i := range next.Planes {
		mp := &next.Planes[i]
		ps := du.DisabledPlane
		if mp.Crtc != nil {
			fb, ok := c.fbs[mp.Framebuffer]
			if !ok {
				return nil, models.ErrBadRequest(fmt.Sprintf("plane %d: unknown framebuffer %q", mp.ID, mp.Framebuffer))
			}
			if mp.Src.W == 0 && mp.Src.H == 0 {
				mp.Src = models.Rect{X: mp.Src.X, Y: mp.Src.Y, W: fb.Width - mp.Src.X, H: fb.Height - mp.Src.Y}
			}
			if mp.Dst.W == 0 && mp.Dst.H == 0 {
				mp.Dst.W, mp.Dst.H = mp.Src.W, mp.Src.H
			}
			ps = du.PlaneState{Crtc: *mp.Crtc, Framebuffer: fb, Src: toRect(mp.Src), Dst: toRect(mp.Dst)}
		}
		if ps != cur.Planes[mp.ID] {
			st.SetPlane(mp.ID, ps)
		}
	}
	return st, nil
}

func checkProperties(id int, zpos, alpha *int, key *uint32) error {
	if zpos != nil && (*zpos < du.MinZpos || *zpos > du.MaxZpos) {
		return models.ErrBadRequest(fmt.Sprintf("plane %d: zpos must be %d-%d", id, du.MinZpos, du.MaxZpos))
	}
	if alpha != nil && (*alpha < 0 || *alpha > du.MaxAlpha) {
		return models.ErrBadRequest(fmt.Sprintf("plane %d: alpha must be 0-%d", id, du.MaxAlpha))
	}
	if key != nil && *key > du.MaxColorKey {
		return models.ErrBadRequest(fmt.Sprintf("plane %d: colorkey above 0x%x", id, du.MaxColorKey))
	}
	return nil
}

// applyProperties programs the overlay properties of next. They were
// range checked by completeLayout.
func (c *Controller) applyProperties(next *models.State) {
	for _, mp := range next.Planes {
		p := c.dev.Plane(mp.ID)
		if p == nil || p.Type() != du.PlaneOverlay {
			continue
		}
		var errs []error
		if mp.Zpos != nil {
			errs = append(errs, p.SetZpos(*mp.Zpos))
		}
		if mp.Alpha != nil {
			errs = append(errs, p.SetAlpha(uint32(*mp.Alpha)))
		}
		if mp.ColorKey != nil {
			errs = append(errs, p.SetColorKey(*mp.ColorKey))
		}
		for _, err := range errs {
			if err != nil {
				slog.Warn("controller: plane property not applied", "plane", mp.ID, "err", err)
			}
		}
	}
}

// layoutKey identifies a layout ignoring Info.
func layoutKey(st *models.State) string {
	cp := st.DeepCopy()
	cp.Info = models.Info{}
	data, err := json.Marshal(cp)
	if err != nil {
		return ""
	}
	return string(data)
}
