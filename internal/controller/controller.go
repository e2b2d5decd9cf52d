// Package controller implements the mode-setting layer: the single source
// of truth for the display layout. It translates models.State layouts
// into atomic commits on the display unit, keeps the framebuffer registry
// and persists the committed layout.
package controller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/igel-oss/rcar-du-vdrm/internal/config"
	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// Controller owns the layout of one display unit.
// All layout changes go through commitLocked or update, which keep the
// hardware, the layout and the store consistent.
type Controller struct {
	mu    sync.RWMutex
	state models.State
	dev   *du.Device
	store config.Store
	fbs   map[string]*du.Framebuffer
	saved []string // layoutKey of the last saved layouts, oldest first
}

// New creates a Controller and restores the stored layout. A layout that
// cannot be restored is logged and replaced by an empty one.
func New(ctx context.Context, dev *du.Device, store config.Store) (*Controller, error) {
	stored, err := store.Load()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		dev:   dev,
		store: store,
		fbs:   make(map[string]*du.Framebuffer),
	}
	c.state = c.emptyLayout()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.commitLocked(ctx, *stored, false); err != nil {
		slog.Warn("controller: stored layout not restored", "path", store.Path(), "err", err)
	}
	return c, nil
}

// State returns a deep copy of the current layout.
func (c *Controller) State() models.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.DeepCopy()
}

// update applies fn to a copy of the layout and, on success, makes it
// current and schedules a save. fn performs the hardware change itself.
func (c *Controller) update(fn func(*models.State) error) (models.State, *models.AppError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state.DeepCopy()
	if err := fn(&next); err != nil {
		return models.State{}, toAppError(err)
	}
	c.setStateLocked(next)
	return c.state.DeepCopy(), nil
}

func (c *Controller) setStateLocked(next models.State) {
	c.state = next
	_ = c.store.Save(&c.state) // debounced, async

	c.saved = append(c.saved, layoutKey(&c.state))
	if len(c.saved) > recentLayouts {
		c.saved = c.saved[len(c.saved)-recentLayouts:]
	}
}

// emptyLayout lists every CRTC and plane of the device, all off.
func (c *Controller) emptyLayout() models.State {
	st := models.DefaultState()
	st.Info.Model = c.dev.Info().Model
	for _, crtc := range c.dev.Crtcs() {
		st.Crtcs = append(st.Crtcs, models.Crtc{ID: crtc.Index()})
	}
	for _, p := range c.dev.Planes() {
		mp := models.Plane{ID: p.ID(), Type: p.Type().String()}
		if p.Type() == du.PlaneOverlay {
			ps := p.Status()
			mp.Zpos = models.IntPtr(ps.Zpos)
			mp.Alpha = models.IntPtr(int(ps.Alpha))
			key := ps.ColorKey
			mp.ColorKey = &key
		}
		st.Planes = append(st.Planes, mp)
	}
	return st
}
