package controller

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/format"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// Framebuffers returns the registered framebuffers sorted by id.
func (c *Controller) Framebuffers() []models.Framebuffer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.framebufferListLocked()
}

// CreateFramebuffer registers scan-out memory. Zero pitches are replaced
// by the dumb buffer pitch of the device.
func (c *Controller) CreateFramebuffer(req models.FramebufferCreate) (models.Framebuffer, *models.AppError) {
	var out models.Framebuffer
	_, appErr := c.update(func(s *models.State) error {
		fb, err := c.registerLocked(models.Framebuffer{
			ID:      req.ID,
			Format:  req.Format,
			Width:   req.Width,
			Height:  req.Height,
			Pitches: req.Pitches,
			Addrs:   req.Addrs,
		})
		if err != nil {
			return err
		}
		out = fb
		s.Framebuffers = c.framebufferListLocked()
		return nil
	})
	return out, appErr
}

// DeleteFramebuffer drops the registry reference of a framebuffer that no
// plane of the layout uses. Hardware still scanning it out keeps its own
// reference until the next frame.
func (c *Controller) DeleteFramebuffer(id string) *models.AppError {
	_, appErr := c.update(func(s *models.State) error {
		if _, ok := c.fbs[id]; !ok {
			return models.ErrNotFound(fmt.Sprintf("framebuffer %q not found", id))
		}
		for _, p := range s.Planes {
			if p.Crtc != nil && p.Framebuffer == id {
				return models.ErrConflict(fmt.Sprintf("framebuffer %q is shown on plane %d", id, p.ID))
			}
		}
		c.unregisterLocked(id)
		s.Framebuffers = c.framebufferListLocked()
		return nil
	})
	return appErr
}

func (c *Controller) registerLocked(in models.Framebuffer) (models.Framebuffer, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if _, ok := c.fbs[in.ID]; ok {
		return models.Framebuffer{}, models.ErrConflict(fmt.Sprintf("framebuffer %q already exists", in.ID))
	}
	f, err := format.Parse(in.Format)
	if err != nil {
		return models.Framebuffer{}, models.ErrBadRequest(err.Error())
	}
	info, _ := format.Lookup(f)
	if in.Width <= 0 {
		return models.Framebuffer{}, models.ErrBadRequest(fmt.Sprintf("framebuffer %q: width must be positive", in.ID))
	}
	if in.Pitches[0] == 0 {
		bpp := uint32(info.BPP)
		if info.Planes == 2 {
			bpp = 8
		}
		in.Pitches[0] = c.dev.DumbPitch(uint32(in.Width), bpp)
	}
	if info.Planes == 2 && in.Pitches[1] == 0 {
		in.Pitches[1] = in.Pitches[0]
	}

	id := in.ID
	fb, err := c.dev.NewFramebuffer(du.FramebufferDesc{
		Format:  f,
		Width:   in.Width,
		Height:  in.Height,
		Pitches: in.Pitches,
		Addrs:   in.Addrs,
	}, func() { slog.Debug("controller: framebuffer released", "id", id) })
	if err != nil {
		return models.Framebuffer{}, err
	}
	c.fbs[id] = fb
	slog.Debug("controller: framebuffer registered", "id", id, "format", in.Format,
		"size", fmt.Sprintf("%dx%d", in.Width, in.Height), "pitch", in.Pitches[0])
	return in, nil
}

func (c *Controller) unregisterLocked(id string) {
	if fb, ok := c.fbs[id]; ok {
		delete(c.fbs, id)
		fb.Put()
	}
}

func (c *Controller) framebufferListLocked() []models.Framebuffer {
	out := make([]models.Framebuffer, 0, len(c.fbs))
	for id, fb := range c.fbs {
		out = append(out, models.Framebuffer{
			ID:      id,
			Format:  fb.Format.Fourcc.String(),
			Width:   fb.Width,
			Height:  fb.Height,
			Pitches: fb.Pitches,
			Addrs:   fb.Addrs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close drops the registry references. The device must be closed first.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.fbs {
		c.unregisterLocked(id)
	}
}
