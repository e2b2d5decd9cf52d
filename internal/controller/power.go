package controller

import (
	"fmt"
	"log/slog"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// DPMS switches a configured CRTC on or off without changing its mode.
func (c *Controller) DPMS(crtcID int, on bool) (models.Crtc, *models.AppError) {
	state, appErr := c.update(func(s *models.State) error {
		mc := s.FindCrtc(crtcID)
		if mc == nil {
			return models.ErrNotFound(fmt.Sprintf("crtc %d not found", crtcID))
		}
		if on && mc.Mode == nil {
			return models.ErrBadRequest(fmt.Sprintf("crtc %d has no mode", crtcID))
		}
		if err := c.dev.DPMS(crtcID, on); err != nil {
			return err
		}
		mc.Active = on
		return nil
	})
	if appErr != nil {
		return models.Crtc{}, appErr
	}
	return *state.FindCrtc(crtcID), nil
}

// Suspend stops every CRTC ahead of a system sleep.
func (c *Controller) Suspend() models.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Info.Suspended {
		return c.state.Info
	}
	c.dev.Suspend()
	c.state.Info.Suspended = true
	return c.state.Info
}

// Resume restarts the CRTCs that were running before Suspend.
func (c *Controller) Resume() (models.Info, *models.AppError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Info.Suspended {
		return c.state.Info, nil
	}
	c.state.Info.Suspended = false
	if err := c.dev.Resume(); err != nil {
		slog.Error("controller: resume failed", "err", err)
		return c.state.Info, toAppError(err)
	}
	return c.state.Info, nil
}

// Info describes the running device.
func (c *Controller) Info() models.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Info
}
