package controller

import (
	"fmt"

	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// SetPlane updates the properties of an overlay plane. They take effect
// immediately on an enabled plane.
func (c *Controller) SetPlane(id int, upd models.PlaneUpdate) (models.Plane, *models.AppError) {
	p := c.dev.Plane(id)
	if p == nil {
		return models.Plane{}, models.ErrNotFound(fmt.Sprintf("plane %d not found", id))
	}
	if p.Type() != du.PlaneOverlay {
		return models.Plane{}, models.ErrBadRequest(fmt.Sprintf("plane %d: primary planes have no properties", id))
	}
	if err := checkProperties(id, upd.Zpos, upd.Alpha, upd.ColorKey); err != nil {
		return models.Plane{}, toAppError(err)
	}

	state, appErr := c.update(func(s *models.State) error {
		mp := s.FindPlane(id)
		if upd.Zpos != nil {
			if err := p.SetZpos(*upd.Zpos); err != nil {
				return err
			}
			mp.Zpos = models.IntPtr(*upd.Zpos)
		}
		if upd.Alpha != nil {
			if err := p.SetAlpha(uint32(*upd.Alpha)); err != nil {
				return err
			}
			mp.Alpha = models.IntPtr(*upd.Alpha)
		}
		if upd.ColorKey != nil {
			if err := p.SetColorKey(*upd.ColorKey); err != nil {
				return err
			}
			key := *upd.ColorKey
			mp.ColorKey = &key
		}
		return nil
	})
	if appErr != nil {
		return models.Plane{}, appErr
	}
	return *state.FindPlane(id), nil
}
