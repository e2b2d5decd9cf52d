package controller

import (
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/format"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// Crtcs returns the runtime status of every CRTC.
func (c *Controller) Crtcs() []models.CrtcStatus {
	crtcs := c.dev.Crtcs()
	out := make([]models.CrtcStatus, 0, len(crtcs))
	for _, crtc := range crtcs {
		out = append(out, crtcStatus(crtc.Status()))
	}
	return out
}

// Crtc returns the runtime status of one CRTC.
func (c *Controller) Crtc(id int) (models.CrtcStatus, *models.AppError) {
	crtc := c.dev.Crtc(id)
	if crtc == nil {
		return models.CrtcStatus{}, models.ErrNotFound(fmt.Sprintf("crtc %d not found", id))
	}
	return crtcStatus(crtc.Status()), nil
}

func crtcStatus(s du.CrtcStatus) models.CrtcStatus {
	out := models.CrtcStatus{
		ID:           s.Index,
		Group:        s.Group,
		Enabled:      s.Enabled,
		Started:      s.Started,
		Suspended:    s.Suspended,
		Outputs:      outputNames(s.Outputs),
		PrimaryPlane: s.PrimaryPlane,
		Sequence:     s.Sequence,
		FlipPending:  s.FlipPending,
	}
	if out.Outputs == nil {
		out.Outputs = []string{}
	}
	if s.Enabled {
		out.Mode = fromMode(s.Mode)
		out.DotClockKHz = int(s.DotClock.Rate / physic.KiloHertz)
		out.Divisor = s.DotClock.Divisor
		out.ExternalClk = s.DotClock.External
	}
	return out
}

// Formats lists the pixel formats the planes can scan out.
func (c *Controller) Formats() []models.FormatInfo {
	fs := format.Supported()
	out := make([]models.FormatInfo, 0, len(fs))
	for _, f := range fs {
		info, err := format.Lookup(f)
		if err != nil {
			continue
		}
		out = append(out, models.FormatInfo{Fourcc: f.String(), BPP: info.BPP, Planes: info.Planes})
	}
	return out
}
