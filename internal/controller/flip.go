package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// flipWaitTimeout bounds a Flip that waits for its completion event.
const flipWaitTimeout = time.Second

// Flip scans out a registered framebuffer on the primary plane of a CRTC
// from the next frame on.
func (c *Controller) Flip(ctx context.Context, crtcID int, req models.FlipRequest) (models.FlipResult, *models.AppError) {
	crtc := c.dev.Crtc(crtcID)
	if crtc == nil {
		return models.FlipResult{}, models.ErrNotFound(fmt.Sprintf("crtc %d not found", crtcID))
	}

	var ev *du.FlipEvent
	_, appErr := c.update(func(s *models.State) error {
		fb, ok := c.fbs[req.Framebuffer]
		if !ok {
			return models.ErrNotFound(fmt.Sprintf("framebuffer %q not found", req.Framebuffer))
		}
		var fr *du.FlipRequest
		if req.Event || req.Wait {
			fr = &du.FlipRequest{UserData: req.UserData, Owner: req.Owner}
		}
		var err error
		if ev, err = crtc.RequestFlip(fb, fr); err != nil {
			return err
		}
		if p := s.FindPlane(crtc.PrimaryPlane().ID()); p != nil {
			p.Framebuffer = req.Framebuffer
		}
		return nil
	})
	if appErr != nil {
		return models.FlipResult{}, appErr
	}

	res := models.FlipResult{Crtc: crtcID, Pending: ev != nil}
	if ev == nil || !req.Wait {
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, flipWaitTimeout)
	defer cancel()
	if err := ev.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, models.ErrTimeout(fmt.Sprintf("crtc %d: flip did not complete", crtcID))
		}
		return res, toAppError(err)
	}
	res.Pending = false
	res.Sequence = ev.Sequence()
	res.Forced = ev.Forced()
	return res, nil
}

// CancelFlips drops the pending flip events of owner on every CRTC and
// returns how many were dropped.
func (c *Controller) CancelFlips(owner string) int {
	n := 0
	for _, crtc := range c.dev.Crtcs() {
		if crtc.CancelPageFlip(owner) {
			n++
		}
	}
	return n
}
