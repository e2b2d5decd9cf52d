package config

import (
	"log/slog"
	"strings"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// normalizeState repairs a layout read from disk: nil slices, invalid or
// duplicate ids and planes referencing unknown framebuffers.
func normalizeState(state *models.State) {
	if state.Info.Version == "" {
		state.Info.Version = models.Version
	}

	seenCrtc := make(map[int]bool)
	crtcs := state.Crtcs[:0]
	for _, c := range state.Crtcs {
		if c.ID < 0 || seenCrtc[c.ID] {
			slog.Warn("config: dropping invalid or duplicate crtc", "id", c.ID)
			continue
		}
		seenCrtc[c.ID] = true
		for i, o := range c.Outputs {
			c.Outputs[i] = strings.ToLower(o)
		}
		// An active CRTC without a mode cannot be restored.
		if c.Active && c.Mode == nil {
			slog.Warn("config: active crtc without mode, disabling", "id", c.ID)
			c.Active = false
		}
		crtcs = append(crtcs, c)
	}
	state.Crtcs = crtcs

	seenFB := make(map[string]bool)
	fbs := state.Framebuffers[:0]
	for _, fb := range state.Framebuffers {
		if fb.ID == "" || seenFB[fb.ID] {
			slog.Warn("config: dropping framebuffer without unique id", "id", fb.ID)
			continue
		}
		seenFB[fb.ID] = true
		fbs = append(fbs, fb)
	}
	state.Framebuffers = fbs

	seenPlane := make(map[int]bool)
	planes := state.Planes[:0]
	for _, p := range state.Planes {
		if p.ID < 0 || seenPlane[p.ID] {
			slog.Warn("config: dropping invalid or duplicate plane", "id", p.ID)
			continue
		}
		seenPlane[p.ID] = true
		if p.Crtc != nil && !seenFB[p.Framebuffer] {
			slog.Warn("config: plane references unknown framebuffer, disabling", "id", p.ID, "framebuffer", p.Framebuffer)
			p.Crtc = nil
			p.Framebuffer = ""
		}
		planes = append(planes, p)
	}
	state.Planes = planes

	if state.Crtcs == nil {
		state.Crtcs = []models.Crtc{}
	}
	if state.Planes == nil {
		state.Planes = []models.Plane{}
	}
	if state.Framebuffers == nil {
		state.Framebuffers = []models.Framebuffer{}
	}
}
