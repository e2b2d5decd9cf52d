package controller

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/physic"

	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

var modeFlags = []struct {
	name string
	flag du.ModeFlag
}{
	{models.ModeFlagPHSync, du.ModeFlagPHSync},
	{models.ModeFlagNHSync, du.ModeFlagNHSync},
	{models.ModeFlagPVSync, du.ModeFlagPVSync},
	{models.ModeFlagNVSync, du.ModeFlagNVSync},
	{models.ModeFlagInterlace, du.ModeFlagInterlace},
}

// toMode converts an API mode. Validation of the timings is left to du.
func toMode(m *models.Mode) (du.Mode, error) {
	out := du.Mode{
		Name:       m.Name,
		Clock:      physic.Frequency(m.ClockKHz) * physic.KiloHertz,
		HDisplay:   m.HDisplay,
		HSyncStart: m.HSyncStart,
		HSyncEnd:   m.HSyncEnd,
		HTotal:     m.HTotal,
		VDisplay:   m.VDisplay,
		VSyncStart: m.VSyncStart,
		VSyncEnd:   m.VSyncEnd,
		VTotal:     m.VTotal,
	}
outer:
	for _, name := range m.Flags {
		for _, f := range modeFlags {
			if strings.EqualFold(name, f.name) {
				out.Flags |= f.flag
				continue outer
			}
		}
		return du.Mode{}, models.ErrBadRequest(fmt.Sprintf("unknown mode flag %q", name))
	}
	return out, nil
}

func fromMode(m du.Mode) *models.Mode {
	out := &models.Mode{
		Name:       m.Name,
		ClockKHz:   int(m.Clock / physic.KiloHertz),
		HDisplay:   m.HDisplay,
		HSyncStart: m.HSyncStart,
		HSyncEnd:   m.HSyncEnd,
		HTotal:     m.HTotal,
		VDisplay:   m.VDisplay,
		VSyncStart: m.VSyncStart,
		VSyncEnd:   m.VSyncEnd,
		VTotal:     m.VTotal,
	}
	for _, f := range modeFlags {
		if m.Flags&f.flag != 0 {
			out.Flags = append(out.Flags, f.name)
		}
	}
	return out
}

func toOutputs(names []string) (uint32, error) {
	var mask uint32
	for _, name := range names {
		o, err := hardware.ParseOutput(name)
		if err != nil {
			return 0, models.ErrBadRequest(err.Error())
		}
		mask |= du.OutputMask(o)
	}
	return mask, nil
}

func outputNames(outputs []hardware.Output) []string {
	if len(outputs) == 0 {
		return nil
	}
	out := make([]string, len(outputs))
	for i, o := range outputs {
		out[i] = o.String()
	}
	return out
}

func toRect(r models.Rect) du.Rect {
	return du.Rect{X: r.X, Y: r.Y, W: r.W, H: r.H}
}
