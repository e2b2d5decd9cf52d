package du

import (
	"log/slog"

	"periph.io/x/conn/v3/physic"

	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

const (
	minDivisor = 1
	maxDivisor = 64
)

// DotClock is the selected dot clock source and divisor.
type DotClock struct {
	Divisor  int // 1..64
	External bool
	Rate     physic.Frequency // resulting pixel clock
}

// FRQSEL returns the 0-based divisor field of ESCR.
func (d DotClock) FRQSEL() uint32 { return uint32(d.Divisor - 1) }

// ESCR returns the ESCR register value for d.
func (d DotClock) ESCR() uint32 {
	sel := hardware.ESCRDCLKSELCLKS
	if d.External {
		sel = hardware.ESCRDCLKSELDCLKIN
	}
	return d.FRQSEL()&hardware.ESCRFRQSELMask | sel
}

func hertz(f physic.Frequency) int64 { return int64(f / physic.Hertz) }

// divide rounds rate/target to the closest divisor the hardware supports.
func divide(rate, target int64) (int, int64) {
	d := (rate + target/2) / target
	d = max(minDivisor, min(d, maxDivisor))
	return int(d), rate / d
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// SelectDotClock picks the divisor of the internal clock closest to target
// and switches to the external clock when it gets strictly closer. A zero
// external rate means no external clock.
func SelectDotClock(target, internal, external physic.Frequency) DotClock {
	f := hertz(target)
	if f <= 0 {
		return DotClock{Divisor: minDivisor, Rate: internal}
	}
	div, rate := divide(hertz(internal), f)
	dc := DotClock{Divisor: div, Rate: physic.Frequency(rate) * physic.Hertz}

	if external > 0 {
		extDiv, extRate := divide(hertz(external), f)
		if abs64(extRate-f) < abs64(rate-f) {
			dc = DotClock{Divisor: extDiv, External: true, Rate: physic.Frequency(extRate) * physic.Hertz}
		}
	}
	return dc
}

// setDisplayTiming programs the dot clock and the timing generator.
func (c *Crtc) setDisplayTiming(m Mode) DotClock {
	var ext physic.Frequency
	if c.extClock != nil {
		ext = c.extClock.Rate()
	}
	dc := SelectDotClock(m.Clock, c.clock.Rate(), ext)
	slog.Debug("du: dot clock selected", "crtc", c.index, "target", m.Clock,
		"rate", dc.Rate, "divisor", dc.Divisor, "external", dc.External)

	escr, otar := hardware.ESCR, hardware.OTAR
	if c.index%2 == 1 {
		escr, otar = hardware.ESCR2, hardware.OTAR2
	}
	c.group.write(escr, dc.ESCR())
	c.group.write(otar, 0)

	// The polarity bits select active low sync.
	dsmr := hardware.DSMRDIPMDE | hardware.DSMRCSPM
	if m.Flags&ModeFlagPVSync == 0 {
		dsmr |= hardware.DSMRVSL
	}
	if m.Flags&ModeFlagPHSync == 0 {
		dsmr |= hardware.DSMRHSL
	}
	c.write(hardware.DSMR, dsmr)

	for _, r := range displayTiming(m) {
		c.write(r.Offset, r.Value)
	}
	return dc
}

// displayTiming returns the timing generator register values for m.
func displayTiming(m Mode) []hardware.Access {
	vdisplay, vsyncStart, vsyncEnd, vtotal := m.fieldTiming()
	u := func(v int) uint32 { return uint32(v) }
	return []hardware.Access{
		{Offset: hardware.HDSR, Value: u(m.HTotal - m.HSyncStart - 19)},
		{Offset: hardware.HDER, Value: u(m.HTotal - m.HSyncStart + m.HDisplay - 19)},
		{Offset: hardware.HSWR, Value: u(m.HSyncEnd - m.HSyncStart - 1)},
		{Offset: hardware.HCR, Value: u(m.HTotal - 1)},

		{Offset: hardware.VDSR, Value: u(vtotal - vsyncEnd - 2)},
		{Offset: hardware.VDER, Value: u(vtotal - vsyncEnd + vdisplay - 2)},
		{Offset: hardware.VSPR, Value: u(vtotal - vsyncEnd + vsyncStart - 1)},
		{Offset: hardware.VCR, Value: u(vtotal - 1)},

		{Offset: hardware.DESR, Value: u(m.HTotal - m.HSyncStart)},
		{Offset: hardware.DEWR, Value: u(m.HDisplay)},
	}
}
