package du

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Mode limits of the DU.
const (
	MaxWidth  = 4095
	MaxHeight = 2047
)

// ModeFlag carries the sync polarity and scan type of a Mode.
type ModeFlag uint32

const (
	ModeFlagPHSync ModeFlag = 1 << iota
	ModeFlagNHSync
	ModeFlagPVSync
	ModeFlagNVSync
	ModeFlagInterlace
)

// Mode is a display mode. Horizontal values are in pixels, vertical values
// in lines of the full frame.
type Mode struct {
	Name  string
	Clock physic.Frequency

	HDisplay   int
	HSyncStart int
	HSyncEnd   int
	HTotal     int

	VDisplay   int
	VSyncStart int
	VSyncEnd   int
	VTotal     int

	Flags ModeFlag
}

// Interlaced reports whether the mode is interlaced.
func (m Mode) Interlaced() bool { return m.Flags&ModeFlagInterlace != 0 }

// fieldTiming returns the vertical timings the CRTC scans per field. They
// are halved for interlaced modes.
func (m Mode) fieldTiming() (vdisplay, vsyncStart, vsyncEnd, vtotal int) {
	vdisplay, vsyncStart, vsyncEnd, vtotal = m.VDisplay, m.VSyncStart, m.VSyncEnd, m.VTotal
	if m.Interlaced() {
		vdisplay /= 2
		vsyncStart /= 2
		vsyncEnd /= 2
		vtotal /= 2
	}
	return
}

// Validate checks the mode is self-consistent and within the DU limits.
func (m Mode) Validate() error {
	if m.Clock <= 0 {
		return fmt.Errorf("mode %q: pixel clock must be positive: %w", m.Name, ErrInvalidConfiguration)
	}
	if m.HDisplay <= 0 || m.HDisplay > MaxWidth || m.VDisplay <= 0 || m.VDisplay > MaxHeight {
		return fmt.Errorf("mode %q: %dx%d outside 1x1..%dx%d: %w",
			m.Name, m.HDisplay, m.VDisplay, MaxWidth, MaxHeight, ErrInvalidConfiguration)
	}
	if !(m.HDisplay <= m.HSyncStart && m.HSyncStart < m.HSyncEnd && m.HSyncEnd <= m.HTotal) {
		return fmt.Errorf("mode %q: bad horizontal timing: %w", m.Name, ErrInvalidConfiguration)
	}
	if !(m.VDisplay <= m.VSyncStart && m.VSyncStart < m.VSyncEnd && m.VSyncEnd <= m.VTotal) {
		return fmt.Errorf("mode %q: bad vertical timing: %w", m.Name, ErrInvalidConfiguration)
	}
	return nil
}

func (m Mode) String() string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("%dx%d", m.HDisplay, m.VDisplay)
}
