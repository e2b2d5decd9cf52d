// Package models defines the display layout exchanged over the API and
// persisted by the layout store.
package models

// Mode is a display mode. The pixel clock is in kHz.
type Mode struct {
	Name       string   `json:"name,omitempty"`
	ClockKHz   int      `json:"clock_khz"`
	HDisplay   int      `json:"hdisplay"`
	HSyncStart int      `json:"hsync_start"`
	HSyncEnd   int      `json:"hsync_end"`
	HTotal     int      `json:"htotal"`
	VDisplay   int      `json:"vdisplay"`
	VSyncStart int      `json:"vsync_start"`
	VSyncEnd   int      `json:"vsync_end"`
	VTotal     int      `json:"vtotal"`
	Flags      []string `json:"flags,omitempty"` // ModeFlag* values
}

// Mode flag names.
const (
	ModeFlagPHSync    = "phsync"
	ModeFlagNHSync    = "nhsync"
	ModeFlagPVSync    = "pvsync"
	ModeFlagNVSync    = "nvsync"
	ModeFlagInterlace = "interlace"
)

// Rect is a rectangle in pixels.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Crtc is the layout of one scan-out pipe.
type Crtc struct {
	ID      int      `json:"id"`
	Active  bool     `json:"active"`
	Mode    *Mode    `json:"mode,omitempty"`
	Outputs []string `json:"outputs,omitempty"` // "dpad0", "lvds1", ...
}

// Plane is the layout of one plane. A nil Crtc disables it.
type Plane struct {
	ID          int     `json:"id"`
	Type        string  `json:"type,omitempty"` // "primary" | "overlay", read only
	Crtc        *int    `json:"crtc,omitempty"`
	Framebuffer string  `json:"framebuffer,omitempty"` // Framebuffer.ID
	Src         Rect    `json:"src"`
	Dst         Rect    `json:"dst"`
	Zpos        *int    `json:"zpos,omitempty"`
	Alpha       *int    `json:"alpha,omitempty"`
	ColorKey    *uint32 `json:"colorkey,omitempty"`
}

// Framebuffer is scan-out memory registered by a client. Addresses are
// physical DMA addresses of the luma and, for semi-planar formats, chroma
// planes.
type Framebuffer struct {
	ID      string    `json:"id"`
	Format  string    `json:"format"` // fourcc, e.g. "XR24"
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Pitches [2]uint32 `json:"pitches"`
	Addrs   [2]uint32 `json:"addrs"`
}

// Info describes the running device.
type Info struct {
	Model     string `json:"model"`
	Version   string `json:"version"`
	Suspended bool   `json:"suspended"`
}

// State is the complete layout returned by GET /api/state.
type State struct {
	Crtcs        []Crtc        `json:"crtcs"`
	Planes       []Plane       `json:"planes"`
	Framebuffers []Framebuffer `json:"framebuffers"`
	Info         Info          `json:"info"`
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// DeepCopy returns a deep copy of the state.
func (s State) DeepCopy() State {
	next := State{Info: s.Info}

	next.Crtcs = make([]Crtc, len(s.Crtcs))
	for i, c := range s.Crtcs {
		nc := c
		if c.Mode != nil {
			m := *c.Mode
			if c.Mode.Flags != nil {
				m.Flags = append([]string(nil), c.Mode.Flags...)
			}
			nc.Mode = &m
		}
		if c.Outputs != nil {
			nc.Outputs = append([]string(nil), c.Outputs...)
		}
		next.Crtcs[i] = nc
	}

	next.Planes = make([]Plane, len(s.Planes))
	for i, p := range s.Planes {
		np := p
		np.Crtc = copyInt(p.Crtc)
		np.Zpos = copyInt(p.Zpos)
		np.Alpha = copyInt(p.Alpha)
		if p.ColorKey != nil {
			v := *p.ColorKey
			np.ColorKey = &v
		}
		next.Planes[i] = np
	}

	next.Framebuffers = make([]Framebuffer, len(s.Framebuffers))
	copy(next.Framebuffers, s.Framebuffers)
	return next
}

// FindCrtc returns the CRTC with id, or nil.
func (s *State) FindCrtc(id int) *Crtc {
	for i := range s.Crtcs {
		if s.Crtcs[i].ID == id {
			return &s.Crtcs[i]
		}
	}
	return nil
}

// FindPlane returns the plane with id, or nil.
func (s *State) FindPlane(id int) *Plane {
	for i := range s.Planes {
		if s.Planes[i].ID == id {
			return &s.Planes[i]
		}
	}
	return nil
}

// FindFramebuffer returns the framebuffer with id, or nil.
func (s *State) FindFramebuffer(id string) *Framebuffer {
	for i := range s.Framebuffers {
		if s.Framebuffers[i].ID == id {
			return &s.Framebuffers[i]
		}
	}
	return nil
}

// Plane types.
const (
	PlaneTypePrimary = "primary"
	PlaneTypeOverlay = "overlay"
)
