package models

// FramebufferCreate is the POST body for registering a framebuffer. Zero
// pitches are filled in with the dumb buffer pitch of the device.
type FramebufferCreate struct {
	ID      string    `json:"id,omitempty"` // generated when empty
	Format  string    `json:"format"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Pitches [2]uint32 `json:"pitches,omitempty"`
	Addrs   [2]uint32 `json:"addrs"`
}

// FlipRequest is the POST body of a page flip.
type FlipRequest struct {
	Framebuffer string `json:"framebuffer"`
	UserData    uint64 `json:"user_data,omitempty"`
	Owner       string `json:"owner,omitempty"`
	// Event asks for a completion event; Wait blocks until it arrived.
	Event bool `json:"event,omitempty"`
	Wait  bool `json:"wait,omitempty"`
}

// FlipResult is the response of a page flip.
type FlipResult struct {
	Crtc     int    `json:"crtc"`
	Pending  bool   `json:"pending"`
	Sequence uint64 `json:"sequence,omitempty"`
	Forced   bool   `json:"forced,omitempty"`
}

// DPMSRequest is the POST body switching a CRTC on or off.
type DPMSRequest struct {
	On bool `json:"on"`
}

// PlaneUpdate is the PATCH body for overlay plane properties.
type PlaneUpdate struct {
	Zpos     *int    `json:"zpos,omitempty"`
	Alpha    *int    `json:"alpha,omitempty"`
	ColorKey *uint32 `json:"colorkey,omitempty"`
}

// CommitResult is the response of PUT /api/state.
type CommitResult struct {
	ID    string `json:"id"`
	Crtcs []int  `json:"crtcs"`
	Async bool   `json:"async"`
}

// CrtcStatus is the runtime status of one CRTC.
type CrtcStatus struct {
	ID           int      `json:"id"`
	Group        int      `json:"group"`
	Enabled      bool     `json:"enabled"`
	Started      bool     `json:"started"`
	Suspended    bool     `json:"suspended"`
	Mode         *Mode    `json:"mode,omitempty"`
	DotClockKHz  int      `json:"dot_clock_khz,omitempty"`
	Divisor      int      `json:"divisor,omitempty"`
	ExternalClk  bool     `json:"external_clock,omitempty"`
	Outputs      []string `json:"outputs"`
	PrimaryPlane int      `json:"primary_plane"`
	Sequence     uint64   `json:"sequence"`
	FlipPending  bool     `json:"flip_pending"`
}

// FormatInfo describes a supported pixel format.
type FormatInfo struct {
	Fourcc string `json:"fourcc"`
	BPP    uint   `json:"bpp"`
	Planes int    `json:"planes"`
}
