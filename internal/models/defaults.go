package models

// Version is reported in Info.Version.
const Version = "0.1.0"

// DefaultState returns an empty layout: nothing is scanned out and no
// framebuffer is registered. This is the state used when no layout file is
// found.
func DefaultState() State {
	return State{
		Crtcs:        []Crtc{},
		Planes:       []Plane{},
		Framebuffers: []Framebuffer{},
		Info:         Info{Version: Version},
	}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
