package du

import (
	"fmt"
	"sync"

	"github.com/igel-oss/rcar-du-vdrm/internal/format"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

// maxPitchPixels is the largest memory pitch the plane engines accept.
const maxPitchPixels = 4096

// FramebufferDesc describes scan-out memory allocated outside the core.
type FramebufferDesc struct {
	Format  format.Fourcc
	Width   int
	Height  int
	Pitches [2]uint32 // bytes
	Addrs   [2]uint32 // physical DMA addresses, offsets already applied
}

// Framebuffer is a validated, reference counted scan-out buffer. The
// creator holds the first reference; planes scanning it out hold one each.
type Framebuffer struct {
	Format  *format.Info
	Width   int
	Height  int
	Pitches [2]uint32
	Addrs   [2]uint32

	mu      sync.Mutex
	refs    int
	release func()
}

// pitchAlign returns the required pitch alignment in bytes and the
// pixel size used for the maximum pitch.
func pitchAlign(info *hardware.Info, f *format.Info) (align, bpp uint32) {
	if f.Planes == 2 {
		bpp = 1
	} else {
		bpp = uint32(f.BPP / 8)
	}
	if info.Needs(hardware.QuirkAlign128B) {
		return 128, bpp
	}
	return 16 * bpp, bpp
}

// NewFramebuffer validates desc against the constraints of info. release,
// if non-nil, runs when the last reference is dropped.
func NewFramebuffer(info *hardware.Info, desc FramebufferDesc, release func()) (*Framebuffer, error) {
	f, err := format.Lookup(desc.Format)
	if err != nil {
		return nil, fmt.Errorf("framebuffer: %w: %w", ErrInvalidConfiguration, err)
	}
	if desc.Width <= 0 || desc.Width > MaxWidth || desc.Height <= 0 || desc.Height > MaxHeight {
		return nil, fmt.Errorf("framebuffer: size %dx%d: %w", desc.Width, desc.Height, ErrInvalidConfiguration)
	}

	// The hardware expresses pitch constraints in pixels, the API in bytes.
	align, bpp := pitchAlign(info, f)
	if desc.Pitches[0]&(align-1) != 0 || desc.Pitches[0] >= maxPitchPixels*bpp {
		return nil, fmt.Errorf("framebuffer: invalid pitch %d: %w", desc.Pitches[0], ErrInvalidConfiguration)
	}
	if f.Planes == 2 && desc.Pitches[1] != desc.Pitches[0] {
		return nil, fmt.Errorf("framebuffer: luma and chroma pitches do not match: %w", ErrInvalidConfiguration)
	}
	if desc.Pitches[0] < uint32(desc.Width)*bpp {
		return nil, fmt.Errorf("framebuffer: pitch %d too small for width %d: %w",
			desc.Pitches[0], desc.Width, ErrInvalidConfiguration)
	}

	return &Framebuffer{
		Format:  f,
		Width:   desc.Width,
		Height:  desc.Height,
		Pitches: desc.Pitches,
		Addrs:   desc.Addrs,
		refs:    1,
		release: release,
	}, nil
}

// DumbPitch returns the pitch in bytes of a dumb buffer of width pixels
// at bpp bits per pixel.
func DumbPitch(info *hardware.Info, width, bpp uint32) uint32 {
	minPitch := (width*bpp + 7) / 8

	// The R8A7779 DU documents a 16 pixels pitch alignment, the R8A7790
	// needs 128 bytes.
	var align uint32
	if info.Needs(hardware.QuirkAlign128B) {
		align = 128
	} else {
		align = 16 * bpp / 8
	}
	if align == 0 {
		return minPitch
	}
	return (minPitch + align - 1) / align * align
}

// Get takes a reference.
func (fb *Framebuffer) Get() *Framebuffer {
	if fb == nil {
		return nil
	}
	fb.mu.Lock()
	fb.refs++
	fb.mu.Unlock()
	return fb
}

// Put drops a reference and releases the buffer on the last one.
func (fb *Framebuffer) Put() {
	if fb == nil {
		return
	}
	fb.mu.Lock()
	fb.refs--
	last := fb.refs == 0
	fb.mu.Unlock()
	if last && fb.release != nil {
		fb.release()
	}
}

// Refs returns the current reference count.
func (fb *Framebuffer) Refs() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.refs
}
