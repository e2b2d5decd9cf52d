// Package format maps DRM fourcc pixel formats to their DU hardware
// encoding.
package format

import (
	"errors"
	"fmt"
	"strings"

	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

// ErrNotFound is returned for a pixel format the DU cannot scan out.
var ErrNotFound = errors.New("unsupported pixel format")

// Fourcc is a DRM fourcc pixel format code.
type Fourcc uint32

// Code builds a fourcc from its four characters.
func Code(a, b, c, d byte) Fourcc {
	return Fourcc(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	RGB565   = Code('R', 'G', '1', '6')
	ARGB1555 = Code('A', 'R', '1', '5')
	XRGB1555 = Code('X', 'R', '1', '5')
	XRGB8888 = Code('X', 'R', '2', '4')
	ARGB8888 = Code('A', 'R', '2', '4')
	UYVY     = Code('U', 'Y', 'V', 'Y')
	YUYV     = Code('Y', 'U', 'Y', 'V')
	NV12     = Code('N', 'V', '1', '2')
	NV21     = Code('N', 'V', '2', '1')
	NV16     = Code('N', 'V', '1', '6')
)

func (f Fourcc) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return strings.TrimRight(string(b), " \x00")
}

// Parse accepts a four character code such as "XR24".
func Parse(s string) (Fourcc, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("%q: %w", s, ErrNotFound)
	}
	f := Code(s[0], s[1], s[2], s[3])
	if _, err := Lookup(f); err != nil {
		return 0, err
	}
	return f, nil
}

// Info is the per-format hardware encoding.
type Info struct {
	Fourcc Fourcc
	BPP    uint   // bits per pixel, averaged over all planes
	Planes int    // 1, or 2 for semi-planar YUV
	PnMR   uint32 // PnMR mode bits
	EDF    uint32 // PnDDCR4 extended data format
}

var table = []Info{
	{
		Fourcc: RGB565,
		BPP:    16,
		Planes: 1,
		PnMR:   hardware.PnMRSPIMTP | hardware.PnMRDDDF16BPP,
		EDF:    hardware.PnDDCR4EDFNone,
	}, {
		Fourcc: ARGB1555,
		BPP:    16,
		Planes: 1,
		PnMR:   hardware.PnMRSPIMALP | hardware.PnMRDDDFARGB,
		EDF:    hardware.PnDDCR4EDFNone,
	}, {
		Fourcc: XRGB1555,
		BPP:    16,
		Planes: 1,
		PnMR:   hardware.PnMRSPIMALP | hardware.PnMRDDDFARGB,
		EDF:    hardware.PnDDCR4EDFNone,
	}, {
		Fourcc: XRGB8888,
		BPP:    32,
		Planes: 1,
		PnMR:   hardware.PnMRSPIMTP | hardware.PnMRDDDF16BPP,
		EDF:    hardware.PnDDCR4EDFRGB888,
	}, {
		Fourcc: ARGB8888,
		BPP:    32,
		Planes: 1,
		PnMR:   hardware.PnMRSPIMALP | hardware.PnMRDDDF16BPP,
		EDF:    hardware.PnDDCR4EDFARGB8888,
	}, {
		Fourcc: UYVY,
		BPP:    16,
		Planes: 1,
		PnMR:   hardware.PnMRSPIMTPOff | hardware.PnMRDDDFYC,
		EDF:    hardware.PnDDCR4EDFNone,
	}, {
		Fourcc: YUYV,
		BPP:    16,
		Planes: 1,
		PnMR:   hardware.PnMRSPIMTPOff | hardware.PnMRDDDFYC,
		EDF:    hardware.PnDDCR4EDFNone,
	}, {
		Fourcc: NV12,
		BPP:    12,
		Planes: 2,
		PnMR:   hardware.PnMRSPIMTPOff | hardware.PnMRDDDFYC,
		EDF:    hardware.PnDDCR4EDFNone,
	}, {
		Fourcc: NV21,
		BPP:    12,
		Planes: 2,
		PnMR:   hardware.PnMRSPIMTPOff | hardware.PnMRDDDFYC,
		EDF:    hardware.PnDDCR4EDFNone,
	}, {
		// In YUV 4:2:2 only NV16 is supported, NV61 isn't.
		Fourcc: NV16,
		BPP:    16,
		Planes: 2,
		PnMR:   hardware.PnMRSPIMTPOff | hardware.PnMRDDDFYC,
		EDF:    hardware.PnDDCR4EDFNone,
	},
}

// Lookup returns the encoding of f. The returned Info is shared and must
// not be modified.
func Lookup(f Fourcc) (*Info, error) {
	for i := range table {
		if table[i].Fourcc == f {
			return &table[i], nil
		}
	}
	return nil, fmt.Errorf("%s (0x%08x): %w", f, uint32(f), ErrNotFound)
}

// Supported lists all formats in table order.
func Supported() []Fourcc {
	out := make([]Fourcc, len(table))
	for i := range table {
		out[i] = table[i].Fourcc
	}
	return out
}
