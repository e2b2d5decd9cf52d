package hardware

import (
	"fmt"
	"sort"
	"strings"
)

// Feature flags a DU generation supports.
type Feature uint32

const (
	// FeatureCRTCIRQClock means each CRTC has its own interrupt and clock.
	FeatureCRTCIRQClock Feature = 1 << iota
	// FeatureExtCtrlRegs means the first group carries the DEFR8 external
	// control register used for DPAD0 routing.
	FeatureExtCtrlRegs
)

// Quirk flags a DU generation needs worked around.
type Quirk uint32

const (
	// QuirkAlign128B requires a 128-byte framebuffer pitch alignment.
	QuirkAlign128B Quirk = 1 << iota
	// QuirkLVDSLanes means the LVDS lanes are swapped on LVDS0.
	QuirkLVDSLanes
)

// Output is a physical DU output.
type Output int

const (
	OutputDPAD0 Output = iota
	OutputDPAD1
	OutputLVDS0
	OutputLVDS1
	OutputTCON
	OutputMax
)

var outputNames = [OutputMax]string{"dpad0", "dpad1", "lvds0", "lvds1", "tcon"}

func (o Output) String() string {
	if o < 0 || o >= OutputMax {
		return "unknown"
	}
	return outputNames[o]
}

// ParseOutput maps an output name back to its value.
func ParseOutput(name string) (Output, error) {
	for i, n := range outputNames {
		if strings.EqualFold(n, name) {
			return Output(i), nil
		}
	}
	return 0, fmt.Errorf("unknown output %q", name)
}

// OutputRoute describes which CRTCs may drive an output and which port of
// the device description it is attached to.
type OutputRoute struct {
	PossibleCrtcs uint32
	Port          int
}

// Info describes one DU generation.
type Info struct {
	Model    string
	Features Feature
	Quirks   Quirk
	NumCrtcs int
	Routes   map[Output]OutputRoute
	NumLVDS  int
}

// Has reports whether the generation supports all of f.
func (i *Info) Has(f Feature) bool { return i.Features&f == f }

// Needs reports whether the generation needs quirk q.
func (i *Info) Needs(q Quirk) bool { return i.Quirks&q == q }

// NumGroups returns the number of channel groups (two CRTCs each).
func (i *Info) NumGroups() int { return (i.NumCrtcs + 1) / 2 }

// CanRoute reports whether crtc may drive output.
func (i *Info) CanRoute(output Output, crtc int) bool {
	r, ok := i.Routes[output]
	return ok && r.PossibleCrtcs&(1<<uint(crtc)) != 0
}

var infos = map[string]Info{
	"r8a7779": {
		Model:    "r8a7779",
		NumCrtcs: 2,
		Routes: map[Output]OutputRoute{
			// R8A7779 has two RGB outputs and one (currently unsupported)
			// TCON output.
			OutputDPAD0: {PossibleCrtcs: 1<<0 | 1<<1, Port: 0},
			OutputDPAD1: {PossibleCrtcs: 1<<1 | 1<<0, Port: 1},
		},
	},
	"r8a7790": {
		Model:    "r8a7790",
		Features: FeatureCRTCIRQClock | FeatureExtCtrlRegs,
		Quirks:   QuirkAlign128B | QuirkLVDSLanes,
		NumCrtcs: 3,
		Routes: map[Output]OutputRoute{
			OutputDPAD0: {PossibleCrtcs: 1<<2 | 1<<1 | 1<<0, Port: 0},
			OutputLVDS0: {PossibleCrtcs: 1 << 0, Port: 1},
			OutputLVDS1: {PossibleCrtcs: 1<<2 | 1<<1, Port: 2},
		},
		NumLVDS: 2,
	},
	"r8a7791": {
		Model:    "r8a7791",
		Features: FeatureCRTCIRQClock | FeatureExtCtrlRegs,
		NumCrtcs: 2,
		Routes: map[Output]OutputRoute{
			OutputDPAD0: {PossibleCrtcs: 1 << 1, Port: 0},
			OutputLVDS0: {PossibleCrtcs: 1 << 0, Port: 1},
		},
		NumLVDS: 1,
	},
}

// LookupInfo returns the description of a SoC model.
func LookupInfo(model string) (Info, error) {
	info, ok := infos[strings.ToLower(model)]
	if !ok {
		return Info{}, fmt.Errorf("unknown DU model %q (known: %s)", model, strings.Join(Models(), ", "))
	}
	return info, nil
}

// Models lists the supported SoC models.
func Models() []string {
	out := make([]string, 0, len(infos))
	for m := range infos {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
