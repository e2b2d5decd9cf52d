package hardware_test

import (
	"testing"

	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

func TestLookupInfo(t *testing.T) {
	tests := []struct {
		model  string
		crtcs  int
		groups int
		ext    bool
	}{
		{"r8a7779", 2, 1, false},
		{"R8A7790", 3, 2, true},
		{"r8a7791", 2, 1, true},
	}
	for _, tc := range tests {
		info, err := hardware.LookupInfo(tc.model)
		if err != nil {
			t.Fatalf("LookupInfo(%s): %v", tc.model, err)
		}
		if info.NumCrtcs != tc.crtcs || info.NumGroups() != tc.groups {
			t.Errorf("%s: crtcs=%d groups=%d, want %d/%d", tc.model, info.NumCrtcs, info.NumGroups(), tc.crtcs, tc.groups)
		}
		if info.Has(hardware.FeatureExtCtrlRegs) != tc.ext {
			t.Errorf("%s: ExtCtrlRegs = %v, want %v", tc.model, !tc.ext, tc.ext)
		}
	}
	if _, err := hardware.LookupInfo("r8a7795"); err == nil {
		t.Error("LookupInfo(r8a7795) succeeded, want error")
	}
}

func TestCanRoute(t *testing.T) {
	info, err := hardware.LookupInfo("r8a7790")
	if err != nil {
		t.Fatal(err)
	}
	if !info.CanRoute(hardware.OutputLVDS0, 0) {
		t.Error("r8a7790: LVDS0 should be drivable by crtc 0")
	}
	if info.CanRoute(hardware.OutputLVDS0, 1) {
		t.Error("r8a7790: LVDS0 should not be drivable by crtc 1")
	}
	if info.CanRoute(hardware.OutputDPAD1, 0) {
		t.Error("r8a7790: has no DPAD1")
	}
	if !info.Needs(hardware.QuirkAlign128B) {
		t.Error("r8a7790: expected 128 byte alignment quirk")
	}
}

func TestParseOutput(t *testing.T) {
	for o := hardware.OutputDPAD0; o < hardware.OutputMax; o++ {
		got, err := hardware.ParseOutput(o.String())
		if err != nil || got != o {
			t.Errorf("ParseOutput(%q) = %v, %v", o.String(), got, err)
		}
	}
	if _, err := hardware.ParseOutput("hdmi"); err == nil {
		t.Error("ParseOutput(hdmi) succeeded, want error")
	}
}
