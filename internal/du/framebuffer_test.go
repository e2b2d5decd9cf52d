package du_test

import (
	"errors"
	"testing"

	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/format"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

func TestNewFramebufferValidation(t *testing.T) {
	gen1, _ := hardware.LookupInfo("r8a7779")
	gen2, _ := hardware.LookupInfo("r8a7790")

	tests := []struct {
		name string
		info *hardware.Info
		desc du.FramebufferDesc
		ok   bool
	}{
		{"xrgb aligned", &gen1, du.FramebufferDesc{Format: format.XRGB8888, Width: 1920, Height: 1080, Pitches: [2]uint32{7680}}, true},
		{"xrgb misaligned", &gen1, du.FramebufferDesc{Format: format.XRGB8888, Width: 1920, Height: 1080, Pitches: [2]uint32{7688}}, false},
		{"128 byte quirk", &gen2, du.FramebufferDesc{Format: format.RGB565, Width: 1000, Height: 10, Pitches: [2]uint32{2016}}, false},
		{"128 byte aligned", &gen2, du.FramebufferDesc{Format: format.RGB565, Width: 1000, Height: 10, Pitches: [2]uint32{2048}}, true},
		{"pitch too large", &gen1, du.FramebufferDesc{Format: format.XRGB8888, Width: 64, Height: 64, Pitches: [2]uint32{16384}}, false},
		{"pitch below width", &gen1, du.FramebufferDesc{Format: format.XRGB8888, Width: 1920, Height: 1080, Pitches: [2]uint32{4096}}, false},
		{"nv12 pitches match", &gen1, du.FramebufferDesc{Format: format.NV12, Width: 640, Height: 480, Pitches: [2]uint32{640, 640}}, true},
		{"nv12 pitches differ", &gen1, du.FramebufferDesc{Format: format.NV12, Width: 640, Height: 480, Pitches: [2]uint32{640, 656}}, false},
		{"unsupported format", &gen1, du.FramebufferDesc{Format: format.Code('B', 'G', '2', '4'), Width: 64, Height: 64, Pitches: [2]uint32{256}}, false},
		{"zero size", &gen1, du.FramebufferDesc{Format: format.XRGB8888, Pitches: [2]uint32{256}}, false},
		{"too wide", &gen1, du.FramebufferDesc{Format: format.RGB565, Width: 4096, Height: 64, Pitches: [2]uint32{8192}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fb, err := du.NewFramebuffer(tc.info, tc.desc, nil)
			if tc.ok {
				if err != nil {
					t.Fatalf("NewFramebuffer error = %v", err)
				}
				if fb.Refs() != 1 {
					t.Errorf("Refs() = %d, want 1", fb.Refs())
				}
				return
			}
			if !errors.Is(err, du.ErrInvalidConfiguration) {
				t.Errorf("NewFramebuffer error = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestDumbPitch(t *testing.T) {
	gen1, _ := hardware.LookupInfo("r8a7779")
	gen2, _ := hardware.LookupInfo("r8a7790")

	tests := []struct {
		info  *hardware.Info
		width uint32
		bpp   uint32
		want  uint32
	}{
		{&gen1, 1920, 32, 7680},
		{&gen1, 1000, 16, 2016},
		{&gen1, 1001, 8, 1008},
		{&gen2, 1000, 32, 4096},
		{&gen2, 1920, 16, 3840},
	}
	for _, tc := range tests {
		if got := du.DumbPitch(tc.info, tc.width, tc.bpp); got != tc.want {
			t.Errorf("DumbPitch(%s, %d, %d) = %d, want %d", tc.info.Model, tc.width, tc.bpp, got, tc.want)
		}
	}
}

func TestFramebufferRefcount(t *testing.T) {
	info, _ := hardware.LookupInfo("r8a7779")
	released := 0
	fb, err := du.NewFramebuffer(&info, du.FramebufferDesc{
		Format: format.RGB565, Width: 16, Height: 16, Pitches: [2]uint32{32},
	}, func() { released++ })
	if err != nil {
		t.Fatal(err)
	}
	fb.Get()
	fb.Put()
	if released != 0 {
		t.Fatal("released with a reference left")
	}
	fb.Put()
	if released != 1 {
		t.Errorf("release ran %d times, want 1", released)
	}

	var nilFB *du.Framebuffer
	nilFB.Put()
	if nilFB.Get() != nil {
		t.Error("Get on nil framebuffer returned non-nil")
	}
}

func TestOverlayProperties(t *testing.T) {
	td := newTestDevice(t, "r8a7779")
	primary := td.dev.Plane(0)
	ov := td.dev.Plane(2)

	if err := primary.SetZpos(3); !errors.Is(err, du.ErrInvalidConfiguration) {
		t.Errorf("primary SetZpos error = %v, want ErrInvalidConfiguration", err)
	}
	if err := primary.SetAlpha(10); !errors.Is(err, du.ErrInvalidConfiguration) {
		t.Errorf("primary SetAlpha error = %v, want ErrInvalidConfiguration", err)
	}
	for _, z := range []int{0, 8} {
		if err := ov.SetZpos(z); !errors.Is(err, du.ErrInvalidConfiguration) {
			t.Errorf("SetZpos(%d) error = %v, want ErrInvalidConfiguration", z, err)
		}
	}
	if err := ov.SetAlpha(256); !errors.Is(err, du.ErrInvalidConfiguration) {
		t.Errorf("SetAlpha(256) error = %v, want ErrInvalidConfiguration", err)
	}
	if err := ov.SetColorKey(du.MaxColorKey + 1); !errors.Is(err, du.ErrInvalidConfiguration) {
		t.Errorf("SetColorKey(max+1) error = %v, want ErrInvalidConfiguration", err)
	}

	if err := ov.SetZpos(5); err != nil {
		t.Fatal(err)
	}
	if err := ov.SetAlpha(128); err != nil {
		t.Fatal(err)
	}
	if err := ov.SetColorKey(du.ColorKeySource | 0x00ff00); err != nil {
		t.Fatal(err)
	}
	st := ov.Status()
	if st.Zpos != 5 || st.Alpha != 128 || st.ColorKey != du.ColorKeySource|0x00ff00 {
		t.Errorf("status %+v", st)
	}
}

func TestColorKeyRegisters(t *testing.T) {
	td := newTestDevice(t, "r8a7779")
	td.pumpVblank(t)
	ov := td.dev.Plane(2)
	if err := ov.SetColorKey(du.ColorKeySource | 0x123456); err != nil {
		t.Fatal(err)
	}
	st := td.enableState(0, td.framebuffer(t, format.XRGB8888, 1920, 1080), hardware.OutputDPAD0)
	st.SetPlane(2, overlay(0, td.framebuffer(t, format.XRGB8888, 64, 64), 0, 0))
	td.commit(t, st)

	if got, want := td.mock.Get(hardware.PlaneReg(1, hardware.PnTC3R)), hardware.PnTC3RCode|0x123456; got != want {
		t.Errorf("PnTC3R = 0x%x, want 0x%x", got, want)
	}
	if got := td.mock.Get(hardware.PlaneReg(1, hardware.PnMR)); got&hardware.PnMRSPIMTPOff == hardware.PnMRSPIMTPOff {
		t.Errorf("PnMR = 0x%x, transparency disabled with a colour key set", got)
	}
	// The primary plane has no key.
	if got := td.mock.Get(hardware.PlaneReg(0, hardware.PnMR)); got&hardware.PnMRSPIMTPOff != hardware.PnMRSPIMTPOff {
		t.Errorf("primary PnMR = 0x%x, want transparency off", got)
	}
}
