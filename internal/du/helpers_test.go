package du_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/events"
	"github.com/igel-oss/rcar-du-vdrm/internal/format"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

var crtcBases = []hardware.Register{hardware.DU0RegOffset, hardware.DU1RegOffset, hardware.DU2RegOffset}

var mode1080p = du.Mode{
	Name:       "1920x1080",
	Clock:      148500 * physic.KiloHertz,
	HDisplay:   1920,
	HSyncStart: 2008,
	HSyncEnd:   2052,
	HTotal:     2200,
	VDisplay:   1080,
	VSyncStart: 1084,
	VSyncEnd:   1089,
	VTotal:     1125,
	Flags:      du.ModeFlagPHSync | du.ModeFlagPVSync,
}

type testDevice struct {
	dev    *du.Device
	mock   *hardware.Mock
	bus    *events.Bus
	clocks map[string]*hardware.FixedClock
}

func newTestDevice(t *testing.T, model string) *testDevice {
	t.Helper()
	info, err := hardware.LookupInfo(model)
	if err != nil {
		t.Fatal(err)
	}
	td := &testDevice{
		mock:   hardware.NewMock(),
		bus:    events.NewBus(),
		clocks: make(map[string]*hardware.FixedClock),
	}
	set := hardware.NewClockSet()
	add := func(name string) {
		clk := hardware.NewFixedClock(name, 148500*physic.KiloHertz)
		td.clocks[name] = clk
		set.Add(name, clk)
	}
	if info.Has(hardware.FeatureCRTCIRQClock) {
		for i := 0; i < info.NumCrtcs; i++ {
			add(fmt.Sprintf("du.%d", i))
		}
	} else {
		add("")
	}

	var outputs []hardware.Output
	for o := range info.Routes {
		outputs = append(outputs, o)
	}
	td.dev, err = du.New(td.mock, info, set, du.Options{Outputs: outputs, Events: td.bus})
	if err != nil {
		t.Fatalf("du.New(%s): %v", model, err)
	}
	t.Cleanup(func() { td.dev.Close() })
	return td
}

// clock returns the functional clock of crtc.
func (td *testDevice) clock(crtc int) *hardware.FixedClock {
	if clk, ok := td.clocks[fmt.Sprintf("du.%d", crtc)]; ok {
		return clk
	}
	return td.clocks[""]
}

func (td *testDevice) framebuffer(t *testing.T, f format.Fourcc, w, h int) *du.Framebuffer {
	t.Helper()
	info, err := format.Lookup(f)
	if err != nil {
		t.Fatal(err)
	}
	bpp := uint32(info.BPP)
	if info.Planes == 2 {
		bpp = 8
	}
	pitch := td.dev.DumbPitch(uint32(w), bpp)
	fb, err := td.dev.NewFramebuffer(du.FramebufferDesc{
		Format:  f,
		Width:   w,
		Height:  h,
		Pitches: [2]uint32{pitch, pitch},
		Addrs:   [2]uint32{0x58000000, 0x59000000},
	}, nil)
	if err != nil {
		t.Fatalf("NewFramebuffer(%s %dx%d): %v", f, w, h, err)
	}
	return fb
}

// frameEnd raises the frame-end status of crtc and runs the interrupt
// handler.
func (td *testDevice) frameEnd(crtc int) {
	td.mock.Set(crtcBases[crtc]+hardware.DSSR, hardware.DSSRFRM)
	td.dev.HandleInterrupt()
}

// pumpVblank simulates frame-end interrupts on all CRTCs until the test
// ends.
func (td *testDevice) pumpVblank(t *testing.T) {
	t.Helper()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				for i := range td.dev.Crtcs() {
					td.mock.Set(crtcBases[i]+hardware.DSSR, hardware.DSSRFRM)
				}
				td.dev.HandleInterrupt()
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		wg.Wait()
	})
}

// modeSet starts crtc with a full-screen XRGB8888 framebuffer.
func (td *testDevice) modeSet(t *testing.T, crtc int, output hardware.Output) *du.Framebuffer {
	t.Helper()
	fb := td.framebuffer(t, format.XRGB8888, mode1080p.HDisplay, mode1080p.VDisplay)
	if err := td.dev.Crtc(crtc).ModeSet(mode1080p, fb, output); err != nil {
		t.Fatalf("ModeSet(crtc %d): %v", crtc, err)
	}
	return fb
}

func fullScreen(m du.Mode) du.Rect {
	return du.Rect{W: m.HDisplay, H: m.VDisplay}
}
