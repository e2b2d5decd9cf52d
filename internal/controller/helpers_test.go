package controller_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/igel-oss/rcar-du-vdrm/internal/config"
	"github.com/igel-oss/rcar-du-vdrm/internal/controller"
	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

type testEnv struct {
	ctrl  *controller.Controller
	dev   *du.Device
	mock  *hardware.Mock
	store *config.MemStore
}

// newTestDevice returns an R8A7790 on a mock bus with simulated vblanks.
func newTestDevice(t *testing.T) (*du.Device, *hardware.Mock) {
	t.Helper()
	info, err := hardware.LookupInfo("r8a7790")
	if err != nil {
		t.Fatal(err)
	}
	clocks := hardware.NewClockSet()
	for i := 0; i < info.NumCrtcs; i++ {
		name := fmt.Sprintf("du.%d", i)
		clocks.Add(name, hardware.NewFixedClock(name, 148500*physic.KiloHertz))
	}
	mock := hardware.NewMock()
	dev, err := du.New(mock, info, clocks, du.Options{
		Outputs: []hardware.Output{hardware.OutputDPAD0, hardware.OutputLVDS0, hardware.OutputLVDS1},
	})
	if err != nil {
		t.Fatalf("du.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	irq := hardware.NewMockVblank(mock, info.NumCrtcs, time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		dev.Run(ctx, irq)
	}()
	t.Cleanup(func() {
		dev.Close()
		cancel()
		<-done
		irq.Close()
	})
	return dev, mock
}

func newTestEnvWithStore(t *testing.T, store *config.MemStore) *testEnv {
	t.Helper()
	dev, mock := newTestDevice(t)
	ctrl, err := controller.New(context.Background(), dev, store)
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	t.Cleanup(ctrl.Close)
	return &testEnv{ctrl: ctrl, dev: dev, mock: mock, store: store}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithStore(t, config.NewMemStore())
}

func mode1080p() *models.Mode {
	return &models.Mode{
		Name:       "1920x1080",
		ClockKHz:   148500,
		HDisplay:   1920,
		HSyncStart: 2008,
		HSyncEnd:   2052,
		HTotal:     2200,
		VDisplay:   1080,
		VSyncStart: 1084,
		VSyncEnd:   1089,
		VTotal:     1125,
		Flags:      []string{models.ModeFlagPHSync, models.ModeFlagPVSync},
	}
}

func (e *testEnv) framebuffer(t *testing.T, id, fourcc string) models.Framebuffer {
	t.Helper()
	fb, appErr := e.ctrl.CreateFramebuffer(models.FramebufferCreate{
		ID:     id,
		Format: fourcc,
		Width:  1920,
		Height: 1080,
		Addrs:  [2]uint32{0x58000000, 0x59000000},
	})
	if appErr != nil {
		t.Fatalf("CreateFramebuffer(%s): %v", id, appErr)
	}
	return fb
}

// enabledLayout shows fb full screen on crtc 0 through LVDS0.
func enabledLayout(fb string) models.State {
	return models.State{
		Crtcs:  []models.Crtc{{ID: 0, Active: true, Mode: mode1080p(), Outputs: []string{"lvds0"}}},
		Planes: []models.Plane{{ID: 0, Crtc: models.IntPtr(0), Framebuffer: fb}},
	}
}

// enable registers "fb0" and scans it out on crtc 0.
func (e *testEnv) enable(t *testing.T) {
	t.Helper()
	e.framebuffer(t, "fb0", "XR24")
	if _, appErr := e.ctrl.Commit(context.Background(), enabledLayout("fb0"), false); appErr != nil {
		t.Fatalf("Commit: %v", appErr)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
