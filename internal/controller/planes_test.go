package controller_test

import (
	"context"
	"testing"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

func TestSetPlane(t *testing.T) {
	e := newTestEnv(t)

	key := uint32(0x01ff00ff)
	p, appErr := e.ctrl.SetPlane(4, models.PlaneUpdate{Zpos: models.IntPtr(6), Alpha: models.IntPtr(128), ColorKey: &key})
	if appErr != nil {
		t.Fatalf("SetPlane: %v", appErr)
	}
	if *p.Zpos != 6 || *p.Alpha != 128 || *p.ColorKey != key {
		t.Errorf("plane = %+v", p)
	}
	ps := e.dev.Plane(4).Status()
	if ps.Zpos != 6 || ps.Alpha != 128 || ps.ColorKey != key {
		t.Errorf("device plane = %+v", ps)
	}
	if saved, _ := e.store.Load(); *saved.FindPlane(4).Zpos != 6 {
		t.Error("zpos not persisted")
	}
}

func TestSetPlaneErrors(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name string
		id   int
		upd  models.PlaneUpdate
		code string
	}{
		{"unknown plane", 40, models.PlaneUpdate{Zpos: models.IntPtr(2)}, "NOT_FOUND"},
		{"primary", 0, models.PlaneUpdate{Zpos: models.IntPtr(2)}, "BAD_REQUEST"},
		{"zpos zero", 2, models.PlaneUpdate{Zpos: models.IntPtr(0)}, "BAD_REQUEST"},
		{"negative alpha", 2, models.PlaneUpdate{Alpha: models.IntPtr(-1)}, "BAD_REQUEST"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, appErr := e.ctrl.SetPlane(tc.id, tc.upd)
			if appErr == nil || appErr.Code != tc.code {
				t.Errorf("SetPlane() error = %v, want %s", appErr, tc.code)
			}
		})
	}
}

func TestPlanePropertiesSurviveCommit(t *testing.T) {
	e := newTestEnv(t)
	if _, appErr := e.ctrl.SetPlane(2, models.PlaneUpdate{Zpos: models.IntPtr(5)}); appErr != nil {
		t.Fatal(appErr)
	}
	e.enable(t)
	state := e.ctrl.State()
	if z := state.FindPlane(2).Zpos; *z != 5 {
		t.Errorf("zpos = %d after commit, want 5", *z)
	}
}

func TestDPMS(t *testing.T) {
	e := newTestEnv(t)
	e.enable(t)

	c, appErr := e.ctrl.DPMS(0, false)
	if appErr != nil || c.Active {
		t.Fatalf("DPMS off = %+v, %v", c, appErr)
	}
	if st, _ := e.ctrl.Crtc(0); st.Enabled {
		t.Error("crtc still enabled")
	}
	if _, appErr := e.ctrl.DPMS(0, true); appErr != nil {
		t.Fatal(appErr)
	}
	if st, _ := e.ctrl.Crtc(0); !st.Started {
		t.Error("crtc not restarted")
	}

	if _, appErr := e.ctrl.DPMS(1, true); appErr == nil || appErr.Code != "BAD_REQUEST" {
		t.Errorf("DPMS on without mode = %v", appErr)
	}
	if _, appErr := e.ctrl.DPMS(9, true); appErr == nil || appErr.Code != "NOT_FOUND" {
		t.Errorf("DPMS unknown crtc = %v", appErr)
	}
}

func TestSuspendResume(t *testing.T) {
	e := newTestEnv(t)
	e.enable(t)

	if info := e.ctrl.Suspend(); !info.Suspended {
		t.Error("Suspend did not report suspended")
	}
	st, _ := e.ctrl.Crtc(0)
	if st.Started || !st.Suspended || !st.Enabled {
		t.Errorf("suspended status = %+v", st)
	}
	// A second suspend is a no-op.
	e.ctrl.Suspend()

	info, appErr := e.ctrl.Resume()
	if appErr != nil || info.Suspended {
		t.Fatalf("Resume = %+v, %v", info, appErr)
	}
	if st, _ := e.ctrl.Crtc(0); !st.Started {
		t.Error("crtc not restarted by resume")
	}

	// The layout still works after resume.
	e.framebuffer(t, "fb1", "XR24")
	if _, appErr := e.ctrl.Flip(context.Background(), 0, models.FlipRequest{Framebuffer: "fb1", Wait: true}); appErr != nil {
		t.Errorf("Flip after resume: %v", appErr)
	}
}
