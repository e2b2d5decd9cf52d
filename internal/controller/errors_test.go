package controller

import (
	"errors"
	"fmt"
	"testing"

	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/format"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

func TestToAppError(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("plane 2: %w", du.ErrInvalidConfiguration), "BAD_REQUEST", 400},
		{fmt.Errorf("x: %w", format.ErrNotFound), "BAD_REQUEST", 400},
		{fmt.Errorf("group 0: %w", du.ErrResourceBusy), "CONFLICT", 409},
		{fmt.Errorf("vblank: %w", du.ErrHardwareTimeout), "GATEWAY_TIMEOUT", 504},
		{fmt.Errorf("commit: %w", du.ErrInterrupted), "UNAVAILABLE", 503},
		{du.ErrClosed, "UNAVAILABLE", 503},
		{models.ErrNotFound("gone"), "NOT_FOUND", 404},
		{errors.New("boom"), "INTERNAL", 500},
	}
	for _, tc := range tests {
		got := toAppError(tc.err)
		if got.Code != tc.code || got.Status != tc.status {
			t.Errorf("toAppError(%v) = %s/%d, want %s/%d", tc.err, got.Code, got.Status, tc.code, tc.status)
		}
	}
	if toAppError(nil) != nil {
		t.Error("toAppError(nil) != nil")
	}
}

func TestModeRoundTrip(t *testing.T) {
	in := &models.Mode{
		ClockKHz: 74250, HDisplay: 1280, HSyncStart: 1390, HSyncEnd: 1430, HTotal: 1650,
		VDisplay: 720, VSyncStart: 725, VSyncEnd: 730, VTotal: 750,
		Flags: []string{"PHSync", models.ModeFlagInterlace},
	}
	m, err := toMode(in)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Interlaced() || m.Flags&du.ModeFlagPHSync == 0 {
		t.Errorf("flags = %b", m.Flags)
	}
	out := fromMode(m)
	if out.ClockKHz != 74250 || len(out.Flags) != 2 || out.Flags[0] != models.ModeFlagPHSync {
		t.Errorf("fromMode = %+v", out)
	}
}
