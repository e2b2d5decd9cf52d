package api

import (
	"testing"

	"github.com/igel-oss/rcar-du-vdrm/internal/events"
)

func TestParseKinds(t *testing.T) {
	def := parseKinds("")
	if def(events.KindVblank) || !def(events.KindFlipComplete) || !def(events.KindSuspend) {
		t.Error("default filter should pass everything but vblank")
	}
	want := parseKinds("vblank, commit_complete")
	if !want(events.KindVblank) || !want(events.KindCommitComplete) || want(events.KindFlipComplete) {
		t.Error("explicit filter mismatch")
	}
}
