package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/igel-oss/rcar-du-vdrm/internal/api"
	"github.com/igel-oss/rcar-du-vdrm/internal/auth"
	"github.com/igel-oss/rcar-du-vdrm/internal/config"
	"github.com/igel-oss/rcar-du-vdrm/internal/controller"
	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/events"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

// newTestServer spins up a full router on a mock R8A7790 with simulated
// vblanks. A non-nil keys map switches auth to secured mode.
func newTestServer(t *testing.T, keys map[string]auth.Client) *httptest.Server {
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
	bus := events.NewBus()
	mock := hardware.NewMock()
	dev, err := du.New(mock, info, clocks, du.Options{
		Outputs: []hardware.Output{hardware.OutputDPAD0, hardware.OutputLVDS0, hardware.OutputLVDS1},
		Events:  bus,
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

	ctrl, err := controller.New(context.Background(), dev, config.NewMemStore())
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}

	dir := t.TempDir()
	if keys != nil {
		data, _ := json.Marshal(keys)
		if err := os.WriteFile(filepath.Join(dir, "access_keys.json"), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	authSvc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	srv := httptest.NewServer(api.NewRouter(ctrl, authSvc, bus))
	t.Cleanup(func() {
		srv.Close()
		authSvc.Close()
		ctrl.Close()
		dev.Close()
		cancel()
		<-done
		irq.Close()
	})
	return srv
}

// do is a convenience helper for making requests to the test server.
func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("NewRequest %s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a JSON response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// requireStatus fails the test if the response status doesn't match.
func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}

func requireError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, status, body)
	}
	var appErr models.AppError
	decodeJSON(t, resp, &appErr)
	if appErr.Code != code {
		t.Errorf("error code = %q, want %q", appErr.Code, code)
	}
}

const fbBody = `{"id":"fb0","format":"XR24","width":1920,"height":1080,"addrs":[1476395008,0]}`

const layoutBody = `{
	"crtcs": [{"id":0,"active":true,"outputs":["lvds0"],
		"mode":{"clock_khz":148500,"hdisplay":1920,"hsync_start":2008,"hsync_end":2052,"htotal":2200,
			"vdisplay":1080,"vsync_start":1084,"vsync_end":1089,"vtotal":1125,"flags":["phsync","pvsync"]}}],
	"planes": [{"id":0,"crtc":0,"framebuffer":"fb0"}]
}`

// enable registers fb0 and scans it out on crtc 0.
func enable(t *testing.T, srv *httptest.Server) {
	t.Helper()
	resp := do(t, srv, http.MethodPost, "/api/framebuffers", fbBody)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
	resp = do(t, srv, http.MethodPut, "/api/state", layoutBody)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

// --- Tests ---

func TestGetState(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/api", "/api/state"} {
		resp := do(t, srv, http.MethodGet, path, "")
		requireStatus(t, resp, http.StatusOK)
		var state models.State
		decodeJSON(t, resp, &state)
		if len(state.Crtcs) != 3 || len(state.Planes) != 8 {
			t.Errorf("GET %s: %d crtcs %d planes, want 3 and 8", path, len(state.Crtcs), len(state.Planes))
		}
		if state.Info.Model != "r8a7790" {
			t.Errorf("GET %s: model = %q", path, state.Info.Model)
		}
	}
}

func TestCreateFramebuffer(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, srv, http.MethodPost, "/api/framebuffers", fbBody)
	requireStatus(t, resp, http.StatusCreated)
	var fb models.Framebuffer
	decodeJSON(t, resp, &fb)
	if fb.ID != "fb0" || fb.Pitches[0] != 7680 {
		t.Errorf("created %+v, want fb0 with pitch 7680", fb)
	}

	resp = do(t, srv, http.MethodGet, "/api/framebuffers", "")
	requireStatus(t, resp, http.StatusOK)
	var list struct {
		Framebuffers []models.Framebuffer `json:"framebuffers"`
	}
	decodeJSON(t, resp, &list)
	if len(list.Framebuffers) != 1 {
		t.Errorf("GET /api/framebuffers: %d entries, want 1", len(list.Framebuffers))
	}

	requireError(t, do(t, srv, http.MethodPost, "/api/framebuffers", fbBody), http.StatusConflict, "CONFLICT")
	requireError(t, do(t, srv, http.MethodPost, "/api/framebuffers", `{"format":"NV61","width":64,"height":64}`),
		http.StatusBadRequest, "BAD_REQUEST")
	requireError(t, do(t, srv, http.MethodPost, "/api/framebuffers", `{`), http.StatusBadRequest, "BAD_REQUEST")
}

func TestCommitAndStatus(t *testing.T) {
	srv := newTestServer(t, nil)
	enable(t, srv)

	resp := do(t, srv, http.MethodGet, "/api/crtcs/0", "")
	requireStatus(t, resp, http.StatusOK)
	var st models.CrtcStatus
	decodeJSON(t, resp, &st)
	if !st.Enabled || !st.Started || st.DotClockKHz != 148500 {
		t.Errorf("crtc 0 status = %+v", st)
	}
	if len(st.Outputs) != 1 || st.Outputs[0] != "lvds0" {
		t.Errorf("crtc 0 outputs = %v", st.Outputs)
	}

	resp = do(t, srv, http.MethodGet, "/api/crtcs", "")
	requireStatus(t, resp, http.StatusOK)
	var list struct {
		Crtcs []models.CrtcStatus `json:"crtcs"`
	}
	decodeJSON(t, resp, &list)
	if len(list.Crtcs) != 3 || list.Crtcs[1].Enabled {
		t.Errorf("crtcs = %+v", list.Crtcs)
	}

	requireError(t, do(t, srv, http.MethodGet, "/api/crtcs/9", ""), http.StatusNotFound, "NOT_FOUND")
	requireError(t, do(t, srv, http.MethodGet, "/api/crtcs/x", ""), http.StatusBadRequest, "BAD_REQUEST")
}

func TestCommitAsync(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodPost, "/api/framebuffers", fbBody)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = do(t, srv, http.MethodPut, "/api/state?async=1", layoutBody)
	requireStatus(t, resp, http.StatusAccepted)
	var res models.CommitResult
	decodeJSON(t, resp, &res)
	if !res.Async || res.ID == "" {
		t.Errorf("commit result = %+v", res)
	}
}

func TestCommitRejectsInvalidLayout(t *testing.T) {
	srv := newTestServer(t, nil)
	requireError(t, do(t, srv, http.MethodPut, "/api/state", `{"crtcs":[{"id":0,"active":true}]}`),
		http.StatusBadRequest, "BAD_REQUEST")
	requireError(t, do(t, srv, http.MethodPut, "/api/state", `not json`), http.StatusBadRequest, "BAD_REQUEST")
}

func TestFlip(t *testing.T) {
	srv := newTestServer(t, nil)
	enable(t, srv)

	resp := do(t, srv, http.MethodPost, "/api/framebuffers",
		`{"id":"fb1","format":"XR24","width":1920,"height":1080,"addrs":[1493172224,0]}`)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = do(t, srv, http.MethodPost, "/api/crtcs/0/flip", `{"framebuffer":"fb1","wait":true,"user_data":7}`)
	requireStatus(t, resp, http.StatusOK)
	var res models.FlipResult
	decodeJSON(t, resp, &res)
	if res.Pending || res.Sequence == 0 {
		t.Errorf("flip result = %+v, want completed with a sequence", res)
	}

	// fb0 is no longer scanned out.
	resp = do(t, srv, http.MethodDelete, "/api/framebuffers/fb0", "")
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	requireError(t, do(t, srv, http.MethodDelete, "/api/framebuffers/fb1", ""), http.StatusConflict, "CONFLICT")
	requireError(t, do(t, srv, http.MethodDelete, "/api/framebuffers/nope", ""), http.StatusNotFound, "NOT_FOUND")
	requireError(t, do(t, srv, http.MethodPost, "/api/crtcs/0/flip", `{"framebuffer":"nope"}`),
		http.StatusNotFound, "NOT_FOUND")
}

func TestCancelFlips(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodDelete, "/api/flips/client-a", "")
	requireStatus(t, resp, http.StatusOK)
	var res map[string]int
	decodeJSON(t, resp, &res)
	if res["cancelled"] != 0 {
		t.Errorf("cancelled = %d on an idle device", res["cancelled"])
	}
}

func TestDPMS(t *testing.T) {
	srv := newTestServer(t, nil)
	enable(t, srv)

	resp := do(t, srv, http.MethodPost, "/api/crtcs/0/dpms", `{"on":false}`)
	requireStatus(t, resp, http.StatusOK)
	var c models.Crtc
	decodeJSON(t, resp, &c)
	if c.Active {
		t.Error("crtc still active after DPMS off")
	}

	requireError(t, do(t, srv, http.MethodPost, "/api/crtcs/1/dpms", `{"on":true}`), http.StatusBadRequest, "BAD_REQUEST")
}

func TestSetPlane(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := do(t, srv, http.MethodPatch, "/api/planes/4", `{"zpos":3,"alpha":128}`)
	requireStatus(t, resp, http.StatusOK)
	var p models.Plane
	decodeJSON(t, resp, &p)
	if p.Zpos == nil || *p.Zpos != 3 || p.Alpha == nil || *p.Alpha != 128 {
		t.Errorf("plane = %+v", p)
	}

	requireError(t, do(t, srv, http.MethodPatch, "/api/planes/4", `{"zpos":9}`), http.StatusBadRequest, "BAD_REQUEST")
	requireError(t, do(t, srv, http.MethodPatch, "/api/planes/0", `{"alpha":1}`), http.StatusBadRequest, "BAD_REQUEST")
	requireError(t, do(t, srv, http.MethodPatch, "/api/planes/42", `{"alpha":1}`), http.StatusNotFound, "NOT_FOUND")

	resp = do(t, srv, http.MethodGet, "/api/planes", "")
	requireStatus(t, resp, http.StatusOK)
	var list struct {
		Planes []models.Plane `json:"planes"`
	}
	decodeJSON(t, resp, &list)
	if len(list.Planes) != 8 {
		t.Errorf("GET /api/planes: %d planes, want 8", len(list.Planes))
	}
}

func TestFormats(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodGet, "/api/formats", "")
	requireStatus(t, resp, http.StatusOK)
	var list struct {
		Formats []models.FormatInfo `json:"formats"`
	}
	decodeJSON(t, resp, &list)
	if len(list.Formats) != 10 {
		t.Errorf("%d formats, want 10", len(list.Formats))
	}
}

func TestSuspendResume(t *testing.T) {
	srv := newTestServer(t, nil)
	enable(t, srv)

	resp := do(t, srv, http.MethodPost, "/api/suspend", "")
	requireStatus(t, resp, http.StatusOK)
	var info models.Info
	decodeJSON(t, resp, &info)
	if !info.Suspended {
		t.Error("info.Suspended = false after suspend")
	}

	resp = do(t, srv, http.MethodGet, "/api/info", "")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &info)
	if !info.Suspended || info.Model != "r8a7790" {
		t.Errorf("GET /api/info = %+v", info)
	}

	resp = do(t, srv, http.MethodPost, "/api/resume", "")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &info)
	if info.Suspended {
		t.Error("info.Suspended = true after resume")
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodOptions, "/api/state", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("OPTIONS status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin")
	}
}

func TestAuthRoles(t *testing.T) {
	srv := newTestServer(t, map[string]auth.Client{
		"compositor": {Role: auth.RoleAdmin, AccessKey: "admin-key"},
		"dashboard":  {Role: auth.RoleViewer, AccessKey: "viewer-key"},
	})

	requireError(t, do(t, srv, http.MethodGet, "/api/state", ""), http.StatusUnauthorized, "UNAUTHORIZED")

	resp := do(t, srv, http.MethodGet, "/api/state?api-key=viewer-key", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	requireError(t, do(t, srv, http.MethodPost, "/api/suspend?api-key=viewer-key", ""), http.StatusForbidden, "FORBIDDEN")

	resp = do(t, srv, http.MethodPost, "/api/suspend?api-key=admin-key", "")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

// sseReader reads "event:" names from an SSE stream.
type sseReader struct {
	scanner *bufio.Scanner
}

func (s *sseReader) next(t *testing.T) (string, string) {
	t.Helper()
	var name string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			return name, strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("SSE stream ended: %v", s.scanner.Err())
	return "", ""
}

func subscribe(t *testing.T, srv *httptest.Server, query string) *sseReader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/subscribe"+query, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	return &sseReader{scanner: bufio.NewScanner(resp.Body)}
}

func TestSSESubscribe(t *testing.T) {
	srv := newTestServer(t, nil)
	enable(t, srv)

	sse := subscribe(t, srv, "")
	name, data := sse.next(t)
	if name != "state" {
		t.Fatalf("first event = %q, want state", name)
	}
	var state models.State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !state.Crtcs[0].Active {
		t.Error("initial state does not show crtc 0 active")
	}

	resp := do(t, srv, http.MethodPost, "/api/crtcs/0/flip", `{"framebuffer":"fb0","event":true,"user_data":42}`)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Vblank events are filtered out by default. The commit_complete of
	// enable may still be in flight.
	for name, data = sse.next(t); name == string(events.KindCommitComplete); name, data = sse.next(t) {
	}
	if name != string(events.KindFlipComplete) {
		t.Fatalf("event = %q, want flip_complete", name)
	}
	var ev events.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Crtc != 0 || ev.UserData != 42 {
		t.Errorf("flip event = %+v", ev)
	}
}
