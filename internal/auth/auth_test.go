package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/igel-oss/rcar-du-vdrm/internal/auth"
)

// newTempDir creates a temporary directory cleaned up by t.Cleanup.
func newTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "rcar-du-auth-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// writeKeys writes access_keys.json to dir.
func writeKeys(t *testing.T, dir string, clients map[string]auth.Client) {
	t.Helper()
	data, err := json.Marshal(clients)
	if err != nil {
		t.Fatalf("json.Marshal clients: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "access_keys.json"), data, 0644); err != nil {
		t.Fatalf("WriteFile access_keys.json: %v", err)
	}
}

func serve(svc *auth.Service, req *http.Request) (*httptest.ResponseRecorder, bool) {
	called := false
	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, called
}

// --- Open mode (no access_keys.json) ---

func TestService_OpenMode(t *testing.T) {
	svc, err := auth.NewService(newTempDir(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)

	if !svc.IsOpenMode() {
		t.Error("IsOpenMode() = false, want true when no access_keys.json")
	}
	if _, ok := svc.Lookup(""); ok {
		t.Error("Lookup(\"\") succeeded, empty key is always rejected")
	}

	rr, called := serve(svc, httptest.NewRequest(http.MethodPut, "/api/state", nil))
	if !called || rr.Code != http.StatusOK {
		t.Errorf("open mode blocked a request: %d", rr.Code)
	}
}

// --- Secured mode ---

func newSecuredService(t *testing.T) *auth.Service {
	t.Helper()
	dir := newTempDir(t)
	writeKeys(t, dir, map[string]auth.Client{
		"compositor": {Role: auth.RoleAdmin, AccessKey: "admin-key"},
		"dashboard":  {Role: auth.RoleViewer, AccessKey: "viewer-key"},
	})
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestService_SecuredMode_Lookup(t *testing.T) {
	svc := newSecuredService(t)
	if svc.IsOpenMode() {
		t.Error("IsOpenMode() = true with keys configured")
	}
	if role, ok := svc.Lookup("admin-key"); !ok || role != auth.RoleAdmin {
		t.Errorf("Lookup(admin-key) = %q, %v", role, ok)
	}
	if role, ok := svc.Lookup("viewer-key"); !ok || role != auth.RoleViewer {
		t.Errorf("Lookup(viewer-key) = %q, %v", role, ok)
	}
	if _, ok := svc.Lookup("wrong"); ok {
		t.Error("Lookup(wrong) succeeded")
	}
}

func TestMiddleware_SecuredMode(t *testing.T) {
	svc := newSecuredService(t)

	tests := []struct {
		name   string
		method string
		target string
		header string
		code   int
		called bool
	}{
		{"admin header", http.MethodPut, "/api/state", "admin-key", http.StatusOK, true},
		{"admin query", http.MethodPost, "/api/crtcs/0/flip?api-key=admin-key", "", http.StatusOK, true},
		{"viewer read", http.MethodGet, "/api/state", "viewer-key", http.StatusOK, true},
		{"viewer write", http.MethodPatch, "/api/planes/2", "viewer-key", http.StatusForbidden, false},
		{"wrong key", http.MethodGet, "/api/state", "nope", http.StatusUnauthorized, false},
		{"no key", http.MethodGet, "/api/state", "", http.StatusUnauthorized, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("X-API-Key", tc.header)
			}
			rr, called := serve(svc, req)
			if rr.Code != tc.code || called != tc.called {
				t.Errorf("status %d called %v, want %d %v", rr.Code, called, tc.code, tc.called)
			}
			if !tc.called && rr.Header().Get("Content-Type") != "application/json" {
				t.Error("denial is not JSON")
			}
		})
	}
}

func TestService_UnknownRoleIsViewer(t *testing.T) {
	dir := newTempDir(t)
	writeKeys(t, dir, map[string]auth.Client{"x": {Role: "root", AccessKey: "k"}})
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(svc.Close)
	if role, _ := svc.Lookup("k"); role != auth.RoleViewer {
		t.Errorf("role = %q, want viewer", role)
	}
}

func TestService_Reload(t *testing.T) {
	dir := newTempDir(t)
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)

	writeKeys(t, dir, map[string]auth.Client{"c": {Role: auth.RoleAdmin, AccessKey: "reload-key"}})
	if err := svc.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if svc.IsOpenMode() {
		t.Error("expected secured mode after reload")
	}
}

func TestService_WatchPicksUpChanges(t *testing.T) {
	dir := newTempDir(t)
	svc, err := auth.NewService(dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)

	writeKeys(t, dir, map[string]auth.Client{"c": {Role: auth.RoleAdmin, AccessKey: "watched-key"}})
	deadline := time.Now().Add(2 * time.Second)
	for svc.IsOpenMode() {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not reload access keys")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestService_CorruptFile(t *testing.T) {
	dir := newTempDir(t)
	if err := os.WriteFile(filepath.Join(dir, "access_keys.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := auth.NewService(dir); err == nil {
		t.Error("NewService with a corrupt key file succeeded")
	}
}

func TestService_MissingDir_NoError(t *testing.T) {
	svc, err := auth.NewService(filepath.Join(newTempDir(t), "does-not-exist"))
	if err != nil {
		t.Fatalf("NewService with non-existent dir: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.IsOpenMode() {
		t.Error("expected open mode for non-existent dir")
	}
}
