// Package auth implements API-key access control for the control API.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/igel-oss/rcar-du-vdrm/internal/config"
)

const keysFileName = "access_keys.json"

// Roles of a client.
const (
	RoleAdmin  = "admin"  // may change the layout
	RoleViewer = "viewer" // read-only access
)

// Client is one entry of access_keys.json, keyed by client name.
type Client struct {
	Role      string `json:"role"`
	AccessKey string `json:"access_key"`
	Created   string `json:"created,omitempty"`
}

// Service holds the access keys of a state directory.
type Service struct {
	mu      sync.RWMutex
	path    string
	clients map[string]Client
	watcher *config.Watcher
}

// NewService creates a new auth service watching the given state directory.
func NewService(stateDir string) (*Service, error) {
	s := &Service{
		path:    filepath.Join(stateDir, keysFileName),
		clients: make(map[string]Client),
	}

	// A missing file is open mode.
	if err := s.Reload(); err != nil {
		return nil, err
	}

	w, err := config.Watch(s.path, func() {
		if err := s.Reload(); err != nil {
			slog.Warn("auth: failed to reload access keys", "err", err)
		}
	})
	if err != nil {
		slog.Warn("auth: could not watch access keys", "path", s.path, "err", err)
		return s, nil
	}
	s.watcher = w
	return s, nil
}

// Reload re-reads the access keys file.
func (s *Service) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.clients = make(map[string]Client)
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var clients map[string]Client
	if err := json.Unmarshal(data, &clients); err != nil {
		return err
	}
	for name, c := range clients {
		if c.Role != RoleAdmin && c.Role != RoleViewer {
			slog.Warn("auth: unknown role, treating as viewer", "client", name, "role", c.Role)
			c.Role = RoleViewer
			clients[name] = c
		}
	}

	s.mu.Lock()
	s.clients = clients
	s.mu.Unlock()
	slog.Debug("auth: reloaded access keys", "count", len(clients))
	return nil
}

// IsOpenMode returns true if no access key is configured.
// In open mode, all requests are allowed without authentication.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.AccessKey != "" {
			return false
		}
	}
	return true
}

// Lookup returns the role of the client owning key.
// Uses constant-time comparison to prevent timing attacks.
func (s *Service) Lookup(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.AccessKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(c.AccessKey)) == 1 {
			return c.Role, true
		}
	}
	return "", false
}

// Close stops the file watcher.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
}
