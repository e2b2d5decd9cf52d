package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

const layoutFileName = "layout.json"

// DefaultDebounce is the quiet period after which saved layouts are
// written.
const DefaultDebounce = 500 * time.Millisecond

// layoutFile is the on-disk form of a layout. Runtime info such as the SoC
// model and the suspend flag is not persisted.
type layoutFile struct {
	Version      string               `json:"version"`
	Crtcs        []models.Crtc        `json:"crtcs"`
	Planes       []models.Plane       `json:"planes"`
	Framebuffers []models.Framebuffer `json:"framebuffers"`
}

// LayoutStore keeps the layout in stateDir/layout.json. Saves are encoded
// immediately and coalesced into one atomic write per quiet period.
type LayoutStore struct {
	path string

	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	data  []byte // encoded layout awaiting write
}

// NewLayoutStore returns a store for the layout file in stateDir.
func NewLayoutStore(stateDir string) *LayoutStore {
	return &LayoutStore{
		path:  filepath.Join(stateDir, layoutFileName),
		delay: DefaultDebounce,
	}
}

// SetDebounce changes the quiet period. Zero or less writes on every Save.
func (s *LayoutStore) SetDebounce(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Path returns the layout file.
func (s *LayoutStore) Path() string { return s.path }

// Load reads the layout. A missing or corrupt file yields DefaultState.
func (s *LayoutStore) Load() (*models.State, error) {
	state := models.DefaultState()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read layout: %w", err)
	}

	var f layoutFile
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("config: corrupt layout file, using defaults", "path", s.path, "err", err)
		return &state, nil
	}
	if f.Version != "" && f.Version != models.Version {
		slog.Info("config: layout written by another version", "path", s.path, "version", f.Version)
	}
	state.Crtcs = f.Crtcs
	state.Planes = f.Planes
	state.Framebuffers = f.Framebuffers
	normalizeState(&state)
	return &state, nil
}

// Save encodes state and schedules the write.
func (s *LayoutStore) Save(state *models.State) error {
	data, err := json.MarshalIndent(layoutFile{
		Version:      models.Version,
		Crtcs:        state.Crtcs,
		Planes:       state.Planes,
		Framebuffers: state.Framebuffers,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode layout: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delay <= 0 {
		s.data = nil
		return s.writeLocked(data)
	}
	s.data = data
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.flushPending)
	} else {
		s.timer.Reset(s.delay)
	}
	return nil
}

func (s *LayoutStore) flushPending() {
	if err := s.Flush(); err != nil {
		slog.Error("config: failed to write layout", "path", s.path, "err", err)
	}
}

// Flush writes the pending layout now.
func (s *LayoutStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	data := s.data
	s.data = nil
	if data == nil {
		return nil
	}
	return s.writeLocked(data)
}

// writeLocked replaces the layout file through a synced temporary file in
// the same directory.
func (s *LayoutStore) writeLocked(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: write layout: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+layoutFileName+".*")
	if err != nil {
		return fmt.Errorf("config: write layout: %w", err)
	}
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o644)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), s.path)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("config: write layout: %w", err)
	}
	return nil
}

var _ Store = (*LayoutStore)(nil)
