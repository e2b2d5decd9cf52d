// Package maintenance provides background maintenance goroutines for the
// display daemon: a frame-end watchdog and daily layout backups.
package maintenance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

const (
	backupPrefix = "layout-"
	backupSuffix = ".json"
	backupMaxAge = 30 * 24 * time.Hour
)

// CrtcSource reports the runtime status of the CRTCs.
type CrtcSource interface {
	Crtcs() []models.CrtcStatus
}

// Service manages background maintenance goroutines.
type Service struct {
	crtcs      CrtcSource
	layoutPath string
	backupDir  string

	// WatchdogInterval is how long a running CRTC may go without a frame
	// end before it is reported.
	WatchdogInterval time.Duration
}

// New creates a maintenance Service. Backups of layoutPath go to a
// backups directory next to it.
func New(crtcs CrtcSource, layoutPath string) *Service {
	return &Service{
		crtcs:            crtcs,
		layoutPath:       layoutPath,
		backupDir:        filepath.Join(filepath.Dir(layoutPath), "backups"),
		WatchdogInterval: time.Second,
	}
}

// Start launches all background maintenance goroutines.
// Blocks until ctx is cancelled; all goroutines respect the context.
func (s *Service) Start(ctx context.Context) {
	go s.runWatchdog(ctx)
	go s.runBackup(ctx)

	<-ctx.Done()
}

// watchdog remembers the last frame counter of every running CRTC that
// waits for a page flip. Vblank interrupts are only enabled while someone
// waits for them, so a CRTC without a pending flip is not watched.
type watchdog struct {
	last    map[int]uint64
	stalled map[int]bool
}

func newWatchdog() *watchdog {
	return &watchdog{last: make(map[int]uint64), stalled: make(map[int]bool)}
}

// check returns the CRTCs that started stalling and those that recovered
// since the previous call.
func (w *watchdog) check(statuses []models.CrtcStatus) (stalled, recovered []int) {
	seen := make(map[int]bool, len(statuses))
	for _, st := range statuses {
		if !st.Started || st.Suspended || !st.FlipPending {
			continue
		}
		seen[st.ID] = true
		prev, ok := w.last[st.ID]
		w.last[st.ID] = st.Sequence
		if !ok {
			continue
		}
		switch {
		case st.Sequence == prev && !w.stalled[st.ID]:
			w.stalled[st.ID] = true
			stalled = append(stalled, st.ID)
		case st.Sequence != prev && w.stalled[st.ID]:
			delete(w.stalled, st.ID)
			recovered = append(recovered, st.ID)
		}
	}
	// Forget CRTCs that stopped or whose flip completed.
	for id := range w.last {
		if !seen[id] {
			if w.stalled[id] {
				recovered = append(recovered, id)
			}
			delete(w.last, id)
			delete(w.stalled, id)
		}
	}
	return stalled, recovered
}

// runWatchdog reports CRTCs whose page flip sees no frame end for a whole
// interval.
func (s *Service) runWatchdog(ctx context.Context) {
	w := newWatchdog()
	ticker := time.NewTicker(s.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stalled, recovered := w.check(s.crtcs.Crtcs())
			for _, id := range stalled {
				slog.Warn("maintenance: page flip stalled, no frame end interrupts", "crtc", id, "interval", s.WatchdogInterval)
			}
			for _, id := range recovered {
				slog.Info("maintenance: crtc no longer stalled", "crtc", id)
			}
		}
	}
}

// runBackup performs daily backups at 2am.
func (s *Service) runBackup(ctx context.Context) {
	for {
		now := time.Now()
		next2am := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, now.Location())
		if !next2am.After(now) {
			next2am = next2am.Add(24 * time.Hour)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(next2am.Sub(now)):
			path, err := s.RunBackupNow()
			if err != nil {
				slog.Error("maintenance: backup failed", "err", err)
			} else {
				slog.Info("maintenance: backup created", "file", path)
			}
		}
	}
}

// RunBackupNow copies the layout file into the backup directory and
// returns the backup path.
func (s *Service) RunBackupNow() (string, error) {
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	src, err := os.Open(s.layoutPath)
	if err != nil {
		return "", fmt.Errorf("open layout: %w", err)
	}
	defer src.Close()

	date := time.Now().Format("2006-01-02")
	dest := filepath.Join(s.backupDir, backupPrefix+date+backupSuffix)
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("copy layout: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	pruneOldBackups(s.backupDir, backupMaxAge)
	return dest, nil
}

// ListBackups returns the backup files sorted by name (newest last).
func (s *Service) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if isBackup(e) {
			files = append(files, filepath.Join(s.backupDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func isBackup(e os.DirEntry) bool {
	return !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), backupSuffix)
}

// pruneOldBackups deletes backup files older than maxAge from backupDir.
func pruneOldBackups(backupDir string, maxAge time.Duration) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !isBackup(e) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, e.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("maintenance: failed to prune old backup", "file", path, "err", err)
			} else {
				slog.Info("maintenance: pruned old backup", "file", path)
			}
		}
	}
}
