// Package power follows systemd-logind sleep notifications and suspends the
// display before the system sleeps.
package power

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

const (
	logindService   = "org.freedesktop.login1"
	logindPath      = "/org/freedesktop/login1"
	managerIface    = "org.freedesktop.login1.Manager"
	prepareForSleep = managerIface + ".PrepareForSleep"
)

// Sleeper is the part of the controller the watcher drives.
type Sleeper interface {
	Suspend() models.Info
	Resume() (models.Info, *models.AppError)
}

// Watcher suspends the display on PrepareForSleep(true) and resumes it on
// PrepareForSleep(false). While running it holds a logind delay inhibitor
// so the system waits for the display to stop before sleeping.
type Watcher struct {
	sleeper Sleeper
	// inhibit takes a delay lock and returns its release function.
	inhibit func() (func(), error)
}

// NewWatcher creates a Watcher for s.
func NewWatcher(s Sleeper) *Watcher {
	return &Watcher{sleeper: s}
}

// Run connects to the system bus and handles sleep signals until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("power: connect system bus: %w", err)
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(managerIface),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		return fmt.Errorf("power: add match: %w", err)
	}
	ch := make(chan *dbus.Signal, 4)
	conn.Signal(ch)
	defer conn.RemoveSignal(ch)

	w.inhibit = func() (func(), error) { return inhibitSleep(conn) }
	slog.Info("power: watching logind sleep signals")
	w.handle(ctx, ch)
	return nil
}

// inhibitSleep takes a logind "delay" inhibitor lock for sleep. Closing the
// returned descriptor releases it.
func inhibitSleep(conn *dbus.Conn) (func(), error) {
	var fd dbus.UnixFD
	err := conn.Object(logindService, logindPath).
		Call(managerIface+".Inhibit", 0, "sleep", "rcar-du", "Stopping display scan-out", "delay").
		Store(&fd)
	if err != nil {
		return nil, fmt.Errorf("power: inhibit sleep: %w", err)
	}
	return func() { unix.Close(int(fd)) }, nil
}

func (w *Watcher) handle(ctx context.Context, ch <-chan *dbus.Signal) {
	release := w.lock()
	defer func() {
		if release != nil {
			release()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			start, ok := sleepSignal(sig)
			if !ok {
				continue
			}
			if start {
				info := w.sleeper.Suspend()
				slog.Info("power: display suspended for system sleep", "suspended", info.Suspended)
				if release != nil {
					release()
					release = nil
				}
				continue
			}
			if _, appErr := w.sleeper.Resume(); appErr != nil {
				slog.Error("power: resume after system sleep failed", "err", appErr)
			} else {
				slog.Info("power: display resumed")
			}
			if release == nil {
				release = w.lock()
			}
		}
	}
}

func (w *Watcher) lock() func() {
	if w.inhibit == nil {
		return nil
	}
	release, err := w.inhibit()
	if err != nil {
		slog.Warn("power: running without a sleep inhibitor", "err", err)
		return nil
	}
	return release
}

// sleepSignal decodes a PrepareForSleep signal.
func sleepSignal(sig *dbus.Signal) (start bool, ok bool) {
	if sig == nil || sig.Name != prepareForSleep || len(sig.Body) != 1 {
		return false, false
	}
	start, ok = sig.Body[0].(bool)
	return start, ok
}
