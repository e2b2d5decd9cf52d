// Command rcar-du is the R-Car display unit daemon. It owns the DU register
// window, serves the display layout over HTTP and follows system sleep.
// Run with --mock to use a simulated register bus (no /dev/mem required).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/igel-oss/rcar-du-vdrm/internal/api"
	"github.com/igel-oss/rcar-du-vdrm/internal/auth"
	"github.com/igel-oss/rcar-du-vdrm/internal/config"
	"github.com/igel-oss/rcar-du-vdrm/internal/controller"
	"github.com/igel-oss/rcar-du-vdrm/internal/du"
	"github.com/igel-oss/rcar-du-vdrm/internal/events"
	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
	"github.com/igel-oss/rcar-du-vdrm/internal/identity"
	"github.com/igel-oss/rcar-du-vdrm/internal/maintenance"
	"github.com/igel-oss/rcar-du-vdrm/internal/power"
	"github.com/igel-oss/rcar-du-vdrm/internal/zeroconf"
)

// mockFramePeriod is the simulated vblank period of the mock bus.
const mockFramePeriod = 16667 * time.Microsecond

// probeRetries bounds how often a deferred probe is retried.
const probeRetries = 10

func main() {
	var (
		mock       = flag.Bool("mock", false, "use the mock register bus (no /dev/mem required)")
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		stateDir   = flag.String("state-dir", "", "state directory (default: ~/.config/rcar-du)")
		profileArg = flag.String("profile", "", "device profile (default: <state-dir>/device.yaml)")
		mdns       = flag.Bool("mdns", true, "advertise the API over mDNS")
		sleepWatch = flag.Bool("sleep-watch", true, "suspend the display on logind PrepareForSleep")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	// Configure logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Resolve state directory
	if *stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("cannot determine home directory", "err", err)
			os.Exit(1)
		}
		*stateDir = filepath.Join(home, ".config", "rcar-du")
	}
	if err := os.MkdirAll(*stateDir, 0755); err != nil {
		slog.Error("cannot create state directory", "path", *stateDir, "err", err)
		os.Exit(1)
	}
	if *profileArg == "" {
		*profileArg = filepath.Join(*stateDir, "device.yaml")
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := events.NewBus()

	// Device probe. Clocks that are not ready yet defer the probe; the
	// profile is re-read on every attempt.
	var hw *board
	probe := func() error {
		profile, err := loadProfile(*profileArg, *mock)
		if err != nil {
			return backoff.Permanent(err)
		}
		b, err := openBoard(profile, *mock, bus)
		if errors.Is(err, du.ErrProbeDeferred) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		hw = b
		return nil
	}
	retry := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), probeRetries), ctx)
	if err := backoff.RetryNotify(probe, retry, func(err error, wait time.Duration) {
		slog.Warn("device probe deferred", "err", err, "retry_in", wait)
	}); err != nil {
		slog.Error("device initialization failed", "err", err)
		os.Exit(1)
	}
	info := hw.dev.Info()
	slog.Info("display unit ready",
		"model", info.Model,
		"crtcs", info.NumCrtcs,
		"groups", info.NumGroups(),
		"mock", *mock,
	)

	// The interrupt loop outlives the HTTP server so that the final
	// disable still sees frame ends.
	runCtx, stopRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := hw.dev.Run(runCtx, hw.irq); err != nil {
			slog.Error("interrupt loop failed", "err", err)
			cancel()
		}
	}()

	// Layout store and controller
	store := config.NewLayoutStore(*stateDir)
	ctrl, err := controller.New(ctx, hw.dev, store)
	if err != nil {
		slog.Error("controller initialization failed", "err", err)
		os.Exit(1)
	}
	layoutWatch, err := config.Watch(store.Path(), func() {
		if err := ctrl.Reload(ctx); err != nil {
			slog.Warn("layout reload failed", "err", err)
		}
	})
	if err != nil {
		slog.Warn("layout file is not watched", "path", store.Path(), "err", err)
	}

	// Auth service
	authSvc, err := auth.NewService(*stateDir)
	if err != nil {
		slog.Error("auth service initialization failed", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.NewRouter(ctrl, authSvc, bus),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Maintenance goroutines (frame-end watchdog, layout backups)
	maint := maintenance.New(ctrl, store.Path())
	g.Go(func() error {
		maint.Start(gctx)
		return nil
	})

	if *sleepWatch {
		g.Go(func() error {
			if err := power.NewWatcher(ctrl).Run(gctx); err != nil {
				slog.Warn("sleep watcher unavailable", "err", err)
			}
			return nil
		})
	}

	if *mdns {
		zc := zeroconf.New(identity.GetHostname(), listenPort(*addr), info.Model)
		g.Go(func() error {
			if err := zc.Start(gctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("rcar-du listening", "addr", *addr, "state", *stateDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutCancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("server shutdown error", "err", err)
		}
		return nil
	})

	exitCode := 0
	if err := g.Wait(); err != nil {
		slog.Error("daemon failed", "err", err)
		exitCode = 1
	}

	authSvc.Close()
	if layoutWatch != nil {
		layoutWatch.Close()
	}
	// Flush pending layout writes
	if err := store.Flush(); err != nil {
		slog.Warn("failed to flush layout", "err", err)
	}
	ctrl.Close()
	if err := hw.dev.Close(); err != nil {
		slog.Warn("device close error", "err", err)
	}
	stopRun()
	<-runDone
	hw.Close()

	slog.Info("shutdown complete")
	os.Exit(exitCode)
}

// loadProfile reads the device profile. Without a profile file the SoC
// model is taken from the device tree when running on real hardware.
func loadProfile(path string, mock bool) (*config.Profile, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !mock {
		if model, ok := identity.DetectModel(identity.DeviceTreeCompatible); ok {
			slog.Info("no device profile, using device tree model", "model", model)
			return config.DefaultProfileFor(model)
		}
	}
	return config.LoadProfile(path)
}

// board is a probed device with the resources backing it.
type board struct {
	dev     *du.Device
	irq     hardware.InterruptSource
	closers []io.Closer
}

func (b *board) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			slog.Warn("close error", "err", err)
		}
	}
}

func openBoard(profile *config.Profile, mock bool, bus *events.Bus) (*board, error) {
	info, err := profile.Info()
	if err != nil {
		return nil, err
	}
	outputs, err := profile.ConnectedOutputs()
	if err != nil {
		return nil, err
	}
	opts := du.Options{Outputs: outputs, Events: bus}

	b := &board{}
	var regs hardware.Bus
	if mock {
		slog.Info("using mock register bus")
		m := hardware.NewMock()
		irq := hardware.NewMockVblank(m, info.NumCrtcs, mockFramePeriod)
		regs, b.irq = m, irq
		b.closers = append(b.closers, irq)
	} else {
		mmio, err := hardware.NewMMIO(profile.MMIO.Base, profile.MMIO.Size)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, mmio)
		irq, err := hardware.OpenUIO(profile.UIO)
		if err != nil {
			b.Close()
			return nil, err
		}
		regs, b.irq = mmio, irq
		b.closers = append(b.closers, irq)
	}

	b.dev, err = du.New(regs, info, profile.ClockSet(), opts)
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// listenPort extracts the port of a listen address for mDNS.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 80
	}
	return port
}
