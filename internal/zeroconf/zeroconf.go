// Package zeroconf advertises the display API as an mDNS/DNS-SD service so
// compositors on the LAN can find the board by SoC model.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"

	"github.com/igel-oss/rcar-du-vdrm/internal/models"
)

const serviceType = "_http._tcp"

// Service manages mDNS service registration.
type Service struct {
	name  string // instance name, usually the hostname
	port  int
	model string
}

// New creates a Service advertising port for a DU of the given SoC model.
func New(name string, port int, model string) *Service {
	return &Service{name: name, port: port, model: model}
}

// TXT returns the TXT records of the advertisement.
func (s *Service) TXT() []string {
	return []string{
		"model=" + s.model,
		"version=" + models.Version,
		"path=/api",
	}
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	txt := s.TXT()
	server, err := zeroconf.Register(
		s.name,      // instance name
		serviceType, // service type
		"local.",    // domain
		s.port,      // port
		txt,         // TXT records
		nil,         // ifaces, nil means all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service",
		"name", s.name,
		"port", s.port,
		"txt", txt,
	)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}
