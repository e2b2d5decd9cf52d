//go:build !linux

package hardware

import (
	"context"
	"errors"
)

var errNoMMIO = errors.New("register access needs linux /dev/mem and uio; use the mock driver")

// MMIO is unavailable outside linux.
type MMIO struct{}

func NewMMIO(base uint64, size int) (*MMIO, error) { return nil, errNoMMIO }

func (m *MMIO) Read32(offset Register) uint32 { return 0 }
func (m *MMIO) Write32(offset Register, val uint32) {}
func (m *MMIO) Close() error { return nil }

// UIO is unavailable outside linux.
type UIO struct{}

func OpenUIO(path string) (*UIO, error) { return nil, errNoMMIO }

func (u *UIO) Wait(ctx context.Context) (uint32, error) { return 0, errNoMMIO }
func (u *UIO) Close() error { return nil }
