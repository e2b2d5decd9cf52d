//go:build linux

package hardware

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// uioPollInterval bounds how long Wait sleeps in poll(2) before checking
// for context cancellation.
const uioPollInterval = 100 * time.Millisecond

// UIO receives the DU interrupt through a Linux userspace I/O device. The
// kernel masks the line after each event; Wait re-arms it.
type UIO struct {
	fd   int
	path string
	last uint32
}

// OpenUIO opens a /dev/uioN device and arms its interrupt.
func OpenUIO(path string) (*UIO, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("uio: open %s: %w", path, err)
	}
	u := &UIO{fd: fd, path: path}
	if err := u.arm(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return u, nil
}

func (u *UIO) arm() error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], 1)
	if _, err := unix.Write(u.fd, buf[:]); err != nil {
		return fmt.Errorf("uio: enable irq on %s: %w", u.path, err)
	}
	return nil
}

// Wait blocks until at least one interrupt fired and returns how many.
func (u *UIO) Wait(ctx context.Context) (uint32, error) {
	fds := []unix.PollFd{{Fd: int32(u.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := unix.Poll(fds, int(uioPollInterval/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("uio: poll %s: %w", u.path, err)
		}
		if n == 0 {
			continue
		}
		var buf [4]byte
		if _, err := unix.Read(u.fd, buf[:]); err != nil {
			return 0, fmt.Errorf("uio: read %s: %w", u.path, err)
		}
		count := binary.NativeEndian.Uint32(buf[:])
		delta := count - u.last
		u.last = count
		if err := u.arm(); err != nil {
			return delta, err
		}
		return delta, nil
	}
}

func (u *UIO) Close() error {
	return unix.Close(u.fd)
}

var _ InterruptSource = (*UIO)(nil)
