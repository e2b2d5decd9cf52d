// Package hardware provides the register-level abstraction of the R-Car
// Display Unit. It defines the Bus interface used by both the /dev/mem
// MMIO backend and the in-memory mock, the register map, clock handles,
// the interrupt source and the per-SoC device description.
package hardware

import "context"

// Register is a byte offset into the DU register window.
type Register = uint32

// Bus is 32-bit register access to the DU window. Accesses never block and
// never fail once the window is mapped, so callers may hold locks across
// them. Implementations must be safe for concurrent use.
type Bus interface {
	// Read32 returns the register at offset.
	Read32(offset Register) uint32

	// Write32 stores val in the register at offset.
	Write32(offset Register, val uint32)
}

// InterruptSource blocks until the DU interrupt line fires.
type InterruptSource interface {
	// Wait returns the number of interrupts seen since the previous call.
	// It returns ctx.Err() when ctx is cancelled.
	Wait(ctx context.Context) (uint32, error)

	// Close releases the underlying device.
	Close() error
}

// ClearSet performs a read-modify-write on reg.
func ClearSet(b Bus, reg Register, clr, set uint32) {
	b.Write32(reg, (b.Read32(reg)&^clr)|set)
}
