// Package config loads the device profile and persists the display layout.
package config

import "github.com/igel-oss/rcar-du-vdrm/internal/models"

// Store is the interface for persisting the display layout.
type Store interface {
	// Load loads the layout. Returns DefaultState if no file exists.
	Load() (*models.State, error)

	// Save persists the layout. Implementations may debounce rapid saves.
	Save(state *models.State) error

	// Path returns the file path used by this store.
	Path() string

	// Flush forces an immediate write of any pending layout.
	Flush() error
}
