// Package localengine produces an adaptive segment set in-process when
// the remote transcoder is unavailable or playback has exhausted the
// remote tiers. The codec runtime is a black box behind the Engine
// interface; this package owns sizing, lifecycle, and cleanup around it.
package localengine

import (
	"context"
	"fmt"
)

// Engine is the codec runtime. Implementations expose a private virtual
// filesystem that Exec reads inputs from and writes outputs to.
type Engine interface {
	// Load initializes the runtime. Expensive; called at most once per
	// process via the Loader.
	Load(ctx context.Context) error

	WriteFile(name string, data []byte) error
	ReadFile(name string) ([]byte, error)
	Remove(name string) error
	List() []string

	// Exec runs one codec invocation against the virtual filesystem.
	Exec(ctx context.Context, args []string) error
}

// Unavailable returns an Engine whose load always fails. Used when no
// codec runtime is wired so conversion degrades to a typed error
// instead of a nil dereference.
func Unavailable() Engine {
	return unavailableEngine{}
}

type unavailableEngine struct{}

func (unavailableEngine) Load(ctx context.Context) error {
	return fmt.Errorf("no codec runtime configured")
}

func (unavailableEngine) WriteFile(name string, data []byte) error {
	return fmt.Errorf("engine unavailable")
}

func (unavailableEngine) ReadFile(name string) ([]byte, error) {
	return nil, fmt.Errorf("engine unavailable")
}

func (unavailableEngine) Remove(name string) error {
	return fmt.Errorf("engine unavailable")
}

func (unavailableEngine) List() []string { return nil }

func (unavailableEngine) Exec(ctx context.Context, args []string) error {
	return fmt.Errorf("engine unavailable")
}
