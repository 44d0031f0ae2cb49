package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/engine"
)

// Artifact is a reference-counted compiled module. The cache holds one
// reference while the module is resident; every Acquire needs a matching
// Release. The module is closed when the count drops to zero.
type Artifact struct {
	module *engine.Module

	mu     sync.Mutex
	refs   int
	closed bool
}

func newArtifact(m *engine.Module) *Artifact {
	return &Artifact{module: m, refs: 1}
}

// Module returns the compiled module. It is valid until Release.
func (a *Artifact) Module() *engine.Module {
	return a.module
}

// Checksum returns the checksum of the code.
func (a *Artifact) Checksum() contractvm.Checksum {
	return a.module.Checksum
}

// Acquire takes a reference. It fails once the module has been closed.
func (a *Artifact) Acquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.refs++
	return true
}

// Release drops a reference.
func (a *Artifact) Release() {
	a.mu.Lock()
	a.refs--
	last := a.refs == 0 && !a.closed
	if last {
		a.closed = true
	}
	a.mu.Unlock()

	if last {
		if err := a.module.Close(context.Background()); err != nil {
			Logger().Warn("close module", zap.String("checksum", a.module.Checksum.Short()), zap.Error(err))
		}
	}
}

// Refs returns the current reference count.
func (a *Artifact) Refs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refs
}
