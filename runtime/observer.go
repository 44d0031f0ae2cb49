package runtime

import (
	"time"

	"github.com/wippyai/contract-vm/linker"
)

// CallEvent describes one finished contract call. Depth is zero for a
// top-level call and counts nesting for dynamic link callees.
type CallEvent struct {
	Address  string
	Entry    string
	Depth    int
	GasUsed  uint64
	Duration time.Duration
	Err      error
}

// Observer receives runtime events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	CallFinished(CallEvent)
	LinkState(state linker.State, address string)
}

type nopObserver struct{}

func (nopObserver) CallFinished(CallEvent)         {}
func (nopObserver) LinkState(linker.State, string) {}
