package gas

import (
	"github.com/wippyai/contract-vm/errors"
)

// Meter tracks gas for one call tree. A child meter created for a nested
// call charges through to its parents, so everything a callee spends is
// already reflected in the caller's remaining gas when it returns, and
// whatever it did not spend was never taken from the caller.
//
// Meter is not safe for concurrent use; a call tree runs on one goroutine.
type Meter struct {
	parent    *Meter
	limit     uint64
	used      uint64
	exhausted bool
}

// NewMeter creates a root meter with the given limit.
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// Limit returns the budget this meter was created with.
func (m *Meter) Limit() uint64 {
	return m.limit
}

// Used returns the gas charged through this meter, including children.
func (m *Meter) Used() uint64 {
	return m.used
}

// Remaining returns the gas still chargeable through this meter. It is
// bounded by every ancestor's remaining gas.
func (m *Meter) Remaining() uint64 {
	r := uint64(0)
	if !m.exhausted {
		r = m.limit - m.used
	}
	if m.parent != nil {
		if pr := m.parent.Remaining(); pr < r {
			r = pr
		}
	}
	return r
}

// Exhausted reports whether a charge on this meter or any meter sharing its
// call tree has failed.
func (m *Meter) Exhausted() bool {
	for c := m; c != nil; c = c.parent {
		if c.exhausted {
			return true
		}
	}
	return false
}

// Charge consumes points. When points exceed the remaining gas the whole
// chain up to the root is exhausted and OutOfGas is returned; the call must
// unwind.
func (m *Meter) Charge(points uint64) error {
	remaining := m.Remaining()
	if points > remaining {
		m.Exhaust()
		return errors.OutOfGas(points, remaining)
	}
	for c := m; c != nil; c = c.parent {
		c.used += points
	}
	return nil
}

// Exhaust clamps remaining gas to zero on this meter and every ancestor.
func (m *Meter) Exhaust() {
	for c := m; c != nil; c = c.parent {
		c.used = c.limit
		c.exhausted = true
	}
}

// Child carves a sub-budget for a nested call. amount must not exceed
// Remaining.
func (m *Meter) Child(amount uint64) (*Meter, error) {
	if remaining := m.Remaining(); amount > remaining {
		return nil, errors.OutOfGas(amount, remaining)
	}
	return &Meter{parent: m, limit: amount}, nil
}

// Depth returns the number of ancestors.
func (m *Meter) Depth() int {
	d := 0
	for c := m.parent; c != nil; c = c.parent {
		d++
	}
	return d
}
