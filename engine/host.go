package engine

import (
	"github.com/tetratelabs/wazero/api"
)

// HostFunc is one function of the env host module.
type HostFunc struct {
	Name       string
	Capability Capability
	// Iterator marks functions that are only available when iterators are
	// enabled.
	Iterator bool
	Params   []api.ValueType
	Results  []api.ValueType
	Fn       api.GoModuleFunc
}

func (h HostFunc) matches(params, results []api.ValueType) bool {
	return equalTypes(h.Params, params) && equalTypes(h.Results, results)
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func valueTypes[T ~byte](in []T) []api.ValueType {
	out := make([]api.ValueType, len(in))
	for i, v := range in {
		out[i] = api.ValueType(v)
	}
	return out
}
