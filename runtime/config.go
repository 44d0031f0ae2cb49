package runtime

import (
	"github.com/wippyai/contract-vm/cache"
	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/gas"
	"github.com/wippyai/contract-vm/linker"
)

// Limits on data crossing the host boundary, in bytes.
const (
	MaxKeyLength              = 64 * 1024
	MaxValueLength            = 128 * 1024
	MaxQueryLength            = 64 * 1024
	MaxHumanAddressLength     = 90
	MaxCanonicalAddressLength = 64
	MaxDebugLength            = 2 * 1024 * 1024
	MaxResultLength           = 4 * 1024 * 1024
	MaxCryptoInputLength      = 128 * 1024
	MaxInterfaceLength        = 64 * 1024
)

// DefaultMaxIterators bounds the open iterators of one environment.
const DefaultMaxIterators = 32

// Config configures a Runtime.
type Config struct {
	Engine engine.Config `toml:"engine"`
	Cache  cache.Config  `toml:"cache"`
	Costs  gas.Costs     `toml:"costs"`

	// MaxCallDepth is the number of nested dynamic link calls allowed
	// above the top-level contract.
	MaxCallDepth int `toml:"max_call_depth"`

	// MaxIterators bounds the storage iterators a contract may hold open.
	MaxIterators int `toml:"max_iterators"`

	// PrintDebug logs guest debug messages at info level instead of debug.
	PrintDebug bool `toml:"print_debug"`

	// Observer receives call and link events. Optional.
	Observer Observer `toml:"-"`
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		Engine:       engine.DefaultConfig(),
		Cache:        cache.Config{MaxEntries: cache.DefaultMaxEntries},
		Costs:        gas.DefaultCosts(),
		MaxCallDepth: linker.DefaultMaxDepth,
		MaxIterators: DefaultMaxIterators,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = linker.DefaultMaxDepth
	}
	if c.MaxIterators <= 0 {
		c.MaxIterators = DefaultMaxIterators
	}
	if c.Costs == (gas.Costs{}) {
		c.Costs = gas.DefaultCosts()
	}
	return c
}
