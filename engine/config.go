package engine

import (
	"github.com/wippyai/contract-vm/internal/bytecode"
)

// Capability is a group of host imports a contract may use.
type Capability string

const (
	CapStorage     Capability = "storage"
	CapQuery       Capability = "query"
	CapCrypto      Capability = "crypto"
	CapDynamicLink Capability = "dynamic_link"
	CapDebug       Capability = "debug"
)

// AllCapabilities is the closed capability set.
var AllCapabilities = []Capability{CapStorage, CapQuery, CapCrypto, CapDynamicLink, CapDebug}

// Names of the exports the host relies on.
const (
	ExportMemory     = "memory"
	ExportAllocate   = "allocate"
	ExportDeallocate = "deallocate"
)

// Entry points a contract may export. EntryInstantiate is required.
const (
	EntryInstantiate = "instantiate"
	EntryExecute     = "execute"
	EntryQuery       = "query"
	EntryMigrate     = "migrate"
)

// Entries lists every top-level entry point.
var Entries = []string{EntryInstantiate, EntryExecute, EntryQuery, EntryMigrate}

// VersionPrefix prefixes the env import that marks a contract's interface
// version.
const VersionPrefix = "interface_version_"

// HostModule is the import module of the host functions.
const HostModule = "env"

// Config holds engine configuration.
type Config struct {
	// MemoryLimitPages caps every instance's memory in 64 KiB pages and
	// bounds the initial memory a contract may declare.
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`

	// SupportedVersions are the interface versions accepted by compile and
	// instantiate.
	SupportedVersions []int `toml:"supported_versions"`

	// Capabilities are the host import groups contracts may use.
	Capabilities []Capability `toml:"capabilities"`

	// EnableIterators allows db_scan and db_next.
	EnableIterators bool `toml:"enable_iterators"`

	// AllowFloats admits floating point instructions and types.
	AllowFloats bool `toml:"allow_floats"`

	MaxImports   int `toml:"max_imports"`
	MaxFunctions int `toml:"max_functions"`
	MaxExports   int `toml:"max_exports"`

	// CompilationCacheDir, when set, persists wazero's native code across
	// processes.
	CompilationCacheDir string `toml:"compilation_cache_dir"`

	// Cost prices guest instructions. Nil uses bytecode.DefaultCost.
	Cost bytecode.CostFunc `toml:"-"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MemoryLimitPages:  512,
		SupportedVersions: []int{1},
		Capabilities:      append([]Capability(nil), AllCapabilities...),
		EnableIterators:   true,
		MaxImports:        100,
		MaxFunctions:      20_000,
		MaxExports:        100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MemoryLimitPages == 0 {
		c.MemoryLimitPages = d.MemoryLimitPages
	}
	if len(c.SupportedVersions) == 0 {
		c.SupportedVersions = d.SupportedVersions
	}
	if c.Capabilities == nil {
		c.Capabilities = d.Capabilities
	}
	if c.MaxImports == 0 {
		c.MaxImports = d.MaxImports
	}
	if c.MaxFunctions == 0 {
		c.MaxFunctions = d.MaxFunctions
	}
	if c.MaxExports == 0 {
		c.MaxExports = d.MaxExports
	}
	if c.Cost == nil {
		c.Cost = bytecode.DefaultCost
	}
	return c
}

func (c Config) hasCapability(want Capability) bool {
	for _, have := range c.Capabilities {
		if have == want {
			return true
		}
	}
	return false
}

func (c Config) supportsVersion(v int) bool {
	for _, s := range c.SupportedVersions {
		if s == v {
			return true
		}
	}
	return false
}
