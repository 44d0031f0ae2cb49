package gas

// Costs prices host work. Guest instructions are priced by the engine's
// instrumentation; these cover everything the host does on the guest's
// behalf.
type Costs struct {
	HostCall            uint64 `toml:"host_call"`
	StorageRead         uint64 `toml:"storage_read"`
	StorageWrite        uint64 `toml:"storage_write"`
	StorageRemove       uint64 `toml:"storage_remove"`
	StorageReadPerByte  uint64 `toml:"storage_read_per_byte"`
	StorageWritePerByte uint64 `toml:"storage_write_per_byte"`
	IteratorNext        uint64 `toml:"iterator_next"`
	AddrValidate        uint64 `toml:"addr_validate"`
	AddrCanonicalize    uint64 `toml:"addr_canonicalize"`
	AddrHumanize        uint64 `toml:"addr_humanize"`
	Secp256k1Verify     uint64 `toml:"secp256k1_verify"`
	Secp256k1Recover    uint64 `toml:"secp256k1_recover"`
	Ed25519Verify       uint64 `toml:"ed25519_verify"`
	Debug               uint64 `toml:"debug"`
	DynamicLink         uint64 `toml:"dynamic_link"`
	RegionCopyPerByte   uint64 `toml:"region_copy_per_byte"`
}

// DefaultCosts returns the default host price list, in the same units as
// one guest instruction.
func DefaultCosts() Costs {
	return Costs{
		HostCall:            100,
		StorageRead:         1_000,
		StorageWrite:        2_000,
		StorageRemove:       1_000,
		StorageReadPerByte:  3,
		StorageWritePerByte: 30,
		IteratorNext:        500,
		AddrValidate:        400,
		AddrCanonicalize:    400,
		AddrHumanize:        400,
		Secp256k1Verify:     154_000,
		Secp256k1Recover:    162_000,
		Ed25519Verify:       63_000,
		Debug:               0,
		DynamicLink:         5_000,
		RegionCopyPerByte:   1,
	}
}

// PerByte returns base + perByte*n.
func PerByte(base, perByte uint64, n int) uint64 {
	return base + perByte*uint64(n)
}
