package contractvm

// Memory is the view of guest linear memory the host works through.
// wazero's api.Memory satisfies it.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	ReadUint32Le(offset uint32) (uint32, bool)
	WriteUint32Le(offset, v uint32) bool
}

// Allocator places host buffers into guest memory and returns the Region
// pointer describing them.
type Allocator interface {
	Allocate(size uint32) (uint32, error)
	Deallocate(ptr uint32) error
}
