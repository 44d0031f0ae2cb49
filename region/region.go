package region

import (
	"encoding/binary"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/errors"
)

// Size is the byte length of a Region descriptor in guest memory.
const Size = 12

// Region describes a buffer in guest linear memory. In memory it is three
// little-endian u32 values: offset, capacity, length.
type Region struct {
	Offset   uint32
	Capacity uint32
	Length   uint32
}

// Load reads the descriptor at ptr. The descriptor itself must lie inside
// memory.
func Load(mem contractvm.Memory, ptr uint32) (Region, error) {
	if ptr == 0 {
		return Region{}, errors.New(errors.PhaseRegion, errors.KindOutOfBounds).
			Detail("null region pointer").Build()
	}
	if err := checkSpan(mem, ptr, Size); err != nil {
		return Region{}, err
	}
	raw, ok := mem.Read(ptr, Size)
	if !ok {
		return Region{}, errors.OutOfBounds(uint64(ptr), Size, mem.Size())
	}
	return Region{
		Offset:   binary.LittleEndian.Uint32(raw[0:4]),
		Capacity: binary.LittleEndian.Uint32(raw[4:8]),
		Length:   binary.LittleEndian.Uint32(raw[8:12]),
	}, nil
}

// Store writes the descriptor at ptr.
func Store(mem contractvm.Memory, ptr uint32, r Region) error {
	if err := checkSpan(mem, ptr, Size); err != nil {
		return err
	}
	var raw [Size]byte
	binary.LittleEndian.PutUint32(raw[0:4], r.Offset)
	binary.LittleEndian.PutUint32(raw[4:8], r.Capacity)
	binary.LittleEndian.PutUint32(raw[8:12], r.Length)
	if !mem.Write(ptr, raw[:]) {
		return errors.OutOfBounds(uint64(ptr), Size, mem.Size())
	}
	return nil
}

// Validate checks that the region's data span fits its capacity and guest
// memory.
func (r Region) Validate(memSize uint32) error {
	if r.Length > r.Capacity {
		return errors.New(errors.PhaseRegion, errors.KindOutOfBounds).
			Detail("length %d exceeds capacity %d", r.Length, r.Capacity).
			Build()
	}
	if uint64(r.Offset)+uint64(r.Length) > uint64(memSize) {
		return errors.OutOfBounds(uint64(r.Offset), uint64(r.Length), memSize)
	}
	return nil
}

// Read copies the region's data out of guest memory. Every bound is checked
// before memory is touched. A zero-length region yields an empty, non-nil
// slice.
func Read(mem contractvm.Memory, ptr uint32, maxLength uint32) ([]byte, error) {
	r, err := Load(mem, ptr)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(mem.Size()); err != nil {
		return nil, err
	}
	if r.Length > maxLength {
		return nil, errors.New(errors.PhaseRegion, errors.KindInvalidInput).
			Detail("region length %d exceeds limit %d", r.Length, maxLength).
			Value(r.Length).
			Build()
	}
	if r.Length == 0 {
		return []byte{}, nil
	}
	data, ok := mem.Read(r.Offset, r.Length)
	if !ok {
		return nil, errors.OutOfBounds(uint64(r.Offset), uint64(r.Length), mem.Size())
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ReadOptional is Read with pointer 0 meaning "no value".
func ReadOptional(mem contractvm.Memory, ptr uint32, maxLength uint32) ([]byte, error) {
	if ptr == 0 {
		return nil, nil
	}
	return Read(mem, ptr, maxLength)
}

// Write copies data into the guest buffer described by the region at ptr and
// updates its length. The region must have capacity for data.
func Write(mem contractvm.Memory, ptr uint32, data []byte) error {
	r, err := Load(mem, ptr)
	if err != nil {
		return err
	}
	if uint64(len(data)) > uint64(r.Capacity) {
		return errors.RegionTooSmall(len(data), r.Capacity)
	}
	if uint64(r.Offset)+uint64(len(data)) > uint64(mem.Size()) {
		return errors.OutOfBounds(uint64(r.Offset), uint64(len(data)), mem.Size())
	}
	if len(data) > 0 && !mem.Write(r.Offset, data) {
		return errors.OutOfBounds(uint64(r.Offset), uint64(len(data)), mem.Size())
	}
	if !mem.WriteUint32Le(ptr+8, uint32(len(data))) {
		return errors.OutOfBounds(uint64(ptr)+8, 4, mem.Size())
	}
	return nil
}

func checkSpan(mem contractvm.Memory, offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(mem.Size()) {
		return errors.OutOfBounds(uint64(offset), uint64(length), mem.Size())
	}
	return nil
}

// Put allocates a guest region for data through alloc and fills it. It
// returns the region pointer.
func Put(mem contractvm.Memory, alloc contractvm.Allocator, data []byte) (uint32, error) {
	ptr, err := alloc.Allocate(uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if err := Write(mem, ptr, data); err != nil {
		return 0, err
	}
	return ptr, nil
}
