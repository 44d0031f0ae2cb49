package vmtest

import (
	"encoding/binary"
	"encoding/json"
	"strconv"

	"github.com/wippyai/contract-vm/internal/bytecode"
)

const (
	i32 = bytecode.I32
	i64 = bytecode.I64
)

// HeapStart is where the bump allocator of every fixture begins. Static data
// lives below it.
const HeapStart = 1024

// Contract assembles a module that follows the contract ABI: an exported
// memory, a bump allocate/deallocate pair and an interface version marker.
// Declare every import before the first function.
type Contract struct {
	b        *bytecode.Builder
	heap     uint32
	versions []int
	sealed   bool
	points   map[string]pointJSON
	links    map[string]string
	memPages uint32
}

type pointJSON struct {
	Signature      string   `json:"signature"`
	ReadOnly       bool     `json:"read_only"`
	AllowedCallers []string `json:"allowed_callers,omitempty"`
}

// NewContract starts a contract with interface version 1.
func NewContract() *Contract {
	c := &Contract{
		b:        bytecode.NewBuilder(),
		versions: []int{1},
		points:   map[string]pointJSON{},
		links:    map[string]string{},
		memPages: 1,
	}
	c.heap = c.b.Global(i32, true, HeapStart)
	return c
}

// Versions replaces the interface version markers. No argument removes them.
func (c *Contract) Versions(v ...int) *Contract {
	c.versions = v
	return c
}

// MemoryPages sets the initial memory size.
func (c *Contract) MemoryPages(n uint32) *Contract {
	c.memPages = n
	return c
}

// Builder exposes the underlying builder for raw sections.
func (c *Contract) Builder() *bytecode.Builder {
	return c.b
}

// Import declares a function import and returns its index.
func (c *Contract) Import(module, name string, params, results []bytecode.ValType) uint32 {
	return c.b.ImportFunc(module, name, params, results)
}

// Env declares an env host import.
func (c *Contract) Env(name string, params, results []bytecode.ValType) uint32 {
	return c.Import("env", name, params, results)
}

// Link declares a dynamic link import taking the callee address region and
// nargs regions and returning a region. sig, when set, is recorded as the
// expected WIT signature.
func (c *Contract) Link(namespace, point string, nargs int, sig string) uint32 {
	params := make([]bytecode.ValType, nargs+1)
	for i := range params {
		params[i] = i32
	}
	module := "dynamiclinked_" + namespace
	if sig != "" {
		c.links[module+"."+point] = sig
	}
	return c.Import(module, point, params, []bytecode.ValType{i32})
}

func (c *Contract) seal() {
	if c.sealed {
		return
	}
	c.sealed = true
	for _, v := range c.versions {
		c.Import("env", "interface_version_"+strconv.Itoa(v), nil, nil)
	}

	// allocate(size): reserve a 12 byte region descriptor followed by size
	// bytes, growing memory as needed.
	const size, ptr = 0, 1
	alloc := c.b.Func([]bytecode.ValType{i32}, []bytecode.ValType{i32}, []bytecode.ValType{i32},
		bytecode.GlobalGet(c.heap), bytecode.LocalSet(ptr),
		bytecode.Block(), bytecode.Loop(),
		bytecode.LocalGet(ptr), bytecode.I32Const(12), bytecode.Ops(bytecode.OpI32Add),
		bytecode.LocalGet(size), bytecode.Ops(bytecode.OpI32Add),
		bytecode.MemorySize(), bytecode.I32Const(16), bytecode.Ops(bytecode.OpI32Shl),
		bytecode.Ops(bytecode.OpI32LeU),
		bytecode.BrIf(1),
		bytecode.I32Const(1), bytecode.MemoryGrow(), bytecode.I32Const(-1), bytecode.Ops(bytecode.OpI32Eq),
		bytecode.If(), bytecode.Ops(bytecode.OpUnreachable, bytecode.OpEnd),
		bytecode.Br(0),
		bytecode.Ops(bytecode.OpEnd, bytecode.OpEnd),
		bytecode.LocalGet(ptr), bytecode.LocalGet(ptr), bytecode.I32Const(12), bytecode.Ops(bytecode.OpI32Add), bytecode.I32Store(0),
		bytecode.LocalGet(ptr), bytecode.LocalGet(size), bytecode.I32Store(4),
		bytecode.LocalGet(ptr), bytecode.I32Const(0), bytecode.I32Store(8),
		bytecode.LocalGet(ptr), bytecode.I32Const(12), bytecode.Ops(bytecode.OpI32Add),
		bytecode.LocalGet(size), bytecode.Ops(bytecode.OpI32Add), bytecode.GlobalSet(c.heap),
		bytecode.LocalGet(ptr),
	)
	dealloc := c.b.Func([]bytecode.ValType{i32}, nil, nil)
	c.b.ExportFunc("allocate", alloc).ExportFunc("deallocate", dealloc)
}

// Func defines an unexported function.
func (c *Contract) Func(params, results, locals []bytecode.ValType, body ...[]byte) uint32 {
	c.seal()
	return c.b.Func(params, results, locals, body...)
}

// Entry defines and exports an entry point taking nargs region pointers and
// returning a region pointer.
func (c *Contract) Entry(name string, nargs int, locals []bytecode.ValType, body ...[]byte) uint32 {
	params := make([]bytecode.ValType, nargs)
	for i := range params {
		params[i] = i32
	}
	idx := c.Func(params, []bytecode.ValType{i32}, locals, body...)
	c.b.ExportFunc(name, idx)
	return idx
}

// Export exports an already defined function.
func (c *Contract) Export(name string, idx uint32) *Contract {
	c.b.ExportFunc(name, idx)
	return c
}

// CallablePoint declares an exported function as a callable point.
func (c *Contract) CallablePoint(name, signature string, readOnly bool, callers ...string) *Contract {
	c.points[name] = pointJSON{Signature: signature, ReadOnly: readOnly, AllowedCallers: callers}
	return c
}

// Data places static bytes below HeapStart.
func (c *Contract) Data(offset uint32, b []byte) *Contract {
	c.b.Data(offset, b)
	return c
}

// StaticRegion writes a region descriptor at ptr describing data stored at
// dataOffset.
func (c *Contract) StaticRegion(ptr, dataOffset uint32, data []byte) *Contract {
	desc := make([]byte, 12)
	binary.LittleEndian.PutUint32(desc[0:], dataOffset)
	binary.LittleEndian.PutUint32(desc[4:], uint32(len(data)))
	binary.LittleEndian.PutUint32(desc[8:], uint32(len(data)))
	c.b.Data(ptr, desc)
	if len(data) > 0 {
		c.b.Data(dataOffset, data)
	}
	return c
}

// Bytes encodes the module. Call it once.
func (c *Contract) Bytes() []byte {
	c.seal()
	c.b.Memory(c.memPages, "memory")
	if len(c.points) > 0 || len(c.links) > 0 {
		manifest := map[string]any{}
		if len(c.points) > 0 {
			manifest["callable_points"] = c.points
		}
		if len(c.links) > 0 {
			manifest["imports"] = c.links
		}
		data, err := json.Marshal(manifest)
		if err != nil {
			panic(err)
		}
		c.b.Custom("contractvm.dynamic_link", data)
	}
	return c.b.Bytes()
}
