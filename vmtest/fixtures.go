package vmtest

import (
	"github.com/wippyai/contract-vm/internal/bytecode"
)

// Static layout shared by the fixtures. Region descriptors sit at fixed
// pointers; their data lives further up, below HeapStart.
const (
	addrRegion   = 16
	keyRegion    = 32
	resultRegion = 48
	addrData     = 256
	keyData      = 512
	resultData   = 768
)

var (
	one   = []bytecode.ValType{i32}
	two   = []bytecode.ValType{i32, i32}
	three = []bytecode.ValType{i32, i32, i32}
)

// BytesSignature is the WIT signature of a bytes-to-bytes callable point.
const BytesSignature = "func(data: list<u8>) -> list<u8>"

func ops(b ...byte) []byte { return bytecode.Ops(b...) }

// Echo returns every message unchanged from instantiate, execute, query and
// migrate.
func Echo() []byte {
	c := NewContract()
	for _, entry := range []string{"instantiate", "execute", "query", "migrate"} {
		c.Entry(entry, 1, nil, bytecode.LocalGet(0))
	}
	return c.Bytes()
}

// Store writes the execute message under key and returns it from query.
func Store(key string) []byte {
	c := NewContract()
	write := c.Env("db_write", two, nil)
	read := c.Env("db_read", one, one)
	c.StaticRegion(keyRegion, keyData, []byte(key))
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, nil,
		bytecode.I32Const(keyRegion), bytecode.LocalGet(0), bytecode.Call(write),
		bytecode.I32Const(0))
	c.Entry("query", 1, nil,
		bytecode.I32Const(keyRegion), bytecode.Call(read))
	return c.Bytes()
}

// WriteInQuery attempts a storage write from its query entry point.
func WriteInQuery() []byte {
	c := NewContract()
	write := c.Env("db_write", two, nil)
	c.StaticRegion(keyRegion, keyData, []byte("k"))
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("query", 1, nil,
		bytecode.I32Const(keyRegion), bytecode.LocalGet(0), bytecode.Call(write),
		bytecode.I32Const(0))
	return c.Bytes()
}

// Loop spins forever in execute.
func Loop() []byte {
	c := NewContract()
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, nil,
		bytecode.Loop(), bytecode.Br(0), ops(bytecode.OpEnd),
		bytecode.I32Const(0))
	return c.Bytes()
}

// Trap executes unreachable in execute.
func Trap() []byte {
	c := NewContract()
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, nil, ops(bytecode.OpUnreachable))
	return c.Bytes()
}

// Abort calls the abort import with msg from execute.
func Abort(msg string) []byte {
	c := NewContract()
	abort := c.Env("abort", one, nil)
	c.StaticRegion(keyRegion, keyData, []byte(msg))
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, nil,
		bytecode.I32Const(keyRegion), bytecode.Call(abort),
		bytecode.I32Const(0))
	return c.Bytes()
}

// BadResult returns ptr, which is not a valid region, from execute.
func BadResult(ptr int32) []byte {
	c := NewContract()
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, nil, bytecode.I32Const(ptr))
	return c.Bytes()
}

// ResultMode selects how Forward returns the value of the host import.
type ResultMode int

const (
	// ResultRegion returns the import's i32 result as the region pointer.
	ResultRegion ResultMode = iota
	// ResultCode stores the import's i32 result as 4 little-endian bytes.
	ResultCode
	// ResultPacked returns the low 32 bits of the import's i64 result.
	ResultPacked
	// ResultNone returns no data.
	ResultNone
)

// Forward passes the nargs region pointers given to execute straight to
// the env import name.
func Forward(name string, nargs int, mode ResultMode) []byte {
	c := NewContract()
	params := make([]bytecode.ValType, nargs)
	for i := range params {
		params[i] = i32
	}
	var results []bytecode.ValType
	switch mode {
	case ResultRegion, ResultCode:
		results = one
	case ResultPacked:
		results = []bytecode.ValType{i64}
	}
	fn := c.Env(name, params, results)
	c.StaticRegion(resultRegion, resultData, make([]byte, 4))

	var body [][]byte
	if mode == ResultCode {
		body = append(body, bytecode.I32Const(resultData))
	}
	for i := range nargs {
		body = append(body, bytecode.LocalGet(uint32(i)))
	}
	body = append(body, bytecode.Call(fn))
	switch mode {
	case ResultCode:
		body = append(body, bytecode.I32Store(0), bytecode.I32Const(resultRegion))
	case ResultPacked:
		body = append(body, ops(bytecode.OpI32WrapI64))
	case ResultNone:
		body = append(body, bytecode.I32Const(0))
	}
	c.Entry("instantiate", nargs, nil, bytecode.I32Const(0))
	c.Entry("execute", nargs, nil, body...)
	c.Entry("query", nargs, nil, body...)
	return c.Bytes()
}

// ScanCount opens an iterator over the whole store in order and returns the
// number of entries as 4 little-endian bytes.
func ScanCount(order int32) []byte {
	c := NewContract()
	scan := c.Env("db_scan", three, one)
	next := c.Env("db_next", one, one)
	c.StaticRegion(resultRegion, resultData, make([]byte, 4))
	const id, n = 1, 2
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, two,
		bytecode.I32Const(0), bytecode.I32Const(0), bytecode.I32Const(order), bytecode.Call(scan), bytecode.LocalSet(id),
		bytecode.Block(), bytecode.Loop(),
		bytecode.LocalGet(id), bytecode.Call(next), bytecode.I32Load(8), ops(bytecode.OpI32Eqz), bytecode.BrIf(1),
		bytecode.LocalGet(n), bytecode.I32Const(1), ops(bytecode.OpI32Add), bytecode.LocalSet(n),
		bytecode.Br(0),
		ops(bytecode.OpEnd, bytecode.OpEnd),
		bytecode.I32Const(resultData), bytecode.LocalGet(n), bytecode.I32Store(0),
		bytecode.I32Const(resultRegion))
	return c.Bytes()
}

// ScanFirst returns the first db_next record of a scan over the whole store.
func ScanFirst(order int32) []byte {
	c := NewContract()
	scan := c.Env("db_scan", three, one)
	next := c.Env("db_next", one, one)
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, nil,
		bytecode.I32Const(0), bytecode.I32Const(0), bytecode.I32Const(order), bytecode.Call(scan),
		bytecode.Call(next))
	return c.Bytes()
}

// RelayOptions configure Relay.
type RelayOptions struct {
	// Next is the address to relay to; empty makes the contract a leaf.
	Next string
	// Key is the storage key written after a successful relay.
	Key string
	// ReadOnly declares the relay callable point read-only.
	ReadOnly bool
	// Callers is the allow-list of the relay point; nil allows everyone.
	Callers []string
}

// Relay exports execute and a "relay" callable point with the same body.
// A leaf writes its argument under Key and returns it. Otherwise the
// argument is relayed to Next's relay point, and the result is written and
// returned once that call succeeds.
func Relay(opts RelayOptions) []byte {
	c := NewContract()
	write := c.Env("db_write", two, nil)
	var link uint32
	if opts.Next != "" {
		link = c.Link("relay", "relay", 1, BytesSignature)
		c.StaticRegion(addrRegion, addrData, []byte(opts.Next))
	}
	if opts.Key == "" {
		opts.Key = "relay"
	}
	c.StaticRegion(keyRegion, keyData, []byte(opts.Key))

	const arg, res = 0, 1
	var body [][]byte
	if opts.Next != "" {
		body = append(body,
			bytecode.I32Const(addrRegion), bytecode.LocalGet(arg), bytecode.Call(link), bytecode.LocalSet(res))
	} else {
		body = append(body, bytecode.LocalGet(arg), bytecode.LocalSet(res))
	}
	body = append(body,
		bytecode.I32Const(keyRegion), bytecode.LocalGet(res), bytecode.Call(write),
		bytecode.LocalGet(res))

	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, one, body...)
	c.Entry("relay", 1, one, body...)

	callers := opts.Callers
	if callers == nil {
		callers = []string{"*"}
	}
	c.CallablePoint("relay", BytesSignature, opts.ReadOnly, callers...)
	return c.Bytes()
}

// ArityCaller calls target's relay point with two regions although relay
// takes one.
func ArityCaller(target string) []byte {
	c := NewContract()
	link := c.Link("relay", "relay", 2, "")
	c.StaticRegion(addrRegion, addrData, []byte(target))
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, nil,
		bytecode.I32Const(addrRegion), bytecode.LocalGet(0), bytecode.LocalGet(0), bytecode.Call(link))
	return c.Bytes()
}

// WhoAmI exposes a read-only "whoami" point returning its caller's address.
func WhoAmI() []byte {
	c := NewContract()
	caller := c.Env("get_caller_addr", nil, one)
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("query", 1, nil, bytecode.Call(caller))
	idx := c.Func(nil, one, nil, bytecode.Call(caller))
	c.Export("whoami", idx)
	c.CallablePoint("whoami", "func() -> string", true, "*")
	return c.Bytes()
}

// AskWhoAmI calls target's whoami point from execute and query.
func AskWhoAmI(target string) []byte {
	c := NewContract()
	link := c.Import("dynamiclinked_who", "whoami", one, one)
	c.links["dynamiclinked_who.whoami"] = "func() -> string"
	c.StaticRegion(addrRegion, addrData, []byte(target))
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, nil, bytecode.I32Const(addrRegion), bytecode.Call(link))
	c.Entry("query", 1, nil, bytecode.I32Const(addrRegion), bytecode.Call(link))
	return c.Bytes()
}

// CheckInterface asks the host whether target implements the interface
// given as the execute message and returns the error region, if any.
func CheckInterface(target string) []byte {
	c := NewContract()
	validate := c.Env("validate_dynamic_link_interface", two, one)
	c.StaticRegion(addrRegion, addrData, []byte(target))
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("execute", 1, nil,
		bytecode.I32Const(addrRegion), bytecode.LocalGet(0), bytecode.Call(validate))
	return c.Bytes()
}

// Spin exports a "relay" callable point that loops until gas runs out.
func Spin() []byte {
	c := NewContract()
	c.Entry("instantiate", 1, nil, bytecode.I32Const(0))
	c.Entry("relay", 1, nil,
		bytecode.Loop(), bytecode.Br(0), ops(bytecode.OpEnd),
		bytecode.I32Const(0))
	c.CallablePoint("relay", BytesSignature, false, "*")
	return c.Bytes()
}
