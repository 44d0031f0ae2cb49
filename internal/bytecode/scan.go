package bytecode

import (
	"fmt"
)

// UnsupportedError reports an instruction outside the deterministic subset
// the VM accepts.
type UnsupportedError struct {
	Opcode string
	Offset int
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported instruction %s at offset %d", e.Opcode, e.Offset)
}

// Instr is one decoded instruction.
type Instr struct {
	Op  byte
	Sub uint32 // sub-opcode of 0xFC prefixed instructions
	// Index is the first index immediate (function, global, local, label).
	Index uint32
	Start int
	End   int
}

// Float reports whether the instruction operates on floating point values.
func (in Instr) Float() bool {
	switch {
	case in.Op == 0x2A || in.Op == 0x2B || in.Op == 0x38 || in.Op == 0x39:
		return true // loads and stores
	case in.Op == OpF32Const || in.Op == OpF64Const:
		return true
	case in.Op >= 0x5B && in.Op <= 0x66:
		return true // comparisons
	case in.Op >= 0x8B && in.Op <= 0xA6:
		return true // arithmetic
	case in.Op >= 0xA8 && in.Op <= 0xAB, in.Op >= 0xAE && in.Op <= 0xBF:
		return true // conversions and reinterpretations
	case in.Op == OpPrefixFC && in.Sub <= 7:
		return true // saturating truncation
	}
	return false
}

// next decodes the instruction at r's position.
func next(r *reader) (Instr, error) {
	in := Instr{Start: r.pos}
	op, err := r.byte()
	if err != nil {
		return in, err
	}
	in.Op = op
	if err := immediates(r, &in); err != nil {
		return in, err
	}
	in.End = r.pos
	return in, nil
}

func immediates(r *reader, in *Instr) error {
	var err error
	switch op := in.Op; {
	case op == OpUnreachable, op == OpNop, op == OpElse, op == OpEnd, op == OpReturn,
		op == OpDrop, op == OpSelect, op == OpRefIsNull:
		return nil
	case op == OpBlock, op == OpLoop, op == OpIf:
		return blockType(r)
	case op == OpBr, op == OpBrIf, op == OpCall, op == OpRefFunc,
		op >= OpLocalGet && op <= OpTableSet:
		in.Index, err = r.u32()
		return err
	case op == OpBrTable:
		n, err := r.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i <= n; i++ {
			if _, err := r.u32(); err != nil {
				return err
			}
		}
		return nil
	case op == OpCallIndirect:
		if in.Index, err = r.u32(); err != nil {
			return err
		}
		_, err = r.u32()
		return err
	case op == OpSelectTyped:
		n, err := r.u32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := r.valType(); err != nil {
				return err
			}
		}
		return nil
	case op >= 0x28 && op <= 0x3E:
		align, err := r.u32()
		if err != nil {
			return err
		}
		if align&0x40 != 0 {
			return unsupported(r, in, "multi-memory access")
		}
		_, err = r.u32()
		return err
	case op == OpMemorySize, op == OpMemoryGrow:
		idx, err := r.byte()
		if err != nil {
			return err
		}
		if idx != 0 {
			return unsupported(r, in, "multi-memory access")
		}
		return nil
	case op == OpI32Const:
		_, err = r.sleb(32)
		return err
	case op == OpI64Const:
		_, err = r.sleb(64)
		return err
	case op == OpF32Const:
		_, err = r.bytes(4)
		return err
	case op == OpF64Const:
		_, err = r.bytes(8)
		return err
	case op >= OpI32Eqz && op <= 0xC4:
		return nil
	case op == OpRefNull:
		_, err = r.byte()
		return err
	case op == OpPrefixFC:
		return prefixedFC(r, in)
	case op == OpPrefixSIMD:
		return unsupported(r, in, "simd")
	case op == OpPrefixAtomic:
		return unsupported(r, in, "threads")
	case op >= 0x06 && op <= 0x0A, op == 0x18, op == 0x19, op == 0x1F:
		return unsupported(r, in, fmt.Sprintf("exception handling 0x%02x", op))
	case op == 0x12, op == 0x13, op == 0x14, op == 0x15:
		return unsupported(r, in, fmt.Sprintf("tail or typed call 0x%02x", op))
	default:
		return r.errorf("invalid opcode 0x%02x", op)
	}
}

func prefixedFC(r *reader, in *Instr) error {
	sub, err := r.u32()
	if err != nil {
		return err
	}
	in.Sub = sub
	switch {
	case sub <= 7:
		return nil
	case sub == 8: // memory.init
		if in.Index, err = r.u32(); err != nil {
			return err
		}
		_, err = r.byte()
		return err
	case sub == 9, sub == 13, sub == 15, sub == 16, sub == 17: // data.drop, elem.drop, table.grow/size/fill
		in.Index, err = r.u32()
		return err
	case sub == 10: // memory.copy
		if _, err = r.byte(); err != nil {
			return err
		}
		_, err = r.byte()
		return err
	case sub == 11: // memory.fill
		_, err = r.byte()
		return err
	case sub == 12, sub == 14: // table.init, table.copy
		if in.Index, err = r.u32(); err != nil {
			return err
		}
		_, err = r.u32()
		return err
	}
	return unsupported(r, in, fmt.Sprintf("0xfc %d", sub))
}

func blockType(r *reader) error {
	if r.pos >= len(r.buf) {
		return r.errorf("unexpected end")
	}
	b := r.buf[r.pos]
	if b == BlockVoid || validValType(b) {
		r.pos++
		return nil
	}
	_, err := r.sleb(33)
	return err
}

func unsupported(r *reader, in *Instr, what string) error {
	return &UnsupportedError{Opcode: what, Offset: r.base + in.Start}
}

// Scan walks a function body's instructions in order. It stops at the
// first decoding error or the first error returned by fn.
func Scan(body Body, fn func(Instr) error) error {
	r := newReader(body.Expr, body.offset)
	depth := 1
	for !r.done() {
		in, err := next(r)
		if err != nil {
			return err
		}
		switch in.Op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			depth--
		}
		if err := fn(in); err != nil {
			return err
		}
		if depth == 0 {
			if !r.done() {
				return r.errorf("trailing bytes after function end")
			}
			return nil
		}
	}
	return r.errorf("function body without end")
}

// Facts are properties of a module found by scanning every body.
type Facts struct {
	UsesFloat     bool
	Instructions  int
	MaxGlobalRef  int
	HasMemoryGrow bool
}

// Analyze scans every function body and global of m.
func Analyze(m *Module) (Facts, error) {
	f := Facts{MaxGlobalRef: -1}
	for _, t := range m.Types {
		if t.UsesFloat() {
			f.UsesFloat = true
		}
	}
	for _, g := range m.Globals {
		if g.Type.IsFloat() {
			f.UsesFloat = true
		}
	}
	for _, imp := range m.Imports {
		if imp.Kind == KindGlobal && imp.Global.Type.IsFloat() {
			f.UsesFloat = true
		}
	}
	for i, body := range m.Bodies {
		for _, l := range body.Locals {
			if l.Type.IsFloat() {
				f.UsesFloat = true
			}
		}
		err := Scan(body, func(in Instr) error {
			f.Instructions++
			if in.Float() {
				f.UsesFloat = true
			}
			switch in.Op {
			case OpGlobalGet, OpGlobalSet:
				if int(in.Index) >= m.TotalGlobals() {
					return fmt.Errorf("%w: function %d references global %d of %d", ErrMalformed, i, in.Index, m.TotalGlobals())
				}
				if int(in.Index) > f.MaxGlobalRef {
					f.MaxGlobalRef = int(in.Index)
				}
			case OpMemoryGrow:
				f.HasMemoryGrow = true
			}
			return nil
		})
		if err != nil {
			return f, err
		}
	}
	return f, nil
}
