package bytecode

import (
	"fmt"
)

// Default names of the globals injected by Instrument.
const (
	GasLeftExport   = "__gas_left"
	ExhaustedExport = "__gas_exhausted"
)

// CostFunc prices a single instruction.
type CostFunc func(in Instr) uint64

// DefaultCost charges one unit per instruction, with surcharges for calls
// and memory growth.
func DefaultCost(in Instr) uint64 {
	switch in.Op {
	case OpCall, OpCallIndirect:
		return 5
	case OpMemoryGrow:
		return 1_000
	case OpPrefixFC:
		if in.Sub >= 8 {
			return 100
		}
	}
	return 1
}

// InstrumentOptions configures Instrument.
type InstrumentOptions struct {
	Cost CostFunc
	// RenameImport may move a function import to another module name.
	RenameImport func(imp Import) (string, bool)
}

// Instrument injects gas metering into every function body and returns the
// re-encoded module.
//
// Two mutable globals are appended and exported: an i64 gas counter
// (GasLeftExport) and an i32 exhaustion flag (ExhaustedExport). Every
// straight-line segment of code is preceded by a check that subtracts the
// segment's cost from the counter, or sets the flag, zeroes the counter and
// traps when the counter is too low. The host keeps the counter in sync
// with its meter at every boundary crossing.
func Instrument(m *Module, opts InstrumentOptions) ([]byte, error) {
	if opts.Cost == nil {
		opts.Cost = DefaultCost
	}
	for _, name := range []string{GasLeftExport, ExhaustedExport} {
		if _, ok := m.Export(name); ok {
			return nil, fmt.Errorf("export %q is reserved", name)
		}
	}

	gasIdx := uint32(m.TotalGlobals())
	flagIdx := gasIdx + 1

	out := append([]byte(nil), header...)
	wroteGlobals, wroteExports := false, false
	for _, s := range m.Sections {
		if s.ID != SectionCustom {
			if !wroteGlobals && rank(s.ID) > rank(SectionGlobal) {
				out = appendSection(out, SectionGlobal, globalPayload(nil, 0))
				wroteGlobals = true
			}
			if !wroteExports && rank(s.ID) > rank(SectionExport) {
				out = appendSection(out, SectionExport, exportPayload(nil, 0, gasIdx, flagIdx))
				wroteExports = true
			}
		}
		switch s.ID {
		case SectionImport:
			payload := s.Payload
			if opts.RenameImport != nil {
				payload = importPayload(m.Imports, opts.RenameImport)
			}
			out = appendSection(out, s.ID, payload)
		case SectionGlobal:
			out = appendSection(out, s.ID, globalPayload(s.Payload, len(m.Globals)))
			wroteGlobals = true
		case SectionExport:
			out = appendSection(out, s.ID, exportPayload(s.Payload, len(m.Exports), gasIdx, flagIdx))
			wroteExports = true
		case SectionCode:
			payload, err := codePayload(m.Bodies, opts.Cost, gasIdx, flagIdx)
			if err != nil {
				return nil, err
			}
			out = appendSection(out, s.ID, payload)
		default:
			out = appendSection(out, s.ID, s.Payload)
		}
	}
	if !wroteGlobals {
		out = appendSection(out, SectionGlobal, globalPayload(nil, 0))
	}
	if !wroteExports {
		out = appendSection(out, SectionExport, exportPayload(nil, 0, gasIdx, flagIdx))
	}
	return out, nil
}

// rank orders non-custom sections as the binary format requires.
func rank(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	}
	return 0
}

// globalPayload rewrites a global section with the two metering globals
// appended.
func globalPayload(orig []byte, count int) []byte {
	out := AppendULEB128(nil, uint32(count+2))
	if orig != nil {
		r := newReader(orig, 0)
		_, _ = r.u32()
		out = append(out, orig[r.pos:]...)
	}
	out = append(out, byte(I64), 0x01, OpI64Const, 0x00, OpEnd)
	out = append(out, byte(I32), 0x01, OpI32Const, 0x00, OpEnd)
	return out
}

func exportPayload(orig []byte, count int, gasIdx, flagIdx uint32) []byte {
	out := AppendULEB128(nil, uint32(count+2))
	if orig != nil {
		r := newReader(orig, 0)
		_, _ = r.u32()
		out = append(out, orig[r.pos:]...)
	}
	out = appendName(out, GasLeftExport)
	out = append(out, KindGlobal)
	out = AppendULEB128(out, gasIdx)
	out = appendName(out, ExhaustedExport)
	out = append(out, KindGlobal)
	out = AppendULEB128(out, flagIdx)
	return out
}

func importPayload(imports []Import, rename func(Import) (string, bool)) []byte {
	out := AppendULEB128(nil, uint32(len(imports)))
	for _, imp := range imports {
		module := imp.Module
		if imp.Kind == KindFunc {
			if renamed, ok := rename(imp); ok {
				module = renamed
			}
		}
		out = appendName(out, module)
		out = appendName(out, imp.Name)
		out = append(out, imp.desc...)
	}
	return out
}

func codePayload(bodies []Body, cost CostFunc, gasIdx, flagIdx uint32) ([]byte, error) {
	out := AppendULEB128(nil, uint32(len(bodies)))
	for i, body := range bodies {
		expr, err := meterBody(body, cost, gasIdx, flagIdx)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		fn := append(append([]byte(nil), body.localsRaw...), expr...)
		out = AppendULEB128(out, uint32(len(fn)))
		out = append(out, fn...)
	}
	return out, nil
}

// meterBody splits a body into straight-line segments and prefixes each with
// a charge for its total cost. A segment ends after any instruction that
// starts, ends or leaves a block, or calls out.
func meterBody(body Body, cost CostFunc, gasIdx, flagIdx uint32) ([]byte, error) {
	var out, segment []byte
	var segCost uint64
	flush := func() {
		if len(segment) == 0 {
			return
		}
		out = appendCharge(out, segCost, gasIdx, flagIdx)
		out = append(out, segment...)
		segment = segment[:0]
		segCost = 0
	}
	err := Scan(body, func(in Instr) error {
		segment = append(segment, body.Expr[in.Start:in.End]...)
		segCost += cost(in)
		if endsSegment(in.Op) {
			flush()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	flush()
	return out, nil
}

func endsSegment(op byte) bool {
	switch op {
	case OpUnreachable, OpBlock, OpLoop, OpIf, OpElse, OpEnd,
		OpBr, OpBrIf, OpBrTable, OpReturn, OpCall, OpCallIndirect:
		return true
	}
	return false
}

func appendCharge(out []byte, c uint64, gasIdx, flagIdx uint32) []byte {
	out = append(out, OpGlobalGet)
	out = AppendULEB128(out, gasIdx)
	out = append(out, OpI64Const)
	out = AppendSLEB128(out, int64(c))
	out = append(out, OpI64LtU, OpIf, BlockVoid)
	out = append(out, OpI64Const, 0x00, OpGlobalSet)
	out = AppendULEB128(out, gasIdx)
	out = append(out, OpI32Const, 0x01, OpGlobalSet)
	out = AppendULEB128(out, flagIdx)
	out = append(out, OpUnreachable, OpEnd)
	out = append(out, OpGlobalGet)
	out = AppendULEB128(out, gasIdx)
	out = append(out, OpI64Const)
	out = AppendSLEB128(out, int64(c))
	out = append(out, OpI64Sub, OpGlobalSet)
	out = AppendULEB128(out, gasIdx)
	return out
}
