package bytecode

// Builder assembles small modules. Tests and examples use it to produce
// contracts without an external toolchain.
type Builder struct {
	types    []FuncType
	imports  []builtImport
	funcs    []builtFunc
	memory   *Limits
	memName  string
	globals  []builtGlobal
	exports  []Export
	data     []builtData
	customs  []Custom
	sealedIm bool
}

type builtImport struct {
	module, name string
	typeIdx      uint32
}

type builtFunc struct {
	typeIdx uint32
	locals  []ValType
	body    []byte
}

type builtGlobal struct {
	t       ValType
	mutable bool
	init    int64
}

type builtData struct {
	offset uint32
	bytes  []byte
}

// NewBuilder creates an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(ft FuncType) uint32 {
	for i, t := range b.types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	b.types = append(b.types, ft)
	return uint32(len(b.types) - 1)
}

// ImportFunc declares a function import and returns its function index.
// All imports must be declared before the first Func.
func (b *Builder) ImportFunc(module, name string, params, results []ValType) uint32 {
	if b.sealedIm {
		panic("bytecode: imports must be declared before functions")
	}
	idx := b.typeIndex(FuncType{Params: params, Results: results})
	b.imports = append(b.imports, builtImport{module: module, name: name, typeIdx: idx})
	return uint32(len(b.imports) - 1)
}

// Func defines a function and returns its index. The final end is added.
func (b *Builder) Func(params, results, locals []ValType, body ...[]byte) uint32 {
	b.sealedIm = true
	idx := b.typeIndex(FuncType{Params: params, Results: results})
	var code []byte
	for _, part := range body {
		code = append(code, part...)
	}
	b.funcs = append(b.funcs, builtFunc{typeIdx: idx, locals: locals, body: append(code, OpEnd)})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// ExportFunc exports function idx under name.
func (b *Builder) ExportFunc(name string, idx uint32) *Builder {
	b.exports = append(b.exports, Export{Name: name, Kind: KindFunc, Index: idx})
	return b
}

// ExportGlobal exports global idx under name.
func (b *Builder) ExportGlobal(name string, idx uint32) *Builder {
	b.exports = append(b.exports, Export{Name: name, Kind: KindGlobal, Index: idx})
	return b
}

// Memory defines the module's memory and exports it under name when name is
// not empty.
func (b *Builder) Memory(minPages uint32, name string) *Builder {
	b.memory = &Limits{Min: minPages}
	b.memName = name
	return b
}

// MemoryMax defines a memory with a maximum.
func (b *Builder) MemoryMax(minPages, maxPages uint32, name string) *Builder {
	b.memory = &Limits{Min: minPages, Max: maxPages, HasMax: true}
	b.memName = name
	return b
}

// Global defines an integer global and returns its index.
func (b *Builder) Global(t ValType, mutable bool, init int64) uint32 {
	b.globals = append(b.globals, builtGlobal{t: t, mutable: mutable, init: init})
	return uint32(len(b.globals) - 1)
}

// Data places bytes at a fixed memory offset.
func (b *Builder) Data(offset uint32, bytes []byte) *Builder {
	b.data = append(b.data, builtData{offset: offset, bytes: bytes})
	return b
}

// Custom adds a custom section.
func (b *Builder) Custom(name string, data []byte) *Builder {
	b.customs = append(b.customs, Custom{Name: name, Data: data})
	return b
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := append([]byte(nil), header...)

	if len(b.types) > 0 {
		p := AppendULEB128(nil, uint32(len(b.types)))
		for _, t := range b.types {
			p = append(p, 0x60)
			p = appendValTypes(p, t.Params)
			p = appendValTypes(p, t.Results)
		}
		out = appendSection(out, SectionType, p)
	}
	if len(b.imports) > 0 {
		p := AppendULEB128(nil, uint32(len(b.imports)))
		for _, imp := range b.imports {
			p = appendName(p, imp.module)
			p = appendName(p, imp.name)
			p = append(p, KindFunc)
			p = AppendULEB128(p, imp.typeIdx)
		}
		out = appendSection(out, SectionImport, p)
	}
	if len(b.funcs) > 0 {
		p := AppendULEB128(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			p = AppendULEB128(p, f.typeIdx)
		}
		out = appendSection(out, SectionFunction, p)
	}
	if b.memory != nil {
		p := AppendULEB128(nil, 1)
		if b.memory.HasMax {
			p = append(p, 0x01)
			p = AppendULEB128(p, b.memory.Min)
			p = AppendULEB128(p, b.memory.Max)
		} else {
			p = append(p, 0x00)
			p = AppendULEB128(p, b.memory.Min)
		}
		out = appendSection(out, SectionMemory, p)
	}
	if len(b.globals) > 0 {
		p := AppendULEB128(nil, uint32(len(b.globals)))
		for _, g := range b.globals {
			mut := byte(0)
			if g.mutable {
				mut = 1
			}
			p = append(p, byte(g.t), mut)
			if g.t == I64 {
				p = append(p, OpI64Const)
			} else {
				p = append(p, OpI32Const)
			}
			p = AppendSLEB128(p, g.init)
			p = append(p, OpEnd)
		}
		out = appendSection(out, SectionGlobal, p)
	}
	exports := b.exports
	if b.memory != nil && b.memName != "" {
		exports = append([]Export{{Name: b.memName, Kind: KindMemory}}, exports...)
	}
	if len(exports) > 0 {
		p := AppendULEB128(nil, uint32(len(exports)))
		for _, e := range exports {
			p = appendName(p, e.Name)
			p = append(p, e.Kind)
			p = AppendULEB128(p, e.Index)
		}
		out = appendSection(out, SectionExport, p)
	}
	if len(b.funcs) > 0 {
		p := AppendULEB128(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			fn := AppendULEB128(nil, uint32(len(f.locals)))
			for _, l := range f.locals {
				fn = AppendULEB128(fn, 1)
				fn = append(fn, byte(l))
			}
			fn = append(fn, f.body...)
			p = AppendULEB128(p, uint32(len(fn)))
			p = append(p, fn...)
		}
		out = appendSection(out, SectionCode, p)
	}
	if len(b.data) > 0 {
		p := AppendULEB128(nil, uint32(len(b.data)))
		for _, d := range b.data {
			p = append(p, 0x00, OpI32Const)
			p = AppendSLEB128(p, int64(int32(d.offset)))
			p = append(p, OpEnd)
			p = AppendULEB128(p, uint32(len(d.bytes)))
			p = append(p, d.bytes...)
		}
		out = appendSection(out, SectionData, p)
	}
	for _, c := range b.customs {
		p := appendName(nil, c.Name)
		p = append(p, c.Data...)
		out = appendSection(out, SectionCustom, p)
	}
	return out
}

func appendValTypes(b []byte, v []ValType) []byte {
	b = AppendULEB128(b, uint32(len(v)))
	for _, t := range v {
		b = append(b, byte(t))
	}
	return b
}

// Instruction helpers for Builder bodies.

// Ops emits raw opcodes without immediates.
func Ops(ops ...byte) []byte { return ops }

// I32Const emits i32.const v.
func I32Const(v int32) []byte { return AppendSLEB128([]byte{OpI32Const}, int64(v)) }

// I64Const emits i64.const v.
func I64Const(v int64) []byte { return AppendSLEB128([]byte{OpI64Const}, v) }

// LocalGet emits local.get i.
func LocalGet(i uint32) []byte { return AppendULEB128([]byte{OpLocalGet}, i) }

// LocalSet emits local.set i.
func LocalSet(i uint32) []byte { return AppendULEB128([]byte{OpLocalSet}, i) }

// LocalTee emits local.tee i.
func LocalTee(i uint32) []byte { return AppendULEB128([]byte{OpLocalTee}, i) }

// GlobalGet emits global.get i.
func GlobalGet(i uint32) []byte { return AppendULEB128([]byte{OpGlobalGet}, i) }

// GlobalSet emits global.set i.
func GlobalSet(i uint32) []byte { return AppendULEB128([]byte{OpGlobalSet}, i) }

// Call emits call f.
func Call(f uint32) []byte { return AppendULEB128([]byte{OpCall}, f) }

// Br emits br depth.
func Br(depth uint32) []byte { return AppendULEB128([]byte{OpBr}, depth) }

// BrIf emits br_if depth.
func BrIf(depth uint32) []byte { return AppendULEB128([]byte{OpBrIf}, depth) }

// Block emits block with an empty block type.
func Block() []byte { return []byte{OpBlock, BlockVoid} }

// Loop emits loop with an empty block type.
func Loop() []byte { return []byte{OpLoop, BlockVoid} }

// If emits if with an empty block type.
func If() []byte { return []byte{OpIf, BlockVoid} }

// IfResult emits if yielding one value of type t.
func IfResult(t ValType) []byte { return []byte{OpIf, byte(t)} }

// I32Load emits i32.load with the given static offset.
func I32Load(offset uint32) []byte { return AppendULEB128([]byte{OpI32Load, 0x02}, offset) }

// I32Store emits i32.store with the given static offset.
func I32Store(offset uint32) []byte { return AppendULEB128([]byte{OpI32Store, 0x02}, offset) }

// I32Load8U emits i32.load8_u with the given static offset.
func I32Load8U(offset uint32) []byte { return AppendULEB128([]byte{OpI32Load8U, 0x00}, offset) }

// I32Store8 emits i32.store8 with the given static offset.
func I32Store8(offset uint32) []byte { return AppendULEB128([]byte{OpI32Store8, 0x00}, offset) }

// MemorySize emits memory.size.
func MemorySize() []byte { return []byte{OpMemorySize, 0x00} }

// MemoryGrow emits memory.grow.
func MemoryGrow() []byte { return []byte{OpMemoryGrow, 0x00} }
