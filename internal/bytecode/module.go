package bytecode

import (
	"bytes"
	"fmt"
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (f FuncType) Equal(o FuncType) bool {
	return bytes.Equal(valBytes(f.Params), valBytes(o.Params)) &&
		bytes.Equal(valBytes(f.Results), valBytes(o.Results))
}

// UsesFloat reports whether any parameter or result is a float.
func (f FuncType) UsesFloat() bool {
	for _, v := range f.Params {
		if v.IsFloat() {
			return true
		}
	}
	for _, v := range f.Results {
		if v.IsFloat() {
			return true
		}
	}
	return false
}

func (f FuncType) String() string {
	return fmt.Sprintf("%v -> %v", f.Params, f.Results)
}

func valBytes(v []ValType) []byte {
	b := make([]byte, len(v))
	for i, t := range v {
		b[i] = byte(t)
	}
	return b
}

// Limits are memory or table size limits.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
	Shared bool
}

// Import is one entry of the import section.
type Import struct {
	Module string
	Name   string
	Kind   byte
	// TypeIndex is set for function imports.
	TypeIndex uint32
	// Global is set for global imports.
	Global Global
	desc   []byte
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Global is a global's type.
type Global struct {
	Type    ValType
	Mutable bool
}

// Custom is a custom section.
type Custom struct {
	Name string
	Data []byte
}

// Body is a decoded function body.
type Body struct {
	Locals []LocalGroup
	// Expr holds the instructions including the final end.
	Expr      []byte
	localsRaw []byte
	offset    int
}

// LocalGroup is a run of locals of one type.
type LocalGroup struct {
	Count uint32
	Type  ValType
}

// Section is a raw section in module order.
type Section struct {
	ID      byte
	Payload []byte
	Offset  int
}

// Module is the decoded structure of a WebAssembly binary. Function bodies
// are kept as raw instruction bytes; Scan walks them.
type Module struct {
	Sections []Section

	Types     []FuncType
	Imports   []Import
	Functions []uint32
	Tables    []Limits
	Memories  []Limits
	Globals   []Global
	Exports   []Export
	Customs   []Custom
	Bodies    []Body
	Start     *uint32

	ImportedFuncs    int
	ImportedTables   int
	ImportedMemories int
	ImportedGlobals  int
}

// FuncTypeOf returns the signature of function index idx, counting imports
// first.
func (m *Module) FuncTypeOf(idx uint32) (FuncType, bool) {
	var typeIdx uint32
	if int(idx) < m.ImportedFuncs {
		n := 0
		for _, imp := range m.Imports {
			if imp.Kind != KindFunc {
				continue
			}
			if n == int(idx) {
				typeIdx = imp.TypeIndex
				break
			}
			n++
		}
	} else {
		local := int(idx) - m.ImportedFuncs
		if local >= len(m.Functions) {
			return FuncType{}, false
		}
		typeIdx = m.Functions[local]
	}
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// Export returns the export with the given name.
func (m *Module) Export(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// ExportedFunc returns the signature of an exported function.
func (m *Module) ExportedFunc(name string) (FuncType, bool) {
	e, ok := m.Export(name)
	if !ok || e.Kind != KindFunc {
		return FuncType{}, false
	}
	return m.FuncTypeOf(e.Index)
}

// CustomSection returns the first custom section with the given name.
func (m *Module) CustomSection(name string) ([]byte, bool) {
	for _, c := range m.Customs {
		if c.Name == name {
			return c.Data, true
		}
	}
	return nil, false
}

// TotalGlobals returns imported plus defined globals.
func (m *Module) TotalGlobals() int {
	return m.ImportedGlobals + len(m.Globals)
}

// Parse decodes the section structure of a binary module.
func Parse(code []byte) (*Module, error) {
	if len(code) < len(header) || !bytes.Equal(code[:len(header)], header) {
		return nil, fmt.Errorf("%w: bad magic or version", ErrMalformed)
	}
	m := &Module{}
	r := newReader(code, 0)
	r.pos = len(header)
	for !r.done() {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		offset := r.pos
		payload, err := r.bytes(size)
		if err != nil {
			return nil, err
		}
		m.Sections = append(m.Sections, Section{ID: id, Payload: payload, Offset: offset})
		if err := m.decodeSection(id, newReader(payload, offset)); err != nil {
			return nil, err
		}
	}
	if len(m.Functions) != len(m.Bodies) {
		return nil, fmt.Errorf("%w: %d functions but %d bodies", ErrMalformed, len(m.Functions), len(m.Bodies))
	}
	return m, nil
}

func (m *Module) decodeSection(id byte, r *reader) error {
	switch id {
	case SectionCustom:
		name, err := r.name()
		if err != nil {
			return err
		}
		m.Customs = append(m.Customs, Custom{Name: name, Data: r.buf[r.pos:]})
		return nil
	case SectionType:
		return vec(r, func() error {
			form, err := r.byte()
			if err != nil {
				return err
			}
			if form != 0x60 {
				return r.errorf("unsupported type form 0x%02x", form)
			}
			var ft FuncType
			if ft.Params, err = valTypes(r); err != nil {
				return err
			}
			if ft.Results, err = valTypes(r); err != nil {
				return err
			}
			m.Types = append(m.Types, ft)
			return nil
		})
	case SectionImport:
		return vec(r, func() error {
			imp, err := m.decodeImport(r)
			if err != nil {
				return err
			}
			m.Imports = append(m.Imports, imp)
			return nil
		})
	case SectionFunction:
		return vec(r, func() error {
			idx, err := r.u32()
			if err != nil {
				return err
			}
			m.Functions = append(m.Functions, idx)
			return nil
		})
	case SectionTable:
		return vec(r, func() error {
			if _, err := r.valType(); err != nil {
				return err
			}
			l, err := r.limits()
			if err != nil {
				return err
			}
			m.Tables = append(m.Tables, l)
			return nil
		})
	case SectionMemory:
		return vec(r, func() error {
			l, err := r.limits()
			if err != nil {
				return err
			}
			m.Memories = append(m.Memories, l)
			return nil
		})
	case SectionGlobal:
		return vec(r, func() error {
			g, err := globalType(r)
			if err != nil {
				return err
			}
			if err := skipConstExpr(r); err != nil {
				return err
			}
			m.Globals = append(m.Globals, g)
			return nil
		})
	case SectionExport:
		return vec(r, func() error {
			name, err := r.name()
			if err != nil {
				return err
			}
			kind, err := r.byte()
			if err != nil {
				return err
			}
			idx, err := r.u32()
			if err != nil {
				return err
			}
			m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: idx})
			return nil
		})
	case SectionStart:
		idx, err := r.u32()
		if err != nil {
			return err
		}
		m.Start = &idx
		return nil
	case SectionCode:
		return vec(r, func() error {
			size, err := r.u32()
			if err != nil {
				return err
			}
			start := r.base + r.pos
			raw, err := r.bytes(size)
			if err != nil {
				return err
			}
			body, err := decodeBody(raw, start)
			if err != nil {
				return err
			}
			m.Bodies = append(m.Bodies, body)
			return nil
		})
	case SectionElement, SectionData, SectionDataCount, SectionTag:
		return nil
	default:
		return r.errorf("unknown section id %d", id)
	}
}

func (m *Module) decodeImport(r *reader) (Import, error) {
	var imp Import
	var err error
	if imp.Module, err = r.name(); err != nil {
		return imp, err
	}
	if imp.Name, err = r.name(); err != nil {
		return imp, err
	}
	descStart := r.pos
	if imp.Kind, err = r.byte(); err != nil {
		return imp, err
	}
	switch imp.Kind {
	case KindFunc:
		if imp.TypeIndex, err = r.u32(); err != nil {
			return imp, err
		}
		m.ImportedFuncs++
	case KindTable:
		if _, err = r.valType(); err != nil {
			return imp, err
		}
		if _, err = r.limits(); err != nil {
			return imp, err
		}
		m.ImportedTables++
	case KindMemory:
		if _, err = r.limits(); err != nil {
			return imp, err
		}
		m.ImportedMemories++
	case KindGlobal:
		if imp.Global, err = globalType(r); err != nil {
			return imp, err
		}
		m.ImportedGlobals++
	case KindTag:
		if _, err = r.byte(); err != nil {
			return imp, err
		}
		if imp.TypeIndex, err = r.u32(); err != nil {
			return imp, err
		}
	default:
		return imp, r.errorf("invalid import kind 0x%02x", imp.Kind)
	}
	imp.desc = r.buf[descStart:r.pos]
	return imp, nil
}

func decodeBody(raw []byte, offset int) (Body, error) {
	r := newReader(raw, offset)
	var body Body
	var total uint64
	err := vec(r, func() error {
		n, err := r.u32()
		if err != nil {
			return err
		}
		t, err := r.valType()
		if err != nil {
			return err
		}
		total += uint64(n)
		if total > 50_000 {
			return r.errorf("too many locals")
		}
		body.Locals = append(body.Locals, LocalGroup{Count: n, Type: t})
		return nil
	})
	if err != nil {
		return body, err
	}
	body.localsRaw = raw[:r.pos]
	body.Expr = raw[r.pos:]
	body.offset = offset + r.pos
	return body, nil
}

func vec(r *reader, each func() error) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := each(); err != nil {
			return err
		}
	}
	return nil
}

func valTypes(r *reader) ([]ValType, error) {
	var out []ValType
	err := vec(r, func() error {
		v, err := r.valType()
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

func globalType(r *reader) (Global, error) {
	t, err := r.valType()
	if err != nil {
		return Global{}, err
	}
	mut, err := r.byte()
	if err != nil {
		return Global{}, err
	}
	if mut > 1 {
		return Global{}, r.errorf("invalid mutability 0x%02x", mut)
	}
	return Global{Type: t, Mutable: mut == 1}, nil
}

func skipConstExpr(r *reader) error {
	for {
		in, err := next(r)
		if err != nil {
			return err
		}
		if in.Op == OpEnd {
			return nil
		}
	}
}
