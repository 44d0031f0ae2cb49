package engine

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/internal/bytecode"
	"github.com/wippyai/contract-vm/linker"
)

// Info is the static interface of a compiled contract.
type Info struct {
	InterfaceVersion int                             `json:"interface_version"`
	Entries          []string                        `json:"entries"`
	CallablePoints   map[string]linker.CallablePoint `json:"callable_points"`
	DynamicImports   []linker.Import                 `json:"dynamic_imports"`
	Capabilities     []Capability                    `json:"capabilities"`
	Instructions     int                             `json:"instructions"`
	CodeSize         int                             `json:"code_size"`
}

// HasEntry reports whether the contract exports the entry point.
func (i *Info) HasEntry(name string) bool {
	return slices.Contains(i.Entries, name)
}

// validator checks a parsed module against the engine's rules.
type validator struct {
	cfg   Config
	host  map[string]HostFunc
	m     *bytecode.Module
	info  *Info
	facts bytecode.Facts
}

func (e *Engine) validate(m *bytecode.Module) (*Info, error) {
	facts, err := bytecode.Analyze(m)
	if err != nil {
		var unsupported *bytecode.UnsupportedError
		if stderrors.As(err, &unsupported) {
			return nil, errors.Validation("%v", unsupported)
		}
		return nil, errors.Compile("scan function bodies", err)
	}

	v := &validator{
		cfg:   e.cfg,
		host:  e.host,
		m:     m,
		facts: facts,
		info: &Info{
			CallablePoints: map[string]linker.CallablePoint{},
			Instructions:   facts.Instructions,
		},
	}
	for _, check := range []func() error{
		v.checkStructure,
		v.checkMemory,
		v.checkVersion,
		v.checkImports,
		v.checkExports,
		v.checkManifest,
	} {
		if err := check(); err != nil {
			return nil, err
		}
	}
	return v.info, nil
}

func (v *validator) checkStructure() error {
	if v.m.Start != nil {
		return errors.Validation("start function is not allowed")
	}
	if len(v.m.Functions) > v.cfg.MaxFunctions {
		return errors.Validation("%d functions exceed the limit of %d", len(v.m.Functions), v.cfg.MaxFunctions)
	}
	if len(v.m.Imports) > v.cfg.MaxImports {
		return errors.Validation("%d imports exceed the limit of %d", len(v.m.Imports), v.cfg.MaxImports)
	}
	if len(v.m.Exports) > v.cfg.MaxExports {
		return errors.Validation("%d exports exceed the limit of %d", len(v.m.Exports), v.cfg.MaxExports)
	}
	if v.facts.UsesFloat && !v.cfg.AllowFloats {
		return errors.Validation("floating point operations are not allowed")
	}
	return nil
}

func (v *validator) checkMemory() error {
	if v.m.ImportedMemories > 0 {
		return errors.Validation("memory must be defined, not imported")
	}
	if len(v.m.Memories) != 1 {
		return errors.Validation("contract must define exactly one memory, found %d", len(v.m.Memories))
	}
	mem := v.m.Memories[0]
	if mem.Min > v.cfg.MemoryLimitPages {
		return errors.Validation("initial memory of %d pages exceeds the limit of %d", mem.Min, v.cfg.MemoryLimitPages)
	}
	if mem.HasMax {
		return errors.Validation("memory maximum must be unset; the host sets it")
	}
	if mem.Shared {
		return errors.Validation("shared memory is not allowed")
	}
	exp, ok := v.m.Export(ExportMemory)
	if !ok || exp.Kind != bytecode.KindMemory {
		return errors.Validation("memory must be exported as %q", ExportMemory)
	}
	return nil
}

// checkVersion requires exactly one supported interface version marker.
func (v *validator) checkVersion() error {
	var found []string
	for _, imp := range v.m.Imports {
		if imp.Module == HostModule && strings.HasPrefix(imp.Name, VersionPrefix) {
			found = append(found, imp.Name)
		}
	}
	switch len(found) {
	case 0:
		return errors.VersionMismatch(errors.PhaseValidate, "missing interface version marker "+VersionPrefix+"<N>")
	case 1:
	default:
		return errors.VersionMismatch(errors.PhaseValidate,
			fmt.Sprintf("more than one interface version marker: %s", strings.Join(found, ", ")))
	}
	n, err := strconv.Atoi(strings.TrimPrefix(found[0], VersionPrefix))
	if err != nil || !v.cfg.supportsVersion(n) {
		return errors.VersionMismatch(errors.PhaseValidate,
			fmt.Sprintf("unsupported interface version marker %q, supported %v", found[0], v.cfg.SupportedVersions))
	}
	v.info.InterfaceVersion = n
	return nil
}

func (v *validator) checkImports() error {
	used := map[Capability]bool{}
	for i, imp := range v.m.Imports {
		full := imp.Module + "." + imp.Name
		if imp.Kind != bytecode.KindFunc {
			return errors.Validation("non-function import %q", full)
		}
		// Every import before i is a function, so i is its function index.
		ft, _ := v.m.FuncTypeOf(uint32(i))
		params, results := valueTypes(ft.Params), valueTypes(ft.Results)

		switch {
		case imp.Module == HostModule && strings.HasPrefix(imp.Name, VersionPrefix):
			if len(params) != 0 || len(results) != 0 {
				return errors.Validation("version marker %q must have type () -> ()", full)
			}
		case imp.Module == HostModule:
			h, ok := v.host[imp.Name]
			if !ok {
				return errors.Validation("unsupported import %q", full)
			}
			if !h.matches(params, results) {
				return errors.Validation("import %q has type %s -> %s, host provides %s -> %s", full,
					valueTypeNames(params), valueTypeNames(results), valueTypeNames(h.Params), valueTypeNames(h.Results))
			}
			if !v.cfg.hasCapability(h.Capability) {
				return errors.Validation("import %q requires unavailable capability %q", full, h.Capability)
			}
			if h.Iterator && !v.cfg.EnableIterators {
				return errors.Validation("import %q requires iterators, which are disabled", full)
			}
			used[h.Capability] = true
		case strings.HasPrefix(imp.Module, linker.ImportPrefix) && len(imp.Module) > len(linker.ImportPrefix):
			if !v.cfg.hasCapability(CapDynamicLink) {
				return errors.Validation("import %q requires unavailable capability %q", full, CapDynamicLink)
			}
			v.info.DynamicImports = append(v.info.DynamicImports, linker.Import{
				Module:  imp.Module,
				Name:    imp.Name,
				Params:  params,
				Results: results,
			})
			used[CapDynamicLink] = true
		default:
			return errors.Validation("unsupported import %q", full)
		}
	}
	for _, c := range AllCapabilities {
		if used[c] {
			v.info.Capabilities = append(v.info.Capabilities, c)
		}
	}
	return nil
}

var (
	allocateType   = bytecode.FuncType{Params: []bytecode.ValType{bytecode.I32}, Results: []bytecode.ValType{bytecode.I32}}
	deallocateType = bytecode.FuncType{Params: []bytecode.ValType{bytecode.I32}}
)

func (v *validator) checkExports() error {
	for _, name := range []string{bytecode.GasLeftExport, bytecode.ExhaustedExport} {
		if _, ok := v.m.Export(name); ok {
			return errors.Validation("export %q is reserved", name)
		}
	}
	required := []struct {
		name string
		typ  bytecode.FuncType
	}{
		{ExportAllocate, allocateType},
		{ExportDeallocate, deallocateType},
	}
	for _, r := range required {
		ft, ok := v.m.ExportedFunc(r.name)
		if !ok {
			return errors.Validation("missing required export %q", r.name)
		}
		if !ft.Equal(r.typ) {
			return errors.Validation("export %q has type %s, want %s", r.name, ft, r.typ)
		}
	}
	for _, entry := range Entries {
		ft, ok := v.m.ExportedFunc(entry)
		if !ok {
			if entry == EntryInstantiate {
				return errors.Validation("missing required export %q", entry)
			}
			continue
		}
		if !isEntryType(ft) {
			return errors.Validation("entry point %q has type %s; entry points take and return region pointers", entry, ft)
		}
		v.info.Entries = append(v.info.Entries, entry)
	}
	return nil
}

func isEntryType(ft bytecode.FuncType) bool {
	if len(ft.Results) != 1 || ft.Results[0] != bytecode.I32 {
		return false
	}
	for _, p := range ft.Params {
		if p != bytecode.I32 {
			return false
		}
	}
	return true
}

// checkManifest decodes the dynamic link section, checks every callable
// point against its export and binds the expected signature of every
// dynamic import.
func (v *validator) checkManifest() error {
	manifest := &linker.Manifest{}
	if data, ok := v.m.CustomSection(linker.ManifestSection); ok {
		parsed, err := linker.ParseManifest(data)
		if err != nil {
			return err
		}
		manifest = parsed
	}

	for _, name := range slices.Sorted(maps.Keys(manifest.CallablePoints)) {
		p := manifest.CallablePoints[name]
		if slices.Contains(Entries, name) || name == ExportAllocate || name == ExportDeallocate {
			return errors.Validation("callable point %q shadows a reserved export", name)
		}
		ft, ok := v.m.ExportedFunc(name)
		if !ok {
			return errors.Validation("callable point %q is not an exported function", name)
		}
		params, results := p.Signature.Core()
		if !equalTypes(valueTypes(ft.Params), params) || !equalTypes(valueTypes(ft.Results), results) {
			return errors.Validation("callable point %q exports %s, declared %s", name, ft, p.Signature)
		}
		if len(p.Signature.Results) > 1 {
			return errors.Validation("callable point %q returns more than one value", name)
		}
		v.info.CallablePoints[name] = p
	}

	for _, key := range slices.Sorted(maps.Keys(manifest.Imports)) {
		if !slices.ContainsFunc(v.info.DynamicImports, func(i linker.Import) bool { return i.Key() == key }) {
			return errors.Validation("signature declared for unknown dynamic import %q", key)
		}
	}
	for i := range v.info.DynamicImports {
		imp := &v.info.DynamicImports[i]
		if sig, ok := manifest.Imports[imp.Key()]; ok {
			imp.Expected = sig
		} else if len(imp.Params) > 0 {
			imp.Expected = linker.DefaultSignature(imp.Params[1:], imp.Results)
		}
		if err := imp.Compatible(); err != nil {
			return errors.Validation("%v", err)
		}
	}
	return nil
}

func valueTypeNames(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return "(" + strings.Join(names, ", ") + ")"
}
