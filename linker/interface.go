package linker

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/contract-vm/errors"
)

// ManifestSection is the custom section in which a contract declares its
// callable points and the signatures it expects from its dynamic imports.
const ManifestSection = "contractvm.dynamic_link"

// ImportPrefix marks an import module as a dynamic link namespace.
const ImportPrefix = "dynamiclinked_"

// AnyCaller in an allow-list admits every caller.
const AnyCaller = "*"

// Tag is the primitive type of one value crossing a dynamic link.
type Tag uint8

const (
	TagI32 Tag = iota + 1
	TagI64
	TagF32
	TagF64
	// TagRegion is a byte buffer passed through the Region protocol.
	TagRegion
)

func (t Tag) String() string {
	switch t {
	case TagI32:
		return "i32"
	case TagI64:
		return "i64"
	case TagF32:
		return "f32"
	case TagF64:
		return "f64"
	case TagRegion:
		return "region"
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

func (t Tag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tag) UnmarshalText(text []byte) error {
	for c := TagI32; c <= TagRegion; c++ {
		if c.String() == string(text) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown type tag %q", text)
}

// Core returns the core value type carrying t.
func (t Tag) Core() api.ValueType {
	switch t {
	case TagI64:
		return api.ValueTypeI64
	case TagF32:
		return api.ValueTypeF32
	case TagF64:
		return api.ValueTypeF64
	}
	return api.ValueTypeI32
}

// Signature is the type-tagged ABI of a callable point, excluding the
// callee address the caller passes first.
type Signature struct {
	Params  []Tag
	Results []Tag
}

// Equal compares arity and every type tag.
func (s Signature) Equal(o Signature) bool {
	return slices.Equal(s.Params, o.Params) && slices.Equal(s.Results, o.Results)
}

// Diff describes how o differs from s, or returns "" when they are equal.
func (s Signature) Diff(o Signature) string {
	switch {
	case len(s.Params) != len(o.Params):
		return fmt.Sprintf("expected %d params, callee takes %d", len(s.Params), len(o.Params))
	case len(s.Results) != len(o.Results):
		return fmt.Sprintf("expected %d results, callee returns %d", len(s.Results), len(o.Results))
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return fmt.Sprintf("param %d: expected %s, callee takes %s", i, s.Params[i], o.Params[i])
		}
	}
	for i := range s.Results {
		if s.Results[i] != o.Results[i] {
			return fmt.Sprintf("result %d: expected %s, callee returns %s", i, s.Results[i], o.Results[i])
		}
	}
	return ""
}

func (s Signature) String() string {
	return fmt.Sprintf("func(%s) -> (%s)", joinTags(s.Params), joinTags(s.Results))
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the String form.
func (s *Signature) UnmarshalText(text []byte) error {
	body, ok := strings.CutPrefix(string(text), "func(")
	params, results, found := strings.Cut(body, ") -> (")
	if !ok || !found || !strings.HasSuffix(results, ")") {
		return fmt.Errorf("malformed signature %q", text)
	}
	var err error
	if s.Params, err = splitTags(params); err != nil {
		return err
	}
	s.Results, err = splitTags(strings.TrimSuffix(results, ")"))
	return err
}

func splitTags(list string) ([]Tag, error) {
	if list == "" {
		return nil, nil
	}
	parts := strings.Split(list, ", ")
	tags := make([]Tag, len(parts))
	for i, p := range parts {
		if err := tags[i].UnmarshalText([]byte(p)); err != nil {
			return nil, err
		}
	}
	return tags, nil
}

// Core lowers s to the core function type of the callee export.
func (s Signature) Core() (params, results []api.ValueType) {
	for _, t := range s.Params {
		params = append(params, t.Core())
	}
	for _, t := range s.Results {
		results = append(results, t.Core())
	}
	return params, results
}

func joinTags(tags []Tag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// DefaultSignature derives the expected signature of a dynamic import from
// its core type when the caller declares none: i32 values are regions.
// params must not include the leading address parameter.
func DefaultSignature(params, results []api.ValueType) Signature {
	var s Signature
	for _, p := range params {
		s.Params = append(s.Params, defaultTag(p))
	}
	for _, r := range results {
		s.Results = append(s.Results, defaultTag(r))
	}
	return s
}

func defaultTag(v api.ValueType) Tag {
	switch v {
	case api.ValueTypeI64:
		return TagI64
	case api.ValueTypeF32:
		return TagF32
	case api.ValueTypeF64:
		return TagF64
	}
	return TagRegion
}

// ParseSignature parses a WIT function type such as
// "func(key: string, amount: u64) -> list<u8>".
func ParseSignature(text string) (Signature, error) {
	var sig Signature
	s := strings.TrimSpace(text)
	s, ok := strings.CutPrefix(s, "func")
	s = strings.TrimSpace(s)
	if !ok || !strings.HasPrefix(s, "(") {
		return sig, fmt.Errorf("signature %q: expected func(...)", text)
	}
	closeIdx := matchingParen(s)
	if closeIdx < 0 {
		return sig, fmt.Errorf("signature %q: unbalanced parentheses", text)
	}
	for _, p := range splitParams(s[1:closeIdx]) {
		typ := p
		if idx := strings.Index(p, ":"); idx != -1 {
			typ = p[idx+1:]
		}
		tag, err := parseTag(typ)
		if err != nil {
			return sig, fmt.Errorf("signature %q: param %q: %w", text, p, err)
		}
		sig.Params = append(sig.Params, tag)
	}

	rest := strings.TrimSpace(s[closeIdx+1:])
	if rest == "" {
		return sig, nil
	}
	rest, ok = strings.CutPrefix(rest, "->")
	if !ok {
		return sig, fmt.Errorf("signature %q: unexpected %q", text, rest)
	}
	rest = strings.TrimSpace(rest)
	if rest == "()" {
		return sig, nil
	}
	tag, err := parseTag(rest)
	if err != nil {
		return sig, fmt.Errorf("signature %q: result: %w", text, err)
	}
	sig.Results = []Tag{tag}
	return sig, nil
}

func parseTag(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	if inner, ok := strings.CutPrefix(s, "list<"); ok && strings.HasSuffix(inner, ">") {
		if _, err := parseTag(strings.TrimSuffix(inner, ">")); err != nil {
			return 0, err
		}
		return TagRegion, nil
	}
	t, err := wit.ParseType(s)
	if err != nil {
		return 0, err
	}
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return TagI32, nil
	case wit.U64, wit.S64:
		return TagI64, nil
	case wit.F32:
		return TagF32, nil
	case wit.F64:
		return TagF64, nil
	case wit.String:
		return TagRegion, nil
	}
	return 0, fmt.Errorf("type %q cannot cross a dynamic link", s)
}

func matchingParen(s string) int {
	depth := 0
	for i, ch := range s {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitParams splits a parameter list on top-level commas.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}

// CallablePoint is a function a contract exposes to dynamic link callers.
type CallablePoint struct {
	Name           string    `json:"name"`
	Signature      Signature `json:"signature"`
	ReadOnly       bool      `json:"read_only"`
	AllowedCallers []string  `json:"allowed_callers,omitempty"`
}

// Allows reports whether caller may invoke p.
func (p CallablePoint) Allows(caller string) bool {
	for _, c := range p.AllowedCallers {
		if c == AnyCaller || c == caller {
			return true
		}
	}
	return false
}

// Manifest is the decoded dynamic link custom section.
type Manifest struct {
	CallablePoints map[string]CallablePoint
	// Imports maps "module.name" of a dynamic import to the signature the
	// caller expects.
	Imports map[string]Signature
}

type manifestJSON struct {
	CallablePoints map[string]struct {
		Signature      string   `json:"signature"`
		ReadOnly       bool     `json:"read_only"`
		AllowedCallers []string `json:"allowed_callers"`
	} `json:"callable_points"`
	Imports map[string]string `json:"imports"`
}

// ParseManifest decodes the dynamic link custom section.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw manifestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Validation("dynamic link manifest: %v", err)
	}
	m := &Manifest{
		CallablePoints: make(map[string]CallablePoint, len(raw.CallablePoints)),
		Imports:        make(map[string]Signature, len(raw.Imports)),
	}
	for _, name := range slices.Sorted(maps.Keys(raw.CallablePoints)) {
		p := raw.CallablePoints[name]
		sig, err := ParseSignature(p.Signature)
		if err != nil {
			return nil, errors.Validation("callable point %q: %v", name, err)
		}
		m.CallablePoints[name] = CallablePoint{
			Name:           name,
			Signature:      sig,
			ReadOnly:       p.ReadOnly,
			AllowedCallers: p.AllowedCallers,
		}
	}
	for _, key := range slices.Sorted(maps.Keys(raw.Imports)) {
		sig, err := ParseSignature(raw.Imports[key])
		if err != nil {
			return nil, errors.Validation("dynamic import %q: %v", key, err)
		}
		m.Imports[key] = sig
	}
	return m, nil
}

// ParseInterface decodes an interface a contract asks a callee to satisfy:
// a JSON object mapping callable point names to WIT signatures.
func ParseInterface(data []byte) (map[string]Signature, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Validation("interface: %v", err)
	}
	out := make(map[string]Signature, len(raw))
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		sig, err := ParseSignature(raw[name])
		if err != nil {
			return nil, errors.Validation("interface point %q: %v", name, err)
		}
		out[name] = sig
	}
	return out, nil
}

// Import is a dynamic link import of a caller module.
type Import struct {
	Module string `json:"module"`
	Name   string `json:"name"`
	// Params and Results are the import's core type, address included.
	Params   []api.ValueType `json:"params"`
	Results  []api.ValueType `json:"results"`
	Expected Signature       `json:"expected"`
}

// Key returns "module.name".
func (i Import) Key() string {
	return i.Module + "." + i.Name
}

// HostModule returns the unique host module name the import is bound to.
// Imports with the same name and type share a host module.
func (i Import) HostModule() string {
	var b strings.Builder
	b.WriteString(i.Module)
	b.WriteByte('#')
	b.WriteString(i.Name)
	b.WriteByte('#')
	for _, p := range i.Params {
		b.WriteString(api.ValueTypeName(p))
	}
	b.WriteString("->")
	for _, r := range i.Results {
		b.WriteString(api.ValueTypeName(r))
	}
	for _, t := range i.Expected.Params {
		b.WriteByte(':')
		b.WriteString(t.String())
	}
	b.WriteString("->")
	for _, t := range i.Expected.Results {
		b.WriteByte(':')
		b.WriteString(t.String())
	}
	return b.String()
}

// Compatible checks that the expected signature can be carried by the
// import's core type.
func (i Import) Compatible() error {
	if len(i.Params) == 0 || i.Params[0] != api.ValueTypeI32 {
		return fmt.Errorf("dynamic import %s must take the callee address region first", i.Key())
	}
	params, results := i.Expected.Core()
	if !slices.Equal(params, i.Params[1:]) || !slices.Equal(results, i.Results) {
		return fmt.Errorf("dynamic import %s: declared %s does not match its core type", i.Key(), i.Expected)
	}
	if len(i.Results) > 1 {
		return fmt.Errorf("dynamic import %s returns more than one value", i.Key())
	}
	return nil
}
