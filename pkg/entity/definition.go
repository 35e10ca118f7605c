package entity

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Definition is the immutable per-type configuration: how to extract a
// key, how to order the id list, how to filter the filtered view, and
// which extension fields every collection of this type carries. Built
// once at startup, from metadata or in code, and never mutated.
type Definition struct {
	Name          string
	Plural        string
	SelectID      func(Doc) (Key, error)
	SortComparer  func(a, b Doc) int       // nil preserves insertion order
	FilterFn      func([]Doc, Value) []Doc // nil makes filtering a pass-through
	ExtraDefaults Doc
}

// Option configures a Definition under construction.
type Option func(*Definition)

// WithPlural sets the display/resource plural used by data services.
func WithPlural(plural string) Option {
	return func(d *Definition) { d.Plural = plural }
}

// WithSelectID replaces the key-extraction function.
func WithSelectID(fn func(Doc) (Key, error)) Option {
	return func(d *Definition) { d.SelectID = fn }
}

// WithSortComparer keeps the id list sorted under the comparator.
func WithSortComparer(fn func(a, b Doc) int) Option {
	return func(d *Definition) { d.SortComparer = fn }
}

// WithFilterFn sets the predicate used by the filtered-entities selector.
func WithFilterFn(fn func([]Doc, Value) []Doc) Option {
	return func(d *Definition) { d.FilterFn = fn }
}

// WithExtraDefaults declares extension fields and their defaults, merged
// into every new collection of this type.
func WithExtraDefaults(extra Doc) Option {
	return func(d *Definition) { d.ExtraDefaults = extra.Clone() }
}

// NewDefinition builds a definition with the standard defaults: key from
// the "id" field, insertion order, pass-through filtering, a naive plural.
func NewDefinition(name string, opts ...Option) (*Definition, error) {
	if name == "" {
		return nil, fmt.Errorf("entity type name is required")
	}
	d := &Definition{
		Name:     name,
		SelectID: SelectField("id"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.Plural == "" {
		d.Plural = defaultPlural(name)
	}
	return d, nil
}

// DefaultDefinition is the fallback for entity types that were never
// registered: id-field keys, insertion order, no filter, no extras.
// It keeps the reducer total over replayed input.
func DefaultDefinition(name string) *Definition {
	return &Definition{
		Name:     name,
		Plural:   defaultPlural(name),
		SelectID: SelectField("id"),
	}
}

// SelectField returns a key extractor reading the named document field.
func SelectField(field string) func(Doc) (Key, error) {
	return func(d Doc) (Key, error) {
		v, ok := d[field]
		if !ok {
			return nil, fmt.Errorf("%w: field %q absent", ErrMissingKey, field)
		}
		k, err := KeyOf(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		return k, nil
	}
}

// CompareByField returns a comparator ordering documents by one field.
// Values of different kinds order by kind rank so the result is total.
func CompareByField(field string, descending bool) func(a, b Doc) int {
	return func(a, b Doc) int {
		c := compareValues(a[field], b[field])
		if descending {
			return -c
		}
		return c
	}
}

func compareValues(a, b Value) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case Bool:
		bv := b.(Bool)
		switch {
		case !bool(av) && bool(bv):
			return -1
		case bool(av) && !bool(bv):
			return 1
		}
		return 0
	case Int:
		return compareNumbers(float64(av), b)
	case Float:
		return compareNumbers(float64(av), b)
	case String:
		return strings.Compare(string(av), string(b.(String)))
	}
	return 0
}

func compareNumbers(a float64, b Value) int {
	var bf float64
	switch bv := b.(type) {
	case Int:
		bf = float64(bv)
	case Float:
		bf = float64(bv)
	}
	switch {
	case a < bf:
		return -1
	case a > bf:
		return 1
	}
	return 0
}

// kindRank groups Int and Float together so numeric fields sort naturally
// regardless of how a particular document was decoded.
func kindRank(v Value) int {
	switch v.(type) {
	case nil:
		return 0
	case Null:
		return 1
	case Bool:
		return 2
	case Int, Float:
		return 3
	case String:
		return 4
	case Array:
		return 5
	default:
		return 6
	}
}

// Match kinds accepted by FilterByFields and the metadata compiler.
const (
	MatchSubstring = "substring"
	MatchEquals    = "equals"
)

// FilterByFields returns a filter predicate matching the pattern against
// the scalar form of the named fields. An absent or empty pattern passes
// every document through.
func FilterByFields(fields []string, match string, fold bool) func([]Doc, Value) []Doc {
	return func(docs []Doc, pattern Value) []Doc {
		p, ok := scalarString(pattern)
		if !ok || p == "" {
			return docs
		}
		if _, isNull := pattern.(Null); isNull {
			return docs
		}
		if fold {
			p = strings.ToLower(p)
		}
		out := make([]Doc, 0, len(docs))
		for _, d := range docs {
			if docMatches(d, fields, match, p, fold) {
				out = append(out, d)
			}
		}
		return out
	}
}

func docMatches(d Doc, fields []string, match, pattern string, fold bool) bool {
	for _, f := range fields {
		v, ok := d[f]
		if !ok {
			continue
		}
		s, ok := scalarString(v)
		if !ok {
			continue
		}
		if fold {
			s = strings.ToLower(s)
		}
		switch match {
		case MatchEquals:
			if s == pattern {
				return true
			}
		default:
			if strings.Contains(s, pattern) {
				return true
			}
		}
	}
	return false
}

// SortSpec is the declarative form of a sort comparator.
type SortSpec struct {
	Field      string
	Descending bool
}

// FilterSpec is the declarative form of a filter predicate.
type FilterSpec struct {
	Fields []string
	Match  string // MatchSubstring or MatchEquals
	Fold   bool
}

// Metadata is the declarative per-type configuration the compiler emits
// and BuildDefinition consumes.
type Metadata struct {
	Name     string
	KeyField string
	Plural   string
	Sort     *SortSpec
	Filter   *FilterSpec
	Extra    Doc
}

// BuildDefinition turns metadata into a working definition.
func BuildDefinition(meta Metadata) (*Definition, error) {
	if meta.Name == "" {
		return nil, fmt.Errorf("metadata without entity type name")
	}

	opts := []Option{}
	if meta.KeyField != "" && meta.KeyField != "id" {
		opts = append(opts, WithSelectID(SelectField(meta.KeyField)))
	}
	if meta.Plural != "" {
		opts = append(opts, WithPlural(meta.Plural))
	}
	if meta.Sort != nil {
		if meta.Sort.Field == "" {
			return nil, fmt.Errorf("entity %s: sort without field", meta.Name)
		}
		opts = append(opts, WithSortComparer(CompareByField(meta.Sort.Field, meta.Sort.Descending)))
	}
	if meta.Filter != nil {
		if len(meta.Filter.Fields) == 0 {
			return nil, fmt.Errorf("entity %s: filter without fields", meta.Name)
		}
		switch meta.Filter.Match {
		case "", MatchSubstring, MatchEquals:
		default:
			return nil, fmt.Errorf("entity %s: unknown filter match %q", meta.Name, meta.Filter.Match)
		}
		opts = append(opts, WithFilterFn(FilterByFields(meta.Filter.Fields, meta.Filter.Match, meta.Filter.Fold)))
	}
	if len(meta.Extra) > 0 {
		opts = append(opts, WithExtraDefaults(meta.Extra))
	}

	return NewDefinition(meta.Name, opts...)
}

// Registry holds the definitions for all registered entity types. It is
// owned by the application's composition root and handed to the store;
// there is no process-wide instance.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry builds a registry from definitions. Duplicate names are an
// error.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("definition without entity type name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[def.Name]; dup {
		return fmt.Errorf("entity type %q already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Definition returns the registered definition for the type.
func (r *Registry) Definition(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// DefinitionOrDefault returns the registered definition, or the fallback
// default for unregistered types.
func (r *Registry) DefinitionOrDefault(name string) *Definition {
	if def, ok := r.Definition(name); ok {
		return def
	}
	return DefaultDefinition(name)
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// defaultPlural derives a resource plural from a type name the way the
// bundled services expect one when metadata does not say otherwise.
func defaultPlural(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "z"), strings.HasSuffix(lower, "ch"),
		strings.HasSuffix(lower, "sh"):
		return lower + "es"
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !isVowel(lower[len(lower)-2]):
		return lower[:len(lower)-1] + "ies"
	default:
		return lower + "s"
	}
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
