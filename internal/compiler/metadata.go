// Package compiler turns CUE entity-metadata declarations into
// entity.Metadata values. Parsing uses the CUE SDK's Go API directly
// (not CLI subprocess); every error carries its source position.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/jmwren/replica/pkg/entity"
)

// CompileEntities parses the `entities` struct into metadata, one entry
// per declared type. All errors are collected so a single run reports
// every problem in the file.
//
// The CUE value should be the entities struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entities: Hero: { key: "id" }`)
//	metas, errs := CompileEntities(v.LookupPath(cue.ParsePath("entities")))
func CompileEntities(v cue.Value) ([]entity.Metadata, []error) {
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var metas []entity.Metadata
	var errs []error
	for iter.Next() {
		meta, err := compileEntity(iter.Label(), iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		metas = append(metas, meta)
	}
	return metas, errs
}

// compileEntity parses one entity declaration.
func compileEntity(name string, v cue.Value) (entity.Metadata, error) {
	meta := entity.Metadata{Name: name}

	// Parse key field (optional, defaults to "id")
	keyVal := v.LookupPath(cue.ParsePath("key"))
	if keyVal.Exists() {
		key, err := keyVal.String()
		if err != nil {
			return meta, formatCUEError(err)
		}
		if key == "" {
			return meta, &CompileError{
				Field:   name + ".key",
				Message: "key field name must not be empty",
				Pos:     keyVal.Pos(),
			}
		}
		meta.KeyField = key
	}

	// Parse plural (optional)
	pluralVal := v.LookupPath(cue.ParsePath("plural"))
	if pluralVal.Exists() {
		plural, err := pluralVal.String()
		if err != nil {
			return meta, formatCUEError(err)
		}
		if plural == "" {
			return meta, &CompileError{
				Field:   name + ".plural",
				Message: "plural must not be empty",
				Pos:     pluralVal.Pos(),
			}
		}
		meta.Plural = plural
	}

	// Parse sort (optional)
	sortVal := v.LookupPath(cue.ParsePath("sort"))
	if sortVal.Exists() {
		sort, err := parseSort(name, sortVal)
		if err != nil {
			return meta, err
		}
		meta.Sort = sort
	}

	// Parse filter (optional)
	filterVal := v.LookupPath(cue.ParsePath("filter"))
	if filterVal.Exists() {
		filter, err := parseFilter(name, filterVal)
		if err != nil {
			return meta, err
		}
		meta.Filter = filter
	}

	// Parse extra defaults (optional, scalars only)
	extraVal := v.LookupPath(cue.ParsePath("extra"))
	if extraVal.Exists() {
		extra, err := parseExtra(name, extraVal)
		if err != nil {
			return meta, err
		}
		meta.Extra = extra
	}

	return meta, nil
}

// parseSort extracts a sort specification.
func parseSort(name string, v cue.Value) (*entity.SortSpec, error) {
	fieldVal := v.LookupPath(cue.ParsePath("field"))
	if !fieldVal.Exists() {
		return nil, &CompileError{
			Field:   name + ".sort",
			Message: "sort requires a 'field'",
			Pos:     v.Pos(),
		}
	}
	field, err := fieldVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	spec := &entity.SortSpec{Field: field}

	dirVal := v.LookupPath(cue.ParsePath("direction"))
	if dirVal.Exists() {
		dir, err := dirVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		switch dir {
		case "asc":
		case "desc":
			spec.Descending = true
		default:
			return nil, &CompileError{
				Field:   name + ".sort.direction",
				Message: fmt.Sprintf("invalid direction %q, must be \"asc\" or \"desc\"", dir),
				Pos:     dirVal.Pos(),
			}
		}
	}

	return spec, nil
}

// parseFilter extracts a filter specification.
func parseFilter(name string, v cue.Value) (*entity.FilterSpec, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{
			Field:   name + ".filter",
			Message: "filter requires 'fields'",
			Pos:     v.Pos(),
		}
	}

	iter, err := fieldsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	spec := &entity.FilterSpec{}
	for iter.Next() {
		field, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Fields = append(spec.Fields, field)
	}
	if len(spec.Fields) == 0 {
		return nil, &CompileError{
			Field:   name + ".filter.fields",
			Message: "filter needs at least one field",
			Pos:     fieldsVal.Pos(),
		}
	}

	matchVal := v.LookupPath(cue.ParsePath("match"))
	if matchVal.Exists() {
		match, err := matchVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		switch match {
		case entity.MatchSubstring, entity.MatchEquals:
			spec.Match = match
		default:
			return nil, &CompileError{
				Field:   name + ".filter.match",
				Message: fmt.Sprintf("invalid match %q, must be \"substring\" or \"equals\"", match),
				Pos:     matchVal.Pos(),
			}
		}
	}

	foldVal := v.LookupPath(cue.ParsePath("fold"))
	if foldVal.Exists() {
		fold, err := foldVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Fold = fold
	}

	return spec, nil
}

// parseExtra extracts extra collection defaults. Values must be scalar;
// nested structures have no place in collection extras.
func parseExtra(name string, v cue.Value) (entity.Doc, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	extra := entity.Doc{}
	for iter.Next() {
		label := iter.Label()
		val, err := scalarValue(iter.Value())
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s.extra.%s", name, label),
				Message: err.Error(),
				Pos:     iter.Value().Pos(),
			}
		}
		extra[label] = val
	}
	return extra, nil
}

// scalarValue converts a concrete CUE scalar into a document value.
func scalarValue(v cue.Value) (entity.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return entity.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, err
		}
		return entity.Bool(b), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return entity.Int(i), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return entity.Float(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, err
		}
		return entity.String(s), nil
	default:
		return nil, fmt.Errorf("must be a scalar, got %v", v.Kind())
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
