package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/jmwren/replica/pkg/entity"
)

// CompileFile compiles the `entities` declarations in one CUE file.
// All errors are collected; positions carry the file name.
func CompileFile(path string) ([]entity.Metadata, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{fmt.Errorf("reading metadata file: %w", err)}
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	entitiesVal := v.LookupPath(cue.ParsePath("entities"))
	if !entitiesVal.Exists() {
		return nil, []error{&CompileError{
			Field:   "entities",
			Message: fmt.Sprintf("no entities declared in %s", path),
			Pos:     v.Pos(),
		}}
	}

	return CompileEntities(entitiesVal)
}

// CompileFiles compiles several metadata files into one set. An entity
// type declared in more than one file is an error.
func CompileFiles(paths []string) ([]entity.Metadata, []error) {
	var metas []entity.Metadata
	var errs []error

	declaredIn := make(map[string]string)
	for _, path := range paths {
		fileMetas, fileErrs := CompileFile(path)
		errs = append(errs, fileErrs...)

		for _, meta := range fileMetas {
			if prev, dup := declaredIn[meta.Name]; dup {
				errs = append(errs, fmt.Errorf(
					"entity type %q declared in both %s and %s", meta.Name, prev, path))
				continue
			}
			declaredIn[meta.Name] = path
			metas = append(metas, meta)
		}
	}

	return metas, errs
}

// BuildRegistry turns compiled metadata into a registry of working
// definitions.
func BuildRegistry(metas []entity.Metadata) (*entity.Registry, error) {
	defs := make([]*entity.Definition, 0, len(metas))
	for _, meta := range metas {
		def, err := entity.BuildDefinition(meta)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return entity.NewRegistry(defs...)
}
