package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmwren/replica/pkg/entity"
)

func compileString(t *testing.T, src string) ([]entity.Metadata, []error) {
	t.Helper()

	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileEntities(v.LookupPath(cue.ParsePath("entities")))
}

func TestCompileEntitiesBasic(t *testing.T) {
	metas, errs := compileString(t, `
		entities: Hero: {
			key:    "id"
			plural: "heroes"
			sort:   {field: "name", direction: "asc"}
			filter: {fields: ["name"], match: "substring", fold: true}
			extra:  {loaded: false}
		}
	`)

	require.Empty(t, errs)
	require.Len(t, metas, 1)

	meta := metas[0]
	assert.Equal(t, "Hero", meta.Name)
	assert.Equal(t, "id", meta.KeyField)
	assert.Equal(t, "heroes", meta.Plural)

	require.NotNil(t, meta.Sort)
	assert.Equal(t, "name", meta.Sort.Field)
	assert.False(t, meta.Sort.Descending)

	require.NotNil(t, meta.Filter)
	assert.Equal(t, []string{"name"}, meta.Filter.Fields)
	assert.Equal(t, entity.MatchSubstring, meta.Filter.Match)
	assert.True(t, meta.Filter.Fold)

	require.Len(t, meta.Extra, 1)
	assert.True(t, entity.Equal(meta.Extra["loaded"], entity.Bool(false)))
}

func TestCompileEntitiesMinimal(t *testing.T) {
	metas, errs := compileString(t, `entities: hero: {}`)

	require.Empty(t, errs)
	require.Len(t, metas, 1)
	assert.Equal(t, "hero", metas[0].Name)
	assert.Empty(t, metas[0].KeyField)
	assert.Nil(t, metas[0].Sort)
	assert.Nil(t, metas[0].Filter)
	assert.Nil(t, metas[0].Extra)
}

func TestCompileEntitiesMultiple(t *testing.T) {
	metas, errs := compileString(t, `
		entities: {
			hero:    {key: "id"}
			villain: {key: "slug"}
		}
	`)

	require.Empty(t, errs)
	require.Len(t, metas, 2)
	assert.Equal(t, "hero", metas[0].Name)
	assert.Equal(t, "villain", metas[1].Name)
	assert.Equal(t, "slug", metas[1].KeyField)
}

func TestCompileEntitiesDescendingSort(t *testing.T) {
	metas, errs := compileString(t, `
		entities: hero: {
			sort: {field: "rank", direction: "desc"}
		}
	`)

	require.Empty(t, errs)
	require.NotNil(t, metas[0].Sort)
	assert.True(t, metas[0].Sort.Descending)
}

func TestCompileEntitiesSortDefaultsAscending(t *testing.T) {
	metas, errs := compileString(t, `
		entities: hero: {
			sort: {field: "name"}
		}
	`)

	require.Empty(t, errs)
	require.NotNil(t, metas[0].Sort)
	assert.False(t, metas[0].Sort.Descending)
}

func TestCompileEntitiesInvalidDirection(t *testing.T) {
	_, errs := compileString(t, `
		entities: hero: {
			sort: {field: "name", direction: "sideways"}
		}
	`)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "direction")
	assert.Contains(t, errs[0].Error(), "sideways")
}

func TestCompileEntitiesSortWithoutField(t *testing.T) {
	_, errs := compileString(t, `
		entities: hero: {
			sort: {direction: "asc"}
		}
	`)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "field")
}

func TestCompileEntitiesInvalidMatch(t *testing.T) {
	_, errs := compileString(t, `
		entities: hero: {
			filter: {fields: ["name"], match: "regex"}
		}
	`)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "match")
	assert.Contains(t, errs[0].Error(), "regex")
}

func TestCompileEntitiesFilterWithoutFields(t *testing.T) {
	_, errs := compileString(t, `
		entities: hero: {
			filter: {match: "equals"}
		}
	`)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "fields")
}

func TestCompileEntitiesEmptyFilterFields(t *testing.T) {
	_, errs := compileString(t, `
		entities: hero: {
			filter: {fields: []}
		}
	`)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "at least one field")
}

func TestCompileEntitiesEmptyKey(t *testing.T) {
	_, errs := compileString(t, `
		entities: hero: {key: ""}
	`)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "key")
}

func TestCompileEntitiesExtraScalars(t *testing.T) {
	metas, errs := compileString(t, `
		entities: hero: {
			extra: {
				loaded:   false
				page:     1
				ratio:    0.5
				label:    "none"
				selected: null
			}
		}
	`)

	require.Empty(t, errs)
	extra := metas[0].Extra
	assert.True(t, entity.Equal(extra["loaded"], entity.Bool(false)))
	assert.True(t, entity.Equal(extra["page"], entity.Int(1)))
	assert.True(t, entity.Equal(extra["ratio"], entity.Float(0.5)))
	assert.True(t, entity.Equal(extra["label"], entity.String("none")))
	assert.True(t, entity.Equal(extra["selected"], entity.Null{}))
}

func TestCompileEntitiesExtraRejectsStructs(t *testing.T) {
	_, errs := compileString(t, `
		entities: hero: {
			extra: {nested: {deep: true}}
		}
	`)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "extra.nested")
	assert.Contains(t, errs[0].Error(), "scalar")
}

func TestCompileEntitiesCollectsAllErrors(t *testing.T) {
	metas, errs := compileString(t, `
		entities: {
			good:  {key: "id"}
			bad1:  {sort: {direction: "asc"}}
			bad2:  {filter: {match: "regex", fields: ["x"]}}
		}
	`)

	// One good entity survives; both broken ones are reported.
	assert.Len(t, metas, 1)
	assert.Len(t, errs, 2)
}

func TestCompileErrorCarriesPosition(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(
		"entities: hero: {\n\tsort: {field: \"name\", direction: \"sideways\"}\n}",
		cue.Filename("heroes.cue"),
	)
	require.NoError(t, v.Err())

	_, errs := CompileEntities(v.LookupPath(cue.ParsePath("entities")))
	require.Len(t, errs, 1)

	var compileErr *CompileError
	require.ErrorAs(t, errs[0], &compileErr)
	assert.True(t, compileErr.Pos.IsValid())
	assert.Contains(t, errs[0].Error(), "heroes.cue")
}

func TestCompiledMetadataBuildsDefinitions(t *testing.T) {
	metas, errs := compileString(t, `
		entities: hero: {
			key:    "slug"
			plural: "heroes"
			sort:   {field: "name", direction: "desc"}
		}
	`)
	require.Empty(t, errs)

	def, err := entity.BuildDefinition(metas[0])
	require.NoError(t, err)

	key, err := def.SelectID(entity.D("slug", "al"))
	require.NoError(t, err)
	assert.Equal(t, entity.StringKey("al"), key)

	assert.Equal(t, "heroes", def.Plural)
	assert.NotNil(t, def.SortComparer)
	assert.Positive(t, def.SortComparer(entity.D("name", "Abe"), entity.D("name", "Zed")))
}
