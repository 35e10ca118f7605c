package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmwren/replica/pkg/entity"
)

func filteredHeroDef(t *testing.T) *entity.Definition {
	t.Helper()
	def, err := entity.NewDefinition("hero",
		entity.WithFilterFn(entity.FilterByFields([]string{"name"}, entity.MatchSubstring, true)),
	)
	require.NoError(t, err)
	return def
}

func heroCacheCollection(t *testing.T, actions ...entity.Action) *entity.Collection {
	t.Helper()
	c := reduceAll(nil, nil, actions...)
	return heroCollection(t, c)
}

func TestSelectors_All_IDsOrder(t *testing.T) {
	col := heroCacheCollection(t,
		addOneAction(entity.D("id", 3, "name", "C")),
		addOneAction(entity.D("id", 1, "name", "A")),
	)

	sel := NewSelectors(entity.DefaultDefinition("hero"))
	docs := sel.All(col)

	require.Len(t, docs, 2)
	assert.Equal(t, entity.String("C"), docs[0]["name"])
	assert.Equal(t, entity.String("A"), docs[1]["name"])
}

func TestSelectors_All_MemoizedOnPointer(t *testing.T) {
	col := heroCacheCollection(t, addOneAction(entity.D("id", 1, "name", "A")))

	sel := NewSelectors(entity.DefaultDefinition("hero"))
	first := sel.All(col)
	second := sel.All(col)

	require.NotEmpty(t, first)
	assert.True(t, &first[0] == &second[0], "same collection pointer must return the memoized slice")
}

func TestSelectors_All_RecomputesOnNewPointer(t *testing.T) {
	c := reduceAll(nil, nil, addOneAction(entity.D("id", 1, "name", "A")))
	col := heroCollection(t, c)

	next := Reduce(c, addOneAction(entity.D("id", 2, "name", "B")), nil)
	colNext := heroCollection(t, next)

	sel := NewSelectors(entity.DefaultDefinition("hero"))
	assert.Len(t, sel.All(col), 1)
	assert.Len(t, sel.All(colNext), 2)
}

func TestSelectors_All_NilCollection(t *testing.T) {
	sel := NewSelectors(entity.DefaultDefinition("hero"))
	assert.Nil(t, sel.All(nil))
	assert.Nil(t, sel.Filtered(nil))
}

func TestSelectors_Filtered_AppliesPattern(t *testing.T) {
	col := heroCacheCollection(t,
		addOneAction(entity.D("id", 1, "name", "Storm Wind")),
		addOneAction(entity.D("id", 2, "name", "Quiet Sea")),
		entity.Action{Entity: "hero", Op: entity.OpSetFilter, Payload: entity.FilterPayload(entity.String("storm"))},
	)

	sel := NewSelectors(filteredHeroDef(t))
	docs := sel.Filtered(col)

	require.Len(t, docs, 1)
	assert.Equal(t, entity.String("Storm Wind"), docs[0]["name"])
}

func TestSelectors_Filtered_NoPattern_PassThrough(t *testing.T) {
	col := heroCacheCollection(t,
		addOneAction(entity.D("id", 1, "name", "A")),
		addOneAction(entity.D("id", 2, "name", "B")),
	)

	sel := NewSelectors(filteredHeroDef(t))
	assert.Len(t, sel.Filtered(col), 2)
}

func TestSelectors_Filtered_NoPredicate_EqualsAll(t *testing.T) {
	col := heroCacheCollection(t, addOneAction(entity.D("id", 1, "name", "A")))

	sel := NewSelectors(entity.DefaultDefinition("hero"))
	all := sel.All(col)
	filtered := sel.Filtered(col)

	require.NotEmpty(t, all)
	assert.True(t, &all[0] == &filtered[0], "without a predicate, filtered is the all view")
}

func TestSelectors_Filtered_MemoizedOnPointer(t *testing.T) {
	calls := 0
	def, err := entity.NewDefinition("hero",
		entity.WithFilterFn(func(docs []entity.Doc, pattern entity.Value) []entity.Doc {
			calls++
			return docs
		}),
	)
	require.NoError(t, err)

	col := heroCacheCollection(t, addOneAction(entity.D("id", 1, "name", "A")))

	sel := NewSelectors(def)
	sel.Filtered(col)
	sel.Filtered(col)
	sel.Filtered(col)
	assert.Equal(t, 1, calls, "same collection pointer must not re-run the predicate")

	next := Reduce(reduceAll(nil, nil, addOneAction(entity.D("id", 1, "name", "A"))),
		addOneAction(entity.D("id", 2, "name", "B")), nil)
	sel.Filtered(heroCollection(t, next))
	assert.Equal(t, 2, calls, "a new collection pointer recomputes")
}

func TestSelectors_PackageHelpers(t *testing.T) {
	def, err := entity.NewDefinition("hero",
		entity.WithExtraDefaults(entity.D("page", 1)),
	)
	require.NoError(t, err)
	reg, err := entity.NewRegistry(def)
	require.NoError(t, err)

	c := reduceAll(nil, reg,
		addOneAction(entity.D("id", 2)),
		addOneAction(entity.D("id", 5)),
		entity.Action{Entity: "hero", Op: entity.OpSetFilter, Payload: entity.FilterPayload(entity.String("x"))},
		entity.Action{Entity: "hero", Op: entity.OpQueryAll},
	)
	col := heroCollection(t, c)

	assert.Equal(t, []entity.Key{entity.IntKey(2), entity.IntKey(5)}, IDs(col))
	assert.True(t, Loading(col))
	assert.Equal(t, entity.String("x"), Filter(col))

	page, ok := ExtraField(col, "page")
	require.True(t, ok)
	assert.Equal(t, entity.Int(1), page)

	_, ok = ExtraField(col, "absent")
	assert.False(t, ok)
}

func TestSelectors_NilCollectionHelpers(t *testing.T) {
	assert.Nil(t, IDs(nil))
	assert.False(t, Loading(nil))
	assert.Nil(t, Filter(nil))
	_, ok := ExtraField(nil, "page")
	assert.False(t, ok)
}
