package cache

import (
	"slices"
	"sort"

	"github.com/jmwren/replica/pkg/entity"
)

// Reduce applies one action to a cache snapshot and returns the next
// snapshot. Pure: no side effects, no mutation of the input; journal replay
// folds this exact function over the recorded actions.
//
// Totality rules:
//   - an undeclared op returns the input cache unchanged
//   - a malformed payload for a declared op returns the input unchanged
//   - a well-formed action for a type never seen before materializes that
//     type's default collection, even when the transition itself is a no-op
//
// Semantic no-ops (add on present key, update or remove on absent key,
// loading already at its target) keep the collection's pointer identity, so
// selectors and views can skip work on the other side.
func Reduce(c *entity.Cache, a entity.Action, reg *entity.Registry) *entity.Cache {
	if c == nil {
		c = entity.NewCache()
	}
	if a.Entity == "" {
		return c
	}

	def := definitionFor(reg, a.Entity)

	col, existed := c.Collection(a.Entity)
	if !existed {
		col = entity.NewCollection(def)
	}

	next, handled := reduceCollection(col, def, a)
	if !handled {
		return c
	}
	if existed && next == col {
		return c
	}
	return c.With(a.Entity, next)
}

func definitionFor(reg *entity.Registry, name string) *entity.Definition {
	if reg == nil {
		return entity.DefaultDefinition(name)
	}
	return reg.DefinitionOrDefault(name)
}

// reduceCollection computes one collection transition. handled=false means
// the action could not be interpreted (undeclared op, malformed payload) and
// the cache must stay byte-for-byte as it was.
func reduceCollection(col *entity.Collection, def *entity.Definition, a entity.Action) (next *entity.Collection, handled bool) {
	p := a.Payload

	switch a.Op {
	// Query begin: the round-trip is outstanding, nothing else changes.
	case entity.OpQueryAll, entity.OpQueryByKey, entity.OpQueryMany:
		return setLoading(col, true), true

	case entity.OpQueryAllSuccess:
		if p == nil || p.Docs == nil {
			return nil, false
		}
		return replaceAll(col, def, p.Docs), true

	case entity.OpQueryByKeySuccess:
		if p == nil || p.Doc == nil {
			return nil, false
		}
		return setLoading(upsertOne(col, def, p.Doc), false), true

	case entity.OpQueryManySuccess:
		if p == nil || p.Docs == nil {
			return nil, false
		}
		out := col
		for _, doc := range p.Docs {
			out = upsertOne(out, def, doc)
		}
		return setLoading(out, false), true

	case entity.OpQueryAllError, entity.OpQueryByKeyError, entity.OpQueryManyError:
		return setLoading(col, false), true

	// Save begin: pessimistic, the cache waits for the result.
	case entity.OpSaveAdd, entity.OpSaveUpdate, entity.OpSaveDelete:
		return col, true

	case entity.OpSaveAddSuccess:
		if p == nil || p.Doc == nil {
			return nil, false
		}
		return addOne(col, def, p.Doc), true

	case entity.OpSaveUpdateSuccess:
		if p == nil || p.Update == nil {
			return nil, false
		}
		return updateOne(col, def, *p.Update), true

	case entity.OpSaveDeleteSuccess:
		if p == nil || p.Key == nil {
			return nil, false
		}
		return removeOne(col, p.Key), true

	case entity.OpSaveAddError, entity.OpSaveUpdateError, entity.OpSaveDeleteError:
		return col, true

	case entity.OpAddOne:
		if p == nil || p.Doc == nil {
			return nil, false
		}
		return addOne(col, def, p.Doc), true

	case entity.OpAddMany:
		if p == nil || p.Docs == nil {
			return nil, false
		}
		out := col
		for _, doc := range p.Docs {
			out = addOne(out, def, doc)
		}
		return out, true

	case entity.OpAddAll:
		if p == nil || p.Docs == nil {
			return nil, false
		}
		return replaceAll(col, def, p.Docs), true

	case entity.OpUpdateOne:
		if p == nil || p.Update == nil {
			return nil, false
		}
		return updateOne(col, def, *p.Update), true

	case entity.OpUpdateMany:
		if p == nil || p.Updates == nil {
			return nil, false
		}
		out := col
		for _, u := range p.Updates {
			out = updateOne(out, def, u)
		}
		return out, true

	case entity.OpRemoveOne:
		if p == nil || p.Key == nil {
			return nil, false
		}
		return removeOne(col, p.Key), true

	case entity.OpRemoveMany:
		if p == nil || p.Keys == nil {
			return nil, false
		}
		out := col
		for _, k := range p.Keys {
			out = removeOne(out, k)
		}
		return out, true

	case entity.OpRemoveAll:
		return entity.NewCollection(def), true

	case entity.OpSetFilter:
		if p == nil || p.Filter == nil {
			return nil, false
		}
		return setFilter(col, p.Filter), true
	}

	return nil, false
}

// setLoading flips the loading flag, keeping pointer identity when the flag
// is already at its target.
func setLoading(col *entity.Collection, loading bool) *entity.Collection {
	if col.Loading == loading {
		return col
	}
	out := *col
	out.Loading = loading
	return &out
}

// setFilter replaces the filter pattern only. Null normalizes to the cleared
// state so a cleared filter and a never-set filter are the same snapshot.
func setFilter(col *entity.Collection, pattern entity.Value) *entity.Collection {
	if _, isNull := pattern.(entity.Null); isNull {
		pattern = nil
	}
	if col.Filter == nil && pattern == nil {
		return col
	}
	if col.Filter != nil && pattern != nil && entity.Equal(col.Filter, pattern) {
		return col
	}
	out := *col
	out.Filter = pattern
	return &out
}

// addOne inserts a document if its key is absent. Add never overwrites: a
// present key keeps the collection pointer untouched. A document whose key
// cannot be extracted is skipped (the dispatcher rejects these; replayed
// input must still reduce).
func addOne(col *entity.Collection, def *entity.Definition, doc entity.Doc) *entity.Collection {
	key, err := def.SelectID(doc)
	if err != nil {
		return col
	}
	if col.Has(key) {
		return col
	}
	return insert(col, def, key, doc)
}

// upsertOne inserts an absent document or replaces a present one wholesale.
// Query results carry full server documents, so replacement (not field
// merge) is the correct reconciliation.
func upsertOne(col *entity.Collection, def *entity.Definition, doc entity.Doc) *entity.Collection {
	key, err := def.SelectID(doc)
	if err != nil {
		return col
	}
	if !col.Has(key) {
		return insert(col, def, key, doc)
	}

	out := *col
	entities := cloneEntities(col.Entities)
	entities[key] = doc
	out.Entities = entities
	if def.SortComparer != nil {
		out.IDs = reposition(col.IDs, entities, def.SortComparer, key)
	}
	return &out
}

// updateOne shallow-merges changes into a present entity, preserving fields
// the update does not mention. Update never creates: an absent key keeps the
// collection pointer untouched.
func updateOne(col *entity.Collection, def *entity.Definition, u entity.Update) *entity.Collection {
	if u.ID == nil {
		return col
	}
	existing, ok := col.Get(u.ID)
	if !ok {
		return col
	}

	out := *col
	entities := cloneEntities(col.Entities)
	entities[u.ID] = existing.Merge(u.Changes)
	out.Entities = entities
	if def.SortComparer != nil {
		out.IDs = reposition(col.IDs, entities, def.SortComparer, u.ID)
	}
	return &out
}

// removeOne deletes a key. Idempotent: an absent key keeps the collection
// pointer untouched.
func removeOne(col *entity.Collection, key entity.Key) *entity.Collection {
	if !col.Has(key) {
		return col
	}

	out := *col
	ids := make([]entity.Key, 0, len(col.IDs)-1)
	for _, id := range col.IDs {
		if id != key {
			ids = append(ids, id)
		}
	}
	entities := make(map[entity.Key]entity.Doc, len(col.Entities)-1)
	for k, v := range col.Entities {
		if k != key {
			entities[k] = v
		}
	}
	out.IDs = ids
	out.Entities = entities
	return &out
}

// replaceAll rebuilds the collection's contents from the given documents and
// clears loading. Filter and extra state survive; only REMOVE_ALL resets
// those. Duplicate keys inside the payload: last document wins, position
// from first occurrence.
func replaceAll(col *entity.Collection, def *entity.Definition, docs []entity.Doc) *entity.Collection {
	ids := make([]entity.Key, 0, len(docs))
	entities := make(map[entity.Key]entity.Doc, len(docs))
	for _, doc := range docs {
		key, err := def.SelectID(doc)
		if err != nil {
			continue
		}
		if _, seen := entities[key]; !seen {
			ids = append(ids, key)
		}
		entities[key] = doc
	}
	if def.SortComparer != nil {
		slices.SortStableFunc(ids, func(a, b entity.Key) int {
			return def.SortComparer(entities[a], entities[b])
		})
	}

	out := *col
	out.IDs = ids
	out.Entities = entities
	out.Loading = false
	return &out
}

// insert adds a new key at its sorted position, or at the end when no
// comparator is configured.
func insert(col *entity.Collection, def *entity.Definition, key entity.Key, doc entity.Doc) *entity.Collection {
	entities := cloneEntities(col.Entities)
	entities[key] = doc

	var ids []entity.Key
	if def.SortComparer != nil {
		i := sort.Search(len(col.IDs), func(i int) bool {
			return def.SortComparer(doc, col.Entities[col.IDs[i]]) < 0
		})
		ids = slices.Insert(slices.Clone(col.IDs), i, key)
	} else {
		ids = append(slices.Clone(col.IDs), key)
	}

	out := *col
	out.IDs = ids
	out.Entities = entities
	return &out
}

// reposition moves one key to its sorted position after its document
// changed. Equal documents keep their relative order.
func reposition(ids []entity.Key, entities map[entity.Key]entity.Doc, cmp func(a, b entity.Doc) int, key entity.Key) []entity.Key {
	rest := make([]entity.Key, 0, len(ids))
	for _, id := range ids {
		if id != key {
			rest = append(rest, id)
		}
	}

	doc := entities[key]
	i := sort.Search(len(rest), func(i int) bool {
		return cmp(doc, entities[rest[i]]) < 0
	})

	out := make([]entity.Key, 0, len(ids))
	out = append(out, rest[:i]...)
	out = append(out, key)
	out = append(out, rest[i:]...)
	return out
}

func cloneEntities(m map[entity.Key]entity.Doc) map[entity.Key]entity.Doc {
	out := make(map[entity.Key]entity.Doc, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
