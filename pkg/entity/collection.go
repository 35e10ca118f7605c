package entity

import (
	"fmt"
	"slices"
)

// Collection is the normalized per-type state: an ordered key list, the
// key→entity map, the outstanding-query flag, the current filter pattern,
// and any configured extension fields.
//
// Collection values are structurally immutable by convention: the reducer
// builds a new value for every transition and never mutates one in place.
// An untouched collection keeps its pointer identity across transitions,
// which is the property selector memoization keys on.
type Collection struct {
	IDs      []Key
	Entities map[Key]Doc
	Loading  bool
	Filter   Value // nil until a filter has been set
	Extra    Doc   // nil when the type declares no extension fields
}

// NewCollection returns the default collection for a definition: no
// entities, not loading, no filter, extension fields at their defaults.
func NewCollection(def *Definition) *Collection {
	c := &Collection{
		IDs:      []Key{},
		Entities: map[Key]Doc{},
	}
	if len(def.ExtraDefaults) > 0 {
		c.Extra = def.ExtraDefaults.Clone()
	}
	return c
}

// Has reports whether the key is present.
func (c *Collection) Has(k Key) bool {
	_, ok := c.Entities[k]
	return ok
}

// Get returns the entity under the key.
func (c *Collection) Get(k Key) (Doc, bool) {
	d, ok := c.Entities[k]
	return d, ok
}

// Len returns the number of entities.
func (c *Collection) Len() int {
	return len(c.IDs)
}

// CheckInvariants verifies the structural contract: IDs holds no
// duplicates and agrees with the Entities key set exactly.
func (c *Collection) CheckInvariants() error {
	seen := make(map[Key]struct{}, len(c.IDs))
	for _, id := range c.IDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate id %v in collection", id)
		}
		seen[id] = struct{}{}
		if _, ok := c.Entities[id]; !ok {
			return fmt.Errorf("id %v has no entity", id)
		}
	}
	if len(c.Entities) != len(c.IDs) {
		return fmt.Errorf("entities holds %d keys, ids holds %d", len(c.Entities), len(c.IDs))
	}
	return nil
}

// canonicalDoc renders the collection for snapshot serialization.
// Entities are keyed by the display form of their key; the typed form
// survives in the ids array.
func (c *Collection) canonicalDoc() Doc {
	ids := make(Array, len(c.IDs))
	entities := make(Doc, len(c.Entities))
	for i, id := range c.IDs {
		ids[i] = id.Value()
		entities[id.String()] = c.Entities[id]
	}
	d := Doc{
		"ids":      ids,
		"entities": entities,
		"loading":  Bool(c.Loading),
	}
	if c.Filter != nil {
		d["filter"] = c.Filter
	}
	if c.Extra != nil {
		d["extra"] = c.Extra
	}
	return d
}

// Cache is the single root of entity state: type name → collection.
// Transitions replace it wholesale; With returns a new cache sharing
// every untouched collection with its predecessor.
type Cache struct {
	collections map[string]*Collection
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{collections: map[string]*Collection{}}
}

// Collection returns the collection for the entity type, if one has been
// created by a previous transition.
func (c *Cache) Collection(name string) (*Collection, bool) {
	col, ok := c.collections[name]
	return col, ok
}

// With returns a new cache in which the named collection is replaced.
// All other collections are shared with the receiver.
func (c *Cache) With(name string, col *Collection) *Cache {
	next := make(map[string]*Collection, len(c.collections)+1)
	for k, v := range c.collections {
		next[k] = v
	}
	next[name] = col
	return &Cache{collections: next}
}

// Names returns the entity types present, sorted.
func (c *Cache) Names() []string {
	names := make([]string, 0, len(c.collections))
	for name := range c.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of collections.
func (c *Cache) Len() int {
	return len(c.collections)
}

// canonicalDoc renders the full cache for snapshot serialization.
func (c *Cache) canonicalDoc() Doc {
	d := make(Doc, len(c.collections))
	for name, col := range c.collections {
		d[name] = col.canonicalDoc()
	}
	return d
}

// MarshalJSON encodes the cache snapshot with deterministic key order.
func (c *Cache) MarshalJSON() ([]byte, error) {
	return c.canonicalDoc().MarshalJSON()
}
