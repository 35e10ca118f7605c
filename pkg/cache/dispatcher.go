package cache

import (
	"fmt"

	"github.com/jmwren/replica/pkg/entity"
)

// Dispatcher is the write surface for one entity type. Every command builds
// exactly one action, enqueues it, and returns; results surface through
// reconciliation actions and views, never through return values. The only
// errors returned here are command-misuse errors, detected before anything
// is enqueued.
type Dispatcher struct {
	store *Store
	def   *entity.Definition
}

// Dispatcher returns the command surface for the named entity type. With a
// registry configured the name must be registered; without one any name is
// served by the default definition.
func (s *Store) Dispatcher(name string) (*Dispatcher, error) {
	if s.reg == nil {
		return &Dispatcher{store: s, def: entity.DefaultDefinition(name)}, nil
	}
	def, ok := s.reg.Definition(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownEntity, name)
	}
	return &Dispatcher{store: s, def: def}, nil
}

// EntityName reports which type this dispatcher writes.
func (d *Dispatcher) EntityName() string { return d.def.Name }

// Add persists a new document. The cache is untouched until the service
// confirms; a server-assigned key arrives with the success result.
func (d *Dispatcher) Add(doc entity.Doc) error {
	if err := d.requireService(entity.OpSaveAdd); err != nil {
		return err
	}
	if doc == nil {
		return commandErr(d.def.Name, entity.OpSaveAdd, entity.ErrNilDocument)
	}
	return d.send(entity.OpSaveAdd, entity.DocPayload(doc))
}

// Update persists a partial document. The partial must carry the fields
// the type's key extractor reads; the rest is merged into the cached
// document when the service confirms.
func (d *Dispatcher) Update(changes entity.Doc) error {
	if err := d.requireService(entity.OpSaveUpdate); err != nil {
		return err
	}
	u, err := d.toUpdate(entity.OpSaveUpdate, changes)
	if err != nil {
		return err
	}
	return d.send(entity.OpSaveUpdate, entity.UpdatePayload(u))
}

// Delete persists a removal by key.
func (d *Dispatcher) Delete(key entity.Key) error {
	if err := d.requireService(entity.OpSaveDelete); err != nil {
		return err
	}
	if key == nil {
		return commandErr(d.def.Name, entity.OpSaveDelete, entity.ErrMissingKey)
	}
	return d.send(entity.OpSaveDelete, entity.KeyPayload(key))
}

// DeleteEntity persists a removal, resolving the key from the document.
func (d *Dispatcher) DeleteEntity(doc entity.Doc) error {
	if err := d.requireService(entity.OpSaveDelete); err != nil {
		return err
	}
	key, err := d.resolveKey(entity.OpSaveDelete, doc)
	if err != nil {
		return err
	}
	return d.send(entity.OpSaveDelete, entity.KeyPayload(key))
}

// GetAll queries every document of the type. The success result replaces
// the collection's contents.
func (d *Dispatcher) GetAll() error {
	if err := d.requireService(entity.OpQueryAll); err != nil {
		return err
	}
	return d.send(entity.OpQueryAll, nil)
}

// GetByKey queries one document by key. The success result upserts it.
func (d *Dispatcher) GetByKey(key entity.Key) error {
	if err := d.requireService(entity.OpQueryByKey); err != nil {
		return err
	}
	if key == nil {
		return commandErr(d.def.Name, entity.OpQueryByKey, entity.ErrMissingKey)
	}
	return d.send(entity.OpQueryByKey, entity.KeyPayload(key))
}

// GetWithQuery queries documents matching q. Success results are merged
// into the collection, not a replacement; a nil query matches everything.
func (d *Dispatcher) GetWithQuery(q entity.Query) error {
	if err := d.requireService(entity.OpQueryMany); err != nil {
		return err
	}
	if q == nil {
		q = entity.Query{}
	}
	return d.send(entity.OpQueryMany, entity.QueryPayload(q))
}

// AddOneToCache inserts a document locally. A key the collection already
// holds leaves it unchanged.
func (d *Dispatcher) AddOneToCache(doc entity.Doc) error {
	if doc == nil {
		return commandErr(d.def.Name, entity.OpAddOne, entity.ErrNilDocument)
	}
	return d.send(entity.OpAddOne, entity.DocPayload(doc))
}

// AddManyToCache inserts documents locally. An empty slice dispatches
// nothing.
func (d *Dispatcher) AddManyToCache(docs []entity.Doc) error {
	if len(docs) == 0 {
		return nil
	}
	if err := d.checkDocs(entity.OpAddMany, docs); err != nil {
		return err
	}
	return d.send(entity.OpAddMany, entity.DocsPayload(docs))
}

// AddAllToCache replaces the collection's contents locally, as if a full
// query had succeeded. An empty slice is a valid replacement and empties
// the collection.
func (d *Dispatcher) AddAllToCache(docs []entity.Doc) error {
	if err := d.checkDocs(entity.OpAddAll, docs); err != nil {
		return err
	}
	if docs == nil {
		docs = []entity.Doc{}
	}
	return d.send(entity.OpAddAll, entity.DocsPayload(docs))
}

// UpdateOneInCache merges a partial document locally. A key the collection
// does not hold leaves it unchanged.
func (d *Dispatcher) UpdateOneInCache(changes entity.Doc) error {
	u, err := d.toUpdate(entity.OpUpdateOne, changes)
	if err != nil {
		return err
	}
	return d.send(entity.OpUpdateOne, entity.UpdatePayload(u))
}

// UpdateManyInCache merges partial documents locally. An empty slice
// dispatches nothing.
func (d *Dispatcher) UpdateManyInCache(changes []entity.Doc) error {
	if len(changes) == 0 {
		return nil
	}
	us := make([]entity.Update, len(changes))
	for i, c := range changes {
		if c == nil {
			return commandErrf(d.def.Name, entity.OpUpdateMany, entity.ErrNilDocument, "element %d", i)
		}
		key, err := d.def.SelectID(c)
		if err != nil {
			return commandErr(d.def.Name, entity.OpUpdateMany, fmt.Errorf("element %d: %w", i, err))
		}
		us[i] = entity.Update{ID: key, Changes: c}
	}
	return d.send(entity.OpUpdateMany, entity.UpdatesPayload(us))
}

// RemoveOneFromCache removes a document locally by key. Removing an absent
// key is a no-op.
func (d *Dispatcher) RemoveOneFromCache(key entity.Key) error {
	if key == nil {
		return commandErr(d.def.Name, entity.OpRemoveOne, entity.ErrMissingKey)
	}
	return d.send(entity.OpRemoveOne, entity.KeyPayload(key))
}

// RemoveEntityFromCache removes a document locally, resolving the key from
// the document.
func (d *Dispatcher) RemoveEntityFromCache(doc entity.Doc) error {
	key, err := d.resolveKey(entity.OpRemoveOne, doc)
	if err != nil {
		return err
	}
	return d.send(entity.OpRemoveOne, entity.KeyPayload(key))
}

// RemoveManyFromCache removes documents locally by key. An empty slice
// dispatches nothing.
func (d *Dispatcher) RemoveManyFromCache(keys []entity.Key) error {
	if len(keys) == 0 {
		return nil
	}
	for i, k := range keys {
		if k == nil {
			return commandErrf(d.def.Name, entity.OpRemoveMany, entity.ErrMissingKey, "element %d", i)
		}
	}
	return d.send(entity.OpRemoveMany, entity.KeysPayload(keys))
}

// RemoveEntitiesFromCache removes documents locally, resolving each key
// from its document. An empty slice dispatches nothing.
func (d *Dispatcher) RemoveEntitiesFromCache(docs []entity.Doc) error {
	if len(docs) == 0 {
		return nil
	}
	keys := make([]entity.Key, len(docs))
	for i, doc := range docs {
		if doc == nil {
			return commandErrf(d.def.Name, entity.OpRemoveMany, entity.ErrNilDocument, "element %d", i)
		}
		key, err := d.def.SelectID(doc)
		if err != nil {
			return commandErr(d.def.Name, entity.OpRemoveMany, fmt.Errorf("element %d: %w", i, err))
		}
		keys[i] = key
	}
	return d.send(entity.OpRemoveMany, entity.KeysPayload(keys))
}

// ClearCache resets the collection to its per-type default: no documents,
// no filter, extras back at their declared defaults.
func (d *Dispatcher) ClearCache() error {
	return d.send(entity.OpRemoveAll, nil)
}

// SetFilter replaces the collection's filter pattern. A nil or Null
// pattern clears it.
func (d *Dispatcher) SetFilter(pattern entity.Value) error {
	return d.send(entity.OpSetFilter, entity.FilterPayload(pattern))
}

func (d *Dispatcher) send(op entity.Op, payload *entity.Payload) error {
	a := entity.Action{Entity: d.def.Name, Op: op, Payload: payload}
	if op.IsPersistence() {
		a.CorrelationID = d.store.ids.Generate()
	}
	return d.store.Dispatch(a)
}

func (d *Dispatcher) requireService(op entity.Op) error {
	if d.store.service == nil {
		return commandErr(d.def.Name, op, entity.ErrNoDataService)
	}
	return nil
}

func (d *Dispatcher) resolveKey(op entity.Op, doc entity.Doc) (entity.Key, error) {
	if doc == nil {
		return nil, commandErr(d.def.Name, op, entity.ErrNilDocument)
	}
	key, err := d.def.SelectID(doc)
	if err != nil {
		return nil, commandErr(d.def.Name, op, err)
	}
	return key, nil
}

func (d *Dispatcher) toUpdate(op entity.Op, changes entity.Doc) (entity.Update, error) {
	key, err := d.resolveKey(op, changes)
	if err != nil {
		return entity.Update{}, err
	}
	return entity.Update{ID: key, Changes: changes}, nil
}

func (d *Dispatcher) checkDocs(op entity.Op, docs []entity.Doc) error {
	for i, doc := range docs {
		if doc == nil {
			return commandErrf(d.def.Name, op, entity.ErrNilDocument, "element %d", i)
		}
	}
	return nil
}
