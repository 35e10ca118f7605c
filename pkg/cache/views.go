package cache

import (
	"sync"

	"github.com/jmwren/replica/internal/metrics"
	"github.com/jmwren/replica/pkg/entity"
)

// View is a live window onto one entity type's collection. Reads always see
// the newest published snapshot; before the type's collection has ever been
// written, reads observe its default collection (or the store's configured
// override) substituted at read time, never written into the cache.
//
// Each View carries its own memoizing selectors, so two Views of the same
// type have independent caches but identical results.
type View struct {
	store *Store
	name  string
	sel   *Selectors
}

// View returns a live view of one entity type.
func (s *Store) View(name string) *View {
	return &View{
		store: s,
		name:  name,
		sel:   NewSelectors(definitionFor(s.reg, name)),
	}
}

// Collection returns the current collection snapshot.
func (v *View) Collection() *entity.Collection {
	return v.store.collectionOrDefault(v.name)
}

// All returns the current documents in IDs order.
func (v *View) All() []entity.Doc {
	return v.sel.All(v.Collection())
}

// Filtered returns the current documents under the collection's filter.
func (v *View) Filtered() []entity.Doc {
	return v.sel.Filtered(v.Collection())
}

// IDs returns the current ordered keys.
func (v *View) IDs() []entity.Key {
	return IDs(v.Collection())
}

// Loading reports whether a query round-trip is outstanding.
func (v *View) Loading() bool {
	return Loading(v.Collection())
}

// Filter returns the current filter pattern.
func (v *View) Filter() entity.Value {
	return Filter(v.Collection())
}

// Extra reads one additional collection-state field.
func (v *View) Extra(field string) (entity.Value, bool) {
	return ExtraField(v.Collection(), field)
}

// Subscribe registers an observer. The current collection is delivered
// immediately; afterwards every transition of this type's collection
// delivers the new snapshot. Delivery coalesces per subscriber, latest
// wins: a slow consumer sees the newest state rather than every
// intermediate one, and never misses the final one.
func (v *View) Subscribe() *Subscription {
	return v.store.views.subscribe(v.name, v.Collection())
}

// Subscription is one observer binding on an entity type. Independent of
// other subscriptions; Cancel releases it without touching the cache.
type Subscription struct {
	name string
	ch   chan *entity.Collection
	reg  *viewRegistry

	// guarded by reg.mu
	last *entity.Collection
	done bool
}

// Updates returns the delivery channel. It closes when the subscription is
// cancelled or the store shuts down; the newest undelivered snapshot, if
// any, is still received before the close is observed.
func (sub *Subscription) Updates() <-chan *entity.Collection {
	return sub.ch
}

// Cancel releases the subscription and closes the delivery channel.
// Safe to call more than once.
func (sub *Subscription) Cancel() {
	sub.reg.cancel(sub)
}

// viewRegistry fans applied transitions out to subscribers. All mutation of
// subscriber state happens under one mutex; the store's loop is the only
// sender, so the coalescing delivery below never races another send.
type viewRegistry struct {
	mu   sync.Mutex
	subs map[string][]*Subscription
}

func newViewRegistry() *viewRegistry {
	return &viewRegistry{subs: make(map[string][]*Subscription)}
}

func (r *viewRegistry) subscribe(name string, current *entity.Collection) *Subscription {
	sub := &Subscription{
		name: name,
		ch:   make(chan *entity.Collection, 1),
		reg:  r,
		last: current,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[name] = append(r.subs[name], sub)
	sub.ch <- current
	return sub
}

// notify delivers a new snapshot to this type's subscribers. Subscribers
// whose last delivered snapshot is the same pointer are skipped; semantic
// no-ops keep pointer identity, so they produce no delivery.
func (r *viewRegistry) notify(name string, col *entity.Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs[name] {
		if sub.last == col {
			continue
		}
		sub.last = col
		deliver(sub.ch, col)
		metrics.Inc(metrics.ViewDeliveries)
	}
}

// deliver pushes latest-wins into a buffered-1 channel: if the previous
// snapshot was never taken, it is dropped in favor of the new one.
func deliver(ch chan *entity.Collection, col *entity.Collection) {
	select {
	case ch <- col:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- col:
	default:
	}
}

func (r *viewRegistry) cancel(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.done {
		return
	}
	sub.done = true

	list := r.subs[sub.name]
	for i, candidate := range list {
		if candidate == sub {
			r.subs[sub.name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.subs[sub.name]) == 0 {
		delete(r.subs, sub.name)
	}
	close(sub.ch)
}

// closeAll cancels every subscription; called when the store shuts down.
func (r *viewRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, list := range r.subs {
		for _, sub := range list {
			if !sub.done {
				sub.done = true
				close(sub.ch)
			}
		}
		delete(r.subs, name)
	}
}
