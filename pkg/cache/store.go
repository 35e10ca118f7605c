package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmwren/replica/internal/metrics"
	"github.com/jmwren/replica/pkg/entity"
)

// Journal persists each applied action together with the state it produced.
// Append failures are logged and do not roll back the in-memory transition.
type Journal interface {
	Append(ctx context.Context, a entity.Action, after *entity.Cache) error
}

// Store owns the cache and the action loop that mutates it. All state
// transitions happen on the single Run goroutine; every other goroutine only
// reads the atomic state pointer or enqueues actions.
type Store struct {
	reg     *entity.Registry
	queue   *actionQueue
	clock   *Clock
	state   atomic.Pointer[entity.Cache]
	service DataService
	journal Journal
	logger  *slog.Logger
	ids     TokenSource

	defaultsMu sync.Mutex
	defaults   map[string]*entity.Collection

	views   *viewRegistry
	pending pendingSet
}

// Option configures a Store.
type Option func(*Store)

// WithDataService attaches the remote persistence boundary. Without one the
// store is cache-only and persistence commands fail at dispatch.
func WithDataService(svc DataService) Option {
	return func(s *Store) { s.service = svc }
}

// WithJournal attaches an action journal.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the sequence clock, usually to resume numbering after
// a journal replay.
func WithClock(c *Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithIDSource overrides correlation token generation. Tests use
// NewFixedSource for reproducible traces.
func WithIDSource(src TokenSource) Option {
	return func(s *Store) { s.ids = src }
}

// WithDefaultCollection overrides the empty default a view observes before
// the first action materializes the named collection. The override is
// substituted at read time only; it is never written into the cache.
func WithDefaultCollection(name string, col *entity.Collection) Option {
	return func(s *Store) { s.defaults[name] = col }
}

// New builds a store over the given type registry. A nil registry is
// allowed; every entity then resolves to the default "id"-keyed definition.
func New(reg *entity.Registry, opts ...Option) *Store {
	s := &Store{
		reg:      reg,
		queue:    newActionQueue(),
		clock:    NewClock(),
		logger:   slog.Default(),
		ids:      UUIDv7Source{},
		defaults: make(map[string]*entity.Collection),
		views:    newViewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(entity.NewCache())
	return s
}

// Run drives the action loop until ctx is cancelled or Close is called and
// the queue drains. It must be running for Dispatch to make progress; call
// it on its own goroutine.
func (s *Store) Run(ctx context.Context) error {
	for {
		for {
			a, ok := s.queue.TryDequeue()
			if !ok {
				break
			}
			s.apply(ctx, a)
		}

		select {
		case <-ctx.Done():
			s.queue.Close()
			s.views.closeAll()
			return ctx.Err()
		case <-s.queue.Wait():
			if s.queue.Closed() && s.queue.Len() == 0 {
				s.views.closeAll()
				return nil
			}
		}
	}
}

// apply runs one action through the reducer and fans out its consequences.
// The pending decrement is deferred so a persistence launch increments
// before this action's own count releases; Settle cannot observe a gap
// between an applied command and its in-flight remote call.
func (s *Store) apply(ctx context.Context, a entity.Action) {
	defer s.pending.dec()

	a.Seq = s.clock.Next()
	if a.Op == entity.OpUnknown {
		metrics.Inc(metrics.ActionsUnknownOp)
	}

	before := s.state.Load()
	after := Reduce(before, a, s.reg)
	s.state.Store(after)
	metrics.Inc(metrics.ActionsApplied)

	if s.journal != nil {
		if err := s.journal.Append(ctx, a, after); err != nil {
			s.logger.Warn("journal append failed",
				"seq", a.Seq,
				"entity", a.Entity,
				"op", a.Op.String(),
				"error", err,
			)
		} else {
			metrics.Inc(metrics.JournalAppends)
		}
	}

	if a.Entity != "" && after != before {
		s.views.notify(a.Entity, s.collectionOrDefault(a.Entity))
	}

	if a.Op.IsPersistence() && s.service != nil {
		s.startPersistence(ctx, a)
	}
}

// Dispatch validates and enqueues an action. Malformed actions are rejected
// here, synchronously; nothing invalid reaches the reducer through this
// path.
func (s *Store) Dispatch(a entity.Action) error {
	if violations := a.Validate(); len(violations) > 0 {
		return commandErr(a.Entity, a.Op, invalidAction(violations))
	}
	metrics.Inc(metrics.ActionsDispatched)
	s.pending.inc()
	if !s.queue.Enqueue(a) {
		s.pending.dec()
		return commandErr(a.Entity, a.Op, entity.ErrStoreClosed)
	}
	return nil
}

// State returns the current cache snapshot. The snapshot is immutable;
// callers may hold it across any number of subsequent dispatches.
func (s *Store) State() *entity.Cache {
	return s.state.Load()
}

// Collection returns the named collection if any action has materialized it.
func (s *Store) Collection(name string) (*entity.Collection, bool) {
	return s.state.Load().Collection(name)
}

// collectionOrDefault resolves the named collection, falling back to a
// memoized empty default so repeated reads before the first write return
// the same pointer.
func (s *Store) collectionOrDefault(name string) *entity.Collection {
	if col, ok := s.state.Load().Collection(name); ok {
		return col
	}

	s.defaultsMu.Lock()
	defer s.defaultsMu.Unlock()
	if col, ok := s.defaults[name]; ok {
		return col
	}
	col := entity.NewCollection(definitionFor(s.reg, name))
	s.defaults[name] = col
	return col
}

// Settle blocks until every dispatched action has been applied and every
// remote call it spawned has resolved and been applied too.
func (s *Store) Settle(ctx context.Context) error {
	return s.pending.wait(ctx)
}

// Close stops accepting actions. Run drains what is already queued, then
// returns.
func (s *Store) Close() {
	s.queue.Close()
}

// pendingSet counts dispatched-but-unresolved work. An action chains into
// its remote call by incrementing for the call before the apply decrement
// runs, so the count only reaches zero at true quiescence.
type pendingSet struct {
	mu   sync.Mutex
	n    int64
	idle chan struct{}
}

func (p *pendingSet) inc() {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
}

func (p *pendingSet) dec() {
	p.mu.Lock()
	p.n--
	if p.n == 0 && p.idle != nil {
		close(p.idle)
		p.idle = nil
	}
	p.mu.Unlock()
}

func (p *pendingSet) wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.n == 0 {
			p.mu.Unlock()
			return nil
		}
		if p.idle == nil {
			p.idle = make(chan struct{})
		}
		idle := p.idle
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}
