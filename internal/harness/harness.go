// Package harness runs YAML-defined scenarios against a live store.
//
// A scenario names its entity metadata, seed data, a command flow, and
// assertions. The harness compiles the metadata, seeds a backing service,
// drives a real store through the flow, and evaluates the assertions over
// the applied-action trace and the final collections.
//
// Runs are deterministic: correlation IDs come from a counting source, the
// sequence clock starts at zero, and each step settles before the next
// dispatches, so command and reconciliation actions interleave the same way
// every time. Identical scenarios produce byte-identical traces, which is
// what the golden comparison relies on.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/jmwren/replica/internal/compiler"
	"github.com/jmwren/replica/internal/remote/memory"
	"github.com/jmwren/replica/internal/testutil"
	"github.com/jmwren/replica/pkg/cache"
	"github.com/jmwren/replica/pkg/entity"
)

// Options configures a scenario run beyond what the scenario file carries.
// The zero value runs against a fresh in-memory service with no journal.
type Options struct {
	// Service is the persistence backend. Nil uses a fresh memory
	// service. Seed data is loaded through the service's Add operation
	// either way; documents the backend already holds are left alone.
	Service cache.DataService

	// Journal, when set, receives every applied action in addition to
	// the run's own trace recorder.
	Journal cache.Journal

	// Registry overrides the type registry when the scenario lists no
	// metadata files. Metadata from the scenario always wins.
	Registry *entity.Registry

	// Logger receives store logs. Nil discards them.
	Logger *slog.Logger
}

// Run executes a scenario against a fresh memory service and returns the
// result. Assertion failures mark the result failed; only harness-level
// problems (bad metadata, seed failures, malformed commands) return an
// error.
func Run(scenario *Scenario) (*Result, error) {
	return RunWith(scenario, Options{})
}

// RunWith executes a scenario with explicit backend, journal, registry,
// and logger choices. The CLI run command uses this to point a scenario
// flow at a configured backend with journaling.
func RunWith(scenario *Scenario, opts Options) (*Result, error) {
	reg, err := scenarioRegistry(scenario, opts.Registry)
	if err != nil {
		return nil, err
	}

	svc := opts.Service
	if svc == nil {
		svc = memory.New(reg)
	}

	ctx := context.Background()
	if err := seedService(ctx, svc, scenario.Seed); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	recorder := &traceRecorder{}
	journal := cache.Journal(recorder)
	if opts.Journal != nil {
		journal = multiJournal{recorder, opts.Journal}
	}

	st := cache.New(reg,
		cache.WithDataService(svc),
		cache.WithJournal(journal),
		cache.WithIDSource(testutil.NewSequenceSource(scenario.TokenPrefix)),
		cache.WithLogger(logger),
	)

	runDone := make(chan error, 1)
	go func() { runDone <- st.Run(ctx) }()

	execErr := func() error {
		if err := executeSteps(ctx, st, scenario.Setup, "setup"); err != nil {
			return err
		}
		return executeSteps(ctx, st, scenario.Flow, "flow")
	}()

	st.Close()
	<-runDone

	if execErr != nil {
		return nil, execErr
	}

	result := NewResult()
	result.Trace = recorder.Events()
	for _, msg := range EvaluateAssertions(scenario.Assertions, result.Trace, st.State()) {
		result.AddError(msg)
	}
	return result, nil
}

// scenarioRegistry compiles the scenario's metadata files into a registry,
// or falls back to the override (which may be nil for dynamic mode).
func scenarioRegistry(scenario *Scenario, override *entity.Registry) (*entity.Registry, error) {
	if len(scenario.Metadata) == 0 {
		return override, nil
	}

	metas, errs := compiler.CompileFiles(scenario.Metadata)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to compile metadata: %w", errors.Join(errs...))
	}
	reg, err := compiler.BuildRegistry(metas)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}
	return reg, nil
}

// seedService loads the scenario's seed documents through the service's Add
// operation, in sorted entity order. A document the backend already holds
// is skipped, so re-running a scenario against a durable backend stays
// clean.
func seedService(ctx context.Context, svc cache.DataService, seed map[string][]map[string]any) error {
	names := make([]string, 0, len(seed))
	for name := range seed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for i, raw := range seed[name] {
			doc, err := entity.DocFromGo(raw)
			if err != nil {
				return fmt.Errorf("seed[%s][%d]: %w", name, i, err)
			}
			if _, err := svc.Add(ctx, name, doc); err != nil {
				if errors.Is(err, entity.ErrExists) {
					continue
				}
				return fmt.Errorf("seed[%s][%d]: %w", name, i, err)
			}
		}
	}
	return nil
}

// executeSteps dispatches each step and settles before moving on, so every
// reconciliation result lands in the trace ahead of the next command.
func executeSteps(ctx context.Context, st *cache.Store, steps []Step, phase string) error {
	for i, step := range steps {
		if err := dispatchStep(st, step); err != nil {
			return fmt.Errorf("%s[%d] (%s %s): %w", phase, i, step.Entity, step.Command, err)
		}
		if err := st.Settle(ctx); err != nil {
			return fmt.Errorf("%s[%d] (%s %s): settle: %w", phase, i, step.Entity, step.Command, err)
		}
	}
	return nil
}

// dispatchStep converts the step's YAML payload and invokes the matching
// dispatcher command.
func dispatchStep(st *cache.Store, step Step) error {
	d, err := st.Dispatcher(step.Entity)
	if err != nil {
		return err
	}

	switch step.Command {
	case "add":
		doc, err := entity.DocFromGo(step.Doc)
		if err != nil {
			return fmt.Errorf("doc: %w", err)
		}
		return d.Add(doc)

	case "update":
		doc, err := entity.DocFromGo(step.Doc)
		if err != nil {
			return fmt.Errorf("doc: %w", err)
		}
		return d.Update(doc)

	case "delete":
		key, err := stepKey(step.Key)
		if err != nil {
			return err
		}
		return d.Delete(key)

	case "get_all":
		return d.GetAll()

	case "get_by_key":
		key, err := stepKey(step.Key)
		if err != nil {
			return err
		}
		return d.GetByKey(key)

	case "get_with_query":
		return d.GetWithQuery(entity.Query(step.Query))

	case "add_one":
		doc, err := entity.DocFromGo(step.Doc)
		if err != nil {
			return fmt.Errorf("doc: %w", err)
		}
		return d.AddOneToCache(doc)

	case "add_many":
		docs, err := stepDocs(step.Docs)
		if err != nil {
			return err
		}
		return d.AddManyToCache(docs)

	case "add_all":
		docs, err := stepDocs(step.Docs)
		if err != nil {
			return err
		}
		return d.AddAllToCache(docs)

	case "update_one":
		doc, err := entity.DocFromGo(step.Doc)
		if err != nil {
			return fmt.Errorf("doc: %w", err)
		}
		return d.UpdateOneInCache(doc)

	case "update_many":
		docs, err := stepDocs(step.Docs)
		if err != nil {
			return err
		}
		return d.UpdateManyInCache(docs)

	case "remove_one":
		key, err := stepKey(step.Key)
		if err != nil {
			return err
		}
		return d.RemoveOneFromCache(key)

	case "remove_many":
		keys := make([]entity.Key, len(step.Keys))
		for i, raw := range step.Keys {
			key, err := stepKey(raw)
			if err != nil {
				return fmt.Errorf("keys[%d]: %w", i, err)
			}
			keys[i] = key
		}
		return d.RemoveManyFromCache(keys)

	case "clear":
		return d.ClearCache()

	case "set_filter":
		if step.Filter == nil {
			return d.SetFilter(nil)
		}
		pattern, err := entity.FromGo(step.Filter)
		if err != nil {
			return fmt.Errorf("filter: %w", err)
		}
		return d.SetFilter(pattern)
	}

	return fmt.Errorf("unknown command %q", step.Command)
}

func stepKey(raw any) (entity.Key, error) {
	v, err := entity.FromGo(raw)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	key, err := entity.KeyOf(v)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	return key, nil
}

func stepDocs(raw []map[string]any) ([]entity.Doc, error) {
	docs := make([]entity.Doc, len(raw))
	for i, m := range raw {
		doc, err := entity.DocFromGo(m)
		if err != nil {
			return nil, fmt.Errorf("docs[%d]: %w", i, err)
		}
		docs[i] = doc
	}
	return docs, nil
}
