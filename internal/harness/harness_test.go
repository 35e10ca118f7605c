package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmwren/replica/internal/remote/memory"
	"github.com/jmwren/replica/pkg/entity"
)

// opSequence flattens a trace to its op wire names.
func opSequence(trace []entity.Action) []string {
	names := make([]string, len(trace))
	for i, a := range trace {
		names[i] = a.Op.String()
	}
	return names
}

func boolPtr(b bool) *bool { return &b }

func TestRun_AddThenQueryFlow(t *testing.T) {
	scenario := &Scenario{
		Name:        "add_then_query",
		Description: "Add persists, then a full load replaces the collection",
		Flow: []Step{
			{Command: "add", Entity: "hero", Doc: map[string]any{"id": 1, "name": "Ahsoka"}},
			{Command: "get_all", Entity: "hero"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceOrder, Ops: []string{"SAVE_ADD", "SAVE_ADD_SUCCESS", "QUERY_ALL", "QUERY_ALL_SUCCESS"}},
			{Type: AssertFinalCollection, Entity: "hero", IDs: []any{1}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	assert.Equal(t,
		[]string{"SAVE_ADD", "SAVE_ADD_SUCCESS", "QUERY_ALL", "QUERY_ALL_SUCCESS"},
		opSequence(result.Trace))
}

func TestRun_SequencesAndCorrelation(t *testing.T) {
	scenario := &Scenario{
		Name:        "sequences",
		Description: "Seqs count up from one, correlation ids pair command and result",
		Flow: []Step{
			{Command: "add", Entity: "hero", Doc: map[string]any{"id": 1, "name": "Ahsoka"}},
			{Command: "get_all", Entity: "hero"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: "SAVE_ADD", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Trace, 4)

	for i, a := range result.Trace {
		assert.Equal(t, int64(i+1), a.Seq)
	}
	assert.Equal(t, "cmd-0001", result.Trace[0].CorrelationID)
	assert.Equal(t, "cmd-0001", result.Trace[1].CorrelationID)
	assert.Equal(t, "cmd-0002", result.Trace[2].CorrelationID)
	assert.Equal(t, "cmd-0002", result.Trace[3].CorrelationID)
}

func TestRun_TokenPrefix(t *testing.T) {
	scenario := &Scenario{
		Name:        "token_prefix",
		Description: "token_prefix flows into correlation ids",
		TokenPrefix: "flow",
		Flow: []Step{
			{Command: "get_all", Entity: "hero"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Op: "QUERY_ALL"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotEmpty(t, result.Trace)
	assert.Equal(t, "flow-0001", result.Trace[0].CorrelationID)
}

func TestRun_SetupPrecedesFlow(t *testing.T) {
	scenario := &Scenario{
		Name:        "setup_first",
		Description: "Setup commands run before the flow",
		Setup: []Step{
			{Command: "add_all", Entity: "hero", Docs: []map[string]any{{"id": 1, "name": "Ahsoka"}}},
		},
		Flow: []Step{
			{Command: "update_one", Entity: "hero", Doc: map[string]any{"id": 1, "rank": 5}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceOrder, Ops: []string{"ADD_ALL", "UPDATE_ONE"}},
			{Type: AssertFinalCollection, Entity: "hero", Contains: []map[string]any{{"id": 1, "name": "Ahsoka", "rank": 5}}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SeedVisibleToQueries(t *testing.T) {
	scenario := &Scenario{
		Name:        "seeded",
		Description: "Seed documents come back from queries in key order",
		Seed: map[string][]map[string]any{
			"hero": {{"id": 2, "name": "Sabine"}, {"id": 1, "name": "Ahsoka"}},
		},
		Flow: []Step{
			{Command: "get_all", Entity: "hero"},
		},
		Assertions: []Assertion{
			{Type: AssertFinalCollection, Entity: "hero", IDs: []any{1, 2}, Loading: boolPtr(false)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_QueryFiltersDocuments(t *testing.T) {
	scenario := &Scenario{
		Name:        "query_many",
		Description: "Field queries load only matching documents",
		Seed: map[string][]map[string]any{
			"hero": {
				{"id": 1, "name": "Ahsoka", "side": "light"},
				{"id": 2, "name": "Thrawn", "side": "dark"},
			},
		},
		Flow: []Step{
			{Command: "get_with_query", Entity: "hero", Query: map[string]string{"side": "light"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceOrder, Ops: []string{"QUERY_MANY", "QUERY_MANY_SUCCESS"}},
			{Type: AssertFinalCollection, Entity: "hero", IDs: []any{1}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FailingAssertionMarksResultFailed(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing_assertion",
		Description: "Assertion failures fail the result, not the run",
		Flow: []Step{
			{Command: "add", Entity: "hero", Doc: map[string]any{"id": 1, "name": "Ahsoka"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: "SAVE_ADD", Count: 2},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: trace_count")
	assert.Contains(t, result.Errors[0], "2 occurrences of SAVE_ADD")
}

func TestRun_PersistenceFailureLandsInTrace(t *testing.T) {
	scenario := &Scenario{
		Name:        "update_missing",
		Description: "Updating an absent key records an error result",
		Flow: []Step{
			{Command: "update", Entity: "hero", Doc: map[string]any{"id": 9, "name": "Ghost"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Op: "SAVE_UPDATE_ERROR", Entity: "hero", Error: "not found"},
			{Type: AssertTraceCount, Op: "SAVE_UPDATE_SUCCESS", Count: 0},
			{Type: AssertFinalCollection, Entity: "hero", IDs: []any{}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_CacheOnlyCommandsSkipService(t *testing.T) {
	svc := memory.New(nil)
	scenario := &Scenario{
		Name:        "cache_only",
		Description: "Cache-only commands never reach the backend",
		Flow: []Step{
			{Command: "add_one", Entity: "hero", Doc: map[string]any{"id": 1, "name": "Ahsoka"}},
			{Command: "remove_one", Entity: "hero", Key: 1},
			{Command: "clear", Entity: "hero"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceOrder, Ops: []string{"ADD_ONE", "REMOVE_ONE", "REMOVE_ALL"}},
			{Type: AssertFinalCollection, Entity: "hero", IDs: []any{}},
		},
	}

	result, err := RunWith(scenario, Options{Service: svc})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, svc.Docs("hero"))
}

func TestRun_UnknownCommandFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_command",
		Description: "A command outside the vocabulary aborts the run",
		Flow: []Step{
			{Command: "upsert", Entity: "hero", Doc: map[string]any{"id": 1}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: "SAVE_ADD", Count: 0},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `flow[0] (hero upsert): unknown command "upsert"`)
}

func TestRun_SeedConversionFailure(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_seed",
		Description: "Unconvertible seed values abort the run",
		Seed: map[string][]map[string]any{
			"hero": {{"id": 1, "bad": make(chan int)}},
		},
		Flow: []Step{
			{Command: "get_all", Entity: "hero"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Op: "QUERY_ALL"},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed[hero][0]")
}

func TestRun_MetadataKeysCollection(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "planet.cue")
	require.NoError(t, os.WriteFile(metaPath, []byte(`entities: planet: { key: "slug" }`), 0644))

	scenario := &Scenario{
		Name:        "metadata_slug_key",
		Description: "Compiled metadata keys documents by the declared field",
		Metadata:    []string{metaPath},
		Flow: []Step{
			{Command: "add_one", Entity: "planet", Doc: map[string]any{"slug": "lothal", "name": "Lothal"}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalCollection, Entity: "planet", IDs: []any{"lothal"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_BadMetadataFails(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "broken.cue")
	require.NoError(t, os.WriteFile(metaPath, []byte(`nothing: here`), 0644))

	scenario := &Scenario{
		Name:        "bad_metadata",
		Description: "Metadata without entity declarations fails the run",
		Metadata:    []string{metaPath},
		Flow: []Step{
			{Command: "get_all", Entity: "hero"},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Op: "QUERY_ALL"},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile metadata")
}

func TestRunWith_RegistryOverride(t *testing.T) {
	def, err := entity.NewDefinition("planet", entity.WithSelectID(entity.SelectField("slug")))
	require.NoError(t, err)
	reg, err := entity.NewRegistry(def)
	require.NoError(t, err)

	scenario := &Scenario{
		Name:        "registry_override",
		Description: "An injected registry keys documents when no metadata is listed",
		Flow: []Step{
			{Command: "add_one", Entity: "planet", Doc: map[string]any{"slug": "ryloth"}},
		},
		Assertions: []Assertion{
			{Type: AssertFinalCollection, Entity: "planet", IDs: []any{"ryloth"}},
		},
	}

	result, err := RunWith(scenario, Options{Registry: reg})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunWith_JournalReceivesTrace(t *testing.T) {
	external := &traceRecorder{}

	scenario := &Scenario{
		Name:        "journal_fanout",
		Description: "An injected journal sees every applied action",
		Flow: []Step{
			{Command: "add", Entity: "hero", Doc: map[string]any{"id": 1, "name": "Ahsoka"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Op: "SAVE_ADD", Count: 1},
		},
	}

	result, err := RunWith(scenario, Options{Journal: external})
	require.NoError(t, err)

	assert.True(t, result.Pass)
	assert.Equal(t, result.Trace, external.Events())
}

func TestRunWith_SeedSkipsExistingDocuments(t *testing.T) {
	svc := memory.New(nil)
	require.NoError(t, svc.Seed("hero", entity.Doc{"id": entity.Int(1), "name": entity.String("Ahsoka")}))

	scenario := &Scenario{
		Name:        "seed_rerun",
		Description: "Seeding a document the backend already holds keeps the stored form",
		Seed: map[string][]map[string]any{
			"hero": {{"id": 1, "name": "Impostor"}},
		},
		Flow: []Step{
			{Command: "get_all", Entity: "hero"},
		},
		Assertions: []Assertion{
			{Type: AssertFinalCollection, Entity: "hero", Contains: []map[string]any{{"id": 1, "name": "Ahsoka"}}},
		},
	}

	result, err := RunWith(scenario, Options{Service: svc})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
