package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeMetadataFile creates a minimal CUE metadata file for testing.
func writeMetadataFile(t *testing.T, dir, name string) string {
	t.Helper()
	metaDir := filepath.Join(dir, "metadata")
	require.NoError(t, os.MkdirAll(metaDir, 0755))
	path := filepath.Join(metaDir, name)
	require.NoError(t, os.WriteFile(path, []byte(`entities: hero: { key: "id" }`), 0644))
	return path
}

// writeScenarioFile writes scenario YAML into dir and returns its path.
func writeScenarioFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	metaPath := writeMetadataFile(t, dir, "hero.cue")
	scenarioPath := writeScenarioFile(t, dir, `
name: add_hero
description: "Add a hero and load it back"
token_prefix: flow
metadata:
  - `+metaPath+`
seed:
  hero:
    - id: 1
      name: Ahsoka
setup:
  - command: set_filter
    entity: hero
    filter: "A"
flow:
  - command: add
    entity: hero
    doc:
      id: 2
      name: Sabine
  - command: get_all
    entity: hero
assertions:
  - type: trace_contains
    op: SAVE_ADD
  - type: final_collection
    entity: hero
    ids: [1, 2]
`)

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "add_hero", scenario.Name)
	assert.Equal(t, "Add a hero and load it back", scenario.Description)
	assert.Equal(t, "flow", scenario.TokenPrefix)
	assert.Equal(t, []string{metaPath}, scenario.Metadata)
	assert.Len(t, scenario.Seed["hero"], 1)
	assert.Len(t, scenario.Setup, 1)
	assert.Len(t, scenario.Flow, 2)
	assert.Len(t, scenario.Assertions, 2)
	assert.Equal(t, "add", scenario.Flow[0].Command)
	assert.Equal(t, "Sabine", scenario.Flow[0].Doc["name"])
}

func TestLoadScenario_MetadataRelativeToScenarioFile(t *testing.T) {
	dir := t.TempDir()
	writeMetadataFile(t, dir, "hero.cue")
	scenarioPath := writeScenarioFile(t, dir, `
name: relative_metadata
description: "Metadata paths resolve against the scenario directory"
metadata:
  - metadata/hero.cue
flow:
  - command: get_all
    entity: hero
assertions:
  - type: trace_contains
    op: QUERY_ALL
`)

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "metadata", "hero.cue"), scenario.Metadata[0])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MissingName(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeScenarioFile(t, dir, `
description: "Missing name"
flow:
  - command: get_all
    entity: hero
assertions:
  - type: trace_contains
    op: QUERY_ALL
`)

	_, err := LoadScenario(scenarioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestLoadScenario_MissingDescription(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeScenarioFile(t, dir, `
name: test
flow:
  - command: get_all
    entity: hero
assertions:
  - type: trace_contains
    op: QUERY_ALL
`)

	_, err := LoadScenario(scenarioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description is required")
}

func TestLoadScenario_MissingFlow(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeScenarioFile(t, dir, `
name: test
description: "Test"
flow: []
assertions:
  - type: trace_contains
    op: QUERY_ALL
`)

	_, err := LoadScenario(scenarioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow list is required")
}

func TestLoadScenario_MissingAssertions(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeScenarioFile(t, dir, `
name: test
description: "Test"
flow:
  - command: get_all
    entity: hero
assertions: []
`)

	_, err := LoadScenario(scenarioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertions list is required")
}

func TestLoadScenario_MetadataFileNotFound(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeScenarioFile(t, dir, `
name: test
description: "Test"
metadata:
  - /nonexistent/hero.cue
flow:
  - command: get_all
    entity: hero
assertions:
  - type: trace_contains
    op: QUERY_ALL
`)

	_, err := LoadScenario(scenarioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata file not found")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeScenarioFile(t, dir, `
name: test
description: "Test"
flow:
  - invalid yaml structure
  unclosed: [bracket
`)

	_, err := LoadScenario(scenarioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_EmptySeedListRejected(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeScenarioFile(t, dir, `
name: test
description: "Test"
seed:
  hero: []
flow:
  - command: get_all
    entity: hero
assertions:
  - type: trace_contains
    op: QUERY_ALL
`)

	_, err := LoadScenario(scenarioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed[hero]: document list must be non-empty")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	// YAML files with typos (unknown fields) should be rejected
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "typo_assertion_singular",
			yaml: `
name: test
description: "Test typo"
flow:
  - command: get_all
    entity: hero
assertion:
  - type: trace_contains
    op: QUERY_ALL
assertions:
  - type: trace_contains
    op: QUERY_ALL
`,
			wantErr: "field assertion not found",
		},
		{
			name: "typo_in_flow_step",
			yaml: `
name: test
description: "Test typo"
flow:
  - comand: get_all
    entity: hero
assertions:
  - type: trace_contains
    op: QUERY_ALL
`,
			wantErr: "field comand not found",
		},
		{
			name: "unknown_top_level_field",
			yaml: `
name: test
description: "Test typo"
golden: true
flow:
  - command: get_all
    entity: hero
assertions:
  - type: trace_contains
    op: QUERY_ALL
`,
			wantErr: "field golden not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			scenarioPath := writeScenarioFile(t, dir, tt.yaml)

			_, err := LoadScenario(scenarioPath)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_StepValidation(t *testing.T) {
	tests := []struct {
		name     string
		stepYAML string
		wantErr  string
	}{
		{
			name: "missing_command",
			stepYAML: `
  - entity: hero
`,
			wantErr: "flow[0]: command is required",
		},
		{
			name: "unknown_command",
			stepYAML: `
  - command: upsert
    entity: hero
`,
			wantErr: `unknown command "upsert"`,
		},
		{
			name: "missing_entity",
			stepYAML: `
  - command: get_all
`,
			wantErr: "entity is required",
		},
		{
			name: "add_missing_doc",
			stepYAML: `
  - command: add
    entity: hero
`,
			wantErr: "command add requires doc",
		},
		{
			name: "add_many_missing_docs",
			stepYAML: `
  - command: add_many
    entity: hero
`,
			wantErr: "command add_many requires a non-empty docs list",
		},
		{
			name: "delete_missing_key",
			stepYAML: `
  - command: delete
    entity: hero
`,
			wantErr: "command delete requires key",
		},
		{
			name: "remove_many_missing_keys",
			stepYAML: `
  - command: remove_many
    entity: hero
`,
			wantErr: "command remove_many requires a non-empty keys list",
		},
		{
			name: "get_all_needs_no_payload",
			stepYAML: `
  - command: get_all
    entity: hero
`,
			wantErr: "",
		},
		{
			name: "add_all_empty_docs_is_valid_replacement",
			stepYAML: `
  - command: add_all
    entity: hero
`,
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			scenarioPath := writeScenarioFile(t, dir, `
name: step_validation
description: "Step validation"
flow:`+tt.stepYAML+`
assertions:
  - type: trace_contains
    op: QUERY_ALL
`)

			_, err := LoadScenario(scenarioPath)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadScenario_SetupStepsValidated(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeScenarioFile(t, dir, `
name: test
description: "Test"
setup:
  - command: add
    entity: hero
flow:
  - command: get_all
    entity: hero
assertions:
  - type: trace_contains
    op: QUERY_ALL
`)

	_, err := LoadScenario(scenarioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup[0]: command add requires doc")
}

func TestLoadScenario_AssertionTypes(t *testing.T) {
	tests := []struct {
		name          string
		assertionYAML string
		wantErr       string
	}{
		{
			name: "trace_contains_valid",
			assertionYAML: `
  - type: trace_contains
    op: SAVE_ADD_ERROR
    entity: hero
    error: "already exists"
`,
			wantErr: "",
		},
		{
			name: "trace_contains_missing_op",
			assertionYAML: `
  - type: trace_contains
    entity: hero
`,
			wantErr: "op is required for trace_contains",
		},
		{
			name: "trace_contains_unknown_op",
			assertionYAML: `
  - type: trace_contains
    op: SAVE_UPSERT
`,
			wantErr: `unknown op name "SAVE_UPSERT"`,
		},
		{
			name: "trace_order_valid",
			assertionYAML: `
  - type: trace_order
    ops:
      - SAVE_ADD
      - SAVE_ADD_SUCCESS
`,
			wantErr: "",
		},
		{
			name: "trace_order_single_op",
			assertionYAML: `
  - type: trace_order
    ops:
      - SAVE_ADD
`,
			wantErr: "trace_order needs at least two ops",
		},
		{
			name: "trace_order_unknown_op",
			assertionYAML: `
  - type: trace_order
    ops:
      - SAVE_ADD
      - SAVE_LATER
`,
			wantErr: `unknown op name "SAVE_LATER"`,
		},
		{
			name: "trace_count_valid",
			assertionYAML: `
  - type: trace_count
    op: SAVE_ADD
    count: 2
`,
			wantErr: "",
		},
		{
			name: "trace_count_zero_allowed",
			assertionYAML: `
  - type: trace_count
    op: SAVE_ADD_ERROR
    count: 0
`,
			wantErr: "",
		},
		{
			name: "trace_count_negative",
			assertionYAML: `
  - type: trace_count
    op: SAVE_ADD
    count: -1
`,
			wantErr: "count must be non-negative",
		},
		{
			name: "trace_count_missing_op",
			assertionYAML: `
  - type: trace_count
    count: 2
`,
			wantErr: "op is required for trace_count",
		},
		{
			name: "final_collection_valid",
			assertionYAML: `
  - type: final_collection
    entity: hero
    ids: [1, 2]
    loading: false
`,
			wantErr: "",
		},
		{
			name: "final_collection_empty_ids_allowed",
			assertionYAML: `
  - type: final_collection
    entity: hero
    ids: []
`,
			wantErr: "",
		},
		{
			name: "final_collection_missing_entity",
			assertionYAML: `
  - type: final_collection
    ids: [1]
`,
			wantErr: "entity is required for final_collection",
		},
		{
			name: "final_collection_no_expectations",
			assertionYAML: `
  - type: final_collection
    entity: hero
`,
			wantErr: "final_collection needs ids, contains, loading, or filter",
		},
		{
			name: "unknown_type",
			assertionYAML: `
  - type: trace_matches
    op: SAVE_ADD
`,
			wantErr: "unknown assertion type",
		},
		{
			name: "missing_type",
			assertionYAML: `
  - op: SAVE_ADD
`,
			wantErr: "type is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			scenarioPath := writeScenarioFile(t, dir, `
name: test
description: "Test"
flow:
  - command: get_all
    entity: hero
assertions:`+tt.assertionYAML)

			_, err := LoadScenario(scenarioPath)
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadScenario_ScalarPayloadTypes(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeScenarioFile(t, dir, `
name: scalars
description: "YAML scalars survive decoding"
flow:
  - command: add
    entity: hero
    doc:
      id: 5
      name: Ezra
      active: true
      rating: 0.5
  - command: remove_many
    entity: hero
    keys: [1, "two"]
assertions:
  - type: trace_contains
    op: SAVE_ADD
`)

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	doc := scenario.Flow[0].Doc
	assert.Equal(t, 5, doc["id"])
	assert.Equal(t, "Ezra", doc["name"])
	assert.Equal(t, true, doc["active"])
	assert.Equal(t, 0.5, doc["rating"])
	assert.Equal(t, []any{1, "two"}, scenario.Flow[1].Keys)
}

func TestAssertionConstants(t *testing.T) {
	assert.Equal(t, "trace_contains", AssertTraceContains)
	assert.Equal(t, "trace_order", AssertTraceOrder)
	assert.Equal(t, "trace_count", AssertTraceCount)
	assert.Equal(t, "final_collection", AssertFinalCollection)
}

// TestLoadExampleScenarios validates the example scenario files in
// testdata/scenarios. These double as documentation for the YAML format.
func TestLoadExampleScenarios(t *testing.T) {
	tests := []struct {
		file           string
		wantName       string
		wantFlowCount  int
		wantAssertions int
	}{
		{"add-and-load.yaml", "add-and-load", 2, 2},
		{"duplicate-add.yaml", "duplicate-add", 2, 3},
		{"local-edits.yaml", "local-edits", 4, 2},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", tt.file))
			require.NoError(t, err)

			assert.Equal(t, tt.wantName, scenario.Name)
			assert.Len(t, scenario.Flow, tt.wantFlowCount)
			assert.Len(t, scenario.Assertions, tt.wantAssertions)
		})
	}
}
