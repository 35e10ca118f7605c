package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jmwren/replica/pkg/entity"
)

// Scenario defines one YAML-driven store exercise: optional entity metadata
// and seed data, a flow of dispatcher commands, and assertions over the
// resulting action trace and final collections.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden traces are stored
	// under this name.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Metadata lists CUE entity-metadata files to compile into the type
	// registry. Paths are relative to the scenario file. An empty list
	// runs the store in dynamic mode with id-keyed defaults.
	Metadata []string `yaml:"metadata,omitempty"`

	// TokenPrefix sets the correlation-ID prefix for persistence commands.
	// Defaults to "cmd", producing cmd-0001, cmd-0002, and so on.
	TokenPrefix string `yaml:"token_prefix,omitempty"`

	// Seed pre-loads the backing service before any command runs, keyed
	// by entity type name.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Setup contains commands dispatched before the main flow. These
	// establish initial cache state and are expected to dispatch cleanly.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the main command sequence. Each step settles before
	// the next dispatches, so reconciliation results interleave
	// deterministically.
	Flow []Step `yaml:"flow"`

	// Assertions validate the trace and the final collections.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_collection.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one dispatcher command. Command selects the operation; exactly
// the payload fields that command needs are read, the rest stay empty.
type Step struct {
	// Command names the dispatcher operation: add, update, delete,
	// get_all, get_by_key, get_with_query, add_one, add_many, add_all,
	// update_one, update_many, remove_one, remove_many, clear,
	// set_filter.
	Command string `yaml:"command"`

	// Entity is the entity type the command targets.
	Entity string `yaml:"entity"`

	// Doc carries the document for add, update, add_one, and update_one.
	Doc map[string]any `yaml:"doc,omitempty"`

	// Docs carries the documents for add_many, add_all, and update_many.
	// add_all treats a missing list as an empty replacement.
	Docs []map[string]any `yaml:"docs,omitempty"`

	// Key carries the key scalar for delete, get_by_key, and remove_one.
	Key any `yaml:"key,omitempty"`

	// Keys carries the key scalars for remove_many.
	Keys []any `yaml:"keys,omitempty"`

	// Query carries the field filters for get_with_query. A missing or
	// empty query matches every document.
	Query map[string]string `yaml:"query,omitempty"`

	// Filter carries the pattern for set_filter. A missing filter clears
	// the collection's pattern.
	Filter any `yaml:"filter,omitempty"`
}

// Assertion validates the trace or a final collection.
type Assertion struct {
	// Type selects the assertion:
	//   - "trace_contains": an action with the given op (and entity, if
	//     set) appears in the trace
	//   - "trace_order": first occurrences of the listed ops appear in
	//     the given order
	//   - "trace_count": the op appears exactly Count times
	//   - "final_collection": the entity's final collection matches
	Type string `yaml:"type"`

	// Entity scopes the assertion to one entity type. Required for
	// final_collection, optional for the trace assertions.
	Entity string `yaml:"entity,omitempty"`

	// Op is the action op name (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected op order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Error, when set, requires the matched action to carry failure
	// detail containing this substring (trace_contains).
	Error string `yaml:"error,omitempty"`

	// Count is the exact number of occurrences (trace_count). Zero
	// asserts the op never fired.
	Count int `yaml:"count,omitempty"`

	// IDs is the exact final key order (final_collection).
	IDs []any `yaml:"ids,omitempty"`

	// Contains lists documents the final collection must hold, matched
	// by subset: every listed field must equal the stored field, extra
	// stored fields are ignored.
	Contains []map[string]any `yaml:"contains,omitempty"`

	// Loading, when set, is the expected outstanding-query flag.
	Loading *bool `yaml:"loading,omitempty"`

	// Filter, when set, is the expected filter pattern.
	Filter any `yaml:"filter,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains   = "trace_contains"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertFinalCollection = "final_collection"
)

// commandPayload maps each command to the payload field it requires.
// Commands not listed here are unknown; an empty value means the command
// takes no required payload.
var commandPayload = map[string]string{
	"add":            "doc",
	"update":         "doc",
	"delete":         "key",
	"get_all":        "",
	"get_by_key":     "key",
	"get_with_query": "",
	"add_one":        "doc",
	"add_many":       "docs",
	"add_all":        "",
	"update_one":     "doc",
	"update_many":    "docs",
	"remove_one":     "key",
	"remove_many":    "keys",
	"clear":          "",
	"set_filter":     "",
}

// LoadScenario reads and parses a scenario YAML file. Metadata paths are
// resolved relative to the scenario file's directory. Returns an error if
// the file doesn't exist, is malformed, contains unknown fields (typos),
// or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, metaPath := range scenario.Metadata {
		if !filepath.IsAbs(metaPath) {
			scenario.Metadata[i] = filepath.Join(base, metaPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, metaPath := range s.Metadata {
		if _, err := os.Stat(metaPath); os.IsNotExist(err) {
			return fmt.Errorf("metadata file not found: %s", metaPath)
		}
	}

	for entityName, docs := range s.Seed {
		if len(docs) == 0 {
			return fmt.Errorf("seed[%s]: document list must be non-empty", entityName)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(&step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks one command step against the command vocabulary.
func validateStep(step *Step) error {
	if step.Command == "" {
		return fmt.Errorf("command is required")
	}
	required, known := commandPayload[step.Command]
	if !known {
		return fmt.Errorf("unknown command %q", step.Command)
	}
	if step.Entity == "" {
		return fmt.Errorf("entity is required")
	}

	switch required {
	case "doc":
		if step.Doc == nil {
			return fmt.Errorf("command %s requires doc", step.Command)
		}
	case "docs":
		if len(step.Docs) == 0 {
			return fmt.Errorf("command %s requires a non-empty docs list", step.Command)
		}
	case "key":
		if step.Key == nil {
			return fmt.Errorf("command %s requires key", step.Command)
		}
	case "keys":
		if len(step.Keys) == 0 {
			return fmt.Errorf("command %s requires a non-empty keys list", step.Command)
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
		if _, err := entity.ParseOp(a.Op); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertTraceOrder:
		if len(a.Ops) < 2 {
			return fmt.Errorf("assertions[%d]: trace_order needs at least two ops", index)
		}
		for _, name := range a.Ops {
			if _, err := entity.ParseOp(name); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if _, err := entity.ParseOp(a.Op); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalCollection:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for final_collection", index)
		}
		if a.IDs == nil && len(a.Contains) == 0 && a.Loading == nil && a.Filter == nil {
			return fmt.Errorf("assertions[%d]: final_collection needs ids, contains, loading, or filter", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
