package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/jmwren/replica/pkg/entity"
)

// TraceSnapshot is the golden-file form of a scenario run: the scenario
// name plus every applied action. Actions marshal with deterministic key
// order, so two runs of the same scenario produce identical bytes.
type TraceSnapshot struct {
	ScenarioName string          `json:"scenario_name"`
	Trace        []entity.Action `json:"trace"`
}

// SnapshotJSON renders the trace snapshot as indented JSON with a trailing
// newline, the exact bytes stored in golden files.
func SnapshotJSON(scenarioName string, trace []entity.Action) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: trace}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunGolden executes the scenario file and compares its trace against the
// golden file testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunGolden(t *testing.T, scenarioPath string) *Result {
	t.Helper()

	scenario, err := LoadScenario(scenarioPath)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}

	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares an already-computed result's trace against the
// golden file for the given scenario name.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	data, err := SnapshotJSON(scenarioName, result.Trace)
	if err != nil {
		t.Fatalf("snapshot %s: %v", scenarioName, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
}
