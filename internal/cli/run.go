package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmwren/replica/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string
}

// JournalSummary reports the journal state after a run.
type JournalSummary struct {
	Path    string `json:"path"`
	Count   int    `json:"count"`
	LastSeq int64  `json:"last_seq"`
}

// RunSummary holds the outcome of running a scenario flow.
type RunSummary struct {
	Scenario string          `json:"scenario"`
	Backend  string          `json:"backend"`
	Pass     bool            `json:"pass"`
	Actions  int             `json:"actions"`
	Errors   []string        `json:"errors,omitempty"`
	Journal  *JournalSummary `json:"journal,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run a scenario flow against the configured backend",
		Long: `Run one scenario flow against the backend named in the config file.

Unlike test, which always uses a fresh in-memory service, run builds the
persistence backend from replica.yaml (memory, rest, sqlite, or redis),
opens the configured journal, and drives the scenario through a live
store. Every applied action is appended to the journal, so the run can be
inspected afterwards with replay and trace.

Exit codes:
  0 - Scenario passed
  1 - Assertions failed
  2 - Command error (bad config, unreachable backend, etc.)

Examples:
  replica run ./scenarios/add-and-load.yaml
  replica run ./scenarios/add-and-load.yaml --config ./replica.yaml
  replica run ./scenarios/add-and-load.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFlow(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file (default replica.yaml)")

	return cmd
}

func runScenarioFlow(opts *RunOptions, scenarioPath string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(scenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	env, err := LoadEnvironment(opts.Config, opts.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load environment", err)
	}
	defer env.Close()

	env.Logger.Info("running scenario",
		"name", scenario.Name,
		"backend", env.Config.Backend.Kind,
		"journal", env.Config.Journal.Path)

	runOpts := harness.Options{
		Service:  env.Service,
		Registry: env.Registry,
		Logger:   env.Logger,
	}
	if env.Journal != nil {
		runOpts.Journal = env.Journal
	}

	result, err := harness.RunWith(scenario, runOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	summary := RunSummary{
		Scenario: scenario.Name,
		Backend:  env.Config.Backend.Kind,
		Pass:     result.Pass,
		Actions:  len(result.Trace),
		Errors:   result.Errors,
	}

	if env.Journal != nil {
		js, err := journalSummary(cmd.Context(), env)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		summary.Journal = js
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, summary)
	}

	return outputRunText(cmd, summary, result, opts.Verbose)
}

// journalSummary reads the post-run journal counters.
func journalSummary(ctx context.Context, env *Environment) (*JournalSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	count, err := env.Journal.Count(ctx)
	if err != nil {
		return nil, err
	}
	lastSeq, err := env.Journal.LastSeq(ctx)
	if err != nil {
		return nil, err
	}

	return &JournalSummary{
		Path:    env.Config.Journal.Path,
		Count:   count,
		LastSeq: lastSeq,
	}, nil
}

// outputRunJSON outputs the run summary as JSON.
func outputRunJSON(cmd *cobra.Command, summary RunSummary) error {
	response := CLIResponse{
		Status: "ok",
		Data:   summary,
	}

	if !summary.Pass {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeScenario,
			Message: fmt.Sprintf("scenario %s failed", summary.Scenario),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !summary.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", summary.Scenario))
	}
	return nil
}

// outputRunText outputs the run summary as text.
func outputRunText(cmd *cobra.Command, summary RunSummary, result *harness.Result, verbose bool) error {
	w := cmd.OutOrStdout()

	status := "✓"
	if !summary.Pass {
		status = "✗"
	}
	fmt.Fprintf(w, "%s %s (%s backend, %d action(s))\n", status, summary.Scenario, summary.Backend, summary.Actions)

	if verbose {
		for _, a := range result.Trace {
			line := fmt.Sprintf("  [%d] %s %s", a.Seq, a.Entity, a.Op)
			if a.CorrelationID != "" {
				line += " " + a.CorrelationID
			}
			if a.Err != nil {
				line += " error: " + a.Err.Error()
			}
			fmt.Fprintln(w, line)
		}
	}

	if summary.Journal != nil {
		fmt.Fprintf(w, "  Journal: %s holds %d action(s), last seq %d\n",
			summary.Journal.Path, summary.Journal.Count, summary.Journal.LastSeq)
	}

	if !summary.Pass {
		for _, e := range summary.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", summary.Scenario))
	}

	return nil
}
