package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmwren/replica/internal/journal"
	"github.com/jmwren/replica/pkg/entity"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database    string
	Entity      string
	Op          string
	Correlation string
}

// TraceAction is one journaled action rendered for the timeline.
type TraceAction struct {
	Seq           int64  `json:"seq"`
	Entity        string `json:"entity"`
	Op            string `json:"op"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ID            string `json:"id"`
	Error         string `json:"error,omitempty"`
}

// TraceStats holds summary statistics over the listed actions.
type TraceStats struct {
	Total     int `json:"total"`
	Commands  int `json:"commands"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
	CacheOnly int `json:"cache_only"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceAction `json:"timeline"`
	Stats    TraceStats    `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List journaled actions",
		Long: `List the applied-action journal in sequence order.

Each line shows the sequence number, entity type, op, and correlation ID,
so a command can be followed from dispatch through its persistence result.
Filters narrow the listing to one entity type, one op, or one correlated
command round trip.

Examples:
  replica trace --db ./replica.db
  replica trace --db ./replica.db --entity hero
  replica trace --db ./replica.db --op SAVE_ADD_ERROR
  replica trace --db ./replica.db --correlation cmd-0003 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "filter to one entity type")
	cmd.Flags().StringVar(&opts.Op, "op", "", "filter to one op wire name")
	cmd.Flags().StringVar(&opts.Correlation, "correlation", "", "filter to one correlation ID")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	// Reject a bad op name before touching the database.
	var opFilter *entity.Op
	if opts.Op != "" {
		op, err := entity.ParseOp(opts.Op)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --op", err)
		}
		opFilter = &op
	}

	jnl, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer jnl.Close()

	var records []journal.Record
	if opts.Entity != "" {
		records, err = jnl.ReadEntity(ctx, opts.Entity)
	} else {
		records, err = jnl.ReadAll(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := buildTraceResult(records, opFilter, opts.Correlation)

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}

	return outputTraceText(cmd, result, opts.Verbose)
}

// buildTraceResult renders records into the timeline, applying the op and
// correlation filters.
func buildTraceResult(records []journal.Record, opFilter *entity.Op, correlation string) TraceResult {
	result := TraceResult{Timeline: []TraceAction{}}

	for _, rec := range records {
		a := rec.Action
		if opFilter != nil && a.Op != *opFilter {
			continue
		}
		if correlation != "" && a.CorrelationID != correlation {
			continue
		}

		ta := TraceAction{
			Seq:           rec.Seq,
			Entity:        rec.Entity,
			Op:            a.Op.String(),
			CorrelationID: a.CorrelationID,
			ID:            rec.ID,
		}
		if a.Err != nil {
			ta.Error = a.Err.Error()
		}
		result.Timeline = append(result.Timeline, ta)

		result.Stats.Total++
		switch {
		case a.Op.IsSuccess():
			result.Stats.Successes++
		case a.Op.IsError():
			result.Stats.Failures++
		case a.Op.IsPersistence():
			result.Stats.Commands++
		case a.Op.IsCacheOnly():
			result.Stats.CacheOnly++
		}
	}

	return result
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No actions found in journal.")
		return nil
	}

	fmt.Fprintf(w, "Trace: %d action(s)\n", result.Stats.Total)
	fmt.Fprintln(w)

	for _, ta := range result.Timeline {
		line := fmt.Sprintf("  [%d] %s %s", ta.Seq, ta.Entity, ta.Op)
		if ta.CorrelationID != "" {
			line += fmt.Sprintf(" (%s)", ta.CorrelationID)
		}
		if ta.Error != "" {
			line += " error: " + ta.Error
		}
		fmt.Fprintln(w, line)
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", truncateID(ta.ID))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Stats:")
	fmt.Fprintf(w, "  Commands:   %d\n", result.Stats.Commands)
	fmt.Fprintf(w, "  Successes:  %d\n", result.Stats.Successes)
	fmt.Fprintf(w, "  Failures:   %d\n", result.Stats.Failures)
	fmt.Fprintf(w, "  Cache-only: %d\n", result.Stats.CacheOnly)

	return nil
}

// truncateID truncates a long content hash for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
