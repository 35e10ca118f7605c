package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmwren/replica/internal/journal"
	"github.com/jmwren/replica/pkg/entity"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Config   string
	Snapshot bool
	Verify   bool
}

// ReplayResult holds the outcome of folding the journal.
type ReplayResult struct {
	Actions      int           `json:"actions"`
	LastSeq      int64         `json:"last_seq"`
	SnapshotHash string        `json:"snapshot_hash"`
	Entities     []string      `json:"entities"`
	Snapshot     *entity.Cache `json:"snapshot,omitempty"`
	Verified     *bool         `json:"verified,omitempty"`
	Mismatches   []string      `json:"mismatches,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the cache from the journal",
		Long: `Fold every journaled action through the pure reducer, in applied order,
and report the reconstructed state.

The summary names the final snapshot hash, which two replays of the same
journal always share. --snapshot prints the full reconstructed cache as
canonical JSON. --verify additionally recomputes every row's
content-addressed action ID and running snapshot hash against the stored
columns, catching corruption and hand-edited rows.

Metadata matters: sort comparers and key extractors shape the
reconstructed collections, so point --config at the same configuration the
writing store used.

Exit codes:
  0 - Replay succeeded (and verification passed, if requested)
  1 - Verification found mismatches
  2 - Command error (journal not found, bad metadata, etc.)

Examples:
  replica replay --db ./replica.db
  replica replay --db ./replica.db --snapshot
  replica replay --db ./replica.db --verify --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to config file (default replica.yaml)")
	cmd.Flags().BoolVar(&opts.Snapshot, "snapshot", false, "print the reconstructed cache")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "check stored IDs and hashes against recomputed values")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	reg, err := loadRegistryFromConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load metadata", err)
	}

	jnl, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer jnl.Close()

	res, err := jnl.Replay(ctx, reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	result := ReplayResult{
		Actions:      res.Count,
		LastSeq:      res.LastSeq,
		SnapshotHash: res.SnapshotHash,
		Entities:     res.Cache.Names(),
	}
	if opts.Snapshot {
		result.Snapshot = res.Cache
	}

	if opts.Verify {
		mismatches, err := jnl.Verify(ctx, reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "verify failed", err)
		}
		verified := len(mismatches) == 0
		result.Verified = &verified
		for _, m := range mismatches {
			result.Mismatches = append(result.Mismatches, m.String())
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}

	return outputReplayText(cmd, result)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if len(result.Mismatches) > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeVerify,
			Message: fmt.Sprintf("%d journal row(s) failed verification", len(result.Mismatches)),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if len(result.Mismatches) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d journal row(s) failed verification", len(result.Mismatches)))
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult) error {
	w := cmd.OutOrStdout()

	if result.Actions == 0 {
		fmt.Fprintln(w, "Journal is empty.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d action(s)\n", result.Actions)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Last Seq: %d\n", result.LastSeq)
	fmt.Fprintf(w, "  Snapshot: %s\n", truncateID(result.SnapshotHash))
	fmt.Fprintf(w, "  Entities: %s\n", strings.Join(result.Entities, ", "))

	if result.Snapshot != nil {
		data, err := json.MarshalIndent(result.Snapshot, "", "  ")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render snapshot", err)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, string(data))
	}

	if result.Verified != nil {
		fmt.Fprintln(w)
		if *result.Verified {
			fmt.Fprintln(w, "✓ Journal verified: action IDs and snapshot hashes match")
			return nil
		}

		fmt.Fprintln(w, "✗ Journal verification failed")
		for _, m := range result.Mismatches {
			fmt.Fprintf(w, "  %s\n", m)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d journal row(s) failed verification", len(result.Mismatches)))
	}

	return nil
}
