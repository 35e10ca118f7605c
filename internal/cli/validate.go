package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmwren/replica/internal/compiler"
	"github.com/jmwren/replica/pkg/entity"
)

// ValidatedEntity summarizes one compiled entity type.
type ValidatedEntity struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	Plural string `json:"plural,omitempty"`
	Sort   string `json:"sort,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// ValidationResult holds the outcome of compiling metadata files.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Files    int               `json:"files"`
	Entities []ValidatedEntity `json:"entities,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <metadata-file>...",
		Short: "Compile entity metadata without running anything",
		Long: `Compile CUE entity metadata files and report every problem found.

Checks each declaration against the metadata schema (key field, sort and
filter specs, extra state) and builds the type registry, so a file that
validates here loads cleanly in scenarios and configured stores.

Exit codes:
  0 - All metadata valid
  1 - Compilation or registry errors
  2 - Command error (file not found, etc.)

Examples:
  replica validate ./metadata/hero.cue
  replica validate ./metadata/hero.cue ./metadata/planet.cue --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	for _, path := range files {
		if _, err := os.Stat(path); err != nil {
			_ = formatter.Error(ErrCodeMetadata, fmt.Sprintf("metadata file not found: %s", path), nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("metadata file not found: %s", path))
		}
	}

	formatter.VerboseLog("Compiling %d metadata file(s)", len(files))

	metas, errs := compiler.CompileFiles(files)
	if len(errs) == 0 {
		// Registry construction catches what per-file compilation cannot,
		// like a sort spec naming no field.
		if _, err := compiler.BuildRegistry(metas); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	result := ValidationResult{
		Valid:    true,
		Files:    len(files),
		Entities: summarizeEntities(metas),
	}
	return outputValidateSuccess(formatter, result)
}

// summarizeEntities renders compiled metadata for display, in declaration
// order.
func summarizeEntities(metas []entity.Metadata) []ValidatedEntity {
	entities := make([]ValidatedEntity, 0, len(metas))
	for _, meta := range metas {
		ent := ValidatedEntity{
			Name:   meta.Name,
			Key:    meta.KeyField,
			Plural: meta.Plural,
		}
		if ent.Key == "" {
			ent.Key = "id"
		}
		if meta.Sort != nil {
			direction := "asc"
			if meta.Sort.Descending {
				direction = "desc"
			}
			ent.Sort = meta.Sort.Field + " " + direction
		}
		if meta.Filter != nil {
			ent.Filter = strings.Join(meta.Filter.Fields, ", ")
		}
		entities = append(entities, ent)
	}
	return entities
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ %d entity type(s) valid\n", len(result.Entities))
	for _, ent := range result.Entities {
		parts := []string{"key: " + ent.Key}
		if ent.Sort != "" {
			parts = append(parts, "sort: "+ent.Sort)
		}
		if ent.Filter != "" {
			parts = append(parts, "filter: "+ent.Filter)
		}
		fmt.Fprintf(w, "  %s (%s)\n", ent.Name, strings.Join(parts, ", "))
	}
	return nil
}

// outputValidationErrors outputs compilation errors and flags the run
// failed.
func outputValidationErrors(formatter *OutputFormatter, errs []error) error {
	messages := make([]string, len(errs))
	for i, err := range errs {
		messages[i] = err.Error()
	}

	if formatter.Format == "json" {
		result := ValidationResult{
			Valid:  false,
			Errors: messages,
		}

		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    ErrCodeMetadata,
				Message: messages[0],
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, msg := range messages {
		fmt.Fprintf(formatter.Writer, "  %s\n", msg)
	}
	fmt.Fprintln(formatter.Writer)

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
