package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/schema"
)

// SchemaCheckResult is the schema check command payload.
type SchemaCheckResult struct {
	File   string          `json:"file"`
	Valid  bool            `json:"valid"`
	Errors []SchemaProblem `json:"errors,omitempty"`
}

// SchemaProblem is one rejected field.
type SchemaProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print or check against the creation request schema",
		Long: `Print the CUE definition creation requests are validated against, or
check request files offline without touching any store.

Examples:
  triad schema
  triad schema check event.yaml other.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			return out.Emit(map[string]string{"cue": schema.Source}, schema.Source)
		},
	}
	cmd.AddCommand(newSchemaCheckCommand(rootOpts))
	return cmd
}

func newSchemaCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check <file>...",
		Short:         "Validate creation request files",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			results := make([]SchemaCheckResult, 0, len(args))
			var text strings.Builder
			failed := 0
			for _, path := range args {
				res := SchemaCheckResult{File: path, Valid: true}
				req, err := loadCreationInput(path)
				if err != nil {
					res.Valid = false
					res.Errors = append(res.Errors, SchemaProblem{Message: err.Error()})
				} else {
					for _, ve := range schema.Check(req) {
						res.Valid = false
						res.Errors = append(res.Errors, SchemaProblem{Field: ve.Field, Message: ve.Message})
					}
				}
				if !res.Valid {
					failed++
				}
				results = append(results, res)
				writeSchemaResult(&text, res)
			}
			if err := out.Emit(results, text.String()); err != nil {
				return err
			}
			if failed > 0 {
				return WrapExitError(ExitFailure, fmt.Sprintf("%d of %d file(s) invalid", failed, len(args)),
					model.NewValidationError("", "schema check failed"))
			}
			return nil
		},
	}
}

func writeSchemaResult(b *strings.Builder, res SchemaCheckResult) {
	if res.Valid {
		fmt.Fprintf(b, "%s %s\n", styleGood.Render("✓"), res.File)
		return
	}
	fmt.Fprintf(b, "%s %s\n", styleBad.Render("✗"), res.File)
	for _, p := range res.Errors {
		if p.Field != "" {
			fmt.Fprintf(b, "    %s: %s\n", p.Field, p.Message)
		} else {
			fmt.Fprintf(b, "    %s\n", p.Message)
		}
	}
}
