package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sipeed/specloom/internal/message"
	"github.com/sipeed/specloom/internal/pipeline"
)

// ProcessCommand starts a new chain for every "specs/*.spec.md" file not
// yet recorded in "specs/processed-spec.md".
func ProcessCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Process every unprocessed spec file",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, idx, err := bootstrap(*gf)
			if err != nil {
				return err
			}
			defer idx.Close()

			specs, err := pipeline.UnprocessedSpecs(p.Root)
			if err != nil {
				return fmt.Errorf("process: list unprocessed specs: %w", err)
			}
			if len(specs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no unprocessed specs")
				return nil
			}

			for _, name := range specs {
				specPath := filepath.Join("specs", name)
				path, err := pipeline.NewSpecMessage(p.Root, specPath)
				if err != nil {
					return fmt.Errorf("process: create spec message for %s: %w", name, err)
				}
				hint := specRoutineHint(filepath.Join(p.Root, specPath))
				result, err := p.ProcessChain(context.Background(), path, hint)
				if err != nil {
					return fmt.Errorf("process: process chain for %s: %w", name, err)
				}
				reportChainResult(cmd, result)
			}
			return nil
		},
	}
}

// specRoutineHint reads the spec-provided routine hint (§4.D) from a spec
// file's own optional YAML frontmatter, using the same "---" fencing as an
// inbox message. A spec file with no frontmatter, or no routine field,
// yields "": the rest of the fallback chain decides.
func specRoutineHint(specPath string) string {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return ""
	}
	fm, _ := message.ParseMessageFile(string(data))
	if fm.Routine == nil {
		return ""
	}
	return *fm.Routine
}
