package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// LogCommand prints a run's execution log: "routine.log" for shell
// routines, falling back to "papermill.log" for notebook routines.
func LogCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "log [id]",
		Short: "Print a run's execution log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(gf)
			if err != nil {
				return err
			}
			runsDir := filepath.Join(root, ".decree", "runs")

			runDir, err := resolveRunArg(runsDir, args)
			if err != nil {
				return fmt.Errorf("log: %w", err)
			}

			for _, name := range []string{"routine.log", "papermill.log"} {
				data, err := os.ReadFile(filepath.Join(runsDir, runDir, name))
				if err == nil {
					out := cmd.OutOrStdout()
					if preview := changePreview(runsDir, runDir); preview != "" {
						fmt.Fprintf(out, "changes: %s\n", preview)
					}
					fmt.Fprint(out, string(data))
					return nil
				}
			}
			return fmt.Errorf("log: no log file found for %s", runDir)
		},
	}
}
