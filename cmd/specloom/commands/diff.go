package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sipeed/specloom/internal/message"
)

// DiffCommand prints the accumulated "changes.diff" for a run, a chain, or
// (with --since) every run in a chain from a given id onward.
func DiffCommand(gf *globalFlags) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "diff [id|chain]",
		Short: "Print the diff produced by one or more runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(gf)
			if err != nil {
				return err
			}
			runsDir := filepath.Join(root, ".decree", "runs")

			runs, err := resolveRunRange(runsDir, argOrEmpty(args), since, "")
			if err != nil {
				return fmt.Errorf("diff: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, runDir := range runs {
				data, err := os.ReadFile(filepath.Join(runsDir, runDir, "changes.diff"))
				if err != nil {
					return fmt.Errorf("diff: read changes.diff for %s: %w", runDir, err)
				}
				fmt.Fprint(out, string(data))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only runs from this id onward, within the same chain")
	return cmd
}

func resolveRoot(gf *globalFlags) (string, error) {
	root, err := filepath.Abs(gf.root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	return root, nil
}

// resolveRunArg resolves a command's optional [id] argument to a single run
// directory name: an explicit id/prefix, or the most recent run if omitted.
// An ambiguous prefix (more than one match) is reported to the caller.
func resolveRunArg(runsDir string, args []string) (string, error) {
	if len(args) == 0 {
		return message.MostRecent(runsDir)
	}
	matches, err := message.ResolveID(runsDir, args[0])
	if err != nil {
		return "", err
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("ambiguous id %q matches %d runs: %v", args[0], len(matches), matches)
	}
	return matches[0], nil
}
