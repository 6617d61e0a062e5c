package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sipeed/specloom/internal/diffcodec"
)

// ApplyCommand re-applies one or more runs' "changes.diff" to an arbitrary
// tree (typically not the project that produced them), after a pre-flight
// conflict check unless --force is given.
func ApplyCommand(gf *globalFlags) *cobra.Command {
	var (
		since   string
		through string
		all     bool
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "apply [id|chain]",
		Short: "Apply one or more runs' diffs to the project tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(gf)
			if err != nil {
				return err
			}
			runsDir := filepath.Join(root, ".decree", "runs")

			var runs []string
			if all {
				runs, err = allRunDirs(runsDir)
			} else {
				runs, err = resolveRunRange(runsDir, argOrEmpty(args), since, through)
			}
			if err != nil {
				return fmt.Errorf("apply: %w", err)
			}

			for _, runDir := range runs {
				if err := applyRun(cmd, root, runsDir, runDir, force); err != nil {
					return fmt.Errorf("apply: %s: %w", runDir, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only runs from this id onward, within the same chain")
	cmd.Flags().StringVar(&through, "through", "", "only runs up to and including this id, within the same chain")
	cmd.Flags().BoolVar(&all, "all", false, "apply every run under .decree/runs, ignoring the id argument")
	cmd.Flags().BoolVar(&force, "force", false, "skip the pre-flight conflict check")
	return cmd
}

func applyRun(cmd *cobra.Command, root, runsDir, runDir string, force bool) error {
	data, err := os.ReadFile(filepath.Join(runsDir, runDir, "changes.diff"))
	if err != nil {
		return fmt.Errorf("read changes.diff: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	diffs, err := diffcodec.Parse(string(data))
	if err != nil {
		return fmt.Errorf("parse changes.diff: %w", err)
	}

	if !force {
		conflicts := diffcodec.CheckConflicts(root, diffs)
		if len(conflicts) > 0 {
			for _, c := range conflicts {
				fmt.Fprintln(cmd.ErrOrStderr(), c.Error())
			}
			return fmt.Errorf("%d conflict(s) found, use --force to override", len(conflicts))
		}
	}

	if err := diffcodec.ApplyDiffs(root, diffs); err != nil {
		return fmt.Errorf("apply diffs: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %s (%d file(s))\n", runDir, len(diffs))
	return nil
}
