package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sipeed/specloom/internal/pipeline"
)

// StatusCommand summarizes unprocessed specs, pending inbox messages, and
// recent run outcomes.
func StatusCommand(gf *globalFlags) *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize pending work and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, idx, err := bootstrap(*gf)
			if err != nil {
				return err
			}
			defer idx.Close()

			out := cmd.OutOrStdout()

			specs, err := pipeline.UnprocessedSpecs(p.Root)
			if err != nil {
				return fmt.Errorf("status: list unprocessed specs: %w", err)
			}
			fmt.Fprintf(out, "unprocessed specs: %d\n", len(specs))
			for _, s := range specs {
				fmt.Fprintf(out, "  %s\n", s)
			}

			pending, err := countInboxMessages(p.Root)
			if err != nil {
				return fmt.Errorf("status: count inbox messages: %w", err)
			}
			fmt.Fprintf(out, "pending inbox messages: %d\n", pending)

			records, err := idx.Recent(recent)
			if err != nil {
				return fmt.Errorf("status: recent runs: %w", err)
			}
			fmt.Fprintf(out, "recent runs (%d):\n", len(records))
			runsDir := filepath.Join(p.Root, ".decree", "runs")
			for _, r := range records {
				fmt.Fprintf(out, "  %s  %-8s  attempts=%d  routine=%s\n", r.ID, r.Status, r.Attempts, r.Routine)
				if preview := changePreview(runsDir, r.ID); preview != "" {
					fmt.Fprintf(out, "      %s\n", preview)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent runs to show")
	return cmd
}

func countInboxMessages(root string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(root, ".decree", "inbox"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n, nil
}
