package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sipeed/specloom/internal/config"
)

const defaultDevelopRoutine = `#!/bin/sh
# message_file: the normalized inbox message passed to this attempt
# spec_file: the spec file named by the message's input_file, if any
set -eu
echo "develop routine running for message ${message_id}" >&2
`

// InitCommand scaffolds ".decree/" in the project root: the inbox
// directories, a default config, and a starter routine.
func InitCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a specloom project in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(gf.root)
			if err != nil {
				return fmt.Errorf("init: resolve project root: %w", err)
			}

			dirs := []string{
				filepath.Join(root, ".decree", "inbox"),
				filepath.Join(root, ".decree", "inbox", "done"),
				filepath.Join(root, ".decree", "inbox", "dead"),
				filepath.Join(root, ".decree", "runs"),
				filepath.Join(root, ".decree", "routines"),
				filepath.Join(root, ".decree", "cron"),
				filepath.Join(root, "specs"),
			}
			for _, d := range dirs {
				if err := os.MkdirAll(d, 0o755); err != nil {
					return fmt.Errorf("init: create %s: %w", d, err)
				}
			}

			configPath := filepath.Join(root, ".decree", "config.yml")
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				if err := config.Save(config.Default(), root); err != nil {
					return fmt.Errorf("init: write default config: %w", err)
				}
			}

			routinePath := filepath.Join(root, ".decree", "routines", "develop.sh")
			if _, err := os.Stat(routinePath); os.IsNotExist(err) {
				if err := os.WriteFile(routinePath, []byte(defaultDevelopRoutine), 0o755); err != nil {
					return fmt.Errorf("init: write default routine: %w", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized specloom project at %s\n", root)
			return nil
		},
	}
}
