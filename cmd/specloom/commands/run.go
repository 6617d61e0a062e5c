package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sipeed/specloom/internal/message"
	"github.com/sipeed/specloom/internal/pipeline"
)

// RunCommand starts a new chain from an ad-hoc task message.
func RunCommand(gf *globalFlags) *cobra.Command {
	var (
		routineName string
		prompt      string
		vars        []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new chain from a task message",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, idx, err := bootstrap(*gf)
			if err != nil {
				return err
			}
			defer idx.Close()

			custom, err := parseVars(vars)
			if err != nil {
				return err
			}

			path, err := pipeline.NewTaskMessage(p.Root, routineName, prompt, custom)
			if err != nil {
				return fmt.Errorf("run: create task message: %w", err)
			}

			result, err := p.ProcessChain(context.Background(), path, "")
			if err != nil {
				return fmt.Errorf("run: process chain: %w", err)
			}

			reportChainResult(cmd, result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&routineName, "message", "m", "", "routine to run (default: chosen by the routing fallback chain)")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "task body text")
	cmd.Flags().StringArrayVarP(&vars, "var", "v", nil, "custom field as key=value, repeatable")
	return cmd
}

func parseVars(vars []string) ([]message.CustomField, error) {
	var out []message.CustomField
	for _, v := range vars {
		idx := strings.Index(v, "=")
		if idx < 0 {
			return nil, fmt.Errorf("run: invalid --var %q, expected key=value", v)
		}
		out = append(out, message.CustomField{Key: v[:idx], Value: v[idx+1:]})
	}
	return out, nil
}

func reportChainResult(cmd *cobra.Command, result pipeline.ChainResult) {
	out := cmd.OutOrStdout()
	switch result.Root.Outcome {
	case pipeline.Success:
		fmt.Fprintf(out, "%s succeeded (%d follow-up message(s) processed)\n", result.Root.MsgID, result.Processed)
	case pipeline.DeadLettered:
		fmt.Fprintf(cmd.ErrOrStderr(), "%s dead-lettered: %s\n", result.Root.MsgID, result.Root.Reason)
	}
}
