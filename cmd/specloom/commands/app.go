package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sipeed/specloom/internal/config"
	"github.com/sipeed/specloom/internal/logging"
	"github.com/sipeed/specloom/internal/notify"
	"github.com/sipeed/specloom/internal/pipeline"
	"github.com/sipeed/specloom/internal/router"
	"github.com/sipeed/specloom/internal/runindex"
	"github.com/sipeed/specloom/pkg/infrastructure/eventbus"
)

// globalFlags holds the persistent flags every subcommand reads to bootstrap
// its Pipeline, mirroring the Container composition root the domain layer
// is built around.
type globalFlags struct {
	root    string
	verbose bool
	quiet   bool
}

// bootstrap loads project configuration and wires a Pipeline for a single
// command invocation. Callers must Close() the returned Index when done.
func bootstrap(gf globalFlags) (*pipeline.Pipeline, *runindex.Index, error) {
	root, err := filepath.Abs(gf.root)
	if err != nil {
		return nil, nil, fmt.Errorf("commands: resolve project root: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, nil, fmt.Errorf("commands: load config: %w", err)
	}

	level := logging.LevelInfo
	if gf.verbose {
		level = logging.LevelDebug
	}
	if gf.quiet {
		level = logging.LevelQuiet
	}
	logger := logging.New(os.Stderr, level)

	idx, err := runindex.Open(filepath.Join(root, ".decree", "index.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("commands: open run index: %w", err)
	}

	bus := eventbus.New()
	bus.SubscribeAll(logging.NewEventHandler(logger))

	p := &pipeline.Pipeline{
		Root:     root,
		Config:   cfg,
		Router:   router.New(cfg.Router),
		Notifier: notify.New(cfg.Notify, logger),
		Index:    idx,
		Bus:      bus,
		Log:      logger,
	}
	return p, idx, nil
}

// NewRootCmd assembles the specloom command tree.
func NewRootCmd() *cobra.Command {
	gf := &globalFlags{}

	root := &cobra.Command{
		Use:   "specloom",
		Short: "Specification-driven execution orchestrator",
		Long:  "specloom drains inbox messages through routines, checkpointing and reverting the working tree around each attempt.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&gf.root, "root", ".", "project root directory")
	root.PersistentFlags().BoolVar(&gf.verbose, "verbose", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&gf.quiet, "quiet", "q", false, "suppress all but error logging")

	root.AddCommand(
		InitCommand(gf),
		RunCommand(gf),
		ProcessCommand(gf),
		DaemonCommand(gf),
		DiffCommand(gf),
		ApplyCommand(gf),
		StatusCommand(gf),
		LogCommand(gf),
	)
	return root
}
