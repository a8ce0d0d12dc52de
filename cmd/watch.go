package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/pipeline"
	"github.com/plantbuild/plantbuild/internal/scanner"
	"github.com/plantbuild/plantbuild/internal/watcher"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Watch diagram sources and rebuild on changes",
	Long: `Watch runs an initial build, then watches every diagram root for
changes and incrementally rebuilds only the diagrams affected by each
change batch. Changes inside output folders are ignored so the
pipeline's own writes never retrigger it.

Examples:
  plantbuild watch                      # Watch all configured roots
  plantbuild watch --debounce 500ms     # Custom quiet period`,
	RunE: runWatch,
}

var watchDebounce time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 300*time.Millisecond, "Quiet period before a change batch triggers a rebuild")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg)

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}

	p, err := pipeline.New(cfg, logger, workDir)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initial full pass so watch mode starts from a consistent tree.
	report, err := p.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info(ctx, "initial build complete",
		"rendered", report.Rendered, "failed", len(report.Failures))

	fw, err := watcher.NewFileWatcher(watchDebounce, logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Stop()

	fw.AddFilter(watcher.SourceFilter(cfg))
	fw.AddFilter(watcher.OutputFilter(cfg))
	fw.AddFilter(watcher.DotfileFilter)

	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		changed := make([]string, 0, len(events))
		for _, event := range events {
			changed = append(changed, event.Path)
		}

		report, err := p.RunChanged(ctx, changed)
		if err != nil {
			return err
		}
		if report.Rendered > 0 || report.Failed() {
			logger.Info(ctx, "incremental build complete",
				"changed", len(changed), "rendered", report.Rendered, "failed", len(report.Failures))
		}
		return nil
	})

	roots, err := scanner.New(cfg).Roots(workDir)
	if err != nil {
		return err
	}
	for _, root := range roots {
		if err := fw.AddRecursive(root, cfg.OutputFolder); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	fw.Start(ctx)
	logger.Info(ctx, "watching for changes", "roots", len(roots))

	<-ctx.Done()
	return nil
}
