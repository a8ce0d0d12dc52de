package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/plantbuild/plantbuild/internal/config"
	"github.com/plantbuild/plantbuild/internal/logging"
	"github.com/plantbuild/plantbuild/internal/pipeline"
)

var buildReportFormat string

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build all stale diagrams",
	Long: `Build scans the configured diagram roots, determines which diagrams
are stale against their rendered outputs and re-renders only those.

A diagram is stale when its output is missing, its source changed or
any file in its transitive include closure changed. With themes
enabled, each diagram is built in a light and a dark variant.

Examples:
  plantbuild build                  # Build stale diagrams
  plantbuild build --report json    # Print a JSON build report`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVar(&buildReportFormat, "report", "text", "Report format (text, json, yaml)")
}

func runBuild(cmd *cobra.Command, args []string) error {
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

	report, err := p.Run(cmd.Context())
	if err != nil {
		return err
	}

	// Per-diagram failures are part of the report, not a command
	// failure; only configuration and scan errors abort.
	return printReport(report, buildReportFormat)
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})
}

func printReport(report *pipeline.Report, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	case "text":
		fmt.Printf("scanned %d, stale %d, rendered %d, skipped %d in %s\n",
			report.Scanned, report.Stale, report.Rendered, report.Skipped,
			report.Duration.Round(time.Millisecond))
		for _, failure := range report.Failures {
			fmt.Printf("  FAILED %s [%s]: %s\n", failure.Path, failure.Variant, failure.Message)
		}
	default:
		return fmt.Errorf("unsupported report format: %s (supported: text, json, yaml)", format)
	}
	return nil
}
