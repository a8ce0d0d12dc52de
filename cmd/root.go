// Package cmd provides the command-line interface for plantbuild with
// configuration management supporting multiple configuration sources.
//
// Configuration System:
//
//	Configuration values are resolved with clear precedence:
//	1. Command-line flags (--config, --log-level) - highest priority
//	2. PLANTBUILD_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (PLANTBUILD_RENDER, PLANTBUILD_SERVER, ...)
//	4. Configuration file (.plantbuild.yml) - lowest priority
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "plantbuild",
	Short: "Incremental diagram image builder",
	Long: `Plantbuild renders diagram sources into images, incrementally: only
diagrams whose source or transitive includes changed since the last
build are re-rendered.

Key Features:
  - Source discovery across one or more diagram roots
  - Transitive include tracking for precise staleness
  - Local executable or remote server rendering
  - Light and dark themed output variants
  - Watch mode with debounced incremental rebuilds

Quick Start:
  plantbuild build                Build all stale diagrams
  plantbuild watch                Rebuild on file changes
  plantbuild version              Show version information`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Accept snake_case spellings of flags so they match the config
	// file keys, e.g. --log_level for --log-level.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .plantbuild.yml, can also use PLANTBUILD_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig initializes the configuration system.
//
// Configuration file priority (highest to lowest):
//  1. --config flag: explicitly specified config file path
//  2. PLANTBUILD_CONFIG_FILE environment variable
//  3. Default: .plantbuild.yml in the current directory
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PLANTBUILD_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".plantbuild")
	}

	// Automatic environment variable binding with the PLANTBUILD_
	// prefix, e.g. PLANTBUILD_RENDER=local, PLANTBUILD_OUTPUT_FORMAT=svg.
	viper.SetEnvPrefix("PLANTBUILD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine, defaults and environment take over.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
