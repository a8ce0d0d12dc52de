// Package config provides configuration management for plantbuild using
// Viper for flexible configuration loading from files, environment
// variables, and command-line flags.
//
// The configuration system supports YAML files and environment variable
// overrides with the PLANTBUILD_ prefix. The resulting Config is an
// immutable snapshot of one build invocation: it is validated once at
// load time and passed explicitly to every component, never read from
// process-wide mutable state afterwards.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/plantbuild/plantbuild/internal/errors"
)

// Render backend selectors.
const (
	RenderLocal  = "local"
	RenderServer = "server"
)

// OutputFormats is the closed set of supported render output kinds.
var OutputFormats = []string{"png", "svg", "txt", "latex", "pdf"}

// Config is the immutable configuration snapshot for one build
// invocation.
type Config struct {
	// Backend selection and parameters.
	Render               string `mapstructure:"render" yaml:"render"`
	BinPath              string `mapstructure:"bin_path" yaml:"bin_path"`
	Server               string `mapstructure:"server" yaml:"server"`
	DisableSSLValidation bool   `mapstructure:"disable_ssl_certificate_validation" yaml:"disable_ssl_certificate_validation"`

	// Source discovery.
	DiagramRoots       []string `mapstructure:"diagram_root" yaml:"diagram_root"`
	AllowMultipleRoots bool     `mapstructure:"allow_multiple_roots" yaml:"allow_multiple_roots"`
	InputFolder        string   `mapstructure:"input_folder" yaml:"input_folder"`
	InputExtensions    []string `mapstructure:"input_extensions" yaml:"input_extensions"`

	// Output mapping.
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
	OutputFolder string `mapstructure:"output_folder" yaml:"output_folder"`
	OutputInDir  bool   `mapstructure:"output_in_dir" yaml:"output_in_dir"`
	PrettifySVG  bool   `mapstructure:"prettify_svg" yaml:"prettify_svg"`

	// Theme fan-out.
	ThemeEnabled bool   `mapstructure:"theme_enabled" yaml:"theme_enabled"`
	ThemeFolder  string `mapstructure:"theme_folder" yaml:"theme_folder"`
	ThemeLight   string `mapstructure:"theme_light" yaml:"theme_light"`
	ThemeDark    string `mapstructure:"theme_dark" yaml:"theme_dark"`

	// Execution.
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	RenderTimeout time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
	LogLevel      string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string        `mapstructure:"log_format" yaml:"log_format"`
}

// Load reads the configuration from viper, applies defaults and
// validates the result. Validation failures are configuration errors
// and abort the run before any scanning.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "unmarshaling configuration").WithPath(viper.ConfigFileUsed())
	}

	// Handle diagram_root set via viper: accepts both a single path
	// and a list of paths.
	if viper.IsSet("diagram_root") && len(config.DiagramRoots) == 0 {
		roots := viper.GetStringSlice("diagram_root")
		if len(roots) > 0 {
			config.DiagramRoots = roots
		}
	}

	// Handle input_extensions set via viper: accepts both a
	// comma-separated string and a list.
	if viper.IsSet("input_extensions") && len(config.InputExtensions) == 0 {
		config.InputExtensions = viper.GetStringSlice("input_extensions")
	}
	config.InputExtensions = splitExtensionList(config.InputExtensions)

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// splitExtensionList expands comma-separated entries and drops empties
// so both `input_extensions: puml,plantuml` and a YAML list behave the
// same.
func splitExtensionList(entries []string) []string {
	var out []string
	for _, entry := range entries {
		for _, ext := range strings.Split(entry, ",") {
			ext = strings.TrimSpace(ext)
			if ext != "" {
				out = append(out, ext)
			}
		}
	}
	return out
}

func applyDefaults(config *Config) {
	if config.Render == "" {
		config.Render = RenderServer
	}
	if config.BinPath == "" {
		config.BinPath = "/usr/local/bin/plantuml"
	}
	if config.Server == "" {
		config.Server = "https://www.plantuml.com/plantuml"
	}
	if len(config.DiagramRoots) == 0 {
		config.DiagramRoots = []string{"docs/diagrams"}
	}
	if config.InputFolder == "" {
		config.InputFolder = "src"
	}
	if config.OutputFormat == "" {
		config.OutputFormat = "png"
	}
	if config.OutputFolder == "" {
		config.OutputFolder = "out"
	}
	if config.ThemeFolder == "" {
		config.ThemeFolder = "include/themes"
	}
	if config.ThemeLight == "" {
		config.ThemeLight = "light.puml"
	}
	if config.ThemeDark == "" {
		config.ThemeDark = "dark.puml"
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
		if config.Workers > 8 {
			config.Workers = 8
		}
	}
	if config.RenderTimeout <= 0 {
		config.RenderTimeout = 30 * time.Second
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogFormat == "" {
		config.LogFormat = "text"
	}
}

// Validate checks configuration values for correctness. Every failure
// is a fatal configuration error.
func Validate(config *Config) error {
	if config.Render != RenderLocal && config.Render != RenderServer {
		return errors.NewConfigError(
			errors.ErrCodeConfigInvalid,
			fmt.Sprintf("render must be %q or %q, got %q", RenderLocal, RenderServer, config.Render),
		)
	}

	if !validOutputFormat(config.OutputFormat) {
		return errors.NewConfigError(
			errors.ErrCodeConfigInvalid,
			fmt.Sprintf("output_format %q is not one of %s", config.OutputFormat, strings.Join(OutputFormats, ", ")),
		)
	}

	if len(config.DiagramRoots) > 1 && !config.AllowMultipleRoots {
		return errors.ErrMultipleRoots(len(config.DiagramRoots))
	}

	if config.Render == RenderServer {
		if !strings.HasPrefix(config.Server, "http://") && !strings.HasPrefix(config.Server, "https://") {
			return errors.NewConfigError(
				errors.ErrCodeConfigInvalid,
				"server must be an http(s) URL: "+config.Server,
			)
		}
	}

	if config.ThemeEnabled {
		if config.ThemeLight == "" || config.ThemeDark == "" {
			return errors.NewConfigError(
				errors.ErrCodeConfigInvalid,
				"theme_enabled requires theme_light and theme_dark file names",
			)
		}
	}

	return nil
}

func validOutputFormat(format string) bool {
	for _, f := range OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

// MatchesExtension reports whether a file name passes the extension
// allow-list. An empty list accepts every file.
func (c *Config) MatchesExtension(name string) bool {
	if len(c.InputExtensions) == 0 {
		return true
	}
	for _, ext := range c.InputExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
