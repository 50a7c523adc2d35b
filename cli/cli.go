// Package cli provides the command-line interface for long-term signature
// evaluation.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/georgepadayatti/sigtrust/config"
)

// Exit codes
const (
	ExitOK            = 0
	ExitError         = 1
	ExitFailed        = 2
	ExitIndeterminate = 3
)

// envPrefix prefixes the environment variables bound to flags, so that
// --log-level can also be given as SIGTRUST_LOG_LEVEL.
const envPrefix = "SIGTRUST"

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// ExitCodeError carries the exit code of a run whose report did not pass.
type ExitCodeError struct {
	Code       int
	Indication string
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("validation concluded %s", e.Indication)
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ec *ExitCodeError
	if errors.As(err, &ec) {
		return ec.Code
	}
	return ExitError
}

// NewRootCommand builds the sigtrust command tree. Flags are bound to a
// dedicated viper instance that also reads SIGTRUST_* environment variables.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "sigtrust",
		Short: "Long-term signature trust evaluation",
		Long: `sigtrust evaluates the long-term validity of advanced electronic
signatures: it validates the certificates, timestamps and revocation data
collected with a signature and reports the highest AdES profile level
(B, T, LT, LTA) the signature reaches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to a YAML configuration file")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: text, json")
	root.PersistentFlags().String("log-output", "", "log output: stderr, stdout or a file path")
	if err := v.BindPFlags(root.PersistentFlags()); err != nil {
		panic(err)
	}

	root.AddCommand(newEvaluateCommand(v))
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the CLI with os.Args and exits with the run's exit code.
func Execute() {
	err := NewRootCommand().Execute()
	if err != nil {
		var ec *ExitCodeError
		if !errors.As(err, &ec) {
			slog.Error("command failed", "error", err)
		}
	}
	osExit(ExitCode(err))
}

// loadConfig reads the configuration file named by --config, or returns
// the defaults, then applies the logging flags.
func loadConfig(v *viper.Viper) (*config.AppConfig, error) {
	var cfg *config.AppConfig
	if path := v.GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadAppConfig(path); err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultAppConfig()
	}

	if v.IsSet("log-level") {
		cfg.Logging.Level = v.GetString("log-level")
	}
	if v.IsSet("log-format") {
		cfg.Logging.Format = v.GetString("log-format")
	}
	if v.IsSet("log-output") {
		cfg.Logging.Output = v.GetString("log-output")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds a logger from the logging configuration. The returned
// close function releases the log file, if one was opened.
func newLogger(cfg *config.LoggingConfig, stdout, stderr io.Writer) (*slog.Logger, func() error, error) {
	closer := func() error { return nil }

	var out io.Writer
	switch cfg.Output {
	case "", "stderr":
		out = stderr
	case "stdout":
		out = stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log output: %w", err)
		}
		out = f
		closer = f.Close
	}

	level := strings.ToLower(cfg.Level)
	if level == "warning" {
		level = "warn"
	}
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			closer()
			return nil, nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}
