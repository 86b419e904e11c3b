// Command flowstack runs workflow systems on the simulated execution engine.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/claudio-flowstack/flowstack/internal/config"
	"github.com/claudio-flowstack/flowstack/internal/i18n"
	"github.com/claudio-flowstack/flowstack/pkg/clock"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	out    io.Writer
	clock  clock.Clock
	cfg    *config.Config
	logger *zap.Logger
	print  *i18n.Printer

	envFile   string
	logLevel  string
	logFormat string
	lang      string
}

func main() {
	a := &app{out: os.Stdout, clock: clock.Real()}
	if err := a.rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowstack",
		Short:         "Simulated workflow execution engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetOut(a.out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", "", "load environment variables from this file (default: ./.env if present)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (env FLOWSTACK_LOG_LEVEL)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: json or console (env FLOWSTACK_LOG_FORMAT)")
	flags.StringVar(&a.lang, "lang", "", "output language: en or de (env FLOWSTACK_LANG)")

	root.AddCommand(a.systemsCmd())
	root.AddCommand(a.runCmd())
	root.AddCommand(a.relayCmd())
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}
	cfg := config.Load()
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if cmd.Flags().Changed("lang") {
		cfg.Lang = a.lang
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.print = i18n.NewPrinter(cfg.Lang)

	logger.Debug("Configuration loaded", zap.String("config", cfg.String()))
	return nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var zc zap.Config
	if format == config.LogFormatJSON {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
