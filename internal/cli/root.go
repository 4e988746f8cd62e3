// Package cli implements the methodtrace command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"methodtrace/internal/config"
	"methodtrace/internal/logging"
	"methodtrace/internal/metadata"
)

// MethodSource resolves methods by name for the inspect and gen commands.
type MethodSource interface {
	metadata.Provider
	FindMethod(name string) (*metadata.MethodRecord, bool)
}

// options is shared by all commands. PersistentPreRunE fills cfg and
// logger before any RunE runs.
type options struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger zerolog.Logger

	// openSource opens the metadata module at path.
	openSource func(path string) (MethodSource, error)
	downloader metadata.Downloader
}

func openWinMd(path string) (MethodSource, error) {
	reader, err := metadata.NewReader(path)
	if err != nil {
		return nil, err
	}
	return reader, nil
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{
		openSource: openWinMd,
		downloader: metadata.Downloader{Client: http.DefaultClient},
	})
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "methodtrace",
		Short: "Method entry/exit tracing with swappable trampolines",
		Long: `methodtrace reads method metadata from compiled modules, classifies
call signatures, generates typed trampolines and measures the overhead of
instrumented calls.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "TOML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	cmd.AddCommand(newInspectCmd(opts))
	cmd.AddCommand(newGenCmd(opts))
	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newBenchCmd(opts))
	return cmd
}

func (o *options) load(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	o.cfg = cfg

	logConfig := cfg.Logging()
	logConfig.Output = cmd.ErrOrStderr()
	o.logger = logging.NewWithComponent(logConfig, "cli")
	return nil
}

// metadataPath returns the configured module, downloading it first when
// the file does not exist.
func (o *options) metadataPath(ctx context.Context) (string, error) {
	path := o.cfg.Metadata.Path
	if path == "" {
		path = "Windows.Win32.winmd"
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	o.logger.Info().Str("path", path).Str("package", o.cfg.Metadata.Package).Msg("metadata not found, downloading")
	d := o.downloader
	if d.Index == "" {
		d.Index = o.cfg.Metadata.Index
	}
	version, err := d.Download(ctx, o.cfg.Metadata.Package, path)
	if err != nil {
		return "", fmt.Errorf("download metadata: %w", err)
	}
	o.logger.Info().Str("version", version).Msg("metadata downloaded")
	return path, nil
}

func (o *options) source(ctx context.Context) (MethodSource, error) {
	path, err := o.metadataPath(ctx)
	if err != nil {
		return nil, err
	}
	return o.openSource(path)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
