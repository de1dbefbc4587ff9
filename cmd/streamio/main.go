package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/streamio/internal/codec"
	"github.com/bamsammich/streamio/internal/config"
	"github.com/bamsammich/streamio/internal/fileio"
	"github.com/bamsammich/streamio/internal/logging"
	"github.com/bamsammich/streamio/internal/streamer"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	verbose    int
	debug      bool
	logFile    string
	bwLimit    config.Size
	noCache    bool
	noSplitter bool
	maxRead    config.Size
}

// session is a running stack plus the resources that go with it.
type session struct {
	streamer *streamer.Streamer
	cfg      config.Config
	closers  []func() error
}

func (s *session) Close() error {
	var errs []error
	if err := s.streamer.Close(); err != nil {
		errs = append(errs, err)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func run(args []string, stdout io.Writer) int {
	var (
		flags       globalFlags
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:           "streamio",
		Short:         "Stream files through a caching, splitting read pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "streamio %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/streamio/config.toml)")
	pf.CountVarP(&flags.verbose, "verbose", "v", "verbose output (-vv for debug)")
	pf.BoolVar(&flags.debug, "debug", false, "debug logging")
	pf.StringVar(&flags.logFile, "log", "", "write structured JSON log to FILE")
	pf.Var(&flags.bwLimit, "bwlimit", "bandwidth limit (e.g. 100M, 1G)")
	pf.Var(&flags.maxRead, "max-read-size", "largest read issued to the drive (e.g. 64K)")
	pf.BoolVar(&flags.noCache, "no-cache", false, "leave the dedicated cache stage out")
	pf.BoolVar(&flags.noSplitter, "no-splitter", false, "leave the read splitter stage out")

	var closeLog func() error
	rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		var err error
		closeLog, err = setupLogging(flags)
		return err
	}
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		if closeLog != nil {
			return closeLog()
		}
		return nil
	}

	open := func(cmd *cobra.Command) (*session, error) {
		return openSession(cmd, flags)
	}
	rootCmd.AddCommand(
		newReadCmd(open),
		newHashCmd(open),
		newStatCmd(open),
		newBenchCmd(open),
		newReportCmd(open),
		newConfigCmd(&flags),
		newDocsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// setupLogging installs a text handler on stderr and, with --log, tees a
// JSON handler at debug level into the file.
func setupLogging(flags globalFlags) (func() error, error) {
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logging.LevelFor(flags.verbose, flags.debug),
	})
	var handler slog.Handler = textHandler
	closeLog := func() error { return nil }
	if flags.logFile != "" {
		lf, err := os.Create(flags.logFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		handler = logging.NewMultiHandler(textHandler, jsonHandler)
		closeLog = lf.Close
	}
	slog.SetDefault(slog.New(handler))
	return closeLog, nil
}

// loadConfig reads the config file and applies flags that were set on the
// command line over it.
func loadConfig(cmd *cobra.Command, flags globalFlags) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if flags.configFile != "" {
		cfg, err = config.LoadFile(flags.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}

	changed := cmd.Flags().Changed
	if changed("bwlimit") {
		cfg.Drive.BandwidthLimit = config.Ptr(flags.bwLimit)
	}
	if changed("max-read-size") {
		cfg.Splitter.MaxReadSize = config.Ptr(flags.maxRead)
	}
	if changed("no-cache") {
		cfg.Cache.Enabled = config.Ptr(!flags.noCache)
	}
	if changed("no-splitter") {
		cfg.Splitter.Enabled = config.Ptr(!flags.noSplitter)
	}
	return cfg, cfg.Validate()
}

func openSession(cmd *cobra.Command, flags globalFlags) (*session, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}

	z, err := codec.NewZstd()
	if err != nil {
		return nil, fmt.Errorf("create zstd codec: %w", err)
	}
	s := cfg.NewStreamer(fileio.NewOS(cfg.FileSystemConfig()), z)
	s.Start(cmd.Context())
	slog.Debug("streamer started", "run", s.ID())

	return &session{
		streamer: s,
		cfg:      cfg,
		closers:  []func() error{func() error { z.Close(); return nil }},
	}, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
