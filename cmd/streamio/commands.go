package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/streamio/internal/config"
	"github.com/bamsammich/streamio/internal/engine"
	"github.com/bamsammich/streamio/internal/metrics"
	"github.com/bamsammich/streamio/internal/request"
	"github.com/bamsammich/streamio/internal/stats"
	"github.com/bamsammich/streamio/internal/ui"
)

type opener func(cmd *cobra.Command) (*session, error)

func newReadCmd(open opener) *cobra.Command {
	var (
		offset         config.Size
		size           config.Size
		compressedSize config.Size
		out            string
		priority       string
		deadline       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "read <file>",
		Short: "Read a byte range through the pipeline and write it to stdout or --out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prio, err := parsePriority(priority)
			if err != nil {
				return err
			}
			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			var data []byte
			if compressedSize > 0 {
				if size <= 0 {
					return fmt.Errorf("--size is required with --compressed-size")
				}
				data, err = engine.ReadCompressed(ctx, sess.streamer, args[0],
					uint64(offset), uint64(compressedSize), uint64(size))
			} else {
				data, err = engine.ReadFile(ctx, sess.streamer, args[0], engine.ReadOptions{
					Offset:   uint64(offset),
					Size:     uint64(size),
					Deadline: deadline,
					Priority: prio,
				})
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			slog.Info("read complete", "path", args[0], "bytes", len(data))
			return nil
		},
	}
	cmd.Flags().Var(&offset, "offset", "byte offset to start at")
	cmd.Flags().Var(&size, "size", "bytes to read (default: to end of file); decoded size with --compressed-size")
	cmd.Flags().Var(&compressedSize, "compressed-size", "read a zstd frame of this many bytes at --offset")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to FILE instead of stdout")
	cmd.Flags().StringVar(&priority, "priority", "medium", "lowest, low, medium, high or highest")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "deadline relative to now (0: none)")
	return cmd
}

func newHashCmd(open opener) *cobra.Command {
	var chunk config.Size
	var window int
	cmd := &cobra.Command{
		Use:   "hash <file>...",
		Short: "Print the BLAKE3 digest of files streamed through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			failed := 0
			for _, path := range args {
				digest, _, err := engine.HashFile(ctx, sess.streamer, path, engine.HashConfig{
					ChunkSize: uint64(chunk),
					Window:    window,
					Priority:  request.PriorityMedium,
				})
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					slog.Error("hash failed", "path", path, "error", err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", digest, path)
			}
			if failed > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	chunk = config.Size(engine.DefaultHashConfig().ChunkSize)
	cmd.Flags().Var(&chunk, "chunk-size", "bytes per read")
	cmd.Flags().IntVar(&window, "window", engine.DefaultHashConfig().Window, "reads kept in flight per file")
	return cmd
}

func newStatCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <file>...",
		Short: "Report whether files exist and their sizes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			missing := 0
			for _, path := range args {
				info, err := engine.Stat(ctx, sess.streamer, path)
				if err != nil {
					return err
				}
				if !info.Exists {
					missing++
					fmt.Fprintf(tw, "%s\tmissing\t\n", path)
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", path, info.Size, stats.FormatBytes(int64(info.Size)))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if missing > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}

func newBenchCmd(open opener) *cobra.Command {
	var (
		cfg         = engine.DefaultBenchmarkConfig()
		readSize    = config.Size(cfg.ReadSize)
		metricsAddr string
		statsDB     string
		showStats   bool
		progress    bool
	)
	cmd := &cobra.Command{
		Use:   "bench <path>...",
		Short: "Measure read throughput of the files under the given paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx, stop := signalContext(cmd)
			defer stop()

			if !cmd.Flags().Changed("metrics-addr") && sess.cfg.Stats.MetricsAddr != nil {
				metricsAddr = *sess.cfg.Stats.MetricsAddr
			}
			if !cmd.Flags().Changed("stats-db") && sess.cfg.Stats.History != nil {
				statsDB = *sess.cfg.Stats.History
			}

			if metricsAddr != "" {
				srv, err := metrics.Listen(metricsAddr, metrics.NewRegistry(sess.streamer))
				if err != nil {
					return fmt.Errorf("metrics listener: %w", err)
				}
				defer srv.Shutdown(context.WithoutCancel(ctx)) //nolint:errcheck // best-effort on exit
			}

			if statsDB != "" {
				runID := sess.streamer.ID()
				hist, err := stats.OpenHistory(statsDB, runID)
				if err != nil {
					return err
				}
				defer hist.Close()
				recordCtx, stopRecording := context.WithCancel(ctx)
				recorded := make(chan struct{})
				go func() {
					defer close(recorded)
					engine.RecordHistory(recordCtx, sess.streamer, hist, sess.cfg.StreamerConfig().StatsInterval)
				}()
				defer func() {
					stopRecording()
					<-recorded
				}()
				slog.Info("recording statistics", "path", hist.Path(), "run", runID)
			}

			if progress {
				progressCtx, stopProgress := context.WithCancel(ctx)
				printed := make(chan struct{})
				go func() {
					defer close(printed)
					ui.NewProgress(cmd.ErrOrStderr(), sess.streamer, sess.cfg.StreamerConfig().StatsInterval).Run(progressCtx)
				}()
				defer func() {
					stopProgress()
					<-printed
				}()
			}

			files, err := engine.FindFiles(ctx, args...)
			if err != nil {
				return err
			}
			cfg.ReadSize = uint64(readSize)
			cfg.Files = files
			result, err := engine.RunBenchmark(ctx, sess.streamer, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), engine.FormatBenchmark(result))

			if showStats {
				// The snapshot refreshes when the scheduler goes idle.
				time.Sleep(sess.cfg.StreamerConfig().IdleTimeout)
				printStats(cmd.OutOrStdout(), sess.streamer.Statistics())
			}
			if result.Failed > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().Var(&readSize, "read-size", "bytes per read")
	cmd.Flags().IntVarP(&cfg.Concurrency, "concurrency", "c", cfg.Concurrency, "reads kept in flight")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 0, "keep reading for this long (0: one pass)")
	cmd.Flags().BoolVar(&cfg.Random, "random", false, "read at random offsets")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random offset seed")
	cmd.Flags().BoolVar(&cfg.Cache, "cache", false, "register a dedicated cache for every file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on ADDR while running")
	cmd.Flags().StringVar(&statsDB, "stats-db", "", "record statistics snapshots to a SQLite database")
	cmd.Flags().BoolVar(&showStats, "stats", false, "print the final statistics snapshot")
	cmd.Flags().BoolVar(&progress, "progress", false, "print throughput to stderr while running")
	return cmd
}

func newReportCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:       "report [file-locks|caches|splitter]",
		Short:     "Print what the stages report about their state",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"file-locks", "caches", "splitter"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []request.ReportType{request.ReportFileLocks, request.ReportCaches, request.ReportSplitter}
			if len(args) == 1 {
				kind, err := parseReport(args[0])
				if err != nil {
					return err
				}
				kinds = []request.ReportType{kind}
			}
			sess, err := open(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			for _, kind := range kinds {
				lines, err := engine.Report(cmd.Context(), sess.streamer, kind)
				if err != nil {
					return err
				}
				for _, line := range lines {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}
			return nil
		},
	}
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath(flags))
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath(flags)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Write(path, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func configPath(flags *globalFlags) string {
	if flags.configFile != "" {
		return flags.configFile
	}
	return config.Path()
}

func parsePriority(s string) (request.Priority, error) {
	switch strings.ToLower(s) {
	case "lowest":
		return request.PriorityLowest, nil
	case "low":
		return request.PriorityLow, nil
	case "medium", "":
		return request.PriorityMedium, nil
	case "high":
		return request.PriorityHigh, nil
	case "highest":
		return request.PriorityHighest, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

func parseReport(s string) (request.ReportType, error) {
	switch s {
	case "file-locks":
		return request.ReportFileLocks, nil
	case "caches":
		return request.ReportCaches, nil
	case "splitter":
		return request.ReportSplitter, nil
	default:
		return 0, fmt.Errorf("unknown report %q (use file-locks, caches or splitter)", s)
	}
}

func printStats(w io.Writer, snapshot []stats.Stat) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range snapshot {
		name, value, _ := strings.Cut(s.String(), "=")
		fmt.Fprintf(tw, "%s\t%s\n", name, value)
	}
	tw.Flush() //nolint:errcheck // best-effort display
}
