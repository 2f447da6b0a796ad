package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/vcd-waves/internal/config"
	"github.com/robert-at-pretension-io/vcd-waves/internal/indexer"
	"github.com/robert-at-pretension-io/vcd-waves/internal/server"
	"github.com/robert-at-pretension-io/vcd-waves/internal/vcd"
	"github.com/robert-at-pretension-io/vcd-waves/internal/watch"
)

type app struct {
	configPath string
	root       string
	verbose    bool

	stdout io.Writer
	stderr io.Writer
}

// session is everything one command needs, torn down by close.
type session struct {
	cfg    *config.Config
	idx    *indexer.Indexer
	reg    *prometheus.Registry
	logger *logrus.Logger
}

func (s *session) close() {
	_ = s.idx.Close()
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "vcd-waves",
		Short: "Serve and query VCD waveform dumps",
		Long: `vcd-waves answers header, signal history and snapshot queries over VCD dumps.

Configuration is read from --config, or else the first of:
  1. ./vcd_waves.json
  2. ./.vcd_waves.json
  3. ./vcd_waves.yaml
  4. <root>/vcd_waves.json
  5. ~/.config/vcd_waves/config.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&a.root, "root", ".", "project root that relative config paths resolve against")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		a.newInitCmd(),
		a.newHeaderCmd(),
		a.newHistoryCmd(),
		a.newSnapshotCmd(),
		a.newIndexCmd(),
		a.newWarmCmd(),
		a.newServeCmd(),
	)
	return root
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		cfg, err := config.LoadFile(a.configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", a.configPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(a.root)
	if err != nil {
		fmt.Fprintf(a.stderr, "Warning: Could not load config: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}
	return cfg, nil
}

func (a *app) open() (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Log.NewLogger(a.stderr)
	if err != nil {
		return nil, err
	}
	if a.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	reg := prometheus.NewRegistry()
	idx, err := indexer.Open(cfg, a.root, logger, reg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, idx: idx, reg: reg, logger: logger}, nil
}

// dumpPath accepts either a path to a dump file or a dump name under the
// configured dump directory.
func (a *app) dumpPath(cfg *config.Config, arg string) string {
	if _, err := os.Stat(arg); err == nil || config.IsDumpFile(arg) {
		return arg
	}
	return cfg.DumpPath(a.root, arg)
}

func (a *app) emitJSON(value any) error {
	encoder := json.NewEncoder(a.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func (a *app) reportDiagnostics(d vcd.Diagnostics) {
	if d.Total() == 0 {
		return
	}
	fmt.Fprintf(a.stderr, "skipped: lines=%d decls=%d regressions=%d wide_vectors=%d\n",
		d.SkippedLines, d.MalformedDecls, d.DroppedRegressions, d.WideVectors)
}

func (a *app) newInitCmd() *cobra.Command {
	var force bool
	var yamlOut bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a vcd_waves configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := filepath.Join(a.root, "vcd_waves.json")
			if yamlOut {
				configPath = filepath.Join(a.root, "vcd_waves.yaml")
			}
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", configPath)
			}
			if err := config.DefaultConfig().Save(configPath); err != nil {
				return fmt.Errorf("creating config: %w", err)
			}
			fmt.Fprintf(a.stdout, "Created %s\n", configPath)
			fmt.Fprintln(a.stdout, "\nEdit this file to configure:")
			fmt.Fprintln(a.stdout, "  - The dump directory and file patterns")
			fmt.Fprintln(a.stdout, "  - The time index cache backend")
			fmt.Fprintln(a.stdout, "  - Snapshot window and server settings")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&yamlOut, "yaml", false, "write vcd_waves.yaml instead of JSON")
	return cmd
}

func (a *app) newHeaderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "header <dump>",
		Short: "Print the module tree, signal catalog and max time of a dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.close()

			h, diag, err := s.idx.ParseHeaderWithDiagnostics(cmd.Context(), a.dumpPath(s.cfg, args[0]))
			if err != nil {
				return err
			}
			a.reportDiagnostics(diag)
			return a.emitJSON(h.View())
		},
	}
}

func (a *app) newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <dump> <id>...",
		Short: "Print every 0/1 and binary vector change of the given identifiers",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.close()

			history, diag, err := s.idx.ParseFullHistoryWithDiagnostics(cmd.Context(), a.dumpPath(s.cfg, args[0]), args[1:])
			if err != nil {
				return err
			}
			a.reportDiagnostics(diag)
			return a.emitJSON(history)
		},
	}
}

type snapshotOutput struct {
	Time   uint64         `json:"time"`
	Blocks vcd.Snapshot   `json:"blocks"`
	Values map[string]any `json:"values"`
}

func (a *app) newSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <dump> <time>",
		Short: "Print the value changes of the blocks around a simulation time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("time must be a non-negative integer: %w", err)
			}
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.close()

			snap, diag, err := s.idx.ParseSnapshotWithDiagnostics(cmd.Context(), a.dumpPath(s.cfg, args[0]), t)
			if err != nil {
				return err
			}
			a.reportDiagnostics(diag)
			return a.emitJSON(snapshotOutput{Time: t, Blocks: snap, Values: snap.ValuesAt(t)})
		},
	}
}

func (a *app) newIndexCmd() *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "index <dump>",
		Short: "Print the time index of a dump, building it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.close()

			path := a.dumpPath(s.cfg, args[0])
			var ti *vcd.TimeIndex
			var diag vcd.Diagnostics
			if rebuild {
				ti, diag, err = s.idx.Reindex(cmd.Context(), path)
			} else {
				ti, diag, err = s.idx.TimeIndexWithDiagnostics(cmd.Context(), path)
			}
			if err != nil {
				return err
			}
			a.reportDiagnostics(diag)
			return a.emitJSON(ti)
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "ignore the cached index and rescan the dump")
	return cmd
}

func (a *app) newWarmCmd() *cobra.Command {
	var watchDir bool
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Build time indexes for every configured dump file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := &watch.Warmer{Indexer: s.idx, Config: s.cfg, Root: a.root, Log: logrus.NewEntry(s.logger)}
			n, err := w.Warm(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "indexed: files=%d dir=%s\n", n, s.cfg.ResolveDumpDir(a.root))
			if !watchDir {
				return nil
			}
			if err := w.Watch(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "watch: stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&watchDir, "watch", false, "keep running and reindex dumps as they change")
	return cmd
}

func (a *app) newServeCmd() *cobra.Command {
	var addr string
	var warm bool
	var watchDir bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the /api/waves HTTP routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.close()

			timeout, err := s.cfg.Server.Timeout()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = s.cfg.Server.Addr
			}
			s.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logrus.NewEntry(s.logger)
			if warm || watchDir {
				w := &watch.Warmer{Indexer: s.idx, Config: s.cfg, Root: a.root, Log: log}
				go func() {
					if _, err := w.Warm(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.WithError(err).Warn("warming indexes failed")
					}
					if !watchDir {
						return
					}
					if err := w.Watch(ctx); err != nil {
						log.WithError(err).Warn("watching dump directory failed")
					}
				}()
			}

			srv := &server.Server{
				Indexer:     s.idx,
				DumpDir:     s.cfg.ResolveDumpDir(a.root),
				Gatherer:    s.reg,
				MetricsPath: s.cfg.Server.MetricsPath,
				Timeout:     timeout,
				Log:         log,
			}
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&warm, "warm", false, "build indexes for all dumps in the background on start")
	cmd.Flags().BoolVar(&watchDir, "watch", false, "warm and then reindex dumps as they change")
	return cmd
}
