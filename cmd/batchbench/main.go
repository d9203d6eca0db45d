// Command batchbench drives a constraint solver through a random workload of
// joint additions, parallel removals and sleep cycles, and reports how the
// constraints were batched.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/setanarut/cmbatch"
	"github.com/setanarut/cmbatch/utils/metrics"
)

var (
	configPath  string
	seed        uint64
	workers     int
	profileMode string
	profileDir  string
	metricsAddr string
	validate    bool
	verbose     bool

	rootCmd = &cobra.Command{
		Use:          "batchbench",
		Short:        "Exercise constraint batching under a random workload",
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a workload and print a batching summary",
		RunE:  runWorkload,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective workload configuration as YAML",
		RunE:  printConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "workload YAML file")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "random seed (overrides the workload file)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "remover worker goroutines, 0 for GOMAXPROCS")
	rootCmd.PersistentFlags().BoolVar(&validate, "validate", false, "check solver consistency after every step")

	runCmd.Flags().StringVar(&profileMode, "profile", "", "write a cpu or mem profile")
	runCmd.Flags().StringVar(&profileDir, "profile-dir", ".", "directory for profile output")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log solver lifecycle events")

	rootCmd.AddCommand(runCmd, configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// effectiveWorkload applies command line overrides to the workload file.
func effectiveWorkload(cmd *cobra.Command) (workload, error) {
	w, err := loadWorkload(configPath)
	if err != nil {
		return w, err
	}
	if cmd.Flags().Changed("seed") {
		w.Seed = seed
	}
	if cmd.Flags().Changed("workers") {
		w.Workers = workers
	}
	if validate {
		w.Validate = true
	}
	return w, w.validate()
}

func newLogger(out *os.File, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func printConfig(cmd *cobra.Command, _ []string) error {
	w, err := effectiveWorkload(cmd)
	if err != nil {
		return err
	}
	data, err := w.marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runWorkload(cmd *cobra.Command, _ []string) error {
	w, err := effectiveWorkload(cmd)
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	runID := uuid.NewString()
	logger := newLogger(os.Stderr, level).With("run", runID)

	switch profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(profileDir), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath(profileDir), profile.NoShutdownHook).Stop()
	default:
		return fmt.Errorf("unknown profile mode %q, want cpu or mem", profileMode)
	}

	if w.Validate {
		cmbatch.EnableValidation(true)
	}
	b := newBench(w, logger)

	if metricsAddr != "" {
		shutdown, err := serveMetrics(metricsAddr, b, runID, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	logger.Info("workload started", "bodies", w.Bodies, "steps", w.Steps, "seed", w.Seed,
		"workers", b.remover.Workers())
	s, err := b.run(cmd.Context(), runID)
	if err != nil {
		logger.Error("workload failed", "error", err)
		return err
	}
	logger.Info("workload finished", "elapsed", s.Elapsed, "constraints", s.Stats.Constraints)
	renderSummary(cmd.OutOrStdout(), s)
	return nil
}

func serveMetrics(addr string, b *bench, runID string, logger *slog.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(b.stats, prometheus.Labels{"run": runID})); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Width(22).Foreground(lipgloss.Color("8"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func renderSummary(out io.Writer, s summary) {
	row := func(label string, value any) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), fmt.Sprint(value))
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("batchbench "+s.RunID),
		row("steps", s.Steps),
		row("elapsed", s.Elapsed.Round(time.Millisecond)),
		row("added / removed", fmt.Sprintf("%d / %d", s.Added, s.Removed)),
		row("slept / awakened", fmt.Sprintf("%d / %d", s.Slept, s.Awakened)),
		row("active batches", s.Stats.ActiveBatches),
		row("peak active batches", s.MaxBatch),
		row("inactive sets", s.Stats.InactiveSets),
		row("type batches", s.Stats.TypeBatches),
		row("constraints", fmt.Sprintf("%d (%d active)", s.Stats.Constraints, s.Stats.ActiveConstraints)),
		row("pool takes", s.Stats.Pool.Takes),
		row("pool allocations", s.Stats.Pool.Allocations),
		row("pool bytes in use", s.Stats.Pool.BytesInUse),
		row("validated each step", s.Validated),
	)
	fmt.Fprintln(out, boxStyle.Render(body))
}
