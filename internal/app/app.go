package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"shortssync/internal/config"
	"shortssync/internal/cycle"
	"shortssync/internal/domain"
	"shortssync/internal/httpx"
	"shortssync/internal/logging"
	"shortssync/internal/quota"
	"shortssync/internal/status"
	"shortssync/internal/sweep"
)

// Main runs the CLI and exits non-zero on failure.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	output     string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Select and republish short-form videos within a daily API budget",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is config.yaml or $CONFIG_PATH)")
	root.PersistentFlags().StringVar(&opts.output, "output", "text", "output format: json|text")

	root.AddCommand(
		newRunCmd(opts),
		newOnceCmd(opts),
		newQuotaCmd(opts),
		newHistoryCmd(opts),
		newCheckDeletedCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (config.Config, logging.Logger, error) {
	var (
		cfg config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return cfg, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.NewLoggerWithService(serviceName, cfg.LogLevel, cfg.LogFormat)
	applied := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	logger.WithFields(logging.Fields{
		"channels":       len(cfg.Channels),
		"storage":        cfg.StorageBackend,
		"quota_limit":    cfg.DailyQuotaLimit,
		"deferred":       cfg.DeferredScheduling,
		"review":         cfg.ReviewEnabled,
		"timezone":       cfg.Location.String(),
		"http_timeout":   applied.String(),
		"slack_enabled":  cfg.SlackConfigured(),
		"status_address": cfg.StatusAddr,
	}).Debug("config loaded")
	return cfg, logger, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run cycles and deletion checks on their schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			svc, err := buildCore(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.buildRunner(); err != nil {
				return err
			}

			ctx := cmd.Context()
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return cycle.RunLoop(gctx, cfg.Location, logger,
					cycle.Job{Name: "cycle", Schedule: cfg.CycleSchedule, RunAtStart: true, Run: svc.runCycleJob},
					cycle.Job{Name: "deletion-check", Schedule: cfg.DeletionCheckSchedule, Run: svc.runSweepJob},
				)
			})
			if cfg.StatusAddr != "" {
				router := status.NewRouter(svc.statusDeps(), logger)
				g.Go(func() error {
					return status.Serve(gctx, cfg.StatusAddr, router, logger)
				})
			}

			logger.Info("scheduler started")
			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			logger.Info("scheduler stopped")
			return err
		},
	}
}

func newOnceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single processing cycle and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			svc, err := buildCore(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.buildRunner(); err != nil {
				return err
			}

			sum, runErr := svc.runner.RunCycle(cmd.Context())
			if err := writeOutput(cmd.OutOrStdout(), opts.output, status.NewCycleReport(sum), cycle.FormatSummary(sum)); err != nil {
				return err
			}
			return runErr
		},
	}
}

func newQuotaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show today's destination API usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			svc, err := buildCore(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			snap := svc.quota.DailySnapshot()
			view := quotaView{
				Date:       snap.Date,
				Used:       snap.Used,
				Limit:      snap.Limit,
				Remaining:  snap.Remaining(),
				Reserve:    svc.quota.Reserve(),
				Publishes:  svc.quota.Affordable(quota.OpPublish),
				Operations: snap.Operations,
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, view, formatQuota(view))
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history [channel]",
		Short: "List published items, optionally for one channel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			svc, err := buildCore(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			var entries []domain.LedgerEntry
			if len(args) == 1 {
				entries = svc.ledger.History(args[0])
			} else {
				entries = svc.ledger.AllCommitted()
			}
			if entries == nil {
				entries = []domain.LedgerEntry{}
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, entries, formatHistory(entries))
		},
	}
}

func newCheckDeletedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-deleted",
		Short: "Check published items against the destination and report deletions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			svc, err := buildCore(cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.buildPublisher(); err != nil {
				return err
			}

			rep, runErr := svc.sweeper.Run(cmd.Context())
			deleted := make([]string, 0, len(rep.Deleted))
			for _, e := range rep.Deleted {
				deleted = append(deleted, e.DestinationID)
			}
			view := map[string]any{
				"total":   rep.Total,
				"checked": rep.Checked,
				"deleted": deleted,
				"errors":  rep.Errors,
				"skipped": rep.Skipped,
			}
			if err := writeOutput(cmd.OutOrStdout(), opts.output, view, sweep.FormatReport(rep)); err != nil {
				return err
			}
			return runErr
		},
	}
}

func (s *services) runCycleJob(ctx context.Context) {
	if _, err := s.runner.RunCycle(ctx); err != nil {
		s.logger.WithError(err).Error("cycle halted")
	}
}

func (s *services) runSweepJob(ctx context.Context) {
	rep, err := s.sweeper.Run(ctx)
	if err != nil {
		s.logger.WithError(err).Error("deletion check halted")
	}
	s.metrics.SweepDeleted(len(rep.Deleted))
	snap := s.quota.DailySnapshot()
	s.metrics.Quota(snap.Used, snap.Remaining())
	if err := s.notifier.Post(ctx, sweep.FormatReport(rep)); err != nil {
		s.logger.WithError(err).Warn("failed to post deletion report")
	}
}

func (s *services) statusDeps() status.Deps {
	deps := status.Deps{
		Service: serviceName,
		Quota:   s.quota,
		Ledger:  s.ledger,
		Metrics: s.metrics.Handler(),
	}
	if s.runner != nil {
		deps.Cycles = s.runner
	}
	if s.queue != nil {
		deps.Queue = s.queue
	}
	if s.stores.db != nil {
		deps.Store = s.stores.db
	}
	return deps
}

type quotaView struct {
	Date       string                           `json:"date"`
	Used       int                              `json:"used"`
	Limit      int                              `json:"limit"`
	Remaining  int                              `json:"remaining"`
	Reserve    int                              `json:"reserve"`
	Publishes  int                              `json:"publishes_affordable"`
	Operations map[string]domain.OperationUsage `json:"operations"`
}

func formatQuota(v quotaView) string {
	out := fmt.Sprintf("Quota %s: %d/%d units used, %d remaining (reserve %d, %d publishes affordable)",
		v.Date, v.Used, v.Limit, v.Remaining, v.Reserve, v.Publishes)
	ops := make([]string, 0, len(v.Operations))
	for op := range v.Operations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		u := v.Operations[op]
		out += fmt.Sprintf("\n- %s: %d calls, %d units", op, u.Count, u.Cost)
	}
	return out
}

func formatHistory(entries []domain.LedgerEntry) string {
	if len(entries) == 0 {
		return "No published items."
	}
	out := fmt.Sprintf("%d published items:", len(entries))
	for _, e := range entries {
		dest := e.DestinationID
		if dest == "" {
			dest = "pending"
		}
		out += fmt.Sprintf("\n- %s %s/%s -> %s", e.CommittedAt.Format("2006-01-02 15:04"), e.SourceChannel, e.SourceItemID, dest)
		if e.Title != "" {
			out += fmt.Sprintf(" %q", e.Title)
		}
	}
	return out
}

func writeOutput(w io.Writer, format string, v any, text string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
