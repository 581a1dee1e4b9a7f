package app

import (
	"database/sql"
	"errors"
	"fmt"

	"shortssync/internal/config"
	"shortssync/internal/cycle"
	"shortssync/internal/dispatch"
	"shortssync/internal/httpx"
	"shortssync/internal/integrations/llm"
	"shortssync/internal/integrations/publish"
	slackbot "shortssync/internal/integrations/slack"
	"shortssync/internal/integrations/source"
	"shortssync/internal/ledger"
	"shortssync/internal/logging"
	"shortssync/internal/metrics"
	"shortssync/internal/quota"
	"shortssync/internal/schedule"
	"shortssync/internal/scoring"
	"shortssync/internal/selector"
	"shortssync/internal/storage/jsonfile"
	"shortssync/internal/storage/sqlite"
	"shortssync/internal/sweep"
	"shortssync/internal/threshold"
)

const serviceName = "shortssync"

// stores is the persistence pair behind the ledger and the quota manager.
type stores struct {
	ledger ledger.Store
	quota  quota.Store
	db     *sql.DB // nil for the json backend
	close  func() error
}

func openStores(cfg config.Config) (*stores, error) {
	switch cfg.StorageBackend {
	case config.BackendJSON:
		return &stores{
			ledger: jsonfile.NewLedgerFile(cfg.LedgerPath),
			quota:  jsonfile.NewQuotaFile(cfg.QuotaPath),
			close:  func() error { return nil },
		}, nil
	default:
		st, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return &stores{ledger: st, quota: st, db: st.DB(), close: st.Close}, nil
	}
}

// services is everything a command may need, built once from config.
type services struct {
	cfg     config.Config
	logger  logging.Logger
	stores  *stores
	ledger  *ledger.Ledger
	quota   *quota.Manager
	metrics *metrics.Collector
	queue   *schedule.Queue // nil unless deferred scheduling is on

	notifier  *slackbot.Notifier
	publisher *publish.Client
	runner    *cycle.Runner
	sweeper   *sweep.Sweeper
}

func (s *services) Close() error {
	return s.stores.close()
}

// buildCore wires the stores, ledger, quota and metrics. Commands that only
// read local state stop here.
func buildCore(cfg config.Config, logger logging.Logger) (*services, error) {
	st, err := openStores(cfg)
	if err != nil {
		return nil, err
	}
	s := &services{
		cfg:     cfg,
		logger:  logger,
		stores:  st,
		metrics: metrics.NewCollector(serviceName),
	}
	s.ledger = ledger.Open(st.ledger, logger)
	s.quota = quota.NewManager(st.quota, quota.Options{
		Limit:        cfg.DailyQuotaLimit,
		ReserveRatio: cfg.QuotaReserveRatio,
		Costs:        cfg.QuotaCosts,
		Location:     cfg.Location,
	}, logger)
	s.notifier = slackbot.NewNotifier(cfg.SlackBotToken, cfg.SlackChannelID, logger)
	return s, nil
}

// buildPublisher adds the destination client and the deletion sweeper.
func (s *services) buildPublisher() error {
	if s.cfg.PublisherBaseURL == "" {
		return errors.New("publisher_base_url is not set (via config.yaml or env var)")
	}
	s.publisher = publish.NewClient(s.cfg.PublisherBaseURL, s.cfg.PublisherToken, s.logger)
	s.sweeper = sweep.New(s.ledger, s.publisher, s.quota, s.logger)
	return nil
}

// buildRunner adds the source client, selector, dispatcher and cycle
// runner on top of buildPublisher.
func (s *services) buildRunner() error {
	cfg := s.cfg
	if err := cfg.RequireEndpoints(); err != nil {
		return err
	}
	if err := s.buildPublisher(); err != nil {
		return err
	}

	retry := httpx.DefaultRetryConfig()
	retry.MaxRetries = cfg.SourceRetries
	fetcher := source.NewClient(cfg.SourceBaseURL, cfg.SourceToken, s.logger, source.WithRetry(retry))

	excluded := append(append([]string{}, cfg.ExcludeHashtags...), cfg.ExcludeKeywords...)
	sel := selector.New(selector.Policy{
		MinDuration:    cfg.MinDurationSeconds,
		MaxDuration:    cfg.MaxDurationSeconds,
		MinScore:       cfg.MinScore,
		ExcludedTokens: excluded,
		RequiredTags:   cfg.RequireHashtags,
	}, scoring.New(cfg.ScoringSeed), threshold.NewCalculator(cfg.DefaultViewFloor), s.logger)

	var opts []dispatch.Option
	if cfg.DeferredScheduling {
		planner, err := schedule.NewPlanner(cfg.PublishDays, cfg.PublishTimes, cfg.Location)
		if err != nil {
			return err
		}
		s.queue = schedule.NewQueue()
		opts = append(opts, dispatch.WithDeferral(planner, s.queue))
	}
	disp := dispatch.New(s.publisher, s.quota, s.ledger, s.logger, opts...)

	deps := cycle.Deps{
		Fetcher:    fetcher,
		Ledger:     s.ledger,
		Selector:   sel,
		Dispatcher: disp,
		Budget:     s.quota,
		Metrics:    s.metrics,
	}
	if s.queue != nil {
		deps.Queue = s.queue
	}
	if cfg.ReviewEnabled {
		deps.Reviewer = llm.NewReviewer(cfg.AnthropicAPIKey, cfg.ReviewModel, s.logger)
	}
	if s.notifier != nil {
		deps.Notifier = s.notifier
	}

	channels := make([]cycle.Channel, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels = append(channels, cycle.Channel{Name: ch.Name, Limit: ch.Limit, Active: ch.IsActive()})
	}
	s.runner = cycle.NewRunner(channels, cfg.ItemsPerChannel, cfg.FetchLimit, deps, s.logger)
	return nil
}
