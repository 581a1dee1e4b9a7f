package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"shortssync/internal/schedule"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

type ChannelConfig struct {
	Name   string `yaml:"name"`
	Limit  int    `yaml:"limit"`
	Active *bool  `yaml:"active"`
}

// IsActive reports whether the channel should be processed. Channels are
// active unless explicitly disabled.
func (c ChannelConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

type Config struct {
	Channels        []ChannelConfig `yaml:"channels"`
	ItemsPerChannel int             `yaml:"items_per_channel"`
	FetchLimit      int             `yaml:"fetch_limit"`

	MinDurationSeconds float64  `yaml:"min_duration_seconds"`
	MaxDurationSeconds float64  `yaml:"max_duration_seconds"`
	MinScore           float64  `yaml:"min_score"`
	DefaultViewFloor   int64    `yaml:"default_view_floor"`
	ExcludeHashtags    []string `yaml:"exclude_hashtags"`
	ExcludeKeywords    []string `yaml:"exclude_keywords"`
	RequireHashtags    []string `yaml:"require_hashtags"`
	ScoringSeed        int64    `yaml:"scoring_seed"`

	DailyQuotaLimit   int            `yaml:"daily_quota_limit"`
	QuotaReserveRatio float64        `yaml:"quota_reserve_ratio"`
	QuotaCosts        map[string]int `yaml:"quota_costs"`

	CycleSchedule         string   `yaml:"cycle_schedule"`
	DeletionCheckSchedule string   `yaml:"deletion_check_schedule"`
	DeferredScheduling    bool     `yaml:"deferred_scheduling"`
	PublishDays           []string `yaml:"publish_days"`
	PublishTimes          []string `yaml:"publish_times"`
	Timezone              string   `yaml:"timezone"`

	StorageBackend string `yaml:"storage_backend"`
	DBPath         string `yaml:"db_path"`
	LedgerPath     string `yaml:"ledger_path"`
	QuotaPath      string `yaml:"quota_path"`

	SourceBaseURL    string `yaml:"source_base_url"`
	SourceToken      string `yaml:"source_token"`
	SourceRetries    int    `yaml:"source_retries"`
	PublisherBaseURL string `yaml:"publisher_base_url"`
	PublisherToken   string `yaml:"publisher_token"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	ReviewEnabled   bool   `yaml:"review_enabled"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	ReviewModel     string `yaml:"review_model"`

	StatusAddr                 string `yaml:"status_addr"`
	LogLevel                   string `yaml:"log_level"`
	LogFormat                  string `yaml:"log_format"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig reads config.yaml (or CONFIG_PATH), applies .env files and
// environment overrides, fills defaults and validates the result.
func LoadConfig() (Config, error) {
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	return Load(configPath)
}

// Load is LoadConfig with an explicit file path. A missing file is not an
// error; everything can come from the environment.
func Load(path string) (Config, error) {
	var cfg Config

	// godotenv never overrides variables already set in the process.
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return cfg, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	var errs []error
	overrideErr := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	overrideErr(envOverrideInt(&cfg.ItemsPerChannel, "ITEMS_PER_CHANNEL"))
	overrideErr(envOverrideInt(&cfg.FetchLimit, "FETCH_LIMIT"))
	overrideErr(envOverrideFloat(&cfg.MinDurationSeconds, "MIN_DURATION_SECONDS"))
	overrideErr(envOverrideFloat(&cfg.MaxDurationSeconds, "MAX_DURATION_SECONDS"))
	overrideErr(envOverrideFloat(&cfg.MinScore, "MIN_SCORE"))
	overrideErr(envOverrideInt64(&cfg.DefaultViewFloor, "DEFAULT_VIEW_FLOOR"))
	envOverrideList(&cfg.ExcludeHashtags, "EXCLUDE_HASHTAGS")
	envOverrideList(&cfg.ExcludeKeywords, "EXCLUDE_KEYWORDS")
	envOverrideList(&cfg.RequireHashtags, "REQUIRE_HASHTAGS")
	overrideErr(envOverrideInt64(&cfg.ScoringSeed, "SCORING_SEED"))
	overrideErr(envOverrideInt(&cfg.DailyQuotaLimit, "DAILY_QUOTA_LIMIT"))
	overrideErr(envOverrideFloat(&cfg.QuotaReserveRatio, "QUOTA_RESERVE_RATIO"))
	envOverride(&cfg.CycleSchedule, "CYCLE_SCHEDULE")
	envOverrideAllowEmpty(&cfg.DeletionCheckSchedule, "DELETION_CHECK_SCHEDULE")
	envOverrideBool(&cfg.DeferredScheduling, "DEFERRED_SCHEDULING")
	envOverrideList(&cfg.PublishDays, "PUBLISH_DAYS")
	envOverrideList(&cfg.PublishTimes, "PUBLISH_TIMES")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.StorageBackend, "STORAGE_BACKEND")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.LedgerPath, "LEDGER_PATH")
	envOverride(&cfg.QuotaPath, "QUOTA_PATH")
	envOverride(&cfg.SourceBaseURL, "SOURCE_BASE_URL")
	envOverride(&cfg.SourceToken, "SOURCE_TOKEN")
	overrideErr(envOverrideInt(&cfg.SourceRetries, "SOURCE_RETRIES"))
	envOverride(&cfg.PublisherBaseURL, "PUBLISHER_BASE_URL")
	envOverride(&cfg.PublisherToken, "PUBLISHER_TOKEN")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverrideBool(&cfg.ReviewEnabled, "REVIEW_ENABLED")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.ReviewModel, "REVIEW_MODEL")
	envOverrideAllowEmpty(&cfg.StatusAddr, "STATUS_ADDR")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")
	overrideErr(envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"))

	if names := os.Getenv("CHANNELS"); names != "" {
		cfg.Channels = nil
		for _, n := range splitList(names) {
			cfg.Channels = append(cfg.Channels, ChannelConfig{Name: n})
		}
	}

	applyDefaults(&cfg)
	errs = append(errs, validate(&cfg)...)
	return cfg, errors.Join(errs...)
}

func applyDefaults(cfg *Config) {
	if cfg.ItemsPerChannel == 0 {
		cfg.ItemsPerChannel = 3
	}
	if cfg.FetchLimit == 0 {
		cfg.FetchLimit = 20
	}
	if cfg.MinDurationSeconds == 0 {
		cfg.MinDurationSeconds = 3
	}
	if cfg.MaxDurationSeconds == 0 {
		cfg.MaxDurationSeconds = 60
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = 0.5
	}
	if cfg.DefaultViewFloor == 0 {
		cfg.DefaultViewFloor = 10000
	}
	if cfg.ExcludeHashtags == nil {
		cfg.ExcludeHashtags = []string{"#ad", "#sponsored", "#promotion"}
	}
	if cfg.DailyQuotaLimit == 0 {
		cfg.DailyQuotaLimit = 10000
	}
	if cfg.QuotaReserveRatio == 0 {
		cfg.QuotaReserveRatio = 0.05
	}
	if cfg.CycleSchedule == "" {
		cfg.CycleSchedule = "0 * * * *"
	}
	if cfg.PublishDays == nil {
		cfg.PublishDays = []string{"Monday", "Wednesday", "Friday"}
	}
	if cfg.PublishTimes == nil {
		cfg.PublishTimes = []string{"08:00", "12:00", "18:00"}
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = BackendSQLite
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./shortssync.db"
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "./uploaded_videos.json"
	}
	if cfg.QuotaPath == "" {
		cfg.QuotaPath = "./quota_usage.json"
	}
	if cfg.SourceRetries == 0 {
		cfg.SourceRetries = 3
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	for i := range cfg.Channels {
		if cfg.Channels[i].Limit == 0 {
			cfg.Channels[i].Limit = cfg.ItemsPerChannel
		}
	}
}

func validate(cfg *Config) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else if loc, err := time.LoadLocation(cfg.Timezone); err != nil {
		fail("invalid timezone '%s': %v", cfg.Timezone, err)
	} else {
		cfg.Location = loc
	}

	seen := map[string]bool{}
	for i, ch := range cfg.Channels {
		if strings.TrimSpace(ch.Name) == "" {
			fail("channels[%d]: name is required", i)
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch.Name), "@"))
		if seen[key] {
			fail("channel '%s' is listed more than once", ch.Name)
		}
		seen[key] = true
		if ch.Limit < 0 {
			fail("channel '%s': limit must be >= 0", ch.Name)
		}
	}

	if cfg.ItemsPerChannel < 1 {
		fail("invalid items_per_channel '%d': must be >= 1", cfg.ItemsPerChannel)
	}
	if cfg.FetchLimit < 1 {
		fail("invalid fetch_limit '%d': must be >= 1", cfg.FetchLimit)
	}
	if cfg.MinDurationSeconds < 0 || cfg.MaxDurationSeconds < cfg.MinDurationSeconds {
		fail("invalid duration window %.0f-%.0f seconds", cfg.MinDurationSeconds, cfg.MaxDurationSeconds)
	}
	if cfg.DefaultViewFloor < 0 {
		fail("invalid default_view_floor '%d': must be >= 0", cfg.DefaultViewFloor)
	}
	if cfg.DailyQuotaLimit < 1 {
		fail("invalid daily_quota_limit '%d': must be >= 1", cfg.DailyQuotaLimit)
	}
	if cfg.QuotaReserveRatio < 0 || cfg.QuotaReserveRatio >= 1 {
		fail("invalid quota_reserve_ratio '%f': must be in [0, 1)", cfg.QuotaReserveRatio)
	}
	for op, cost := range cfg.QuotaCosts {
		if cost < 0 {
			fail("invalid quota_costs.%s '%d': must be >= 0", op, cost)
		}
	}
	if cfg.SourceRetries < 0 {
		fail("invalid source_retries '%d': must be >= 0", cfg.SourceRetries)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		fail("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}

	switch cfg.StorageBackend {
	case BackendSQLite, BackendJSON:
	default:
		fail("storage_backend must be '%s' or '%s', got '%s'", BackendSQLite, BackendJSON, cfg.StorageBackend)
	}

	if cfg.DeferredScheduling {
		if _, err := schedule.NewPlanner(cfg.PublishDays, cfg.PublishTimes, time.UTC); err != nil {
			fail("invalid publish schedule: %v", err)
		}
	}
	if cfg.ReviewEnabled && cfg.AnthropicAPIKey == "" {
		fail("anthropic_api_key is required when review_enabled=true")
	}
	if (cfg.SlackBotToken == "") != (cfg.SlackChannelID == "") {
		fail("slack_bot_token and slack_channel_id must be set together")
	}
	return errs
}

// RequireEndpoints reports missing collaborator endpoints. Only commands
// that talk to the source or destination need them.
func (c Config) RequireEndpoints() error {
	var errs []error
	if c.SourceBaseURL == "" {
		errs = append(errs, errors.New("source_base_url is not set (via config.yaml or env var)"))
	}
	if c.PublisherBaseURL == "" {
		errs = append(errs, errors.New("publisher_base_url is not set (via config.yaml or env var)"))
	}
	return errors.Join(errs...)
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideInt64(field *int64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideList(field *[]string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = splitList(val)
	}
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
