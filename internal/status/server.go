package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"shortssync/internal/cycle"
	"shortssync/internal/domain"
	"shortssync/internal/ledger"
	"shortssync/internal/logging"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	// lowQuotaUnits marks the day's budget as degraded.
	lowQuotaUnits = 1000
)

type QuotaView interface {
	DailySnapshot() domain.QuotaLedger
}

type LedgerView interface {
	Stats() ledger.Stats
}

type QueueView interface {
	Pending() []domain.ScheduleSlot
}

type CycleView interface {
	LastSummary() (cycle.Summary, bool)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps holds the read-only views the observer serves. Nil views are
// omitted from the responses.
type Deps struct {
	Service string
	Quota   QuotaView
	Ledger  LedgerView
	Queue   QueueView
	Cycles  CycleView
	Store   Pinger
	Metrics http.Handler
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type slotView struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	ItemID  string    `json:"item_id"`
	Score   float64   `json:"score"`
}

type ChannelReport struct {
	Channel    string `json:"channel"`
	Fetched    int    `json:"fetched"`
	New        int    `json:"new"`
	Admitted   int    `json:"admitted"`
	Waiting    int    `json:"waiting"`
	Stage      string `json:"stage,omitempty"`
	Floor      int64  `json:"floor,omitempty"`
	Committed  int    `json:"committed"`
	Deferred   int    `json:"deferred"`
	Rejected   int    `json:"rejected"`
	Duplicates int    `json:"duplicates"`
	Error      string `json:"error,omitempty"`
	Paused     bool   `json:"paused,omitempty"`
}

type CycleReport struct {
	CycleID    string          `json:"cycle_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Halted     bool            `json:"halted"`
	HaltReason string          `json:"halt_reason,omitempty"`
	QuotaUsed  int             `json:"quota_used"`
	QuotaLimit int             `json:"quota_limit"`
	Channels   []ChannelReport `json:"channels"`
}

func NewRouter(deps Deps, logger logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		h := checkHealth(c.Request.Context(), deps)
		code := http.StatusOK
		if h.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, h)
	})

	router.GET("/status", func(c *gin.Context) {
		body := gin.H{"service": deps.Service}
		if deps.Quota != nil {
			snap := deps.Quota.DailySnapshot()
			body["quota"] = gin.H{
				"date":       snap.Date,
				"used":       snap.Used,
				"limit":      snap.Limit,
				"remaining":  snap.Remaining(),
				"operations": snap.Operations,
			}
		}
		if deps.Ledger != nil {
			body["ledger"] = deps.Ledger.Stats()
		}
		if deps.Queue != nil {
			pending := deps.Queue.Pending()
			slots := make([]slotView, len(pending))
			for i, s := range pending {
				slots[i] = slotView{At: s.At, Channel: s.Item.SourceChannel, ItemID: s.Item.ID, Score: s.Item.Score}
			}
			body["deferred"] = slots
		}
		if deps.Cycles != nil {
			if sum, ok := deps.Cycles.LastSummary(); ok {
				body["last_cycle"] = NewCycleReport(sum)
			}
		}
		c.JSON(http.StatusOK, body)
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	return router
}

// Serve runs router on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, router http.Handler, logger logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("status server stopped")
	return nil
}

func checkHealth(ctx context.Context, deps Deps) HealthStatus {
	h := HealthStatus{
		Status:    StatusHealthy,
		Service:   deps.Service,
		Timestamp: time.Now().Unix(),
		Checks:    map[string]CheckResult{},
	}

	if deps.Store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := deps.Store.PingContext(pingCtx)
		cancel()
		if err != nil {
			h.Checks["store"] = CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		} else {
			h.Checks["store"] = CheckResult{Status: StatusHealthy}
		}
	}
	if deps.Quota != nil {
		snap := deps.Quota.DailySnapshot()
		if snap.Remaining() < lowQuotaUnits {
			h.Checks["quota"] = CheckResult{Status: StatusDegraded, Message: "daily quota running low"}
		} else {
			h.Checks["quota"] = CheckResult{Status: StatusHealthy}
		}
	}

	for _, c := range h.Checks {
		switch c.Status {
		case StatusUnhealthy:
			h.Status = StatusUnhealthy
		case StatusDegraded:
			if h.Status == StatusHealthy {
				h.Status = StatusDegraded
			}
		}
	}
	return h
}

func NewCycleReport(s cycle.Summary) CycleReport {
	v := CycleReport{
		CycleID:    s.CycleID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Halted:     s.Halted,
		HaltReason: s.HaltReason,
		QuotaUsed:  s.QuotaUsed,
		QuotaLimit: s.QuotaLimit,
		Channels:   make([]ChannelReport, len(s.Channels)),
	}
	for i, c := range s.Channels {
		cv := ChannelReport{
			Channel:    c.Channel,
			Fetched:    c.Fetched,
			New:        c.New,
			Admitted:   c.Admitted,
			Waiting:    c.Waiting,
			Stage:      string(c.Stage),
			Floor:      c.Floor,
			Committed:  c.Committed,
			Deferred:   c.Deferred,
			Rejected:   c.Rejected,
			Duplicates: c.Duplicates,
			Paused:     c.Paused,
		}
		if c.Err != nil {
			cv.Error = c.Err.Error()
		}
		v.Channels[i] = cv
	}
	return v
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logging.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Microsecond).String(),
		}).Debug("status request")
	}
}
