package domain

import (
	"strings"
	"time"
)

type CandidateItem struct {
	ID              string
	SourceChannel   string
	CreatedAt       time.Time // zero when the source did not report it
	DurationSeconds float64
	Views           int64
	Likes           int64
	Comments        int64
	Shares          int64
	CaptionText     string
}

// Metrics returns the engagement counters as they were at fetch time.
func (c CandidateItem) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Views:    c.Views,
		Likes:    c.Likes,
		Comments: c.Comments,
		Shares:   c.Shares,
	}
}

type ScoredItem struct {
	CandidateItem
	Score     float64
	ScoreKind string // "engagement", "recency", "random" or "default"
	Rank      int    // 1-based within the channel's selection for one cycle
}

type SizeClass string

const (
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
)

type ChannelThreshold struct {
	Channel        string
	SizeClass      SizeClass // empty when the static default floor was used
	SampleSize     int
	AverageViews   float64
	MedianViews    int64
	P75Views       int64
	RawThreshold   int64
	MinBound       int64
	AdmissionFloor int64
	Defaulted      bool
}

type MetricsSnapshot struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
}

type LedgerEntry struct {
	SourceChannel string          `json:"source_channel"`
	SourceItemID  string          `json:"video_id"`
	DestinationID string          `json:"youtube_id,omitempty"` // empty until the publish is confirmed
	Title         string          `json:"title,omitempty"`
	CommittedAt   time.Time       `json:"upload_date"`
	Metrics       MetricsSnapshot `json:"metrics"`
}

type OperationUsage struct {
	Count int `json:"count"`
	Cost  int `json:"cost"`
}

// QuotaLedger is one calendar day of destination API usage.
type QuotaLedger struct {
	Date        string                    `json:"date"`
	Used        int                       `json:"used"`
	Limit       int                       `json:"limit"`
	Operations  map[string]OperationUsage `json:"operations"`
	LastUpdated time.Time                 `json:"last_updated"`
}

func (q QuotaLedger) Remaining() int {
	return q.Limit - q.Used
}

// Clone returns a copy whose operation map can be mutated independently.
func (q QuotaLedger) Clone() QuotaLedger {
	out := q
	out.Operations = make(map[string]OperationUsage, len(q.Operations))
	for k, v := range q.Operations {
		out.Operations[k] = v
	}
	return out
}

type ScheduleSlot struct {
	At   time.Time
	Item ScoredItem
}

type RejectedItem struct {
	Item   ScoredItem
	Reason string
	Err    error
}

type CommittedItem struct {
	Item          ScoredItem
	DestinationID string
}

type DispatchResult struct {
	Committed  []CommittedItem
	Deferred   []ScheduleSlot
	Rejected   []RejectedItem
	Duplicates int
	Halted     bool   // no further publishing should happen this cycle
	HaltReason string // "quota exceeded", "persistence", "cancelled"
}

// NormalizeChannel strips the leading @ handles are often written with.
func NormalizeChannel(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "@")
}
