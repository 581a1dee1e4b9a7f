package jsonfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shortssync/internal/domain"
)

func TestLedgerFileMissingIsEmpty(t *testing.T) {
	f := NewLedgerFile(filepath.Join(t.TempDir(), "upload_history.json"))
	got, err := f.LoadLedger()
	if err != nil {
		t.Fatalf("LoadLedger failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty ledger, got %+v", got)
	}
}

func TestLedgerFileAppendWritesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "upload_history.json")
	f := NewLedgerFile(path)
	if _, err := f.LoadLedger(); err != nil {
		t.Fatalf("LoadLedger failed: %v", err)
	}

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if err := f.AppendLedgerEntry(domain.LedgerEntry{
		SourceChannel: "alice", SourceItemID: "v1", DestinationID: "yt1", CommittedAt: at,
		Metrics: domain.MetricsSnapshot{Views: 5000},
	}); err != nil {
		t.Fatalf("AppendLedgerEntry failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var raw map[string][]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("document is not a channel map: %v", err)
	}
	if raw["alice"][0]["video_id"] != "v1" || raw["alice"][0]["youtube_id"] != "yt1" {
		t.Fatalf("unexpected document: %s", data)
	}

	reopened := NewLedgerFile(path)
	loaded, err := reopened.LoadLedger()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(loaded["alice"]) != 1 || loaded["alice"][0].SourceChannel != "alice" || loaded["alice"][0].Metrics.Views != 5000 {
		t.Fatalf("unexpected reload: %+v", loaded)
	}

	err = reopened.AppendLedgerEntry(domain.LedgerEntry{SourceChannel: "alice", SourceItemID: "v1"})
	if !errors.Is(err, domain.ErrDuplicateEntry) {
		t.Fatalf("duplicate append err = %v", err)
	}
}

func TestLedgerFileCorruptIsSetAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload_history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewLedgerFile(path)
	if _, err := f.LoadLedger(); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := f.AppendLedgerEntry(domain.LedgerEntry{SourceChannel: "bob", SourceItemID: "b1"}); err != nil {
		t.Fatalf("append after corrupt load: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var backups int
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupt-") {
			backups++
		}
	}
	if backups != 1 {
		t.Fatalf("expected one backup file, found %d", backups)
	}
}

func TestQuotaFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota_usage.json")
	f := NewQuotaFile(path)

	if _, found, err := f.LoadQuotaDay("2026-03-02"); err != nil || found {
		t.Fatalf("expected missing day, found=%v err=%v", found, err)
	}

	day := domain.QuotaLedger{
		Date:  "2026-03-02",
		Used:  10000,
		Limit: 10000,
		Operations: map[string]domain.OperationUsage{
			"publish":   {Count: 2, Cost: 3200},
			"exhausted": {Count: 1, Cost: 6800},
		},
	}
	if err := f.SaveQuotaDay(day); err != nil {
		t.Fatalf("SaveQuotaDay failed: %v", err)
	}
	if err := f.SaveQuotaDay(domain.QuotaLedger{Date: "2026-03-01", Used: 1, Limit: 10000}); err != nil {
		t.Fatalf("SaveQuotaDay second date failed: %v", err)
	}

	got, found, err := f.LoadQuotaDay("2026-03-02")
	if err != nil || !found {
		t.Fatalf("LoadQuotaDay found=%v err=%v", found, err)
	}
	if got.Used != 10000 || got.Operations["exhausted"].Cost != 6800 {
		t.Fatalf("unexpected day: %+v", got)
	}

	data, _ := os.ReadFile(path)
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["2026-03-02"]["quota_exceeded"] != true || raw["2026-03-02"]["remaining"] != float64(0) {
		t.Fatalf("unexpected stored day: %v", raw["2026-03-02"])
	}
	if _, ok := raw["2026-03-01"]; !ok {
		t.Fatalf("earlier date should be kept")
	}
}
