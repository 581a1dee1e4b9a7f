// Package jsonfile stores the ledger and the daily quota as JSON documents,
// the format earlier deployments of the tool wrote.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"shortssync/internal/domain"
)

// LedgerFile holds {"channel": [entry, ...]} and is rewritten after every
// append.
type LedgerFile struct {
	path string

	mu      sync.Mutex
	doc     map[string][]domain.LedgerEntry
	corrupt bool
}

func NewLedgerFile(path string) *LedgerFile {
	return &LedgerFile{path: path, doc: map[string][]domain.LedgerEntry{}}
}

func (f *LedgerFile) Path() string { return f.path }

// LoadLedger reads the document. A missing file is an empty ledger; an
// unparseable one is reported and set aside on the next write.
func (f *LedgerFile) LoadLedger() (map[string][]domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := map[string][]domain.LedgerEntry{}
	found, err := readJSON(f.path, &doc)
	if err != nil {
		f.corrupt = true
		f.doc = map[string][]domain.LedgerEntry{}
		return nil, err
	}
	if !found {
		f.doc = doc
		return doc, nil
	}
	f.doc = doc

	out := make(map[string][]domain.LedgerEntry, len(doc))
	for channel, entries := range doc {
		cp := make([]domain.LedgerEntry, len(entries))
		for i, e := range entries {
			e.SourceChannel = channel
			cp[i] = e
		}
		out[channel] = cp
	}
	return out, nil
}

func (f *LedgerFile) AppendLedgerEntry(e domain.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.doc[e.SourceChannel] {
		if existing.SourceItemID == e.SourceItemID {
			return fmt.Errorf("%w: %s/%s", domain.ErrDuplicateEntry, e.SourceChannel, e.SourceItemID)
		}
	}
	if f.corrupt {
		if err := setAside(f.path); err != nil {
			return err
		}
		f.corrupt = false
	}
	f.doc[e.SourceChannel] = append(f.doc[e.SourceChannel], e)
	if err := writeJSON(f.path, f.doc); err != nil {
		entries := f.doc[e.SourceChannel]
		f.doc[e.SourceChannel] = entries[:len(entries)-1]
		return err
	}
	return nil
}

type quotaDay struct {
	Used          int                              `json:"used"`
	Remaining     int                              `json:"remaining"`
	Limit         int                              `json:"limit"`
	QuotaExceeded bool                             `json:"quota_exceeded,omitempty"`
	LastUpdated   time.Time                        `json:"last_updated"`
	Operations    map[string]domain.OperationUsage `json:"operations"`
}

// QuotaFile holds {"YYYY-MM-DD": day, ...}. Old dates are never pruned.
type QuotaFile struct {
	path string
	mu   sync.Mutex
}

func NewQuotaFile(path string) *QuotaFile {
	return &QuotaFile{path: path}
}

func (f *QuotaFile) Path() string { return f.path }

func (f *QuotaFile) LoadQuotaDay(date string) (domain.QuotaLedger, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := map[string]quotaDay{}
	if _, err := readJSON(f.path, &doc); err != nil {
		return domain.QuotaLedger{}, false, err
	}
	d, ok := doc[date]
	if !ok {
		return domain.QuotaLedger{}, false, nil
	}
	return domain.QuotaLedger{
		Date:        date,
		Used:        d.Used,
		Limit:       d.Limit,
		Operations:  d.Operations,
		LastUpdated: d.LastUpdated,
	}, true, nil
}

func (f *QuotaFile) SaveQuotaDay(day domain.QuotaLedger) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := map[string]quotaDay{}
	if _, err := readJSON(f.path, &doc); err != nil {
		if err := setAside(f.path); err != nil {
			return err
		}
		doc = map[string]quotaDay{}
	}
	remaining := day.Limit - day.Used
	if remaining < 0 {
		remaining = 0
	}
	_, exhausted := day.Operations["exhausted"]
	doc[day.Date] = quotaDay{
		Used:          day.Used,
		Remaining:     remaining,
		Limit:         day.Limit,
		QuotaExceeded: exhausted,
		LastUpdated:   day.LastUpdated,
		Operations:    day.Operations,
	}
	return writeJSON(f.path, doc)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// writeJSON replaces path through a temp file and rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func setAside(path string) error {
	backup := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
