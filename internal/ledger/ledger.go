package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"shortssync/internal/domain"
	"shortssync/internal/logging"
)

// Store persists ledger entries. LoadLedger returns every entry grouped by
// channel in insertion order.
type Store interface {
	LoadLedger() (map[string][]domain.LedgerEntry, error)
	AppendLedgerEntry(entry domain.LedgerEntry) error
}

type entryKey struct {
	channel string
	itemID  string
}

// Ledger is the append-only record of published items. (channel, item id)
// is unique; it is the only duplicate-publish guard.
type Ledger struct {
	mu        sync.RWMutex
	store     Store
	logger    logging.Logger
	byChannel map[string][]domain.LedgerEntry
	seen      map[entryKey]struct{}
	unsaved   []domain.LedgerEntry // accepted in memory, not yet written
}

type Stats struct {
	Channels  int            `json:"channels"`
	Entries   int            `json:"entries"`
	Published int            `json:"published"`
	Unsaved   int            `json:"unsaved"`
	ByChannel map[string]int `json:"by_channel"`
}

// Open loads the ledger from store. A missing or unreadable store yields an
// empty ledger.
func Open(store Store, logger logging.Logger) *Ledger {
	l := &Ledger{
		store:     store,
		logger:    logger,
		byChannel: map[string][]domain.LedgerEntry{},
		seen:      map[entryKey]struct{}{},
	}

	loaded, err := store.LoadLedger()
	if err != nil {
		logger.WithError(err).Warn("ledger store unreadable, starting with an empty ledger")
		return l
	}
	total := 0
	for channel, entries := range loaded {
		channel = domain.NormalizeChannel(channel)
		for _, e := range entries {
			key := entryKey{channel: channel, itemID: e.SourceItemID}
			if _, dup := l.seen[key]; dup {
				continue
			}
			e.SourceChannel = channel
			l.seen[key] = struct{}{}
			l.byChannel[channel] = append(l.byChannel[channel], e)
			total++
		}
	}
	logger.WithFields(logging.Fields{"channels": len(l.byChannel), "entries": total}).Info("ledger loaded")
	return l
}

func (l *Ledger) Contains(channel, itemID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[entryKey{channel: domain.NormalizeChannel(channel), itemID: itemID}]
	return ok
}

// Record appends entry. It returns an error wrapping domain.ErrDuplicateEntry
// when the item is already recorded, and a *domain.PersistenceError when the
// entry was accepted in memory but could not be written. Entries whose write
// failed are written again, in order, on the next Record.
func (l *Ledger) Record(entry domain.LedgerEntry) error {
	entry.SourceChannel = domain.NormalizeChannel(entry.SourceChannel)
	if entry.SourceChannel == "" || entry.SourceItemID == "" {
		return fmt.Errorf("ledger entry requires channel and item id, got %q/%q", entry.SourceChannel, entry.SourceItemID)
	}
	if entry.CommittedAt.IsZero() {
		entry.CommittedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := entryKey{channel: entry.SourceChannel, itemID: entry.SourceItemID}
	if _, ok := l.seen[key]; ok {
		return fmt.Errorf("%w: %s/%s", domain.ErrDuplicateEntry, entry.SourceChannel, entry.SourceItemID)
	}
	l.seen[key] = struct{}{}
	l.byChannel[entry.SourceChannel] = append(l.byChannel[entry.SourceChannel], entry)
	l.unsaved = append(l.unsaved, entry)

	if err := l.flushLocked(); err != nil {
		l.logger.WithError(err).WithField("unsaved", len(l.unsaved)).Warn("ledger write failed, keeping entries for the next write")
		return &domain.PersistenceError{Store: "ledger", Op: "append", Err: err}
	}
	return nil
}

// flushLocked writes unsaved entries oldest first and stops at the first
// failure. A duplicate reported by the store means the entry is already
// there.
func (l *Ledger) flushLocked() error {
	for len(l.unsaved) > 0 {
		err := l.store.AppendLedgerEntry(l.unsaved[0])
		if err != nil && !errors.Is(err, domain.ErrDuplicateEntry) {
			return err
		}
		l.unsaved = l.unsaved[1:]
	}
	l.unsaved = nil
	return nil
}

// History returns the channel's entries in insertion order.
func (l *Ledger) History(channel string) []domain.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.byChannel[domain.NormalizeChannel(channel)]
	return append([]domain.LedgerEntry(nil), entries...)
}

// AllCommitted returns every entry with a confirmed destination id, ordered
// by channel name.
func (l *Ledger) AllCommitted() []domain.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.LedgerEntry
	for _, channel := range l.channelsLocked() {
		for _, e := range l.byChannel[channel] {
			if e.DestinationID != "" {
				out = append(out, e)
			}
		}
	}
	return out
}

// FilterNew drops candidates that were already published.
func (l *Ledger) FilterNew(channel string, items []domain.CandidateItem) []domain.CandidateItem {
	out := make([]domain.CandidateItem, 0, len(items))
	for _, it := range items {
		if !l.Contains(channel, it.ID) {
			out = append(out, it)
		}
	}
	return out
}

func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{Channels: len(l.byChannel), Unsaved: len(l.unsaved), ByChannel: make(map[string]int, len(l.byChannel))}
	for channel, entries := range l.byChannel {
		s.ByChannel[channel] = len(entries)
		s.Entries += len(entries)
		for _, e := range entries {
			if e.DestinationID != "" {
				s.Published++
			}
		}
	}
	return s
}

func (l *Ledger) channelsLocked() []string {
	names := make([]string, 0, len(l.byChannel))
	for name := range l.byChannel {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
