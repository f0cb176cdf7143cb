package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
)

// LedgerLog is an in-memory, append-only gateway.LedgerLog.
// entries is ordered by Seq because Seq is assigned under the lock.
type LedgerLog struct {
	mu      sync.RWMutex
	entries []domain.LedgerEntry
	nextSeq uint64
	now     func() time.Time
}

func NewLedgerLog() *LedgerLog {
	return &LedgerLog{
		entries: make([]domain.LedgerEntry, 0),
		now:     time.Now,
	}
}

func (l *LedgerLog) Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	entry.Seq = l.nextSeq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	entry.Status = domain.StatusCommitted
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *LedgerLog) ListFor(ctx context.Context, accountID string, afterSeq uint64, limit int) ([]domain.LedgerEntry, error) {
	return l.scan(afterSeq, limit, func(e domain.LedgerEntry) bool { return e.Involves(accountID) }), nil
}

func (l *LedgerLog) List(ctx context.Context, afterSeq uint64, limit int) ([]domain.LedgerEntry, error) {
	return l.scan(afterSeq, limit, func(domain.LedgerEntry) bool { return true }), nil
}

func (l *LedgerLog) scan(afterSeq uint64, limit int, keep func(domain.LedgerEntry) bool) []domain.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// entries[i].Seq == i+1, but search anyway so gaps stay harmless
	start := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Seq > afterSeq })

	out := make([]domain.LedgerEntry, 0)
	for _, e := range l.entries[start:] {
		if !keep(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

var _ gateway.LedgerLog = (*LedgerLog)(nil)
