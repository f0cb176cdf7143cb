package mongodb

import (
	"testing"
	"time"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
)

func TestEntryDocumentToDomain(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	e := entryDocument{Seq: 42, SenderID: "A", ReceiverID: "B", Amount: 5, Timestamp: ts, Status: domain.StatusCommitted}.toDomain()

	if e.Seq != 42 || e.SenderID != "A" || e.ReceiverID != "B" || e.Amount != 5 {
		t.Fatalf("entry = %+v", e)
	}
	if e.Timestamp.Location() != time.UTC || !e.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v in UTC", e.Timestamp, ts)
	}
}

func TestAuditLogFromEvent(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	log := AuditLogFromEvent(gateway.TransferCommitted{
		EventID: "evt", Seq: 3, SenderID: "A", ReceiverID: "B", Amount: 9, Status: "committed", OccurredAt: at,
	})
	if log.ID != "evt" || log.Seq != 3 || log.Amount != 9 || !log.OccurredAt.Equal(at) {
		t.Fatalf("audit log = %+v", log)
	}
	if !log.ProcessedAt.IsZero() {
		t.Fatal("ProcessedAt is stamped on save, not on conversion")
	}
}
