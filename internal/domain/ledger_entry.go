package domain

import "time"

const StatusCommitted = "committed"

// LedgerEntry is the immutable record of one completed transfer.
// Seq is assigned by the ledger log; zero means the entry was never appended.
type LedgerEntry struct {
	Seq        uint64    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Amount     int64     `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status"`
}

// Involves reports whether the account is either side of the entry.
func (e LedgerEntry) Involves(accountID string) bool {
	return e.SenderID == accountID || e.ReceiverID == accountID
}

// NetFor is the signed effect of the entry on the given account.
func (e LedgerEntry) NetFor(accountID string) int64 {
	switch accountID {
	case e.ReceiverID:
		return e.Amount
	case e.SenderID:
		return -e.Amount
	}
	return 0
}

// TransferRequest is an intent to move points, checked before any storage access.
type TransferRequest struct {
	SenderID   string
	ReceiverID string
	Amount     int64
}

func (t TransferRequest) Validate() error {
	if t.SenderID == "" || t.ReceiverID == "" {
		return Errorf(KindAccountNotFound, "sender and receiver ids are required")
	}
	if t.SenderID == t.ReceiverID {
		return Errorf(KindInvalidAmount, "sender and receiver must differ")
	}
	if t.Amount <= 0 {
		return Errorf(KindInvalidAmount, "amount must be greater than zero, got %d", t.Amount)
	}
	return nil
}
