package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
)

// TransferMoneyInput is the DTO for a transfer, decoupled from the HTTP layer.
type TransferMoneyInput struct {
	SenderID   string
	ReceiverID string
	Amount     int64 // points
}

// TransferOptions bounds the engine's retry behaviour.
type TransferOptions struct {
	// MaxRetries is how many times a conflicting attempt is restarted.
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
	// CompensationAttempts bounds the re-credit of the sender after a failed credit.
	CompensationAttempts int
	// PublishTimeout bounds the best-effort event publish.
	PublishTimeout time.Duration
	Clock          func() time.Time
	Logger         zerolog.Logger
}

func DefaultTransferOptions() TransferOptions {
	return TransferOptions{
		MaxRetries:           5,
		RetryBackoff:         2 * time.Millisecond,
		CompensationAttempts: 10,
		PublishTimeout:       5 * time.Second,
		Clock:                time.Now,
		Logger:               zerolog.Nop(),
	}
}

// TransferMoneyUseCase is the only code path that moves points between accounts.
//
// Each balance change is a single compare-and-swap on the account store.
// The sender is debited first; if the receiver credit cannot be applied the
// debit is reversed (compensation) before TransferAborted is surfaced. The
// ledger entry is appended only after both balances changed.
type TransferMoneyUseCase struct {
	accounts       gateway.AccountStore
	ledger         gateway.LedgerLog
	eventPublisher gateway.EventPublisher
	opts           TransferOptions

	inflight sync.WaitGroup
}

// ErrDetached is returned, joined with the caller's context error, when the
// caller stops waiting after the transfer has started. The transfer itself
// still runs to completion or compensation.
var ErrDetached = errors.New("caller stopped waiting, transfer continues in background")

// TransferNotify receives the final outcome of a transfer whose caller stopped waiting.
type TransferNotify func(entry *domain.LedgerEntry, err error)

func NewTransferMoney(
	accounts gateway.AccountStore,
	ledger gateway.LedgerLog,
	publisher gateway.EventPublisher,
	opts TransferOptions,
) *TransferMoneyUseCase {
	def := DefaultTransferOptions()
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.CompensationAttempts <= 0 {
		opts.CompensationAttempts = def.CompensationAttempts
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = def.PublishTimeout
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	return &TransferMoneyUseCase{
		accounts:       accounts,
		ledger:         ledger,
		eventPublisher: publisher,
		opts:           opts,
	}
}

type transferResult struct {
	entry *domain.LedgerEntry
	err   error
}

// Execute validates and applies the transfer, returning the committed entry.
//
// Caller cancellation never interrupts a transfer that has started: the work
// runs on a detached context and the caller just stops waiting for it.
func (u *TransferMoneyUseCase) Execute(ctx context.Context, input TransferMoneyInput) (*domain.LedgerEntry, error) {
	return u.ExecuteNotify(ctx, input, nil)
}

// ExecuteNotify is Execute plus a callback. When ctx ends after the transfer
// started, ExecuteNotify returns ErrDetached and notify is later called with
// the real outcome. notify is never called when the caller got the result.
func (u *TransferMoneyUseCase) ExecuteNotify(ctx context.Context, input TransferMoneyInput, notify TransferNotify) (*domain.LedgerEntry, error) {
	req := domain.TransferRequest{
		SenderID:   input.SenderID,
		ReceiverID: input.ReceiverID,
		Amount:     input.Amount,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan transferResult, 1)
	returned := make(chan struct{})
	abandoned := make(chan struct{})
	work := context.WithoutCancel(ctx)

	u.inflight.Add(1)
	go func() {
		defer u.inflight.Done()
		entry, err := u.transfer(work, req)
		done <- transferResult{entry: entry, err: err}
		select {
		case <-returned:
		case <-abandoned:
			if notify != nil {
				notify(entry, err)
			}
		}
	}()

	select {
	case r := <-done:
		close(returned)
		return r.entry, r.err
	case <-ctx.Done():
		close(abandoned)
		u.opts.Logger.Warn().
			Str("sender_id", req.SenderID).
			Str("receiver_id", req.ReceiverID).
			Int64("amount", req.Amount).
			Msg("caller gave up waiting; transfer continues in background")
		return nil, fmt.Errorf("%w: %w", ErrDetached, ctx.Err())
	}
}

// Drain blocks until every started transfer has finished or compensated.
// Call it after new requests have stopped and before closing the stores.
func (u *TransferMoneyUseCase) Drain(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		u.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *TransferMoneyUseCase) transfer(ctx context.Context, req domain.TransferRequest) (*domain.LedgerEntry, error) {
	var lastConflict error

	for attempt := 0; attempt <= u.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			u.backoff(attempt)
		}

		sender, receiver, err := u.load(ctx, req)
		if err != nil {
			return nil, err
		}

		// Debit first: it is the only side that can fail on funds.
		_, err = u.accounts.ApplyDelta(ctx, sender.ID, -req.Amount, sender.Version)
		if errors.Is(err, domain.ErrConflict) {
			lastConflict = err
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := u.credit(ctx, req, receiver); err != nil {
			if compErr := u.compensate(ctx, req, err); compErr != nil {
				return nil, domain.Wrap(domain.KindTransferAborted,
					"receiver credit failed and sender debit could not be reversed",
					errors.Join(err, compErr))
			}
			return nil, domain.Wrap(domain.KindTransferAborted, "receiver credit failed, sender debit reversed", err)
		}

		return u.record(ctx, req), nil
	}

	return nil, domain.Wrap(domain.KindTransferAborted,
		fmt.Sprintf("gave up after %d conflicting attempts", u.opts.MaxRetries+1),
		lastConflict)
}

// load reads both accounts and checks every precondition without writing.
func (u *TransferMoneyUseCase) load(ctx context.Context, req domain.TransferRequest) (*domain.Account, *domain.Account, error) {
	sender, err := u.accounts.Get(ctx, req.SenderID)
	if err != nil {
		return nil, nil, fmt.Errorf("load sender %s: %w", req.SenderID, err)
	}
	if !sender.Active {
		return nil, nil, domain.Errorf(domain.KindAccountNotFound, "account %s is deactivated", sender.ID)
	}

	receiver, err := u.accounts.Get(ctx, req.ReceiverID)
	if err != nil {
		return nil, nil, fmt.Errorf("load receiver %s: %w", req.ReceiverID, err)
	}
	if !receiver.Active {
		return nil, nil, domain.Errorf(domain.KindAccountNotFound, "account %s is deactivated", receiver.ID)
	}

	if !sender.HasSufficientFunds(req.Amount) {
		return nil, nil, domain.Errorf(domain.KindInsufficientFunds,
			"account %s has %d points, transfer needs %d", sender.ID, sender.Balance, req.Amount)
	}
	return sender, receiver, nil
}

// credit applies +amount to the receiver, re-reading its version on conflict.
func (u *TransferMoneyUseCase) credit(ctx context.Context, req domain.TransferRequest, receiver *domain.Account) error {
	for attempt := 0; ; attempt++ {
		_, err := u.accounts.ApplyDelta(ctx, receiver.ID, req.Amount, receiver.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= u.opts.MaxRetries {
			return err
		}

		u.backoff(attempt + 1)
		receiver, err = u.accounts.Get(ctx, req.ReceiverID)
		if err != nil {
			return err
		}
		if !receiver.Active {
			return domain.Errorf(domain.KindAccountNotFound, "account %s was deactivated mid-transfer", receiver.ID)
		}
	}
}

// compensate gives the debited amount back to the sender. A credit can only
// fail on conflict or storage faults, so both are retried.
func (u *TransferMoneyUseCase) compensate(ctx context.Context, req domain.TransferRequest, cause error) error {
	var last error
	for attempt := 1; attempt <= u.opts.CompensationAttempts; attempt++ {
		sender, err := u.accounts.Get(ctx, req.SenderID)
		if err == nil {
			_, err = u.accounts.ApplyDelta(ctx, sender.ID, req.Amount, sender.Version)
		}
		if err == nil {
			u.opts.Logger.Warn().
				Err(cause).
				Str("sender_id", req.SenderID).
				Str("receiver_id", req.ReceiverID).
				Int64("amount", req.Amount).
				Int("attempt", attempt).
				Msg("transfer compensated: sender debit reversed")
			return nil
		}
		last = err
		u.backoff(attempt)
	}

	u.opts.Logger.Error().
		Bool("alert", true).
		Err(last).
		AnErr("cause", cause).
		Str("sender_id", req.SenderID).
		Str("receiver_id", req.ReceiverID).
		Int64("amount", req.Amount).
		Msg("compensation failed: sender was debited without a matching credit")
	return last
}

// record appends the ledger entry. Balances are already committed, so an
// append failure is logged as a reconciliation anomaly, not returned.
func (u *TransferMoneyUseCase) record(ctx context.Context, req domain.TransferRequest) *domain.LedgerEntry {
	entry := domain.LedgerEntry{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		Timestamp:  u.opts.Clock().UTC(),
		Status:     domain.StatusCommitted,
	}

	stored, err := u.ledger.Append(ctx, entry)
	if err != nil {
		u.opts.Logger.Error().
			Bool("reconcile", true).
			Err(err).
			Str("sender_id", req.SenderID).
			Str("receiver_id", req.ReceiverID).
			Int64("amount", req.Amount).
			Msg("ledger append failed after balances committed")
		stored = entry
	}

	u.publish(ctx, stored)
	return &stored
}

func (u *TransferMoneyUseCase) publish(ctx context.Context, entry domain.LedgerEntry) {
	if u.eventPublisher == nil {
		return
	}
	event := gateway.TransferCommitted{
		EventID:    uuid.NewString(),
		Seq:        entry.Seq,
		SenderID:   entry.SenderID,
		ReceiverID: entry.ReceiverID,
		Amount:     entry.Amount,
		Status:     entry.Status,
		OccurredAt: entry.Timestamp,
	}

	pubCtx, cancel := context.WithTimeout(ctx, u.opts.PublishTimeout)
	defer cancel()
	// Only log: the transfer already happened.
	if err := u.eventPublisher.Publish(pubCtx, gateway.LedgerExchange, gateway.RoutingKeyTransferCommitted, event); err != nil {
		u.opts.Logger.Error().Err(err).Uint64("seq", entry.Seq).Msg("failed to publish transfer event")
	}
}

func (u *TransferMoneyUseCase) backoff(attempt int) {
	if u.opts.RetryBackoff > 0 {
		time.Sleep(u.opts.RetryBackoff * time.Duration(attempt))
	}
}
