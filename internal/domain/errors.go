package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a ledger failure. Handlers map it to a status code,
// the engine uses it to decide what is retryable.
type Kind string

const (
	KindAccountNotFound   Kind = "AccountNotFound"
	KindAccountExists     Kind = "AccountExists"
	KindInvalidAmount     Kind = "InvalidAmount"
	KindInsufficientFunds Kind = "InsufficientFunds"
	KindConflict          Kind = "Conflict"
	KindTransferAborted   Kind = "TransferAborted"
	KindStorage           Kind = "StorageError"
)

// Error carries a Kind plus a human readable reason.
// Two *Error values match under errors.Is when their kinds are equal,
// so callers can keep writing errors.Is(err, domain.ErrInsufficientFunds).
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrAccountNotFound   = &Error{Kind: KindAccountNotFound, Reason: "account not found"}
	ErrAccountExists     = &Error{Kind: KindAccountExists, Reason: "account already exists"}
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount, Reason: "amount must be a positive integer"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Reason: "insufficient funds"}
	ErrConflict          = &Error{Kind: KindConflict, Reason: "account version changed"}
	ErrTransferAborted   = &Error{Kind: KindTransferAborted, Reason: "transfer aborted"}
	ErrStorage           = &Error{Kind: KindStorage, Reason: "storage unavailable"}
)

// Errorf builds a kinded error with a formatted reason.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds a kinded error around a cause.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// StorageErr marks an infrastructure fault. Already kinded errors pass
// through untouched so adapters can wrap indiscriminately.
func StorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindStorage, Reason: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
