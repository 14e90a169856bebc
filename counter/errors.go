/*
errors.go - Centralized error types for the counter engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers must be able to tell "nothing to report" from "storage is
  broken", so every storage failure is structured (kind + cause).

ERROR CATEGORIES:
  1. Validation errors - Malformed keys, statistics, notes
  2. Store errors      - Connect, ledger write, aggregate write, query

NOT FOUND:
  Point lookups do not error on a missing Aggregate. They return
  (Aggregate{}, false, nil).

RETRIES:
  None. A failed transaction is fully rolled back and reported once.
  Retry policy belongs to the caller.

USAGE:
  if errors.Is(err, counter.ErrLedgerWrite) {
      // transaction rolled back, aggregate untouched
  }
  var serr *counter.Error
  if errors.As(err, &serr) {
      log.Error("store failure", "kind", serr.Kind, "op", serr.Op)
  }

SEE ALSO:
  - engine.go: Wraps session failures with their kind
  - store.go: Stores return KindConnect when a session cannot start
*/
package counter

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConnect is returned when a transactional session could not be
	// established. Fatal to the request.
	ErrConnect = errors.New("store session could not be established")

	// ErrLedgerWrite is returned when the ChangeEvent insert failed. The
	// transaction was rolled back and the aggregate is untouched.
	ErrLedgerWrite = errors.New("ledger write failed")

	// ErrAggregateWrite is returned when the aggregate upsert or delete
	// failed. The ledger write in the same transaction was undone.
	ErrAggregateWrite = errors.New("aggregate write failed")

	// ErrQuery is returned when a read-side query failed.
	ErrQuery = errors.New("store query failed")

	// ErrInvalidEvent is returned when a ChangeEvent misses a required field.
	ErrInvalidEvent = errors.New("invalid change event")

	// ErrInvalidStatistic is returned for a malformed statistic name.
	ErrInvalidStatistic = errors.New("invalid statistic")

	// ErrInvalidSubject is returned for a malformed subject identity.
	ErrInvalidSubject = errors.New("invalid subject id")

	// ErrInvalidScope is returned for a malformed scope identity.
	ErrInvalidScope = errors.New("invalid scope id")

	// ErrInvalidWindow is returned for a negative offset or limit.
	ErrInvalidWindow = errors.New("invalid window")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Kind classifies a store failure.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindLedgerWrite
	KindAggregateWrite
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindLedgerWrite:
		return "ledger_write"
	case KindAggregateWrite:
		return "aggregate_write"
	case KindQuery:
		return "query"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConnect:
		return ErrConnect
	case KindLedgerWrite:
		return ErrLedgerWrite
	case KindAggregateWrite:
		return ErrAggregateWrite
	default:
		return ErrQuery
	}
}

// Error is a store failure with its kind, the operation that failed and
// the underlying cause. It matches both the kind sentinel and the cause
// under errors.Is.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// ConnectError wraps a failure to begin a session.
func ConnectError(op string, err error) error {
	return &Error{Kind: KindConnect, Op: op, Err: err}
}

// QueryError wraps a read-side failure.
func QueryError(op string, err error) error {
	return &Error{Kind: KindQuery, Op: op, Err: err}
}

// wrap attaches kind unless err already carries one.
func wrap(kind Kind, op string, err error) error {
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsStoreError returns true if the error is a storage failure of any kind.
func IsStoreError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrInvalidStatistic) ||
		errors.Is(err, ErrInvalidSubject) ||
		errors.Is(err, ErrInvalidScope) ||
		errors.Is(err, ErrInvalidWindow)
}
