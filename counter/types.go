/*
Package counter provides the ledger-backed achievement counter engine.

PURPOSE:
  This package contains the datastore-agnostic types and algorithms for
  per-user counters in a community scope. Kills, profits, victories,
  tackle assists, event participation and arbitrary tracker stats all
  share one keyspace: (statistic, scope, subject) -> total.

KEY CONCEPTS IN THIS FILE (types.go):
  - SubjectID / ScopeID: Opaque unsigned 64-bit platform identities
  - Statistic: Name of a counter kind (open keyspace)
  - Key: Identifies exactly one Aggregate
  - ChangeEvent: An immutable ledger entry recording a signed delta
  - Aggregate: The current total for a Key

DESIGN PRINCIPLES:
  1. Immutability: ChangeEvents are never modified, only compensated
  2. Precision: decimal.Decimal for every total and delta, never float64
  3. Type Safety: distinct ID types prevent mixing scopes and subjects
  4. Auditability: every Aggregate mutation has a matching ChangeEvent

USAGE:
  key := counter.Key{Statistic: counter.StatLegionKills, Scope: guild, Subject: user}
  agg, err := engine.Adjust(ctx, counter.Adjustment{
      Key:     key,
      Updater: moderator,
      Delta:   decimal.NewFromInt(3),
  })

SEE ALSO:
  - floor.go: Floor-at-zero ratchet
  - order.go: Board ordering and rank sentinel
  - ledger.go: Ledger interface and replay
  - engine.go: Aggregate Store operations
*/
package counter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// SubjectID is the platform identity of a user a total is attributed to.
// Zero is never a valid subject.
type SubjectID uint64

// ScopeID is the platform identity of the community (guild) a counter
// is tracked within. Zero is never a valid scope.
type ScopeID uint64

// AggregateID is the monotonic surrogate key of an Aggregate row.
type AggregateID int64

// EventID is the monotonic surrogate key of a ChangeEvent row.
type EventID int64

func (id SubjectID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (id ScopeID) String() string   { return strconv.FormatUint(uint64(id), 10) }

// MarshalText keeps identities as JSON strings. Snowflakes exceed the
// 53-bit integer range of most JSON consumers.
func (id SubjectID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id ScopeID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }

func (id *SubjectID) UnmarshalText(b []byte) error {
	v, err := ParseSubjectID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (id *ScopeID) UnmarshalText(b []byte) error {
	v, err := ParseScopeID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ParseSubjectID parses the canonical base-10 form of a subject identity.
func ParseSubjectID(s string) (SubjectID, error) {
	v, err := parseIdentity(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSubject, s)
	}
	return SubjectID(v), nil
}

// ParseScopeID parses the canonical base-10 form of a scope identity.
func ParseScopeID(s string) (ScopeID, error) {
	v, err := parseIdentity(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
	return ScopeID(v), nil
}

func parseIdentity(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, fmt.Errorf("zero identity")
	}
	return v, nil
}

// =============================================================================
// STATISTIC
// =============================================================================

// Statistic names a counter kind. The keyspace is open: any well-formed
// name is a valid tracker statistic, known ones carry display metadata
// in statistic.go.
type Statistic string

var statisticRE = regexp.MustCompile(`^[a-z0-9_]{1,100}$`)

// Validate reports whether the statistic name is well formed.
func (s Statistic) Validate() error {
	if !statisticRE.MatchString(string(s)) {
		return fmt.Errorf("%w: %q", ErrInvalidStatistic, string(s))
	}
	return nil
}

// =============================================================================
// KEY
// =============================================================================

// Key identifies one Aggregate: a subject's total for a statistic in a scope.
type Key struct {
	Statistic Statistic `json:"statistic"`
	Scope     ScopeID   `json:"guild_id"`
	Subject   SubjectID `json:"subject_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Statistic, k.Scope, k.Subject)
}

// Validate checks that every component of the key is present.
func (k Key) Validate() error {
	if err := k.Statistic.Validate(); err != nil {
		return err
	}
	if k.Scope == 0 {
		return fmt.Errorf("%w: scope is required", ErrInvalidEvent)
	}
	if k.Subject == 0 {
		return fmt.Errorf("%w: target subject is required", ErrInvalidEvent)
	}
	return nil
}

// =============================================================================
// CHANGE EVENT - Immutable ledger entry
// =============================================================================

// MaxNoteLength bounds the optional free-text note on a ChangeEvent.
const MaxNoteLength = 10000

// ChangeEvent records one signed adjustment. Once written it is never
// updated or deleted; corrections are new events.
type ChangeEvent struct {
	ID        EventID         `json:"id"`
	Statistic Statistic       `json:"statistic"`
	Scope     ScopeID         `json:"guild_id"`
	Updater   SubjectID       `json:"updater_id"`
	Target    SubjectID       `json:"target_id"`
	Delta     decimal.Decimal `json:"delta"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Key returns the Aggregate key this event applies to.
func (e ChangeEvent) Key() Key {
	return Key{Statistic: e.Statistic, Scope: e.Scope, Subject: e.Target}
}

// Validate checks the append preconditions. Delta may be any signed value.
func (e ChangeEvent) Validate() error {
	if err := e.Key().Validate(); err != nil {
		return err
	}
	if len(e.Note) > MaxNoteLength {
		return fmt.Errorf("%w: note exceeds %d characters", ErrInvalidEvent, MaxNoteLength)
	}
	return nil
}

// =============================================================================
// AGGREGATE - Current total per key
// =============================================================================

// Aggregate is the current total for a Key. Total is never negative.
type Aggregate struct {
	ID        AggregateID     `json:"id"`
	Statistic Statistic       `json:"statistic"`
	Scope     ScopeID         `json:"guild_id"`
	Subject   SubjectID       `json:"subject_id"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Key returns the key identifying this Aggregate.
func (a Aggregate) Key() Key {
	return Key{Statistic: a.Statistic, Scope: a.Scope, Subject: a.Subject}
}
