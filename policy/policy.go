// Package policy assigns staleness, passive refetch and retry behavior to
// every cache key family according to how fast the underlying data changes.
package policy

import (
	"context"
	"errors"
	"time"

	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/lifecycle"
	"github.com/huykn/entity-sync/transport"
)

// Policy is the freshness configuration of one key family.
type Policy struct {
	// Stale is how long a fetched value is served without a network call.
	Stale time.Duration

	// RefetchInterval re-queries the key in the background while it has at
	// least one observer. Zero disables passive refetch.
	RefetchInterval time.Duration

	// Retention is how long an entry without observers is kept before it is
	// removed.
	Retention time.Duration

	// Retry governs read-path retries. Mutations are never retried.
	Retry Retry
}

// Retry is an explicit, bounded read retry policy with exponential backoff.
type Retry struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry; it doubles per retry.
	BaseDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Predicate decides whether an error may be retried at all.
	// Nil means DefaultRetryPredicate.
	Predicate func(error) bool
}

// ShouldRetry reports whether the attempt-th retry (0-based) may run after err.
func (r Retry) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt >= r.MaxRetries {
		return false
	}
	pred := r.Predicate
	if pred == nil {
		pred = DefaultRetryPredicate
	}
	return pred(err)
}

// Backoff returns the delay before the attempt-th retry (0-based).
func (r Retry) Backoff(attempt int) time.Duration {
	if r.BaseDelay <= 0 {
		return 0
	}
	d := r.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if r.MaxDelay > 0 && d >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

// DefaultRetryPredicate refuses to retry authorization failures, missing
// entities, local transition rejections and cancellation. Everything else
// is retried within the bounded count.
func DefaultRetryPredicate(err error) bool {
	if err == nil {
		return false
	}
	if lifecycle.IsInvalidTransition(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch transport.ClassOf(err) {
	case transport.ClassUnauthorized, transport.ClassNotFound:
		return false
	}
	return true
}

// DefaultRetry is three retries starting at one second, capped at thirty.
func DefaultRetry() Retry {
	return Retry{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Predicate:  DefaultRetryPredicate,
	}
}

// Table maps key families to policies.
type Table struct {
	fallback Policy
	families map[keys.Family]Policy
}

// NewTable creates a table that answers fallback for unknown families.
func NewTable(fallback Policy) *Table {
	return &Table{fallback: fallback, families: make(map[keys.Family]Policy)}
}

// Set assigns p to family f.
func (t *Table) Set(f keys.Family, p Policy) {
	t.families[f] = p
}

// For returns the policy of family f.
func (t *Table) For(f keys.Family) Policy {
	if p, ok := t.families[f]; ok {
		return p
	}
	return t.fallback
}

// ForKey returns the policy of key's family.
func (t *Table) ForKey(k keys.Key) Policy { return t.For(k.Family()) }

// Fallback returns the policy of unknown families.
func (t *Table) Fallback() Policy { return t.fallback }

// Families returns the explicitly configured families.
func (t *Table) Families() []keys.Family {
	out := make([]keys.Family, 0, len(t.families))
	for f := range t.families {
		out = append(out, f)
	}
	sortFamilies(out)
	return out
}

// Clone returns an independent copy.
func (t *Table) Clone() *Table {
	c := NewTable(t.fallback)
	for f, p := range t.families {
		c.families[f] = p
	}
	return c
}

// SetRetry replaces the retry policy of every family and the fallback.
func (t *Table) SetRetry(r Retry) {
	t.fallback.Retry = r
	for f, p := range t.families {
		p.Retry = r
		t.families[f] = p
	}
}
