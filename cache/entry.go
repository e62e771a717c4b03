package cache

import (
	"time"

	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/policy"
)

// entry is the metadata the coordinator keeps per key. The value itself
// lives in the LocalCache under the same canonical key.
type entry struct {
	key        keys.Key
	id         string
	policy     policy.Policy
	fetch      FetchFunc
	decode     DecodeFunc
	hasValue   bool
	fetchedAt  time.Time
	stale      bool
	generation uint64
	lastErr    error
	observers  map[uint64]Listener
	refetch    *time.Timer
	retention  *time.Timer
}

func (e *entry) remember(q Query) {
	if q.Fetch != nil {
		e.fetch = q.Fetch
	}
	if q.Decode != nil {
		e.decode = q.Decode
	}
}

// fresh reports whether the value may be served without a network call.
func (e *entry) fresh(now time.Time) bool {
	return e.hasValue && !e.stale && now.Sub(e.fetchedAt) < e.policy.Stale
}

func (e *entry) query() Query {
	return Query{Key: e.key, Fetch: e.fetch, Decode: e.decode}
}

func (e *entry) listeners() []Listener {
	if len(e.observers) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(e.observers))
	for _, l := range e.observers {
		out = append(out, l)
	}
	return out
}

func (e *entry) stopTimers() {
	if e.refetch != nil {
		e.refetch.Stop()
		e.refetch = nil
	}
	if e.retention != nil {
		e.retention.Stop()
		e.retention = nil
	}
}

// snapshot is the persisted form of an entry.
type snapshot struct {
	FetchedAt time.Time `json:"fetched_at"`
	Value     []byte    `json:"value"`
}
