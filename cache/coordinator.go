package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/policy"
	"github.com/huykn/entity-sync/transport"
)

const tracerName = "github.com/huykn/entity-sync/cache"

// prefetchLimit bounds concurrent fetches started by Prefetch.
const prefetchLimit = 8

// SyncCoordinator owns every cached view of the restaurant entities. Reads
// go through Read/Observe, writes through Mutate/BulkMutate; a committed
// write adopts the server response and marks every dependent view stale.
type SyncCoordinator struct {
	local        LocalCache
	store        Store
	synchronizer Synchronizer
	serializer   Marshaller
	logger       Logger
	policies     *policy.Table
	sink         NotificationSink
	tracer       trace.Tracer
	now          func() time.Time
	options      Options

	mu          sync.Mutex
	entries     map[string]*entry
	inflight    map[string]struct{}
	observerSeq uint64

	reads  singleflight.Group
	bg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	closed int32
	stats  Stats
}

// New creates a new SyncCoordinator instance.
func New(opts Options) (*SyncCoordinator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// Set defaults for optional fields
	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLRUCacheFactory(opts.LocalCacheConfig.MaxSize)
	}
	if opts.Marshaller == nil {
		opts.Marshaller = NewJSONMarshaller()
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}
	if opts.Policies == nil {
		opts.Policies = policy.DefaultTable()
	} else {
		opts.Policies = opts.Policies.Clone()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = NoOpSink{}
	}

	local, err := opts.LocalCacheFactory.Create()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &SyncCoordinator{
		local:        local,
		store:        opts.Store,
		synchronizer: opts.Synchronizer,
		serializer:   opts.Marshaller,
		logger:       opts.Logger,
		policies:     opts.Policies,
		sink:         opts.Sink,
		tracer:       opts.Tracer,
		now:          opts.Now,
		options:      opts,
		entries:      make(map[string]*entry),
		inflight:     make(map[string]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	if sc.synchronizer != nil {
		sc.synchronizer.OnInvalidate(sc.handleInvalidation)

		subCtx, subCancel := context.WithTimeout(context.Background(), opts.ContextTimeout)
		defer subCancel()
		if err := sc.synchronizer.Subscribe(subCtx); err != nil {
			sc.Close()
			return nil, err
		}
	}

	return sc, nil
}

// Read returns the value of q's view. A fresh cached value is returned
// without a network call; otherwise the view is hydrated from the Store or
// fetched, with concurrent reads of the same key sharing one fetch.
func (sc *SyncCoordinator) Read(ctx context.Context, q Query) (any, error) {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return nil, ErrCacheClosed
	}
	if q.Key.IsZero() || q.Fetch == nil {
		return nil, ErrInvalidQuery
	}
	k := q.Key.String()

	ctx, span := sc.tracer.Start(ctx, "entitysync.read", trace.WithAttributes(attribute.String("entitysync.key", k)))
	defer span.End()

	if v, ok := sc.lookupFresh(q); ok {
		atomic.AddInt64(&sc.stats.Hits, 1)
		span.SetAttributes(attribute.Bool("entitysync.hit", true))
		if sc.options.DebugMode {
			sc.logger.Debug("Read: served fresh value", "key", k)
		}
		return v, nil
	}
	atomic.AddInt64(&sc.stats.Misses, 1)
	span.SetAttributes(attribute.Bool("entitysync.hit", false))

	if v, ok := sc.hydrate(ctx, q); ok {
		span.SetAttributes(attribute.Bool("entitysync.hydrated", true))
		return v, nil
	}

	if sc.options.DebugMode {
		sc.logger.Debug("Read: fetching", "key", k)
	}
	// the shared fetch outlives any single caller; each caller still stops
	// waiting when its own ctx ends
	ch := sc.reads.DoChan(k, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.options.readTimeout())
		defer cancel()
		return sc.fetchAndStore(fctx, q)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = singleflight.Result{Err: ctx.Err()}
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		return nil, res.Err
	}
	span.SetAttributes(attribute.Bool("entitysync.shared", res.Shared))
	return res.Val, nil
}

// Prefetch reads every query concurrently and returns the first error.
func (sc *SyncCoordinator) Prefetch(ctx context.Context, qs ...Query) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchLimit)
	for _, q := range qs {
		q := q
		g.Go(func() error {
			_, err := sc.Read(gctx, q)
			return err
		})
	}
	return g.Wait()
}

// Observe registers l for updates of q's view and returns the function that
// removes it. While a key has observers it is refetched on its policy's
// interval and eagerly after invalidation. If the cached value is fresh l
// receives it before Observe returns; otherwise a fetch starts in the
// background.
func (sc *SyncCoordinator) Observe(q Query, l Listener) (func(), error) {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return nil, ErrCacheClosed
	}
	if q.Key.IsZero() || q.Fetch == nil || l == nil {
		return nil, ErrInvalidQuery
	}
	k := q.Key.String()

	sc.mu.Lock()
	e := sc.entries[k]
	if e == nil {
		e = sc.newEntryLocked(q)
	}
	e.remember(q)
	sc.observerSeq++
	id := sc.observerSeq
	e.observers[id] = l
	if e.retention != nil {
		e.retention.Stop()
		e.retention = nil
	}
	if e.refetch == nil {
		sc.armRefetchLocked(e)
	}
	var initial *Update
	if e.fresh(sc.now()) {
		if v, ok := sc.local.Get(k); ok {
			initial = &Update{Key: e.key, Value: v, FetchedAt: e.fetchedAt}
		}
	}
	sc.mu.Unlock()

	if sc.options.DebugMode {
		sc.logger.Debug("Observe: listener added", "key", k, "fresh", initial != nil)
	}
	if initial != nil {
		l(*initial)
	} else {
		sc.refreshInBackground(k)
	}

	var once sync.Once
	return func() {
		once.Do(func() { sc.unobserve(e, id) })
	}, nil
}

// Peek returns the cached value of key whether or not it is fresh.
func (sc *SyncCoordinator) Peek(key keys.Key) (any, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	e := sc.entries[key.String()]
	if e == nil || !e.hasValue {
		return nil, false
	}
	return sc.local.Get(e.id)
}

// State returns the metadata of key's entry.
func (sc *SyncCoordinator) State(key keys.Key) (EntryState, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	e := sc.entries[key.String()]
	if e == nil {
		return EntryState{}, false
	}
	return sc.stateLocked(e), true
}

// Snapshot returns the state of every entry, sorted by key.
func (sc *SyncCoordinator) Snapshot() []EntryState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]EntryState, 0, len(sc.entries))
	for _, e := range sc.entries {
		out = append(out, sc.stateLocked(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (sc *SyncCoordinator) stateLocked(e *entry) EntryState {
	st := EntryState{
		Key:        e.id,
		FetchedAt:  e.fetchedAt,
		Stale:      e.stale,
		Fresh:      e.fresh(sc.now()),
		Generation: e.generation,
		Observers:  len(e.observers),
	}
	if e.hasValue {
		st.Value, st.HasValue = sc.local.Get(e.id)
	}
	return st
}

// Close closes the coordinator and releases all resources.
func (sc *SyncCoordinator) Close() error {
	if !atomic.CompareAndSwapInt32(&sc.closed, 0, 1) {
		return nil
	}

	sc.mu.Lock()
	for _, e := range sc.entries {
		e.stopTimers()
	}
	sc.mu.Unlock()
	sc.cancel()

	var errs []error
	if sc.synchronizer != nil {
		if err := sc.synchronizer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	sc.bg.Wait()

	if sc.store != nil {
		if err := sc.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	sc.local.Close()

	return errors.Join(errs...)
}

// Stats returns coordinator statistics.
func (sc *SyncCoordinator) Stats() Stats {
	return Stats{
		Hits:                atomic.LoadInt64(&sc.stats.Hits),
		Misses:              atomic.LoadInt64(&sc.stats.Misses),
		Fetches:             atomic.LoadInt64(&sc.stats.Fetches),
		FetchErrors:         atomic.LoadInt64(&sc.stats.FetchErrors),
		Retries:             atomic.LoadInt64(&sc.stats.Retries),
		Hydrations:          atomic.LoadInt64(&sc.stats.Hydrations),
		Adoptions:           atomic.LoadInt64(&sc.stats.Adoptions),
		Invalidations:       atomic.LoadInt64(&sc.stats.Invalidations),
		PeerInvalidations:   atomic.LoadInt64(&sc.stats.PeerInvalidations),
		RejectedTransitions: atomic.LoadInt64(&sc.stats.RejectedTransitions),
		MutationFailures:    atomic.LoadInt64(&sc.stats.MutationFailures),
		Entries:             atomic.LoadInt64(&sc.stats.Entries),
	}
}

// LocalMetrics returns the metrics of the local value cache.
func (sc *SyncCoordinator) LocalMetrics() LocalCacheMetrics {
	return sc.local.Metrics()
}

// Policies returns the coordinator's policy table.
func (sc *SyncCoordinator) Policies() *policy.Table {
	return sc.policies
}

func (sc *SyncCoordinator) lookupFresh(q Query) (any, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	e := sc.entries[q.Key.String()]
	if e == nil {
		return nil, false
	}
	e.remember(q)
	if !e.fresh(sc.now()) {
		return nil, false
	}
	v, ok := sc.local.Get(e.id)
	if !ok {
		// evicted from the local cache
		e.hasValue = false
		return nil, false
	}
	return v, true
}

// hydrate restores a cold entry from a persisted snapshot that is still
// fresh under the key's policy.
func (sc *SyncCoordinator) hydrate(ctx context.Context, q Query) (any, bool) {
	if sc.store == nil || q.Decode == nil {
		return nil, false
	}
	k := q.Key.String()

	sc.mu.Lock()
	var gen uint64
	e := sc.entries[k]
	if e != nil {
		if e.hasValue {
			sc.mu.Unlock()
			return nil, false
		}
		gen = e.generation
	}
	sc.mu.Unlock()

	data, err := sc.store.Get(ctx, k)
	if err != nil {
		if sc.options.DebugMode {
			sc.logger.Debug("Hydrate: no snapshot", "key", k, "error", err)
		}
		return nil, false
	}
	var snap snapshot
	if err := sc.serializer.Unmarshal(data, &snap); err != nil {
		sc.reportError(fmt.Errorf("decode snapshot %s: %w", k, err), "Hydrate: snapshot decode failed", "key", k)
		return nil, false
	}
	if sc.now().Sub(snap.FetchedAt) >= sc.policies.ForKey(q.Key).Stale {
		if sc.options.DebugMode {
			sc.logger.Debug("Hydrate: snapshot is stale", "key", k, "fetchedAt", snap.FetchedAt)
		}
		return nil, false
	}
	v, err := q.Decode(snap.Value)
	if err != nil {
		sc.reportError(fmt.Errorf("decode snapshot %s: %w", k, err), "Hydrate: value decode failed", "key", k)
		return nil, false
	}

	atomic.AddInt64(&sc.stats.Hydrations, 1)
	if sc.options.DebugMode {
		sc.logger.Debug("Hydrate: restored from store", "key", k)
	}
	return sc.commitFetch(q, gen, v, snap.FetchedAt, false), true
}

func (sc *SyncCoordinator) fetchAndStore(ctx context.Context, q Query) (any, error) {
	k := q.Key.String()

	// the entry exists while the fetch is in flight so invalidations bump
	// its generation
	sc.mu.Lock()
	e := sc.entries[k]
	if e == nil {
		e = sc.newEntryLocked(q)
	}
	gen := e.generation
	sc.mu.Unlock()

	v, err := sc.fetchWithRetry(ctx, q)
	if err != nil {
		sc.mu.Lock()
		if e := sc.entries[k]; e != nil {
			e.lastErr = err
		}
		sc.mu.Unlock()
		sc.handleFailure(err)
		return nil, err
	}
	return sc.commitFetch(q, gen, v, sc.now(), true), nil
}

// fetchWithRetry applies the key's read retry policy. Mutations never come
// through here.
func (sc *SyncCoordinator) fetchWithRetry(ctx context.Context, q Query) (any, error) {
	retry := sc.policies.ForKey(q.Key).Retry
	for attempt := 0; ; attempt++ {
		atomic.AddInt64(&sc.stats.Fetches, 1)
		v, err := q.Fetch(ctx)
		if err == nil {
			return v, nil
		}
		atomic.AddInt64(&sc.stats.FetchErrors, 1)
		if !retry.ShouldRetry(attempt, err) {
			return nil, err
		}

		atomic.AddInt64(&sc.stats.Retries, 1)
		delay := retry.Backoff(attempt)
		if sc.options.DebugMode {
			sc.logger.Debug("Fetch: retrying", "key", q.Key.String(), "attempt", attempt+1, "delay", delay, "error", err)
		}
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %w", ctx.Err(), err)
		case <-t.C:
		}
	}
}

// commitFetch stores a fetched value unless a newer mutation response was
// adopted while the fetch was in flight. A fetch that raced an invalidation
// is stored locally but leaves the entry stale and is not persisted.
func (sc *SyncCoordinator) commitFetch(q Query, gen uint64, v any, fetchedAt time.Time, persist bool) any {
	k := q.Key.String()

	sc.mu.Lock()
	e := sc.entries[k]
	if e == nil {
		e = sc.newEntryLocked(q)
	}
	e.remember(q)
	if e.generation != gen && e.hasValue && !e.stale {
		if cur, ok := sc.local.Get(k); ok {
			sc.mu.Unlock()
			if sc.options.DebugMode {
				sc.logger.Debug("Fetch: discarded, newer value adopted", "key", k)
			}
			return cur
		}
	}
	sc.local.Set(k, v, 1)
	e.hasValue = true
	e.fetchedAt = fetchedAt
	e.lastErr = nil
	current := e.generation == gen
	if current {
		e.stale = false
	}
	listeners := e.listeners()
	sc.armRefetchLocked(e)
	sc.mu.Unlock()

	// a value that raced an invalidation never reaches the Store
	if persist && current {
		sc.persist(sc.ctx, k, v, fetchedAt)
		sc.mu.Lock()
		raced := e.generation != gen
		sc.mu.Unlock()
		if raced {
			sc.forget(sc.ctx, []string{k})
		}
	}
	sc.deliver(listeners, Update{Key: q.Key, Value: v, FetchedAt: fetchedAt})
	return v
}

func (sc *SyncCoordinator) newEntryLocked(q Query) *entry {
	e := &entry{
		key:       q.Key,
		id:        q.Key.String(),
		policy:    sc.policies.ForKey(q.Key),
		fetch:     q.Fetch,
		decode:    q.Decode,
		observers: make(map[uint64]Listener),
	}
	sc.entries[e.id] = e
	atomic.AddInt64(&sc.stats.Entries, 1)
	sc.scheduleRetentionLocked(e)
	return e
}

func (sc *SyncCoordinator) unobserve(e *entry, id uint64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(e.observers, id)
	if len(e.observers) > 0 || sc.entries[e.id] != e {
		return
	}
	if e.refetch != nil {
		e.refetch.Stop()
		e.refetch = nil
	}
	sc.scheduleRetentionLocked(e)
	if sc.options.DebugMode {
		sc.logger.Debug("Observe: last listener removed", "key", e.id, "retention", e.policy.Retention)
	}
}

func (sc *SyncCoordinator) scheduleRetentionLocked(e *entry) {
	if e.retention != nil {
		e.retention.Stop()
		e.retention = nil
	}
	if atomic.LoadInt32(&sc.closed) != 0 {
		return
	}
	d := e.policy.Retention
	if d <= 0 {
		d = policy.DefaultRetention
	}
	e.retention = time.AfterFunc(d, func() { sc.expire(e) })
}

// expire removes an unobserved entry whose retention elapsed.
func (sc *SyncCoordinator) expire(e *entry) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.entries[e.id] != e || len(e.observers) > 0 {
		return
	}
	e.stopTimers()
	delete(sc.entries, e.id)
	sc.local.Delete(e.id)
	atomic.AddInt64(&sc.stats.Entries, -1)
	if sc.options.DebugMode {
		sc.logger.Debug("Retention: entry removed", "key", e.id)
	}
}

func (sc *SyncCoordinator) armRefetchLocked(e *entry) {
	if e.refetch != nil {
		e.refetch.Stop()
		e.refetch = nil
	}
	if len(e.observers) == 0 || e.policy.RefetchInterval <= 0 || atomic.LoadInt32(&sc.closed) != 0 {
		return
	}
	id := e.id
	e.refetch = time.AfterFunc(e.policy.RefetchInterval, func() { sc.refreshInBackground(id) })
}

func (sc *SyncCoordinator) refreshInBackground(key string) {
	sc.mu.Lock()
	if atomic.LoadInt32(&sc.closed) != 0 {
		sc.mu.Unlock()
		return
	}
	sc.bg.Add(1)
	sc.mu.Unlock()

	go func() {
		defer sc.bg.Done()
		sc.refresh(key)
	}()
}

func (sc *SyncCoordinator) refreshAll(ks []string) {
	for _, k := range ks {
		sc.refreshInBackground(k)
	}
}

// refresh re-fetches an entry with its remembered fetch function and tells
// observers about a failure.
func (sc *SyncCoordinator) refresh(key string) {
	sc.mu.Lock()
	e := sc.entries[key]
	if e == nil || e.fetch == nil {
		sc.mu.Unlock()
		return
	}
	q := e.query()
	sc.mu.Unlock()

	ctx, cancel := context.WithTimeout(sc.ctx, sc.options.ContextTimeout)
	defer cancel()

	_, err, _ := sc.reads.Do(key, func() (any, error) {
		return sc.fetchAndStore(ctx, q)
	})
	if err == nil {
		return
	}
	sc.reportError(err, "Refresh: fetch failed", "key", key)

	sc.mu.Lock()
	var listeners []Listener
	if e := sc.entries[key]; e != nil {
		listeners = e.listeners()
		sc.armRefetchLocked(e)
	}
	sc.mu.Unlock()
	sc.deliver(listeners, Update{Key: q.Key, Err: err})
}

func (sc *SyncCoordinator) deliver(listeners []Listener, u Update) {
	for _, l := range listeners {
		l(u)
	}
}

// persist writes a snapshot of a value to the Store.
func (sc *SyncCoordinator) persist(ctx context.Context, key string, v any, fetchedAt time.Time) {
	if sc.store == nil {
		return
	}
	data, err := sc.serializer.Marshal(v)
	if err != nil {
		sc.reportError(err, "Persist: serialization failed", "key", key)
		return
	}
	blob, err := sc.serializer.Marshal(snapshot{FetchedAt: fetchedAt, Value: data})
	if err != nil {
		sc.reportError(err, "Persist: serialization failed", "key", key)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.options.ContextTimeout)
	defer cancel()
	if err := sc.store.Set(ctx, key, blob); err != nil {
		sc.reportError(err, "Persist: failed to store snapshot", "key", key)
	}
}

// forget deletes persisted snapshots of invalidated keys.
func (sc *SyncCoordinator) forget(ctx context.Context, ks []string) {
	if sc.store == nil || len(ks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.options.ContextTimeout)
	defer cancel()
	for _, k := range ks {
		if err := sc.store.Delete(ctx, k); err != nil {
			sc.reportError(err, "Persist: failed to delete snapshot", "key", k)
		}
	}
}

// handleFailure routes authorization failures to the host.
func (sc *SyncCoordinator) handleFailure(err error) {
	if transport.IsUnauthorized(err) && sc.options.OnUnauthorized != nil {
		sc.options.OnUnauthorized(err)
	}
}

func (sc *SyncCoordinator) reportError(err error, msg string, args ...any) {
	if sc.options.OnError != nil {
		sc.options.OnError(err)
	}
	if sc.options.DebugMode {
		sc.logger.Error(msg, append(args, "error", err)...)
	}
}

// step runs fn in a child span named name.
func (sc *SyncCoordinator) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := sc.tracer.Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
