package cache

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/lifecycle"
	"github.com/huykn/entity-sync/types"
)

// Transition is the status change a mutation performs.
type Transition struct {
	From string
	To   string
}

// Mutation is a single-entity write.
type Mutation struct {
	Kind types.Kind

	// ID is the target entity; empty for creates.
	ID string

	// Transition, when set, is checked against the kind's lifecycle before
	// any transport call.
	Transition *Transition

	// Do performs the transport call. It runs to completion even if the
	// caller's context is cancelled.
	Do func(ctx context.Context) (types.Entity, error)

	// Partial marks responses that do not carry the whole entity; they are
	// not adopted and the detail view is invalidated instead.
	Partial bool

	// Touched lists relations the write affected beyond the entity's own,
	// e.g. the table an order moved away from.
	Touched []types.Relation

	// Detail builds the detail query of an id so adopted entries can be
	// refetched later.
	Detail func(id string) Query
}

// BulkMutation is one status change applied to many entities.
type BulkMutation struct {
	Kind    types.Kind
	IDs     []string
	To      string
	Do      func(ctx context.Context, ids []string) (BulkOutcome, error)
	Partial bool
	Touched []types.Relation
	Detail  func(id string) Query
}

// BulkOutcome is what the transport reports for a bulk call.
type BulkOutcome struct {
	Success  []string
	Failed   []string
	Entities []types.Entity
}

// BulkResult is the outcome of BulkMutate. Failed includes ids rejected
// before the transport call; their reasons are in Rejected.
type BulkResult struct {
	Kind     types.Kind
	Success  []string
	Failed   []string
	Rejected map[string]error
	Entities []types.Entity
}

// Err returns a *PartialBulkFailure when any id failed.
func (r BulkResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &PartialBulkFailure{Kind: r.Kind, Failed: append([]string(nil), r.Failed...)}
}

// commitPlan is everything a successful write changes in the cache.
type commitPlan struct {
	kind       types.Kind
	mutationID string
	adopt      []types.Entity
	stale      []string
	// failed ids only lose their detail views; their relations stay fresh
	failed    []string
	relations []types.Relation
	detail    func(id string) Query
}

// Mutate validates, sends and commits a single-entity write. On failure
// the cache is left untouched.
func (sc *SyncCoordinator) Mutate(ctx context.Context, m Mutation) (types.Entity, error) {
	if atomic.LoadInt32(&sc.closed) != 0 {
		return nil, ErrCacheClosed
	}
	if m.Do == nil {
		return nil, ErrInvalidMutation
	}

	mutationID := uuid.NewString()
	ctx, span := sc.tracer.Start(ctx, "entitysync.mutate", trace.WithAttributes(
		attribute.String("entitysync.kind", string(m.Kind)),
		attribute.String("entitysync.entity_id", m.ID),
		attribute.String("entitysync.mutation_id", mutationID),
	))
	defer span.End()

	fail := func(err error) (types.Entity, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		sc.handleFailure(err)
		sc.sink.OnMutationFailure(m.Kind, err)
		if sc.options.DebugMode {
			sc.logger.Debug("Mutate: failed", "kind", m.Kind, "id", m.ID, "error", err)
		}
		return nil, err
	}

	if err := sc.step(ctx, "validate", func(context.Context) error { return validateTransition(m.Kind, m.Transition) }); err != nil {
		if lifecycle.IsInvalidTransition(err) {
			atomic.AddInt64(&sc.stats.RejectedTransitions, 1)
		}
		return fail(err)
	}

	if sc.options.SerializeMutations && m.ID != "" {
		if !sc.acquire(m.Kind, m.ID) {
			return fail(fmt.Errorf("%w: %s %s", ErrMutationInFlight, m.Kind, m.ID))
		}
		defer sc.release(m.Kind, m.ID)
	}

	var ent types.Entity
	err := sc.step(ctx, "transport", func(ctx context.Context) error {
		var err error
		ent, err = m.Do(context.WithoutCancel(ctx))
		if isNilEntity(ent) {
			ent = nil
		}
		return err
	})
	if err != nil {
		atomic.AddInt64(&sc.stats.MutationFailures, 1)
		return fail(err)
	}

	plan := commitPlan{kind: m.Kind, mutationID: mutationID, relations: append([]types.Relation(nil), m.Touched...), detail: m.Detail}
	switch {
	case ent == nil:
		if m.ID != "" {
			plan.stale = []string{m.ID}
		}
	case m.Partial:
		plan.stale = []string{ent.EntityID()}
		plan.relations = append(plan.relations, ent.EntityRelations()...)
	default:
		plan.adopt = []types.Entity{ent}
	}
	_ = sc.step(ctx, "commit", func(ctx context.Context) error {
		sc.commit(ctx, plan)
		return nil
	})

	if sc.options.DebugMode {
		sc.logger.Debug("Mutate: committed", "kind", m.Kind, "id", m.ID, "mutation", mutationID)
	}
	if ent != nil {
		sc.sink.OnMutationSuccess(m.Kind, ent)
	}
	return ent, nil
}

// BulkMutate moves many entities to one status. Ids whose cached status
// cannot reach the target are rejected locally; the rest are sent in one
// transport call. Whatever succeeded is committed even when some ids
// failed; the failures are reported in the result, not as an error.
func (sc *SyncCoordinator) BulkMutate(ctx context.Context, m BulkMutation) (BulkResult, error) {
	res := BulkResult{Kind: m.Kind}
	if atomic.LoadInt32(&sc.closed) != 0 {
		return res, ErrCacheClosed
	}
	if m.Do == nil {
		return res, ErrInvalidMutation
	}
	ids := dedupe(m.IDs)
	if len(ids) == 0 {
		return res, nil
	}

	mutationID := uuid.NewString()
	ctx, span := sc.tracer.Start(ctx, "entitysync.mutate", trace.WithAttributes(
		attribute.String("entitysync.kind", string(m.Kind)),
		attribute.Int("entitysync.ids", len(ids)),
		attribute.String("entitysync.to", m.To),
		attribute.String("entitysync.mutation_id", mutationID),
	))
	defer span.End()

	fail := func(err error) (BulkResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		sc.handleFailure(err)
		sc.sink.OnMutationFailure(m.Kind, err)
		return BulkResult{Kind: m.Kind}, err
	}

	var send []string
	err := sc.step(ctx, "validate", func(context.Context) error {
		var err error
		send, res.Rejected, err = sc.prevalidate(m.Kind, ids, m.To)
		return err
	})
	if err != nil {
		if lifecycle.IsInvalidTransition(err) {
			atomic.AddInt64(&sc.stats.RejectedTransitions, int64(len(ids)))
		}
		return fail(err)
	}
	atomic.AddInt64(&sc.stats.RejectedTransitions, int64(len(res.Rejected)))

	if sc.options.SerializeMutations {
		var locked []string
		for _, id := range send {
			if sc.acquire(m.Kind, id) {
				locked = append(locked, id)
				continue
			}
			if res.Rejected == nil {
				res.Rejected = make(map[string]error)
			}
			res.Rejected[id] = fmt.Errorf("%w: %s %s", ErrMutationInFlight, m.Kind, id)
		}
		defer func() {
			for _, id := range locked {
				sc.release(m.Kind, id)
			}
		}()
		send = locked
	}

	if len(send) == 0 {
		res.Failed = append(res.Failed, ids...)
		span.SetAttributes(attribute.Int("entitysync.failed", len(res.Failed)))
		sc.sink.OnMutationFailure(m.Kind, res.Err())
		return res, nil
	}

	var out BulkOutcome
	err = sc.step(ctx, "transport", func(ctx context.Context) error {
		var err error
		out, err = m.Do(context.WithoutCancel(ctx), send)
		return err
	})
	if err != nil {
		atomic.AddInt64(&sc.stats.MutationFailures, 1)
		return fail(err)
	}

	succeeded := make(map[string]bool, len(out.Success))
	for _, id := range out.Success {
		succeeded[id] = true
	}
	for _, id := range out.Failed {
		delete(succeeded, id)
	}
	sent := make(map[string]bool, len(send))
	for _, id := range send {
		sent[id] = true
	}
	byID := make(map[string]types.Entity, len(out.Entities))
	for _, ent := range out.Entities {
		if !isNilEntity(ent) {
			byID[ent.EntityID()] = ent
		}
	}

	plan := commitPlan{kind: m.Kind, mutationID: mutationID, relations: append([]types.Relation(nil), m.Touched...), detail: m.Detail}
	for _, id := range ids {
		switch {
		case sent[id] && succeeded[id]:
			res.Success = append(res.Success, id)
			ent, ok := byID[id]
			if ok {
				res.Entities = append(res.Entities, ent)
			}
			if ok && !m.Partial {
				plan.adopt = append(plan.adopt, ent)
				continue
			}
			if ok {
				plan.relations = append(plan.relations, ent.EntityRelations()...)
			}
			plan.stale = append(plan.stale, id)
		default:
			res.Failed = append(res.Failed, id)
			if sent[id] && sc.options.FailedBulk == FailedBulkMarkStale {
				plan.failed = append(plan.failed, id)
			}
		}
	}

	_ = sc.step(ctx, "commit", func(ctx context.Context) error {
		sc.commit(ctx, plan)
		return nil
	})

	span.SetAttributes(
		attribute.Int("entitysync.succeeded", len(res.Success)),
		attribute.Int("entitysync.failed", len(res.Failed)),
	)
	if sc.options.DebugMode {
		sc.logger.Debug("BulkMutate: committed", "kind", m.Kind, "succeeded", len(res.Success), "failed", len(res.Failed), "mutation", mutationID)
	}
	for _, ent := range res.Entities {
		sc.sink.OnMutationSuccess(m.Kind, ent)
	}
	if err := res.Err(); err != nil {
		sc.sink.OnMutationFailure(m.Kind, err)
	}
	return res, nil
}

// Invalidate marks every cached key matching p stale, refetches the
// observed ones and tells peers. It returns the invalidated keys.
func (sc *SyncCoordinator) Invalidate(ctx context.Context, p keys.Predicate) []string {
	if atomic.LoadInt32(&sc.closed) != 0 || p == nil {
		return nil
	}
	sc.mu.Lock()
	invalidated, refetch := sc.markStaleLocked(p, nil)
	sc.mu.Unlock()

	sc.forget(ctx, invalidated)
	sc.refreshAll(refetch)
	if len(invalidated) > 0 {
		sc.publish(ctx, InvalidationEvent{
			Keys:   invalidated,
			Sender: sc.options.PodID,
			Action: ActionInvalidate,
		})
	}
	return invalidated
}

func validateTransition(kind types.Kind, t *Transition) error {
	if t == nil {
		return nil
	}
	g, ok := lifecycle.For(kind)
	if !ok {
		return fmt.Errorf("%w: %s", lifecycle.ErrUnknownKind, kind)
	}
	return g.Check(t.From, t.To)
}

// prevalidate splits ids into those worth sending and those whose fresh
// cached status cannot reach to. A target no status can reach rejects the
// whole call.
func (sc *SyncCoordinator) prevalidate(kind types.Kind, ids []string, to string) ([]string, map[string]error, error) {
	if to == "" {
		return ids, nil, nil
	}
	g, ok := lifecycle.For(kind)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", lifecycle.ErrUnknownKind, kind)
	}
	if !g.Reaches(to) {
		return nil, nil, &lifecycle.InvalidTransitionError{Kind: kind, From: "*", To: to}
	}

	now := sc.now()
	sc.mu.Lock()
	defer sc.mu.Unlock()

	send := make([]string, 0, len(ids))
	var rejected map[string]error
	for _, id := range ids {
		ks := keys.Detail(kind, id).String()
		e := sc.entries[ks]
		if e == nil || !e.fresh(now) {
			send = append(send, id)
			continue
		}
		v, _ := sc.local.Get(ks)
		ent, ok := v.(types.Entity)
		if !ok {
			send = append(send, id)
			continue
		}
		if err := g.Check(ent.EntityStatus(), to); err != nil {
			if rejected == nil {
				rejected = make(map[string]error)
			}
			rejected[id] = err
			continue
		}
		send = append(send, id)
	}
	return send, rejected, nil
}

// commit adopts full responses into their detail entries and marks the
// invalidation set stale in one critical section, then persists, notifies
// observers, refetches and publishes outside of it.
func (sc *SyncCoordinator) commit(ctx context.Context, p commitPlan) {
	type adopted struct {
		key       keys.Key
		value     types.Entity
		listeners []Listener
	}
	now := sc.now()
	var updates []adopted
	skip := make(map[string]bool, len(p.adopt))
	rels := append([]types.Relation(nil), p.relations...)
	ids := append(append([]string(nil), p.stale...), p.failed...)

	sc.mu.Lock()
	for _, ent := range p.adopt {
		k := keys.Detail(p.kind, ent.EntityID())
		ks := k.String()
		rels = append(rels, sc.cachedRelationsLocked(ks)...)
		rels = append(rels, ent.EntityRelations()...)

		e := sc.entries[ks]
		if e == nil {
			q := Query{Key: k}
			if p.detail != nil {
				q = p.detail(ent.EntityID())
			}
			e = sc.newEntryLocked(q)
		}
		sc.local.Set(ks, ent, 1)
		e.hasValue = true
		e.fetchedAt = now
		e.stale = false
		e.lastErr = nil
		e.generation++
		skip[ks] = true
		ids = append(ids, ent.EntityID())
		updates = append(updates, adopted{key: k, value: ent, listeners: e.listeners()})
	}
	for _, id := range p.stale {
		rels = append(rels, sc.cachedRelationsLocked(keys.Detail(p.kind, id).String())...)
	}
	rels = dedupeRelations(rels)

	pred := mutationPredicate(p.kind, append(append([]string(nil), p.stale...), p.failed...), rels)
	invalidated, refetch := sc.markStaleLocked(pred, skip)
	sc.mu.Unlock()

	atomic.AddInt64(&sc.stats.Adoptions, int64(len(updates)))
	if sc.options.DebugMode {
		sc.logger.Debug("Commit: applied", "kind", p.kind, "adopted", len(updates), "invalidated", len(invalidated))
	}

	for _, u := range updates {
		sc.persist(ctx, u.key.String(), u.value, now)
		sc.deliver(u.listeners, Update{Key: u.key, Value: u.value, FetchedAt: now})
	}
	sc.forget(ctx, invalidated)
	sc.refreshAll(refetch)

	published := make([]string, 0, len(updates)+len(invalidated))
	for _, u := range updates {
		published = append(published, u.key.String())
	}
	published = append(published, invalidated...)
	sc.publish(ctx, InvalidationEvent{
		Keys:       published,
		Kind:       p.kind,
		IDs:        dedupe(ids),
		Relations:  rels,
		Sender:     sc.options.PodID,
		Action:     ActionInvalidate,
		MutationID: p.mutationID,
	})
}

// isNilEntity reports whether ent is nil or wraps a nil pointer, as a
// client returning (*T)(nil) with a nil error produces.
func isNilEntity(ent types.Entity) bool {
	if ent == nil {
		return true
	}
	switch v := reflect.ValueOf(ent); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// mutationPredicate selects the views a write to kind invalidates: every
// list and aggregate of the kind, the details of ids and every byRelation
// view referencing one of rels.
func mutationPredicate(kind types.Kind, ids []string, rels []types.Relation) keys.Predicate {
	preds := []keys.Predicate{
		keys.InFamily(kind, keys.ViewList),
		keys.InFamily(kind, keys.ViewAggregate),
	}
	for _, id := range ids {
		preds = append(preds, keys.DetailOf(kind, id))
	}
	for _, r := range rels {
		preds = append(preds, keys.References(kind, r))
	}
	return keys.Any(preds...)
}

func (sc *SyncCoordinator) cachedRelationsLocked(ks string) []types.Relation {
	e := sc.entries[ks]
	if e == nil || !e.hasValue {
		return nil
	}
	v, _ := sc.local.Get(ks)
	if ent, ok := v.(types.Entity); ok {
		return ent.EntityRelations()
	}
	return nil
}

// markStaleLocked marks every entry matching pred stale and bumps its
// generation. It returns the invalidated keys and the observed subset to
// refetch eagerly.
func (sc *SyncCoordinator) markStaleLocked(pred keys.Predicate, skip map[string]bool) (invalidated, refetch []string) {
	for ks, e := range sc.entries {
		if skip[ks] || !pred(e.key) {
			continue
		}
		e.stale = true
		e.generation++
		// later reads must not join a fetch that started before this point
		sc.reads.Forget(ks)
		invalidated = append(invalidated, ks)
		if len(e.observers) > 0 && e.fetch != nil {
			refetch = append(refetch, ks)
		}
	}
	sort.Strings(invalidated)
	sort.Strings(refetch)
	atomic.AddInt64(&sc.stats.Invalidations, int64(len(invalidated)))
	return invalidated, refetch
}

func (sc *SyncCoordinator) publish(ctx context.Context, event InvalidationEvent) {
	if sc.synchronizer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.options.ContextTimeout)
	defer cancel()
	if err := sc.synchronizer.Publish(ctx, event); err != nil {
		if sc.options.OnError != nil {
			sc.options.OnError(err)
		}
		if sc.options.DebugMode {
			sc.logger.Warn("Publish: failed to publish invalidation event", "kind", event.Kind, "keys", len(event.Keys), "error", err)
		}
	} else if sc.options.DebugMode {
		sc.logger.Debug("Publish: published invalidation event", "kind", event.Kind, "keys", len(event.Keys))
	}
}

// handleInvalidation applies an invalidation set received from a peer.
func (sc *SyncCoordinator) handleInvalidation(event InvalidationEvent) {
	if event.Sender == sc.options.PodID || atomic.LoadInt32(&sc.closed) != 0 {
		return
	}
	if sc.options.DebugMode {
		sc.logger.Info("Received synchronization event", "action", event.Action, "kind", event.Kind, "keys", len(event.Keys), "sender", event.Sender)
	}

	var pred keys.Predicate
	switch event.Action {
	case ActionSet, ActionInvalidate, ActionDelete:
		set := make(map[string]bool, len(event.Keys))
		for _, k := range event.Keys {
			set[k] = true
		}
		byKey := func(k keys.Key) bool { return set[k.String()] }
		if event.Kind == "" {
			pred = byKey
		} else {
			pred = keys.Any(byKey, mutationPredicate(event.Kind, event.IDs, event.Relations))
		}
	case ActionClear:
		pred = func(keys.Key) bool { return true }
	default:
		if sc.options.DebugMode {
			sc.logger.Warn("Sync: unknown action", "action", event.Action, "sender", event.Sender)
		}
		return
	}

	sc.mu.Lock()
	invalidated, refetch := sc.markStaleLocked(pred, nil)
	sc.mu.Unlock()

	atomic.AddInt64(&sc.stats.PeerInvalidations, int64(len(invalidated)))
	sc.refreshAll(refetch)
	if sc.options.DebugMode {
		sc.logger.Debug("Sync: marked keys stale", "count", len(invalidated), "refetching", len(refetch), "sender", event.Sender)
	}
}

func (sc *SyncCoordinator) acquire(kind types.Kind, id string) bool {
	k := string(kind) + "/" + id
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, busy := sc.inflight[k]; busy {
		return false
	}
	sc.inflight[k] = struct{}{}
	return true
}

func (sc *SyncCoordinator) release(kind types.Kind, id string) {
	sc.mu.Lock()
	delete(sc.inflight, string(kind)+"/"+id)
	sc.mu.Unlock()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func dedupeRelations(rels []types.Relation) []types.Relation {
	seen := make(map[types.Relation]bool, len(rels))
	out := make([]types.Relation, 0, len(rels))
	for _, r := range rels {
		if r.ID == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
