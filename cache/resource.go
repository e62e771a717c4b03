package cache

import (
	"context"
	"fmt"

	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/transport"
	"github.com/huykn/entity-sync/types"
)

// ResourceOption configures a Resource.
type ResourceOption func(*resourceOptions)

type resourceOptions struct {
	partial bool
}

// WithPartialResponses declares that the client's mutation responses do not
// carry the full entity. Nothing is adopted; detail views are invalidated.
func WithPartialResponses() ResourceOption {
	return func(o *resourceOptions) { o.partial = true }
}

// Resource is the typed view of one entity kind E with status enum S on
// top of a coordinator and a transport client.
type Resource[E types.Entity, S ~string] struct {
	sc      *SyncCoordinator
	kind    types.Kind
	client  transport.Client[E]
	partial bool
}

// NewResource binds client to sc for kind.
func NewResource[E types.Entity, S ~string](sc *SyncCoordinator, kind types.Kind, client transport.Client[E], opts ...ResourceOption) *Resource[E, S] {
	var o resourceOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Resource[E, S]{sc: sc, kind: kind, client: client, partial: o.partial}
}

// Kind returns the entity kind of the resource.
func (r *Resource[E, S]) Kind() types.Kind { return r.kind }

// ListQuery is the query of a filtered list.
func (r *Resource[E, S]) ListQuery(filters keys.Params) Query {
	return Query{
		Key: keys.List(r.kind, filters),
		Fetch: func(ctx context.Context) (any, error) {
			return r.client.List(ctx, filters)
		},
		Decode: r.decodePage,
	}
}

// ByRelationQuery is the query of the entities referencing rel.
func (r *Resource[E, S]) ByRelationQuery(rel types.Relation, filters keys.Params) Query {
	merged := make(keys.Params, len(filters)+1)
	for k, v := range filters {
		merged[k] = v
	}
	merged[rel.Name] = rel.ID
	return Query{
		Key: keys.ByRelation(r.kind, rel, filters),
		Fetch: func(ctx context.Context) (any, error) {
			return r.client.List(ctx, merged)
		},
		Decode: r.decodePage,
	}
}

// DetailQuery is the query of one entity.
func (r *Resource[E, S]) DetailQuery(id string) Query {
	return Query{
		Key: keys.Detail(r.kind, id),
		Fetch: func(ctx context.Context) (any, error) {
			return r.client.Get(ctx, id)
		},
		Decode: func(data []byte) (any, error) {
			var e E
			if err := r.sc.serializer.Unmarshal(data, &e); err != nil {
				return nil, err
			}
			return e, nil
		},
	}
}

func (r *Resource[E, S]) decodePage(data []byte) (any, error) {
	var p transport.Page[E]
	if err := r.sc.serializer.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// List reads a filtered list.
func (r *Resource[E, S]) List(ctx context.Context, filters keys.Params) (transport.Page[E], error) {
	return readAs[transport.Page[E]](ctx, r.sc, r.ListQuery(filters))
}

// ByRelation reads the entities referencing rel, e.g. the orders of a table.
func (r *Resource[E, S]) ByRelation(ctx context.Context, rel types.Relation, filters keys.Params) (transport.Page[E], error) {
	return readAs[transport.Page[E]](ctx, r.sc, r.ByRelationQuery(rel, filters))
}

// Get reads one entity.
func (r *Resource[E, S]) Get(ctx context.Context, id string) (E, error) {
	return readAs[E](ctx, r.sc, r.DetailQuery(id))
}

// GetMany reads several entities concurrently.
func (r *Resource[E, S]) GetMany(ctx context.Context, ids ...string) ([]E, error) {
	qs := make([]Query, 0, len(ids))
	for _, id := range ids {
		qs = append(qs, r.DetailQuery(id))
	}
	if err := r.sc.Prefetch(ctx, qs...); err != nil {
		return nil, err
	}
	out := make([]E, 0, len(ids))
	for _, q := range qs {
		e, err := readAs[E](ctx, r.sc, q)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Peek returns the cached entity without a network call.
func (r *Resource[E, S]) Peek(id string) (E, bool) {
	v, ok := r.sc.Peek(keys.Detail(r.kind, id))
	if !ok {
		var zero E
		return zero, false
	}
	e, ok := v.(E)
	return e, ok
}

// Create creates an entity.
func (r *Resource[E, S]) Create(ctx context.Context, payload any) (E, error) {
	return r.mutate(ctx, Mutation{
		Kind: r.kind,
		Do: func(ctx context.Context) (types.Entity, error) {
			return r.client.Create(ctx, payload)
		},
	})
}

// Update changes an entity's fields. touched lists relations the update
// moved the entity away from.
func (r *Resource[E, S]) Update(ctx context.Context, id string, payload any, touched ...types.Relation) (E, error) {
	return r.mutate(ctx, Mutation{
		Kind:    r.kind,
		ID:      id,
		Touched: touched,
		Do: func(ctx context.Context) (types.Entity, error) {
			return r.client.Update(ctx, id, payload)
		},
	})
}

// SetStatus moves current to status to. An illegal transition fails
// before any transport call.
func (r *Resource[E, S]) SetStatus(ctx context.Context, current E, to S) (E, error) {
	id := current.EntityID()
	return r.mutate(ctx, Mutation{
		Kind:       r.kind,
		ID:         id,
		Transition: &Transition{From: current.EntityStatus(), To: string(to)},
		Do: func(ctx context.Context) (types.Entity, error) {
			return r.client.SetStatus(ctx, id, string(to))
		},
	})
}

// SetStatusByID reads the entity and moves it to status to.
func (r *Resource[E, S]) SetStatusByID(ctx context.Context, id string, to S) (E, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		var zero E
		return zero, err
	}
	return r.SetStatus(ctx, current, to)
}

// BulkSetStatus moves every id to status to in one transport call.
func (r *Resource[E, S]) BulkSetStatus(ctx context.Context, ids []string, to S) (BulkResult, error) {
	return r.sc.BulkMutate(ctx, BulkMutation{
		Kind:    r.kind,
		IDs:     ids,
		To:      string(to),
		Partial: r.partial,
		Detail:  r.DetailQuery,
		Do: func(ctx context.Context, ids []string) (BulkOutcome, error) {
			res, err := r.client.BulkSetStatus(ctx, ids, string(to))
			if err != nil {
				return BulkOutcome{}, err
			}
			out := BulkOutcome{Success: res.Success, Failed: res.Failed}
			for _, e := range res.Entities {
				out.Entities = append(out.Entities, e)
			}
			return out, nil
		},
	})
}

// ObserveList delivers every change of a list view to fn.
func (r *Resource[E, S]) ObserveList(filters keys.Params, fn func(transport.Page[E], error)) (func(), error) {
	return observeAs(r.sc, r.ListQuery(filters), fn)
}

// ObserveByRelation delivers every change of a byRelation view to fn.
func (r *Resource[E, S]) ObserveByRelation(rel types.Relation, filters keys.Params, fn func(transport.Page[E], error)) (func(), error) {
	return observeAs(r.sc, r.ByRelationQuery(rel, filters), fn)
}

// ObserveDetail delivers every change of one entity to fn.
func (r *Resource[E, S]) ObserveDetail(id string, fn func(E, error)) (func(), error) {
	return observeAs(r.sc, r.DetailQuery(id), fn)
}

func (r *Resource[E, S]) mutate(ctx context.Context, m Mutation) (E, error) {
	var zero E
	m.Partial = r.partial
	m.Detail = r.DetailQuery
	ent, err := r.sc.Mutate(ctx, m)
	if err != nil {
		return zero, err
	}
	if ent == nil {
		return zero, nil
	}
	e, ok := ent.(E)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedValue, ent)
	}
	return e, nil
}

// ReadAggregate reads a metric computed over kind, e.g. today's revenue.
func ReadAggregate[T any](ctx context.Context, sc *SyncCoordinator, kind types.Kind, metric string, params keys.Params, fetch func(context.Context) (T, error)) (T, error) {
	return readAs[T](ctx, sc, aggregateQuery(sc, kind, metric, params, fetch))
}

// ObserveAggregate delivers every change of a metric to fn.
func ObserveAggregate[T any](sc *SyncCoordinator, kind types.Kind, metric string, params keys.Params, fetch func(context.Context) (T, error), fn func(T, error)) (func(), error) {
	return observeAs(sc, aggregateQuery(sc, kind, metric, params, fetch), fn)
}

func aggregateQuery[T any](sc *SyncCoordinator, kind types.Kind, metric string, params keys.Params, fetch func(context.Context) (T, error)) Query {
	return Query{
		Key: keys.Aggregate(kind, metric, params),
		Fetch: func(ctx context.Context) (any, error) {
			return fetch(ctx)
		},
		Decode: func(data []byte) (any, error) {
			var v T
			if err := sc.serializer.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

func readAs[T any](ctx context.Context, sc *SyncCoordinator, q Query) (T, error) {
	var zero T
	v, err := sc.Read(ctx, q)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s holds %T", ErrUnexpectedValue, q.Key, v)
	}
	return t, nil
}

func observeAs[T any](sc *SyncCoordinator, q Query, fn func(T, error)) (func(), error) {
	return sc.Observe(q, func(u Update) {
		var zero T
		if u.Err != nil {
			fn(zero, u.Err)
			return
		}
		t, ok := u.Value.(T)
		if !ok {
			fn(zero, fmt.Errorf("%w: %s holds %T", ErrUnexpectedValue, u.Key, u.Value))
			return
		}
		fn(t, nil)
	})
}
