// Package fake is an in-memory transport.Client that records every call.
// It backs the coordinator tests and the runnable examples.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/lifecycle"
	"github.com/huykn/entity-sync/transport"
	"github.com/huykn/entity-sync/types"
)

// Operations recorded by the client.
const (
	OpList          = "list"
	OpGet           = "get"
	OpCreate        = "create"
	OpUpdate        = "update"
	OpSetStatus     = "set_status"
	OpBulkSetStatus = "bulk_set_status"
)

// Statusable is an entity that can produce a copy of itself in a new status.
type Statusable[E any] interface {
	types.Entity
	WithStatus(string) E
}

// Call is one recorded invocation.
type Call struct {
	Op      string
	ID      string
	IDs     []string
	Status  string
	Payload any
	Filters keys.Params
}

// Client is the in-memory system of record for one entity kind.
type Client[E Statusable[E]] struct {
	mu       sync.Mutex
	kind     types.Kind
	items    map[string]E
	calls    []Call
	failNext map[string][]error
	failAll  map[string]error
	failIDs  map[string]bool
	gates    map[string]<-chan struct{}
	create   func(id string, payload any) (E, error)
	update   func(current E, payload any) (E, error)
	nextID   int
	prefix   string
}

// New creates an empty client; created ids are prefix-1, prefix-2, ...
func New[E Statusable[E]](kind types.Kind, prefix string) *Client[E] {
	return &Client[E]{
		kind:     kind,
		items:    make(map[string]E),
		failNext: make(map[string][]error),
		failAll:  make(map[string]error),
		failIDs:  make(map[string]bool),
		gates:    make(map[string]<-chan struct{}),
		prefix:   prefix,
	}
}

// Seed stores items as if they had been created remotely.
func (c *Client[E]) Seed(items ...E) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		c.items[it.EntityID()] = it
	}
}

// OnCreate installs the constructor used by Create.
func (c *Client[E]) OnCreate(fn func(id string, payload any) (E, error)) {
	c.mu.Lock()
	c.create = fn
	c.mu.Unlock()
}

// OnUpdate installs the merge used by Update.
func (c *Client[E]) OnUpdate(fn func(current E, payload any) (E, error)) {
	c.mu.Lock()
	c.update = fn
	c.mu.Unlock()
}

// FailNext makes the next call of op return err.
func (c *Client[E]) FailNext(op string, err error) {
	c.mu.Lock()
	c.failNext[op] = append(c.failNext[op], err)
	c.mu.Unlock()
}

// FailAlways makes every call of op return err until cleared with nil.
func (c *Client[E]) FailAlways(op string, err error) {
	c.mu.Lock()
	if err == nil {
		delete(c.failAll, op)
	} else {
		c.failAll[op] = err
	}
	c.mu.Unlock()
}

// FailIDs makes bulk operations report ids as failed.
func (c *Client[E]) FailIDs(ids ...string) {
	c.mu.Lock()
	for _, id := range ids {
		c.failIDs[id] = true
	}
	c.mu.Unlock()
}

// Gate blocks calls of op until ch is closed or the call's context ends.
func (c *Client[E]) Gate(op string, ch <-chan struct{}) {
	c.mu.Lock()
	c.gates[op] = ch
	c.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (c *Client[E]) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallCount returns how many calls of op were recorded; an empty op counts all.
func (c *Client[E]) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if op == "" {
		return len(c.calls)
	}
	n := 0
	for _, call := range c.calls {
		if call.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (c *Client[E]) ResetCalls() {
	c.mu.Lock()
	c.calls = nil
	c.mu.Unlock()
}

// Item returns the stored entity.
func (c *Client[E]) Item(id string) (E, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[id]
	return it, ok
}

// Put overwrites a stored entity without recording a call, simulating a
// change made by another client.
func (c *Client[E]) Put(item E) {
	c.Seed(item)
}

func (c *Client[E]) enter(ctx context.Context, call Call) error {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	gate := c.gates[call.Op]
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if q := c.failNext[call.Op]; len(q) > 0 {
		c.failNext[call.Op] = q[1:]
		return q[0]
	}
	if err, ok := c.failAll[call.Op]; ok {
		return err
	}
	return nil
}

// List returns the items matching the status and relation filters.
func (c *Client[E]) List(ctx context.Context, filters keys.Params) (transport.Page[E], error) {
	if err := c.enter(ctx, Call{Op: OpList, Filters: filters}); err != nil {
		return transport.Page[E]{}, err
	}

	want := keys.List(c.kind, filters)
	c.mu.Lock()
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var items []E
	for _, id := range ids {
		if matches(c.items[id], want) {
			items = append(items, c.items[id])
		}
	}
	c.mu.Unlock()

	return transport.Page[E]{Items: items, Total: len(items), Page: 1, Limit: len(items)}, nil
}

// Get returns one item or a 404.
func (c *Client[E]) Get(ctx context.Context, id string) (E, error) {
	var zero E
	if err := c.enter(ctx, Call{Op: OpGet, ID: id}); err != nil {
		return zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[id]
	if !ok {
		return zero, transport.NewError(404, fmt.Sprintf("%s %s not found", c.kind, id))
	}
	return it, nil
}

// Create stores a new item built by the OnCreate constructor.
func (c *Client[E]) Create(ctx context.Context, payload any) (E, error) {
	var zero E
	if err := c.enter(ctx, Call{Op: OpCreate, Payload: payload}); err != nil {
		return zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.create == nil {
		return zero, transport.NewError(501, "create not configured")
	}
	c.nextID++
	id := fmt.Sprintf("%s-%d", c.prefix, c.nextID)
	it, err := c.create(id, payload)
	if err != nil {
		return zero, transport.NewError(422, err.Error())
	}
	c.items[it.EntityID()] = it
	return it, nil
}

// Update merges payload into the stored item with the OnUpdate function.
func (c *Client[E]) Update(ctx context.Context, id string, payload any) (E, error) {
	var zero E
	if err := c.enter(ctx, Call{Op: OpUpdate, ID: id, Payload: payload}); err != nil {
		return zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.items[id]
	if !ok {
		return zero, transport.NewError(404, fmt.Sprintf("%s %s not found", c.kind, id))
	}
	if c.update == nil {
		return zero, transport.NewError(501, "update not configured")
	}
	next, err := c.update(cur, payload)
	if err != nil {
		return zero, transport.NewError(422, err.Error())
	}
	c.items[id] = next
	return next, nil
}

// SetStatus moves an item to status, enforcing the lifecycle like a real
// backend would (409 on an illegal transition).
func (c *Client[E]) SetStatus(ctx context.Context, id string, status string) (E, error) {
	var zero E
	if err := c.enter(ctx, Call{Op: OpSetStatus, ID: id, Status: status}); err != nil {
		return zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.setStatusLocked(id, status)
	if err != nil {
		return zero, err
	}
	return next, nil
}

// BulkSetStatus moves every id it can and reports the rest as failed.
func (c *Client[E]) BulkSetStatus(ctx context.Context, ids []string, status string) (transport.BulkResult[E], error) {
	if err := c.enter(ctx, Call{Op: OpBulkSetStatus, IDs: append([]string(nil), ids...), Status: status}); err != nil {
		return transport.BulkResult[E]{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var res transport.BulkResult[E]
	for _, id := range ids {
		if c.failIDs[id] {
			res.Failed = append(res.Failed, id)
			continue
		}
		next, err := c.setStatusLocked(id, status)
		if err != nil {
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Success = append(res.Success, id)
		res.Entities = append(res.Entities, next)
	}
	return res, nil
}

func (c *Client[E]) setStatusLocked(id, status string) (E, error) {
	var zero E
	cur, ok := c.items[id]
	if !ok {
		return zero, transport.NewError(404, fmt.Sprintf("%s %s not found", c.kind, id))
	}
	if _, hasLifecycle := lifecycle.For(c.kind); hasLifecycle {
		if err := lifecycle.ApplyTransition(c.kind, cur.EntityStatus(), status); err != nil {
			return zero, &transport.Error{StatusCode: 409, Message: "conflict", Err: err}
		}
	}
	next := cur.WithStatus(status)
	c.items[id] = next
	return next, nil
}

func matches[E types.Entity](it E, want keys.Key) bool {
	for _, name := range want.ParamNames() {
		vals, _ := want.Param(name)
		var got string
		switch name {
		case "page", "limit", "sort":
			continue
		case "status":
			got = it.EntityStatus()
		default:
			found := false
			for _, rel := range it.EntityRelations() {
				if rel.Name == name {
					got, found = rel.ID, true
					break
				}
			}
			if !found {
				return false
			}
		}
		if !contains(vals, got) {
			return false
		}
	}
	return true
}

func contains(vals []string, s string) bool {
	for _, v := range vals {
		if v == s {
			return true
		}
	}
	return false
}
