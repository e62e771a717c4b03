package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huykn/entity-sync/domain"
	"github.com/huykn/entity-sync/keys"
	"github.com/huykn/entity-sync/lifecycle"
	cachesync "github.com/huykn/entity-sync/sync"
	"github.com/huykn/entity-sync/transport"
	"github.com/huykn/entity-sync/transport/fake"
	"github.com/huykn/entity-sync/types"
)

func TestSetStatusAdoptsAndInvalidatesDependents(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	fx := newOrders(sc,
		domain.Order{ID: "o-1", TableID: "T4", Status: lifecycle.OrderPreparing},
		domain.Order{ID: "o-2", TableID: "T9", Status: lifecycle.OrderPaid},
	)
	ctx := context.Background()
	t4 := types.Relation{Name: types.RelTable, ID: "T4"}
	t9 := types.Relation{Name: types.RelTable, ID: "T9"}
	revenue := func(context.Context) (float64, error) { return 10, nil }

	fx.orders.List(ctx, nil)
	fx.orders.ByRelation(ctx, t4, nil)
	fx.orders.ByRelation(ctx, t9, nil)
	ReadAggregate(ctx, sc, types.KindOrder, "revenue", nil, revenue)
	current, err := fx.orders.Get(ctx, "o-1")
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}

	updated, err := fx.orders.SetStatus(ctx, current, lifecycle.OrderReady)
	if err != nil {
		t.Fatalf("Failed to set status: %v", err)
	}
	if updated.Status != lifecycle.OrderReady {
		t.Fatalf("Expected READY, got %s", updated.Status)
	}

	detail, _ := sc.State(keys.Detail(types.KindOrder, "o-1"))
	if !detail.Fresh || detail.Value.(domain.Order).Status != lifecycle.OrderReady {
		t.Fatalf("Detail must hold the adopted response, got %+v", detail)
	}
	for _, k := range []keys.Key{
		keys.List(types.KindOrder, nil),
		keys.ByRelation(types.KindOrder, t4, nil),
		keys.Aggregate(types.KindOrder, "revenue", nil),
	} {
		if st, _ := sc.State(k); !st.Stale {
			t.Fatalf("Expected %s to be stale", k)
		}
	}
	if st, _ := sc.State(keys.ByRelation(types.KindOrder, t9, nil)); st.Stale {
		t.Fatal("Unrelated table view must stay fresh")
	}

	gets := fx.client.CallCount(fake.OpGet)
	if _, err := fx.orders.Get(ctx, "o-1"); err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if fx.client.CallCount(fake.OpGet) != gets {
		t.Fatal("Adopted detail must be served without a network call")
	}
	if sc.Stats().Adoptions != 1 {
		t.Fatalf("Expected 1 adoption, got %d", sc.Stats().Adoptions)
	}
}

func TestIllegalTransitionMakesNoNetworkCall(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	client := fake.New[domain.Reservation](types.KindReservation, "r")
	client.Seed(domain.Reservation{ID: "r-1", Status: lifecycle.ReservationCompleted})
	reservations := NewResource[domain.Reservation, lifecycle.ReservationStatus](sc, types.KindReservation, client)

	_, err := reservations.SetStatus(context.Background(),
		domain.Reservation{ID: "r-1", Status: lifecycle.ReservationCompleted}, lifecycle.ReservationConfirmed)
	if !lifecycle.IsInvalidTransition(err) {
		t.Fatalf("Expected invalid transition, got %v", err)
	}
	if client.CallCount("") != 0 {
		t.Fatalf("Expected no network calls, got %d", client.CallCount(""))
	}
	if sc.Stats().RejectedTransitions != 1 {
		t.Fatalf("Expected 1 rejected transition, got %d", sc.Stats().RejectedTransitions)
	}
}

func TestEveryIllegalPairIsRejectedLocally(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	var calls int32
	do := func(context.Context) (types.Entity, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	for _, kind := range lifecycle.Kinds() {
		g, _ := lifecycle.For(kind)
		statuses := g.StatusNames()
		for _, from := range statuses {
			for _, to := range statuses {
				if lifecycle.CanTransition(kind, from, to) {
					continue
				}
				_, err := sc.Mutate(context.Background(), Mutation{
					Kind:       kind,
					ID:         "x",
					Transition: &Transition{From: from, To: to},
					Do:         do,
				})
				if !lifecycle.IsInvalidTransition(err) {
					t.Fatalf("%s %s -> %s: expected invalid transition, got %v", kind, from, to, err)
				}
			}
		}
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("Expected no transport calls, got %d", n)
	}
}

func TestTransitionOnKindWithoutLifecycle(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	_, err := sc.Mutate(context.Background(), Mutation{
		Kind:       types.KindStation,
		ID:         "grill",
		Transition: &Transition{From: "a", To: "b"},
		Do:         func(context.Context) (types.Entity, error) { return nil, nil },
	})
	if !errors.Is(err, lifecycle.ErrUnknownKind) {
		t.Fatalf("Expected ErrUnknownKind, got %v", err)
	}
}

func TestFailedMutationLeavesCacheUntouched(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	fx := newOrders(sc, domain.Order{ID: "o-1", TableID: "T4", Status: lifecycle.OrderPaid})
	ctx := context.Background()

	fx.orders.List(ctx, nil)
	fx.orders.ByRelation(ctx, types.Relation{Name: types.RelTable, ID: "T4"}, nil)
	current, _ := fx.orders.Get(ctx, "o-1")
	before := sc.Snapshot()

	fx.client.FailNext(fake.OpSetStatus, transport.NewError(503, "unavailable"))
	if _, err := fx.orders.SetStatus(ctx, current, lifecycle.OrderPreparing); !transport.IsTransient(err) {
		t.Fatalf("Expected the transport error, got %v", err)
	}

	if after := sc.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("Cache changed after a failed mutation:\nbefore %+v\nafter  %+v", before, after)
	}
	if n := fx.client.CallCount(fake.OpSetStatus); n != 1 {
		t.Fatalf("Mutations must not be retried, got %d calls", n)
	}
	if sc.Stats().MutationFailures != 1 {
		t.Fatalf("Expected 1 mutation failure, got %d", sc.Stats().MutationFailures)
	}
}

func TestBulkPartialFailure(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	fx := newKitchen(sc,
		domain.KitchenOrder{ID: "1", StationID: "grill", Status: lifecycle.KitchenNew},
		domain.KitchenOrder{ID: "2", StationID: "grill", Status: lifecycle.KitchenNew},
		domain.KitchenOrder{ID: "3", StationID: "grill", Status: lifecycle.KitchenNew},
	)
	fx.client.FailIDs("2")
	ctx := context.Background()

	fx.kitchen.List(ctx, nil)
	fx.kitchen.Get(ctx, "2")
	before, _ := sc.State(keys.Detail(types.KindKitchenOrder, "2"))

	res, err := fx.kitchen.BulkSetStatus(ctx, []string{"1", "2", "3"}, lifecycle.KitchenPreparing)
	if err != nil {
		t.Fatalf("Bulk call failed: %v", err)
	}
	if !reflect.DeepEqual(res.Success, []string{"1", "3"}) {
		t.Fatalf("Expected success [1 3], got %v", res.Success)
	}
	if !reflect.DeepEqual(res.Failed, []string{"2"}) {
		t.Fatalf("Expected failed [2], got %v", res.Failed)
	}
	var partial *PartialBulkFailure
	if !errors.As(res.Err(), &partial) || partial.Failed[0] != "2" {
		t.Fatalf("Expected PartialBulkFailure, got %v", res.Err())
	}

	after, _ := sc.State(keys.Detail(types.KindKitchenOrder, "2"))
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("Failed id must stay untouched:\nbefore %+v\nafter  %+v", before, after)
	}
	if st, _ := sc.State(keys.List(types.KindKitchenOrder, nil)); !st.Stale {
		t.Fatal("List must be stale after a partially successful bulk call")
	}
	for _, id := range []string{"1", "3"} {
		k, ok := fx.kitchen.Peek(id)
		if !ok || k.Status != lifecycle.KitchenPreparing {
			t.Fatalf("Expected %s adopted as PREPARING, got %+v", id, k)
		}
	}
}

func TestBulkFailedIDsMarkedStale(t *testing.T) {
	sc, _ := newTestCoordinator(t, func(o *Options) { o.FailedBulk = FailedBulkMarkStale })
	fx := newKitchen(sc,
		domain.KitchenOrder{ID: "1", Status: lifecycle.KitchenNew},
		domain.KitchenOrder{ID: "2", Status: lifecycle.KitchenNew},
	)
	fx.client.FailIDs("2")
	ctx := context.Background()
	fx.kitchen.Get(ctx, "2")

	if _, err := fx.kitchen.BulkSetStatus(ctx, []string{"1", "2"}, lifecycle.KitchenPreparing); err != nil {
		t.Fatalf("Bulk call failed: %v", err)
	}
	if st, _ := sc.State(keys.Detail(types.KindKitchenOrder, "2")); !st.Stale {
		t.Fatal("Failed id must be stale with FailedBulkMarkStale")
	}
}

func TestBulkFailedIDsKeepRelationViews(t *testing.T) {
	sc, _ := newTestCoordinator(t, func(o *Options) { o.FailedBulk = FailedBulkMarkStale })
	fx := newKitchen(sc,
		domain.KitchenOrder{ID: "1", StationID: "grill", Status: lifecycle.KitchenNew},
		domain.KitchenOrder{ID: "2", StationID: "fryer", Status: lifecycle.KitchenNew},
	)
	fx.client.FailIDs("2")
	ctx := context.Background()
	grill := types.Relation{Name: types.RelStation, ID: "grill"}
	fryer := types.Relation{Name: types.RelStation, ID: "fryer"}
	fx.kitchen.Get(ctx, "2")
	fx.kitchen.ByRelation(ctx, grill, nil)
	fx.kitchen.ByRelation(ctx, fryer, nil)

	res, err := fx.kitchen.BulkSetStatus(ctx, []string{"1", "2"}, lifecycle.KitchenPreparing)
	if err != nil {
		t.Fatalf("Bulk call failed: %v", err)
	}
	if !reflect.DeepEqual(res.Failed, []string{"2"}) {
		t.Fatalf("Expected 2 to fail, got %+v", res)
	}
	if st, _ := sc.State(keys.Detail(types.KindKitchenOrder, "2")); !st.Stale {
		t.Fatal("Failed id must be stale with FailedBulkMarkStale")
	}
	if st, _ := sc.State(keys.ByRelation(types.KindKitchenOrder, grill, nil)); !st.Stale {
		t.Fatal("Station of the succeeded id must be stale")
	}
	if st, _ := sc.State(keys.ByRelation(types.KindKitchenOrder, fryer, nil)); st.Stale {
		t.Fatal("Station of a failed id must stay fresh")
	}
}

func TestBulkPrevalidation(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	fx := newKitchen(sc,
		domain.KitchenOrder{ID: "1", Status: lifecycle.KitchenNew},
		domain.KitchenOrder{ID: "2", Status: lifecycle.KitchenCompleted},
		domain.KitchenOrder{ID: "3", Status: lifecycle.KitchenNew},
	)
	ctx := context.Background()
	fx.kitchen.Get(ctx, "1")
	fx.kitchen.Get(ctx, "2")

	res, err := fx.kitchen.BulkSetStatus(ctx, []string{"1", "2", "3"}, lifecycle.KitchenPreparing)
	if err != nil {
		t.Fatalf("Bulk call failed: %v", err)
	}
	if !lifecycle.IsInvalidTransition(res.Rejected["2"]) {
		t.Fatalf("Expected 2 to be rejected locally, got %v", res.Rejected)
	}
	calls := fx.client.Calls()
	last := calls[len(calls)-1]
	if last.Op != fake.OpBulkSetStatus || !reflect.DeepEqual(last.IDs, []string{"1", "3"}) {
		t.Fatalf("Only valid ids must be sent, got %+v", last)
	}
	if !reflect.DeepEqual(res.Success, []string{"1", "3"}) || !reflect.DeepEqual(res.Failed, []string{"2"}) {
		t.Fatalf("Unexpected result %+v", res)
	}
}

func TestBulkAllRejected(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	fx := newKitchen(sc, domain.KitchenOrder{ID: "1", Status: lifecycle.KitchenCompleted})
	ctx := context.Background()
	fx.kitchen.Get(ctx, "1")

	res, err := fx.kitchen.BulkSetStatus(ctx, []string{"1"}, lifecycle.KitchenPreparing)
	if err != nil {
		t.Fatalf("Bulk call failed: %v", err)
	}
	if fx.client.CallCount(fake.OpBulkSetStatus) != 0 {
		t.Fatal("No transport call expected when every id is rejected")
	}
	if !reflect.DeepEqual(res.Failed, []string{"1"}) {
		t.Fatalf("Expected failed [1], got %v", res.Failed)
	}
}

func TestBulkUnreachableTarget(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	fx := newKitchen(sc, domain.KitchenOrder{ID: "1", Status: lifecycle.KitchenNew})

	_, err := fx.kitchen.BulkSetStatus(context.Background(), []string{"1"}, lifecycle.KitchenNew)
	if !lifecycle.IsInvalidTransition(err) {
		t.Fatalf("Expected invalid transition, got %v", err)
	}
	if fx.client.CallCount("") != 0 {
		t.Fatal("No transport call expected for an unreachable target")
	}
}

func TestSerializedMutationsRejectConcurrentWrites(t *testing.T) {
	sc, _ := newTestCoordinator(t, func(o *Options) { o.SerializeMutations = true })
	fx := newOrders(sc, domain.Order{ID: "o-1", Status: lifecycle.OrderPaid})
	gate := make(chan struct{})
	fx.client.Gate(fake.OpSetStatus, gate)
	current := domain.Order{ID: "o-1", Status: lifecycle.OrderPaid}

	done := make(chan error, 1)
	go func() {
		_, err := fx.orders.SetStatus(context.Background(), current, lifecycle.OrderPreparing)
		done <- err
	}()
	waitFor(t, time.Second, func() bool { return fx.client.CallCount(fake.OpSetStatus) == 1 })

	if _, err := fx.orders.SetStatus(context.Background(), current, lifecycle.OrderCancelled); !errors.Is(err, ErrMutationInFlight) {
		t.Fatalf("Expected ErrMutationInFlight, got %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("First mutation failed: %v", err)
	}

	if _, err := fx.orders.SetStatus(context.Background(), domain.Order{ID: "o-1", Status: lifecycle.OrderPreparing}, lifecycle.OrderReady); err != nil {
		t.Fatalf("Mutation after release failed: %v", err)
	}
}

func TestPartialResponsesInvalidateInsteadOfAdopting(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	client := fake.New[domain.Order](types.KindOrder, "o")
	client.Seed(domain.Order{ID: "o-1", TableID: "T4", Status: lifecycle.OrderPaid})
	orders := NewResource[domain.Order, lifecycle.OrderStatus](sc, types.KindOrder, client, WithPartialResponses())
	ctx := context.Background()
	t4 := types.Relation{Name: types.RelTable, ID: "T4"}

	current, _ := orders.Get(ctx, "o-1")
	orders.ByRelation(ctx, t4, nil)

	if _, err := orders.SetStatus(ctx, current, lifecycle.OrderPreparing); err != nil {
		t.Fatalf("Failed to set status: %v", err)
	}
	if st, _ := sc.State(keys.Detail(types.KindOrder, "o-1")); !st.Stale {
		t.Fatal("Partial response must invalidate the detail")
	}
	if st, _ := sc.State(keys.ByRelation(types.KindOrder, t4, nil)); !st.Stale {
		t.Fatal("Partial response must invalidate the table view")
	}
	if sc.Stats().Adoptions != 0 {
		t.Fatal("Partial response must not be adopted")
	}

	o, _ := orders.Get(ctx, "o-1")
	if o.Status != lifecycle.OrderPreparing {
		t.Fatalf("Expected refetched PREPARING, got %s", o.Status)
	}
}

func TestUpdateInvalidatesTouchedRelations(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	fx := newOrders(sc, domain.Order{ID: "o-1", TableID: "T4", Status: lifecycle.OrderPaid})
	fx.client.OnUpdate(func(cur domain.Order, payload any) (domain.Order, error) {
		cur.TableID = payload.(string)
		return cur, nil
	})
	ctx := context.Background()
	t4 := types.Relation{Name: types.RelTable, ID: "T4"}
	t9 := types.Relation{Name: types.RelTable, ID: "T9"}
	t7 := types.Relation{Name: types.RelTable, ID: "T7"}
	for _, rel := range []types.Relation{t4, t9, t7} {
		fx.orders.ByRelation(ctx, rel, nil)
	}

	moved, err := fx.orders.Update(ctx, "o-1", "T9", t4)
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if moved.TableID != "T9" {
		t.Fatalf("Expected table T9, got %s", moved.TableID)
	}

	stale := func(rel types.Relation) bool {
		st, _ := sc.State(keys.ByRelation(types.KindOrder, rel, nil))
		return st.Stale
	}
	if !stale(t4) || !stale(t9) {
		t.Fatal("Both the old and the new table views must be stale")
	}
	if stale(t7) {
		t.Fatal("Unrelated table view must stay fresh")
	}
}

func TestCreateAdoptsNewEntity(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	fx := newOrders(sc)
	fx.client.OnCreate(func(id string, payload any) (domain.Order, error) {
		return domain.Order{ID: id, TableID: payload.(string), Status: lifecycle.OrderCreated}, nil
	})
	ctx := context.Background()
	fx.orders.List(ctx, nil)

	created, err := fx.orders.Create(ctx, "T4")
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if created.ID != "o-1" {
		t.Fatalf("Unexpected id %s", created.ID)
	}
	if st, _ := sc.State(keys.List(types.KindOrder, nil)); !st.Stale {
		t.Fatal("List must be stale after a create")
	}
	if _, err := fx.orders.Get(ctx, "o-1"); err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if fx.client.CallCount(fake.OpGet) != 0 {
		t.Fatal("Created entity must be served from cache")
	}
}

func TestMutationUnauthorizedTearsDownSession(t *testing.T) {
	var teardowns int32
	sink := &recordingSink{}
	sc, _ := newTestCoordinator(t, func(o *Options) {
		o.Sink = sink
		o.OnUnauthorized = func(error) { atomic.AddInt32(&teardowns, 1) }
	})
	fx := newOrders(sc, domain.Order{ID: "o-1", Status: lifecycle.OrderPaid})
	fx.client.FailNext(fake.OpSetStatus, transport.NewError(401, "expired"))

	_, err := fx.orders.SetStatus(context.Background(), domain.Order{ID: "o-1", Status: lifecycle.OrderPaid}, lifecycle.OrderPreparing)
	if !transport.IsUnauthorized(err) {
		t.Fatalf("Expected unauthorized, got %v", err)
	}
	if atomic.LoadInt32(&teardowns) != 1 {
		t.Fatalf("Expected one teardown, got %d", teardowns)
	}
	if ok, failed := sink.counts(); ok != 0 || failed != 1 {
		t.Fatalf("Expected 0 successes and 1 failure, got %d and %d", ok, failed)
	}
}

func TestMutationSurvivesCallerCancellation(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	fx := newOrders(sc, domain.Order{ID: "o-1", Status: lifecycle.OrderPaid})
	gate := make(chan struct{})
	fx.client.Gate(fake.OpSetStatus, gate)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := fx.orders.SetStatus(ctx, domain.Order{ID: "o-1", Status: lifecycle.OrderPaid}, lifecycle.OrderPreparing)
		done <- err
	}()
	waitFor(t, time.Second, func() bool { return fx.client.CallCount(fake.OpSetStatus) == 1 })
	cancel()
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("Mutation must complete despite cancellation: %v", err)
	}
	if o, ok := fx.orders.Peek("o-1"); !ok || o.Status != lifecycle.OrderPreparing {
		t.Fatalf("Expected the response to be adopted, got %+v", o)
	}
}

func TestSinkNotifications(t *testing.T) {
	sink := &recordingSink{}
	sc, _ := newTestCoordinator(t, func(o *Options) { o.Sink = sink })
	fx := newKitchen(sc,
		domain.KitchenOrder{ID: "1", Status: lifecycle.KitchenNew},
		domain.KitchenOrder{ID: "2", Status: lifecycle.KitchenNew},
	)
	fx.client.FailIDs("2")
	ctx := context.Background()

	fx.kitchen.SetStatus(ctx, domain.KitchenOrder{ID: "1", Status: lifecycle.KitchenNew}, lifecycle.KitchenPreparing)
	fx.kitchen.SetStatus(ctx, domain.KitchenOrder{ID: "1", Status: lifecycle.KitchenPreparing}, lifecycle.KitchenNew)
	if ok, failed := sink.counts(); ok != 1 || failed != 1 {
		t.Fatalf("Expected 1 success and 1 failure, got %d and %d", ok, failed)
	}

	fx.kitchen.BulkSetStatus(ctx, []string{"2"}, lifecycle.KitchenPreparing)
	if ok, failed := sink.counts(); ok != 1 || failed != 2 {
		t.Fatalf("Expected the partial failure to be reported, got %d and %d", ok, failed)
	}
}

func TestObservedViewsRefetchAfterMutation(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	fx := newOrders(sc, domain.Order{ID: "o-1", TableID: "T4", Status: lifecycle.OrderPaid})
	ctx := context.Background()

	var mu sync.Mutex
	var statuses []lifecycle.OrderStatus
	cancel, err := fx.orders.ObserveByRelation(types.Relation{Name: types.RelTable, ID: "T4"}, nil,
		func(p transport.Page[domain.Order], err error) {
			if err != nil || len(p.Items) == 0 {
				return
			}
			mu.Lock()
			statuses = append(statuses, p.Items[0].Status)
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("Failed to observe: %v", err)
	}
	defer cancel()
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) == 1
	})

	if _, err := fx.orders.SetStatus(ctx, domain.Order{ID: "o-1", Status: lifecycle.OrderPaid}, lifecycle.OrderPreparing); err != nil {
		t.Fatalf("Failed to set status: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return statuses[len(statuses)-1] == lifecycle.OrderPreparing
	})
}

func TestMutationPublishesInvalidationSet(t *testing.T) {
	bus := cachesync.NewLocalBus()
	sc, _ := newTestCoordinator(t, func(o *Options) { o.Synchronizer = bus.Join("pod-test") })
	fx := newOrders(sc, domain.Order{ID: "o-1", TableID: "T4", Status: lifecycle.OrderPaid})

	var mu sync.Mutex
	var events []InvalidationEvent
	peer := bus.Join("peer")
	peer.OnInvalidate(func(e InvalidationEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	peer.Subscribe(context.Background())
	defer peer.Close()

	ctx := context.Background()
	fx.orders.List(ctx, nil)
	if _, err := fx.orders.SetStatus(ctx, domain.Order{ID: "o-1", TableID: "T4", Status: lifecycle.OrderPaid}, lifecycle.OrderPreparing); err != nil {
		t.Fatalf("Failed to set status: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Sender != "pod-test" || e.Kind != types.KindOrder || e.MutationID == "" {
		t.Fatalf("Unexpected event %+v", e)
	}
	if !reflect.DeepEqual(e.IDs, []string{"o-1"}) {
		t.Fatalf("Expected ids [o-1], got %v", e.IDs)
	}
	want := []string{keys.Detail(types.KindOrder, "o-1").String(), keys.List(types.KindOrder, nil).String()}
	if !reflect.DeepEqual(e.Keys, want) {
		t.Fatalf("Expected keys %v, got %v", want, e.Keys)
	}
	if len(e.Relations) != 1 || e.Relations[0].ID != "T4" {
		t.Fatalf("Expected relation T4, got %v", e.Relations)
	}
}

func TestMutateRequiresTransportCall(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	if _, err := sc.Mutate(context.Background(), Mutation{Kind: types.KindOrder}); !errors.Is(err, ErrInvalidMutation) {
		t.Fatalf("Expected ErrInvalidMutation, got %v", err)
	}
	if _, err := sc.BulkMutate(context.Background(), BulkMutation{Kind: types.KindOrder}); !errors.Is(err, ErrInvalidMutation) {
		t.Fatalf("Expected ErrInvalidMutation, got %v", err)
	}
}

// tab is an entity with pointer receivers, so a client can hand back a nil *tab.
type tab struct {
	ID     string
	Status string
}

func (t *tab) EntityID() string                  { return t.ID }
func (t *tab) EntityKind() types.Kind            { return types.KindOrder }
func (t *tab) EntityStatus() string              { return t.Status }
func (t *tab) EntityRelations() []types.Relation { return nil }
func (t *tab) WithStatus(s string) *tab          { return &tab{ID: t.ID, Status: s} }

func TestNilPointerResponseIsNotAdopted(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	client := fake.New[*tab](types.KindOrder, "t")
	client.Seed(&tab{ID: "t-1", Status: string(lifecycle.OrderPaid)})
	client.OnUpdate(func(*tab, any) (*tab, error) { return nil, nil })
	tabs := NewResource[*tab, lifecycle.OrderStatus](sc, types.KindOrder, client)
	ctx := context.Background()

	if _, err := tabs.Get(ctx, "t-1"); err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	got, err := tabs.Update(ctx, "t-1", map[string]any{"note": "window seat"})
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if got != nil {
		t.Fatalf("Expected no entity, got %+v", got)
	}
	if st, _ := sc.State(keys.Detail(types.KindOrder, "t-1")); !st.Stale {
		t.Fatal("Detail must be stale when the response carries no entity")
	}
	if sc.Stats().Adoptions != 0 {
		t.Fatalf("Expected no adoption, got %d", sc.Stats().Adoptions)
	}
}

func TestNilPointerMutationResponse(t *testing.T) {
	sc, _ := newTestCoordinator(t, nil)
	ent, err := sc.Mutate(context.Background(), Mutation{
		Kind: types.KindOrder,
		ID:   "t-1",
		Do: func(context.Context) (types.Entity, error) {
			var missing *tab
			return missing, nil
		},
	})
	if err != nil {
		t.Fatalf("Failed to mutate: %v", err)
	}
	if ent != nil {
		t.Fatalf("Expected a nil entity, got %#v", ent)
	}
}
