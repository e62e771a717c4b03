package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/huykn/entity-sync/domain"
	"github.com/huykn/entity-sync/lifecycle"
	"github.com/huykn/entity-sync/policy"
	"github.com/huykn/entity-sync/transport/fake"
	"github.com/huykn/entity-sync/types"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: t0} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fastRetry keeps retry tests in the millisecond range.
func fastRetry() policy.Retry {
	r := policy.DefaultRetry()
	r.BaseDelay = time.Millisecond
	r.MaxDelay = 4 * time.Millisecond
	return r
}

func newTestCoordinator(t *testing.T, modify func(*Options)) (*SyncCoordinator, *testClock) {
	t.Helper()
	clock := newTestClock()
	table := policy.DefaultTable()
	table.SetRetry(fastRetry())

	opts := DefaultOptions()
	opts.PodID = "pod-test"
	opts.Now = clock.Now
	opts.Policies = table
	if modify != nil {
		modify(&opts)
	}

	sc, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	t.Cleanup(func() { sc.Close() })
	return sc, clock
}

type ordersFixture struct {
	client *fake.Client[domain.Order]
	orders *Resource[domain.Order, lifecycle.OrderStatus]
}

func newOrders(sc *SyncCoordinator, seed ...domain.Order) ordersFixture {
	client := fake.New[domain.Order](types.KindOrder, "o")
	client.Seed(seed...)
	return ordersFixture{
		client: client,
		orders: NewResource[domain.Order, lifecycle.OrderStatus](sc, types.KindOrder, client),
	}
}

type kitchenFixture struct {
	client  *fake.Client[domain.KitchenOrder]
	kitchen *Resource[domain.KitchenOrder, lifecycle.KitchenStatus]
}

func newKitchen(sc *SyncCoordinator, seed ...domain.KitchenOrder) kitchenFixture {
	client := fake.New[domain.KitchenOrder](types.KindKitchenOrder, "k")
	client.Seed(seed...)
	return kitchenFixture{
		client:  client,
		kitchen: NewResource[domain.KitchenOrder, lifecycle.KitchenStatus](sc, types.KindKitchenOrder, client),
	}
}

type recordingSink struct {
	mu        sync.Mutex
	successes []types.Entity
	failures  []error
}

func (s *recordingSink) OnMutationSuccess(_ types.Kind, e types.Entity) {
	s.mu.Lock()
	s.successes = append(s.successes, e)
	s.mu.Unlock()
}

func (s *recordingSink) OnMutationFailure(_ types.Kind, err error) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.successes), len(s.failures)
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}
