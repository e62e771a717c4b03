package sync

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/entity-sync/types"
)

func setupRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1, // Use DB 1 for tests
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestNewPubSubSynchronizerDefaultsChannel(t *testing.T) {
	ps := NewPubSubSynchronizer(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), "", "pod-1")
	if ps.channel != DefaultChannel {
		t.Fatalf("Expected default channel, got %s", ps.channel)
	}
	if err := ps.Close(); err != nil {
		t.Fatalf("Close without subscribe failed: %v", err)
	}
	if err := ps.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}

func TestPubSubSynchronizerPublishAndReceive(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	sync1 := NewPubSubSynchronizer(client, "entitysync-test-1", "pod-1")
	defer sync1.Close()
	sync2 := NewPubSubSynchronizer(client, "entitysync-test-1", "pod-2")
	defer sync2.Close()

	received := make(chan InvalidationEvent, 1)
	sync2.OnInvalidate(func(event InvalidationEvent) {
		received <- event
	})

	ctx := context.Background()
	if err := sync1.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sync2.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	event := InvalidationEvent{
		Keys:       []string{`order:list:{}`},
		Kind:       types.KindOrder,
		IDs:        []string{"o-1"},
		Relations:  []types.Relation{{Name: types.RelTable, ID: "T4"}},
		Action:     types.Invalidate,
		MutationID: "m-1",
	}
	if err := sync1.Publish(ctx, event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Sender != "pod-1" {
			t.Fatalf("Expected sender filled in as pod-1, got %s", got.Sender)
		}
		if got.Kind != types.KindOrder || len(got.Relations) != 1 || got.Relations[0].ID != "T4" {
			t.Fatalf("Unexpected event %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestPubSubSynchronizerIgnoreOwnEvents(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	ps := NewPubSubSynchronizer(client, "entitysync-test-2", "pod-1")
	defer ps.Close()

	received := make(chan InvalidationEvent, 1)
	ps.OnInvalidate(func(event InvalidationEvent) { received <- event })

	ctx := context.Background()
	if err := ps.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	ps.Publish(ctx, InvalidationEvent{Keys: []string{"k"}, Action: types.Invalidate})

	select {
	case <-received:
		t.Fatal("Own events must not be delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPubSubSynchronizerReportsBadPayload(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	ps := NewPubSubSynchronizer(client, "entitysync-test-3", "pod-1")
	defer ps.Close()

	errs := make(chan error, 1)
	ps.OnError(func(err error) { errs <- err })

	ctx := context.Background()
	if err := ps.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	client.Publish(ctx, "entitysync-test-3", "not json")

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("Expected decode error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for decode error")
	}
}
