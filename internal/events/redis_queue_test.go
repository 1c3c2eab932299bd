package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisTestQueue(t *testing.T) Queue {
	t.Helper()
	srv := miniredis.RunT(t)
	queue, err := NewRedisQueue(RedisQueueConfig{
		Addr:         srv.Addr(),
		Stream:       "test:releases",
		Group:        "test-workers",
		BlockTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRedisQueue returned error: %v", err)
	}
	t.Cleanup(func() {
		if closer, ok := queue.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	})
	return queue
}

func TestRedisQueueRoundTrip(t *testing.T) {
	queue := newRedisTestQueue(t)
	sub := queue.Subscribe()
	defer sub.Close()

	event := Event{
		Type:       TypeUploaded,
		Version:    "0.3.0",
		Platform:   "linux-x86_64",
		SizeBytes:  3,
		Checksum:   "abc123",
		OccurredAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := queue.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	select {
	case got := <-sub.Events():
		if got.Type != event.Type || got.Version != event.Version || got.SizeBytes != event.SizeBytes {
			t.Fatalf("received %+v, want %+v", got, event)
		}
		if got.Checksum != event.Checksum {
			t.Fatalf("checksum = %q, want %q", got.Checksum, event.Checksum)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered through redis stream")
	}
}

func TestRedisQueuePublishRequiresType(t *testing.T) {
	queue := newRedisTestQueue(t)
	if err := queue.Publish(context.Background(), Event{}); err == nil {
		t.Fatal("expected error for event without type")
	}
}

func TestRedisQueueRequiresAddr(t *testing.T) {
	if _, err := NewRedisQueue(RedisQueueConfig{}); err == nil {
		t.Fatal("expected error when no address is configured")
	}
}

func TestRedisQueueCloseUnderPublishLoad(t *testing.T) {
	srv := miniredis.RunT(t)
	for i := 0; i < 50; i++ {
		queue, err := NewRedisQueue(RedisQueueConfig{
			Addr:         srv.Addr(),
			Stream:       fmt.Sprintf("test:close:%d", i),
			Group:        "test-workers",
			BlockTimeout: 50 * time.Millisecond,
			Buffer:       1,
		})
		if err != nil {
			t.Fatalf("NewRedisQueue returned error: %v", err)
		}
		sub := queue.Subscribe()
		for j := 0; j < 16; j++ {
			if err := queue.Publish(context.Background(), Event{Type: TypeDownloaded, Version: "1.0.0", Platform: "linux-x86_64", SizeBytes: 1}); err != nil {
				t.Fatalf("Publish returned error: %v", err)
			}
		}
		// The tiny buffer leaves the delivery goroutine blocked mid-send;
		// closing now must not race its send against the channel close.
		sub.Close()

		timeout := time.After(5 * time.Second)
		for open := true; open; {
			select {
			case _, ok := <-sub.Events():
				open = ok
			case <-timeout:
				t.Fatal("subscription channel did not close")
			}
		}
		if closer, ok := queue.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
}

func TestRedisQueueMultipleEvents(t *testing.T) {
	queue := newRedisTestQueue(t)
	sub := queue.Subscribe()
	defer sub.Close()

	for i := 0; i < 3; i++ {
		if err := queue.Publish(context.Background(), Event{Type: TypeDownloaded, Version: "1.0.0", Platform: "darwin-arm64", SizeBytes: int64(i + 1)}); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}

	received := 0
	deadline := time.After(5 * time.Second)
	for received < 3 {
		select {
		case <-sub.Events():
			received++
		case <-deadline:
			t.Fatalf("received %d of 3 events", received)
		}
	}
}
