package syncbus

import (
	"context"
	"testing"

	"github.com/authrelay/authrelay/pkg/state"
)

func TestMemoryKV_WatchExcludesWriter(t *testing.T) {
	kv := NewMemoryKV()

	valuesA, writerA, cancelA, err := kv.Watch("k")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	t.Cleanup(cancelA)

	valuesB, _, cancelB, err := kv.Watch("k")
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	t.Cleanup(cancelB)

	if err := writerA.Put(context.Background(), []byte("v1")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	select {
	case got := <-valuesB:
		if string(got) != "v1" {
			t.Fatalf("watcher B got %q", got)
		}
	default:
		t.Fatal("watcher B got nothing")
	}
	select {
	case got := <-valuesA:
		t.Fatalf("writer observed its own write: %q", got)
	default:
	}
}

func TestMemoryKV_GetReturnsLatest(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	if err := kv.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	kv.Put(ctx, "k", []byte("v2"))

	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("Get() = %q, want v2", got)
	}
}

func TestStorageTransport_CarriesBusMessages(t *testing.T) {
	kv := NewMemoryKV()

	a, err := NewStorageTransport(kv, "")
	if err != nil {
		t.Fatalf("NewStorageTransport() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	b, err := NewStorageTransport(kv, "")
	if err != nil {
		t.Fatalf("NewStorageTransport() error: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	if err := a.Publish(context.Background(), []byte("payload")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case got := <-b.Messages():
		if string(got) != "payload" {
			t.Fatalf("b received %q", got)
		}
	default:
		t.Fatal("b received nothing")
	}
	select {
	case got := <-a.Messages():
		t.Fatalf("publisher received its own payload: %q", got)
	default:
	}

	// The durable value reflects the last publish.
	stored, err := kv.Get(context.Background(), DefaultStorageKey)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(stored) != "payload" {
		t.Fatalf("stored value = %q", stored)
	}
}

func TestStorageTransport_Close(t *testing.T) {
	kv := NewMemoryKV()
	a, err := NewStorageTransport(kv, "k")
	if err != nil {
		t.Fatalf("NewStorageTransport() error: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, ok := <-a.Messages(); ok {
		t.Fatal("Messages() open after Close()")
	}
	if err := a.Publish(context.Background(), []byte("x")); err != ErrTransportClosed {
		t.Fatalf("Publish() after Close() = %v, want ErrTransportClosed", err)
	}
}

func TestBus_OverStorageTransport(t *testing.T) {
	kv := NewMemoryKV()
	factory := func() (Transport, error) { return NewStorageTransport(kv, "") }

	storeA := newTestStore(t, factory)
	storeB := newTestStore(t, factory)

	storeA.SetAuthData(pair())
	waitFor(t, "storage-backed context to converge", func() bool {
		return storeB.Snapshot().IsAuthenticated
	})
}

func newTestStore(t *testing.T, factory TransportFactory) *state.Store {
	t.Helper()
	store := state.New()
	bus := NewBus(store, WithTransports(factory))
	t.Cleanup(func() { _ = bus.Close() })
	return store
}
