package syncbus

import (
	"context"
	"sync"
)

// WatchableKV is a durable key-value store whose writes generate change
// notifications observable by other same-origin contexts. It is the
// storage-event fallback used when the broadcast primitive is
// unavailable.
type WatchableKV interface {
	// Put stores value under key and notifies every watcher of that key
	// except the writer itself.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the current value under key, or nil.
	Get(ctx context.Context, key string) ([]byte, error)

	// Watch delivers subsequent values written under key by other
	// writers. The returned cancel detaches the watcher and closes the
	// channel. The returned writer token identifies this watcher's own
	// Put calls for self-exclusion.
	Watch(key string) (values <-chan []byte, writer WriterToken, cancel func(), err error)
}

// WriterToken identifies one writer for self-notification exclusion.
type WriterToken interface {
	// Put stores value under the watched key, notifying every watcher
	// except this one.
	Put(ctx context.Context, value []byte) error
}

// StorageTransport adapts a WatchableKV into a Transport. Each publish
// overwrites one well-known key; receivers get the new value through
// their watch channel. Like browser storage events, the writer never
// hears its own writes.
type StorageTransport struct {
	values <-chan []byte
	writer WriterToken
	cancel func()
	mu     sync.Mutex
	closed bool
}

// DefaultStorageKey is the key auth state transitions are mirrored under.
const DefaultStorageKey = "authrelay:sync"

// NewStorageTransport attaches to kv under the given key. An empty key
// uses DefaultStorageKey.
func NewStorageTransport(kv WatchableKV, key string) (*StorageTransport, error) {
	if key == "" {
		key = DefaultStorageKey
	}
	values, writer, cancel, err := kv.Watch(key)
	if err != nil {
		return nil, err
	}
	return &StorageTransport{
		values: values,
		writer: writer,
		cancel: cancel,
	}, nil
}

// Publish writes the payload under the sync key.
func (t *StorageTransport) Publish(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	dup := make([]byte, len(payload))
	copy(dup, payload)
	return t.writer.Put(ctx, dup)
}

// Messages delivers values written by other contexts.
func (t *StorageTransport) Messages() <-chan []byte {
	return t.values
}

// Close detaches the watcher.
func (t *StorageTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	return nil
}

// MemoryKV is an in-process WatchableKV. It backs the storage fallback in
// tests and single-process deployments.
type MemoryKV struct {
	mu       sync.Mutex
	values   map[string][]byte
	watchers map[string]map[int]*kvWatcher
	nextID   int
}

type kvWatcher struct {
	kv     *MemoryKV
	key    string
	id     int
	ch     chan []byte
	closed bool
}

// NewMemoryKV creates an empty store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values:   make(map[string][]byte),
		watchers: make(map[string]map[int]*kvWatcher),
	}
}

// Put stores value and notifies all watchers of key.
func (kv *MemoryKV) Put(ctx context.Context, key string, value []byte) error {
	kv.put(key, value, -1)
	return nil
}

// Get returns the current value under key.
func (kv *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v := kv.values[key]
	if v == nil {
		return nil, nil
	}
	dup := make([]byte, len(v))
	copy(dup, v)
	return dup, nil
}

// Watch registers a change watcher for key.
func (kv *MemoryKV) Watch(key string) (<-chan []byte, WriterToken, func(), error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	w := &kvWatcher{
		kv:  kv,
		key: key,
		id:  kv.nextID,
		ch:  make(chan []byte, memberBuffer),
	}
	kv.nextID++

	if kv.watchers[key] == nil {
		kv.watchers[key] = make(map[int]*kvWatcher)
	}
	kv.watchers[key][w.id] = w

	cancel := func() {
		kv.mu.Lock()
		defer kv.mu.Unlock()
		if w.closed {
			return
		}
		w.closed = true
		close(w.ch)
		delete(kv.watchers[key], w.id)
	}
	return w.ch, w, cancel, nil
}

func (kv *MemoryKV) put(key string, value []byte, from int) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	kv.values[key] = value
	for id, w := range kv.watchers[key] {
		if id == from || w.closed {
			continue
		}
		select {
		case w.ch <- value:
		default:
			// Best-effort: a stalled watcher misses updates, and the
			// store's last-write-wins rule absorbs the gap.
		}
	}
}

// Put implements WriterToken: write without notifying this watcher.
func (w *kvWatcher) Put(ctx context.Context, value []byte) error {
	w.kv.put(w.key, value, w.id)
	return nil
}
