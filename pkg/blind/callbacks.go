package blind

import (
	"sync"
	"sync/atomic"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// PositionCallback observes position changes.
type PositionCallback func(position uint16)

type callbackEntry struct {
	fn      PositionCallback
	removed atomic.Bool
}

// CallbackRegistry is an ordered, duplicate-tolerant set of position observers.
// Registration order is call order. Notify iterates over a snapshot, so observers
// may register or unregister (themselves included) from inside a callback.
type CallbackRegistry struct {
	mu      sync.Mutex
	nextID  uint64
	entries *orderedmap.OrderedMap[uint64, *callbackEntry]
}

func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		entries: orderedmap.New[uint64, *callbackEntry](),
	}
}

// Register adds fn and returns a function that removes it. The returned function
// is idempotent.
func (r *CallbackRegistry) Register(fn PositionCallback) (unregister func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	entry := &callbackEntry{fn: fn}
	r.entries.Set(id, entry)
	r.mu.Unlock()

	return func() {
		entry.removed.Store(true)
		r.mu.Lock()
		r.entries.Delete(id)
		r.mu.Unlock()
	}
}

// Len returns the number of registered observers.
func (r *CallbackRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}

// Notify calls every observer registered at the time of the call, in order.
// An observer removed by an earlier observer during the same Notify is skipped.
func (r *CallbackRegistry) Notify(position uint16) {
	r.mu.Lock()
	snapshot := make([]*callbackEntry, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		snapshot = append(snapshot, pair.Value)
	}
	r.mu.Unlock()

	for _, entry := range snapshot {
		if entry.removed.Load() {
			continue
		}
		entry.fn(position)
	}
}
