package download

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jgivc/offlinecache/internal/entity"
)

// Listener receives every progress mutation in mutation order. Events are
// delivered one at a time by whichever goroutine is draining the queue, so a
// listener may call back into the coordinator; events it causes are
// delivered after it returns.
type Listener func(entity.DownloadProgress)

type subscription struct {
	id string
	fn Listener
}

type broker struct {
	mu   sync.RWMutex
	subs []subscription

	qmu      sync.Mutex
	queue    []entity.DownloadProgress
	draining bool

	log *slog.Logger
}

func newBroker(log *slog.Logger) *broker {
	return &broker{log: log}
}

// subscribe registers fn and returns a func that removes exactly this registration.
func (b *broker) subscribe(fn Listener) func() {
	id := uuid.NewString()

	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool {
				return s.id == id
			})
		})
	}
}

func (b *broker) enqueue(p entity.DownloadProgress) {
	b.qmu.Lock()
	defer b.qmu.Unlock()

	b.queue = append(b.queue, p)
}

// drain delivers queued events until the queue is empty. Only one goroutine
// drains at a time; a concurrent or nested call returns at once and leaves
// its events to the active drainer.
func (b *broker) drain() {
	b.qmu.Lock()
	if b.draining {
		b.qmu.Unlock()

		return
	}
	b.draining = true

	for len(b.queue) > 0 {
		p := b.queue[0]
		b.queue = b.queue[1:]
		b.qmu.Unlock()

		b.mu.RLock()
		subs := slices.Clone(b.subs)
		b.mu.RUnlock()

		for _, s := range subs {
			b.deliver(s, p)
		}

		b.qmu.Lock()
	}

	b.queue = nil
	b.draining = false
	b.qmu.Unlock()
}

func (b *broker) deliver(s subscription, p entity.DownloadProgress) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Listener panicked", slog.String("subscription", s.id), slog.String("id", p.ItemID), slog.Any("panic", r))
		}
	}()

	s.fn(p)
}

func (b *broker) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}
