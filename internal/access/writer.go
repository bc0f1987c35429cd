package access

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"caidence.ai/internal/ids"
	"caidence.ai/internal/obs"
)

const writerBuffer = 1024

// Writer decouples permission checks from access-log persistence. The
// request path enqueues and returns; a single background goroutine
// drains the buffer. When the buffer is full, entries are dropped and
// counted rather than blocking a request.
type Writer struct {
	store      Store
	allowRate  float64
	ch         chan *Entry
	done       chan struct{}
	rnd        *rand.Rand
	mu         sync.Mutex
	closeOnce  sync.Once
	flushEvery time.Duration
}

// NewWriter starts the background drain. allowRate is the sampling
// probability for allowed checks; denials are never sampled away.
func NewWriter(store Store, allowRate float64) *Writer {
	w := &Writer{
		store:      store,
		allowRate:  allowRate,
		ch:         make(chan *Entry, writerBuffer),
		done:       make(chan struct{}),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		flushEvery: 5 * time.Second,
	}
	go w.drain()
	return w
}

// Record enqueues the entry if it passes sampling. Never blocks.
func (w *Writer) Record(e *Entry) {
	if e.Allowed && !w.sample() {
		return
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	select {
	case w.ch <- e:
	default:
		// Full buffer: drop rather than stall the request.
		obs.AccessLogDropped()
	}
}

func (w *Writer) sample() bool {
	if w.allowRate >= 1 {
		return true
	}
	if w.allowRate <= 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rnd.Float64() < w.allowRate
}

func (w *Writer) drain() {
	defer close(w.done)
	for e := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := w.store.Append(ctx, e); err != nil {
			obs.LogRequest(map[string]any{
				"msg":   "access log append failed",
				"error": err.Error(),
			})
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the buffer to flush.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.ch)
	})
	select {
	case <-w.done:
	case <-time.After(w.flushEvery):
	}
}
