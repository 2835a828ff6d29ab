package supervisor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/models"
)

const (
	// subscriberBuffer is the per-subscriber event backlog. A subscriber
	// that falls further behind loses events.
	subscriberBuffer = 64

	// dropLogInterval rate-limits the lagging-subscriber warning.
	dropLogInterval = 10 * time.Second
)

// LogActivity implements adapter.ActivitySink: persist the record through
// the store's bounded writer and fan it out to subscribers. Neither path
// blocks the protocol operation that produced the record.
func (s *Supervisor) LogActivity(rec *models.ActivityRecord) {
	if rec == nil {
		return
	}
	if rec.Action == models.Denied(models.ActionLogin) {
		s.metrics.RecordAuthFailure()
	}

	// The store assigns the ID and timestamp, so subscribers see the
	// record as persisted.
	s.store.LogActivity(rec)
	s.metrics.RecordActivity()

	s.subMu.RLock()
	for _, sub := range s.subscribers {
		select {
		case sub.ch <- rec:
		default:
			sub.drop()
			s.metrics.RecordActivityDropped()
		}
	}
	s.subMu.RUnlock()
}

// Subscribe registers a callback invoked once per activity record. Each
// subscriber drains its own buffer on its own goroutine, so a slow
// callback drops its own events without stalling request handling or
// other subscribers. Events from one session arrive in order; ordering
// across listeners is unspecified.
//
// The returned func unsubscribes, drains buffered events, and waits for
// the callback goroutine to exit. It is safe to call more than once.
func (s *Supervisor) Subscribe(fn func(*models.ActivityRecord)) (unsubscribe func()) {
	sub := &subscriber{
		ch:   make(chan *models.ActivityRecord, subscriberBuffer),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	s.subMu.Lock()
	s.nextSubID++
	sub.id = s.nextSubID
	s.subscribers[sub.id] = sub
	s.subMu.Unlock()

	go sub.run(fn)

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, sub.id)
		s.subMu.Unlock()
		sub.stop()
	}
}

// subscriber is one activity consumer: a bounded buffer and the goroutine
// draining it into the callback.
type subscriber struct {
	id   uint64
	ch   chan *models.ActivityRecord
	quit chan struct{}
	done chan struct{}

	dropped     atomic.Uint64
	lastDropLog atomic.Int64

	stopOnce sync.Once
}

func (sub *subscriber) run(fn func(*models.ActivityRecord)) {
	defer close(sub.done)
	for {
		select {
		case rec := <-sub.ch:
			fn(rec)
		case <-sub.quit:
			// Deliver what is already buffered before exiting.
			for {
				select {
				case rec := <-sub.ch:
					fn(rec)
				default:
					return
				}
			}
		}
	}
}

// drop counts an overflow. Sustained overflow logs at most once per
// interval so a stuck subscriber cannot flood the log.
func (sub *subscriber) drop() {
	n := sub.dropped.Add(1)
	now := time.Now().UnixNano()
	last := sub.lastDropLog.Load()
	if now-last < int64(dropLogInterval) {
		return
	}
	if sub.lastDropLog.CompareAndSwap(last, now) {
		logger.Warn("activity subscriber lagging, dropping events",
			"subscriber_id", sub.id,
			logger.KeyCount, n)
	}
}

// stop shuts the drain goroutine down and reports total drops once.
// Blocks until the callback goroutine has exited.
func (sub *subscriber) stop() {
	sub.stopOnce.Do(func() {
		close(sub.quit)
		<-sub.done
		if n := sub.dropped.Load(); n > 0 {
			logger.Warn("activity subscriber dropped events",
				"subscriber_id", sub.id,
				logger.KeyCount, n)
		}
	})
}
