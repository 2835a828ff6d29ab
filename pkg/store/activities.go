package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/models"
)

// activityQueueDepth bounds the in-flight audit records. Records arriving
// while the queue is full are dropped, never blocking a protocol operation.
const activityQueueDepth = 256

// activityWriter drains audit records from a bounded queue onto a single
// goroutine. Store unreachability therefore never fails the operation that
// produced the record; the failed write is logged instead.
type activityWriter struct {
	db      *gorm.DB
	queue   chan *models.ActivityRecord
	done    chan struct{}
	dropped atomic.Uint64
	once    sync.Once
}

func newActivityWriter(db *gorm.DB) *activityWriter {
	w := &activityWriter{
		db:    db,
		queue: make(chan *models.ActivityRecord, activityQueueDepth),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *activityWriter) run() {
	defer close(w.done)
	for record := range w.queue {
		if err := w.db.Create(record).Error; err != nil {
			logger.Warn("failed to persist activity record",
				logger.KeyAction, record.Action,
				logger.KeyUsername, record.Username,
				logger.Err(err))
		}
	}
}

// enqueue offers a record to the writer without blocking.
func (w *activityWriter) enqueue(record *models.ActivityRecord) {
	select {
	case w.queue <- record:
	default:
		dropped := w.dropped.Add(1)
		logger.Warn("activity queue full, record dropped",
			logger.KeyAction, record.Action,
			logger.KeyUsername, record.Username,
			logger.KeyCount, dropped)
	}
}

// stop closes the queue and waits for queued records to be written.
func (w *activityWriter) stop() {
	w.once.Do(func() {
		close(w.queue)
		<-w.done
	})
}

// Dropped returns how many audit records were discarded because the queue
// was full.
func (w *activityWriter) Dropped() uint64 {
	return w.dropped.Load()
}

// ============================================
// ACTIVITY OPERATIONS
// ============================================

func (s *GORMStore) LogActivity(record *models.ActivityRecord) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	s.activities.enqueue(record)
}

// DroppedActivities returns how many audit records were discarded since
// the store opened.
func (s *GORMStore) DroppedActivities() uint64 {
	return s.activities.Dropped()
}

func (s *GORMStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]*models.ActivityRecord, error) {
	q := s.db.WithContext(ctx).Model(&models.ActivityRecord{})

	if filter.Username != "" {
		q = q.Where("username = ?", filter.Username)
	}
	if filter.ListenerID != "" {
		q = q.Where("listener_id = ?", filter.ListenerID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp < ?", filter.Until)
	}

	q = q.Order("timestamp DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var records []*models.ActivityRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *GORMStore) PurgeActivitiesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.ActivityRecord{})
	return result.RowsAffected, result.Error
}
