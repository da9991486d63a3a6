package views

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"urgency-timer-api/internal/database"
	"urgency-timer-api/internal/models"
)

const (
	DefaultQueueSize = 4096
	BatchSize        = 100
	BatchTimeout     = 5 * time.Second

	monthlyCounterTTL = 40 * 24 * time.Hour
)

// Queue buffers view beacons between the HTTP handler and the worker.
// Enqueue never blocks; beacons are best-effort and a full queue drops them.
type Queue struct {
	ch chan models.ViewEvent
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan models.ViewEvent, size)}
}

// Enqueue adds a view event, reporting false when the queue is full.
func (q *Queue) Enqueue(ev models.ViewEvent) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// Worker drains the queue, batch-inserting view rows and bumping per-shop
// monthly counters.
type Worker struct {
	db    *database.DB
	redis *redis.Client // optional; nil disables redis counters
	queue *Queue

	batchSize    int
	batchTimeout time.Duration
}

func NewWorker(db *database.DB, redisClient *redis.Client, queue *Queue) *Worker {
	return NewWorkerWithConfig(db, redisClient, queue, BatchSize, BatchTimeout)
}

// NewWorkerWithConfig creates a worker with explicit batch sizing.
func NewWorkerWithConfig(db *database.DB, redisClient *redis.Client, queue *Queue, batchSize int, batchTimeout time.Duration) *Worker {
	if batchSize <= 0 {
		batchSize = BatchSize
	}
	if batchTimeout <= 0 {
		batchTimeout = BatchTimeout
	}
	return &Worker{
		db:           db,
		redis:        redisClient,
		queue:        queue,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
	}
}

// Run processes view events until the context is cancelled, flushing any
// buffered batch before returning.
func (w *Worker) Run(ctx context.Context) {
	batch := make([]models.ViewEvent, 0, w.batchSize)
	ticker := time.NewTicker(w.batchTimeout)
	defer ticker.Stop()

	log.Info().Int("batch_size", w.batchSize).Msg("view worker started")

	for {
		select {
		case ev := <-w.queue.ch:
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			batch = w.drainQueue(batch)
			if len(batch) > 0 {
				w.flush(context.Background(), batch)
			}
			log.Info().Msg("view worker stopped")
			return
		}
	}
}

// drainQueue empties beacons already accepted into the queue so shutdown
// does not abandon them.
func (w *Worker) drainQueue(batch []models.ViewEvent) []models.ViewEvent {
	for {
		select {
		case ev := <-w.queue.ch:
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				w.flush(context.Background(), batch)
				batch = batch[:0]
			}
		default:
			return batch
		}
	}
}

func (w *Worker) flush(ctx context.Context, events []models.ViewEvent) {
	inserted, err := w.db.InsertViewEvents(events)
	if err != nil {
		log.Error().Err(err).Int("count", len(events)).Msg("failed to insert view batch")
		return
	}

	perShop := make(map[string]int64)
	for _, ev := range events {
		perShop[ev.Shop]++
	}

	for shop, n := range perShop {
		if err := w.db.IncrementShopViews(shop, n); err != nil {
			log.Error().Err(err).Str("shop", shop).Msg("failed to increment shop views")
		}
		w.bumpMonthlyCounter(ctx, shop, n)
	}

	log.Debug().Int("inserted", inserted).Int("shops", len(perShop)).Msg("flushed view batch")
}

// bumpMonthlyCounter mirrors the counter into redis for cheap usage reads.
// Best-effort: redis being down never loses the sqlite row.
func (w *Worker) bumpMonthlyCounter(ctx context.Context, shop string, n int64) {
	if w.redis == nil {
		return
	}

	key := MonthlyCounterKey(shop, time.Now().UTC())
	pipe := w.redis.Pipeline()
	pipe.IncrBy(ctx, key, n)
	pipe.Expire(ctx, key, monthlyCounterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Debug().Err(err).Str("shop", shop).Msg("redis view counter bump failed")
	}
}

// MonthlyCounterKey builds the redis key for a shop's view counter in the
// month containing ts.
func MonthlyCounterKey(shop string, ts time.Time) string {
	return "views:" + shop + ":" + ts.Format("2006-01")
}
