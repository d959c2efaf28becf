package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/config"
	"github.com/CETS-Org/CETS.FE-StudentTeacher-sub002/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ReceiptQueue pushes submission receipts onto persist_receipts_queue.
type ReceiptQueue struct {
	rdb *redis.Client
}

// NewReceiptQueue creates a ReceiptQueue.
func NewReceiptQueue(rdb *redis.Client) *ReceiptQueue {
	return &ReceiptQueue{rdb: rdb}
}

// Publish queues one receipt.
func (q *ReceiptQueue) Publish(ctx context.Context, r model.Receipt) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.PersistReceiptsQueue, payload).Err()
}

// ReceiptStore writes receipts to durable storage.
type ReceiptStore interface {
	SaveReceipt(ctx context.Context, r *model.Receipt) error
}

// PostgresReceipts upserts receipts into submission_receipts.
type PostgresReceipts struct {
	pool *pgxpool.Pool
}

func NewPostgresReceipts(pool *pgxpool.Pool) *PostgresReceipts {
	return &PostgresReceipts{pool: pool}
}

func (p *PostgresReceipts) SaveReceipt(ctx context.Context, r *model.Receipt) error {
	degraded := r.Degraded
	if degraded == nil {
		degraded = []string{}
	}
	// A retried finalize may report the same attempt twice.
	_, err := p.pool.Exec(ctx,
		`INSERT INTO submission_receipts (assessment_id, student_id, metadata_ref, forced, degraded, finalized_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (assessment_id, student_id, metadata_ref) DO UPDATE
		 SET forced = EXCLUDED.forced, degraded = EXCLUDED.degraded, finalized_at = EXCLUDED.finalized_at`,
		r.AssessmentID, r.StudentID, r.MetadataRef, r.Forced, degraded, r.FinalizedAt,
	)
	return err
}

// ReceiptWorker consumes persist_receipts_queue and stores every receipt.
type ReceiptWorker struct {
	store      ReceiptStore
	rdb        *redis.Client
	log        zerolog.Logger
	retryDelay time.Duration
}

// NewReceiptWorker creates a new ReceiptWorker.
func NewReceiptWorker(store ReceiptStore, rdb *redis.Client, log zerolog.Logger) *ReceiptWorker {
	return &ReceiptWorker{
		store:      store,
		rdb:        rdb,
		log:        log.With().Str("component", "receipt_worker").Logger(),
		retryDelay: 5 * time.Second,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ReceiptWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ReceiptWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistReceiptsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var receipt model.Receipt
	if err := json.Unmarshal([]byte(result[1]), &receipt); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.store.SaveReceipt(ctx, &receipt); err != nil {
		w.log.Error().Err(err).
			Str("assessment_id", receipt.AssessmentID).
			Str("student_id", receipt.StudentID).
			Msg("Persist error, retrying")
		// Push back to queue for retry, even when stopping.
		w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistReceiptsQueue, result[1])
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
		return
	}

	w.log.Debug().
		Str("assessment_id", receipt.AssessmentID).
		Bool("forced", receipt.Forced).
		Msg("Receipt stored")
}

// drain stores whatever is still queued before shutdown.
func (w *ReceiptWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistReceiptsQueue).Result()
		if err != nil {
			break
		}

		var receipt model.Receipt
		if err := json.Unmarshal([]byte(result), &receipt); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.store.SaveReceipt(ctx, &receipt); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistReceiptsQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
