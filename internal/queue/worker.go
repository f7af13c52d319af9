package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"searchsync/internal/audit"
	"searchsync/internal/domain"
	"searchsync/internal/ledger"
	"searchsync/internal/queue/metrics"
	"searchsync/internal/search"
)

// WorkerOptions tunes the pool. Zero values fall back to the defaults below.
type WorkerOptions struct {
	// Workers is the number of concurrent claim loops.
	Workers int
	// BatchSize is the claim size per dequeue.
	BatchSize int
	// ClaimLease bounds how long a crashed worker can strand a claim.
	ClaimLease time.Duration
	// MaxAttempts is the retry ceiling; afterwards the entry is
	// stuck-FAILED and left for operators.
	MaxAttempts int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
	// RetryCeiling caps the per-attempt delay.
	RetryCeiling time.Duration
	// Aliases overrides the alias an entity type's documents go to.
	// Unlisted types use the type name itself.
	Aliases map[domain.EntityType]string
}

func (o *WorkerOptions) withDefaults() WorkerOptions {
	out := *o
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 50
	}
	if out.ClaimLease <= 0 {
		out.ClaimLease = 30 * time.Second
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 8
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 2 * time.Second
	}
	if out.RetryCeiling <= 0 {
		out.RetryCeiling = 5 * time.Minute
	}
	return out
}

// Worker drains the queue into the search engine. N workers run the same
// loop concurrently; the store's claim semantics keep them off each other's
// entries and the ledger's compare-and-set keeps stale completions harmless,
// so no further coordination exists on the apply path.
type Worker struct {
	store   Store
	ledger  ledger.Store
	engine  search.Engine
	opts    WorkerOptions
	metrics *metrics.Metrics
	ops     audit.Publisher
	log     *logrus.Logger
}

func NewWorker(store Store, ledgerStore ledger.Store, engine search.Engine, opts WorkerOptions, m *metrics.Metrics, ops audit.Publisher, log *logrus.Logger) *Worker {
	if ops == nil {
		ops = audit.NopPublisher{}
	}
	return &Worker{
		store:   store,
		ledger:  ledgerStore,
		engine:  engine,
		opts:    opts.withDefaults(),
		metrics: m,
		ops:     ops,
		log:     log,
	}
}

// Run blocks until ctx is cancelled, running the claim loops plus a gauge
// sampler.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Workers; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	g.Go(func() error {
		return w.sampleGauges(ctx)
	})
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = 100 * time.Millisecond
	idle.MaxInterval = 5 * time.Second
	idle.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := w.store.DequeueBatch(ctx, w.opts.BatchSize, w.opts.ClaimLease)
		if err != nil {
			w.log.WithError(err).Error("dequeue batch")
			if !w.sleep(ctx, idle.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		if len(batch) == 0 {
			if !w.sleep(ctx, idle.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		idle.Reset()
		w.processBatch(ctx, batch)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// processBatch coalesces per entity, then applies each surviving entry.
// Within the batch only the highest version per entity is applied; entries
// superseded by a pending entry outside the batch are coalesced too, since
// the worker holding the newer entry will produce the newer document.
func (w *Worker) processBatch(ctx context.Context, batch []*Entry) {
	byEntity := make(map[string][]*Entry)
	for _, e := range batch {
		byEntity[e.Entity.Key()] = append(byEntity[e.Entity.Key()], e)
	}

	for _, group := range byEntity {
		winner := group[0]
		for _, e := range group[1:] {
			if e.Version > winner.Version {
				winner = e
			}
		}

		var superseded []int64
		for _, e := range group {
			if e != winner {
				superseded = append(superseded, e.ID)
			}
		}
		if len(superseded) > 0 {
			if err := w.store.MarkCoalesced(ctx, superseded); err != nil {
				w.log.WithError(err).Error("mark coalesced")
			} else {
				for range superseded {
					w.metrics.IncrementOutcome("coalesced")
				}
			}
		}

		if w.superseded(ctx, winner) {
			if err := w.store.MarkCoalesced(ctx, []int64{winner.ID}); err != nil {
				w.log.WithError(err).Error("mark coalesced")
				continue
			}
			w.metrics.IncrementOutcome("coalesced")
			continue
		}

		w.apply(ctx, winner)
	}
}

// superseded reports whether a strictly newer version for the entity is
// pending in the queue or already recorded in the ledger. Either way this
// entry must not produce an engine write: a v2 document must never land
// after v3 has.
func (w *Worker) superseded(ctx context.Context, e *Entry) bool {
	newest, err := w.store.MaxPendingVersion(ctx, e.Entity)
	if err != nil {
		w.log.WithError(err).Error("check pending versions")
		// Fall through to the ledger check; the CAS there still rejects
		// stale completions.
	} else if newest > e.Version {
		return true
	}

	row, err := w.ledger.Get(ctx, e.Entity)
	if err != nil {
		return false
	}
	return row.Version > e.Version
}

// apply performs the engine write for one entry and records the outcome.
func (w *Worker) apply(ctx context.Context, e *Entry) {
	start := time.Now()
	err := w.writeDocument(ctx, e)
	w.metrics.ObserveApply(string(e.Operation), time.Since(start))
	if err != nil {
		w.fail(ctx, e, err)
		return
	}

	if err := w.recordIndexed(ctx, e); err != nil {
		w.fail(ctx, e, err)
		return
	}
	if err := w.store.MarkApplied(ctx, e.ID); err != nil {
		w.log.WithError(err).WithField("entry", e.ID).Error("mark applied")
		return
	}
	w.metrics.IncrementOutcome("applied")
}

// writeDocument dispatches on the closed operation set. An unknown operation
// is a bug upstream and fails the entry rather than guessing.
func (w *Worker) writeDocument(ctx context.Context, e *Entry) error {
	target := w.aliasFor(e.Entity.Type)
	switch e.Operation {
	case domain.OpUpsert:
		var doc search.Document
		if err := json.Unmarshal(e.Payload, &doc); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return w.engine.UpsertDocument(ctx, target, e.Entity.DocID(), doc)
	case domain.OpDelete:
		return w.engine.DeleteDocument(ctx, target, e.Entity.DocID())
	default:
		return fmt.Errorf("unknown operation %q", e.Operation)
	}
}

// recordIndexed moves the ledger forward. A stale completion is the expected
// race under out-of-order delivery and is dropped quietly; a missing ledger
// row is a pipeline bug and fails the entry.
func (w *Worker) recordIndexed(ctx context.Context, e *Entry) error {
	var err error
	if e.Operation == domain.OpDelete {
		err = w.ledger.MarkRemoved(ctx, e.Entity, e.Version)
	} else {
		err = w.ledger.MarkIndexed(ctx, e.Entity, e.Version)
	}
	if errors.Is(err, ledger.ErrVersionConflict) {
		w.log.WithFields(logrus.Fields{
			"entity":  e.Entity.Key(),
			"version": e.Version,
		}).Debug("stale completion dropped")
		return nil
	}
	return err
}

func (w *Worker) fail(ctx context.Context, e *Entry, cause error) {
	// Same stale-completion rule as recordIndexed: a newer version already
	// in the ledger keeps its state, the stale entry just retries.
	if err := w.ledger.MarkFailed(ctx, e.Entity, e.Version, cause); err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			w.log.WithFields(logrus.Fields{
				"entity":  e.Entity.Key(),
				"version": e.Version,
			}).Debug("stale failure dropped")
		} else {
			w.log.WithError(err).WithField("entity", e.Entity.Key()).Error("mark ledger failed")
		}
	}

	attempt := e.Attempts + 1
	entryLog := w.log.WithFields(logrus.Fields{
		"entry":   e.ID,
		"entity":  e.Entity.Key(),
		"version": e.Version,
		"attempt": attempt,
	})

	if attempt >= w.opts.MaxAttempts {
		if err := w.store.MarkExhausted(ctx, e.ID, cause); err != nil {
			entryLog.WithError(err).Error("mark exhausted")
			return
		}
		w.metrics.IncrementOutcome("exhausted")
		entryLog.WithError(cause).Error("entry exhausted retries, stuck FAILED")
		w.ops.Publish(ctx, audit.Event{
			Action:  audit.ActionEntryExhausted,
			Subject: e.Entity.Key(),
			Detail: map[string]string{
				"version": fmt.Sprintf("%d", e.Version),
				"error":   cause.Error(),
			},
			Timestamp: time.Now(),
		})
		return
	}

	delay := w.retryDelay(attempt)
	if err := w.store.MarkRetry(ctx, e.ID, cause, time.Now().Add(delay)); err != nil {
		entryLog.WithError(err).Error("mark retry")
		return
	}
	w.metrics.IncrementOutcome("retried")
	if search.IsTransient(cause) {
		entryLog.WithError(cause).Warn("transient apply failure, retrying")
	} else {
		entryLog.WithError(cause).Error("apply failure, retrying")
	}
}

// retryDelay doubles per attempt from RetryBackoff, capped at RetryCeiling.
func (w *Worker) retryDelay(attempt int) time.Duration {
	delay := w.opts.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.opts.RetryCeiling {
			return w.opts.RetryCeiling
		}
	}
	return delay
}

func (w *Worker) aliasFor(t domain.EntityType) string {
	if alias, ok := w.opts.Aliases[t]; ok {
		return alias
	}
	return string(t)
}

func (w *Worker) sampleGauges(ctx context.Context) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if depth, err := w.store.Depth(ctx); err == nil {
				w.metrics.SetDepth(depth)
			}
			if failed, err := w.store.FailedCount(ctx); err == nil {
				w.metrics.SetFailed(failed)
			}
		}
	}
}

// DrainOnce claims and processes a single batch; tests and the reindex CLI
// use it to step the pipeline deterministically.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	batch, err := w.store.DequeueBatch(ctx, w.opts.BatchSize, w.opts.ClaimLease)
	if err != nil {
		return 0, err
	}
	w.processBatch(ctx, batch)
	return len(batch), nil
}
