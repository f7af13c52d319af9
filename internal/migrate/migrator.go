package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"searchsync/internal/audit"
	"searchsync/internal/search"
)

var (
	migrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searchsync_migrations_total",
		Help: "Completed migrations by terminal state",
	}, []string{"state"})

	migrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchsync_migration_duration_seconds",
		Help:    "Wall time of migrations reaching a terminal state",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})
)

// Options configures the migrator.
type Options struct {
	// QueueDepth, when set, gates the swap: the migrator waits for the
	// queue to drain and then re-copies, so writes that reached only the
	// old generation during populating survive the cut-over.
	QueueDepth func(ctx context.Context) (int64, error)
	// DrainTimeout bounds that wait; on timeout the migration aborts
	// pre-swap with no visible effect.
	DrainTimeout time.Duration
}

// Migrator rebuilds an alias's physical index with zero downtime:
// BUILDING -> POPULATING -> SWAPPING -> CLEANUP -> DONE. Everything up to
// the swap is invisible to readers and safe to abort; the swap itself is one
// atomic engine action.
type Migrator struct {
	engine search.Engine
	store  Store
	opts   Options
	ops    audit.Publisher
	log    *logrus.Logger
}

func New(engine search.Engine, store Store, opts Options, ops audit.Publisher, log *logrus.Logger) *Migrator {
	if ops == nil {
		ops = audit.NopPublisher{}
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = time.Minute
	}
	return &Migrator{engine: engine, store: store, opts: opts, ops: ops, log: log}
}

// Start registers a migration for alias and runs it in the background.
// Returns the migration ID, or ErrMigrationInProgress when the alias already
// has one in flight. mapping is the target index mapping, passed through to
// the engine.
func (mg *Migrator) Start(ctx context.Context, alias string, mapping []byte) (string, error) {
	if alias == "" {
		return "", fmt.Errorf("alias is required")
	}
	m := &Migration{
		ID:       uuid.NewString(),
		Alias:    alias,
		NewIndex: fmt.Sprintf("%s_%d", alias, time.Now().UnixMilli()),
		State:    StateBuilding,
	}
	if err := mg.store.Begin(ctx, m); err != nil {
		return "", err
	}

	// The run outlives the request; recovery at startup deals with a
	// process dying mid-flight.
	go func() {
		if err := mg.run(context.Background(), m, mapping); err != nil {
			mg.log.WithError(err).WithFields(logrus.Fields{
				"migration": m.ID,
				"alias":     m.Alias,
			}).Error("migration did not complete")
		}
	}()
	return m.ID, nil
}

// Status returns the current migration record.
func (mg *Migrator) Status(ctx context.Context, id string) (*Migration, error) {
	return mg.store.Get(ctx, id)
}

func (mg *Migrator) run(ctx context.Context, m *Migration, mapping []byte) error {
	start := time.Now()
	runLog := mg.log.WithFields(logrus.Fields{
		"migration": m.ID,
		"alias":     m.Alias,
		"new_index": m.NewIndex,
	})
	mg.publish(ctx, audit.ActionMigrationStarted, m, "")

	finish := func(state State, detail string, copied int) {
		if err := mg.store.SetState(ctx, m.ID, state, detail, copied); err != nil {
			runLog.WithError(err).Error("record migration state")
		}
		if state.Terminal() {
			migrationsTotal.WithLabelValues(string(state)).Inc()
			migrationDuration.Observe(time.Since(start).Seconds())
		}
	}

	// BUILDING. A leftover index with our generation name means a previous
	// partial run; abort loudly instead of overwriting.
	exists, err := mg.engine.IndexExists(ctx, m.NewIndex)
	if err != nil {
		finish(StateFailed, err.Error(), 0)
		mg.publish(ctx, audit.ActionMigrationFailed, m, err.Error())
		return fmt.Errorf("check new index: %w", err)
	}
	if exists {
		detail := fmt.Sprintf("index %q already exists from a previous run", m.NewIndex)
		finish(StateFailed, detail, 0)
		mg.publish(ctx, audit.ActionMigrationFailed, m, detail)
		return fmt.Errorf("building %s: %s", m.Alias, detail)
	}
	if err := mg.engine.CreateIndex(ctx, m.NewIndex, mapping); err != nil {
		finish(StateFailed, err.Error(), 0)
		mg.publish(ctx, audit.ActionMigrationFailed, m, err.Error())
		return fmt.Errorf("create new index: %w", err)
	}

	oldIndexes, err := mg.engine.AliasTargets(ctx, m.Alias)
	if err != nil {
		return mg.abort(ctx, m, finish, fmt.Errorf("resolve alias: %w", err))
	}

	// POPULATING. Zero copy failures or the whole migration aborts,
	// leaving the live generation untouched.
	finish(StatePopulating, "", 0)
	copied, err := mg.copyAll(ctx, oldIndexes, m.NewIndex)
	if err != nil {
		return mg.abort(ctx, m, finish, err)
	}
	runLog.WithField("docs", copied).Info("populated new generation")

	// Go/no-go: queue writes applied during the copy went through the
	// alias into the old generation only. Wait for the queue to drain,
	// re-copy so those documents carry over, and confirm the queue stayed
	// empty; a write racing in restarts the cycle until the deadline.
	drainDeadline := time.Now().Add(mg.opts.DrainTimeout)
	for mg.opts.QueueDepth != nil {
		if err := mg.waitForDrain(ctx, drainDeadline); err != nil {
			return mg.abort(ctx, m, finish, err)
		}
		copied, err = mg.copyAll(ctx, oldIndexes, m.NewIndex)
		if err != nil {
			return mg.abort(ctx, m, finish, err)
		}
		depth, err := mg.opts.QueueDepth(ctx)
		if err != nil {
			return mg.abort(ctx, m, finish, fmt.Errorf("queue depth: %w", err))
		}
		if depth == 0 {
			break
		}
		runLog.WithField("pending", depth).Info("writes landed during drain, re-copying")
	}

	// SWAPPING. One atomic action; a failure here is the only path to
	// CRITICAL.
	finish(StateSwapping, "", copied)
	if err := mg.engine.SwapAlias(ctx, m.Alias, m.NewIndex, oldIndexes); err != nil {
		finish(StateCritical, err.Error(), copied)
		mg.publish(ctx, audit.ActionMigrationCritical, m, err.Error())
		return fmt.Errorf("alias swap: %w", err)
	}

	// CLEANUP. The swap is confirmed; a stale generation left behind is an
	// annoyance, not a correctness problem.
	finish(StateCleanup, "", copied)
	var cleanupDetail string
	for _, old := range oldIndexes {
		if err := mg.engine.DeleteIndex(ctx, old); err != nil {
			cleanupDetail = fmt.Sprintf("stale generation %q not deleted: %v", old, err)
			runLog.WithError(err).WithField("index", old).Warn("delete old generation")
		}
	}

	finish(StateDone, cleanupDetail, copied)
	mg.publish(ctx, audit.ActionMigrationFinished, m, "")
	runLog.Info("migration complete")
	return nil
}

// abort tears down the half-built generation and fails the migration. Only
// legal before the swap, where nothing is client-visible yet.
func (mg *Migrator) abort(ctx context.Context, m *Migration, finish func(State, string, int), cause error) error {
	if err := mg.engine.DeleteIndex(ctx, m.NewIndex); err != nil {
		mg.log.WithError(err).WithField("index", m.NewIndex).Warn("delete half-built index")
	}
	finish(StateFailed, cause.Error(), 0)
	mg.publish(ctx, audit.ActionMigrationFailed, m, cause.Error())
	return cause
}

// copyAll bulk-copies every source index into dst. Copies are idempotent
// upserts, so repeating a pass only refreshes documents already carried over.
func (mg *Migrator) copyAll(ctx context.Context, sources []string, dst string) (int, error) {
	copied := 0
	for _, src := range sources {
		n, err := mg.engine.Copy(ctx, src, dst)
		copied += n
		if err != nil {
			return copied, fmt.Errorf("copy %s: %w", src, err)
		}
	}
	return copied, nil
}

func (mg *Migrator) waitForDrain(ctx context.Context, deadline time.Time) error {
	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = 50 * time.Millisecond
	poll.MaxInterval = 2 * time.Second
	poll.MaxElapsedTime = 0

	for {
		depth, err := mg.opts.QueueDepth(ctx)
		if err != nil {
			return fmt.Errorf("queue depth: %w", err)
		}
		if depth == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("queue not drained before cut-over (%d pending)", depth)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll.NextBackOff()):
		}
	}
}

// Recover settles migrations interrupted by a process restart. Pre-swap runs
// abort cleanly; a run caught mid-swap is CRITICAL unless the alias already
// points at the new generation, in which case the swap had landed.
func (mg *Migrator) Recover(ctx context.Context) error {
	active, err := mg.store.Active(ctx)
	if err != nil {
		return fmt.Errorf("list active migrations: %w", err)
	}
	for _, m := range active {
		switch m.State {
		case StateBuilding, StatePopulating:
			if exists, err := mg.engine.IndexExists(ctx, m.NewIndex); err == nil && exists {
				if err := mg.engine.DeleteIndex(ctx, m.NewIndex); err != nil {
					mg.log.WithError(err).WithField("index", m.NewIndex).Warn("delete interrupted index")
				}
			}
			if err := mg.store.SetState(ctx, m.ID, StateFailed, "interrupted by restart", 0); err != nil {
				return err
			}
		case StateSwapping:
			targets, err := mg.engine.AliasTargets(ctx, m.Alias)
			if err == nil && len(targets) == 1 && targets[0] == m.NewIndex {
				// Swap landed before the crash; old generations may
				// linger but readers are on the new one.
				if err := mg.store.SetState(ctx, m.ID, StateDone, "recovered after restart; stale generations may remain", m.DocsCopied); err != nil {
					return err
				}
				continue
			}
			if err := mg.store.SetState(ctx, m.ID, StateCritical, "interrupted during swap; manual reconciliation required", m.DocsCopied); err != nil {
				return err
			}
			mg.publish(ctx, audit.ActionMigrationCritical, m, "interrupted during swap")
		case StateCleanup:
			if err := mg.store.SetState(ctx, m.ID, StateDone, "cleanup interrupted; stale generations may remain", m.DocsCopied); err != nil {
				return err
			}
		}
	}
	return nil
}

func (mg *Migrator) publish(ctx context.Context, action string, m *Migration, detail string) {
	event := audit.Event{
		Action:    action,
		Subject:   m.Alias,
		Timestamp: time.Now(),
		Detail: map[string]string{
			"migration": m.ID,
			"new_index": m.NewIndex,
		},
	}
	if detail != "" {
		event.Detail["error"] = detail
	}
	mg.ops.Publish(ctx, event)
}
