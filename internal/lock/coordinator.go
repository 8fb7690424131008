package lock

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/appprecos/enrich-cli/internal/model"
)

// Store is the processing-record slice of the storage layer. The backing
// store has no advisory lock primitive, so exclusion is built on conditional
// status updates over the shared table.
type Store interface {
	ListRecordsInStatus(ctx context.Context, status model.RecordStatus) ([]model.ProcessingRecord, error)
	TransitionRecord(ctx context.Context, id string, from, to model.RecordStatus) (bool, error)
	ReapStaleExtracting(ctx context.Context, cutoff time.Time) (int, error)
}

// Config holds the coordination timings.
type Config struct {
	PollInterval  time.Duration // between acquisition attempts
	SettleDelay   time.Duration // claim-to-verify window
	Jitter        time.Duration // max random addition to backoff
	MaxWait       time.Duration // Acquire gives up after this
	StaleTimeout  time.Duration // extracting older than this is abandoned
	SweepInterval time.Duration // between stale sweeps
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:  2 * time.Second,
		SettleDelay:   1500 * time.Millisecond,
		Jitter:        500 * time.Millisecond,
		MaxWait:       600 * time.Second,
		StaleTimeout:  300 * time.Second,
		SweepInterval: 30 * time.Second,
	}
}

// Coordinator grants exclusive access to the extraction step across
// independent processes. At most one processing record may hold the
// extracting status at any instant; that status is the lock.
//
// The protocol is optimistic claim then verify: claim the record with a
// conditional update, wait a settle delay, then re-scan. If the scan shows
// exactly our record extracting, the lock is held. If a competing claimant
// slipped into the scan window, we revert and back off with jitter.
type Coordinator struct {
	store Store
	cfg   Config

	lastSweep time.Time

	// injectable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

// NewCoordinator creates a coordinator with the given timings.
func NewCoordinator(store Store, cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// Acquire blocks until the record holds the lock or maxWait elapses.
// Returns false when the wait budget runs out. maxWait <= 0 uses the
// configured default.
func (c *Coordinator) Acquire(ctx context.Context, recordID string, maxWait time.Duration) (bool, error) {
	if maxWait <= 0 {
		maxWait = c.cfg.MaxWait
	}
	deadline := c.now().Add(maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return false, eris.Wrap(err, "lock: acquire canceled")
		}
		if c.now().After(deadline) {
			zap.L().Warn("lock acquisition timed out",
				zap.String("record_id", recordID),
				zap.Duration("max_wait", maxWait),
			)
			return false, nil
		}

		c.sweepStale(ctx)

		acquired, err := c.tryClaim(ctx, recordID)
		if err != nil {
			return false, err
		}
		if acquired {
			zap.L().Info("extraction lock acquired", zap.String("record_id", recordID))
			return true, nil
		}

		c.sleep(c.backoff())
	}
}

// Release transitions the record from extracting to its final status. Safe
// to call when the lock was already lost to the stale sweep.
func (c *Coordinator) Release(ctx context.Context, recordID string, final model.RecordStatus) error {
	moved, err := c.store.TransitionRecord(ctx, recordID, model.RecordExtracting, final)
	if err != nil {
		return eris.Wrapf(err, "lock: release %s", recordID)
	}
	if !moved {
		zap.L().Warn("release found record no longer extracting, likely reaped as stale",
			zap.String("record_id", recordID),
			zap.String("final_status", string(final)),
		)
	}
	return nil
}

// tryClaim runs one claim-settle-verify round.
func (c *Coordinator) tryClaim(ctx context.Context, recordID string) (bool, error) {
	holders, err := c.store.ListRecordsInStatus(ctx, model.RecordExtracting)
	if err != nil {
		return false, eris.Wrap(err, "lock: scan holders")
	}
	if len(holders) > 0 {
		return false, nil
	}

	claimed, err := c.store.TransitionRecord(ctx, recordID, model.RecordProcessing, model.RecordExtracting)
	if err != nil {
		return false, eris.Wrap(err, "lock: claim")
	}
	if !claimed {
		return false, nil
	}

	c.sleep(c.cfg.SettleDelay)

	holders, err = c.store.ListRecordsInStatus(ctx, model.RecordExtracting)
	if err != nil {
		// Claim state is unknown; revert so nothing is left dangling.
		c.revert(ctx, recordID)
		return false, eris.Wrap(err, "lock: verify claim")
	}

	if len(holders) == 1 && holders[0].ID == recordID {
		return true, nil
	}

	// A competing claimant raced into the settle window. Step back.
	zap.L().Info("lock claim raced, reverting",
		zap.String("record_id", recordID),
		zap.Int("holders", len(holders)),
	)
	c.revert(ctx, recordID)
	return false, nil
}

func (c *Coordinator) revert(ctx context.Context, recordID string) {
	if _, err := c.store.TransitionRecord(ctx, recordID, model.RecordExtracting, model.RecordProcessing); err != nil {
		zap.L().Error("lock revert failed", zap.String("record_id", recordID), zap.Error(err))
	}
}

// sweepStale reclaims records abandoned by crashed workers. Runs at most
// once per SweepInterval.
func (c *Coordinator) sweepStale(ctx context.Context) {
	now := c.now()
	if now.Sub(c.lastSweep) < c.cfg.SweepInterval {
		return
	}
	c.lastSweep = now

	reaped, err := c.store.ReapStaleExtracting(ctx, now.Add(-c.cfg.StaleTimeout))
	if err != nil {
		zap.L().Error("stale lock sweep failed", zap.Error(err))
		return
	}
	if reaped > 0 {
		zap.L().Warn("reclaimed stale extraction locks", zap.Int("count", reaped))
	}
}

// backoff desynchronizes competing claimants.
func (c *Coordinator) backoff() time.Duration {
	d := c.cfg.PollInterval
	if c.cfg.Jitter > 0 {
		d += rand.N(c.cfg.Jitter)
	}
	return d
}
