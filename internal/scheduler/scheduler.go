// Package scheduler places virtual machines on hosts.
//
// An allocation reads a snapshot of candidate hosts, builds a tentative
// allocation on each, picks the lowest scoring valid one and commits it in a
// single transaction. Every capacity update is conditional, so a competing
// allocation that changed the inventory after the snapshot aborts the commit
// with domain.ErrConcurrentRace instead of overcommitting.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/allocator/internal/domain"
)

// Rand is the randomness used for score jitter, engine selection and
// address picking. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Allocator places VMs on hosts.
type Allocator struct {
	store     Store
	config    Config
	logger    *zap.Logger
	rand      Rand
	publisher EventPublisher
	now       func() time.Time
	keys      keyGenerator
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithRand replaces the random source.
func WithRand(r Rand) Option {
	return func(a *Allocator) { a.rand = r }
}

// WithPublisher publishes an event for every committed placement.
func WithPublisher(p EventPublisher) Option {
	return func(a *Allocator) { a.publisher = p }
}

// WithClock replaces the clock stamping allocations.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// New creates a new Allocator.
func New(store Store, config Config, logger *zap.Logger, opts ...Option) (*Allocator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	keys, err := newKeyGenerator(config.KeyWrappingAlgorithm)
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		store:  store,
		config: config,
		logger: logger.With(zap.String("component", "allocator")),
		rand:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:    time.Now,
		keys:   keys,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Allocate places the request's VM on the best host and commits the
// placement. Errors are *AllocationError; only races are worth retrying.
func (a *Allocator) Allocate(ctx context.Context, req *Request) (*Placement, error) {
	placement, err := a.allocate(ctx, req)
	return placement, wrapError(err)
}

func (a *Allocator) allocate(ctx context.Context, req *Request) (*Placement, error) {
	logger := a.logger.With(
		zap.String("vm_id", req.VM.ID),
		zap.Int("requested_cores", req.Cores),
		zap.Int("requested_memory_gib", req.MemoryGiB),
		zap.Int("requested_storage_gib", req.StorageGiB),
	)
	logger.Info("Starting allocation for VM", zap.Stringer("request", req))

	// 1. Snapshot the candidate hosts
	candidates, err := a.store.CandidateHosts(ctx, req)
	if err != nil {
		logger.Error("Failed to list candidate hosts", zap.Error(err))
		return nil, fmt.Errorf("failed to list candidate hosts: %w", err)
	}
	logger.Debug("Found candidate hosts", zap.Int("count", len(candidates)))

	// 2. Build and score a tentative allocation per candidate
	best, err := a.best(candidates, req, logger)
	if err != nil {
		return nil, err
	}
	if best == nil {
		logger.Warn("No host satisfies allocation requirements",
			zap.Int("candidates", len(candidates)),
		)
		return nil, fmt.Errorf("%w: checked %d candidates for %s",
			domain.ErrNoEligibleHost, len(candidates), req)
	}

	// 3. Commit
	var placement *Placement
	err = a.store.InTx(ctx, func(tx Tx) error {
		var err error
		placement, err = best.commit(ctx, tx, a.keys, a.rand, a.now().UTC())
		return err
	})
	if err != nil {
		log := logger.Error
		if errors.Is(err, domain.ErrConcurrentRace) {
			log = logger.Warn
		}
		log("Failed to commit allocation",
			zap.String("host_id", best.HostID()),
			zap.Error(err),
		)
		return nil, err
	}

	fields := []zap.Field{
		zap.String("host_id", placement.HostID),
		zap.String("slice_id", placement.SliceID),
		zap.Float64("score", placement.Score),
		zap.String("summary", placement.Summary),
	}
	if !req.VM.CreatedAt.IsZero() {
		fields = append(fields, zap.Duration("since_created", a.now().Sub(req.VM.CreatedAt)))
	}
	logger.Info("VM allocated", fields...)

	if a.publisher != nil {
		if err := a.publisher.PublishPlacement(ctx, placement); err != nil {
			logger.Warn("Failed to publish placement event", zap.Error(err))
		}
	}
	return placement, nil
}

// best returns the valid allocation with the lowest jittered score, or nil.
// Ties go to the earlier candidate.
func (a *Allocator) best(candidates []*HostCandidate, req *Request, logger *zap.Logger) (*Allocation, error) {
	var (
		best      *Allocation
		bestScore float64
	)
	for _, c := range candidates {
		alloc, err := newAllocation(c, req, a.config)
		if err != nil {
			logger.Error("Failed to evaluate host", zap.String("host_id", c.HostID), zap.Error(err))
			return nil, err
		}
		if !alloc.Valid() {
			logger.Debug("Host rejected", zap.String("host_id", c.HostID))
			continue
		}

		score := alloc.Score() + a.rand.Float64()*a.config.MaxRandomScore
		logger.Debug("Host scored",
			zap.String("host_id", c.HostID),
			zap.Float64("score", alloc.Score()),
			zap.Float64("jittered_score", score),
		)
		if best == nil || score < bestScore {
			best, bestScore = alloc, score
		}
	}
	return best, nil
}
