package lattice

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"

	"ridematch/pkg/apperror"
	"ridematch/pkg/domain"
	"ridematch/pkg/metrics"
)

// Pool phases.
const (
	PhaseBase = "base"
	PhaseGrow = "grow"
)

// Runner dispatches one task per driver to a fixed-size ants pool and joins
// them under a wall-clock timeout.
type Runner struct {
	grower  Grower
	threads int
	timeout time.Duration
	tracker *metrics.TaskTracker
}

// NewRunner creates a runner. threads below 1 means runtime.NumCPU();
// timeout below 1 disables the join timeout.
func NewRunner(g Grower, threads int, timeout time.Duration) *Runner {
	if threads < 1 {
		threads = runtime.NumCPU()
	}
	return &Runner{grower: g, threads: threads, timeout: timeout}
}

// WithTracker reports in-flight tasks per phase.
func (r *Runner) WithTracker(t *metrics.TaskTracker) *Runner {
	r.tracker = t
	return r
}

// BuildBase seeds level 0 for every driver.
func (r *Runner) BuildBase(ctx context.Context, drivers []*domain.Driver) error {
	return r.run(ctx, PhaseBase, drivers, r.grower.Base)
}

// BuildAll grows the lattice of every driver.
func (r *Runner) BuildAll(ctx context.Context, drivers []*domain.Driver) error {
	return r.run(ctx, PhaseGrow, drivers, r.grower.Grow)
}

func (r *Runner) run(ctx context.Context, phase string, drivers []*domain.Driver, task func(context.Context, *domain.Driver) error) error {
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(d *domain.Driver, err error) {
		mu.Lock()
		errs = append(errs, fmt.Errorf("driver %d: %w", d.TripID, err))
		mu.Unlock()
	}

	pool, err := ants.NewPoolWithFunc(r.threads, func(arg any) {
		d := arg.(*domain.Driver)
		defer wg.Done()
		if r.tracker != nil {
			r.tracker.Start(phase)
			defer r.tracker.End(phase)
		}
		defer func() {
			if p := recover(); p != nil {
				record(d, apperror.Newf(apperror.CodeInternal, "%s task panicked: %v", phase, p))
			}
		}()
		if err := task(runCtx, d); err != nil {
			record(d, err)
		}
	})
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to create worker pool")
	}
	defer pool.Release()

	for _, d := range drivers {
		wg.Add(1)
		if err := pool.Invoke(d); err != nil {
			wg.Done()
			record(d, err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		cancel()
		// задачи проверяют контекст между наборами и выходят быстро
		<-done
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s phase after %s: %w", phase, r.timeout, apperror.ErrMatchingTimeout)
	}
	return errors.Join(errs...)
}

// AssignIDs adds every match to the arena in driver order, giving them
// sequential ids starting at the arena base. It returns the next free id and
// the number of drivers with at least one match. Must run after the pool
// join.
func AssignIDs(arena *domain.MatchArena, drivers []*domain.Driver) (next int, withMatches int) {
	for _, d := range drivers {
		for _, m := range d.Matches {
			arena.Add(m)
		}
	}
	withMatches = lo.CountBy(drivers, func(d *domain.Driver) bool { return len(d.Matches) > 0 })
	return arena.Next(), withMatches
}

// RecordLevels reports matches per set size.
func RecordLevels(mt *metrics.Metrics, drivers []*domain.Driver) {
	bySize := make(map[int]int)
	for _, d := range drivers {
		for _, m := range d.Matches {
			bySize[m.Size()]++
		}
	}
	for size, count := range bySize {
		mt.RecordMatches(size, count)
	}
}
