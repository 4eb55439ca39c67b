// Package engine runs the matching pipeline for one interval at a time:
// load trips, build the match lattice, price it, pick an assignment, verify
// it, then persist and export the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"google.golang.org/grpc/health/grpc_health_v1"

	"ridematch/pkg/apperror"
	"ridematch/pkg/config"
	"ridematch/pkg/domain"
	"ridematch/pkg/logger"
	"ridematch/pkg/metrics"
	"ridematch/pkg/telemetry"
	"ridematch/services/matcher-svc/internal/export"
	"ridematch/services/matcher-svc/internal/feasibility"
	"ridematch/services/matcher-svc/internal/geo"
	"ridematch/services/matcher-svc/internal/lattice"
	"ridematch/services/matcher-svc/internal/profit"
	"ridematch/services/matcher-svc/internal/repository"
	"ridematch/services/matcher-svc/internal/source"
	"ridematch/services/matcher-svc/internal/tables"
	"ridematch/services/matcher-svc/internal/validation"
)

// DefaultSpeed скорость uniform-таблиц без файла: 20 миль/ч в м/с
const DefaultSpeed = 20 * domain.MetersPerMile / domain.SecondsPerHour

// HealthSetter принимает статус готовности после каждого интервала
type HealthSetter interface {
	SetServingStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus)
}

// Runner выполняет интервалы с общими оракулом, таблицами и хранилищем
type Runner struct {
	cfg     *config.Config
	source  source.Source
	oracle  geo.Oracle
	tables  *tables.Tables
	repo    repository.RunRepository
	metrics *metrics.Metrics
	health  HealthSetter
	exports []exporter
	now     func() time.Time
}

type exporter struct {
	gen     export.Generator
	pattern string
}

// Option настраивает Runner
type Option func(*Runner)

// WithRepository сохраняет итог каждого интервала
func WithRepository(repo repository.RunRepository) Option {
	return func(r *Runner) { r.repo = repo }
}

// WithMetrics включает запись prometheus метрик
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithHealth сообщает статус health серверу
func WithHealth(h HealthSetter) Option {
	return func(r *Runner) { r.health = h }
}

// WithExport добавляет выгрузку в файл; pattern поддерживает {run} и {interval}
func WithExport(g export.Generator, pattern string) Option {
	return func(r *Runner) {
		if pattern != "" {
			r.exports = append(r.exports, exporter{gen: g, pattern: pattern})
		}
	}
}

// WithTables задаёт таблицы скоростей; nil означает uniform по умолчанию
func WithTables(tb *tables.Tables) Option {
	return func(r *Runner) { r.tables = tb }
}

// New создаёт Runner
func New(cfg *config.Config, src source.Source, oracle geo.Oracle, opts ...Option) (*Runner, error) {
	if src == nil {
		return nil, apperror.New(apperror.CodeNilInput, "trip source is nil")
	}
	if oracle == nil {
		return nil, apperror.ErrNilOracle
	}
	r := &Runner{cfg: cfg, source: src, oracle: oracle, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Outcome итог одного интервала
type Outcome struct {
	RunID      string
	Interval   int
	Solver     string
	Drivers    int
	Passengers int
	Matches    int
	// MaxSize наибольшее число пассажиров в одном совпадении
	MaxSize    int
	Assignment domain.Assignment
	Profit     int64
	Target     float64
	Covered    int
	Suspect    bool
	// Negative совпадения с отрицательной прибылью после корректировок
	Negative   int
	Violations *apperror.ValidationErrors
	Duration   time.Duration
}

// Run выполняет интервалы 0, 1, ... по таймеру matching.interval до отмены
// ctx. С matching.run_once выполняется только интервал 0 и ошибка
// возвращается вызывающему.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.Matching.RunOnce {
		_, err := r.RunInterval(ctx, 0)
		return err
	}

	ticker := time.NewTicker(r.cfg.Matching.Interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		if _, err := r.RunInterval(ctx, n); err != nil {
			switch {
			case errors.Is(err, repository.ErrNoTrips):
				logger.Log.Info("No trips in interval", "interval", n)
			case ctx.Err() != nil:
				return nil
			default:
				logger.Log.Error("Interval failed", "interval", n, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunInterval обрабатывает один интервал целиком. Снимок освобождается до
// возврата, поэтому Outcome ссылается только на handles арены.
func (r *Runner) RunInterval(ctx context.Context, n int) (out *Outcome, err error) {
	runID := uuid.NewString()
	log := logger.WithRun(runID, n)
	started := r.now()

	ctx, span := telemetry.StartSpan(ctx, "engine.RunInterval")
	defer span.End()

	defer func() {
		dur := time.Since(started)
		if r.metrics != nil && !errors.Is(err, repository.ErrNoTrips) {
			r.metrics.RecordInterval(err == nil, dur)
		}
		if err != nil {
			telemetry.SetError(ctx, err)
			if !errors.Is(err, repository.ErrNoTrips) {
				r.setHealth(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			}
			return
		}
		r.setHealth(grpc_health_v1.HealthCheckResponse_SERVING)
	}()

	snap, err := r.source.Snapshot(ctx, n)
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	telemetry.SetAttributes(ctx, telemetry.SnapshotAttributes(runID, n, len(snap.Drivers), len(snap.Passengers))...)
	log.Info("Interval started", "drivers", len(snap.Drivers), "passengers", len(snap.Passengers))

	// без водителей или без пассажиров сопоставлять нечего
	if len(snap.Drivers) == 0 || len(snap.Passengers) == 0 {
		return nil, fmt.Errorf("%w: %w", apperror.ErrEmptySnapshot, repository.ErrNoTrips)
	}
	if v := snap.Validate(); !v.IsValid() {
		return nil, v.Err()
	}

	tb, err := r.tablesFor(snap)
	if err != nil {
		return nil, err
	}
	hour := tb.Bucket(intervalStart(snap))

	method := r.cfg.Oracle.Method
	if method == "" {
		method = geo.MethodGreatCircle
	}
	matrix := geo.NewMatrix(r.oracle, method, snap, snap.Slots().Size())
	if r.metrics != nil {
		matrix.WithMetrics(r.metrics)
	}
	defer matrix.Clear()

	checker := feasibility.NewChecker(snap, matrix, tb, hour)

	if err := r.buildMatches(ctx, log, snap, checker); err != nil {
		return nil, err
	}

	negative, err := r.price(ctx, snap, matrix, tb)
	if err != nil {
		return nil, err
	}

	arena := domain.NewMatchArena(0)
	_, withMatches := lattice.AssignIDs(arena, snap.Drivers)
	maxSize := 0
	for _, m := range arena.All() {
		maxSize = max(maxSize, m.Size())
	}
	telemetry.SetAttributes(ctx, telemetry.MatchAttributes(arena.Len(), withMatches, maxSize)...)
	log.Info("Matches built", "matches", arena.Len(), "drivers_with_matches", withMatches,
		"max_size", maxSize, "negative", negative)

	sol, err := r.solve(ctx, snap)
	if err != nil {
		return nil, err
	}
	for _, w := range sol.Warnings {
		log.Warn("Solver warning", "code", w.Code, "message", w.Message)
	}

	violations := apperror.NewValidationErrors()
	if r.cfg.Matching.Validate {
		vctx, end := telemetry.Phase(ctx, "engine.Validate")
		violations, err = validation.Run(vctx, validation.Input{
			Checker:    checker,
			Drivers:    snap.Drivers,
			Arena:      arena,
			Assignment: sol.Assignment,
			Graph:      sol.Graph,
		})
		end(err)
		if err != nil {
			return nil, err
		}
		r.recordViolations(violations)
		for _, msg := range violations.ErrorMessages() {
			log.Error("Verification failed", "error", msg)
		}
	}

	stats := domain.CalculateSolutionStatistics(len(snap.Drivers), arena, sol.Assignment)
	out = &Outcome{
		RunID:      runID,
		Interval:   n,
		Solver:     r.solverName(),
		Drivers:    len(snap.Drivers),
		Passengers: len(snap.Passengers),
		Matches:    arena.Len(),
		MaxSize:    maxSize,
		Assignment: sol.Assignment,
		Profit:     sol.Profit,
		Target:     sol.Target,
		Covered:    stats.PassengersCovered,
		Suspect:    sol.Suspect,
		Negative:   negative,
		Violations: violations,
		Duration:   time.Since(started),
	}

	report := &export.Report{
		RunID:      runID,
		Interval:   n,
		Solver:     out.Solver,
		StartedAt:  started,
		Duration:   out.Duration,
		Target:     sol.Target,
		Suspect:    sol.Suspect,
		Violations: len(violations.Errors),
		Snapshot:   snap,
		Arena:      arena,
		Assignment: sol.Assignment,
	}

	if err := r.persist(ctx, out, report); err != nil {
		return nil, err
	}
	r.export(ctx, log, report)

	log.Info("Interval finished",
		"profit_cents", out.Profit,
		"target_cents", out.Target,
		"assigned", len(out.Assignment),
		"covered", out.Covered,
		"suspect", out.Suspect,
		"violations", len(violations.Errors),
		"duration", out.Duration,
	)
	return out, nil
}

func (r *Runner) setHealth(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	if r.health != nil {
		r.health.SetServingStatus(status)
	}
}

func (r *Runner) solverName() string {
	if r.cfg.Matching.Solver == "" {
		return SolverSSP
	}
	return r.cfg.Matching.Solver
}

// tablesFor возвращает таблицы, покрывающие все регионы снимка
func (r *Runner) tablesFor(snap *domain.Snapshot) (*tables.Tables, error) {
	maxRegion := 0
	for _, d := range snap.Drivers {
		maxRegion = max(maxRegion, d.OriginRegion(), d.DestinationRegion())
	}
	for _, p := range snap.Passengers {
		maxRegion = max(maxRegion, p.OriginRegion(), p.DestinationRegion())
	}

	tb := r.tables
	if tb == nil {
		start := r.cfg.Matching.StartHour
		return tables.Uniform(start, domain.HoursPerDay-start, maxRegion+1, DefaultSpeed), nil
	}
	if maxRegion >= tb.Regions() {
		return nil, apperror.Newf(apperror.CodeInvalidInput,
			"snapshot references region %d, tables cover %d regions", maxRegion, tb.Regions())
	}
	return tb, nil
}

// intervalStart самое раннее отправление водителя
func intervalStart(snap *domain.Snapshot) int64 {
	return lo.MinBy(snap.Drivers, func(a, b *domain.Driver) bool {
		return a.Departure() < b.Departure()
	}).Departure()
}

func (r *Runner) buildMatches(ctx context.Context, log *slog.Logger, snap *domain.Snapshot, checker *feasibility.Checker) (err error) {
	ctx, end := telemetry.Phase(ctx, "engine.BuildMatches")
	defer func() { end(err) }()

	m := r.cfg.Matching
	maxMatches := m.MaxMatchesPerDriver
	if maxMatches <= 0 {
		maxMatches = domain.DefaultMaxMatchesPerDriver
	}
	grower, err := lattice.New(m.Method, checker, maxMatches, lattice.AllPairs)
	if err != nil {
		return err
	}

	runner := lattice.NewRunner(grower, m.Threads, m.Timeout)
	if r.metrics != nil {
		runner.WithTracker(metrics.NewTaskTracker(r.metrics.TasksInFlight))
	}

	if err := runner.BuildBase(ctx, snap.Drivers); err != nil {
		return err
	}
	if m.ReduceBaseMatches {
		removed := lattice.Reduce(snap.Drivers, snap.Passengers, lattice.ReduceParams{
			Min:            m.MinBaseMatchesPerDriver,
			Max:            m.MaxBaseMatchesPerDriver,
			MaxAssignments: m.MaxAssignmentsPerPassenger,
		})
		log.Debug("Base matches reduced", "removed", removed)
	}
	// сеть SSP строится только из одиночных совпадений, рост не нужен
	if baseOnly(m.Solver) {
		log.Debug("Lattice growth skipped", "solver", r.solverName())
	} else if err := runner.BuildAll(ctx, snap.Drivers); err != nil {
		return err
	}

	if r.metrics != nil {
		s := &checker.Stats
		r.metrics.RecordFeasibility(s.Feasible.Load(), s.Infeasible.Load(), s.Pruned.Load())
		lattice.RecordLevels(r.metrics, snap.Drivers)
	}
	return nil
}

func (r *Runner) price(ctx context.Context, snap *domain.Snapshot, dist feasibility.Distancer, tb *tables.Tables) (negative int, err error) {
	ctx, end := telemetry.Phase(ctx, "engine.Profit")
	defer func() { end(err) }()

	model := profit.NewModel(snap, dist, tb, r.cfg.Matching.Seed+int64(snap.Interval))
	if err := model.PriceAll(ctx, snap.Drivers); err != nil {
		return 0, err
	}

	adj := profit.NewAdjuster(r.cfg.Costs, model)
	if !adj.Enabled() {
		for _, d := range snap.Drivers {
			negative += lo.CountBy(d.Matches, func(m *domain.Match) bool { return m.Profit < 0 })
		}
		return negative, nil
	}
	return adj.Apply(ctx, snap.Drivers)
}

func (r *Runner) solve(ctx context.Context, snap *domain.Snapshot) (sol *Solution, err error) {
	name := r.solverName()
	ctx, end := telemetry.Phase(ctx, "engine.Solve")
	defer func() { end(err) }()

	start := time.Now()
	sol, err = Solve(ctx, r.cfg.Matching, snap)
	if r.metrics != nil {
		var (
			gained   int64
			assigned int
		)
		if sol != nil {
			gained, assigned = sol.Profit, len(sol.Assignment)
		}
		r.metrics.RecordSolveOperation(name, err == nil, time.Since(start), gained, assigned)
	}
	if err != nil {
		return nil, fmt.Errorf("%s solver: %w", name, err)
	}

	telemetry.SetAttributes(ctx, telemetry.SolverAttributes(name, sol.Iterations, sol.Profit,
		int64(sol.Target), len(sol.Assignment))...)
	return sol, nil
}

func (r *Runner) recordViolations(v *apperror.ValidationErrors) {
	if r.metrics == nil {
		return
	}
	counts := lo.CountValuesBy(v.Errors, func(e *apperror.Error) string { return string(e.Code) })
	for code, count := range counts {
		r.metrics.RecordViolations(code, count)
	}
}

func (r *Runner) persist(ctx context.Context, out *Outcome, report *export.Report) error {
	if r.repo == nil {
		return nil
	}

	run := &repository.Run{
		ID:           out.RunID,
		Interval:     out.Interval,
		Solver:       out.Solver,
		Method:       r.cfg.Matching.Method,
		Drivers:      out.Drivers,
		Passengers:   out.Passengers,
		Matches:      out.Matches,
		Assigned:     len(out.Assignment),
		Covered:      out.Covered,
		Profit:       out.Profit,
		ProfitTarget: out.Target,
		Suspect:      out.Suspect,
		Violations:   len(out.Violations.Errors),
		DurationMs:   float64(out.Duration.Microseconds()) / 1000,
		StartedAt:    report.StartedAt,
	}
	rows := lo.Map(report.AssignmentRows(), func(row export.Row, _ int) *repository.Assignment {
		return &repository.Assignment{
			DriverID:     row.DriverID,
			MatchID:      row.MatchID,
			PassengerIDs: row.PassengerIDs,
			Revenue:      row.Revenue,
			Cost:         row.Cost,
			Profit:       row.Profit,
		}
	})

	if err := r.repo.Save(ctx, run, rows); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// export ошибки выгрузки не прерывают интервал
func (r *Runner) export(ctx context.Context, log *slog.Logger, report *export.Report) {
	for _, e := range r.exports {
		path := export.ExpandPath(e.pattern, report)
		if err := export.WriteFile(ctx, e.gen, report, path); err != nil {
			log.Warn("Export failed", "format", e.gen.Format(), "path", path, "error", err)
			continue
		}
		log.Info("Report exported", "format", e.gen.Format(), "path", path)
	}
}
