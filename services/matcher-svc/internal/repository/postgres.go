package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ridematch/pkg/database"
	"ridematch/pkg/domain"
	"ridematch/pkg/telemetry"
)

// PostgresRunRepository PostgreSQL реализация RunRepository
type PostgresRunRepository struct {
	db database.DB
}

// NewPostgresRunRepository создаёт новый репозиторий
func NewPostgresRunRepository(db database.DB) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

// Save пишет прогон и его назначения в одной транзакции
func (r *PostgresRunRepository) Save(ctx context.Context, run *Run, assignments []*Assignment) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRunRepository.Save")
	defer span.End()

	if run.ID == "" {
		return ErrEmptyRunID
	}

	return database.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO runs (
				id, interval, solver, method, drivers, passengers,
				matches, assigned, covered, profit, profit_target,
				suspect, violations, duration_ms, started_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING created_at
		`
		err := tx.QueryRow(ctx, query,
			run.ID,
			run.Interval,
			run.Solver,
			run.Method,
			run.Drivers,
			run.Passengers,
			run.Matches,
			run.Assigned,
			run.Covered,
			run.Profit,
			run.ProfitTarget,
			run.Suspect,
			run.Violations,
			run.DurationMs,
			run.StartedAt,
		).Scan(&run.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}

		insert := `
			INSERT INTO assignments (
				run_id, driver_id, match_id, passenger_ids, revenue, cost, profit
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		for _, a := range assignments {
			a.RunID = run.ID
			if _, err := tx.Exec(ctx, insert,
				a.RunID,
				a.DriverID,
				a.MatchID,
				a.PassengerIDs,
				a.Revenue,
				a.Cost,
				a.Profit,
			); err != nil {
				return fmt.Errorf("failed to create assignment for driver %d: %w", a.DriverID, err)
			}
		}
		return nil
	})
}

const runColumns = `
	id, interval, solver, method, drivers, passengers,
	matches, assigned, covered, profit, profit_target,
	suspect, violations, duration_ms, started_at, created_at`

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID,
		&run.Interval,
		&run.Solver,
		&run.Method,
		&run.Drivers,
		&run.Passengers,
		&run.Matches,
		&run.Assigned,
		&run.Covered,
		&run.Profit,
		&run.ProfitTarget,
		&run.Suspect,
		&run.Violations,
		&run.DurationMs,
		&run.StartedAt,
		&run.CreatedAt,
	)
	return run, err
}

func (r *PostgresRunRepository) GetByID(ctx context.Context, id string) (*Run, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRunRepository.GetByID")
	defer span.End()

	query := `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List последние прогоны, не больше limit (по умолчанию 20, максимум 100)
func (r *PostgresRunRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRunRepository.List")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	limit = min(limit, 100)

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return runs, nil
}

func (r *PostgresRunRepository) Assignments(ctx context.Context, runID string) ([]*Assignment, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresRunRepository.Assignments")
	defer span.End()

	query := `
		SELECT run_id, driver_id, match_id, passenger_ids, revenue, cost, profit
		FROM assignments
		WHERE run_id = $1
		ORDER BY driver_id
	`

	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*Assignment
	for rows.Next() {
		a := &Assignment{}
		if err := rows.Scan(&a.RunID, &a.DriverID, &a.MatchID, &a.PassengerIDs, &a.Revenue, &a.Cost, &a.Profit); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// PostgresTripRepository читает снимок интервала из таблицы trips
type PostgresTripRepository struct {
	db database.DB
}

func NewPostgresTripRepository(db database.DB) *PostgresTripRepository {
	return &PostgresTripRepository{db: db}
}

// Snapshot загружает водителей и пассажиров интервала в порядке id
func (r *PostgresTripRepository) Snapshot(ctx context.Context, interval int) (*domain.Snapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresTripRepository.Snapshot")
	defer span.End()

	query := `
		SELECT
			id, kind, origin_lat, origin_lng, destination_lat, destination_lng,
			origin_region, destination_region, departure, arrival, max_duration,
			capacity, cost_per_meter
		FROM trips
		WHERE interval = $1
		ORDER BY kind, id
	`

	rows, err := r.db.Query(ctx, query, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to load trips: %w", err)
	}
	defer rows.Close()

	snap := &domain.Snapshot{Interval: interval}
	for rows.Next() {
		var (
			t            domain.TripInfo
			kind         string
			capacity     int
			costPerMeter float64
		)
		err := rows.Scan(
			&t.TripID,
			&kind,
			&t.From.Lat,
			&t.From.Lng,
			&t.To.Lat,
			&t.To.Lng,
			&t.FromRegion,
			&t.ToRegion,
			&t.EarliestDeparture,
			&t.LatestArrival,
			&t.MaxTravel,
			&capacity,
			&costPerMeter,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}

		switch kind {
		case KindDriver:
			snap.Drivers = append(snap.Drivers, &domain.Driver{TripInfo: t, Capacity: capacity, CostPerMeter: costPerMeter})
		case KindPassenger:
			snap.Passengers = append(snap.Passengers, &domain.Passenger{TripInfo: t})
		default:
			return nil, fmt.Errorf("trip %d: %w %q", t.TripID, ErrUnknownKind, kind)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if len(snap.Drivers) == 0 && len(snap.Passengers) == 0 {
		return nil, ErrNoTrips
	}
	snap.Reindex()
	return snap, nil
}
