package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pgxMockAdapter struct {
	mock pgxmock.PgxPoolIface
}

func (a *pgxMockAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return a.mock.Exec(ctx, sql, args...)
}

func (a *pgxMockAdapter) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return a.mock.Query(ctx, sql, args...)
}

func (a *pgxMockAdapter) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return a.mock.QueryRow(ctx, sql, args...)
}

func (a *pgxMockAdapter) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return a.mock.BeginTx(ctx, txOptions)
}

func (a *pgxMockAdapter) Close() { a.mock.Close() }

func (a *pgxMockAdapter) Ping(ctx context.Context) error { return a.mock.Ping(ctx) }

func setupMock(t *testing.T) (pgxmock.PgxPoolIface, *pgxMockAdapter) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return mock, &pgxMockAdapter{mock: mock}
}

var runRowColumns = []string{
	"id", "interval", "solver", "method", "drivers", "passengers",
	"matches", "assigned", "covered", "profit", "profit_target",
	"suspect", "violations", "duration_ms", "started_at", "created_at",
}

func testRun(started time.Time) *Run {
	return &Run{
		ID:           "0b7e6f3a-0c1d-4a55-9a57-6e3f1f1f2a10",
		Interval:     3,
		Solver:       "ssp",
		Method:       "auto",
		Drivers:      4,
		Passengers:   9,
		Matches:      31,
		Assigned:     3,
		Covered:      6,
		Profit:       12345,
		ProfitTarget: 12345,
		DurationMs:   12.5,
		StartedAt:    started,
	}
}

func addRunRow(rows *pgxmock.Rows, r *Run, created time.Time) *pgxmock.Rows {
	return rows.AddRow(
		r.ID, r.Interval, r.Solver, r.Method, r.Drivers, r.Passengers,
		r.Matches, r.Assigned, r.Covered, r.Profit, r.ProfitTarget,
		r.Suspect, r.Violations, r.DurationMs, r.StartedAt, created,
	)
}

func TestPostgresRunRepository_Save_Success(t *testing.T) {
	mock, db := setupMock(t)
	defer mock.Close()
	repo := NewPostgresRunRepository(db)

	now := time.Now()
	run := testRun(now)
	assignments := []*Assignment{
		{DriverID: 101, MatchID: 4, PassengerIDs: []int64{201, 202}, Revenue: 80, Cost: 20, Profit: 6000},
		{DriverID: 102, MatchID: 9, PassengerIDs: []int64{205}, Revenue: 70, Cost: 6.55, Profit: 6345},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO runs`).
		WithArgs(
			run.ID, run.Interval, run.Solver, run.Method, run.Drivers, run.Passengers,
			run.Matches, run.Assigned, run.Covered, run.Profit, run.ProfitTarget,
			run.Suspect, run.Violations, run.DurationMs, run.StartedAt,
		).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	for _, a := range assignments {
		mock.ExpectExec(`INSERT INTO assignments`).
			WithArgs(run.ID, a.DriverID, a.MatchID, a.PassengerIDs, a.Revenue, a.Cost, a.Profit).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	err := repo.Save(context.Background(), run, assignments)

	require.NoError(t, err)
	assert.Equal(t, now, run.CreatedAt)
	for _, a := range assignments {
		assert.Equal(t, run.ID, a.RunID)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunRepository_Save_RollbackOnAssignmentError(t *testing.T) {
	mock, db := setupMock(t)
	defer mock.Close()
	repo := NewPostgresRunRepository(db)

	now := time.Now()
	run := testRun(now)
	a := &Assignment{DriverID: 101, MatchID: 4, PassengerIDs: []int64{201}, Profit: 10}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO runs`).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec(`INSERT INTO assignments`).
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), run, []*Assignment{a})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create assignment for driver 101")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunRepository_Save_EmptyID(t *testing.T) {
	mock, db := setupMock(t)
	defer mock.Close()

	err := NewPostgresRunRepository(db).Save(context.Background(), &Run{}, nil)

	assert.ErrorIs(t, err, ErrEmptyRunID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunRepository_GetByID(t *testing.T) {
	now := time.Now()
	want := testRun(now)

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		wantErr error
	}{
		{
			name: "found",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .* FROM runs WHERE id = \$1`).
					WithArgs(want.ID).
					WillReturnRows(addRunRow(pgxmock.NewRows(runRowColumns), want, now))
			},
		},
		{
			name: "not_found",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .* FROM runs WHERE id = \$1`).
					WithArgs(want.ID).
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: ErrRunNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, db := setupMock(t)
			defer mock.Close()
			tt.setup(mock)

			got, err := NewPostgresRunRepository(db).GetByID(context.Background(), want.ID)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, want.ID, got.ID)
				assert.Equal(t, want.Profit, got.Profit)
				assert.Equal(t, now, got.CreatedAt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRunRepository_List(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default_limit", 0, 20},
		{"capped_limit", 500, 100},
		{"explicit_limit", 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, db := setupMock(t)
			defer mock.Close()

			now := time.Now()
			rows := pgxmock.NewRows(runRowColumns)
			addRunRow(rows, testRun(now), now)
			mock.ExpectQuery(`SELECT .* FROM runs ORDER BY started_at DESC LIMIT \$1`).
				WithArgs(tt.want).
				WillReturnRows(rows)

			runs, err := NewPostgresRunRepository(db).List(context.Background(), tt.limit)

			require.NoError(t, err)
			assert.Len(t, runs, 1)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRunRepository_Assignments(t *testing.T) {
	mock, db := setupMock(t)
	defer mock.Close()

	runID := "run-1"
	rows := pgxmock.NewRows([]string{"run_id", "driver_id", "match_id", "passenger_ids", "revenue", "cost", "profit"}).
		AddRow(runID, int64(101), 4, []int64{201, 202}, 80.0, 20.0, int64(6000)).
		AddRow(runID, int64(102), 9, []int64{205}, 70.0, 6.55, int64(6345))
	mock.ExpectQuery(`FROM assignments`).WithArgs(runID).WillReturnRows(rows)

	got, err := NewPostgresRunRepository(db).Assignments(context.Background(), runID)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int64{201, 202}, got[0].PassengerIDs)
	assert.Equal(t, int64(6345), got[1].Profit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var tripColumns = []string{
	"id", "kind", "origin_lat", "origin_lng", "destination_lat", "destination_lng",
	"origin_region", "destination_region", "departure", "arrival", "max_duration",
	"capacity", "cost_per_meter",
}

func TestPostgresTripRepository_Snapshot(t *testing.T) {
	mock, db := setupMock(t)
	defer mock.Close()

	rows := pgxmock.NewRows(tripColumns).
		AddRow(int64(7), KindDriver, 40.71, -74.0, 40.75, -73.98, 1, 2, int64(0), int64(3600), int64(3600), 3, 0.0004).
		AddRow(int64(21), KindPassenger, 40.72, -74.0, 40.74, -73.99, 1, 2, int64(60), int64(1800), int64(1200), 0, 0.0).
		AddRow(int64(22), KindPassenger, 40.73, -74.0, 40.74, -73.98, 1, 2, int64(90), int64(2400), int64(1500), 0, 0.0)
	mock.ExpectQuery(`FROM trips`).WithArgs(5).WillReturnRows(rows)

	snap, err := NewPostgresTripRepository(db).Snapshot(context.Background(), 5)

	require.NoError(t, err)
	assert.Equal(t, 5, snap.Interval)
	require.Len(t, snap.Drivers, 1)
	require.Len(t, snap.Passengers, 2)
	assert.Equal(t, int64(7), snap.Drivers[0].ID())
	assert.Equal(t, 3, snap.Drivers[0].Capacity)
	assert.InDelta(t, 0.0004, snap.Drivers[0].CostPerMeter, 1e-12)
	assert.Equal(t, 1, snap.Passengers[1].Index)
	assert.Equal(t, int64(22), snap.Passengers[1].ID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTripRepository_Snapshot_Errors(t *testing.T) {
	tests := []struct {
		name    string
		rows    func() *pgxmock.Rows
		wantErr error
	}{
		{
			name:    "empty_interval",
			rows:    func() *pgxmock.Rows { return pgxmock.NewRows(tripColumns) },
			wantErr: ErrNoTrips,
		},
		{
			name: "unknown_kind",
			rows: func() *pgxmock.Rows {
				return pgxmock.NewRows(tripColumns).
					AddRow(int64(1), "courier", 0.0, 0.0, 0.0, 0.0, 0, 0, int64(0), int64(10), int64(10), 0, 0.0)
			},
			wantErr: ErrUnknownKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, db := setupMock(t)
			defer mock.Close()
			mock.ExpectQuery(`FROM trips`).WithArgs(1).WillReturnRows(tt.rows())

			snap, err := NewPostgresTripRepository(db).Snapshot(context.Background(), 1)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, snap)
		})
	}
}
