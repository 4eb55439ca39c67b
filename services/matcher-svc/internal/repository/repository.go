package repository

import (
	"context"
	"embed"
	"errors"
	"time"

	"ridematch/pkg/domain"
)

// Migrations схема trips, runs, assignments для goose
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir каталог миграций внутри Migrations
const MigrationsDir = "migrations"

// Стандартные ошибки
var (
	ErrRunNotFound = errors.New("run not found")
	ErrNoTrips     = errors.New("no trips for interval")
	ErrUnknownKind = errors.New("unknown trip kind")
	ErrEmptyRunID  = errors.New("run id is empty")
)

// Виды поездок в таблице trips
const (
	KindDriver    = "driver"
	KindPassenger = "passenger"
)

// Run итог одного интервала
type Run struct {
	ID           string
	Interval     int
	Solver       string
	Method       string
	Drivers      int
	Passengers   int
	Matches      int
	Assigned     int
	Covered      int
	Profit       int64
	ProfitTarget float64
	Suspect      bool
	Violations   int
	DurationMs   float64
	StartedAt    time.Time
	CreatedAt    time.Time
}

// Assignment назначение водителя в прогоне; идентификаторы - исходные id поездок
type Assignment struct {
	RunID        string
	DriverID     int64
	MatchID      int
	PassengerIDs []int64
	Revenue      float64
	Cost         float64
	Profit       int64
}

// RunRepository хранит результаты интервалов
type RunRepository interface {
	Save(ctx context.Context, run *Run, assignments []*Assignment) error
	GetByID(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]*Run, error)
	Assignments(ctx context.Context, runID string) ([]*Assignment, error)
}

// TripRepository читает поездки интервала
type TripRepository interface {
	Snapshot(ctx context.Context, interval int) (*domain.Snapshot, error)
}
