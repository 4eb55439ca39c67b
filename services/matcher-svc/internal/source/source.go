// Package source loads the drivers and passengers of one interval.
package source

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"

	"ridematch/pkg/apperror"
	"ridematch/pkg/config"
	"ridematch/pkg/database"
	"ridematch/pkg/domain"
	"ridematch/services/matcher-svc/internal/repository"
)

// Source отдаёт свежий снимок интервала; каждый вызов создаёт новые объекты
type Source interface {
	Snapshot(ctx context.Context, interval int) (*domain.Snapshot, error)
}

// New выбирает источник по matching.source
func New(cfg config.MatchingConfig, db database.DB) (Source, error) {
	switch cfg.Source {
	case "file":
		return NewFile(cfg.TripsFile)
	case "postgres":
		if db == nil {
			return nil, apperror.New(apperror.CodeInvalidInput, "postgres source requires a database connection")
		}
		return repository.NewPostgresTripRepository(db), nil
	default:
		return nil, apperror.Newf(apperror.CodeInvalidInput, "unknown trip source %q", cfg.Source)
	}
}

type driverRecord struct {
	domain.TripInfo `koanf:",squash"`
	Interval        int     `koanf:"interval"`
	Capacity        int     `koanf:"capacity"`
	CostPerMeter    float64 `koanf:"cost_per_meter"`
}

type passengerRecord struct {
	domain.TripInfo `koanf:",squash"`
	Interval        int `koanf:"interval"`
}

type trips struct {
	Drivers    []driverRecord    `koanf:"drivers"`
	Passengers []passengerRecord `koanf:"passengers"`
}

// File поездки из YAML файла, сгруппированные по интервалам
type File struct {
	path       string
	drivers    map[int][]driverRecord
	passengers map[int][]passengerRecord
}

// NewFile читает файл целиком
func NewFile(path string) (*File, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidInput, fmt.Sprintf("failed to read %s", path))
	}

	var t trips
	if err := k.Unmarshal("", &t); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidInput, "failed to decode trips")
	}

	return &File{
		path: path,
		drivers: lo.GroupBy(t.Drivers, func(r driverRecord) int {
			return r.Interval
		}),
		passengers: lo.GroupBy(t.Passengers, func(r passengerRecord) int {
			return r.Interval
		}),
	}, nil
}

// Intervals интервалы, в которых есть хотя бы одна поездка, по возрастанию
func (f *File) Intervals() []int {
	all := lo.Union(lo.Keys(f.drivers), lo.Keys(f.passengers))
	slices.Sort(all)
	return all
}

// Snapshot собирает снимок интервала в порядке id поездок
func (f *File) Snapshot(_ context.Context, interval int) (*domain.Snapshot, error) {
	drivers, passengers := f.drivers[interval], f.passengers[interval]
	if len(drivers) == 0 && len(passengers) == 0 {
		return nil, fmt.Errorf("%s interval %d: %w", f.path, interval, repository.ErrNoTrips)
	}

	snap := &domain.Snapshot{Interval: interval}
	for _, r := range drivers {
		snap.Drivers = append(snap.Drivers, &domain.Driver{
			TripInfo:     r.TripInfo,
			Capacity:     r.Capacity,
			CostPerMeter: r.CostPerMeter,
		})
	}
	for _, r := range passengers {
		snap.Passengers = append(snap.Passengers, &domain.Passenger{TripInfo: r.TripInfo})
	}

	slices.SortStableFunc(snap.Drivers, func(a, b *domain.Driver) int { return cmp.Compare(a.TripID, b.TripID) })
	slices.SortStableFunc(snap.Passengers, func(a, b *domain.Passenger) int { return cmp.Compare(a.TripID, b.TripID) })
	snap.Reindex()
	return snap, nil
}
