// Package export renders the result of one interval as an XLSX workbook or a
// PDF summary.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"ridematch/pkg/domain"
	"ridematch/pkg/telemetry"
)

// Report данные интервала для выгрузки
type Report struct {
	RunID      string
	Interval   int
	Solver     string
	StartedAt  time.Time
	Duration   time.Duration
	Target     float64
	Suspect    bool
	Violations int

	Snapshot   *domain.Snapshot
	Arena      *domain.MatchArena
	Assignment domain.Assignment
}

// Generator формирует документ по отчёту
type Generator interface {
	Generate(ctx context.Context, r *Report) ([]byte, error)
	Format() string
}

// Row строка назначения или совпадения с исходными id поездок
type Row struct {
	DriverID     int64
	MatchID      int
	PassengerIDs []int64
	Revenue      float64
	Cost         float64
	Profit       int64
}

// Passengers id пассажиров через запятую
func (r Row) Passengers() string {
	return strings.Join(lo.Map(r.PassengerIDs, func(id int64, _ int) string {
		return strconv.FormatInt(id, 10)
	}), ",")
}

func (r *Report) row(m *domain.Match) Row {
	return Row{
		DriverID: r.Snapshot.Drivers[m.Driver].ID(),
		MatchID:  m.ID,
		PassengerIDs: lo.Map(m.Passengers(), func(p int, _ int) int64 {
			return r.Snapshot.Passengers[p].ID()
		}),
		Revenue: m.Revenue,
		Cost:    m.Cost,
		Profit:  m.Profit,
	}
}

// AssignmentRows назначения в порядке индекса водителя
func (r *Report) AssignmentRows() []Row {
	drivers := lo.Keys(r.Assignment)
	slices.Sort(drivers)

	rows := make([]Row, 0, len(drivers))
	for _, d := range drivers {
		if m := r.Arena.Get(r.Assignment[d]); m != nil {
			rows = append(rows, r.row(m))
		}
	}
	return rows
}

// MatchRows все совпадения арены в порядке id
func (r *Report) MatchRows() []Row {
	rows := make([]Row, 0, r.Arena.Len())
	for _, m := range r.Arena.All() {
		rows = append(rows, r.row(m))
	}
	return rows
}

// Statistics сводка решения
func (r *Report) Statistics() *domain.SolutionStatistics {
	return domain.CalculateSolutionStatistics(len(r.Snapshot.Drivers), r.Arena, r.Assignment)
}

// Title заголовок документа
func (r *Report) Title() string {
	return fmt.Sprintf("Ride matching, interval %d", r.Interval)
}

// WriteFile генерирует документ и пишет его в path, создавая каталог
func WriteFile(ctx context.Context, g Generator, r *Report, path string) error {
	ctx, span := telemetry.StartSpan(ctx, "export.WriteFile")
	defer span.End()

	data, err := g.Generate(ctx, r)
	if err != nil {
		return fmt.Errorf("failed to generate %s: %w", g.Format(), err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ExpandPath подставляет {interval} и {run} в шаблон пути
func ExpandPath(pattern string, r *Report) string {
	return strings.NewReplacer(
		"{interval}", strconv.Itoa(r.Interval),
		"{run}", r.RunID,
	).Replace(pattern)
}

func dollars(cents int64) float64 {
	return float64(cents) / 100
}

func formatDuration(d time.Duration) string {
	ms := float64(d.Microseconds()) / 1000
	if ms < 1000 {
		return fmt.Sprintf("%.2f ms", ms)
	}
	return fmt.Sprintf("%.2f s", ms/1000)
}
