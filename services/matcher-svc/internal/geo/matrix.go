package geo

import (
	"context"
	"math"
	"strconv"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"

	"ridematch/pkg/apperror"
	"ridematch/pkg/domain"
	"ridematch/pkg/metrics"
)

// Locator maps a matrix slot to its coordinate.
type Locator interface {
	Coordinate(slot int) domain.Coordinate
}

// Matrix is the lazily filled slot-to-slot distance table of one interval.
// Each cell is computed at most once: concurrent misses on a cell share one
// oracle call, made outside the map lock. Oracle errors are never stored, so
// a failed cell is retried by the next caller.
type Matrix struct {
	oracle  Oracle
	method  string
	loc     Locator
	n       uint64
	cells   *xsync.MapOf[uint64, float64]
	flight  singleflight.Group
	metrics *metrics.Metrics
}

// NewMatrix creates an empty matrix of size×size cells.
func NewMatrix(oracle Oracle, method string, loc Locator, size int) *Matrix {
	return &Matrix{
		oracle: oracle,
		method: method,
		loc:    loc,
		n:      uint64(size),
		cells:  xsync.NewMapOf[uint64, float64](),
	}
}

// WithMetrics enables hit/miss and oracle counters.
func (m *Matrix) WithMetrics(mt *metrics.Metrics) *Matrix {
	m.metrics = mt
	return m
}

// Distance returns the distance in whole meters from slot to slot.
func (m *Matrix) Distance(ctx context.Context, from, to int) (float64, error) {
	key := uint64(from)*m.n + uint64(to)

	if d, ok := m.cells.Load(key); ok {
		m.lookup("hit")
		return d, nil
	}
	m.lookup("miss")

	// оракул вызывается вне блокировки бакета: ожидание квоты не держит соседние ячейки
	v, err, _ := m.flight.Do(strconv.FormatUint(key, 10), func() (any, error) {
		if d, ok := m.cells.Load(key); ok {
			return d, nil
		}
		d, err := m.oracle.Distance(ctx, m.loc.Coordinate(from), m.loc.Coordinate(to))
		if m.metrics != nil {
			m.metrics.RecordOracleRequest(m.method, err)
		}
		if err != nil {
			return nil, err
		}
		d = math.Trunc(d)
		m.cells.Store(key, d)
		return d, nil
	})
	if err != nil {
		return 0, apperror.Wrap(err, apperror.CodeOracleFailure, "distance lookup failed").
			WithDetails("from", from).
			WithDetails("to", to)
	}
	return v.(float64), nil
}

// Len is the number of computed cells.
func (m *Matrix) Len() int {
	return m.cells.Size()
}

// Clear drops every cell; used between intervals.
func (m *Matrix) Clear() {
	m.cells.Clear()
}

func (m *Matrix) lookup(result string) {
	if m.metrics != nil {
		m.metrics.MatrixLookups.WithLabelValues(result).Inc()
	}
}
