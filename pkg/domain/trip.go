package domain

import (
	"fmt"
	"sync/atomic"

	"ridematch/pkg/apperror"
)

// Coordinate точка на карте в градусах
type Coordinate struct {
	Lat float64 `koanf:"lat" json:"lat"`
	Lng float64 `koanf:"lng" json:"lng"`
}

// Valid проверяет диапазоны широты и долготы
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", c.Lat, c.Lng)
}

// Trip общие свойства поездки водителя и пассажира (только чтение)
type Trip interface {
	ID() int64
	Origin() Coordinate
	Destination() Coordinate
	OriginRegion() int
	DestinationRegion() int
	Departure() int64
	Arrival() int64
	MaxDuration() int64
}

// TripInfo реализация Trip, встраивается в Driver и Passenger
type TripInfo struct {
	TripID            int64      `koanf:"id"`
	From              Coordinate `koanf:"origin"`
	To                Coordinate `koanf:"destination"`
	FromRegion        int        `koanf:"origin_region"`
	ToRegion          int        `koanf:"destination_region"`
	EarliestDeparture int64      `koanf:"departure"`
	LatestArrival     int64      `koanf:"arrival"`
	MaxTravel         int64      `koanf:"max_duration"`
}

var _ Trip = TripInfo{}

func (t TripInfo) ID() int64               { return t.TripID }
func (t TripInfo) Origin() Coordinate      { return t.From }
func (t TripInfo) Destination() Coordinate { return t.To }
func (t TripInfo) OriginRegion() int       { return t.FromRegion }
func (t TripInfo) DestinationRegion() int  { return t.ToRegion }
func (t TripInfo) Departure() int64        { return t.EarliestDeparture }
func (t TripInfo) Arrival() int64          { return t.LatestArrival }
func (t TripInfo) MaxDuration() int64      { return t.MaxTravel }

// Validate проверяет окно времени, длительность и координаты
func (t TripInfo) Validate() error {
	switch {
	case !t.From.Valid():
		return apperror.Newf(apperror.CodeInvalidTrip, "trip %d: origin %s out of range", t.TripID, t.From).WithField("origin")
	case !t.To.Valid():
		return apperror.Newf(apperror.CodeInvalidTrip, "trip %d: destination %s out of range", t.TripID, t.To).WithField("destination")
	case t.FromRegion < 0 || t.ToRegion < 0:
		return apperror.Newf(apperror.CodeInvalidTrip, "trip %d: negative region", t.TripID).WithField("region")
	case t.EarliestDeparture < 0 || t.EarliestDeparture >= t.LatestArrival:
		return apperror.Newf(apperror.CodeInvalidTrip, "trip %d: departure %d must precede arrival %d",
			t.TripID, t.EarliestDeparture, t.LatestArrival).WithField("departure")
	case t.MaxTravel <= 0:
		return apperror.Newf(apperror.CodeInvalidTrip, "trip %d: max duration must be positive", t.TripID).WithField("max_duration")
	}
	return nil
}

// Driver водитель: поездка, вместимость и найденные совпадения.
// Matches и Levels пишет только задача, обрабатывающая этого водителя.
type Driver struct {
	TripInfo
	Index        int
	Capacity     int
	CostPerMeter float64

	Matches []*Match
	// Levels[k] - граница в Matches после уровня k (размер набора k+1)
	Levels []int
}

// AddIndexLevel фиксирует границу текущего уровня
func (d *Driver) AddIndexLevel() {
	d.Levels = append(d.Levels, len(d.Matches))
}

// Level возвращает совпадения уровня k в виде подсреза Matches
func (d *Driver) Level(k int) []*Match {
	if k < 0 || k >= len(d.Levels) {
		return nil
	}
	start := 0
	if k > 0 {
		start = d.Levels[k-1]
	}
	return d.Matches[start:d.Levels[k]]
}

// Reset освобождает совпадения в конце интервала
func (d *Driver) Reset() {
	d.Matches = nil
	d.Levels = nil
}

// Passenger пассажир; Assignments - сколько совпадений на него ссылаются
type Passenger struct {
	TripInfo
	Index          int
	DirectDistance float64

	assignments atomic.Int32
}

func (p *Passenger) AddAssignment() int32    { return p.assignments.Add(1) }
func (p *Passenger) RemoveAssignment() int32 { return p.assignments.Add(-1) }
func (p *Passenger) Assignments() int32      { return p.assignments.Load() }
func (p *Passenger) ResetAssignments()       { p.assignments.Store(0) }
