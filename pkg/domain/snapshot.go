package domain

import (
	"ridematch/pkg/apperror"
)

// Slots раскладка слотов матрицы расстояний:
// старт водителя d = d, посадка пассажира p = D+p, высадка = D+P+p, финиш водителя = D+2P+d
type Slots struct {
	Drivers    int
	Passengers int
}

func (s Slots) DriverOrigin(d int) int         { return d }
func (s Slots) PassengerOrigin(p int) int      { return s.Drivers + p }
func (s Slots) PassengerDestination(p int) int { return s.Drivers + s.Passengers + p }
func (s Slots) DriverDestination(d int) int    { return s.Drivers + 2*s.Passengers + d }

// Size общее число слотов
func (s Slots) Size() int {
	return 2 * (s.Drivers + s.Passengers)
}

// Stop слот остановки
func (s Slots) Stop(v StopVisit) int {
	if v.Destination {
		return s.PassengerDestination(v.Passenger)
	}
	return s.PassengerOrigin(v.Passenger)
}

// Snapshot водители и пассажиры одного интервала
type Snapshot struct {
	Interval   int
	Drivers    []*Driver
	Passengers []*Passenger
}

// Slots раскладка матрицы для снимка
func (s *Snapshot) Slots() Slots {
	return Slots{Drivers: len(s.Drivers), Passengers: len(s.Passengers)}
}

// Coordinate координата слота матрицы
func (s *Snapshot) Coordinate(slot int) Coordinate {
	d, p := len(s.Drivers), len(s.Passengers)
	switch {
	case slot < d:
		return s.Drivers[slot].Origin()
	case slot < d+p:
		return s.Passengers[slot-d].Origin()
	case slot < d+2*p:
		return s.Passengers[slot-d-p].Destination()
	default:
		return s.Drivers[slot-d-2*p].Destination()
	}
}

// Region регион остановки: для посадки регион начала, для высадки регион конца
func (s *Snapshot) Region(v StopVisit) int {
	p := s.Passengers[v.Passenger]
	if v.Destination {
		return p.DestinationRegion()
	}
	return p.OriginRegion()
}

// Reindex проставляет Index по позиции в срезах
func (s *Snapshot) Reindex() {
	for i, d := range s.Drivers {
		d.Index = i
	}
	for i, p := range s.Passengers {
		p.Index = i
	}
}

// Validate проверяет снимок целиком и собирает все ошибки
func (s *Snapshot) Validate() *apperror.ValidationErrors {
	v := apperror.NewValidationErrors()
	if len(s.Drivers) == 0 || len(s.Passengers) == 0 {
		v.Add(apperror.ErrEmptySnapshot)
	}
	for _, d := range s.Drivers {
		if err := d.Validate(); err != nil {
			v.Add(asAppError(err))
		}
		if d.Capacity < 1 {
			v.Add(apperror.Newf(apperror.CodeInvalidTrip, "driver %d: capacity must be positive", d.TripID).WithField("capacity"))
		}
		if d.CostPerMeter < 0 {
			v.Add(apperror.Newf(apperror.CodeInvalidTrip, "driver %d: negative cost per meter", d.TripID).WithField("cost_per_meter"))
		}
	}
	for _, p := range s.Passengers {
		if err := p.Validate(); err != nil {
			v.Add(asAppError(err))
		}
	}
	return v
}

func asAppError(err error) *apperror.Error {
	if e, ok := err.(*apperror.Error); ok {
		return e
	}
	return apperror.Wrap(err, apperror.CodeInvalidTrip, "invalid trip")
}

// Release освобождает совпадения всех водителей и счётчики пассажиров
func (s *Snapshot) Release() {
	for _, d := range s.Drivers {
		d.Reset()
	}
	for _, p := range s.Passengers {
		p.ResetAssignments()
	}
}
