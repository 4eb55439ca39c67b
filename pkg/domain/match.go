package domain

import (
	"iter"
	"slices"
	"strconv"
	"strings"
)

// StopVisit остановка маршрута: посадка или высадка пассажира
type StopVisit struct {
	Passenger   int
	Destination bool
}

// Pickup/Dropoff конструкторы остановок
func Pickup(p int) StopVisit  { return StopVisit{Passenger: p} }
func Dropoff(p int) StopVisit { return StopVisit{Passenger: p, Destination: true} }

// CanonicalStops возвращает порядок p1o, p1d, p2o, p2d, ...
func CanonicalStops(passengers []int) []StopVisit {
	stops := make([]StopVisit, 0, 2*len(passengers))
	for _, p := range passengers {
		stops = append(stops, Pickup(p), Dropoff(p))
	}
	return stops
}

// ValidOrder true, если посадка каждого пассажира стоит раньше его высадки
func ValidOrder(stops []StopVisit) bool {
	picked := make(map[int]bool, len(stops)/2)
	for _, s := range stops {
		if !s.Destination {
			picked[s.Passenger] = true
			continue
		}
		if !picked[s.Passenger] {
			return false
		}
	}
	return true
}

// SFP допустимый маршрут для набора пассажиров. После создания не меняется.
type SFP struct {
	// Passengers отсортированные индексы пассажиров
	Passengers []int
	Stops      []StopVisit
	// MatrixIndex слот матрицы расстояний для каждой остановки
	MatrixIndex []int
	// HourIndex индекс часа для каждой остановки (по времени прибытия на неё)
	HourIndex       []int
	DriverDeparture int64
	// Duration полное время водителя от старта до конца
	Duration int64
}

// Size число пассажиров
func (s *SFP) Size() int {
	return len(s.Passengers)
}

// Contains проверяет, входит ли пассажир в набор
func (s *SFP) Contains(p int) bool {
	_, ok := slices.BinarySearch(s.Passengers, p)
	return ok
}

// Key ключ набора пассажиров
func (s *SFP) Key() string {
	return SetKey(s.Passengers)
}

// PickupIndex и DropoffIndex позиции остановок пассажира, -1 если нет
func (s *SFP) PickupIndex(p int) int {
	return slices.Index(s.Stops, Pickup(p))
}

func (s *SFP) DropoffIndex(p int) int {
	return slices.Index(s.Stops, Dropoff(p))
}

// SetKey строковый ключ отсортированного набора индексов
func SetKey(sorted []int) string {
	var b strings.Builder
	for i, p := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(p))
	}
	return b.String()
}

// Union возвращает отсортированный набор base ∪ {p}
func Union(base []int, p int) []int {
	i, found := slices.BinarySearch(base, p)
	if found {
		return slices.Clone(base)
	}
	return slices.Insert(slices.Clone(base), i, p)
}

// Match совпадение водителя и набора пассажиров с оценкой прибыли
type Match struct {
	ID      int
	Driver  int
	SFP     *SFP
	Revenue float64
	Cost    float64
	// Profit в центах
	Profit int64
}

// Passengers сокращение для SFP.Passengers
func (m *Match) Passengers() []int {
	return m.SFP.Passengers
}

// Size число пассажиров совпадения
func (m *Match) Size() int {
	return m.SFP.Size()
}

// MatchHandle стабильный идентификатор совпадения в арене (равен Match.ID)
type MatchHandle int

// MatchArena плоский список совпадений интервала, индексируемый по handle.
// Заполняется однопоточно после построения.
type MatchArena struct {
	base    int
	matches []*Match
}

// NewMatchArena создаёт арену, первый handle которой равен base
func NewMatchArena(base int) *MatchArena {
	return &MatchArena{base: base}
}

// Add присваивает совпадению очередной ID и возвращает его handle
func (a *MatchArena) Add(m *Match) MatchHandle {
	m.ID = a.base + len(a.matches)
	a.matches = append(a.matches, m)
	return MatchHandle(m.ID)
}

// Get возвращает совпадение по handle или nil
func (a *MatchArena) Get(h MatchHandle) *Match {
	i := int(h) - a.base
	if i < 0 || i >= len(a.matches) {
		return nil
	}
	return a.matches[i]
}

// Len число совпадений
func (a *MatchArena) Len() int {
	return len(a.matches)
}

// Next следующий свободный ID
func (a *MatchArena) Next() int {
	return a.base + len(a.matches)
}

// All перебирает совпадения в порядке добавления
func (a *MatchArena) All() iter.Seq2[MatchHandle, *Match] {
	return func(yield func(MatchHandle, *Match) bool) {
		for _, m := range a.matches {
			if !yield(MatchHandle(m.ID), m) {
				return
			}
		}
	}
}

// Assignment итоговое решение: водитель (индекс) -> совпадение
type Assignment map[int]MatchHandle

// Profit суммарная прибыль решения в центах
func (as Assignment) Profit(arena *MatchArena) int64 {
	var total int64
	for _, h := range as {
		if m := arena.Get(h); m != nil {
			total += m.Profit
		}
	}
	return total
}
