package domain

import "math"

// Математические константы
const (
	Epsilon = 1e-9
)

// Время: все моменты задаются в секундах от полуночи
const (
	SecondsPerHour = 3600
	HoursPerDay    = 24
	LastHour       = HoursPerDay - 1
)

// Единицы расстояния и денег
const (
	MetersPerMile  = 1609.344
	CentsPerDollar = 100
)

// Лимиты построения совпадений по умолчанию
const (
	DefaultMaxMatchesPerDriver        = 20000
	DefaultMinBaseMatchesPerDriver    = 25
	DefaultMaxBaseMatchesPerDriver    = 100
	DefaultMaxAssignmentsPerPassenger = 12
)

// HourOf возвращает час суток (0..23) для момента t
func HourOf(t int64) int {
	return min(int(t/SecondsPerHour), LastHour)
}

// HourBucket переводит момент t в индекс таблицы скоростей, начинающейся с startHour.
// Индекс прижимается к [0, hours-1].
func HourBucket(t int64, startHour, hours int) int {
	h := HourOf(t) - startHour
	if h < 0 {
		return 0
	}
	if h >= hours {
		return hours - 1
	}
	return h
}

// MetersToMiles переводит метры в мили
func MetersToMiles(m float64) float64 {
	return m / MetersPerMile
}

// FloatEquals сравнивает два float64 с учётом Epsilon
func FloatEquals(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}
