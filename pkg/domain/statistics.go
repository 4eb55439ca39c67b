package domain

// SolutionStatistics сводка решения за интервал
type SolutionStatistics struct {
	Matches           int
	PassengersCovered int
	// OccupancyRate средняя загрузка: пассажиров на водителя плюс сам водитель
	OccupancyRate float64
	// VacancyRate доля водителей без назначения
	VacancyRate     float64
	Profit          int64
	NegativeMatches int
	LargestMatch    int
}

// CalculateSolutionStatistics считает сводку по назначению
func CalculateSolutionStatistics(drivers int, arena *MatchArena, as Assignment) *SolutionStatistics {
	stats := &SolutionStatistics{Matches: len(as)}

	covered := make(map[int]struct{})
	for _, h := range as {
		m := arena.Get(h)
		if m == nil {
			continue
		}
		for _, p := range m.Passengers() {
			covered[p] = struct{}{}
		}
		stats.Profit += m.Profit
		if m.Profit < 0 {
			stats.NegativeMatches++
		}
		stats.LargestMatch = max(stats.LargestMatch, m.Size())
	}
	stats.PassengersCovered = len(covered)

	if drivers > 0 {
		stats.OccupancyRate = float64(stats.PassengersCovered)/float64(drivers) + 1
		stats.VacancyRate = 1 - float64(stats.Matches)/float64(drivers)
	}

	return stats
}

// MatchStatistics распределение совпадений по размеру набора
type MatchStatistics struct {
	Total             int
	DriversWithMatch  int
	BySize            map[int]int
	LargestMatchSize  int
	NegativeMatches   int
	AverageAssignment float64
}

// CalculateMatchStatistics считает распределение совпадений по водителям
func CalculateMatchStatistics(drivers []*Driver, passengers []*Passenger) *MatchStatistics {
	stats := &MatchStatistics{BySize: make(map[int]int)}

	for _, d := range drivers {
		if len(d.Matches) > 0 {
			stats.DriversWithMatch++
		}
		for _, m := range d.Matches {
			stats.Total++
			stats.BySize[m.Size()]++
			stats.LargestMatchSize = max(stats.LargestMatchSize, m.Size())
			if m.Profit < 0 {
				stats.NegativeMatches++
			}
		}
	}

	if len(passengers) > 0 {
		var sum int64
		for _, p := range passengers {
			sum += int64(p.Assignments())
		}
		stats.AverageAssignment = float64(sum) / float64(len(passengers))
	}

	return stats
}
