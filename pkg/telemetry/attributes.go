package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Стандартные ключи атрибутов
const (
	// Прогон
	AttrRunID      = "ridematch.run_id"
	AttrInterval   = "ridematch.interval"
	AttrDrivers    = "ridematch.drivers"
	AttrPassengers = "ridematch.passengers"

	// Совпадения
	AttrMatches            = "matches.total"
	AttrDriversWithMatches = "matches.drivers_with_matches"
	AttrMaxMatchSize       = "matches.max_size"

	// Решатель
	AttrSolver       = "solver.name"
	AttrIterations   = "solver.iterations"
	AttrProfit       = "solver.profit"
	AttrProfitTarget = "solver.profit_target"
	AttrAssigned     = "solver.assigned"

	// Проверки
	AttrValidationErrors = "validation.errors"
	AttrValidationPassed = "validation.passed"

	AttrHealthStatus = "health.status"
)

// SnapshotAttributes возвращает атрибуты входного снимка
func SnapshotAttributes(runID string, interval, drivers, passengers int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.Int(AttrInterval, interval),
		attribute.Int(AttrDrivers, drivers),
		attribute.Int(AttrPassengers, passengers),
	}
}

// MatchAttributes возвращает атрибуты построенной решётки совпадений
func MatchAttributes(total, driversWithMatches, maxSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrMatches, total),
		attribute.Int(AttrDriversWithMatches, driversWithMatches),
		attribute.Int(AttrMaxMatchSize, maxSize),
	}
}

// SolverAttributes возвращает атрибуты решателя
func SolverAttributes(name string, iterations int, profit, target int64, assigned int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSolver, name),
		attribute.Int(AttrIterations, iterations),
		attribute.Int64(AttrProfit, profit),
		attribute.Int64(AttrProfitTarget, target),
		attribute.Int(AttrAssigned, assigned),
	}
}

// ValidationAttributes возвращает атрибуты проверок
func ValidationAttributes(errorsCount int, passed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrValidationErrors, errorsCount),
		attribute.Bool(AttrValidationPassed, passed),
	}
}
