package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics глобальный контейнер метрик
type Metrics struct {
	// Построение совпадений
	MatchesBuilt      *prometheus.CounterVec
	FeasibilityChecks *prometheus.CounterVec
	TasksInFlight     prometheus.Gauge

	// Расстояния
	OracleRequests *prometheus.CounterVec
	MatrixLookups  *prometheus.CounterVec

	// Решатели
	SolveOperationsTotal *prometheus.CounterVec
	SolveDuration        *prometheus.HistogramVec
	SolutionProfit       *prometheus.GaugeVec
	Assignments          *prometheus.GaugeVec

	// Интервалы и проверки
	IntervalsTotal      *prometheus.CounterVec
	IntervalDuration    prometheus.Histogram
	InvariantViolations *prometheus.CounterVec

	// Информация о сервисе
	ServiceInfo *prometheus.GaugeVec
}

var (
	defaultMetrics *Metrics
	defaultMu      sync.Mutex
)

// InitMetrics регистрирует метрики в глобальном реестре Prometheus
func InitMetrics(namespace, subsystem string) *Metrics {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultMetrics != nil {
		return defaultMetrics
	}
	defaultMetrics = NewMetrics(prometheus.DefaultRegisterer, namespace, subsystem)
	return defaultMetrics
}

// NewMetrics регистрирует метрики в переданном реестре (в тестах - prometheus.NewRegistry())
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		MatchesBuilt: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "matches_built_total",
				Help:      "Number of feasible matches built, by passenger-set size",
			},
			[]string{"size"},
		),

		FeasibilityChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "feasibility_checks_total",
				Help:      "Route walks and pruned orderings",
			},
			[]string{"result"}, // feasible, infeasible, pruned
		),

		TasksInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "driver_tasks_in_flight",
				Help:      "Per-driver lattice tasks currently running",
			},
		),

		OracleRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "oracle_requests_total",
				Help:      "Distance oracle requests",
			},
			[]string{"method", "status"},
		),

		MatrixLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "matrix_lookups_total",
				Help:      "Distance matrix lookups",
			},
			[]string{"result"}, // hit, miss
		),

		SolveOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "solve_operations_total",
				Help:      "Total number of solve operations",
			},
			[]string{"solver", "status"},
		),

		SolveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "solve_duration_seconds",
				Help:      "Duration of solve operations",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"solver"},
		),

		SolutionProfit: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "solution_profit_cents",
				Help:      "Profit of the last solution",
			},
			[]string{"solver"},
		),

		Assignments: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "solution_assignments",
				Help:      "Drivers assigned in the last solution",
			},
			[]string{"solver"},
		),

		IntervalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "intervals_total",
				Help:      "Matching intervals processed",
			},
			[]string{"status"},
		),

		IntervalDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "interval_duration_seconds",
				Help:      "Wall-clock duration of a matching interval",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 1800},
			},
		),

		InvariantViolations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invariant_violations_total",
				Help:      "Violations found by post-hoc checks",
			},
			[]string{"check"},
		),

		ServiceInfo: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}
}

// Get возвращает глобальные метрики
func Get() *Metrics {
	return InitMetrics("ridematch", "")
}

// RecordMatches записывает число построенных совпадений размера size
func (m *Metrics) RecordMatches(size, count int) {
	if count <= 0 {
		return
	}
	m.MatchesBuilt.WithLabelValues(strconv.Itoa(size)).Add(float64(count))
}

// RecordFeasibility записывает итоги проверок маршрутов
func (m *Metrics) RecordFeasibility(feasible, infeasible, pruned int64) {
	m.FeasibilityChecks.WithLabelValues("feasible").Add(float64(feasible))
	m.FeasibilityChecks.WithLabelValues("infeasible").Add(float64(infeasible))
	m.FeasibilityChecks.WithLabelValues("pruned").Add(float64(pruned))
}

// RecordOracleRequest записывает обращение к оракулу расстояний
func (m *Metrics) RecordOracleRequest(method string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OracleRequests.WithLabelValues(method, status).Inc()
}

// RecordSolveOperation записывает метрики решателя
func (m *Metrics) RecordSolveOperation(solver string, success bool, duration time.Duration, profit int64, assigned int) {
	status := "success"
	if !success {
		status = "error"
	}

	m.SolveOperationsTotal.WithLabelValues(solver, status).Inc()
	m.SolveDuration.WithLabelValues(solver).Observe(duration.Seconds())
	if success {
		m.SolutionProfit.WithLabelValues(solver).Set(float64(profit))
		m.Assignments.WithLabelValues(solver).Set(float64(assigned))
	}
}

// RecordInterval записывает завершение интервала
func (m *Metrics) RecordInterval(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.IntervalsTotal.WithLabelValues(status).Inc()
	m.IntervalDuration.Observe(duration.Seconds())
}

// RecordViolations записывает нарушения, найденные проверкой check
func (m *Metrics) RecordViolations(check string, count int) {
	if count > 0 {
		m.InvariantViolations.WithLabelValues(check).Add(float64(count))
	}
}

// SetServiceInfo устанавливает информацию о сервисе
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler возвращает HTTP handler для /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewMetricsServer собирает HTTP сервер для /metrics и /health
func NewMetricsServer(port int, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, ошибка записи не критична
	})

	return &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// StartMetricsServer запускает HTTP сервер для метрик
func StartMetricsServer(port int) error {
	return NewMetricsServer(port, "/metrics").ListenAndServe()
}
