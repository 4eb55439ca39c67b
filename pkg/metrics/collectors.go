package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ridematch/pkg/cache"
	"ridematch/pkg/logger"
)

// statsTimeout ограничивает опрос Redis при scrape
const statsTimeout = 2 * time.Second

// StatsSource отдаёт статистику кэша; реализуется cache.Cache
type StatsSource interface {
	Stats(ctx context.Context) (*cache.Stats, error)
}

// CacheCollector читает статистику кэша расстояний при каждом scrape.
// Ошибка опроса пропускает метрики этого scrape.
type CacheCollector struct {
	source StatsSource

	keys    *prometheus.Desc
	hits    *prometheus.Desc
	misses  *prometheus.Desc
	hitRate *prometheus.Desc
	memory  *prometheus.Desc
}

// NewCacheCollector создаёт коллектор; регистрируется вызывающей стороной
func NewCacheCollector(namespace, subsystem string, source StatsSource) *CacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, []string{"backend"}, nil)
	}
	return &CacheCollector{
		source:  source,
		keys:    desc("keys", "Live cache entries"),
		hits:    desc("hits_total", "Cache lookups answered from the cache"),
		misses:  desc("misses_total", "Cache lookups that went to the oracle"),
		hitRate: desc("hit_ratio", "Hits divided by all lookups"),
		memory:  desc("memory_bytes", "Bytes held by cached values"),
	}
}

// Describe implements prometheus.Collector
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.hits
	ch <- c.misses
	ch <- c.hitRate
	ch <- c.memory
}

// Collect implements prometheus.Collector
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	st, err := c.source.Stats(ctx)
	if err != nil {
		logger.Log.Warn("cache stats unavailable", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(st.TotalKeys), st.Backend)
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(st.Hits), st.Backend)
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses), st.Backend)
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, st.HitRate, st.Backend)
	ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(st.MemoryBytes), st.Backend)
}

// TaskTracker отслеживает выполняющиеся задачи пула по фазам
type TaskTracker struct {
	mu       sync.Mutex
	active   map[string]int
	inFlight prometheus.Gauge
}

// NewTaskTracker создаёт новый трекер задач
func NewTaskTracker(inFlight prometheus.Gauge) *TaskTracker {
	return &TaskTracker{
		active:   make(map[string]int),
		inFlight: inFlight,
	}
}

// Start отмечает начало задачи
func (t *TaskTracker) Start(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[phase]++
	t.inFlight.Inc()
}

// End отмечает завершение задачи
func (t *TaskTracker) End(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active[phase] > 0 {
		t.active[phase]--
		t.inFlight.Dec()
	}
}

// Active возвращает число задач фазы
func (t *TaskTracker) Active(phase string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[phase]
}
