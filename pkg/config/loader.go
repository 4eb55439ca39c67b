package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "RIDEMATCH_"
	configEnvVar = "CONFIG_PATH"
)

// Loader загружает конфигурацию из разных источников
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader создаёт новый загрузчик конфигурации
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/ridematch/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption - опция для конфигурации загрузчика
type LoaderOption func(*Loader)

// WithConfigPaths устанавливает пути поиска конфигурации
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix устанавливает префикс переменных окружения
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load загружает конфигурацию с приоритетом:
// 1. Defaults (самый низкий)
// 2. Config file (yaml)
// 3. Environment variables (самый высокий)
func (l *Loader) Load() (*Config, error) {
	// 1. Загружаем значения по умолчанию
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Загружаем из файла конфигурации
	if err := l.loadConfigFile(); err != nil {
		// Файл не обязателен, логируем warning
		fmt.Printf("Warning: %v\n", err)
	}

	// 3. Загружаем из переменных окружения (перезаписывают файл)
	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	// 4. Распаковываем в структуру
	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 5. Валидируем
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults загружает значения по умолчанию
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "ridematch",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,

		// GRPC (health)
		"grpc.port":             50051,
		"grpc.shutdown_timeout": 10 * time.Second,

		// Log
		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		// Metrics
		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "ridematch",
		"metrics.subsystem": "",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "ridematch",
		"tracing.sample_rate":  0.1,

		// Database
		"database.enabled":            false,
		"database.host":               "localhost",
		"database.port":               5432,
		"database.database":           "ridematch",
		"database.username":           "postgres",
		"database.password":           "",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,
		"database.auto_migrate":       true,

		// Cache
		"cache.enabled":        false,
		"cache.driver":         "memory",
		"cache.host":           "localhost",
		"cache.port":           6379,
		"cache.db":             0,
		"cache.default_ttl":    24 * time.Hour,
		"cache.max_entries":    1_000_000,
		"cache.flush_on_start": false,

		// Oracle
		"oracle.method":  "greatcircle",
		"oracle.timeout": 10 * time.Second,

		"oracle.rate_limit.enabled":    false,
		"oracle.rate_limit.requests":   50,
		"oracle.rate_limit.window":     time.Second,
		"oracle.rate_limit.strategy":   "sliding_window",
		"oracle.rate_limit.backend":    "memory",
		"oracle.rate_limit.burst_size": 0,

		// Matching
		"matching.start_hour":                    0,
		"matching.threads":                       8,
		"matching.timeout":                       30 * time.Minute,
		"matching.max_matches_per_driver":        20000,
		"matching.reduce_base_matches":           false,
		"matching.min_base_matches_per_driver":   25,
		"matching.max_base_matches_per_driver":   100,
		"matching.max_assignments_per_passenger": 12,
		"matching.method":                        "lattice",
		"matching.solver":                        "ssp",
		"matching.greedy_method":                 0,
		"matching.profit_target_multiplier":      1.0,
		"matching.lower_bound_profit_target":     0.6,
		"matching.seed":                          1,
		"matching.interval":                      time.Minute,
		"matching.run_once":                      false,
		"matching.source":                        "file",
		"matching.trips_file":                    "data/trips.yaml",
		"matching.tables_file":                   "",
		"matching.validate":                      true,

		// Costs
		"costs.multiplier":          1.0,
		"costs.extra_cost_chance":   0.0,
		"costs.extra_cost":          0.0,
		"costs.operating_cost_type": 0,
		"costs.revenue_reduction":   1.0,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile загружает конфигурацию из файла
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv загружает конфигурацию из переменных окружения
// Использует умную трансформацию ключей для полей с подчёркиванием
func (l *Loader) loadEnv() error {
	return l.k.Load(env.ProviderWithValue(l.envPrefix, ".", func(envKey string, value string) (string, interface{}) {
		// Убираем префикс и приводим к нижнему регистру
		key := strings.ToLower(strings.TrimPrefix(envKey, l.envPrefix))

		// Маппинг для полей с подчёркиванием в именах
		if mappedKey, ok := envKeyMappings[key]; ok {
			key = mappedKey
		} else {
			// По умолчанию заменяем все подчёркивания на точки
			key = strings.ReplaceAll(key, "_", ".")
		}

		// Для slice-полей разбиваем по запятой
		if isSliceField(key) {
			return key, splitAndTrim(value)
		}

		return key, value
	}), nil)
}

// envKeyMappings - маппинг переменных окружения на ключи конфига
// Необходим для полей, содержащих подчёркивания в именах
var envKeyMappings = map[string]string{
	// App
	"app_name":        "app.name",
	"app_version":     "app.version",
	"app_environment": "app.environment",
	"app_debug":       "app.debug",

	// GRPC
	"grpc_port":             "grpc.port",
	"grpc_shutdown_timeout": "grpc.shutdown_timeout",

	// Log
	"log_level":       "log.level",
	"log_format":      "log.format",
	"log_output":      "log.output",
	"log_file_path":   "log.file_path",
	"log_max_size":    "log.max_size",
	"log_max_backups": "log.max_backups",
	"log_max_age":     "log.max_age",
	"log_compress":    "log.compress",

	// Tracing
	"tracing_enabled":      "tracing.enabled",
	"tracing_endpoint":     "tracing.endpoint",
	"tracing_service_name": "tracing.service_name",
	"tracing_sample_rate":  "tracing.sample_rate",

	// Database
	"database_enabled":            "database.enabled",
	"database_host":               "database.host",
	"database_port":               "database.port",
	"database_database":           "database.database",
	"database_username":           "database.username",
	"database_password":           "database.password",
	"database_ssl_mode":           "database.ssl_mode",
	"database_max_open_conns":     "database.max_open_conns",
	"database_max_idle_conns":     "database.max_idle_conns",
	"database_conn_max_lifetime":  "database.conn_max_lifetime",
	"database_conn_max_idle_time": "database.conn_max_idle_time",
	"database_auto_migrate":       "database.auto_migrate",

	// Cache
	"cache_enabled":        "cache.enabled",
	"cache_driver":         "cache.driver",
	"cache_host":           "cache.host",
	"cache_port":           "cache.port",
	"cache_password":       "cache.password",
	"cache_db":             "cache.db",
	"cache_default_ttl":    "cache.default_ttl",
	"cache_max_entries":    "cache.max_entries",
	"cache_flush_on_start": "cache.flush_on_start",

	// Oracle
	"oracle_method":  "oracle.method",
	"oracle_api_key": "oracle.api_key",
	"oracle_timeout": "oracle.timeout",

	"oracle_rate_limit_enabled":    "oracle.rate_limit.enabled",
	"oracle_rate_limit_requests":   "oracle.rate_limit.requests",
	"oracle_rate_limit_window":     "oracle.rate_limit.window",
	"oracle_rate_limit_strategy":   "oracle.rate_limit.strategy",
	"oracle_rate_limit_backend":    "oracle.rate_limit.backend",
	"oracle_rate_limit_burst_size": "oracle.rate_limit.burst_size",

	// Matching
	"matching_start_hour":                    "matching.start_hour",
	"matching_threads":                       "matching.threads",
	"matching_timeout":                       "matching.timeout",
	"matching_max_matches_per_driver":        "matching.max_matches_per_driver",
	"matching_reduce_base_matches":           "matching.reduce_base_matches",
	"matching_min_base_matches_per_driver":   "matching.min_base_matches_per_driver",
	"matching_max_base_matches_per_driver":   "matching.max_base_matches_per_driver",
	"matching_max_assignments_per_passenger": "matching.max_assignments_per_passenger",
	"matching_method":                        "matching.method",
	"matching_solver":                        "matching.solver",
	"matching_greedy_method":                 "matching.greedy_method",
	"matching_profit_target_multiplier":      "matching.profit_target_multiplier",
	"matching_lower_bound_profit_target":     "matching.lower_bound_profit_target",
	"matching_seed":                          "matching.seed",
	"matching_interval":                      "matching.interval",
	"matching_run_once":                      "matching.run_once",
	"matching_source":                        "matching.source",
	"matching_trips_file":                    "matching.trips_file",
	"matching_tables_file":                   "matching.tables_file",
	"matching_validate":                      "matching.validate",

	// Costs
	"costs_multiplier":          "costs.multiplier",
	"costs_extra_cost_chance":   "costs.extra_cost_chance",
	"costs_extra_cost":          "costs.extra_cost",
	"costs_operating_cost_type": "costs.operating_cost_type",
	"costs_revenue_reduction":   "costs.revenue_reduction",

	// Export
	"export_xlsx_path": "export.xlsx_path",
	"export_pdf_path":  "export.pdf_path",
}

// sliceFields - поля, которые должны парситься как слайсы
var sliceFields = map[string]bool{}

func isSliceField(key string) bool {
	return sliceFields[key]
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// MustLoad загружает конфигурацию или паникует
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load - удобная функция для загрузки с дефолтными настройками
func Load() (*Config, error) {
	return NewLoader().Load()
}

// LoadWithServiceDefaults загружает конфигурацию с переопределением для конкретного сервиса
func LoadWithServiceDefaults(serviceName string, defaultPort int) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if cfg.GRPC.Port == 50051 && defaultPort != 0 {
		cfg.GRPC.Port = defaultPort
	}

	if cfg.App.Name == "ridematch" {
		cfg.App.Name = serviceName
	}

	return cfg, nil
}
