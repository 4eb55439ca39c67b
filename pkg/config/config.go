// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config - главная структура конфигурации
type Config struct {
	App      AppConfig      `koanf:"app"`
	GRPC     GRPCConfig     `koanf:"grpc"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Tracing  TracingConfig  `koanf:"tracing"`
	Database DatabaseConfig `koanf:"database"`
	Cache    CacheConfig    `koanf:"cache"`
	Oracle   OracleConfig   `koanf:"oracle"`
	Matching MatchingConfig `koanf:"matching"`
	Costs    CostsConfig    `koanf:"costs"`
	Export   ExportConfig   `koanf:"export"`
}

// AppConfig - общие настройки приложения
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// GRPCConfig - настройки gRPC сервера (health)
type GRPCConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig - настройки логирования
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`   // путь к файлу логов
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"` // количество бэкапов
	MaxAge     int    `koanf:"max_age"`     // дней
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig - настройки Prometheus метрик
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig - настройки OpenTelemetry
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// DatabaseConfig - настройки базы данных
type DatabaseConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN возвращает строку подключения к PostgreSQL
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
	)
}

// CacheConfig - настройки кэша расстояний
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"` // для in-memory
	// FlushOnStart удаляет расстояния текущего метода оракула при старте,
	// например после обновления дорожных данных
	FlushOnStart bool `koanf:"flush_on_start"`
}

// Address возвращает адрес кэша
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OracleConfig - источник дорожных расстояний
type OracleConfig struct {
	Method    string          `koanf:"method"` // greatcircle, manhattan, google
	APIKey    string          `koanf:"api_key"`
	Timeout   time.Duration   `koanf:"timeout"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig - квота запросов к внешнему оракулу.
// Backend redis делит квоту между репликами и использует адрес из cache.
type RateLimitConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Requests  int           `koanf:"requests"`
	Window    time.Duration `koanf:"window"`
	Strategy  string        `koanf:"strategy"` // sliding_window, token_bucket
	Backend   string        `koanf:"backend"`  // memory, redis
	BurstSize int           `koanf:"burst_size"`
}

// MatchingConfig - параметры построения и выбора совпадений
type MatchingConfig struct {
	StartHour                  int           `koanf:"start_hour"`
	Threads                    int           `koanf:"threads"`
	Timeout                    time.Duration `koanf:"timeout"`
	MaxMatchesPerDriver        int           `koanf:"max_matches_per_driver"`
	ReduceBaseMatches          bool          `koanf:"reduce_base_matches"`
	MinBaseMatchesPerDriver    int           `koanf:"min_base_matches_per_driver"`
	MaxBaseMatchesPerDriver    int           `koanf:"max_base_matches_per_driver"`
	MaxAssignmentsPerPassenger int           `koanf:"max_assignments_per_passenger"`
	Method                     string        `koanf:"method"`        // lattice, dp
	Solver                     string        `koanf:"solver"`        // ssp, greedy, ls2, ls2plus, ls2indexed
	GreedyMethod               int           `koanf:"greedy_method"` // 0 auto, 1 sorted, 2 simple removal
	ProfitTargetMultiplier     float64       `koanf:"profit_target_multiplier"`
	LowerBoundProfitTarget     float64       `koanf:"lower_bound_profit_target"`
	Seed                       int64         `koanf:"seed"`
	Interval                   time.Duration `koanf:"interval"`
	RunOnce                    bool          `koanf:"run_once"`
	Source                     string        `koanf:"source"` // file, postgres
	TripsFile                  string        `koanf:"trips_file"`
	TablesFile                 string        `koanf:"tables_file"`
	Validate                   bool          `koanf:"validate"`
}

// CostsConfig - корректировки операционных затрат
type CostsConfig struct {
	Multiplier        float64 `koanf:"multiplier"`
	ExtraCostChance   float64 `koanf:"extra_cost_chance"`
	ExtraCost         float64 `koanf:"extra_cost"`
	OperatingCostType int     `koanf:"operating_cost_type"` // 0 нет, 1 амортизация 15k, 2 амортизация 20k
	RevenueReduction  float64 `koanf:"revenue_reduction"`
}

// ExportConfig - выгрузка результатов интервала
type ExportConfig struct {
	XLSXPath string `koanf:"xlsx_path"`
	PDFPath  string `koanf:"pdf_path"`
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validOracles = map[string]bool{"greatcircle": true, "manhattan": true, "google": true}
	validMethods = map[string]bool{"lattice": true, "dp": true}
	validSolvers = map[string]bool{"ssp": true, "greedy": true, "ls2": true, "ls2plus": true, "ls2indexed": true}
	validSources = map[string]bool{"file": true, "postgres": true}
	validLimits  = map[string]bool{"sliding_window": true, "token_bucket": true}
	validBackend = map[string]bool{"memory": true, "redis": true}
)

// Validate проверяет конфигурацию и собирает все ошибки в одно сообщение
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Sprintf("grpc.port must be between 1 and 65535, got %d", c.GRPC.Port))
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if !validOracles[c.Oracle.Method] {
		errs = append(errs, fmt.Sprintf("oracle.method must be one of: greatcircle, manhattan, google, got %s", c.Oracle.Method))
	}
	if c.Oracle.Method == "google" && c.Oracle.APIKey == "" {
		errs = append(errs, "oracle.api_key is required for the google oracle")
	}

	if rl := c.Oracle.RateLimit; rl.Enabled {
		if rl.Requests <= 0 || rl.Window <= 0 {
			errs = append(errs, "oracle.rate_limit.requests and oracle.rate_limit.window must be positive")
		}
		if !validLimits[rl.Strategy] {
			errs = append(errs, fmt.Sprintf("oracle.rate_limit.strategy must be one of: sliding_window, token_bucket, got %s", rl.Strategy))
		}
		if !validBackend[rl.Backend] {
			errs = append(errs, fmt.Sprintf("oracle.rate_limit.backend must be one of: memory, redis, got %s", rl.Backend))
		}
	}

	m := c.Matching
	if m.StartHour < 0 || m.StartHour > 23 {
		errs = append(errs, fmt.Sprintf("matching.start_hour must be between 0 and 23, got %d", m.StartHour))
	}
	if m.Threads <= 0 {
		errs = append(errs, "matching.threads must be positive")
	}
	if m.Timeout <= 0 {
		errs = append(errs, "matching.timeout must be positive")
	}
	if m.MaxMatchesPerDriver <= 0 {
		errs = append(errs, "matching.max_matches_per_driver must be positive")
	}
	if m.ReduceBaseMatches && m.MinBaseMatchesPerDriver > m.MaxBaseMatchesPerDriver {
		errs = append(errs, "matching.min_base_matches_per_driver must not exceed matching.max_base_matches_per_driver")
	}
	if !validMethods[m.Method] {
		errs = append(errs, fmt.Sprintf("matching.method must be one of: lattice, dp, got %s", m.Method))
	}
	if !validSolvers[m.Solver] {
		errs = append(errs, fmt.Sprintf("matching.solver must be one of: ssp, greedy, ls2, ls2plus, ls2indexed, got %s", m.Solver))
	}
	if m.ProfitTargetMultiplier <= 0 {
		errs = append(errs, "matching.profit_target_multiplier must be positive")
	}
	if m.LowerBoundProfitTarget <= 0 || m.LowerBoundProfitTarget > 1 {
		errs = append(errs, "matching.lower_bound_profit_target must be in (0, 1]")
	}
	if !validSources[m.Source] {
		errs = append(errs, fmt.Sprintf("matching.source must be one of: file, postgres, got %s", m.Source))
	}
	if m.Source == "file" && m.TripsFile == "" {
		errs = append(errs, "matching.trips_file is required for the file source")
	}
	if m.Source == "postgres" && !c.Database.Enabled {
		errs = append(errs, "database.enabled must be true for the postgres source")
	}
	if !m.RunOnce && m.Interval <= 0 {
		errs = append(errs, "matching.interval must be positive unless matching.run_once is set")
	}

	if c.Costs.ExtraCostChance < 0 || c.Costs.ExtraCostChance > 1 {
		errs = append(errs, "costs.extra_cost_chance must be in [0, 1]")
	}
	if c.Costs.OperatingCostType < 0 || c.Costs.OperatingCostType > 2 {
		errs = append(errs, fmt.Sprintf("costs.operating_cost_type must be 0, 1 or 2, got %d", c.Costs.OperatingCostType))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment проверяет режим разработки
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction проверяет продакшн режим
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
