// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Solver, Postgres, Kafka, Redis, Analytics, etc.).
package config

import (
	"fmt"
	"math"
	"net/netip"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Solver    SolverConfig    `yaml:"solver"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// RateLimitPerMinute caps requests per client IP; 0 disables limiting.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
	// CORSOrigins lists allowed browser origins; empty disables CORS headers.
	CORSOrigins []string `yaml:"corsOrigins"`
	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// header is believed. Empty means clients are keyed by socket address.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// RequestTimeout is the deadline handlers run under. It stays a tenth
// below WriteTimeout so a 504 is written before the connection deadline.
func (s ServerConfig) RequestTimeout() time.Duration {
	return s.WriteTimeout - s.WriteTimeout/10
}

// SolverConfig controls the Aberth–Ehrlich iteration and the limits the
// service places on incoming polynomials.
type SolverConfig struct {
	Tolerance         float64       `yaml:"tolerance"`
	MaxTolerance      float64       `yaml:"maxTolerance"`
	MaxIterations     int           `yaml:"maxIterations"`
	IterationLimit    int           `yaml:"iterationLimit"`
	Workers           int           `yaml:"workers"`
	ParallelThreshold int           `yaml:"parallelThreshold"`
	PhaseOffset       float64       `yaml:"phaseOffset"`
	Restarts          int           `yaml:"restarts"`
	Seed              int64         `yaml:"seed"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxDegree         int           `yaml:"maxDegree"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SolveRequests   string `yaml:"solveRequests"`
	SolveResults    string `yaml:"solveResults"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// AnalyticsConfig controls the solve-event pipeline.
type AnalyticsConfig struct {
	Port             int           `yaml:"port"`
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging of solve phases.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the solver cannot run with.
func (c *Config) Validate() error {
	s := c.Solver
	if !(s.Tolerance > 0) || math.IsInf(s.Tolerance, 0) {
		return fmt.Errorf("solver.tolerance must be positive, got %v", s.Tolerance)
	}
	if s.MaxTolerance < s.Tolerance {
		return fmt.Errorf("solver.maxTolerance %v is below solver.tolerance %v", s.MaxTolerance, s.Tolerance)
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("solver.maxIterations must be positive, got %d", s.MaxIterations)
	}
	if s.IterationLimit < s.MaxIterations {
		return fmt.Errorf("solver.iterationLimit %d is below solver.maxIterations %d", s.IterationLimit, s.MaxIterations)
	}
	if s.MaxDegree <= 0 {
		return fmt.Errorf("solver.maxDegree must be positive, got %d", s.MaxDegree)
	}
	if s.Restarts < 0 {
		return fmt.Errorf("solver.restarts must not be negative, got %d", s.Restarts)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rateLimitPerMinute must not be negative, got %d", c.Server.RateLimitPerMinute)
	}
	if s.Timeout >= c.Server.RequestTimeout() {
		return fmt.Errorf("solver.timeout %v must be below the request deadline %v (90%% of server.writeTimeout)",
			s.Timeout, c.Server.RequestTimeout())
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(strings.TrimSpace(p)) {
			return fmt.Errorf("server.trustedProxies: %q is not an IP address or CIDR", p)
		}
	}
	return nil
}

func validProxy(entry string) bool {
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,

			RateLimitPerMinute: 600,
		},
		Solver: SolverConfig{
			Tolerance:         1e-10,
			MaxTolerance:      1e-2,
			MaxIterations:     500,
			IterationLimit:    10000,
			Workers:           runtime.GOMAXPROCS(0),
			ParallelThreshold: 64,
			PhaseOffset:       0.7,
			Restarts:          2,
			Seed:              1,
			Timeout:           10 * time.Second,
			MaxDegree:         2048,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "polyroots",
			User:            "polyroots",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "polyroots-group",
			Topics: KafkaTopics{
				SolveRequests:   "solve-requests",
				SolveResults:    "solve-results",
				AnalyticsEvents: "solve-analytics",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			Port:             8082,
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    time.Second,
			SnapshotInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads PR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PR_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("PR_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("PR_SERVER_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("PR_ANALYTICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Analytics.Port = port
		}
	}
	if v := os.Getenv("PR_SOLVER_TOLERANCE"); v != "" {
		if tol, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Solver.Tolerance = tol
		}
	}
	if v := os.Getenv("PR_SOLVER_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Solver.MaxIterations = n
		}
	}
	if v := os.Getenv("PR_SOLVER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Solver.Workers = n
		}
	}
	if v := os.Getenv("PR_SOLVER_RESTARTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Solver.Restarts = n
		}
	}
	if v := os.Getenv("PR_SOLVER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Solver.Timeout = d
		}
	}
	if v := os.Getenv("PR_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PR_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("PR_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("PR_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PR_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PR_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("PR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PR_TRACING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = enabled
		}
	}
}
