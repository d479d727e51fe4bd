/*
Package config loads ledger configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. YAML file (optional, path given on the command line)
  3. .env file in the working directory (optional)
  4. LEDGER_* environment variables, "." replaced by "_"
     e.g. LEDGER_DATABASE_DRIVER=mysql, LEDGER_KAFKA_BROKERS=a:9092,b:9092

EXAMPLE (ledger.yaml):
  server:
    addr: ":8080"
  database:
    driver: sqlite
    path: ./data/ledger.db
  engine:
    timezone: America/Sao_Paulo
    snapshot_grace_hours: 2
    recalc_mode: current
  scheduler:
    sweep_at: "00:05"
    snapshot_at: "23:55"
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/warp/finance-ledger/ledger"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite | mysql
	Path         string `mapstructure:"path"`   // sqlite
	DSN          string `mapstructure:"dsn"`    // mysql
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	// ConnectTimeout bounds the startup retry loop.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	LockWait time.Duration `mapstructure:"lock_wait"`
}

type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

type EngineConfig struct {
	Timezone           string `mapstructure:"timezone"`
	SnapshotGraceHours int    `mapstructure:"snapshot_grace_hours"`
	RecalcMode         string `mapstructure:"recalc_mode"`
	MaxRecalcDays      int    `mapstructure:"max_recalc_days"`
}

type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	SweepAt    string        `mapstructure:"sweep_at"`    // HH:MM local
	SnapshotAt string        `mapstructure:"snapshot_at"` // HH:MM local
	Interval   time.Duration `mapstructure:"interval"`    // tick resolution
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from defaults, the optional YAML file at path,
// an optional .env file and LEDGER_* variables, then validates it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/ledger.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.connect_timeout", 30*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("redis.lock_wait", 5*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "ledger-events")
	v.SetDefault("kafka.client_id", "finance-ledger")

	v.SetDefault("engine.timezone", "UTC")
	v.SetDefault("engine.snapshot_grace_hours", 2)
	v.SetDefault("engine.recalc_mode", string(ledger.RecalcCurrent))
	v.SetDefault("engine.max_recalc_days", 3660)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sweep_at", "00:05")
	v.SetDefault("scheduler.snapshot_at", "23:55")
	v.SetDefault("scheduler.interval", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or mysql", c.Database.Driver))
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic are required when kafka is enabled"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}

	if _, err := c.Engine.Ledger(); err != nil {
		errs = append(errs, err)
	}

	if _, _, err := ParseTimeOfDay(c.Scheduler.SweepAt); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.sweep_at: %w", err))
	}
	if _, _, err := ParseTimeOfDay(c.Scheduler.SnapshotAt); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.snapshot_at: %w", err))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Ledger converts the engine section into a ledger.Config.
func (e EngineConfig) Ledger() (ledger.Config, error) {
	cfg := ledger.DefaultConfig()

	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return cfg, fmt.Errorf("engine.timezone %q: %w", e.Timezone, err)
	}
	cfg.Location = loc

	if e.SnapshotGraceHours < 0 || e.SnapshotGraceHours >= 24 {
		return cfg, fmt.Errorf("engine.snapshot_grace_hours %d: want 0..23", e.SnapshotGraceHours)
	}
	cfg.SnapshotGrace = time.Duration(e.SnapshotGraceHours) * time.Hour

	mode := ledger.RecalcMode(e.RecalcMode)
	if !mode.Valid() {
		return cfg, fmt.Errorf("engine.recalc_mode %q: want current or replay", e.RecalcMode)
	}
	cfg.RecalcMode = mode

	if e.MaxRecalcDays < 0 {
		return cfg, fmt.Errorf("engine.max_recalc_days %d: must not be negative", e.MaxRecalcDays)
	}
	cfg.MaxRecalcDays = e.MaxRecalcDays
	return cfg, nil
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("%q is not HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
