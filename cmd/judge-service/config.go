package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultWatchInterval   = 500 * time.Millisecond
	defaultWorkRoot        = "/tmp/codejudge"
	defaultProblemsRoot    = "problems"
	defaultTimeLimit       = 5 * time.Second
	defaultStderrMaxBytes  = 64 << 10
	defaultStatusTTL       = 24 * time.Hour
	defaultStatusTimeout   = 3 * time.Second
	defaultStatusTopic     = "judge.status.final"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr          string              `yaml:"addr"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	WatchInterval time.Duration       `yaml:"watchInterval"`
	CORS          commonmw.CORSConfig `yaml:"cors"`
}

// KafkaConfig holds Kafka producer settings.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
	StatusTopic  string        `yaml:"statusTopic"`
}

// ProblemsConfig locates problem data.
type ProblemsConfig struct {
	Root string `yaml:"root"`
}

// JudgeConfig holds queue and execution settings.
type JudgeConfig struct {
	WorkRoot        string        `yaml:"workRoot"`
	TimeLimit       time.Duration `yaml:"timeLimit"`
	StderrMaxBytes  int64         `yaml:"stderrMaxBytes"`
	HistoryLimit    int           `yaml:"historyLimit"`
	HistoryTTL      time.Duration `yaml:"historyTTL"`
	MaxCodeBytes    int           `yaml:"maxCodeBytes"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StatusConfig holds final status persistence settings.
type StatusConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

// FilterConfig configures the import filter.
type FilterConfig struct {
	Allowlist    []string `yaml:"allowlist"`
	SkipComments bool     `yaml:"skipComments"`
}

// MetricsConfig toggles the Prometheus recorder and /metrics.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// AppConfig holds judge-service config. Redis, database, kafka and minio are
// optional; each is skipped when its address is empty.
type AppConfig struct {
	Server    ServerConfig           `yaml:"server"`
	Logger    logger.Config          `yaml:"logger"`
	Redis     cache.RedisConfig      `yaml:"redis"`
	Database  db.MySQLConfig         `yaml:"database"`
	Kafka     KafkaConfig            `yaml:"kafka"`
	MinIO     storage.MinIOConfig    `yaml:"minio"`
	Problems  ProblemsConfig         `yaml:"problems"`
	Judge     JudgeConfig            `yaml:"judge"`
	Status    StatusConfig           `yaml:"status"`
	Filter    FilterConfig           `yaml:"filter"`
	Languages []profile.LanguageSpec `yaml:"languages"`
	Metrics   MetricsConfig          `yaml:"metrics"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if cfg.Judge.HistoryLimit < 0 {
		return nil, fmt.Errorf("judge.historyLimit must not be negative")
	}
	for _, lang := range cfg.Languages {
		if lang.ID == "" || lang.SourceFile == "" || lang.RunCmdTpl == "" {
			return nil, fmt.Errorf("language %q needs id, sourceFile and runCmd", lang.ID)
		}
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.WatchInterval == 0 {
		cfg.Server.WatchInterval = defaultWatchInterval
	}
	if cfg.Problems.Root == "" {
		cfg.Problems.Root = defaultProblemsRoot
	}
	if cfg.Judge.WorkRoot == "" {
		cfg.Judge.WorkRoot = defaultWorkRoot
	}
	if cfg.Judge.TimeLimit == 0 {
		cfg.Judge.TimeLimit = defaultTimeLimit
	}
	if cfg.Judge.StderrMaxBytes == 0 {
		cfg.Judge.StderrMaxBytes = defaultStderrMaxBytes
	}
	if cfg.Judge.ShutdownTimeout == 0 {
		cfg.Judge.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.Status.Timeout == 0 {
		cfg.Status.Timeout = defaultStatusTimeout
	}
	if cfg.Kafka.StatusTopic == "" {
		cfg.Kafka.StatusTopic = defaultStatusTopic
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		Compression:  parseCompression(k.Compression),
		DialTimeout:  k.DialTimeout,
		WriteTimeout: k.WriteTimeout,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
