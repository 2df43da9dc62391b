package config

import (
	"os"
	"strings"
	"time"

	"PPRelay/data/database/mgo/mongoutil"
	"PPRelay/service/events"
	rdsutil "PPRelay/service/storage/redis"
	"PPRelay/tools/decode"
	"PPRelay/tools/errs"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"

	EventsNone  = "none"
	EventsNats  = "nats"
	EventsKafka = "kafka"
)

type Config struct {
	NodeID   string         `mapstructure:"node_id"`
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Room     RoomConfig     `mapstructure:"room"`
	Conn     ConnConfig     `mapstructure:"conn"`
	Liveness LivenessConfig `mapstructure:"liveness"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Events   EventsConfig   `mapstructure:"events"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	GinMode         string        `mapstructure:"gin_mode"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Alg       string        `mapstructure:"alg"`
	Leeway    time.Duration `mapstructure:"leeway"`
}

type RoomConfig struct {
	EnforceMembership bool `mapstructure:"enforce_membership"`
}

type ConnConfig struct {
	SendQueue     int           `mapstructure:"send_queue"`
	WriteWait     time.Duration `mapstructure:"write_wait"`
	MaxFrameBytes int64         `mapstructure:"max_frame_bytes"`
	FrameRate     float64       `mapstructure:"frame_rate"`
	FrameBurst    int           `mapstructure:"frame_burst"`
}

type LivenessConfig struct {
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	ActivityCounts bool          `mapstructure:"activity_counts"`
}

type StoreConfig struct {
	Driver   string           `mapstructure:"driver"`
	Timeout  time.Duration    `mapstructure:"timeout"`
	Mongo    mongoutil.Config `mapstructure:"mongo"`
	Postgres PostgresConfig   `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	rdsutil.Config `mapstructure:",squash"`

	Enabled     bool          `mapstructure:"enabled"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`
}

type EventsConfig struct {
	Sink      string             `mapstructure:"sink"`
	QueueSize int                `mapstructure:"queue_size"`
	Timeout   time.Duration      `mapstructure:"timeout"`
	Nats      events.NatsConfig  `mapstructure:"nats"`
	Kafka     events.KafkaConfig `mapstructure:"kafka"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Default 返回全部默认值；Load 在其上覆盖文件中的配置。
func Default() *Config {
	return &Config{
		NodeID:   "relay-1",
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			GinMode:         "release",
		},
		Auth: AuthConfig{Alg: "HS256"},
		Room: RoomConfig{EnforceMembership: true},
		Conn: ConnConfig{
			SendQueue:     256,
			WriteWait:     10 * time.Second,
			MaxFrameBytes: 64 << 10,
		},
		Liveness: LivenessConfig{
			ProbeInterval:  30 * time.Second,
			ActivityCounts: true,
		},
		Store: StoreConfig{
			Driver:  StoreMemory,
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{PresenceTTL: 90 * time.Second},
		Events: EventsConfig{
			Sink:      EventsNone,
			QueueSize: 1024,
			Timeout:   5 * time.Second,
			Nats:      events.NatsConfig{SubjectPrefix: "pprelay.message"},
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads an optional .env in the working directory, then the YAML file at
// path with ${VAR} references expanded from the environment. An empty path
// yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.WrapMsg(err, "read config", "path", path)
		}
		var tree map[string]any
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &tree); err != nil {
			return nil, errs.ErrArgs.WrapMsg("parse config yaml", "path", path, "err", err)
		}
		if err := decode.Into(tree, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment-specific values come straight from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("JWT_SECRET"); v != "" && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("RELAY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RELAY_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errs.ErrArgs.WrapMsg("auth.jwt_secret is required")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreMongo:
		if c.Store.Mongo.Uri == "" && len(c.Store.Mongo.Address) == 0 {
			return errs.ErrArgs.WrapMsg("store.mongo.uri or store.mongo.address is required")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return errs.ErrArgs.WrapMsg("store.postgres.dsn is required")
		}
	default:
		return errs.ErrArgs.WrapMsg("unknown store driver", "driver", c.Store.Driver)
	}
	switch c.Events.Sink {
	case EventsNone, "":
	case EventsNats:
		if len(c.Events.Nats.Servers) == 0 {
			return errs.ErrArgs.WrapMsg("events.nats.servers is required")
		}
	case EventsKafka:
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			return errs.ErrArgs.WrapMsg("events.kafka.brokers and events.kafka.topic are required")
		}
	default:
		return errs.ErrArgs.WrapMsg("unknown events sink", "sink", c.Events.Sink)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errs.ErrArgs.WrapMsg("redis.addr is required when redis is enabled")
	}
	if c.Liveness.ProbeInterval <= 0 {
		return errs.ErrArgs.WrapMsg("liveness.probe_interval must be positive")
	}
	return nil
}
