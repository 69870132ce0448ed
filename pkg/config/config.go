package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Drivers accepted by transport.driver.
const (
	DriverLmstfy = "lmstfy"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config is the root configuration shared by every binary.
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Transport TransportConfig  `mapstructure:"transport"`
	MySQL     MySQLConfig      `mapstructure:"mysql"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Lmstfy    LmstfyConfig     `mapstructure:"lmstfy"`
	Router    RouterConfig     `mapstructure:"router"`
	Workers   []WorkerConfig   `mapstructure:"workers"`
	Schedules []ScheduleConfig `mapstructure:"schedules"`
	Server    ServerConfig     `mapstructure:"server"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// TransportConfig selects the queue substrate and the reconnect policy.
type TransportConfig struct {
	Driver           string        `mapstructure:"driver"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
}

// MySQLConfig is optional; an empty DSN disables the dead-letter archive
// and the schedule store.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Prefix namespaces every queue key.
	Prefix string `mapstructure:"prefix"`
	// EventChannel is the pub/sub channel job outcomes are published on.
	// Empty disables publishing.
	EventChannel string `mapstructure:"event_channel"`
}

type LmstfyConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	Token     string `mapstructure:"token"`
	// TTL in seconds applied to published jobs, 0 keeps them forever.
	TTL uint32 `mapstructure:"ttl"`
}

// RouterConfig holds the emit side settings.
type RouterConfig struct {
	Queue              string        `mapstructure:"queue"`
	EmitWait           time.Duration `mapstructure:"emit_wait"`
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts"`
}

// WorkerConfig describes one worker pool.
type WorkerConfig struct {
	Name       string           `mapstructure:"name"`
	QueueName  string           `mapstructure:"queue_name"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
}

type SubscriberConfig struct {
	Threads      int           `mapstructure:"threads"`
	Rate         float64       `mapstructure:"rate"` // pulls per second per pool, 0 = unlimited
	Timeout      time.Duration `mapstructure:"timeout"`
	TTR          time.Duration `mapstructure:"ttr"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

type ProcessorConfig struct {
	Threads int           `mapstructure:"threads"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ScheduleConfig registers a repeatable emit.
type ScheduleConfig struct {
	Name    string                 `mapstructure:"name"`
	Spec    string                 `mapstructure:"spec"`
	Kind    string                 `mapstructure:"kind"`
	Payload map[string]interface{} `mapstructure:"payload"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "jobrouter")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("transport.driver", DriverLmstfy)
	v.SetDefault("transport.reconnect_backoff", 5*time.Second)
	v.SetDefault("transport.connect_timeout", 10*time.Second)

	v.SetDefault("mysql.dsn", "")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "jobrouter")
	v.SetDefault("redis.event_channel", "")

	v.SetDefault("lmstfy.host", "127.0.0.1")
	v.SetDefault("lmstfy.port", 7777)
	v.SetDefault("lmstfy.namespace", "")
	v.SetDefault("lmstfy.token", "")
	v.SetDefault("lmstfy.ttl", 0)

	v.SetDefault("router.queue", "jobs")
	v.SetDefault("router.emit_wait", 15*time.Second)
	v.SetDefault("router.default_max_attempts", 3)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

// Load reads a YAML file, applies defaults and JOBROUTER_* env overrides.
// An empty path loads defaults and env only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("JOBROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	cfg.applyWorkerDefaults()

	return &cfg, nil
}

// applyWorkerDefaults fills the zero values viper cannot default inside a list.
func (c *Config) applyWorkerDefaults() {
	for i := range c.Workers {
		w := &c.Workers[i]
		if w.QueueName == "" {
			w.QueueName = c.Router.Queue
		}
		if w.Processor.Threads <= 0 {
			w.Processor.Threads = 10
		}
		if w.Subscriber.Threads <= 0 {
			w.Subscriber.Threads = 1
		}
		if w.Subscriber.Timeout <= 0 {
			w.Subscriber.Timeout = 3 * time.Second
		}
		if w.Subscriber.TTR <= 0 {
			w.Subscriber.TTR = 30 * time.Second
		}
		if w.Subscriber.ErrorBackoff <= 0 {
			w.Subscriber.ErrorBackoff = time.Second
		}
		if w.Processor.Timeout <= 0 {
			w.Processor.Timeout = w.Subscriber.TTR
		}
	}
}

// Validate checks the fields every binary depends on.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.Router.Queue == "" {
		return fmt.Errorf("router.queue is required")
	}
	switch c.Transport.Driver {
	case DriverLmstfy:
		if c.Lmstfy.Host == "" {
			return fmt.Errorf("lmstfy.host is required")
		}
		if c.Lmstfy.Namespace == "" {
			return fmt.Errorf("lmstfy.namespace is required")
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown transport.driver %q", c.Transport.Driver)
	}
	if c.Transport.ReconnectBackoff <= 0 {
		return fmt.Errorf("transport.reconnect_backoff must be positive")
	}
	// 0 leaves the bound to the caller; anything shorter than one backoff
	// fails before the first reconnect attempt.
	if c.Router.EmitWait < 0 || (c.Router.EmitWait > 0 && c.Router.EmitWait < c.Transport.ReconnectBackoff) {
		return fmt.Errorf("router.emit_wait must be 0 or at least transport.reconnect_backoff (%v)", c.Transport.ReconnectBackoff)
	}
	for _, w := range c.Workers {
		if w.Name == "" {
			return fmt.Errorf("worker name is required")
		}
	}
	for _, s := range c.Schedules {
		if s.Spec == "" || s.Kind == "" {
			return fmt.Errorf("schedule %q needs spec and kind", s.Name)
		}
	}
	return nil
}
