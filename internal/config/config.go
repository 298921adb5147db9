package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Store    StoreConfig
	Sync     SyncConfig
	Auth     AuthConfig
	Server   ServerConfig
	Events   EventsConfig
	Metrics  MetricsConfig
	LogLevel string
}

type StoreConfig struct {
	Path string
}

type SyncConfig struct {
	APIBaseURL       string
	MaxRetries       int
	MaxQueueSize     int64
	DispatchInterval time.Duration
	LockTimeout      time.Duration
	RequestTimeout   time.Duration
	IdempotencyDedupWindow time.Duration
}

type AuthConfig struct {
	RefreshTimeout time.Duration
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	JWTSecret    string
}

type EventsConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/timer-agent")

	setDefaults()

	viper.SetEnvPrefix("TIMERAGENT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("store.path", "./timer-agent.db")

	viper.SetDefault("sync.apibaseurl", "https://app.example.com/api")
	viper.SetDefault("sync.maxretries", 5)
	viper.SetDefault("sync.maxqueuesize", int64(10000))
	viper.SetDefault("sync.dispatchinterval", 30*time.Second)
	viper.SetDefault("sync.locktimeout", 300*time.Second)
	viper.SetDefault("sync.requesttimeout", 120*time.Second)
	viper.SetDefault("sync.idempotencydedupwindow", 5*time.Second)

	viper.SetDefault("auth.refreshtimeout", 10*time.Second)

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8790)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)
	viper.SetDefault("server.jwtsecret", "")

	viper.SetDefault("events.redisaddr", "")
	viper.SetDefault("events.redispassword", "")
	viper.SetDefault("events.redisdb", 0)
	viper.SetDefault("events.redischannel", "timer-agent.events")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("loglevel", "info")
}
