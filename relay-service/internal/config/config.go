package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/wes-io-live/pkg/config"
	"github.com/weiawesome/wes-io-live/pkg/database"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/pkg/storage"
)

type Config struct {
	Server     ServerConfig
	GRPC       GRPCConfig
	WebSocket  WebSocketConfig
	Relay      RelayConfig
	NanoID     NanoIDConfig    `mapstructure:"nanoid"`
	CUID2      CUID2Config     `mapstructure:"cuid2"`
	Snowflake  SnowflakeConfig `mapstructure:"snowflake"`
	Presence   PresenceConfig
	Sink       SinkConfig
	Redis      RedisConfig
	Kafka      pubsub.KafkaConfig
	Database   database.Config
	Transcript TranscriptConfig
	Reporter   ReporterConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type GRPCConfig struct {
	Enabled bool
	Host    string
	Port    int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type RelayConfig struct {
	DefaultRoom     string `mapstructure:"default_room"`
	UsernamePrefix  string `mapstructure:"username_prefix"`
	UsernameIDChars int    `mapstructure:"username_id_chars"`
	EventBuffer     int    `mapstructure:"event_buffer"`
	IDStrategy      string `mapstructure:"id_strategy"`
	IDMaxAttempts   int    `mapstructure:"id_max_attempts"`
}

type NanoIDConfig struct {
	Size     int
	Alphabet string
}

type CUID2Config struct {
	Length int
}

type SnowflakeConfig struct {
	MachineID int64 `mapstructure:"machine_id"`
	Epoch     int64
}

type PresenceConfig struct {
	TypingTTL     time.Duration `mapstructure:"typing_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SinkConfig struct {
	Drivers        []string
	Buffer         int
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type RedisConfig struct {
	Address       string
	Password      string
	DB            int
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type TranscriptConfig struct {
	Prefix    string
	BatchSize int           `mapstructure:"batch_size"`
	MaxAge    time.Duration `mapstructure:"max_age"`
	Storage   storage.Config
}

type ReporterConfig struct {
	Enabled           bool
	Key               string
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// PubSub returns the pkg/pubsub view of the redis and kafka settings.
func (c *Config) PubSub(driver string) pubsub.Config {
	return pubsub.Config{
		Driver:        driver,
		ChannelPrefix: c.Redis.ChannelPrefix,
		Redis: pubsub.RedisConfig{
			Address:  c.Redis.Address,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		},
		Kafka: c.Kafka,
	}
}

// Load reads config/config.yaml (optional), env vars and defaults.
func Load() (*Config, *viper.Viper, error) {
	return LoadFrom("./config")
}

// LoadFrom is Load with an explicit config directory.
func LoadFrom(dir string) (*Config, *viper.Viper, error) {
	v, err := pkgconfig.Load(dir, "config")
	if err != nil {
		return nil, nil, err
	}

	setDefaults(v)
	bindEnv(v)

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50060)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.allowed_origins", []string{})
	v.SetDefault("relay.default_room", "general")
	v.SetDefault("relay.username_prefix", "User-")
	v.SetDefault("relay.username_id_chars", 5)
	v.SetDefault("relay.event_buffer", 1024)
	v.SetDefault("relay.id_strategy", "nanoid")
	v.SetDefault("relay.id_max_attempts", 8)
	v.SetDefault("nanoid.size", 9)
	v.SetDefault("nanoid.alphabet", "0123456789abcdefghijklmnopqrstuvwxyz")
	v.SetDefault("cuid2.length", 24)
	v.SetDefault("snowflake.machine_id", 1)
	v.SetDefault("snowflake.epoch", 1704067200000)
	v.SetDefault("presence.typing_ttl", "0s")
	v.SetDefault("presence.sweep_interval", "1s")
	v.SetDefault("sink.drivers", []string{})
	v.SetDefault("sink.buffer", 512)
	v.SetDefault("sink.publish_timeout", "3s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", pubsub.DefaultChannelPrefix)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-relay-events")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "relay.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("transcript.prefix", "transcripts")
	v.SetDefault("transcript.batch_size", 100)
	v.SetDefault("transcript.max_age", "1m")
	v.SetDefault("transcript.storage.backend", storage.BackendLocal)
	v.SetDefault("transcript.storage.local.base_path", "data")
	v.SetDefault("transcript.storage.s3.region", "us-east-1")
	v.SetDefault("reporter.enabled", false)
	v.SetDefault("reporter.key", "relay:stats")
	v.SetDefault("reporter.heartbeat_interval", "10s")
	v.SetDefault("reporter.key_ttl", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("transcript.storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("transcript.storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Presence.TypingTTL = parseDuration(v, "presence.typing_ttl", 0)
	cfg.Presence.SweepInterval = parseDuration(v, "presence.sweep_interval", time.Second)
	cfg.Sink.PublishTimeout = parseDuration(v, "sink.publish_timeout", 3*time.Second)
	cfg.Transcript.MaxAge = parseDuration(v, "transcript.max_age", time.Minute)
	cfg.Reporter.HeartbeatInterval = parseDuration(v, "reporter.heartbeat_interval", 10*time.Second)
	cfg.Reporter.KeyTTL = parseDuration(v, "reporter.key_ttl", 30*time.Second)

	if cfg.Relay.IDMaxAttempts < 1 {
		cfg.Relay.IDMaxAttempts = 1
	}
	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
