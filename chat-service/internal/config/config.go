package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/club-chat/pkg/config"
	"github.com/weiawesome/club-chat/pkg/idgen"
	"github.com/weiawesome/club-chat/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	PubSub    PubSubConfig `mapstructure:"pubsub"`
	Cache     CacheConfig
	WebSocket WebSocketConfig
	JWT       JWTConfig
	IDs       IDsConfig `mapstructure:"ids"`
	Chat      ChatConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type GRPCConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type PubSubConfig struct {
	Driver string
	Kafka  pubsub.KafkaConfig
}

type CacheConfig struct {
	Prefix    string
	UnreadTTL time.Duration `mapstructure:"unread_ttl"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	AuthTimeout    time.Duration `mapstructure:"auth_timeout"`
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Validity time.Duration
}

// IDsConfig picks the generator for each entity.
type IDsConfig struct {
	Conversation idgen.Config
	Message      idgen.Config
}

type ChatConfig struct {
	MaxContentLength int      `mapstructure:"max_content_length"`
	DefaultPageSize  int      `mapstructure:"default_page_size"`
	MaxPageSize      int      `mapstructure:"max_page_size"`
	DefaultArea      string   `mapstructure:"default_area"`
	Areas            []string `mapstructure:"areas"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads config.yaml from configPath and applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50052)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "club_chat")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/chat.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "chat-service")
	v.SetDefault("pubsub.kafka.topic", pubsub.DefaultTopic)
	v.SetDefault("pubsub.kafka.partitions", 8)
	v.SetDefault("cache.prefix", "chat:unread")
	v.SetDefault("cache.unread_ttl", "5m")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.auth_timeout", "10s")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "club")
	v.SetDefault("jwt.validity", "24h")
	v.SetDefault("ids.conversation.kind", idgen.KindUUID)
	v.SetDefault("ids.message.kind", idgen.KindULID)
	v.SetDefault("ids.message.snowflake.machine_id", 1)
	v.SetDefault("ids.message.snowflake.epoch", idgen.DefaultEpoch)
	v.SetDefault("chat.max_content_length", 4000)
	v.SetDefault("chat.default_page_size", 20)
	v.SetDefault("chat.max_page_size", 100)
	v.SetDefault("chat.default_area", "general")
	v.SetDefault("chat.areas", []string{"general", "medical", "physio", "nutrition", "psychology", "scouting"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("pubsub.kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("jwt.issuer", "JWT_ISSUER")
	v.BindEnv("ids.message.kind", "MESSAGE_ID_KIND")
	v.BindEnv("ids.message.snowflake.machine_id", "SNOWFLAKE_MACHINE_ID")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Cache.UnreadTTL = parseDuration(v, "cache.unread_ttl", 5*time.Minute)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.AuthTimeout = parseDuration(v, "websocket.auth_timeout", 10*time.Second)
	cfg.JWT.Validity = parseDuration(v, "jwt.validity", 24*time.Hour)

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

// PubSubSettings assembles the shared pubsub configuration from the service's redis and pubsub sections.
func (c *Config) PubSubSettings() pubsub.Config {
	defaults := pubsub.DefaultConfig()
	return pubsub.Config{
		Driver: c.PubSub.Driver,
		Redis: pubsub.RedisConfig{
			Address:      c.Redis.Address,
			Password:     c.Redis.Password,
			DB:           c.Redis.DB,
			PoolSize:     defaults.Redis.PoolSize,
			ReadTimeout:  defaults.Redis.ReadTimeout,
			WriteTimeout: defaults.Redis.WriteTimeout,
		},
		Kafka: c.PubSub.Kafka,
	}
}
