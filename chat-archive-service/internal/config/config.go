package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/club-chat/pkg/config"
	"github.com/weiawesome/club-chat/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	Kafka     KafkaConfig
	Cassandra CassandraConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// KafkaConfig is the shared event-bus connection plus consumer tuning for the
// archive's own group.
type KafkaConfig struct {
	pubsub.KafkaConfig `mapstructure:",squash"`

	AutoOffsetReset     string `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMs   int    `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMs    int    `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMs int    `mapstructure:"heartbeat_interval_ms"`
	FetchMinBytes       int    `mapstructure:"fetch_min_bytes"`
	FetchMaxWaitMs      int    `mapstructure:"fetch_max_wait_ms"`
}

type CassandraConfig struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Consistency       string
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	Timeout           time.Duration
	NumConns          int  `mapstructure:"num_conns"`
	MaxPreparedStmt   int  `mapstructure:"max_prepared_stmt"`
	CreateSchema      bool `mapstructure:"create_schema"`
	ReplicationFactor int  `mapstructure:"replication_factor"`
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

	bus := pubsub.DefaultConfig().Kafka
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("kafka.brokers", bus.Brokers)
	v.SetDefault("kafka.topic", bus.Topic)
	v.SetDefault("kafka.group_id", "chat-archive")
	// Replay the retained log on first start so nothing published before the
	// archive existed is lost.
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.max_poll_interval_ms", 300000)
	v.SetDefault("kafka.session_timeout_ms", 45000)
	v.SetDefault("kafka.heartbeat_interval_ms", 3000)
	v.SetDefault("kafka.fetch_min_bytes", 1)
	v.SetDefault("kafka.fetch_max_wait_ms", 500)
	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "club_chat")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("cassandra.num_conns", 2)
	v.SetDefault("cassandra.max_prepared_stmt", 1000)
	v.SetDefault("cassandra.create_schema", false)
	v.SetDefault("cassandra.replication_factor", 1)
	v.SetDefault("log.level", "info")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("cassandra.hosts", "CASSANDRA_HOSTS")
	v.BindEnv("cassandra.keyspace", "CASSANDRA_KEYSPACE")
	v.BindEnv("cassandra.username", "CASSANDRA_USERNAME")
	v.BindEnv("cassandra.password", "CASSANDRA_PASSWORD")
	v.BindEnv("cassandra.create_schema", "CASSANDRA_CREATE_SCHEMA")
	v.BindEnv("cassandra.replication_factor", "CASSANDRA_REPLICATION_FACTOR")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Cassandra.ConnectTimeout = parseDuration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = parseDuration(v, "cassandra.timeout", 5*time.Second)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the archive cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Kafka.Brokers == "" {
		errs = append(errs, errors.New("kafka.brokers is required"))
	}
	if c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required"))
	}
	if c.Kafka.GroupID == "" {
		errs = append(errs, errors.New("kafka.group_id is required"))
	}
	if len(c.Cassandra.Hosts) == 0 {
		errs = append(errs, errors.New("cassandra.hosts is required"))
	}
	if c.Cassandra.CreateSchema && c.Cassandra.ReplicationFactor < 1 {
		errs = append(errs, fmt.Errorf("cassandra.replication_factor must be positive, got %d", c.Cassandra.ReplicationFactor))
	}
	return errors.Join(errs...)
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
