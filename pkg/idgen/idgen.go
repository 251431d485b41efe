package idgen

import "fmt"

// Generator produces and checks identifiers of one format.
type Generator interface {
	Generate() (string, error)
	Validate(id string) (bool, string) // (valid, reason)
}

// Supported generator kinds.
const (
	KindUUID      = "uuid"
	KindULID      = "ulid"
	KindSnowflake = "snowflake"
	KindNanoID    = "nanoid"
)

// Config selects a generator and carries the per-kind options.
type Config struct {
	Kind      string          `mapstructure:"kind"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
	NanoID    NanoIDConfig    `mapstructure:"nanoid"`
}

type SnowflakeConfig struct {
	MachineID int64 `mapstructure:"machine_id"`
	Epoch     int64 `mapstructure:"epoch"`
}

type NanoIDConfig struct {
	Size     int    `mapstructure:"size"`
	Alphabet string `mapstructure:"alphabet"`
}

// DefaultEpoch is 2024-01-01T00:00:00Z in unix milliseconds.
const DefaultEpoch = 1704067200000

// New builds the generator named by cfg.Kind, filling zero options with defaults.
func New(cfg Config) (Generator, error) {
	switch cfg.Kind {
	case KindUUID:
		return NewUUIDGenerator(), nil
	case KindULID, "":
		return NewULIDGenerator(), nil
	case KindSnowflake:
		epoch := cfg.Snowflake.Epoch
		if epoch == 0 {
			epoch = DefaultEpoch
		}
		return NewSnowflakeGenerator(cfg.Snowflake.MachineID, epoch)
	case KindNanoID:
		size, alphabet := cfg.NanoID.Size, cfg.NanoID.Alphabet
		if size == 0 {
			size = DefaultNanoIDSize
		}
		if alphabet == "" {
			alphabet = DefaultNanoIDAlphabet
		}
		return NewNanoIDGenerator(size, alphabet)
	default:
		return nil, fmt.Errorf("unknown id generator kind: %s", cfg.Kind)
	}
}

// MustNew is New for package-level defaults; it panics on invalid configuration.
func MustNew(cfg Config) Generator {
	g, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return g
}
