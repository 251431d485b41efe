package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/club-chat/pkg/idgen"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.PubSub.Driver)
	assert.Equal(t, "chat-messages", cfg.PubSub.Kafka.Topic)
	assert.Equal(t, idgen.KindUUID, cfg.IDs.Conversation.Kind)
	assert.Equal(t, idgen.KindULID, cfg.IDs.Message.Kind)
	assert.Equal(t, 5*time.Minute, cfg.Cache.UnreadTTL)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 24*time.Hour, cfg.JWT.Validity)
	assert.Contains(t, cfg.Chat.Areas, "medical")
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
database:
  driver: sqlite
  file_path: ":memory:"
cache:
  unread_ttl: 90s
chat:
  areas: [medical]
ids:
  message:
    kind: snowflake
    snowflake:
      machine_id: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PUBSUB_DRIVER", "kafka")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.Cache.UnreadTTL)
	assert.Equal(t, []string{"medical"}, cfg.Chat.Areas)
	assert.Equal(t, idgen.KindSnowflake, cfg.IDs.Message.Kind)
	assert.Equal(t, int64(7), cfg.IDs.Message.Snowflake.MachineID)
	assert.Equal(t, "from-env", cfg.JWT.Secret)

	ps := cfg.PubSubSettings()
	assert.Equal(t, "kafka", ps.Driver)
	assert.Equal(t, "localhost:6379", ps.Redis.Address)
}
