package cassandra

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/weiawesome/club-chat/chat-archive-service/internal/config"
	"github.com/weiawesome/club-chat/pkg/log"
)

var keyspaceName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// Client owns the archive's Cassandra session.
type Client struct {
	session *gocql.Session
}

// NewClient connects to the archive keyspace. With CreateSchema set the
// keyspace is created first, so a fresh cluster can be used directly.
func NewClient(cfg config.CassandraConfig) (*Client, error) {
	if !keyspaceName.MatchString(cfg.Keyspace) {
		return nil, fmt.Errorf("invalid keyspace name %q", cfg.Keyspace)
	}

	if cfg.CreateSchema {
		if err := ensureKeyspace(cfg); err != nil {
			return nil, err
		}
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.Keyspace

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}
	return &Client{session: session}, nil
}

func newCluster(cfg config.CassandraConfig) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	cluster.NumConns = cfg.NumConns
	cluster.MaxPreparedStmts = cfg.MaxPreparedStmt
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	return cluster
}

func ensureKeyspace(cfg config.CassandraConfig) error {
	session, err := newCluster(cfg).CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create Cassandra bootstrap session: %w", err)
	}
	defer session.Close()

	rf := cfg.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}

	// Keyspace names cannot be bound; the name is checked by NewClient.
	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		cfg.Keyspace, rf)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", cfg.Keyspace, err)
	}

	l := log.L()
	l.Info().Str("keyspace", cfg.Keyspace).Int("replication_factor", rf).Msg("archive keyspace ready")
	return nil
}

func (c *Client) Session() *gocql.Session {
	return c.session
}

// Ping runs a trivial query against the system keyspace.
func (c *Client) Ping(ctx context.Context) error {
	var version string
	return c.session.Query(`SELECT release_version FROM system.local`).WithContext(ctx).Scan(&version)
}

func (c *Client) Close() {
	if c.session != nil {
		c.session.Close()
	}
}

// parseConsistency falls back to LOCAL_QUORUM for empty or unknown levels.
func parseConsistency(s string) gocql.Consistency {
	c, err := gocql.ParseConsistencyWrapper(strings.ToUpper(strings.TrimSpace(s)))
	if err != nil {
		return gocql.LocalQuorum
	}
	return c
}
