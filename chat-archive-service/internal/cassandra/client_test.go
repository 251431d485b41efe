package cassandra

import (
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"

	"github.com/weiawesome/club-chat/chat-archive-service/internal/config"
)

func TestParseConsistency(t *testing.T) {
	tests := map[string]gocql.Consistency{
		"one":          gocql.One,
		"QUORUM":       gocql.Quorum,
		"local_one":    gocql.LocalOne,
		"EACH_QUORUM":  gocql.EachQuorum,
		"":             gocql.LocalQuorum,
		"not-a-level":  gocql.LocalQuorum,
		"LOCAL_QUORUM": gocql.LocalQuorum,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseConsistency(in), in)
	}
}

func TestNewClient_RejectsUnsafeKeyspace(t *testing.T) {
	for _, ks := range []string{"", "club-chat", "x; DROP KEYSPACE system", "1chat"} {
		_, err := NewClient(config.CassandraConfig{Hosts: []string{"127.0.0.1:1"}, Keyspace: ks})
		assert.ErrorContains(t, err, "invalid keyspace name", ks)
	}
}
