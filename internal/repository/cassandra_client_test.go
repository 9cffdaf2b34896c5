package repository

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidIdent(t *testing.T) {
	require.True(t, validIdent("messenger"))
	require.True(t, validIdent("chat_v2"))
	require.False(t, validIdent(""))
	require.False(t, validIdent("2fast"))
	require.False(t, validIdent("drop table; --"))
	require.False(t, validIdent(strings.Repeat("k", 49)))
}

func TestOneLine(t *testing.T) {
	require.Equal(t, "CREATE TABLE x ( a int )", oneLine("CREATE TABLE x (\n\t\ta int\n\t)"))
}

func TestNewCassandraSession_NoHosts(t *testing.T) {
	_, err := NewCassandraSession(CassandraConfig{})
	require.Error(t, err)
}

func TestNewCassandraStore_NilSession(t *testing.T) {
	_, err := NewCassandraStore(nil)
	require.Error(t, err)
}

func TestMigrate_RejectsBadKeyspace(t *testing.T) {
	err := Migrate(nil, "chat; DROP KEYSPACE system", 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid keyspace")

	err = Migrate(nil, "messenger", 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "session")
}

// TestCassandraStore_Conformance runs against a real cluster, e.g.
// CASSANDRA_TEST_HOSTS=127.0.0.1 go test ./internal/repository/...
func TestCassandraStore_Conformance(t *testing.T) {
	hosts := os.Getenv("CASSANDRA_TEST_HOSTS")
	if hosts == "" {
		t.Skip("CASSANDRA_TEST_HOSTS not set")
	}
	const keyspace = "messenger_test"

	admin, err := NewCassandraSession(CassandraConfig{
		Hosts:   strings.Split(hosts, ","),
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(admin, keyspace, 1))
	admin.Close()

	session, err := NewCassandraSession(CassandraConfig{
		Hosts:    strings.Split(hosts, ","),
		Keyspace: keyspace,
		Timeout:  10 * time.Second,
	})
	require.NoError(t, err)
	s, err := NewCassandraStore(session, WithCassandraPageSize(2))
	require.NoError(t, err)
	defer s.Close()

	runStoreConformance(t, s)
}
