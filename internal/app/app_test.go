package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"messenger/internal/config"
	"messenger/internal/repository"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestBuild_MemoryBackendServesRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := Build(context.Background(), memoryConfig(t), nil, reg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	resp, err := a.Handler.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/api/messages",
		Body:       `{"sender_id": 7, "receiver_id": 3, "content": "hello"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.Body)

	var sent struct {
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &sent))
	require.NotEmpty(t, sent.ConversationID)

	resp, err = a.Handler.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/api/messages/conversation/" + sent.ConversationID,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)

	var list struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &list))
	require.Len(t, list.Messages, 1)
	require.Equal(t, "hello", list.Messages[0].Content)

	require.Equal(t, 1.0, counterValue(t, reg, "messenger_messages_sent_total"))
	require.Equal(t, 1.0, counterValue(t, reg, "messenger_conversations_created_total"))
}

func TestBuild_NilConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, nil, nil)
	require.Error(t, err)
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.StoreBackend = "etcd"
	_, err := Build(context.Background(), cfg, nil, nil)
	require.ErrorContains(t, err, "unknown store backend")
}

type fakeParams map[string]string

func (f fakeParams) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", errors.New("parameter not found: " + name)
	}
	return v, nil
}

func TestWithCredentials_FillsAuthenticator(t *testing.T) {
	params := fakeParams{
		"/messenger/dev/cassandra/username": "chat_svc",
		"/messenger/dev/cassandra/password": "pw",
	}
	base := repository.CassandraConfig{Hosts: []string{"cass-1"}, Keyspace: "messenger"}

	got, err := withCredentials(context.Background(), base, params, "/messenger/dev", nil)
	require.NoError(t, err)
	require.Equal(t, "chat_svc", got.Username)
	require.Equal(t, "pw", got.Password)
	require.Equal(t, base.Hosts, got.Hosts)
}

func TestWithCredentials_MissingParameter(t *testing.T) {
	base := repository.CassandraConfig{Hosts: []string{"cass-1"}}
	_, err := withCredentials(context.Background(), base, fakeParams{}, "/messenger/dev", nil)
	require.ErrorContains(t, err, "username")
}

func TestCassandraSettings_ConfiguredUsernameSkipsParameterStore(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.ParamPrefix = "/messenger/dev"
	cfg.Cassandra.Username = "static"
	cfg.Cassandra.Password = "pw"

	got, err := CassandraSettings(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "static", got.Username)
}
