package paramstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

type mapGetter map[string]string

func (m mapGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return v, nil
}

func strPtr(s string) *string { return &s }

func TestGetParameter_SecureStringIsDecrypted(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/messenger/cassandra/password"), Value: strPtr("s3cret"), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), " /messenger/cassandra/password ")
	require.NoError(t, err)
	require.Equal(t, "s3cret", v)
	require.Equal(t, "/messenger/cassandra/password", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_NotFound(t *testing.T) {
	api := &fakeAPI{getErr: &types.ParameterNotFound{Message: strPtr("missing")}}
	client, err := New(api)
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "/messenger/cassandra/username")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestCassandraCredentials_HappyPath(t *testing.T) {
	g := mapGetter{
		"/messenger/prod/cassandra/username": "chat_svc",
		"/messenger/prod/cassandra/password": "hunter2",
	}
	creds, err := CassandraCredentials(context.Background(), g, "/messenger/prod/")
	require.NoError(t, err)
	require.Equal(t, Credentials{Username: "chat_svc", Password: "hunter2"}, creds)
}

func TestCassandraCredentials_MissingPassword(t *testing.T) {
	g := mapGetter{"/messenger/prod/cassandra/username": "chat_svc"}
	_, err := CassandraCredentials(context.Background(), g, "/messenger/prod")
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "password")
}

func TestCassandraCredentials_InvalidArgs(t *testing.T) {
	_, err := CassandraCredentials(context.Background(), nil, "/p")
	require.Error(t, err)

	_, err = CassandraCredentials(context.Background(), mapGetter{}, " / ")
	require.Error(t, err)
}
