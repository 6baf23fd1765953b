package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.Set(ctx, &Secret{Name: "host:10.0.0.1", Type: SecretTypeHostPassword, Value: map[string]string{"password": "hunter2"}})
	require.NoError(t, err)

	got, err := s.Get(ctx, "host:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Value["password"])
	assert.Equal(t, "1", got.Version)
}

func TestMemoryStoreSetIncrementsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, &Secret{Name: "cred:default", Value: map[string]string{"password": "a"}}))
	require.NoError(t, s.Set(ctx, &Secret{Name: "cred:default", Value: map[string]string{"password": "b"}}))

	got, err := s.Get(ctx, "cred:default")
	require.NoError(t, err)
	assert.Equal(t, "2", got.Version)
	assert.Equal(t, "b", got.Value["password"])
}

func TestMemoryStoreGetMissingReturnsError(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	assert.Error(t, err)
}

func TestMemoryStoreRotateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, &Secret{Name: "host:10.0.0.1", Value: map[string]string{"password": "old"}}))

	require.NoError(t, s.Rotate(ctx, "host:10.0.0.1", map[string]string{"password": "new"}))
	got, err := s.Get(ctx, "host:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Value["password"])

	require.NoError(t, s.Delete(ctx, "host:10.0.0.1"))
	_, err = s.Get(ctx, "host:10.0.0.1")
	assert.Error(t, err)
}

func TestMemoryStoreListFiltersByType(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, &Secret{Name: "a", Type: SecretTypeHostPassword}))
	require.NoError(t, s.Set(ctx, &Secret{Name: "b", Type: SecretTypeCredential}))

	names, err := s.List(ctx, SecretTypeHostPassword)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
}
