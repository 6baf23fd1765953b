package vsphere

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatastorePath(t *testing.T) {
	ds, rel, err := ParseDatastorePath("[datastore1] web-01/web-01.vmx")
	require.NoError(t, err)
	assert.Equal(t, "datastore1", ds)
	assert.Equal(t, "web-01/web-01.vmx", rel)
}

func TestParseDatastorePathInvalid(t *testing.T) {
	_, _, err := ParseDatastorePath("not-a-datastore-path")
	assert.Error(t, err)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 12.35, round2(12.345))
	assert.Equal(t, 0.0, round2(0))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, containsAny("Login failure: incorrect user name or password", "incorrect user name"))
	assert.False(t, containsAny("connection refused", "incorrect user name"))
}
