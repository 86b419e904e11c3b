package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig("nats://localhost:4222")
	assert.Equal(t, "nats://localhost:4222", cfg.URL)
	assert.Equal(t, "flowstack", cfg.Name)
	assert.Equal(t, 10, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
}

func TestOptionsIncludeAuth(t *testing.T) {
	cfg := DefaultConnectionConfig("nats://localhost:4222")
	base := len(cfg.Options())

	cfg.Token = "secret"
	assert.Len(t, cfg.Options(), base+1)

	cfg.Token = ""
	cfg.Username = "u"
	cfg.Password = "p"
	assert.Len(t, cfg.Options(), base+1)
}

func TestConnectValidation(t *testing.T) {
	_, err := Connect(context.Background(), nil)
	assert.Error(t, err)

	_, err = Connect(context.Background(), &ConnectionConfig{})
	assert.ErrorContains(t, err, "URL cannot be empty")
}

func TestConnectUnreachable(t *testing.T) {
	cfg := DefaultConnectionConfig("nats://127.0.0.1:1")
	cfg.Timeout = 200 * time.Millisecond
	cfg.MaxReconnects = 0

	_, err := Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to connect to NATS")
}

func TestCloseNil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
