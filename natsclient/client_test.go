package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nairamint/nexus-core/errors"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.False(t, client.IsConnected())
}

func TestNewClient_EmptyURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithTimeout(-time.Second))
	require.Error(t, err)
}

func TestSubscribeWithoutConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = client.Subscribe(context.Background(), "compliance.events", func(_ context.Context, _ []byte) {})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestPublishWithoutConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = client.Publish(context.Background(), "compliance.events", []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	client.Close(context.Background())
	client.Close(context.Background())

	// Connect after close is rejected
	err = client.Connect(context.Background())
	require.Error(t, err)
}
