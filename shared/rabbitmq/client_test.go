package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URI(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantVhost string
	}{
		{
			name:      "default vhost",
			cfg:       Config{Host: "localhost", Port: 5672, User: "guest", Password: "guest"},
			wantVhost: "/",
		},
		{
			name:      "named vhost and credentials",
			cfg:       Config{Host: "mq", Port: 5673, User: "videogen", Password: "p@ss", VHost: "media"},
			wantVhost: "media",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := amqp.ParseURI(tt.cfg.URI())
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Host, uri.Host)
			assert.Equal(t, tt.cfg.Port, uri.Port)
			assert.Equal(t, tt.cfg.User, uri.Username)
			assert.Equal(t, tt.cfg.Password, uri.Password)
			assert.Equal(t, tt.wantVhost, uri.Vhost)
		})
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoff(0, 0, 0))
	assert.Equal(t, 400*time.Millisecond, backoff(0, 0, 2))
	assert.Equal(t, 500*time.Millisecond, backoff(500*time.Millisecond, 3, 0))
	assert.Equal(t, 4500*time.Millisecond, backoff(500*time.Millisecond, 3, 2))
}

func TestClient_NotConnected(t *testing.T) {
	c := &Client{config: &Config{}, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	assert.ErrorIs(t, c.PublishWithRetry(context.Background(), []byte(`{}`), "application/json"), ErrNotConnected)
	_, err := c.Consume("worker-1")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Cancel("worker-1"))
	assert.False(t, c.IsConnected())
}
