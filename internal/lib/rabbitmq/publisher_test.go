package rabbitmq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishMessage(t *testing.T) {
	ctx := context.Background()
	url := amqpURL(ctx, t)

	conn, err := Connect(ctx, url, 3, time.Second)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()

	const exchange = "license_keys_publish"
	ch, err := SetupChannel(conn, exchange, AuditQueues(exchange))
	require.NoError(t, err)
	defer func() {
		_ = ch.Close()
	}()

	type event struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}

	t.Run("routed to audit queue", func(t *testing.T) {
		msg := event{Type: "created", ID: "k1"}
		require.NoError(t, PublishMessage(ch, exchange, "key.created", msg))

		deliveries, err := ch.Consume(exchange+".audit", "test-consumer", true, false, false, false, nil)
		require.NoError(t, err)

		select {
		case d := <-deliveries:
			var got event
			require.NoError(t, json.Unmarshal(d.Body, &got))
			assert.Equal(t, msg, got)
			assert.Equal(t, "application/json", d.ContentType)
			assert.Equal(t, "key.created", d.RoutingKey)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("marshal error", func(t *testing.T) {
		bad := struct {
			Ch chan int `json:"ch"`
		}{Ch: make(chan int)}

		err := PublishMessage(ch, exchange, "key.created", bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rabbitmq.PublishMessage")
	})
}
