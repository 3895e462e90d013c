package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// openTestRedis abre el Redis indicado en LEDGER_TEST_REDIS_URL; sin ella el test se omite.
func openTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("LEDGER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_REDIS_URL no definida")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

// unreachableRedis cliente contra un puerto sin servidor
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func runBroker(t *testing.T, b *RedisBroker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestRedisBrokerDeliversLocallyWithoutSubscription(t *testing.T) {
	hub := NewHub(4, zaptest.NewLogger(t))
	broker := NewRedisBroker(unreachableRedis(t), "stock:movements", hub, zaptest.NewLogger(t))
	client := hub.Subscribe("A")

	err := broker.Publish(context.Background(), movement("A"))
	assert.Error(t, err, "Redis no está disponible")

	require.Len(t, client.Messages(), 1)
	var ev Event
	require.NoError(t, json.Unmarshal(<-client.Messages(), &ev))
	assert.Equal(t, "A", ev.MaterialID)
}

func TestRedisBrokerRunStopsOnCancelWhileRedisDown(t *testing.T) {
	hub := NewHub(4, zaptest.NewLogger(t))
	broker := NewRedisBroker(unreachableRedis(t), "stock:movements", hub, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	assert.NoError(t, broker.Run(ctx))
	assert.False(t, broker.Subscribed())

	// sin suscripción la entrega local sigue funcionando
	client := hub.Subscribe("")
	assert.Error(t, broker.Publish(context.Background(), movement("B")))
	assert.Len(t, client.Messages(), 1)
}

func TestRedisBrokerRelaysAcrossInstances(t *testing.T) {
	rdb := openTestRedis(t)
	channel := fmt.Sprintf("stock:movements:test:%d", time.Now().UnixNano())

	localHub := NewHub(4, zaptest.NewLogger(t))
	remoteHub := NewHub(4, zaptest.NewLogger(t))
	local := NewRedisBroker(rdb, channel, localHub, zaptest.NewLogger(t))
	remote := NewRedisBroker(rdb, channel, remoteHub, zaptest.NewLogger(t))
	runBroker(t, local)
	runBroker(t, remote)

	require.Eventually(t, func() bool {
		return local.Subscribed() && remote.Subscribed()
	}, 5*time.Second, 10*time.Millisecond)

	localClient := localHub.Subscribe("A")
	remoteClient := remoteHub.Subscribe("")

	require.NoError(t, local.Publish(context.Background(), movement("A")))

	for _, c := range []*Client{localClient, remoteClient} {
		select {
		case raw := <-c.Messages():
			var ev Event
			require.NoError(t, json.Unmarshal(raw, &ev))
			assert.Equal(t, "A", ev.MaterialID)
		case <-time.After(2 * time.Second):
			t.Fatal("el movimiento no llegó por Redis")
		}
	}

	// con la suscripción activa la entrega local pasa solo por Redis: sin duplicados
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, localClient.Messages(), 0)
}
