package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"stock-ledger/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	resubscribeMinWait = time.Second
	resubscribeMaxWait = 30 * time.Second
)

var errSubscriptionClosed = errors.New("redis subscription channel closed")

// RedisBroker publica los movimientos en un canal de Redis y reenvía lo
// recibido al hub local, así todas las instancias ven todos los movimientos.
// Mientras la suscripción no está activa, o si Redis rechaza la publicación,
// el movimiento se entrega directo al hub local.
type RedisBroker struct {
	client     *redis.Client
	channel    string
	hub        *Hub
	logger     *zap.Logger
	subscribed atomic.Bool
}

var _ Publisher = (*RedisBroker)(nil)

// NewRedisBroker crea el broker sobre el canal indicado
func NewRedisBroker(client *redis.Client, channel string, hub *Hub, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  logger,
	}
}

// Subscribed indica si el relay desde Redis está activo
func (b *RedisBroker) Subscribed() bool {
	return b.subscribed.Load()
}

// Publish envía el evento al canal de Redis
func (b *RedisBroker) Publish(ctx context.Context, m *models.Movement) error {
	payload, err := json.Marshal(NewMovementEvent(m))
	if err != nil {
		return err
	}

	if !b.subscribed.Load() {
		// el relay no está escuchando: lo publicado no volvería a este proceso
		b.hub.Broadcast(m.MaterialID, payload)
		return b.client.Publish(ctx, b.channel, payload).Err()
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.hub.Broadcast(m.MaterialID, payload)
		return err
	}
	return nil
}

// Run mantiene la suscripción al canal y reenvía al hub hasta que ctx se
// cancele. Si la suscripción cae se reintenta con espera creciente.
func (b *RedisBroker) Run(ctx context.Context) error {
	wait := resubscribeMinWait
	for {
		wasSubscribed, err := b.relay(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if wasSubscribed {
			wait = resubscribeMinWait
		}

		b.logger.Warn("⚠️ Suscripción del feed a Redis caída, entrega solo local",
			zap.String("channel", b.channel),
			zap.Duration("retry_in", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		if wait < resubscribeMaxWait {
			wait *= 2
		}
	}
}

// relay devuelve true si llegó a confirmar la suscripción antes de terminar
func (b *RedisBroker) relay(ctx context.Context) (bool, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Confirmar la suscripción antes de empezar a leer
	if _, err := sub.Receive(ctx); err != nil {
		return false, err
	}

	b.subscribed.Store(true)
	defer b.subscribed.Store(false)

	b.logger.Info("📡 Feed de movimientos suscrito a Redis", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, errSubscriptionClosed
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("Evento de feed inválido", zap.Error(err))
				continue
			}
			b.hub.Broadcast(ev.MaterialID, []byte(msg.Payload))
		}
	}
}
