package feed

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"stock-ledger/internal/models"

	"go.uber.org/zap"
)

// Publisher recibe cada movimiento después de confirmado.
// Un error de publicación nunca revierte el movimiento.
type Publisher interface {
	Publish(ctx context.Context, m *models.Movement) error
}

// Event es el mensaje que viaja por el feed
type Event struct {
	Type       string           `json:"type"`
	MaterialID string           `json:"material_id"`
	Movement   *models.Movement `json:"movement"`
}

// NewMovementEvent arma el evento de un movimiento confirmado
func NewMovementEvent(m *models.Movement) Event {
	return Event{Type: "movement", MaterialID: m.MaterialID, Movement: m}
}

// Client suscriptor del hub. Material vacío = todos los materiales.
type Client struct {
	material string
	send     chan []byte
	once     sync.Once
}

// Messages canal de mensajes; se cierra al desuscribir o al descartar el cliente por lento
func (c *Client) Messages() <-chan []byte {
	return c.send
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub distribuye eventos a los clientes suscritos (websocket).
// Un cliente cuyo buffer está lleno se descarta en lugar de bloquear al resto.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	buffer  int

	published int64
	dropped   int64

	logger *zap.Logger
}

var _ Publisher = (*Hub)(nil)

// NewHub crea un hub con el buffer por cliente indicado
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		buffer:  buffer,
		logger:  logger,
	}
}

// Subscribe registra un cliente para un material (o todos si es "")
func (h *Hub) Subscribe(materialID string) *Client {
	c := &Client{material: materialID, send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("Cliente suscrito al feed",
		zap.String("material_id", materialID),
		zap.Int("clients", total))
	return c
}

// Unsubscribe quita el cliente y cierra su canal
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Publish implementa Publisher entregando el movimiento solo a este proceso
func (h *Hub) Publish(ctx context.Context, m *models.Movement) error {
	payload, err := json.Marshal(NewMovementEvent(m))
	if err != nil {
		return err
	}
	h.Broadcast(m.MaterialID, payload)
	return nil
}

// Broadcast entrega payload a los clientes del material y a los suscritos a todos
func (h *Hub) Broadcast(materialID string, payload []byte) {
	atomic.AddInt64(&h.published, 1)

	var slow []*Client

	h.mu.RLock()
	for c := range h.clients {
		if c.material != "" && c.material != materialID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		atomic.AddInt64(&h.dropped, 1)
		h.Unsubscribe(c)
		h.logger.Warn("Cliente del feed descartado por lento", zap.String("material_id", c.material))
	}
}

// Stats estado actual del hub
func (h *Hub) Stats() models.FeedMetrics {
	h.mu.RLock()
	clients := len(h.clients)
	h.mu.RUnlock()

	return models.FeedMetrics{
		Clients:   clients,
		Published: atomic.LoadInt64(&h.published),
		Dropped:   atomic.LoadInt64(&h.dropped),
	}
}

// Close desuscribe a todos los clientes
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}
