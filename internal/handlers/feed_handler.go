package handlers

import (
	"time"

	"stock-ledger/internal/feed"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
)

// FeedHandler expone el feed de movimientos por WebSocket
type FeedHandler struct {
	hub    *feed.Hub
	logger *zap.Logger
}

// NewFeedHandler crea una nueva instancia del handler
func NewFeedHandler(hub *feed.Hub, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{hub: hub, logger: logger}
}

// Stream envía cada movimiento registrado; ?material=<id> filtra por material
func (h *FeedHandler) Stream(c *gin.Context) {
	materialID := c.Query("material")
	logger := h.logger.With(
		zap.String("handler", "movement_feed"),
		zap.String("material_id", materialID),
	)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Error actualizando a WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	client := h.hub.Subscribe(materialID)
	defer h.hub.Unsubscribe(client)

	logger.Info("Conexión WebSocket del feed establecida")

	// Lector: solo procesa pongs y detecta el cierre del cliente
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Messages():
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				// descartado por lento o hub cerrado
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "slow consumer"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Error enviando movimiento", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			logger.Info("Conexión WebSocket del feed cerrada por el cliente")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
