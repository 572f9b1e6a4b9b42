package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatbridge/internal/domain"
	"chatbridge/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// GatewayConfig configures the websocket gateway.
type GatewayConfig struct {
	Subscriber domain.Subscriber
	Logger     *slog.Logger
}

// Gateway lets browsers subscribe to their delivery channel over a websocket.
// Each connection subscribes to chat_<userId> and receives every published
// event as JSON {event, data}.
type Gateway struct {
	sub      domain.Subscriber
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewGateway(cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		sub:    cfg.Subscriber,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	channel := domain.ChannelPrefix + userID
	events, unsubscribe, err := g.sub.Subscribe(ctx, channel)
	if err != nil {
		g.logger.Error("subscribe failed", "channel", channel, "err", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		return
	}
	defer unsubscribe()

	metrics.WebSocketClients.Inc()
	defer metrics.WebSocketClients.Dec()
	g.logger.Info("websocket client connected", "channel", channel)
	defer g.logger.Info("websocket client disconnected", "channel", channel)

	// Subscribed: tell the client so it can stop polling the unread queue.
	if err := g.write(conn, domain.RealtimeEvent{Event: "status", Data: "connected"}); err != nil {
		return
	}

	go g.readLoop(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := g.write(conn, ev); err != nil {
				g.logger.Debug("websocket write failed", "channel", channel, "err", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards client frames and cancels once the connection drops.
func (g *Gateway) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Error("websocket read error", "err", err)
			}
			return
		}
	}
}

func (g *Gateway) write(conn *websocket.Conn, ev domain.RealtimeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
