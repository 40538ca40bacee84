package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tigerex/marketflow/pkg/book"
	"github.com/tigerex/marketflow/pkg/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced by the outer middleware.
		return true
	},
}

// wsClient bridges one WebSocket connection to the subscription hub.
// Each subscribed symbol holds its own hub handle so disconnect tears
// every registration down.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	id   string
	log  *zap.SugaredLogger

	hub    *book.Hub
	subsMu sync.Mutex
	subs   map[string]*book.Subscription
}

// handleWebSocket upgrades the connection and runs the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorw("ws_upgrade_failed", "err", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, s.cfg.WS.SendBuffer),
		id:   conn.RemoteAddr().String(),
		log:  s.log,
		hub:  s.hub,
		subs: make(map[string]*book.Subscription),
	}

	s.log.Infow("ws_client_connected", "client", client.id)

	go client.writePump(s.cfg.WS.PingPeriod)
	go client.readPump()
}

// subscribe registers the client on the hub. The hub delivers the
// current snapshot synchronously before this returns, so the client
// always sees state before the first delta.
func (c *wsClient) subscribe(symbol string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if _, dup := c.subs[symbol]; dup {
		return
	}
	c.subs[symbol] = c.hub.Subscribe(symbol, c.handleEvent)
	c.log.Infow("ws_subscribed", "client", c.id, "symbol", symbol)
}

func (c *wsClient) unsubscribe(symbol string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if sub, ok := c.subs[symbol]; ok {
		sub.Unsubscribe()
		delete(c.subs, symbol)
		c.log.Infow("ws_unsubscribed", "client", c.id, "symbol", symbol)
	}
}

func (c *wsClient) unsubscribeAll() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for symbol, sub := range c.subs {
		sub.Unsubscribe()
		delete(c.subs, symbol)
	}
}

// handleEvent is the hub-facing handler: translate, marshal and queue.
// A slow client loses the message rather than stalling the fan-out.
func (c *wsClient) handleEvent(symbol string, event book.EventType, payload any) {
	msgType, data := wsData(event, payload)
	raw, err := json.Marshal(WSMessage{Type: msgType, Symbol: symbol, Data: data})
	if err != nil {
		c.log.Errorw("ws_marshal_failed", "client", c.id, "err", err)
		return
	}

	select {
	case c.send <- raw:
	default:
		c.log.Warnw("ws_send_buffer_full", "client", c.id, "symbol", symbol)
	}
}

// wsData converts internal event payloads into wire DTOs.
func wsData(event book.EventType, payload any) (string, any) {
	switch ev := payload.(type) {
	case *book.Snapshot:
		return string(event), ev
	case engine.OrderProcessed:
		return string(book.EventOrderUpdate), WSOrderUpdate{
			OrderID:          ev.Order.OrderID,
			Status:           string(ev.Order.Status),
			ExecutedQuantity: ev.Order.ExecutedQuantity,
			Reason:           ev.Result.RejectionReason,
		}
	case engine.OrderCanceled:
		return string(book.EventOrderUpdate), WSOrderUpdate{
			OrderID:          ev.Order.OrderID,
			Status:           string(ev.Order.Status),
			ExecutedQuantity: ev.Order.ExecutedQuantity,
			Reason:           ev.Reason,
		}
	case engine.TradeExecuted:
		return "trade", ev.Trade
	}
	return string(event), payload
}

// readPump consumes subscription requests until the connection drops,
// then releases every hub registration.
func (c *wsClient) readPump() {
	defer func() {
		c.unsubscribeAll()
		c.conn.Close()
		c.log.Infow("ws_client_disconnected", "client", c.id)
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnw("ws_read_failed", "client", c.id, "err", err)
			}
			return
		}

		var req WSRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.log.Warnw("ws_invalid_message", "client", c.id, "err", err)
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, symbol := range req.Symbols {
				c.subscribe(symbol)
			}
		case "unsubscribe":
			for _, symbol := range req.Symbols {
				c.unsubscribe(symbol)
			}
		default:
			c.log.Warnw("ws_unknown_op", "client", c.id, "op", req.Op)
		}
	}
}

// writePump drains the send queue and keeps the connection alive.
func (c *wsClient) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
