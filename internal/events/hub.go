package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shiva/campusride/internal/model"
	"github.com/shiva/campusride/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// sendBuffer is how many events may queue per subscriber before it is
	// considered too slow and disconnected.
	sendBuffer = 32

	maxInboundBytes = 512
)

// subscriber is one connected feed client.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newSubscriber(conn *websocket.Conn, buffer int) *subscriber {
	return &subscriber{conn: conn, send: make(chan []byte, buffer), done: make(chan struct{})}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub is the live trip feed. Each websocket client receives every event
// published after it connected.
type Hub struct {
	mu       sync.RWMutex
	subs     map[*subscriber]struct{}
	closed   bool
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewHub creates an empty hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.WithField("component", "feed"),
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "feed is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	sub := newSubscriber(conn, sendBuffer)
	if !h.add(sub) {
		_ = conn.Close()
		return
	}
	go h.writeLoop(sub)
	h.readLoop(sub)
	h.remove(sub)
}

// Publish queues evt for every subscriber without blocking. Subscribers
// whose buffer is full are disconnected.
func (h *Hub) Publish(ctx context.Context, evt model.TripEvent) error {
	msg, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode trip event: %w", err)
	}

	var slow []*subscriber
	h.mu.RLock()
	for sub := range h.subs {
		select {
		case sub.send <- msg:
			observability.EventsPublished.WithLabelValues("websocket", "ok").Inc()
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		observability.EventsPublished.WithLabelValues("websocket", "dropped").Inc()
		h.log.Warn("feed subscriber too slow, disconnecting")
		h.remove(sub)
	}
	return nil
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		sub.close()
		delete(h.subs, sub)
	}
	observability.FeedSubscribers.Set(0)
	return nil
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[sub] = struct{}{}
	observability.FeedSubscribers.Set(float64(len(h.subs)))
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		observability.FeedSubscribers.Set(float64(len(h.subs)))
	}
	sub.close()
}

// writeLoop owns all writes to the connection.
func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case msg := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.done:
			_ = sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readLoop discards client messages and returns when the connection drops.
func (h *Hub) readLoop(sub *subscriber) {
	sub.conn.SetReadLimit(maxInboundBytes)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
