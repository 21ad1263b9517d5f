// Package ws subscribes to the backend push channel for group-order updates.
// The channel is advisory: every message only triggers a refetch or a status
// overlay, so a dropped connection degrades to polling, never to wrong state.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Message is one push event from the backend.
type Message struct {
	Type string          `json:"type"` // group_order_update, order_status_update, participant_joined, participant_left
	Data json.RawMessage `json:"data"`
}

// OrderStatusData is the payload of an order_status_update message.
type OrderStatusData struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

const (
	maxReconnectAttempts = 5
	reconnectDelay       = 3 * time.Second
)

// Subscriber maintains one connection with bounded reconnection.
type Subscriber struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewSubscriber() *Subscriber {
	return &Subscriber{}
}

// Connect dials endpoint with the given query parameters and feeds every
// decoded message to handler. It replaces any previous subscription.
func (s *Subscriber) Connect(endpoint string, params map[string]string, handler func(Message)) {
	s.Disconnect()

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx, target, handler)
}

func (s *Subscriber) run(ctx context.Context, target string, handler func(Message)) {
	attempts := 0
	for attempts <= maxReconnectAttempts {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.Dial(ctx, target, nil)
		if err != nil {
			attempts++
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}
		attempts = 0

		err = s.readLoop(ctx, conn, handler)
		conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("Push channel dropped: %v", err)
		}
		attempts++
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn, handler func(Message)) error {
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		if msg.Type == "" {
			continue // unparseable frames are ignored
		}
		handler(msg)
	}
}

// Disconnect closes the current subscription, if any.
func (s *Subscriber) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
