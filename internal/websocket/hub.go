package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"ai-pagechat-be/internal/pkg/logger"
	"ai-pagechat-be/pkg/highlight"
)

const clusterChannel = "highlight_cluster_events"

type Hub struct {
	// Registered clients map: TabID -> List of Clients (a tab can reconnect
	// before the old socket is reaped)
	clients map[string][]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Lock for safe map access
	mu sync.RWMutex

	// In-process highlight event source
	subscriber message.Subscriber

	// Redis connection for cross-instance fan-out, nil for single instance
	rdb *redis.Client

	// Dedicated Logger
	logger logger.ILogger
}

func NewHub(subscriber message.Subscriber, rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string][]*Client),
		subscriber: subscriber,
		rdb:        rdb,
		logger:     log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	go h.consumeHighlights(ctx)
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.TabID] = append(h.clients[client.TabID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"tab_id": client.TabID})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.TabID]; ok {
				for i, c := range clients {
					if c == client {
						h.clients[client.TabID] = append(clients[:i], clients[i+1:]...)
						close(client.Send)
						break
					}
				}
				if len(h.clients[client.TabID]) == 0 {
					delete(h.clients, client.TabID)
					h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"tab_id": client.TabID})
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			return
		}
	}
}

// consumeHighlights drains the pipeline's highlight topic and pushes each
// event to the owning tab's sockets.
func (h *Hub) consumeHighlights(ctx context.Context) {
	messages, err := h.subscriber.Subscribe(ctx, highlight.Topic)
	if err != nil {
		h.logger.Error("Hub", "Highlight topic subscribe failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for msg := range messages {
		var event highlight.Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			h.logger.Warn("Hub", "Malformed highlight event", map[string]interface{}{"error": err.Error()})
			msg.Ack()
			continue
		}
		msg.Ack()

		h.sendLocal(event.TabID, msg.Payload)

		// Other instances may own the tab's socket.
		if h.rdb != nil {
			payload, _ := json.Marshal(map[string]interface{}{
				"target_tab_id": event.TabID,
				"message":       json.RawMessage(msg.Payload),
			})
			h.rdb.Publish(context.Background(), clusterChannel, payload)
		}
	}
}

func (h *Hub) sendLocal(tabID string, data []byte) {
	h.mu.RLock()
	clients, ok := h.clients[tabID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			// Stalled socket. The unregister arm is the only closer of
			// Send; closing here too would double-close on removal.
			h.logger.Warn("Hub", "Client Send buffer full, dropping message", map[string]interface{}{"tab_id": tabID})
			h.unregister <- client
		}
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for msg := range ch {
		var payload struct {
			TargetTabID string          `json:"target_tab_id"`
			Message     json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			log.Printf("Redis msg parse error: %v", err)
			continue
		}

		h.sendLocal(payload.TargetTabID, payload.Message)
	}
}
