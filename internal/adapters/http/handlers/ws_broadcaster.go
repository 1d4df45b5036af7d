package handlers

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/anyhui/aleeai-prompt/internal/domain/models"
	"github.com/anyhui/aleeai-prompt/internal/ports"
)

const wsWriteTimeout = 10 * time.Second

// wsClient serializes data frames written to one connection.
type wsClient struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	terminal atomic.Bool
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn}
}

func (c *wsClient) writeBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsClient) writeEvent(event models.ProgressEvent) error {
	data, err := msgpack.Marshal(event)
	if err != nil {
		return err
	}
	if err := c.writeBinary(data); err != nil {
		return err
	}
	if event.IsTerminal() {
		c.terminal.Store(true)
	}
	return nil
}

// WebSocketBroadcaster pushes run progress to WebSocket subscribers as
// MessagePack frames.
type WebSocketBroadcaster struct {
	connections map[string]map[*wsClient]struct{}
	mu          sync.RWMutex
}

var _ ports.ProgressBroadcaster = (*WebSocketBroadcaster)(nil)

func NewWebSocketBroadcaster() *WebSocketBroadcaster {
	return &WebSocketBroadcaster{
		connections: make(map[string]map[*wsClient]struct{}),
	}
}

func (b *WebSocketBroadcaster) Subscribe(runID string, client *wsClient) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connections[runID] == nil {
		b.connections[runID] = make(map[*wsClient]struct{})
	}
	b.connections[runID][client] = struct{}{}
	log.Debug().Str("run_id", runID).Int("subscribers", len(b.connections[runID])).Msg("WebSocket subscribed")
}

func (b *WebSocketBroadcaster) Unsubscribe(runID string, client *wsClient) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conns, ok := b.connections[runID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(b.connections, runID)
		}
	}
}

func (b *WebSocketBroadcaster) targets(runID string) []*wsClient {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conns := b.connections[runID]
	targets := make([]*wsClient, 0, len(conns))
	for client := range conns {
		targets = append(targets, client)
	}
	return targets
}

// BroadcastProgress implements ports.ProgressBroadcaster.
func (b *WebSocketBroadcaster) BroadcastProgress(runID string, event models.ProgressEvent) {
	for _, client := range b.targets(runID) {
		if err := client.writeEvent(event); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("failed to broadcast to WebSocket connection")
			b.Unsubscribe(runID, client)
		}
	}
}

// BroadcastError sends an error frame to every subscriber of a run.
func (b *WebSocketBroadcaster) BroadcastError(runID string, code string, message string) {
	data, err := msgpack.Marshal(map[string]any{
		"type": "error",
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode WebSocket error frame")
		return
	}

	for _, client := range b.targets(runID) {
		if err := client.writeBinary(data); err != nil {
			b.Unsubscribe(runID, client)
		}
	}
}

func (b *WebSocketBroadcaster) GetSubscriberCount(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections[runID])
}
