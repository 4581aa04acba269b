package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/renderstack/renderd/internal/common"
	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

// controlMessage is the inbound protocol on the generic socket endpoint.
type controlMessage struct {
	Type  string `json:"type"` // "subscribe" or "unsubscribe"
	JobID string `json:"jobId"`
}

// wsClient is one live connection. Writes are serialized through mu so
// concurrent relay goroutines never interleave frames.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex

	subMu sync.Mutex
	subs  map[string]func() // jobID -> bus cancel
}

// WebSocketHandler owns the connection registry and the bus-to-socket relay.
//
// Each subscription replays the job's current state as the first frame, then
// streams live notifications in publish order. A connection can watch any
// number of jobs and always receives broadcast notifications; a failed write
// tears down the whole connection and every subscription it holds, and never
// disturbs other connections.
type WebSocketHandler struct {
	logger  arbor.ILogger
	status  interfaces.StatusService
	bus     interfaces.NotificationBus
	clients map[*websocket.Conn]*wsClient
	mu      sync.RWMutex

	writeTimeout     time.Duration
	progressThrottle time.Duration
}

// NewWebSocketHandler creates the connection manager.
func NewWebSocketHandler(status interfaces.StatusService, bus interfaces.NotificationBus, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:       logger,
		status:       status,
		bus:          bus,
		clients:      make(map[*websocket.Conn]*wsClient),
		writeTimeout: 10 * time.Second,
	}

	if config != nil {
		if d := common.ParseDurationOr(config.WriteTimeout, 0); d > 0 {
			h.writeTimeout = d
		}
		// Zero disables throttling: every progress update is relayed.
		h.progressThrottle = common.ParseDurationOr(config.ProgressThrottle, 0)
		if h.progressThrottle > 0 {
			logger.Debug().
				Str("interval", h.progressThrottle.String()).
				Msg("Progress throttling enabled for WebSocket relay")
		}
	}

	return h
}

// HandleSocket handles the generic endpoint. Clients manage their watch set
// with subscribe/unsubscribe control messages.
func (h *WebSocketHandler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	client := h.accept(w, r)
	if client == nil {
		return
	}
	h.readLoop(client)
}

// HandleJobSocket handles the per-job endpoint: the connection is subscribed
// to the job named in the path before the first frame is read.
func (h *WebSocketHandler) HandleJobSocket(w http.ResponseWriter, r *http.Request) {
	jobID := pathTail(r.URL.Path)
	if jobID == "" || jobID == "ws" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}

	client := h.accept(w, r)
	if client == nil {
		return
	}

	h.subscribe(client, jobID)
	h.readLoop(client)
}

// accept upgrades the request and registers the connection.
func (h *WebSocketHandler) accept(w http.ResponseWriter, r *http.Request) *wsClient {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return nil
	}

	client := &wsClient{
		conn: conn,
		subs: make(map[string]func()),
	}

	h.mu.Lock()
	h.clients[conn] = client
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", count)

	// Every connection is a member of the broadcast set for its lifetime.
	ch, cancel := h.bus.Subscribe(models.BroadcastTopic)
	client.subMu.Lock()
	client.subs[models.BroadcastTopic] = cancel
	client.subMu.Unlock()
	go h.relay(client, models.BroadcastTopic, ch)

	go h.pingLoop(client)

	return client
}

// readLoop consumes inbound frames until the connection dies. Control
// messages adjust the watch set; everything else keeps the connection alive.
func (h *WebSocketHandler) readLoop(client *wsClient) {
	defer h.remove(client)

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "subscribe":
			if msg.JobID != "" {
				h.subscribe(client, msg.JobID)
			}
		case "unsubscribe":
			if msg.JobID != "" {
				h.unsubscribe(client, msg.JobID)
			}
		case "ping":
			// Application-level keepalive for clients that cannot send
			// protocol ping frames.
			if err := h.write(client, []byte(`{"type":"pong"}`)); err != nil {
				return
			}
		}
	}
}

// subscribe attaches the connection to a job's topic. The current state is
// replayed as the first frame before any live notification, so a client
// joining mid-run or after completion still sees the job's standing.
// Subscribing twice to the same job is a no-op beyond a fresh replay.
func (h *WebSocketHandler) subscribe(client *wsClient, jobID string) {
	client.subMu.Lock()
	_, exists := client.subs[jobID]
	client.subMu.Unlock()

	var ch <-chan models.Notification
	var cancel func()
	if !exists {
		// Attach to the topic before reading the snapshot so no update
		// published in between is lost.
		ch, cancel = h.bus.Subscribe(models.Topic(jobID))
		client.subMu.Lock()
		client.subs[jobID] = cancel
		client.subMu.Unlock()
	}

	snapshot, err := h.status.Query(context.Background(), jobID)
	if err != nil {
		h.logger.Error().Str("job_id", jobID).Err(err).Msg("Replay query failed")
		snapshot = map[string]interface{}{
			"status":  string(models.JobStatusError),
			"message": "internal error",
		}
	}
	snapshot["jobId"] = jobID

	data, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to marshal replay snapshot")
	} else if err := h.write(client, data); err != nil {
		h.remove(client)
		return
	}

	if !exists {
		go h.relay(client, jobID, ch)
	}
}

// unsubscribe detaches the connection from a job's topic.
func (h *WebSocketHandler) unsubscribe(client *wsClient, jobID string) {
	client.subMu.Lock()
	cancel, ok := client.subs[jobID]
	if ok {
		delete(client.subs, jobID)
	}
	client.subMu.Unlock()

	if ok {
		cancel()
	}
}

// relay forwards bus notifications for one subscription to the socket in
// publish order. Progress frames may be throttled; terminal frames never are.
func (h *WebSocketHandler) relay(client *wsClient, jobID string, ch <-chan models.Notification) {
	var limiter *rate.Limiter
	if h.progressThrottle > 0 {
		limiter = rate.NewLimiter(rate.Every(h.progressThrottle), 1)
	}

	for n := range ch {
		if !n.Status.IsTerminal() && limiter != nil && !limiter.Allow() {
			continue
		}

		data, err := json.Marshal(n)
		if err != nil {
			h.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to marshal notification")
			continue
		}

		if err := h.write(client, data); err != nil {
			h.logger.Debug().Str("job_id", jobID).Err(err).Msg("Relay write failed, dropping connection")
			h.remove(client)
			return
		}
	}
}

// write sends one frame under the client's write lock and deadline.
func (h *WebSocketHandler) write(client *wsClient, data []byte) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return client.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop keeps the connection alive and detects dead peers.
func (h *WebSocketHandler) pingLoop(client *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		client.mu.Lock()
		client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		err := client.conn.WriteMessage(websocket.PingMessage, nil)
		client.mu.Unlock()

		if err != nil {
			h.remove(client)
			return
		}
	}
}

// remove tears down a connection: deregisters it, cancels every subscription
// it holds and closes the socket. Safe to call more than once.
func (h *WebSocketHandler) remove(client *wsClient) {
	h.mu.Lock()
	_, registered := h.clients[client.conn]
	delete(h.clients, client.conn)
	count := len(h.clients)
	h.mu.Unlock()

	if !registered {
		return
	}

	client.subMu.Lock()
	cancels := make([]func(), 0, len(client.subs))
	for _, cancel := range client.subs {
		cancels = append(cancels, cancel)
	}
	client.subs = make(map[string]func())
	client.subMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	client.conn.Close()
	h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", count)
}

// ClientCount reports the number of live connections.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every live connection.
func (h *WebSocketHandler) Close() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
}
