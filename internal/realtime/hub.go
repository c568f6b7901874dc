package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"cobrarelay/internal/constants"
	"cobrarelay/internal/models"
)

const (
	sendBufferSize = 32
	writeTimeout   = 10 * time.Second
	pingInterval   = 15 * time.Second
)

// event is the wire envelope pushed to subscribed clients.
type event struct {
	Type    string              `json:"type"`
	Message *models.ChatMessage `json:"message"`
}

const eventTypeMessageCreated = "message.created"

type subscriber struct {
	threadID string
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func (s *subscriber) close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Hub fans out stored message notifications to websocket clients
// subscribed to the message's thread. Delivery is best effort per
// client: a subscriber whose send buffer is full gets disconnected
// rather than stalling the publisher.
type Hub struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	threads map[string]map[*subscriber]struct{}
}

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Hub{
		logger:  logger,
		threads: make(map[string]map[*subscriber]struct{}),
	}
}

func (h *Hub) subscribe(threadID string) *subscriber {
	sub := &subscriber{
		threadID: threadID,
		send:     make(chan []byte, sendBufferSize),
		stop:     make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.threads[threadID] == nil {
		h.threads[threadID] = make(map[*subscriber]struct{})
	}
	h.threads[threadID][sub] = struct{}{}
	return sub
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.threads[sub.threadID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.threads, sub.threadID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

func (h *Hub) subscriberCount(threadID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.threads[threadID])
}

// NotifyNewMessage publishes a stored message to every client
// subscribed to its thread.
func (h *Hub) NotifyNewMessage(ctx context.Context, msg *models.ChatMessage) {
	if msg == nil || msg.ChatThreadID == "" {
		return
	}
	payload, err := json.Marshal(event{Type: eventTypeMessageCreated, Message: msg})
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode realtime event")
		return
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.threads[msg.ChatThreadID]))
	for sub := range h.threads[msg.ChatThreadID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.send <- payload:
		default:
			h.logger.WithFields(logrus.Fields{
				constants.LogFieldThreadID:  msg.ChatThreadID,
				constants.LogFieldMessageID: msg.ID,
			}).Warn("Dropping slow websocket subscriber")
			h.drop(sub)
		}
	}
}

// ServeHTTP upgrades the request and streams thread events until the
// client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadId"]
	if threadID == "" {
		http.Error(w, "thread id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	sub := h.subscribe(threadID)
	defer h.drop(sub)

	h.logger.WithField(constants.LogFieldThreadID, threadID).Debug("Websocket subscriber connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	h.writeLoop(ctx, conn, sub)
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-sub.stop:
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return
		case payload := <-sub.send:
			if err := h.write(ctx, conn, websocket.MessageText, payload); err != nil {
				h.logger.WithError(err).WithField(constants.LogFieldThreadID, sub.threadID).Debug("Websocket write failed")
				return
			}
		case <-ticker.C:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(wctx)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, typ websocket.MessageType, payload []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, typ, payload)
}
