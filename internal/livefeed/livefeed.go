// Package livefeed fans out emergency events to websocket subscribers.
// Publishing never blocks: a subscriber that falls behind misses events.
package livefeed

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/emergency/internal/logger"
	"github.com/patric-chuzhbe/emergency/internal/models"
)

// Event kinds.
const (
	KindLocation = "location"
	KindStatus   = "status"
)

const (
	subscriberBuffer = 8
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

// Event is a change to an emergency pushed to live viewers.
type Event struct {
	EmergencyID int64                  `json:"emergency_id"`
	Kind        string                 `json:"kind"`
	Party       models.Party           `json:"party,omitempty"`
	Location    *models.Location       `json:"location,omitempty"`
	Status      models.EmergencyStatus `json:"status,omitempty"`
	At          time.Time              `json:"at"`
}

// Hub keeps the subscribers of every emergency.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]map[chan Event]struct{}
	upgrader    websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		subscribers: map[int64]map[chan Event]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Subscribe registers interest in one emergency. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(emergencyID int64) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.subscribers[emergencyID]
	if !ok {
		subs = map[chan Event]struct{}{}
		h.subscribers[emergencyID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers[emergencyID], ch)
			if len(h.subscribers[emergencyID]) == 0 {
				delete(h.subscribers, emergencyID)
			}
			close(ch)
		})
	}

	return ch, cancel
}

// Publish delivers e to every subscriber of its emergency that has room.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[e.EmergencyID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of live viewers of an emergency.
func (h *Hub) Subscribers(emergencyID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers[emergencyID])
}

// Stream upgrades the request to a websocket and writes the events of one
// emergency as JSON until the client goes away.
func (h *Hub) Stream(w http.ResponseWriter, r *http.Request, emergencyID int64) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	events, cancel := h.Subscribe(emergencyID)
	defer cancel()

	log := logger.FromContext(r.Context())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				log.Debugw("live feed write failed", "emergency_id", emergencyID, zap.Error(err))
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
