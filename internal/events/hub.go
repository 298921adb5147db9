package events

import (
	"context"
	"sync"

	"github.com/hubnity/timer-agent/internal/logger"
	"github.com/hubnity/timer-agent/internal/metrics"
	"github.com/hubnity/timer-agent/internal/timerengine"
)

// Hub fans events out to every locally-connected WebSocket client (the
// desktop UI). It also implements timerengine.EventSink directly, so the
// engine can be wired straight to a Hub with no adapter layer.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mirror     Publisher // optional, e.g. RedisMirror; nil if not configured
	mu         sync.RWMutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub creates a Hub. mirror may be nil when no secondary fan-out is
// configured.
func NewHub(mirror Publisher) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		mirror:     mirror,
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's dispatch loop.
func (h *Hub) Run(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAllClients()
				return
			case <-h.stopCh:
				h.closeAllClients()
				return
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("client registered")

			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					close(client.send)
				}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("client unregistered")

			case event := <-h.broadcast:
				h.broadcastEvent(event)
			}
		}
	}()

	logger.Info().Msg("events hub started")
}

// Stop drains the dispatch loop and waits for it to exit.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	logger.Info().Msg("events hub stopped")
}

func (h *Hub) Register(client *Client)   { h.register <- client }
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish satisfies Publisher: it queues the event for local broadcast and,
// if a mirror is configured, forwards it there too.
func (h *Hub) Publish(ctx context.Context, event *Event) error {
	select {
	case h.broadcast <- event:
	default:
		logger.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping event")
	}
	if h.mirror != nil {
		return h.mirror.Publish(ctx, event)
	}
	return nil
}

func (h *Hub) Close() error {
	h.Stop()
	if h.mirror != nil {
		return h.mirror.Close()
	}
	return nil
}

// PublishTimerStateUpdate implements timerengine.EventSink.
func (h *Hub) PublishTimerStateUpdate(state timerengine.TimerStateForAPI) {
	data := TimerStateData("", state.State, state.TodaySeconds, map[string]interface{}{
		"elapsed_seconds":       state.ElapsedSeconds,
		"is_sleep_detected":     state.IsSleepDetected,
		"restored_from_running": state.RestoredFromRunning,
	})
	_ = h.Publish(context.Background(), New(TimerStateUpdate, data))
}

// PublishSystemSleepDetected implements timerengine.EventSink.
func (h *Hub) PublishSystemSleepDetected() {
	_ = h.Publish(context.Background(), New(SystemSleepDetected, nil))
}

func (h *Hub) broadcastEvent(event *Event) {
	data, err := event.ToJSON()
	if err != nil {
		logger.Error().Err(err).Msg("failed to serialize event for broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
			metrics.RecordWebSocketMessage(string(event.Type))
		default:
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
