// Package stream broadcasts episode events to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brensch/rolloutiw/episode"
)

const (
	TypeDecision = "decision"
	TypeStep     = "step"
	TypeEpisode  = "episode"
)

// Event is one message on the wire. Exactly one of the payloads is set,
// matching Type.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	EpisodeID string    `json:"episode_id"`
	Time      time.Time `json:"time"`

	Decision *DecisionEvent `json:"decision,omitempty"`
	Step     *StepEvent     `json:"step,omitempty"`
	Episode  *EpisodeEvent  `json:"episode,omitempty"`
}

type DecisionEvent struct {
	Index     int     `json:"index"`
	Step      int     `json:"step"`
	Branch    []int   `json:"branch"`
	Rollouts  int     `json:"rollouts"`
	Nodes     int     `json:"nodes"`
	Height    int     `json:"height"`
	RootValue float64 `json:"root_value"`
	Reused    bool    `json:"reused"`
	Millis    float64 `json:"ms"`
	Summary   string  `json:"summary"`
}

type StepEvent struct {
	Index    int     `json:"index"`
	Action   int     `json:"action"`
	Reward   float64 `json:"reward"`
	Score    float64 `json:"score"`
	Lives    int     `json:"lives"`
	Terminal bool    `json:"terminal"`
	Board    string  `json:"board,omitempty"`
}

type EpisodeEvent struct {
	Score     float64 `json:"score"`
	Steps     int     `json:"steps"`
	Decisions int     `json:"decisions"`
	Terminal  bool    `json:"terminal"`
	Aborted   bool    `json:"aborted"`
	Millis    float64 `json:"ms"`
}

func DecisionEventOf(runID string, d episode.Decision) Event {
	branch := make([]int, len(d.Branch))
	for i, a := range d.Branch {
		branch[i] = int(a)
	}
	return Event{
		Type:      TypeDecision,
		RunID:     runID,
		EpisodeID: d.EpisodeID,
		Time:      time.Now(),
		Decision: &DecisionEvent{
			Index:     d.Index,
			Step:      d.Step,
			Branch:    branch,
			Rollouts:  d.Stats.Rollouts,
			Nodes:     d.Stats.Nodes,
			Height:    d.Stats.Height,
			RootValue: d.Stats.RootValue,
			Reused:    d.Stats.Reused,
			Millis:    float64(d.Stats.Total.Microseconds()) / 1000,
			Summary:   d.Stats.String(),
		},
	}
}

// StepEventOf converts a step. board is an optional rendering of the arena.
func StepEventOf(runID string, s episode.Step, board string) Event {
	return Event{
		Type:      TypeStep,
		RunID:     runID,
		EpisodeID: s.EpisodeID,
		Time:      time.Now(),
		Step: &StepEvent{
			Index:    s.Index,
			Action:   int(s.Action),
			Reward:   s.Reward,
			Score:    s.Score,
			Lives:    s.Lives,
			Terminal: s.Terminal,
			Board:    board,
		},
	}
}

func EpisodeEventOf(runID string, r episode.Result) Event {
	return Event{
		Type:      TypeEpisode,
		RunID:     runID,
		EpisodeID: r.ID,
		Time:      time.Now(),
		Episode: &EpisodeEvent{
			Score:     r.Score,
			Steps:     r.Steps,
			Decisions: r.Decisions,
			Terminal:  r.Terminal,
			Aborted:   r.Aborted,
			Millis:    float64(r.Elapsed.Microseconds()) / 1000,
		},
	}
}

// Hub fans events out to every connected subscriber. A subscriber that
// falls behind by more than its buffer loses messages rather than stalling
// the publisher.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uint64]chan []byte
	nextID  atomic.Uint64
	dropped atomic.Uint64
	closed  bool
}

const clientBuffer = 256

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[uint64]chan []byte),
	}
}

// Clients is the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped counts messages not delivered to slow subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) Publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("marshal stream event", "type", ev.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}

func (h *Hub) register() (uint64, chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, nil, false
	}
	id := h.nextID.Add(1)
	ch := make(chan []byte, clientBuffer)
	h.clients[id] = ch
	return id, ch, true
}

func (h *Hub) unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

// ServeHTTP upgrades the request and streams events until either side closes.
func (h *Hub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, out, ok := h.register()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		return
	}
	defer h.unregister(id)
	h.logger.Debug("stream subscriber joined", "id", id, "remote", r.RemoteAddr)

	// Reader: subscribers send nothing, but reading notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case b, ok := <-out:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

// Client reads events from a hub.
type Client struct {
	conn *websocket.Conn
}

func Dial(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Next blocks for the next event. Use IsClosed on the error to tell a normal
// hang-up from a failure.
func (c *Client) Next() (Event, error) {
	var ev Event
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(msg, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// IsClosed reports a normal close from the hub.
func IsClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
