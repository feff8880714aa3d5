// Package stream fans spectrum frames out to WebSocket viewers and collects
// the decisions they post back.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/spectral-pipeline/internal/decision"
	"github.com/lexiqai/spectral-pipeline/internal/observability"
	"github.com/lexiqai/spectral-pipeline/internal/pipeline"
)

const (
	writeWait       = 10 * time.Second
	maxMessageSize  = 64 * 1024
	defaultPageSize = 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// viewers are served from other origins during development
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 16384,
}

// SpectrumEvent is sent to viewers for every emitted frame
type SpectrumEvent struct {
	Event       string    `json:"event"`
	SubjectID   string    `json:"subject_id"`
	Sequence    uint64    `json:"sequence"`
	StartSample uint64    `json:"start_sample"`
	SampleRate  int       `json:"sample_rate"`
	Kernel      int       `json:"kernel"`
	Transform   string    `json:"transform"`
	RMS         float64   `json:"rms"`
	Active      bool      `json:"active"`
	Data        []float32 `json:"data"`
}

// ClientMessage is an inbound viewer message
type ClientMessage struct {
	Event     string        `json:"event"`
	SubjectID string        `json:"subject_id"`
	Tag       string        `json:"tag,omitempty"`
	Kind      decision.Kind `json:"kind,omitempty"`
	Confirmed *bool         `json:"confirmed,omitempty"`
	Label     string        `json:"label,omitempty"`
}

// ReplyEvent answers a ClientMessage
type ReplyEvent struct {
	Event     string              `json:"event"`
	SubjectID string              `json:"subject_id,omitempty"`
	Tag       string              `json:"tag,omitempty"`
	Result    *decision.ResultRow `json:"result,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// Hub implements pipeline.Sink. Publish only hands the frame to the hub
// goroutine started by Run; subject registration, encoding and fan-out
// happen there. A frame is dropped when that hand-off queue is full, and a
// viewer whose own queue is full misses the frame.
type Hub struct {
	store     *decision.Store
	queueSize int
	frames    chan pipeline.Frame
	dropped   atomic.Uint64
	logger    zerolog.Logger

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewHub creates a hub that registers frames as subjects in store
func NewHub(store *decision.Store, queueSize int, logger zerolog.Logger) *Hub {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Hub{
		store:     store,
		queueSize: queueSize,
		frames:    make(chan pipeline.Frame, queueSize),
		logger:    logger.With().Str("component", "stream").Logger(),
		subs:      make(map[string]*subscriber),
	}
}

// Publish queues f for the hub goroutine. It never blocks.
func (h *Hub) Publish(f pipeline.Frame) {
	select {
	case h.frames <- f:
	default:
		h.dropped.Add(1)
		observability.RecordDroppedFrames("hub", 1)
	}
}

// Run registers and broadcasts published frames until ctx ends
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-h.frames:
			h.dispatch(f)
		}
	}
}

// dispatch registers f as a subject and broadcasts it
func (h *Hub) dispatch(f pipeline.Frame) {
	id := h.store.Add(decision.Subject{
		Sequence:    f.Sequence,
		StartSample: f.StartSample,
		Length:      len(f.Data),
		SampleRate:  f.SampleRate,
		Metadata:    map[string]string{"transform": f.Transform},
	})
	observability.SetSubjects(h.store.Len(), h.store.Evicted())

	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	if n == 0 {
		return
	}

	payload, err := json.Marshal(SpectrumEvent{
		Event:       "spectrum",
		SubjectID:   id,
		Sequence:    f.Sequence,
		StartSample: f.StartSample,
		SampleRate:  f.SampleRate,
		Kernel:      len(f.Data),
		Transform:   f.Transform,
		RMS:         f.RMS,
		Active:      f.Active,
		Data:        f.Data,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode spectrum event")
		return
	}
	h.broadcast(payload)
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		select {
		case s.send <- payload:
		default:
			s.metrics.RecordDropped()
		}
	}
}

// Dropped returns how many frames Publish discarded
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribers returns the number of connected viewers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// HandleSpectrum upgrades a request to a spectrum subscription
func (h *Hub) HandleSpectrum() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}

		id := observability.NewCorrelationID()
		s := &subscriber{
			id:      id,
			conn:    conn,
			send:    make(chan []byte, h.queueSize),
			done:    make(chan struct{}),
			metrics: observability.NewSessionMetrics(id),
			logger:  observability.WithCorrelationID(h.logger, id),
		}
		h.add(s)
		s.metrics.RecordSessionStart()
		s.logger.Info().Str("remote", r.RemoteAddr).Msg("Viewer connected")

		go s.writePump()
		h.readPump(s)

		h.remove(s)
		close(s.done)
		conn.Close()
		s.metrics.RecordSessionEnd()

		sent, dropped := s.metrics.Counts()
		s.logger.Info().Int64("sent", sent).Int64("dropped", dropped).Msg("Viewer disconnected")
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
}

// readPump handles inbound messages until the connection fails
func (h *Hub) readPump(s *subscriber) {
	s.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse viewer message")
			s.reply(ReplyEvent{Event: "error", Message: "malformed message"})
			continue
		}
		s.reply(h.handle(msg))
	}
}

func (h *Hub) handle(msg ClientMessage) ReplyEvent {
	switch msg.Event {
	case "decision":
		d := decision.Decision{
			Tag:       msg.Tag,
			Kind:      msg.Kind,
			Confirmed: msg.Confirmed,
			Label:     msg.Label,
		}
		err := h.store.Decide(msg.SubjectID, d)
		observability.RecordDecision(string(msg.Kind), err == nil)
		if err != nil {
			return ReplyEvent{Event: "error", SubjectID: msg.SubjectID, Message: err.Error()}
		}
		return ReplyEvent{Event: "decision_ack", SubjectID: msg.SubjectID, Tag: msg.Tag}

	case "finalize":
		row, err := h.store.Finalize(msg.SubjectID)
		if err != nil {
			return ReplyEvent{Event: "error", SubjectID: msg.SubjectID, Message: err.Error()}
		}
		return ReplyEvent{Event: "result", SubjectID: msg.SubjectID, Result: &row}

	default:
		return ReplyEvent{Event: "error", Message: "unknown event " + strconv.Quote(msg.Event)}
	}
}

// reply queues a response, waiting for room since the viewer asked for it
func (s *subscriber) reply(ev ReplyEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode reply")
		return
	}
	timer := time.NewTimer(writeWait)
	defer timer.Stop()
	select {
	case s.send <- payload:
	case <-s.done:
	case <-timer.C:
		s.metrics.RecordDropped()
	}
}

func (s *subscriber) writePump() {
	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.logger.Debug().Err(err).Msg("WebSocket write failed")
				}
				s.conn.Close()
				return
			}
			s.metrics.RecordSent(len(payload))
		case <-s.done:
			return
		}
	}
}

// HandleSubjects serves GET /subjects?page=&size=
func (h *Hub) HandleSubjects() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		page, err := queryInt(r, "page", 0)
		if err != nil {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		size, err := queryInt(r, "size", defaultPageSize)
		if err != nil {
			http.Error(w, "invalid size", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.store.Page(page, size)); err != nil {
			h.logger.Error().Err(err).Msg("Failed to write subjects page")
		}
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// Close disconnects every viewer
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.conn.Close()
	}
}

var _ pipeline.Sink = (*Hub)(nil)
