package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/spectral-pipeline/internal/audio"
	"github.com/lexiqai/spectral-pipeline/internal/observability"
	"github.com/lexiqai/spectral-pipeline/internal/resilience"
)

var (
	// ErrNotConnected is reported by Check while no upstream connection is open
	ErrNotConnected = errors.New("source: upstream not connected")

	// ErrClosed is returned by a dial that completes after Close
	ErrClosed = errors.New("source: closed")
)

// Encodings accepted in media events
const (
	EncodingPCM16 = "pcm16"
	EncodingMulaw = "mulaw"
)

// MediaMessage is a JSON event from the upstream stream
type MediaMessage struct {
	Event    string        `json:"event"`
	StreamID string        `json:"stream_id,omitempty"`
	Start    *StartPayload `json:"start,omitempty"`
	Media    *MediaPayload `json:"media,omitempty"`
}

// StartPayload announces the format of the media that follows
type StartPayload struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// MediaPayload carries one chunk of base64 audio
type MediaPayload struct {
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp,omitempty"`
}

// WebSocketConfig configures an upstream WebSocket source
type WebSocketConfig struct {
	URL        string
	SampleRate int // rate the upstream sends at
	TargetRate int // rate the pipeline renders at
	BufferSize int // jitter buffer capacity in samples
	Reconnect  *resilience.ReconnectConfig
	Breaker    *resilience.CircuitBreaker
	Dialer     *websocket.Dialer
}

// WebSocket reads PCM audio from an upstream WebSocket. Binary frames are
// 16-bit little-endian mono PCM; text frames are MediaMessage events.
type WebSocket struct {
	cfg    WebSocketConfig
	buffer *audio.SampleBuffer
	logger zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	cancel     context.CancelFunc
	encoding   string
	sampleRate int

	connected atomic.Bool
	closed    atomic.Bool
	sessions  atomic.Uint64
}

// NewWebSocket creates an upstream source. Nothing is dialled until Run.
func NewWebSocket(cfg WebSocketConfig, logger zerolog.Logger) *WebSocket {
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = resilience.DefaultReconnectConfig()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker("source", 1, 30*time.Second, logger)
	}
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = cfg.SampleRate
	}
	return &WebSocket{
		cfg:        cfg,
		buffer:     audio.NewSampleBuffer(cfg.BufferSize),
		logger:     logger.With().Str("component", "source").Str("url", cfg.URL).Logger(),
		encoding:   EncodingPCM16,
		sampleRate: cfg.SampleRate,
	}
}

// Read drains buffered samples into dst
func (w *WebSocket) Read(dst []float32) int {
	return w.buffer.Read(dst)
}

// Run keeps an upstream connection open until ctx ends. Each outage is
// retried with backoff; when a whole round of attempts fails, the circuit
// breaker holds further dialling off for its reset timeout.
func (w *WebSocket) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	for ctx.Err() == nil && !w.closed.Load() {
		err := w.cfg.Breaker.Call(func() error {
			return resilience.Reconnect(ctx, w.dial, w.cfg.Reconnect, w.logger)
		})
		switch {
		case ctx.Err() != nil, w.closed.Load():
			return nil
		case errors.Is(err, resilience.ErrCircuitOpen):
			wait := w.cfg.Breaker.RetryAfter()
			w.logger.Warn().Dur("retry_after", wait).Msg("Upstream circuit open, holding off")
			if !sleepCtx(ctx, wait) {
				return nil
			}
			continue
		case resilience.IsPermanent(err):
			w.logger.Error().Err(err).Msg("Upstream rejected connection")
			return err
		case err != nil:
			w.logger.Error().Err(err).Msg("Upstream unreachable")
			continue
		}

		if err := w.stream(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("Upstream connection lost")
			observability.RecordError("disconnect", "source")
		}
	}
	return nil
}

func (w *WebSocket) dial(ctx context.Context) error {
	conn, resp, err := w.cfg.Dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		observability.RecordSourceReconnect(false)
		if resp != nil && resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			return resilience.Permanent(fmt.Errorf("dial %s: status %d: %w", w.cfg.URL, resp.StatusCode, err))
		}
		return fmt.Errorf("dial %s: %w", w.cfg.URL, err)
	}
	observability.RecordSourceReconnect(true)

	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		conn.Close()
		return resilience.Permanent(ErrClosed)
	}
	w.conn = conn
	w.mu.Unlock()
	w.connected.Store(true)
	w.sessions.Add(1)

	w.logger.Info().Uint64("session", w.Sessions()).Msg("Upstream connected")
	return nil
}

// stream reads the current connection until it fails or ctx ends
func (w *WebSocket) stream(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	defer func() {
		w.connected.Store(false)
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		conn.Close()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if !resilience.IsRetryableNetworkError(err) && !websocket.IsUnexpectedCloseError(err) {
				w.logger.Debug().Err(err).Msg("Non-network read error")
			}
			return err
		}

		switch messageType {
		case websocket.BinaryMessage:
			w.handleAudio(data, EncodingPCM16, w.currentRate())
		case websocket.TextMessage:
			w.handleEvent(data)
		}
	}
}

func (w *WebSocket) handleEvent(data []byte) {
	var msg MediaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		w.logger.Error().Err(err).Msg("Failed to parse upstream message")
		return
	}

	switch msg.Event {
	case "start":
		if msg.Start == nil {
			return
		}
		// audio from a previous stream must not run into the new one
		w.buffer.Clear()
		w.mu.Lock()
		if msg.Start.Encoding != "" {
			w.encoding = msg.Start.Encoding
		}
		if msg.Start.SampleRate > 0 {
			w.sampleRate = msg.Start.SampleRate
		}
		encoding, rate := w.encoding, w.sampleRate
		w.mu.Unlock()
		w.logger.Info().
			Str("stream_id", msg.StreamID).
			Str("encoding", encoding).
			Int("sample_rate", rate).
			Msg("Upstream stream started")

	case "media":
		if msg.Media == nil || msg.Media.Payload == "" {
			w.logger.Warn().Msg("Media event missing payload")
			return
		}
		raw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to decode base64 audio")
			return
		}
		w.mu.Lock()
		encoding, rate := w.encoding, w.sampleRate
		w.mu.Unlock()
		w.handleAudio(raw, encoding, rate)

	case "stop":
		w.logger.Info().Str("stream_id", msg.StreamID).Msg("Upstream stream stopped")

	default:
		w.logger.Debug().Str("event", msg.Event).Msg("Unknown upstream event")
	}
}

func (w *WebSocket) handleAudio(raw []byte, encoding string, rate int) {
	observability.RecordAudioBytes("in", int64(len(raw)))

	var samples []float32
	var err error
	switch encoding {
	case EncodingMulaw:
		samples, err = audio.DecodeMulaw(raw)
	default:
		samples, err = audio.DecodePCM16(raw)
	}
	if err != nil {
		w.logger.Warn().Err(err).Str("encoding", encoding).Msg("Dropping undecodable audio")
		return
	}

	samples = audio.Resample(samples, rate, w.cfg.TargetRate)
	if evicted := w.buffer.Write(samples); evicted > 0 {
		observability.RecordDroppedFrames("source", evicted)
	}
}

func (w *WebSocket) currentRate() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sampleRate
}

// Check reports whether an upstream connection is open
func (w *WebSocket) Check(ctx context.Context) (bool, error) {
	if !w.connected.Load() {
		if state := w.cfg.Breaker.GetState(); state != resilience.StateClosed {
			return false, fmt.Errorf("%w: circuit %s", ErrNotConnected, state)
		}
		return false, ErrNotConnected
	}
	return true, nil
}

// Sessions returns how many upstream connections have been established
func (w *WebSocket) Sessions() uint64 {
	return w.sessions.Load()
}

// Close shuts the current connection and stops Run, including one that is
// backing off between dial attempts
func (w *WebSocket) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	_, dials, failures := w.cfg.Breaker.GetStats()
	w.logger.Info().
		Uint64("sessions", w.Sessions()).
		Int64("dial_rounds", dials).
		Int64("failed_rounds", failures).
		Msg("Closing upstream source")

	w.mu.Lock()
	conn, cancel := w.conn, w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return conn.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var _ Source = (*WebSocket)(nil)
var _ Source = (*Tone)(nil)
