package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/opencarelabs/medvoice/internal/audio"
	"github.com/opencarelabs/medvoice/internal/calllog"
	"github.com/opencarelabs/medvoice/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Transcriber is the bridge's view of a transcription session.
type Transcriber interface {
	SendAudio(pcm []byte) error
	Open() bool
	Finalize()
	Close()
}

// SessionFactory opens a transcription session wired to the given callbacks.
type SessionFactory func(ev Events) (Transcriber, error)

// EventLogger records call events. A nil *calllog.Logger satisfies it.
type EventLogger interface {
	Event(callID string, rec calllog.Record)
	Error(callID string, err error, detail string)
}

// Handler accepts telephony media-stream websocket connections and bridges
// their audio to a transcription session.
type Handler struct {
	newSession SessionFactory
	log        EventLogger
}

func NewHandler(factory SessionFactory, log EventLogger) *Handler {
	if log == nil {
		log = (*calllog.Logger)(nil)
	}
	return &Handler{newSession: factory, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("media stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	b := newBridge(h.log)
	session, err := h.newSession(Events{
		OnFinal: b.appendFinal,
		OnError: b.onSessionError,
		OnClose: b.flushTranscript,
	})
	if err != nil {
		slog.Error("transcription session dial failed", "bridge_id", b.id, "error", err)
		metrics.Errors.WithLabelValues("stream", "session_dial").Inc()
	} else {
		b.session = session
	}

	slog.Info("media stream connected", "bridge_id", b.id)
	b.run(conn)
	slog.Info("media stream closed", "bridge_id", b.id, "call_id", b.currentCallID())
}

// Telephony media-stream envelope. Exactly one of the payload fields is
// present depending on Type.
type envelope struct {
	Type  string        `json:"type"`
	Start *startPayload `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
	Stop  *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	CallID   string `json:"callId"`
	StreamID string `json:"streamId"`
}

type mediaPayload struct {
	Payload string `json:"payload"` // base64 mu-law audio
}

type stopPayload struct {
	StreamID string `json:"streamId"`
}

// bridge is the per-connection state.
type bridge struct {
	id  string
	log EventLogger

	session Transcriber

	mu        sync.Mutex
	callID    string
	streamID  string
	acc       strings.Builder
	flushOnce sync.Once
}

func newBridge(log EventLogger) *bridge {
	return &bridge{id: ulid.Make().String(), log: log}
}

func (b *bridge) run(conn *websocket.Conn) {
	defer func() {
		if b.session == nil {
			return
		}
		if b.session.Open() {
			b.session.Finalize()
		}
		b.session.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		b.handleMessage(data)
	}
}

func (b *bridge) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.Errors.WithLabelValues("stream", "malformed_message").Inc()
		b.log.Error(b.currentCallID(), err, "malformed media stream message")
		return
	}

	switch env.Type {
	case "connected":
		slog.Debug("media stream handshake", "bridge_id", b.id)
	case "start":
		if env.Start == nil {
			b.log.Error(b.currentCallID(), errors.New("start event missing payload"), "media stream start")
			return
		}
		b.mu.Lock()
		b.callID = env.Start.CallID
		b.streamID = env.Start.StreamID
		b.mu.Unlock()
		slog.Info("media stream started", "bridge_id", b.id, "call_id", env.Start.CallID, "stream_id", env.Start.StreamID)
	case "media":
		metrics.StreamFrames.Inc()
		if env.Media == nil {
			slog.Warn("media event missing payload", "bridge_id", b.id)
			return
		}
		raw, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			b.log.Error(b.currentCallID(), err, "media payload decode")
			return
		}
		pcm := audio.DecodeUlaw(raw)
		if b.session == nil || !b.session.Open() {
			slog.Warn("dropping media frame, transcription session not open", "bridge_id", b.id)
			return
		}
		if err := b.session.SendAudio(pcm); err != nil {
			slog.Warn("forward audio", "bridge_id", b.id, "error", err)
		}
	case "stop":
		slog.Info("media stream stopping", "bridge_id", b.id, "call_id", b.currentCallID())
		if b.session != nil {
			b.session.Finalize()
		}
	default:
		slog.Debug("ignoring media stream event", "bridge_id", b.id, "type", env.Type)
	}
}

// appendFinal accumulates a finalized fragment. Fragments are joined with a
// trailing space each, so consecutive sentence-final fragments end up two
// spaces apart in the stored transcript.
func (b *bridge) appendFinal(fragment string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acc.WriteString(fragment + " ")
}

func (b *bridge) onSessionError(err error) {
	metrics.Errors.WithLabelValues("stream", "session_error").Inc()
	b.log.Error(b.currentCallID(), err, "transcription session")
}

// flushTranscript records the accumulated transcript exactly once, at
// session close.
func (b *bridge) flushTranscript() {
	b.flushOnce.Do(func() {
		b.mu.Lock()
		callID := b.callID
		streamID := b.streamID
		transcript := strings.TrimSpace(b.acc.String())
		b.mu.Unlock()

		if callID == "" {
			callID = "unknown"
		}
		metrics.TranscriptFlushes.Inc()
		b.log.Event(callID, calllog.Record{
			"event":      "transcript_final",
			"stream_id":  streamID,
			"transcript": transcript,
		})
	})
}

func (b *bridge) currentCallID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callID == "" {
		return "unknown"
	}
	return b.callID
}
