package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// State is the transcription session lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateReceiving
	StateClosing
	StateClosed
	StateErrored
)

// ErrSessionClosed is returned by SendAudio once the session is no longer open.
var ErrSessionClosed = errors.New("transcription session closed")

// Dialer abstracts websocket dialing for tests.
type Dialer interface {
	Dial(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error)
}

// Events are the session's callbacks into the bridge. Any may be nil.
type Events struct {
	OnFinal func(fragment string) // finalized transcript fragment
	OnError func(err error)
	OnClose func() // fired exactly once when the session ends
}

// Session is one realtime transcription stream to the upstream service.
type Session struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	state     atomic.Int32
	events    Events
	closeOnce sync.Once
}

// Inbound message envelope from the transcription service.
type serviceMsg struct {
	Type            string `json:"type"`
	ID              string `json:"id,omitempty"`
	Transcript      string `json:"transcript,omitempty"`
	TurnIsFormatted bool   `json:"turn_is_formatted,omitempty"`
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

type terminateMsg struct {
	Type string `json:"type"`
}

// Dial opens a transcription session and starts its read loop.
func Dial(dialer Dialer, baseURL, apiKey string, sampleRate int, ev Events) (*Session, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse transcription url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("format_turns", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", apiKey)

	conn, _, err := dialer.Dial(u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial transcription service: %w", err)
	}

	s := &Session{conn: conn, events: ev}
	s.state.Store(int32(StateOpen))
	go s.readLoop()
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Open reports whether the session accepts audio.
func (s *Session) Open() bool {
	st := s.State()
	return st == StateOpen || st == StateReceiving
}

// SendAudio forwards raw PCM bytes to the transcription service.
func (s *Session) SendAudio(pcm []byte) error {
	if !s.Open() {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

// Finalize asks the service to flush and terminate. Safe when already closed.
func (s *Session) Finalize() {
	if !s.Open() {
		return
	}
	s.state.Store(int32(StateClosing))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	data, err := json.Marshal(terminateMsg{Type: "Terminate"})
	if err != nil {
		return
	}
	if err = s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("transcription finalize", "error", err)
	}
}

// Close tears down the underlying connection without waiting for the
// service's termination handshake.
func (s *Session) Close() {
	s.markClosed()
	s.conn.Close()
}

func (s *Session) markClosed() {
	if s.State() != StateErrored {
		s.state.Store(int32(StateClosed))
	}
	s.closeOnce.Do(func() {
		if s.events.OnClose != nil {
			s.events.OnClose()
		}
	})
}

func (s *Session) readLoop() {
	defer s.markClosed()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg serviceMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("transcription message parse", "error", err)
			continue
		}

		switch msg.Type {
		case "Begin":
			slog.Info("transcription session began", "session_id", msg.ID)
		case "Turn":
			if !msg.TurnIsFormatted {
				slog.Debug("interim transcript", "text", msg.Transcript)
				continue
			}
			s.state.Store(int32(StateReceiving))
			if s.events.OnFinal != nil {
				s.events.OnFinal(msg.Transcript)
			}
		case "Error":
			s.state.Store(int32(StateErrored))
			if s.events.OnError != nil {
				s.events.OnError(fmt.Errorf("transcription service: code=%s message=%s", msg.ErrorCode, msg.ErrorMessage))
			}
		case "Termination":
			return
		default:
			slog.Debug("ignoring transcription message", "type", msg.Type)
		}
	}
}
