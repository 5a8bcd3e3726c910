package stream

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionWait = 2 * time.Second

// startService runs a fake transcription service; script drives one
// accepted connection.
func startService(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	upg := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upg.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func send(conn *websocket.Conn, msg string) {
	conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func TestDialSendsAuthAndQuery(t *testing.T) {
	type handshake struct {
		query url.Values
		auth  string
	}
	got := make(chan handshake, 1)

	upg := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- handshake{query: r.URL.Query(), auth: r.Header.Get("Authorization")}
		conn, err := upg.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	s, err := Dial(websocket.DefaultDialer, "ws"+strings.TrimPrefix(srv.URL, "http"), "secret-key", 8000, Events{})
	require.NoError(t, err)
	defer s.Close()

	hs := <-got
	assert.Equal(t, "secret-key", hs.auth)
	assert.Equal(t, "8000", hs.query.Get("sample_rate"))
	assert.Equal(t, "true", hs.query.Get("format_turns"))
}

func TestOnlyFormattedTurnsReachCallback(t *testing.T) {
	serviceURL := startService(t, func(conn *websocket.Conn) {
		send(conn, `{"type":"Begin","id":"sess-1"}`)
		send(conn, `{"type":"Turn","transcript":"yes i took","turn_is_formatted":false}`)
		send(conn, `{"type":"Turn","transcript":"Yes I took it. ","turn_is_formatted":true}`)
		send(conn, `{"type":"Termination"}`)
	})

	finals := make(chan string, 4)
	closed := make(chan struct{})
	s, err := Dial(websocket.DefaultDialer, serviceURL, "key", 8000, Events{
		OnFinal: func(f string) { finals <- f },
		OnClose: func() { close(closed) },
	})
	require.NoError(t, err)
	defer s.Close()

	select {
	case <-closed:
	case <-time.After(sessionWait):
		t.Fatal("session did not close after termination")
	}
	require.Len(t, finals, 1, "interim fragments are discarded")
	assert.Equal(t, "Yes I took it. ", <-finals)
}

func TestCloseCallbackFiresOnce(t *testing.T) {
	serviceURL := startService(t, func(conn *websocket.Conn) {
		send(conn, `{"type":"Termination"}`)
	})

	var closes atomic.Int32
	done := make(chan struct{}, 2)
	s, err := Dial(websocket.DefaultDialer, serviceURL, "key", 8000, Events{
		OnClose: func() { closes.Add(1); done <- struct{}{} },
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(sessionWait):
		t.Fatal("close callback never fired")
	}

	// Closing again after the service terminated must not re-fire.
	s.Close()
	assert.Equal(t, int32(1), closes.Load())
	assert.Equal(t, StateClosed, s.State())
	assert.False(t, s.Open())
}

func TestServiceErrorReported(t *testing.T) {
	serviceURL := startService(t, func(conn *websocket.Conn) {
		send(conn, `{"type":"Error","error_code":"4003","error_message":"bad audio"}`)
	})

	errs := make(chan error, 1)
	s, err := Dial(websocket.DefaultDialer, serviceURL, "key", 8000, Events{
		OnError: func(e error) { errs <- e },
	})
	require.NoError(t, err)
	defer s.Close()

	select {
	case e := <-errs:
		assert.Contains(t, e.Error(), "4003")
		assert.Contains(t, e.Error(), "bad audio")
	case <-time.After(sessionWait):
		t.Fatal("error callback never fired")
	}
	assert.Equal(t, StateErrored, s.State())
	assert.False(t, s.Open())
}

func TestFinalizeSendsTerminate(t *testing.T) {
	received := make(chan string, 1)
	serviceURL := startService(t, func(conn *websocket.Conn) {
		mt, data, err := conn.ReadMessage()
		if err == nil && mt == websocket.TextMessage {
			received <- string(data)
		}
	})

	s, err := Dial(websocket.DefaultDialer, serviceURL, "key", 8000, Events{})
	require.NoError(t, err)
	defer s.Close()

	s.Finalize()

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"type":"Terminate"}`, msg)
	case <-time.After(sessionWait):
		t.Fatal("service never received the terminate message")
	}

	assert.False(t, s.Open(), "closing session no longer accepts audio")
	assert.ErrorIs(t, s.SendAudio([]byte{1}), ErrSessionClosed)
}

func TestSendAudioForwardsBinaryFrames(t *testing.T) {
	received := make(chan []byte, 1)
	serviceURL := startService(t, func(conn *websocket.Conn) {
		mt, data, err := conn.ReadMessage()
		if err == nil && mt == websocket.BinaryMessage {
			received <- data
		}
	})

	s, err := Dial(websocket.DefaultDialer, serviceURL, "key", 8000, Events{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SendAudio([]byte{1, 2, 3}))

	select {
	case data := <-received:
		assert.Equal(t, []byte{1, 2, 3}, data)
	case <-time.After(sessionWait):
		t.Fatal("service never received audio")
	}
}
