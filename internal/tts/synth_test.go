package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeWritesFileAndReturnsURL(t *testing.T) {
	var gotReq struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/synthesize", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte("RIFFfakewav"))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	c := NewClient(srv.URL, "en_US-lessac-low", "https://calls.example.com", dir, nil)

	url, err := c.Synthesize(context.Background(), "Great, thank you!", "abc.wav")
	require.NoError(t, err)
	assert.Equal(t, "https://calls.example.com/audio/abc.wav", url)
	assert.Equal(t, "Great, thank you!", gotReq.Text)
	assert.Equal(t, "en_US-lessac-low", gotReq.Voice)

	data, err := os.ReadFile(filepath.Join(dir, "abc.wav"))
	require.NoError(t, err)
	assert.Equal(t, "RIFFfakewav", string(data))
}

func TestSynthesizeUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "voice", "https://calls.example.com", t.TempDir(), nil)
	_, err := c.Synthesize(context.Background(), "hello", "x.wav")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestSynthesizeStorageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("RIFF"))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "voice", "https://calls.example.com", "/nonexistent/audio/dir", nil)
	_, err := c.Synthesize(context.Background(), "hello", "x.wav")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
}
