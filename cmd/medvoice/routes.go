package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opencarelabs/medvoice/internal/webhooks"
)

type deps struct {
	cfg           config
	webhooks      *webhooks.Handlers
	api           *webhooks.CallAPI
	streamHandler http.Handler
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("POST /calls", d.webhooks.HandleInitiate)
	mux.HandleFunc("POST /webhooks/answered", d.webhooks.HandleAnswered)
	mux.HandleFunc("POST /webhooks/turn", d.webhooks.HandleTurn)
	mux.HandleFunc("POST /webhooks/status", d.webhooks.HandleStatus)
	mux.HandleFunc("POST /webhooks/recording", d.webhooks.HandleRecording)

	mux.Handle("GET /media", d.streamHandler)
	mux.Handle("GET /audio/", http.StripPrefix("/audio/", http.FileServer(http.Dir(d.cfg.audioDir))))

	mux.HandleFunc("GET /api/calls", d.api.HandleListCalls)
	mux.HandleFunc("GET /api/calls/{callId}", d.api.HandleCallEvents)

	mux.HandleFunc("/health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
