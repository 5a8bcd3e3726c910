package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/opencarelabs/medvoice/internal/calllog"
	"github.com/opencarelabs/medvoice/internal/convo"
	"github.com/opencarelabs/medvoice/internal/history"
	"github.com/opencarelabs/medvoice/internal/llm"
	"github.com/opencarelabs/medvoice/internal/stream"
	"github.com/opencarelabs/medvoice/internal/telephony"
	"github.com/opencarelabs/medvoice/internal/tts"
	"github.com/opencarelabs/medvoice/internal/webhooks"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	cfg := loadConfig()

	// Call-event log store is optional; without it the loggers are
	// nil-safe no-ops and the browsing API returns 503.
	var store *calllog.Store
	if cfg.databaseURL != "" {
		var err error
		store, err = calllog.Open(cfg.databaseURL)
		if err != nil {
			slog.Error("open call log store", "error", err)
			os.Exit(1)
		}
		slog.Info("call log store ready")
	} else {
		slog.Warn("DATABASE_URL not set, call logging disabled")
	}
	logger := calllog.NewLogger(store)

	phone, err := telephony.NewClient(telephony.Config{
		AccountSID: cfg.twilioAccountSID,
		AuthToken:  cfg.twilioAuthToken,
		From:       cfg.twilioFrom,
		BaseURL:    cfg.twilioAPIURL,
	})
	if err != nil {
		slog.Error("telephony client", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.audioDir, 0o755); err != nil {
		slog.Error("create audio dir", "dir", cfg.audioDir, "error", err)
		os.Exit(1)
	}

	llmClient := llm.NewClient(cfg.openaiAPIKey, cfg.openaiBaseURL, cfg.llmModel, cfg.llmSystem, cfg.llmMaxTokens)
	ttsClient := tts.NewClient(cfg.ttsURL, cfg.ttsVoice, cfg.publicBaseURL, cfg.audioDir, nil)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	histStore := history.NewMemoryStore(cfg.historyTTL)
	histStore.StartSweeper(sweepCtx, cfg.sweepInterval)

	engine := convo.NewEngine(histStore, llmClient, ttsClient, logger)

	dialer := websocket.DefaultDialer
	streamHandler := stream.NewHandler(func(ev stream.Events) (stream.Transcriber, error) {
		s, err := stream.Dial(dialer, cfg.transcribeURL, cfg.transcribeAPIKey, cfg.transcribeSampleRate, ev)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, logger)

	wh := webhooks.New(engine, phone, logger, cfg.publicBaseURL, cfg.sayVoice)
	api := webhooks.NewCallAPI(callStoreOrNil(store))

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		cfg:           cfg,
		webhooks:      wh,
		api:           api,
		streamHandler: streamHandler,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("medvoice starting", "addr", addr, "public_base_url", cfg.publicBaseURL)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	stopSweep()
	logger.Close()
	if store != nil {
		store.Close()
	}
	slog.Info("medvoice stopped")
}

// callStoreOrNil keeps the typed-nil *calllog.Store out of the CallStore
// interface value.
func callStoreOrNil(store *calllog.Store) webhooks.CallStore {
	if store == nil {
		return nil
	}
	return store
}
