package main

import (
	"os"
	"strconv"
	"time"

	"github.com/opencarelabs/medvoice/internal/prompts"
)

type config struct {
	port          string
	publicBaseURL string
	databaseURL   string

	openaiAPIKey  string
	openaiBaseURL string
	llmModel      string
	llmSystem     string
	llmMaxTokens  int

	ttsURL   string
	ttsVoice string
	audioDir string
	sayVoice string

	twilioAccountSID string
	twilioAuthToken  string
	twilioFrom       string
	twilioAPIURL     string

	transcribeURL        string
	transcribeAPIKey     string
	transcribeSampleRate int

	historyTTL    time.Duration
	sweepInterval time.Duration
}

func loadConfig() config {
	return config{
		port:          envStr("PORT", "8080"),
		publicBaseURL: envStr("PUBLIC_BASE_URL", "http://localhost:8080"),
		databaseURL:   envStr("DATABASE_URL", ""),

		openaiAPIKey:  envStr("OPENAI_API_KEY", ""),
		openaiBaseURL: envStr("OPENAI_BASE_URL", ""),
		llmModel:      envStr("LLM_MODEL", "gpt-4o-mini"),
		llmSystem:     envStr("LLM_SYSTEM_PROMPT", prompts.DefaultSystem),
		llmMaxTokens:  envInt("LLM_MAX_TOKENS", 150),

		ttsURL:   envStr("TTS_URL", "http://localhost:5100"),
		ttsVoice: envStr("TTS_VOICE", "en_US-lessac-medium"),
		audioDir: envStr("AUDIO_DIR", "./audio"),
		sayVoice: envStr("SAY_VOICE", "Polly.Joanna"),

		twilioAccountSID: envStr("TWILIO_ACCOUNT_SID", ""),
		twilioAuthToken:  envStr("TWILIO_AUTH_TOKEN", ""),
		twilioFrom:       envStr("TWILIO_FROM_NUMBER", ""),
		twilioAPIURL:     envStr("TWILIO_API_URL", ""),

		transcribeURL:        envStr("TRANSCRIBE_URL", "wss://streaming.assemblyai.com/v3/ws"),
		transcribeAPIKey:     envStr("TRANSCRIBE_API_KEY", ""),
		transcribeSampleRate: envInt("TRANSCRIBE_SAMPLE_RATE", 8000),

		historyTTL:    envDuration("HISTORY_TTL", 30*time.Minute),
		sweepInterval: envDuration("HISTORY_SWEEP_INTERVAL", 5*time.Minute),
	}
}

func envStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}
