package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_outbound_placed_total",
		Help: "Outbound reminder calls placed",
	})

	TurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_completed_total",
		Help: "Completed conversation turns (retries excluded)",
	})

	TurnRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turn_retries_total",
		Help: "Re-prompt directives issued for silent turns",
	})

	TurnsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turn_terminations_total",
		Help: "Call terminations by reason",
	}, []string{"reason"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "turn_stage_duration_seconds",
		Help:    "Per-stage latency within a turn",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_connections_active",
		Help: "Currently open media-stream connections",
	})

	StreamFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_media_frames_total",
		Help: "Media frames received over stream connections",
	})

	TranscriptFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_transcript_flushes_total",
		Help: "Final transcripts flushed at session close",
	})

	SMSFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_sms_fallbacks_total",
		Help: "SMS reminders sent when a call could not be completed",
	})
)
