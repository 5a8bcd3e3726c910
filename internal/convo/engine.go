// Package convo implements the conversation turn engine: the per-call state
// machine invoked once per spoken exchange. Each invocation must produce a
// valid directive for the telephony layer no matter what fails underneath.
package convo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencarelabs/medvoice/internal/calllog"
	"github.com/opencarelabs/medvoice/internal/history"
	"github.com/opencarelabs/medvoice/internal/llm"
	"github.com/opencarelabs/medvoice/internal/metrics"
)

const (
	// MaxRetries bounds re-prompts for a silent turn; the caller gets the
	// initial attempt plus MaxRetries retries before generation proceeds
	// with the no-speech sentinel.
	MaxRetries = 2

	// MaxTurns forces termination once the conversation reaches this turn.
	MaxTurns = 10

	// NoSpeechSentinel is sent to the generator when retries are exhausted
	// without any recognized speech.
	NoSpeechSentinel = "[no speech detected]"
)

// Fixed phrases spoken on the corresponding paths.
const (
	RetryPrompt     = "Sorry, I didn't catch that. Could you say that again?"
	ClosingMessage  = "Thanks for talking with me today. I'll let you go now. Take care, goodbye."
	ApologyMessage  = "I'm sorry, something went wrong on our end. Goodbye."
	GoodbyeFallback = "Okay, goodbye."
	IssueFallback   = "Sorry, I encountered an issue."
)

// Generator produces a reply and the updated history for one exchange.
// Implementations must not fail; see llm.Client for the contract.
type Generator interface {
	Generate(ctx context.Context, utterance string, hist []history.Utterance) (string, []history.Utterance)
}

// Synthesizer converts reply text to a playable audio URL.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, filename string) (string, error)
}

// EventLogger is the best-effort structured log sink.
type EventLogger interface {
	Event(callID string, rec calllog.Record)
	Error(callID string, err error, detail string)
}

// Action is what the telephony layer should do next.
type Action string

const (
	ActionRetry     Action = "retry"
	ActionContinue  Action = "continue"
	ActionTerminate Action = "terminate"
)

// Phase is the call's conversational phase after a directive is applied.
type Phase int

const (
	PhaseCollecting Phase = iota
	PhaseTerminated
)

// Request is one turn-engine invocation.
type Request struct {
	CallID string
	Speech string // empty means no speech was detected
	Retry  int    // round-tripped through the collection directive
}

// Directive tells the telephony layer how to answer the webhook. Text is
// always non-empty; AudioURL is set only when synthesis succeeded.
type Directive struct {
	Action    Action
	Phase     Phase
	Text      string
	AudioURL  string
	NextRetry int // retry counter for the next collection step
}

// Engine owns the retry, turn-limit, and termination policy for calls.
type Engine struct {
	hist  history.Store
	gen   Generator
	synth Synthesizer
	log   EventLogger
}

// NewEngine creates a turn engine. log may be nil.
func NewEngine(hist history.Store, gen Generator, synth Synthesizer, log EventLogger) *Engine {
	if log == nil {
		log = (*calllog.Logger)(nil)
	}
	return &Engine{hist: hist, gen: gen, synth: synth, log: log}
}

// Turn processes one spoken exchange. It never panics out: unexpected
// failures produce an apology-and-terminate directive so the telephony
// layer always receives a valid response.
func (e *Engine) Turn(ctx context.Context, req Request) (d Directive) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Errors.WithLabelValues("turn", "panic").Inc()
			e.log.Error(req.CallID, fmt.Errorf("turn engine: %v", r), "unexpected failure, terminating call")
			e.hist.Delete(req.CallID)
			d = Directive{
				Action: ActionTerminate,
				Phase:  PhaseTerminated,
				Text:   ApologyMessage,
			}
		}
	}()
	return e.turn(ctx, req)
}

func (e *Engine) turn(ctx context.Context, req Request) Directive {
	start := time.Now()
	speech := strings.TrimSpace(req.Speech)

	// Retries are sub-attempts within the same turn and never consult the
	// generator.
	if speech == "" && req.Retry < MaxRetries {
		metrics.TurnRetries.Inc()
		e.log.Event(req.CallID, calllog.Record{
			"event":   "retry",
			"attempt": req.Retry + 1,
		})
		return Directive{
			Action:    ActionRetry,
			Phase:     PhaseCollecting,
			Text:      RetryPrompt,
			NextRetry: req.Retry + 1,
		}
	}

	hist := e.hist.Get(req.CallID)
	turnNumber := len(hist)/2 + 1

	input := speech
	if input == "" {
		input = NoSpeechSentinel
	}

	replyText, updated := e.gen.Generate(ctx, input, hist)
	// Always adopt the generator's history, including on its fallback
	// paths, so the record matches what is actually spoken.
	e.hist.Replace(req.CallID, updated)

	terminate := false
	reason := ""
	text := replyText
	switch {
	case turnNumber >= MaxTurns:
		terminate = true
		reason = "turn_limit"
		text = ClosingMessage
	case strings.Contains(text, llm.HangupSentinel):
		terminate = true
		reason = "hangup_sentinel"
		text = strings.TrimSpace(strings.ReplaceAll(text, llm.HangupSentinel, ""))
	}

	if text == "" {
		if terminate {
			text = GoodbyeFallback
		} else {
			text = IssueFallback
		}
	}

	audioURL, synthErr := e.synth.Synthesize(ctx, text, uuid.NewString()+".wav")
	if synthErr != nil {
		// Degrade to a plain spoken-text directive.
		audioURL = ""
		e.log.Error(req.CallID, synthErr, "synthesis failed, falling back to spoken text")
	}

	rec := calllog.Record{
		"event":     "turn",
		"turn":      turnNumber,
		"attempt":   req.Retry,
		"input":     input,
		"model_out": replyText,
		"spoken":    text,
		"terminate": terminate,
	}
	if synthErr != nil {
		rec["synthesis_error"] = synthErr.Error()
	} else {
		rec["audio_url"] = audioURL
	}
	e.log.Event(req.CallID, rec)

	metrics.TurnsTotal.Inc()
	metrics.StageDuration.WithLabelValues("turn").Observe(time.Since(start).Seconds())

	if terminate {
		metrics.TurnsTerminated.WithLabelValues(reason).Inc()
		e.hist.Delete(req.CallID)
		return Directive{
			Action:   ActionTerminate,
			Phase:    PhaseTerminated,
			Text:     text,
			AudioURL: audioURL,
		}
	}

	return Directive{
		Action:    ActionContinue,
		Phase:     PhaseCollecting,
		Text:      text,
		AudioURL:  audioURL,
		NextRetry: 0,
	}
}
