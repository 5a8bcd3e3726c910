package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencarelabs/medvoice/internal/calllog"
	"github.com/opencarelabs/medvoice/internal/history"
	"github.com/opencarelabs/medvoice/internal/llm"
)

// fakeGenerator echoes a scripted reply and appends the exchange, matching
// the llm.Client contract.
type fakeGenerator struct {
	reply string
	calls int
	last  string
	panic bool
}

func (g *fakeGenerator) Generate(_ context.Context, utterance string, hist []history.Utterance) (string, []history.Utterance) {
	if g.panic {
		panic("generator exploded")
	}
	g.calls++
	g.last = utterance
	updated := append(append([]history.Utterance{}, hist...),
		history.Utterance{Speaker: history.SpeakerUser, Text: utterance},
		history.Utterance{Speaker: history.SpeakerSystem, Text: g.reply},
	)
	return g.reply, updated
}

type fakeSynth struct {
	err   error
	calls int
	last  string
}

func (s *fakeSynth) Synthesize(_ context.Context, text, filename string) (string, error) {
	s.calls++
	s.last = text
	if s.err != nil {
		return "", s.err
	}
	return "https://calls.example.com/audio/" + filename, nil
}

type recordedLog struct {
	events []calllog.Record
	errs   []string
}

func (l *recordedLog) Event(_ string, rec calllog.Record) { l.events = append(l.events, rec) }
func (l *recordedLog) Error(_ string, err error, detail string) {
	l.errs = append(l.errs, fmt.Sprintf("%v: %s", err, detail))
}

func newTestEngine(gen Generator, synth Synthesizer) (*Engine, *history.MemoryStore, *recordedLog) {
	hist := history.NewMemoryStore(0)
	log := &recordedLog{}
	return NewEngine(hist, gen, synth, log), hist, log
}

func TestRetryBound(t *testing.T) {
	// P1: empty speech yields exactly MaxRetries retry directives before
	// generation proceeds with the no-speech sentinel.
	gen := &fakeGenerator{reply: "Is everything alright?"}
	e, _, _ := newTestEngine(gen, &fakeSynth{})

	retry := 0
	for i := 0; i < MaxRetries; i++ {
		d := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "", Retry: retry})
		assert.Equal(t, ActionRetry, d.Action)
		assert.Equal(t, retry+1, d.NextRetry)
		assert.Equal(t, RetryPrompt, d.Text)
		retry = d.NextRetry
	}
	assert.Equal(t, 0, gen.calls)

	d := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "", Retry: retry})
	assert.Equal(t, ActionContinue, d.Action)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, NoSpeechSentinel, gen.last)
}

func TestTurnMonotonicity(t *testing.T) {
	// P2: completed turns advance the turn number by exactly 1, retries do not.
	gen := &fakeGenerator{reply: "Noted."}
	e, hist, log := newTestEngine(gen, &fakeSynth{})

	for k := 0; k < 3; k++ {
		// A retry inside the turn must not affect accounting.
		e.Turn(context.Background(), Request{CallID: "CA1", Speech: "", Retry: 0})
		e.Turn(context.Background(), Request{CallID: "CA1", Speech: "still here", Retry: 1})
		assert.Len(t, hist.Get("CA1"), (k+1)*2)
	}

	var turnNumbers []int
	for _, rec := range log.events {
		if rec["event"] == "turn" {
			turnNumbers = append(turnNumbers, rec["turn"].(int))
		}
	}
	assert.Equal(t, []int{1, 2, 3}, turnNumbers)
}

func TestForcedTerminationAtTurnLimit(t *testing.T) {
	// P3: at the turn limit the fixed closing message overrides the model.
	gen := &fakeGenerator{reply: "Let me tell you much more about that!"}
	e, hist, _ := newTestEngine(gen, &fakeSynth{})

	// Seed history so the next turn is MaxTurns.
	seeded := make([]history.Utterance, 0, (MaxTurns-1)*2)
	for i := 0; i < MaxTurns-1; i++ {
		seeded = append(seeded,
			history.Utterance{Speaker: history.SpeakerUser, Text: "u"},
			history.Utterance{Speaker: history.SpeakerSystem, Text: "s"},
		)
	}
	hist.Replace("CA1", seeded)

	d := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "and another thing", Retry: 0})
	assert.Equal(t, ActionTerminate, d.Action)
	assert.Equal(t, ClosingMessage, d.Text)
}

func TestSentinelStripping(t *testing.T) {
	// P4: the hangup sentinel never reaches the spoken text.
	gen := &fakeGenerator{reply: "Glad to hear it. Take care! " + llm.HangupSentinel}
	synth := &fakeSynth{}
	e, _, _ := newTestEngine(gen, synth)

	d := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "I took it", Retry: 0})
	assert.Equal(t, ActionTerminate, d.Action)
	assert.NotContains(t, d.Text, llm.HangupSentinel)
	assert.Equal(t, "Glad to hear it. Take care!", d.Text)
	assert.NotContains(t, synth.last, llm.HangupSentinel)
}

func TestHistoryDeletedOnTerminate(t *testing.T) {
	// P5: after termination the next invocation starts at turn 1.
	gen := &fakeGenerator{reply: "Bye. " + llm.HangupSentinel}
	e, hist, log := newTestEngine(gen, &fakeSynth{})

	d := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "goodbye", Retry: 0})
	require.Equal(t, ActionTerminate, d.Action)
	assert.Nil(t, hist.Get("CA1"))

	gen.reply = "Hello again."
	e.Turn(context.Background(), Request{CallID: "CA1", Speech: "hi", Retry: 0})
	var lastTurn int
	for _, rec := range log.events {
		if rec["event"] == "turn" {
			lastTurn = rec["turn"].(int)
		}
	}
	assert.Equal(t, 1, lastTurn)
}

func TestHappyPath(t *testing.T) {
	gen := &fakeGenerator{reply: "Great, thank you!"}
	synth := &fakeSynth{}
	e, hist, _ := newTestEngine(gen, synth)

	d := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "Yes I took my medication", Retry: 0})
	assert.Equal(t, ActionContinue, d.Action)
	assert.Equal(t, PhaseCollecting, d.Phase)
	assert.Equal(t, "Great, thank you!", d.Text)
	assert.True(t, strings.HasPrefix(d.AudioURL, "https://calls.example.com/audio/"))
	assert.Equal(t, 0, d.NextRetry)
	assert.Len(t, hist.Get("CA1"), 2)
}

func TestSynthesisFailureFallsBackToText(t *testing.T) {
	gen := &fakeGenerator{reply: "Great, thank you!"}
	e, _, log := newTestEngine(gen, &fakeSynth{err: errors.New("sidecar down")})

	d := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "yes", Retry: 0})
	assert.Equal(t, ActionContinue, d.Action)
	assert.Empty(t, d.AudioURL)
	assert.Equal(t, "Great, thank you!", d.Text)
	require.Len(t, log.errs, 1)
	assert.Contains(t, log.errs[0], "sidecar down")
}

func TestEmptyReplyFallbacks(t *testing.T) {
	gen := &fakeGenerator{reply: ""}
	e, _, _ := newTestEngine(gen, &fakeSynth{})
	d := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "hello", Retry: 0})
	assert.Equal(t, IssueFallback, d.Text)

	gen2 := &fakeGenerator{reply: llm.HangupSentinel}
	e2, _, _ := newTestEngine(gen2, &fakeSynth{})
	d = e2.Turn(context.Background(), Request{CallID: "CA2", Speech: "bye", Retry: 0})
	assert.Equal(t, ActionTerminate, d.Action)
	assert.Equal(t, GoodbyeFallback, d.Text)
}

func TestPanicProducesApologyTerminate(t *testing.T) {
	gen := &fakeGenerator{panic: true}
	e, hist, log := newTestEngine(gen, &fakeSynth{})
	hist.Replace("CA1", []history.Utterance{{Speaker: history.SpeakerUser, Text: "x"}})

	d := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "hello", Retry: 0})
	assert.Equal(t, ActionTerminate, d.Action)
	assert.Equal(t, ApologyMessage, d.Text)
	assert.Nil(t, hist.Get("CA1"))
	require.Len(t, log.errs, 1)
	assert.Contains(t, log.errs[0], "generator exploded")
}

func TestSilenceExhaustsRetriesScenario(t *testing.T) {
	// Three consecutive silent invocations: two retries, then generation.
	gen := &fakeGenerator{reply: "I'll try again later."}
	e, _, _ := newTestEngine(gen, &fakeSynth{})

	d1 := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "", Retry: 0})
	d2 := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "", Retry: d1.NextRetry})
	d3 := e.Turn(context.Background(), Request{CallID: "CA1", Speech: "", Retry: d2.NextRetry})

	assert.Equal(t, ActionRetry, d1.Action)
	assert.Equal(t, 1, d1.NextRetry)
	assert.Equal(t, ActionRetry, d2.Action)
	assert.Equal(t, 2, d2.NextRetry)
	assert.Equal(t, ActionContinue, d3.Action)
	assert.Equal(t, NoSpeechSentinel, gen.last)
}
