// Package webhooks implements the call lifecycle handlers: outbound call
// initiation, answer-classification branching, the conversation turn
// webhook, and the status-driven SMS fallback. Every telephony-facing
// handler answers with valid call-directive XML no matter what fails.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/opencarelabs/medvoice/internal/calllog"
	"github.com/opencarelabs/medvoice/internal/convo"
	"github.com/opencarelabs/medvoice/internal/metrics"
	"github.com/opencarelabs/medvoice/internal/prompts"
	"github.com/opencarelabs/medvoice/internal/telephony"
	"github.com/opencarelabs/medvoice/internal/twiml"
)

const ringTimeoutSeconds = 30

// Telephony is the provider REST surface the handlers depend on.
type Telephony interface {
	PlaceCall(ctx context.Context, params telephony.PlaceCallParams) (*telephony.Call, error)
	SendSMS(ctx context.Context, to, body string) error
}

// TurnEngine processes one spoken exchange.
type TurnEngine interface {
	Turn(ctx context.Context, req convo.Request) convo.Directive
}

// EventLogger records call events best-effort.
type EventLogger interface {
	Event(callID string, rec calllog.Record)
	Error(callID string, err error, detail string)
}

// Handlers holds the webhook endpoints.
type Handlers struct {
	engine  TurnEngine
	phone   Telephony
	log     EventLogger
	baseURL string // public HTTPS base, no trailing slash
	voice   string
}

func New(engine TurnEngine, phone Telephony, log EventLogger, publicBaseURL, voice string) *Handlers {
	if log == nil {
		log = (*calllog.Logger)(nil)
	}
	return &Handlers{
		engine:  engine,
		phone:   phone,
		log:     log,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		voice:   voice,
	}
}

type initiateRequest struct {
	To          string `json:"to"`
	PatientName string `json:"patient_name"`
	Medication  string `json:"medication"`
}

// HandleInitiate places an outbound reminder call.
// POST /calls
func (h *Handlers) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.To == "" {
		http.Error(w, "to is required", http.StatusBadRequest)
		return
	}

	q := url.Values{}
	q.Set("patient", req.PatientName)
	q.Set("medication", req.Medication)

	call, err := h.phone.PlaceCall(r.Context(), telephony.PlaceCallParams{
		To:               req.To,
		AnswerURL:        h.baseURL + "/webhooks/answered?" + q.Encode(),
		StatusCallback:   h.baseURL + "/webhooks/status",
		MachineDetection: true,
		Timeout:          ringTimeoutSeconds,
	})
	if err != nil {
		slog.Error("place call", "to", req.To, "error", err)
		metrics.Errors.WithLabelValues("telephony", "place_call").Inc()
		http.Error(w, "failed to place call", http.StatusBadGateway)
		return
	}

	metrics.CallsPlaced.Inc()
	h.log.Event(call.SID, calllog.Record{
		"event":      "call_placed",
		"to":         req.To,
		"medication": req.Medication,
	})
	slog.Info("call placed", "call_sid", call.SID, "to", req.To)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"call_sid": call.SID, "status": call.Status})
}

// HandleAnswered branches on the provider's answer classification.
// POST /webhooks/answered
func (h *Handlers) HandleAnswered(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	to := r.FormValue("To")
	patient := r.URL.Query().Get("patient")
	medication := r.URL.Query().Get("medication")

	ans := telephony.ParseAnsweredBy(r.FormValue("AnsweredBy"))
	h.log.Event(callSid, calllog.Record{"event": "answered", "answered_by": ans.Raw})
	slog.Info("call answered", "call_sid", callSid, "answered_by", ans.Raw)

	resp := &twiml.Response{}
	switch ans.Kind {
	case telephony.AnsweredMachineBeep:
		// Leave the reminder on voicemail.
		resp.Append(
			&twiml.Say{Voice: h.voice, Text: prompts.Voicemail(patient, medication)},
			&twiml.Hangup{},
		)
	case telephony.AnsweredMachineSilence, telephony.AnsweredMachineOther, telephony.AnsweredFax:
		h.sendReminderSMS(r.Context(), callSid, to)
		resp.Append(&twiml.Hangup{})
	default:
		// Human, unknown, or an unrecognized classification: talk to them.
		resp.Append(
			&twiml.Start{Stream: &twiml.Stream{URL: h.mediaStreamURL()}},
			h.gather(0, &twiml.Say{Voice: h.voice, Text: prompts.Greeting(patient, medication)}),
			&twiml.Say{Voice: h.voice, Text: convo.GoodbyeFallback},
			&twiml.Hangup{},
		)
	}
	twiml.Write(w, resp)
}

// HandleTurn runs the conversation turn engine for one exchange.
// POST /webhooks/turn?retry=N
func (h *Handlers) HandleTurn(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	speech := r.FormValue("SpeechResult")
	retry, _ := strconv.Atoi(r.URL.Query().Get("retry"))

	d := h.engine.Turn(r.Context(), convo.Request{CallID: callSid, Speech: speech, Retry: retry})

	resp := &twiml.Response{}
	switch d.Action {
	case convo.ActionRetry:
		resp.Append(
			h.gather(d.NextRetry, &twiml.Say{Voice: h.voice, Text: d.Text}),
			&twiml.Say{Voice: h.voice, Text: convo.GoodbyeFallback},
			&twiml.Hangup{},
		)
	case convo.ActionContinue:
		resp.Append(
			h.speak(d),
			h.gather(0, nil),
			&twiml.Say{Voice: h.voice, Text: convo.GoodbyeFallback},
			&twiml.Hangup{},
		)
	default: // terminate
		resp.Append(h.speak(d), &twiml.Hangup{})
	}
	twiml.Write(w, resp)
}

// HandleStatus reacts to call status transitions; unreachable calls fall
// back to SMS.
// POST /webhooks/status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	to := r.FormValue("To")

	h.log.Event(callSid, calllog.Record{"event": "status", "status": status})
	slog.Info("call status", "call_sid", callSid, "status", status)

	switch status {
	case "busy", "no-answer", "failed":
		h.sendReminderSMS(r.Context(), callSid, to)
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRecording records the recording-completion notification.
// POST /webhooks/recording
func (h *Handlers) HandleRecording(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	h.log.Event(callSid, calllog.Record{
		"event":         "recording_complete",
		"recording_url": r.FormValue("RecordingUrl"),
		"duration":      r.FormValue("RecordingDuration"),
	})
	w.WriteHeader(http.StatusNoContent)
}

// speak returns a Play verb when synthesis produced audio, a Say otherwise.
func (h *Handlers) speak(d convo.Directive) any {
	if d.AudioURL != "" {
		return &twiml.Play{URL: d.AudioURL}
	}
	return &twiml.Say{Voice: h.voice, Text: d.Text}
}

// gather collects the next utterance; empty results still post back so the
// engine owns the retry policy.
func (h *Handlers) gather(retry int, prompt *twiml.Say) *twiml.Gather {
	return &twiml.Gather{
		Input:               "speech",
		Action:              fmt.Sprintf("%s/webhooks/turn?retry=%d", h.baseURL, retry),
		Method:              http.MethodPost,
		SpeechTimeout:       "auto",
		ActionOnEmptyResult: true,
		Say:                 prompt,
	}
}

func (h *Handlers) mediaStreamURL() string {
	u := h.baseURL + "/media"
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

func (h *Handlers) sendReminderSMS(ctx context.Context, callSid, to string) {
	if to == "" {
		return
	}
	if err := h.phone.SendSMS(ctx, to, prompts.SMSReminder); err != nil {
		slog.Warn("sms fallback", "call_sid", callSid, "error", err)
		metrics.Errors.WithLabelValues("telephony", "send_sms").Inc()
		return
	}
	metrics.SMSFallbacks.Inc()
	h.log.Event(callSid, calllog.Record{"event": "sms_fallback", "to": to})
}
