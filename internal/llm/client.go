// Package llm is the generative-text collaborator for the turn engine. Its
// Generate contract never fails: on upstream errors it returns a fixed
// apology carrying the hangup sentinel, with the attempted exchange still
// appended to the returned history.
package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/opencarelabs/medvoice/internal/history"
	"github.com/opencarelabs/medvoice/internal/metrics"
)

// HangupSentinel is the token a reply may contain to request termination.
const HangupSentinel = "HANGUPNOW"

// FallbackReply is spoken when the upstream model is unavailable.
const FallbackReply = "I'm sorry, I'm having trouble on my end right now. Please call back later. " + HangupSentinel

// Client generates conversational replies via a chat-completions API.
type Client struct {
	api          openai.Client
	model        string
	systemPrompt string
	maxTokens    int
}

// NewClient creates an LLM client. baseURL overrides the API endpoint when
// non-empty (for self-hosted OpenAI-compatible servers).
func NewClient(apiKey, baseURL, model, systemPrompt string, maxTokens int) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		api:          openai.NewClient(opts...),
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
	}
}

// Generate produces a reply to utterance given the prior history, and returns
// the history with the new exchange appended. It never returns an error: on
// failure the reply is FallbackReply, and the returned history still records
// what was attempted and what will actually be spoken.
func (c *Client) Generate(ctx context.Context, utterance string, hist []history.Utterance) (string, []history.Utterance) {
	start := time.Now()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(hist)+2)
	messages = append(messages, openai.SystemMessage(c.systemPrompt))
	for _, u := range hist {
		if u.Speaker == history.SpeakerUser {
			messages = append(messages, openai.UserMessage(u.Text))
		} else {
			messages = append(messages, openai.AssistantMessage(u.Text))
		}
	}
	messages = append(messages, openai.UserMessage(utterance))

	text := ""
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(c.maxTokens)),
	})
	switch {
	case err != nil:
		metrics.Errors.WithLabelValues("llm", "http").Inc()
		slog.Error("llm generate", "error", err)
		text = FallbackReply
	case len(resp.Choices) == 0:
		metrics.Errors.WithLabelValues("llm", "empty").Inc()
		slog.Error("llm generate", "error", "no choices in response")
		text = FallbackReply
	default:
		text = resp.Choices[0].Message.Content
	}

	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())

	updated := make([]history.Utterance, 0, len(hist)+2)
	updated = append(updated, hist...)
	updated = append(updated,
		history.Utterance{Speaker: history.SpeakerUser, Text: utterance},
		history.Utterance{Speaker: history.SpeakerSystem, Text: text},
	)
	return text, updated
}
