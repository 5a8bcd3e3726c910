// Package telephony wraps the call provider's REST API: placing outbound
// calls with machine detection and sending fallback SMS messages.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Call is the provider's call resource.
type Call struct {
	SID        string `json:"sid"`
	To         string `json:"to"`
	From       string `json:"from"`
	Status     string `json:"status"`
	AnsweredBy string `json:"answered_by"`
}

// Client is a provider REST API client.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	from       string
	httpClient *http.Client
}

// Config configures the telephony client.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	From       string
	HTTPClient *http.Client
}

// NewClient creates a telephony client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("telephony: account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("telephony: auth token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com/2010-04-01"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    cfg.BaseURL,
		from:       cfg.From,
		httpClient: cfg.HTTPClient,
	}, nil
}

// PlaceCallParams are the parameters for an outbound call.
type PlaceCallParams struct {
	To               string
	AnswerURL        string // webhook invoked when the call is answered
	StatusCallback   string // webhook invoked on status transitions
	MachineDetection bool
	Timeout          int // ring timeout in seconds
}

// PlaceCall initiates an outbound call.
func (c *Client) PlaceCall(ctx context.Context, params PlaceCallParams) (*Call, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", params.To)
	data.Set("From", c.from)
	data.Set("Url", params.AnswerURL)
	if params.StatusCallback != "" {
		data.Set("StatusCallback", params.StatusCallback)
		for _, ev := range []string{"completed", "busy", "no-answer", "failed"} {
			data.Add("StatusCallbackEvent", ev)
		}
	}
	if params.MachineDetection {
		data.Set("MachineDetection", "Enable")
	}
	if params.Timeout > 0 {
		data.Set("Timeout", strconv.Itoa(params.Timeout))
	}

	var call Call
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		return nil, fmt.Errorf("place call: %w", err)
	}
	return &call, nil
}

// SendSMS sends a text message from the configured number.
func (c *Client) SendSMS(ctx context.Context, to, body string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", c.from)
	data.Set("Body", body)

	if err := c.post(ctx, endpoint, data, nil); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
