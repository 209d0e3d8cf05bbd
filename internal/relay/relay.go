// Package relay posts contact submissions to a hosted form endpoint.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mihretab/portfolio/internal/chat"
)

// DefaultEndpoint is the Formspree form the portfolio posts to.
const DefaultEndpoint = "https://formspree.io/f/xanbnewg"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// ErrStatus is wrapped by Send when the endpoint answers outside 2xx.
var ErrStatus = errors.New("form endpoint rejected submission")

// Form is one contact form payload.
type Form struct {
	Name    string
	Email   string
	Message string
}

// Client relays forms to a single endpoint. It never retries.
type Client struct {
	endpoint string
	http     *http.Client
	log      *slog.Logger
}

// NewClient creates a relay client. A zero timeout leaves the request
// bounded only by the caller's context.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		log:      logger,
	}
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// formspreeError is the JSON error document Formspree returns.
type formspreeError struct {
	Error  string `json:"error"`
	Errors []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send posts the form once. It returns the HTTP status code (0 when no
// response arrived) and an error for transport failures or non-2xx answers.
func (c *Client) Send(ctx context.Context, f Form) (int, error) {
	body := url.Values{}
	body.Set("name", f.Name)
	body.Set("email", f.Email)
	body.Set("message", f.Message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post form: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.Debug("relay: failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody)); err != nil {
			c.log.Debug("relay: failed to drain response body", "error", err)
		}
		return resp.StatusCode, nil
	}

	detail := readErrorDetail(resp.Body)
	if detail != "" {
		return resp.StatusCode, fmt.Errorf("%w: status %d: %s", ErrStatus, resp.StatusCode, detail)
	}
	return resp.StatusCode, fmt.Errorf("%w: status %d", ErrStatus, resp.StatusCode)
}

func readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}

	var doc formspreeError
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}

	var parts []string
	if doc.Error != "" {
		parts = append(parts, doc.Error)
	}
	for _, e := range doc.Errors {
		if e.Message == "" {
			continue
		}
		if e.Field != "" {
			parts = append(parts, e.Field+": "+e.Message)
		} else {
			parts = append(parts, e.Message)
		}
	}
	return strings.Join(parts, "; ")
}

// Submit implements chat.Submitter.
func (c *Client) Submit(ctx context.Context, s chat.Submission) chat.Result {
	start := time.Now()
	status, err := c.Send(ctx, Form{Name: s.Name, Email: s.Email, Message: s.Transcript})
	if err != nil {
		c.log.Warn("Conversation relay failed",
			"status_code", status,
			"duration", time.Since(start),
			"error", err,
		)
		return chat.Failed(status, err)
	}

	c.log.Info("Conversation relayed",
		"status_code", status,
		"duration", time.Since(start),
		"transcript_length", len(s.Transcript),
	)
	return chat.Succeeded(status)
}

var _ chat.Submitter = (*Client)(nil)
