// Package clinicapi is a typed HTTP client for the clinical backend: slot
// availability, appointment commands, the doctor directory, and OTP-gated
// card payments. All failures are classified into the recovery taxonomy in
// errors.go so the workflow state machines can react without inspecting
// HTTP details.
package clinicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/heartlinehq/patientflow/pkg/logging"
)

const defaultTimeout = 15 * time.Second

// Client talks to the clinical backend REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a backend client. token is sent as a bearer credential
// on every request.
func NewClient(baseURL, token string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

// SetTimeout overrides the default request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// do issues one JSON request and decodes the response into out (unless out
// is nil). Non-2xx responses are classified into *Error; transport failures
// come back as KindTransient.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, header http.Header) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("clinicapi: marshal %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("clinicapi: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err := json.Unmarshal(raw, &eb); err != nil || eb.Message == "" {
			// Some proxies answer with plain text.
			if eb.Message == "" {
				eb.Message = strings.TrimSpace(string(raw))
			}
		}
		apiErr := classify(resp.StatusCode, eb)
		c.logger.Warn("clinic api call failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"kind", apiErr.Kind.String(),
		)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindTransient, Message: fmt.Sprintf("decode %s %s: %v", method, path, err)}
	}
	return nil
}
