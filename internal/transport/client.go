package transport

import (
	"bytes"
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

	"github.com/google/uuid"
)

const defaultMaxResponseBytes = 4 << 20

// Credential is the bearer token in effect when a request is built, with the
// session generation it belongs to.
type Credential struct {
	Token      string
	Generation uint64
}

// Unauthorized describes a 401 seen on an authenticated request.
type Unauthorized struct {
	Method string
	Path   string
	// Generation is the session generation the rejected token belonged to.
	Generation uint64
	HadToken   bool
}

// Observation is reported once per request for metrics.
type Observation struct {
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Config holds configuration for creating a [Client].
type Config struct {
	// BaseURL is the API root including any prefix, e.g.
	// "http://localhost:8000/api".
	BaseURL string
	// HTTPClient is used for all requests. If nil, a client without its own
	// timeout is created; per-request deadlines come from Timeout.
	HTTPClient *http.Client
	// Timeout bounds every request. Zero disables the per-request deadline.
	Timeout          time.Duration
	UserAgent        string
	MaxResponseBytes int64
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Credentials returns the token to attach. Nil means never attach one.
	Credentials func() Credential
	// OnUnauthorized runs synchronously before the 401 error is returned.
	OnUnauthorized func(ctx context.Context, u Unauthorized)
	// Observe receives one observation per request.
	Observe func(Observation)
}

// Request is one call to the backend.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// Exchange marks credential exchange calls (login, signup). A 401 there
	// means the submitted credentials were rejected, not the session token,
	// so the global 401 hook does not run.
	Exchange bool
}

// Client is the single request path to the backend. It is safe for
// concurrent use.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	timeout          time.Duration
	userAgent        string
	maxResponseBytes int64
	logger           *slog.Logger
	credentials      func() Credential
	onUnauthorized   func(context.Context, Unauthorized)
	observe          func(Observation)
}

// New creates a Client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("transport: BaseURL is required")
	}
	parsed, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("transport: BaseURL %q must be http or https", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := config.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	return &Client{
		baseURL:          strings.TrimRight(config.BaseURL, "/"),
		httpClient:       httpClient,
		timeout:          config.Timeout,
		userAgent:        config.UserAgent,
		maxResponseBytes: maxBytes,
		logger:           logger,
		credentials:      config.Credentials,
		onUnauthorized:   config.OnUnauthorized,
		observe:          config.Observe,
	}, nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req and decodes a 2xx JSON body into out (which may be nil).
// Non-2xx answers return *StatusError; missing answers return *NetworkError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	start := time.Now()
	status, err := c.do(ctx, req, out)
	if c.observe != nil {
		c.observe(Observation{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: status,
			Duration:   time.Since(start),
			Err:        err,
		})
	}
	return err
}

func (c *Client) do(ctx context.Context, req Request, out any) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	requestURL := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		requestURL += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return 0, fmt.Errorf("transport: encoding %s %s body: %w", req.Method, req.Path, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, req.Method, requestURL, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("transport: building %s %s: %w", req.Method, req.Path, err)
	}

	requestID := uuid.NewString()
	httpRequest.Header.Set("Accept", "application/json")
	httpRequest.Header.Set("X-Request-ID", requestID)
	if req.Body != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		httpRequest.Header.Set("User-Agent", c.userAgent)
	}

	var credential Credential
	if c.credentials != nil {
		credential = c.credentials()
	}
	if credential.Token != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+credential.Token)
	}

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		c.logger.Debug("backend request failed",
			"method", req.Method,
			"path", req.Path,
			"request_id", requestID,
			"error", err,
		)
		return 0, &NetworkError{Method: req.Method, Path: req.Path, Err: err}
	}
	defer response.Body.Close()

	body, err := c.readBody(response.Body)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return response.StatusCode, fmt.Errorf("transport: %s %s: %w", req.Method, req.Path, err)
		}
		return response.StatusCode, &NetworkError{Method: req.Method, Path: req.Path, Err: err}
	}

	c.logger.Debug("backend request",
		"method", req.Method,
		"path", req.Path,
		"status", response.StatusCode,
		"request_id", requestID,
	)

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		if out == nil || len(bytes.TrimSpace(body)) == 0 {
			return response.StatusCode, nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return response.StatusCode, fmt.Errorf("transport: %s %s: %w: %v", req.Method, req.Path, ErrMalformedResponse, err)
		}
		return response.StatusCode, nil
	}

	statusErr := &StatusError{
		StatusCode: response.StatusCode,
		Detail:     parseDetail(body),
		Method:     req.Method,
		Path:       req.Path,
	}

	if response.StatusCode == http.StatusUnauthorized && !req.Exchange && c.onUnauthorized != nil {
		c.onUnauthorized(ctx, Unauthorized{
			Method:     req.Method,
			Path:       req.Path,
			Generation: credential.Generation,
			HadToken:   credential.Token != "",
		})
	}

	return response.StatusCode, statusErr
}

func (c *Client) readBody(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, c.maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxResponseBytes {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

// parseDetail extracts the backend's error reason. The API answers
// {"detail": "..."} for handled errors and {"detail": [{"msg": ...}]} for
// request validation failures; anything else is returned trimmed.
func parseDetail(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil || len(envelope.Detail) == 0 {
		if len(trimmed) > 200 {
			trimmed = trimmed[:200]
		}
		return string(trimmed)
	}

	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		return text
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		messages := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				messages = append(messages, item.Msg)
			}
		}
		return strings.Join(messages, "; ")
	}
	return string(envelope.Detail)
}
