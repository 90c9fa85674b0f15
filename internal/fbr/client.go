package fbr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://gw.fbr.gov.pk"

	validatePath  = "/di_data/v1/di/validateinvoicedata"
	postPath      = "/di_data/v1/di/postinvoicedata"
	sandboxSuffix = "_sb"

	maxResponseBytes = 1 << 20
)

// Environment selects the sandbox or production gateway endpoints.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

// ParseEnvironment maps a settings value onto an Environment, defaulting to sandbox.
func ParseEnvironment(s string) Environment {
	if strings.EqualFold(s, string(Production)) {
		return Production
	}
	return Sandbox
}

// Outcome discriminates the three ways a gateway exchange can end.
type Outcome string

const (
	OutcomeValid          Outcome = "valid"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeTransportError Outcome = "transport_error"
)

// Operation names a gateway endpoint.
type Operation string

const (
	OpValidate Operation = "validate"
	OpPost     Operation = "post"
)

// Response is the body returned by both gateway endpoints.
type Response struct {
	InvoiceNumber      string             `json:"invoiceNumber,omitempty"`
	Dated              string             `json:"dated,omitempty"`
	ValidationResponse ValidationResponse `json:"validationResponse"`
}

type ValidationResponse struct {
	StatusCode      string       `json:"statusCode"`
	Status          string       `json:"status"`
	ErrorCode       string       `json:"errorCode,omitempty"`
	Error           string       `json:"error,omitempty"`
	InvoiceStatuses []ItemStatus `json:"invoiceStatuses,omitempty"`
}

type ItemStatus struct {
	ItemSNo    string `json:"itemSNo"`
	StatusCode string `json:"statusCode"`
	Status     string `json:"status"`
	InvoiceNo  string `json:"invoiceNo,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SubmissionResult is the outcome of one validate or post call, including the payload sent.
type SubmissionResult struct {
	Operation   Operation       `json:"operation"`
	Success     bool            `json:"success"`
	Outcome     Outcome         `json:"outcome"`
	HTTPStatus  int             `json:"http_status,omitempty"`
	Response    *Response       `json:"response,omitempty"`
	RawResponse string          `json:"raw_response,omitempty"`
	Error       string          `json:"error,omitempty"`
	Payload     *InvoicePayload `json:"payload"`
	Attempts    int             `json:"attempts"`
}

// InvoiceNumber returns the authority-assigned number, if any.
func (r *SubmissionResult) InvoiceNumber() string {
	if r == nil || r.Response == nil {
		return ""
	}
	return r.Response.InvoiceNumber
}

// Gateway is the remote tax authority.
type Gateway interface {
	Validate(ctx context.Context, token string, payload *InvoicePayload) (*SubmissionResult, error)
	Post(ctx context.Context, token string, payload *InvoicePayload) (*SubmissionResult, error)
	Environment() Environment
}

// ClientConfig configures a gateway Client.
type ClientConfig struct {
	BaseURL      string
	Environment  Environment
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client talks to the FBR digital invoicing gateway.
type Client struct {
	baseURL    string
	env        Environment
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Environment == "" {
		cfg.Environment = Sandbox
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		env:        cfg.Environment,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		log:        log,
	}
}

func (c *Client) Environment() Environment {
	return c.env
}

// Endpoint returns the URL for op in the client's environment.
func (c *Client) Endpoint(op Operation) string {
	path := validatePath
	if op == OpPost {
		path = postPath
	}
	if c.env != Production {
		path += sandboxSuffix
	}
	return c.baseURL + path
}

// Validate dry-runs a payload. It never changes anything on the gateway, so any
// transient transport failure is retried.
func (c *Client) Validate(ctx context.Context, token string, payload *InvoicePayload) (*SubmissionResult, error) {
	return c.submit(ctx, OpValidate, token, payload)
}

// Post submits a payload for real. Retries are limited to failures where the gateway
// cannot have recorded the invoice.
func (c *Client) Post(ctx context.Context, token string, payload *InvoicePayload) (*SubmissionResult, error) {
	return c.submit(ctx, OpPost, token, payload)
}

func (c *Client) submit(ctx context.Context, op Operation, token string, payload *InvoicePayload) (*SubmissionResult, error) {
	if payload == nil {
		return nil, &MissingFieldError{Field: "payload"}
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invoice payload: %w", err)
	}

	url := c.Endpoint(op)
	result := &SubmissionResult{Operation: op, Payload: payload}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*c.backoff); err != nil {
				lastErr = fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
				break
			}
			c.log.Warn().
				Str("op", string(op)).
				Str("ref", payload.InvoiceRefNo).
				Int("attempt", attempt+1).
				Msg("retrying FBR request")
		}
		result.Attempts = attempt + 1

		status, raw, reqErr := c.do(ctx, url, token, body)
		result.HTTPStatus = status
		result.RawResponse = string(raw)

		if reqErr != nil {
			lastErr = fmt.Errorf("%w: %s %s: %w", ErrTransport, op, url, reqErr)
			if ctx.Err() != nil || !retryableError(op, reqErr) {
				break
			}
			continue
		}

		if status < 200 || status > 299 {
			lastErr = fmt.Errorf("%w: %s returned status %d%s", ErrTransport, op, status, errorSuffix(raw))
			if !retryableStatus(op, status) {
				break
			}
			continue
		}

		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
			break
		}
		result.Response = &resp
		interpret(result)

		c.log.Info().
			Str("op", string(op)).
			Str("ref", payload.InvoiceRefNo).
			Str("outcome", string(result.Outcome)).
			Str("fbr_invoice_number", resp.InvoiceNumber).
			Int("attempts", result.Attempts).
			Msg("FBR request completed")
		return result, nil
	}

	result.Success = false
	result.Outcome = OutcomeTransportError
	result.Error = lastErr.Error()

	c.log.Error().
		Err(lastErr).
		Str("op", string(op)).
		Str("ref", payload.InvoiceRefNo).
		Int("http_status", result.HTTPStatus).
		Int("attempts", result.Attempts).
		Msg("FBR request failed")
	return result, lastErr
}

func (c *Client) do(ctx context.Context, url, token string, body []byte) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, raw, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// interpret sets Success, Outcome and Error from a parsed 2xx body.
func interpret(r *SubmissionResult) {
	vr := r.Response.ValidationResponse

	var problems []string
	if vr.Error != "" {
		problems = append(problems, withCode(vr.ErrorCode, vr.Error))
	}
	invalid := strings.EqualFold(vr.Status, "Invalid") || vr.StatusCode == "01"
	for _, is := range vr.InvoiceStatuses {
		if strings.EqualFold(is.Status, "Invalid") || is.StatusCode == "01" {
			invalid = true
			if is.Error != "" {
				problems = append(problems, fmt.Sprintf("item %s: %s", is.ItemSNo, withCode(is.ErrorCode, is.Error)))
			}
		}
	}

	if invalid {
		r.Success = false
		r.Outcome = OutcomeInvalid
		r.Error = strings.Join(problems, "; ")
		if r.Error == "" {
			r.Error = "FBR rejected the invoice"
		}
		return
	}

	r.Success = true
	r.Outcome = OutcomeValid
	r.Error = ""
}

func withCode(code, msg string) string {
	if code == "" {
		return msg
	}
	return code + ": " + msg
}

func errorSuffix(raw []byte) string {
	var resp Response
	if json.Unmarshal(raw, &resp) == nil && resp.ValidationResponse.Error != "" {
		return ": " + resp.ValidationResponse.Error
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return ""
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return ": " + s
}

func retryableStatus(op Operation, status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return op == OpValidate
	}
	return false
}

func retryableError(op Operation, err error) bool {
	if op == OpValidate {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
