package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flowgate/internal/domain"
	"flowgate/internal/infra"
)

// StatusError reports a non-2xx upstream response. 4xx responses are
// terminal (the request itself is bad, retrying cannot help); 5xx responses
// are transient.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.Code, e.Message)
}

// Transient reports whether the failure may resolve on retry.
func (e *StatusError) Transient() bool {
	return e.Code >= 500
}

// Transient classifies any error from this client. Network failures and
// timeouts are transient; 4xx status errors are terminal.
func Transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	// Deadline or network-level failure on an individual call.
	return true
}

// Options configures the Flow/Labs client.
type Options struct {
	LabsBaseURL    string
	APIBaseURL     string
	AuthToken      string
	ProxyURL       string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Flow/Labs generation provider. It
// implements no retry policy; that lives in the orchestrator. The only state
// it holds is the bearer token, which is fetched lazily from the Labs session
// endpoint when no static token is configured.
type Client struct {
	labsBaseURL string
	apiBaseURL  string
	httpClient  *http.Client
	logger      *infra.Logger

	mu        sync.Mutex
	authToken string
}

// PollResult is the normalized outcome of one poll call.
type PollResult struct {
	Done     bool
	MediaURL string
	MIME     string
}

type submitRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type submitResponse struct {
	OperationName string `json:"operation_name"`
	Error         struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
}

type pollResponse struct {
	Status string `json:"status"`
	Media  struct {
		URL  string `json:"url"`
		MIME string `json:"mime_type"`
	} `json:"media"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		transport := http.DefaultTransport
		if proxyURL := strings.TrimSpace(opts.ProxyURL); proxyURL != "" {
			parsed, err := url.Parse(proxyURL)
			if err != nil {
				return nil, fmt.Errorf("upstream: invalid proxy url: %w", err)
			}
			base, ok := http.DefaultTransport.(*http.Transport)
			if !ok {
				base = &http.Transport{}
			}
			cloned := base.Clone()
			cloned.Proxy = http.ProxyURL(parsed)
			transport = cloned
		}
		httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}
	labsBaseURL := strings.TrimRight(opts.LabsBaseURL, "/")
	if labsBaseURL == "" {
		labsBaseURL = "https://labs.google/fx/api"
	}
	apiBaseURL := strings.TrimRight(opts.APIBaseURL, "/")
	if apiBaseURL == "" {
		apiBaseURL = "https://aisandbox-pa.googleapis.com/v1"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		labsBaseURL: labsBaseURL,
		apiBaseURL:  apiBaseURL,
		authToken:   strings.TrimSpace(opts.AuthToken),
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Submit starts a generation and returns the opaque operation handle used
// for subsequent polls. A *StatusError with a 4xx code means the provider
// rejected the request outright.
func (c *Client) Submit(ctx context.Context, kind domain.JobKind, payload json.RawMessage) (string, error) {
	body, err := json.Marshal(submitRequest{Kind: string(kind), Payload: payload})
	if err != nil {
		return "", fmt.Errorf("upstream: encode request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, c.apiBaseURL+"/generation", body)
	if err != nil {
		return "", err
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("upstream: decode response: %w", err)
	}
	if decoded.Error.Code != "" {
		return "", &StatusError{Code: http.StatusUnprocessableEntity, Message: decoded.Error.Message}
	}
	if decoded.OperationName == "" {
		return "", errors.New("upstream: empty operation name")
	}
	c.logger.Debug().
		Str("kind", string(kind)).
		Str("operation", decoded.OperationName).
		Msg("upstream: submitted generation")
	return decoded.OperationName, nil
}

// Poll fetches the current status of an in-flight operation. A FAILED status
// is reported as a terminal *StatusError.
func (c *Client) Poll(ctx context.Context, ref string) (PollResult, error) {
	raw, err := c.do(ctx, http.MethodGet, c.apiBaseURL+"/generation/"+url.PathEscape(ref), nil)
	if err != nil {
		return PollResult{}, err
	}
	var decoded pollResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return PollResult{}, fmt.Errorf("upstream: decode response: %w", err)
	}
	switch decoded.Status {
	case "SUCCEEDED":
		if decoded.Media.URL == "" {
			return PollResult{}, errors.New("upstream: succeeded without media url")
		}
		return PollResult{Done: true, MediaURL: decoded.Media.URL, MIME: decoded.Media.MIME}, nil
	case "FAILED":
		return PollResult{}, &StatusError{Code: http.StatusUnprocessableEntity, Message: decoded.Error.Message}
	default:
		return PollResult{}, nil
	}
}

// Cancel requests a best-effort upstream cancellation of an operation.
func (c *Client) Cancel(ctx context.Context, ref string) error {
	_, err := c.do(ctx, http.MethodPost, c.apiBaseURL+"/generation/"+url.PathEscape(ref)+":cancel", nil)
	return err
}

// FetchMedia downloads a generated asset from the provider's ephemeral URL
// and returns the bytes plus the reported content type.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(mediaURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("upstream: invalid media url: %s", mediaURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("upstream: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("upstream: download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", &StatusError{Code: resp.StatusCode, Message: "media download failed"}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("upstream: read media: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return data, mime, nil
}

// ensureToken returns the bearer token for API calls. A statically configured
// token is used as-is; otherwise one is fetched from the Labs session
// endpoint and cached for the client's lifetime.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.authToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.labsBaseURL+"/auth/session", nil)
	if err != nil {
		return "", fmt.Errorf("upstream: build session request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstream: fetch session: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("upstream: read session response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	var decoded sessionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("upstream: decode session response: %w", err)
	}
	if decoded.AccessToken == "" {
		return "", errors.New("upstream: session response missing access token")
	}
	c.mu.Lock()
	c.authToken = decoded.AccessToken
	c.mu.Unlock()
	c.logger.Debug().Msg("upstream: labs session token acquired")
	return decoded.AccessToken, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}
