package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/st-keller/portal-client/operator"
	"github.com/st-keller/portal-client/response"
	"github.com/st-keller/portal-client/standard"
	"github.com/st-keller/portal-client/transport"
	"github.com/st-keller/portal-client/types"
)

// DefaultBaseURL is the eportal endpoint of the campus network.
const DefaultBaseURL = "http://10.2.5.251:801/eportal/"

// Fault messages.
const (
	MsgNetworkUnreachable = "网络连接失败，请确保已连接校园网"
	MsgTimeout            = "请求超时，认证服务器无响应"
	MsgLoggedOut          = "已断开校园网连接"
)

// maxBodyBytes caps how much of a portal response is read.
const maxBodyBytes = 1 << 20

// trackerName is the connectivity tracker key for portal calls.
const trackerName = "portal"

// Metrics receives one observation per portal call. A nil Metrics is valid.
type Metrics interface {
	ObservePortalCall(action string, kind types.Kind, latency time.Duration)
}

// Config holds client configuration.
type Config struct {
	BaseURL    string                        // eportal endpoint, DefaultBaseURL if empty
	Timeout    time.Duration                 // per request, transport.DefaultTimeout if zero
	HTTPClient *http.Client                  // optional, built from Timeout if nil
	Logger     *slog.Logger                  // optional, slog.Default() if nil
	Tracker    *standard.ConnectivityTracker // optional
	Metrics    Metrics                       // optional
}

// Validate checks the config after defaults are applied.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("BaseURL invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("BaseURL must be http or https, got %q", u.Scheme)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be > 0")
	}
	return nil
}

// Client talks to the portal. It holds no session state and is safe for
// concurrent use.
type Client struct {
	config Config
	http   *http.Client
	log    *slog.Logger
}

// New creates a portal client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = transport.DefaultTimeout
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = transport.BuildHTTPClient(config.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to build HTTP client: %w", err)
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config: config,
		http:   httpClient,
		log:    logger.With("component", "portal"),
	}, nil
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Login authenticates accountID with the given operator suffix.
func (c *Client) Login(ctx context.Context, accountID, password string, op operator.Type) types.LoginOutcome {
	if !op.Valid() {
		return types.LoginOutcome{
			Message: fmt.Sprintf("登录异常: unknown operator %d", int(op)),
			Kind:    types.KindUnknown,
		}
	}

	account := escape(accountID) + op.Suffix()
	query := "c=Portal&a=login&login_method=1" +
		"&user_account=" + account +
		"&user_password=" + escape(password)

	// The account identifies a person; keep it out of Info and above.
	c.log.Debug("Portal login request", "account", accountID, "operator", op.String())

	start := time.Now()
	raw, err := c.get(ctx, query)
	latency := time.Since(start)

	if err != nil {
		kind := classifyFault(err)
		c.record("login", kind, latency, err)
		c.log.Warn("Portal login failed", "operator", op.String(),
			"kind", kind.String(), "error", err.Error(), "latency_ms", latency.Milliseconds())
		return types.LoginOutcome{Success: false, Message: faultMessage(kind, "登录异常", err), Kind: kind}
	}

	outcome := response.Classify(raw)
	c.record("login", outcome.Kind, latency, nil)
	c.log.Info("Portal login answered", "operator", op.String(),
		"success", outcome.Success, "kind", outcome.Kind.String(), "latency_ms", latency.Milliseconds())

	return outcome
}

// Logout ends the current portal session. The body is not inspected and
// failures are not retried.
func (c *Client) Logout(ctx context.Context) types.LoginOutcome {
	start := time.Now()
	_, err := c.get(ctx, "c=Portal&a=logout&login_method=1")
	latency := time.Since(start)

	if err != nil {
		kind := classifyFault(err)
		c.record("logout", kind, latency, err)
		c.log.Warn("Portal logout failed", "error", err.Error(), "latency_ms", latency.Milliseconds())
		return types.LoginOutcome{Success: false, Message: "断开失败: " + err.Error(), Kind: kind}
	}

	c.record("logout", types.KindNone, latency, nil)
	c.log.Info("Portal logout done", "latency_ms", latency.Milliseconds())
	return types.LoginOutcome{Success: true, Message: MsgLoggedOut, Kind: types.KindNone}
}

// get issues a GET against the base endpoint and returns the body.
// A non-2xx status is reported as a *StatusError.
func (c *Client) get(ctx context.Context, query string) (string, error) {
	sep := "?"
	if strings.Contains(c.config.BaseURL, "?") {
		sep = "&"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+sep+query, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", redactQuery(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode}
	}

	return string(body), nil
}

// record feeds the tracker and metrics.
func (c *Client) record(action string, kind types.Kind, latency time.Duration, err error) {
	if err != nil {
		c.config.Tracker.TrackFailure(trackerName, c.config.BaseURL, latency, kind, err.Error())
	} else {
		c.config.Tracker.TrackSuccess(trackerName, c.config.BaseURL, latency)
	}
	if c.config.Metrics != nil {
		c.config.Metrics.ObservePortalCall(action, kind, latency)
	}
}

// StatusError is returned for a non-2xx portal response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// redactQuery strips the query, which carries the credentials, from the URL
// of a request error.
func redactQuery(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	u, perr := url.Parse(urlErr.URL)
	if perr != nil {
		return urlErr.Err
	}
	u.RawQuery = ""
	return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
}

// classifyFault maps a transport error onto the error taxonomy.
func classifyFault(err error) types.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.KindTimeout
	}

	var statusErr *StatusError
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &statusErr), errors.As(err, &opErr), errors.As(err, &dnsErr):
		return types.KindNetworkUnreachable
	}

	return types.KindUnknown
}

// faultMessage renders the outcome message for a failed request.
func faultMessage(kind types.Kind, prefix string, err error) string {
	switch kind {
	case types.KindNetworkUnreachable:
		return MsgNetworkUnreachable
	case types.KindTimeout:
		return MsgTimeout
	default:
		return prefix + ": " + err.Error()
	}
}

// escape percent-encodes s as an RFC 3986 data string (space is %20).
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
