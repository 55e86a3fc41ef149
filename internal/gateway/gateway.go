// Package gateway performs authenticated HTTP requests against the AppHub API.
//
// Every request attaches the current bearer credential and, on an
// authorization failure, performs exactly one refresh-and-retry cycle. The
// retry flag is per request, so concurrent 401s each refresh independently.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vkarpenko/apphub-cli/internal/errs"
)

// defaultRetryAfter is used when a 429 response carries no parseable Retry-After.
const defaultRetryAfter = 60 * time.Second

// TokenSource is the credential storage the gateway reads and rotates.
type TokenSource interface {
	Get() (access string, ok bool)
	RefreshToken() string
	Set(access, refresh string) error
	Clear() error
}

// Client is the authenticated request gateway.
type Client struct {
	base      string
	http      *http.Client
	tokens    TokenSource
	log       *zap.Logger
	onInvalid func()
}

// New creates a gateway for the API rooted at baseURL (e.g. "https://host/api/v1").
func New(baseURL string, tokens TokenSource, httpClient *http.Client, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   httpClient,
		tokens: tokens,
		log:    log,
	}, nil
}

// OnSessionInvalid registers the callback fired when a refresh attempt fails
// and all credentials are cleared.
func (c *Client) OnSessionInvalid(fn func()) { c.onInvalid = fn }

// Do sends a JSON request through the refresh-and-retry protocol. body and out
// may be nil; out is filled from a 2xx JSON response.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	return c.doJSON(ctx, method, path, body, out, true)
}

// DoUnauthed sends a JSON request with no bearer header and outside the
// refresh protocol. The token-exchange endpoints go through here; a rejected
// exchange must not recurse into another refresh.
func (c *Client) DoUnauthed(ctx context.Context, method, path string, body, out any) error {
	return c.doJSON(ctx, method, path, body, out, false)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, authed bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", errs.ErrValidation, err)
		}
	}
	build := func() (*http.Request, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
	return c.execute(ctx, build, out, authed)
}

// DoForm sends a form-encoded POST outside the refresh protocol. Used by the
// login endpoint, which by definition has no prior credential to refresh.
func (c *Client) DoForm(ctx context.Context, path string, form url.Values, out any) error {
	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
	return c.execute(ctx, build, out, false)
}

// execute runs the request/refresh/retry protocol:
//
//  1. attach current access credential (if present) as a bearer header
//  2. dispatch
//  3. on 401, once per request: refresh with the stored refresh credential
//     and re-dispatch; a failed refresh clears all credentials and signals
//     session invalidation
//  4. 429 propagates with the parsed Retry-After; never auto-retried
//  5. everything else propagates unchanged
func (c *Client) execute(ctx context.Context, build func() (*http.Request, error), out any, authed bool) error {
	retried := false
	for {
		req, err := build()
		if err != nil {
			return err
		}
		if authed {
			if access, ok := c.tokens.Get(); ok {
				req.Header.Set("Authorization", "Bearer "+access)
			}
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrNetwork, err)
		}
		c.log.Debug("http",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("dur", time.Since(start)),
		)

		if resp.StatusCode == http.StatusUnauthorized && authed && !retried {
			drain(resp)
			retried = true
			if err := c.refresh(ctx); err != nil {
				return err
			}
			continue
		}
		return decode(resp, out)
	}
}

// refresh exchanges the stored refresh credential for a new token pair and
// stores it. A server rejection clears all credentials and fires the
// session-invalidated callback; a transport error leaves them intact.
func (c *Client) refresh(ctx context.Context) error {
	rt := c.tokens.RefreshToken()
	if rt == "" {
		return errs.ErrUnauthorized
	}

	body, _ := json.Marshal(map[string]string{"refresh_token": rt})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: refresh: %v", errs.ErrNetwork, err)
	}
	var tokens struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := decode(resp, &tokens); err != nil || tokens.AccessToken == "" {
		c.invalidate()
		return errs.ErrUnauthorized
	}
	if err := c.tokens.Set(tokens.AccessToken, tokens.RefreshToken); err != nil {
		return err
	}
	c.log.Debug("access token refreshed")
	return nil
}

func (c *Client) invalidate() {
	_ = c.tokens.Clear()
	c.log.Info("session invalidated")
	if c.onInvalid != nil {
		c.onInvalid()
	}
}

// decode maps the response onto the error taxonomy and fills out on success.
func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", errs.ErrServer, err)
		}
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return errs.ErrUnauthorized

	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return &errs.RateLimitError{RetryAfter: retryAfter(resp)}

	default:
		return &errs.StatusError{Code: resp.StatusCode, Detail: errDetail(resp.Body)}
	}
}

// retryAfter parses the Retry-After header (delta-seconds or HTTP-date),
// falling back to defaultRetryAfter.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(h); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

// errDetail extracts the backend's {"detail": "..."} body, if present.
func errDetail(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(b, &body) == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(b))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
