package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// Client talks to the execution backend's session API over HTTP. The
// backend owns all container and process lifecycle; the gateway only
// addresses it by session key.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client for the given base URL. No overall
// request timeout is set here: execution calls carry their own
// caller-specified timeout which the backend enforces remotely, and the
// request context handles cancellation.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
	}
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Healthy checks backend reachability for the health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status, err := c.head(ctx, c.baseURL+"/health")
	return err == nil && status == http.StatusOK
}

// EnsureSession looks the session up first and creates it only when
// missing. A concurrent create reported as a conflict is treated as
// success.
func (c *Client) EnsureSession(ctx context.Context, sessionKey string) error {
	status, err := c.head(ctx, c.sessionURL(sessionKey))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]string{"session_id": sessionKey}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/sessions", body)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("%w: create session returned %d", ErrUnavailable, resp.StatusCode)
	}
}

// TeardownSession destroys the session. A session that is already gone
// counts as a successful teardown.
func (c *Client) TeardownSession(ctx context.Context, sessionKey string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.sessionURL(sessionKey), nil)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("%w: teardown returned %d", ErrUnavailable, resp.StatusCode)
	}
}

func (c *Client) Execute(ctx context.Context, sessionKey, code string, timeout time.Duration, env map[string]string) (*ExecutionResult, error) {
	body := map[string]any{
		"code":            code,
		"timeout_seconds": int(timeout.Seconds()),
	}
	if len(env) > 0 {
		body["environment"] = env
	}

	var result ExecutionResult
	if err := c.call(ctx, http.MethodPost, c.sessionURL(sessionKey)+"/execute", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Install(ctx context.Context, sessionKey, pkg string) (*InstallResult, error) {
	body := map[string]string{"package": pkg}

	var result InstallResult
	if err := c.call(ctx, http.MethodPost, c.sessionURL(sessionKey)+"/install", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Upload(ctx context.Context, sessionKey, path string, content []byte) (*UploadResult, error) {
	// []byte marshals as base64 on the wire.
	body := map[string]any{
		"path":    path,
		"content": content,
	}

	var result UploadResult
	if err := c.call(ctx, http.MethodPost, c.sessionURL(sessionKey)+"/upload", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Stats(ctx context.Context, sessionKey string) (*SessionStats, error) {
	var result SessionStats
	if err := c.call(ctx, http.MethodGet, c.sessionURL(sessionKey)+"/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) sessionURL(sessionKey string) string {
	return c.baseURL + "/sessions/" + url.PathEscape(sessionKey)
}

// call performs a request and decodes a 2xx JSON response into out.
func (c *Client) call(ctx context.Context, method, u string, body, out any) error {
	resp, err := c.do(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn().
			Int("status", resp.StatusCode).
			Str("url", u).
			Msg("backend call failed")
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %s", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(req)
}

func (c *Client) head(ctx context.Context, u string) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	drain(resp)
	return resp.StatusCode, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
