package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kiosk/internal/domain"
	"kiosk/pkg/transport"
)

// GenericMessage is used when an error body carries no readable message.
const GenericMessage = "unexpected response from server"

const DefaultTimeout = 30 * time.Second

// Client talks to the kiosk server. Every method returns either a value or a
// *domain.Error.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

func New(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: timeout,
	}
}

type envelope[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// FetchProfile loads the user behind token. A 403 means the token is no
// longer valid; see IsForbidden.
func (c *Client) FetchProfile(ctx context.Context, token string) (domain.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/otc/", token), nil)
	if err != nil {
		return domain.UserProfile{}, domain.Normalize(err)
	}

	var env envelope[domain.UserProfile]
	if err := c.doJSON(req, &env); err != nil {
		return domain.UserProfile{}, err
	}
	return env.Data, nil
}

// StartCall asks the server to ring contactID and text them the room link.
func (c *Client) StartCall(ctx context.Context, token, contactID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("contact_id", contactID)
	form.Set("sms", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/otc/", token), strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Normalize(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var env envelope[json.RawMessage]
	return c.doJSON(req, &env)
}

// AskBob uploads a transport-encoded clip and returns the recognized intent.
func (c *Client) AskBob(ctx context.Context, token, payload string) (domain.IntentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/otc/askbob/", token), strings.NewReader(payload))
	if err != nil {
		return domain.IntentResult{}, domain.Normalize(err)
	}
	req.Header.Set("Content-Type", transport.ContentType)

	var env envelope[domain.IntentResult]
	if err := c.doJSON(req, &env); err != nil {
		return domain.IntentResult{}, err
	}
	log.Debug("Intent received", "message", env.Message, "action", env.Data.Action, "text", env.Data.Text)
	return env.Data, nil
}

// Speech is a synthesized audio body. Close releases the request.
type Speech struct {
	io.ReadCloser
	MimeType string
}

// TextToSpeech synthesizes text. The returned body must be closed; the
// request timeout covers reading it.
func (c *Client) TextToSpeech(ctx context.Context, token, text string) (*Speech, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	form := url.Values{}
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/otc/watson/text-to-speech/", token), strings.NewReader(form.Encode()))
	if err != nil {
		cancel()
		return nil, domain.Normalize(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/wav"
	}
	return &Speech{
		ReadCloser: &cancelBody{ReadCloser: resp.Body, cancel: cancel},
		MimeType:   mime,
	}, nil
}

// IsForbidden reports whether err is the server rejecting the session token.
func IsForbidden(err error) bool {
	var de *domain.Error
	return errors.As(err, &de) && de.Kind == domain.KindTransport && de.Status == http.StatusForbidden
}

func (c *Client) endpoint(prefix, token string) string {
	return c.baseURL + prefix + url.PathEscape(token)
}

// do sends req and returns the response only when it is 2xx.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("Request failed", "method", req.Method, "path", req.URL.Path, "err", err)
		return nil, domain.Normalize(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		de := domain.TransportError(resp.StatusCode, errorMessage(body))
		log.Warn("Server returned an error",
			"method", req.Method,
			"path", req.URL.Path,
			"status", de.Status,
			"statusText", de.StatusText,
			"message", de.Message,
		)
		return nil, de
	}

	log.Debug("Request done", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "took", time.Since(start))
	return resp, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Normalize(fmt.Errorf("read body: %w", err))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.Normalize(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		return GenericMessage
	}
	return e.Message
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
