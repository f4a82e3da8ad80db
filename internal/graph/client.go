package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 60 * time.Second
	defaultAttempts  = 5
	defaultPageSize  = 200
)

// TokenSource supplies a bearer token for the remote store. One source per
// connection; refresh strategy is the source's concern.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed bearer token.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

// Options tune the retry policy. Zero values fall back to defaults.
type Options struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	RequestsPerSec float64
}

// Client talks to a Graph-style drive API. Every call funnels through do,
// which applies proactive rate limiting, per-attempt timeouts, and
// exponential backoff on throttling and transient faults. A Client is safe
// for concurrent use; one caller's backoff never blocks another's request.
type Client struct {
	http           *http.Client
	baseURL        string
	tokens         TokenSource
	limiter        *rate.Limiter
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
}

func NewClient(baseURL string, tokens TokenSource, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 60 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 10
	}
	return &Client{
		http:           &http.Client{},
		baseURL:        baseURL,
		tokens:         tokens,
		limiter:        rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		maxAttempts:    opts.MaxAttempts,
		baseDelay:      opts.BaseDelay,
		maxDelay:       opts.MaxDelay,
		attemptTimeout: opts.AttemptTimeout,
	}
}

// do executes one API call with the full retry policy. Throttling (429),
// server faults (5xx), and transport errors back off exponentially, honoring
// a Retry-After hint when the server supplies one. Permanent 4xx propagate
// immediately as *APIError.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		data, err := c.attempt(ctx, method, rawURL, body)
		if err == nil {
			return data, nil
		}

		if apiErr, ok := err.(*APIError); ok && !apiErr.Retryable() {
			return nil, err
		}
		lastErr = err
		slog.WarnContext(ctx, "graph request failed, will retry",
			"method", method, "url", rawURL, "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(attemptCtx)
	if err != nil {
		return nil, fmt.Errorf("token source: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(truncate(data, 256))}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return nil, &throttleError{APIError: apiErr, retryAfter: time.Duration(secs) * time.Second}
		}
	}
	return nil, apiErr
}

// backoff computes the delay before the given attempt, capped at maxDelay.
// A server-supplied Retry-After hint takes precedence.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	if th, ok := lastErr.(*throttleError); ok && th.retryAfter > 0 {
		if th.retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return th.retryAfter
	}
	delay := c.baseDelay << (attempt - 1)
	if delay > c.maxDelay || delay <= 0 {
		return c.maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// transportError marks network-level failures (timeouts, resets) as
// retryable without an HTTP status.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// throttleError carries the server's Retry-After hint alongside the 429.
type throttleError struct {
	*APIError
	retryAfter time.Duration
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// --- Operations ---

type childrenPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// ListChildrenPage fetches one page of folder children. pageURL is either
// empty (first page of the given folder) or a continuation link from a
// previous page.
func (c *Client) ListChildrenPage(ctx context.Context, driveID, folderID, pageURL string) ([]File, []Folder, string, error) {
	if pageURL == "" {
		q := url.Values{}
		q.Set("$top", strconv.Itoa(defaultPageSize))
		pageURL = fmt.Sprintf("%s/drives/%s/items/%s/children?%s", c.baseURL, driveID, folderID, q.Encode())
	}

	data, err := c.do(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, "", err
	}

	var page childrenPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, nil, "", fmt.Errorf("decode children page: %w", err)
	}

	var files []File
	var folders []Folder
	for i := range page.Value {
		item := &page.Value[i]
		switch {
		case item.Folder != nil:
			folders = append(folders, *item.toFolder(driveID))
		case item.File != nil:
			files = append(files, *item.toFile(driveID))
		}
	}
	return files, folders, page.NextLink, nil
}

func (c *Client) getItem(ctx context.Context, driveID, itemID string) (*driveItem, error) {
	u := fmt.Sprintf("%s/drives/%s/items/%s", c.baseURL, driveID, itemID)
	data, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var item driveItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return &item, nil
}

// GetFile fetches a single file descriptor, or nil if the item is a folder.
func (c *Client) GetFile(ctx context.Context, driveID, itemID string) (*File, error) {
	item, err := c.getItem(ctx, driveID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Folder != nil {
		return nil, nil
	}
	return item.toFile(driveID), nil
}

// GetContent downloads a file's bytes, preferring the pre-authenticated
// download URL when the descriptor carries one.
func (c *Client) GetContent(ctx context.Context, f *File) ([]byte, error) {
	u := f.DownloadURL
	if u == "" {
		u = fmt.Sprintf("%s/drives/%s/items/%s/content", c.baseURL, f.DriveID, f.ID)
	}
	return c.do(ctx, http.MethodGet, u, nil)
}

type deltaPageWire struct {
	Value     []driveItem `json:"value"`
	NextLink  string      `json:"@odata.nextLink"`
	DeltaLink string      `json:"@odata.deltaLink"`
}

// GetDelta fetches one page of changes. token is either empty (start a fresh
// delta cycle from the current state), a nextLink (mid-drain), or a deltaLink
// persisted from a previous drain. A 410 from the remote side means the token
// is no longer honored and surfaces as ErrDeltaExpired.
func (c *Client) GetDelta(ctx context.Context, driveID, token string) (*DeltaPage, error) {
	u := token
	if u == "" {
		u = fmt.Sprintf("%s/drives/%s/root/delta", c.baseURL, driveID)
	}

	data, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusGone {
			return nil, ErrDeltaExpired
		}
		return nil, err
	}

	var wire deltaPageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode delta page: %w", err)
	}

	page := &DeltaPage{NextLink: wire.NextLink, DeltaLink: wire.DeltaLink}
	for i := range wire.Value {
		item := &wire.Value[i]
		entry := DeltaItem{
			ItemID:   item.ID,
			Deleted:  item.Deleted != nil,
			IsFolder: item.Folder != nil,
		}
		if !entry.Deleted && item.File != nil {
			entry.File = item.toFile(driveID)
		}
		page.Items = append(page.Items, entry)
	}
	return page, nil
}

type subscriptionRequest struct {
	ChangeType         string `json:"changeType"`
	NotificationURL    string `json:"notificationUrl"`
	Resource           string `json:"resource"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState"`
}

// CreateSubscription registers a change-notification subscription for a
// drive resource. The remote side will call notificationURL with a
// validation token before confirming.
func (c *Client) CreateSubscription(ctx context.Context, resource, notificationURL, clientState string, expiration time.Time) (*Subscription, error) {
	body, err := json.Marshal(subscriptionRequest{
		ChangeType:         "created,updated,deleted",
		NotificationURL:    notificationURL,
		Resource:           resource,
		ExpirationDateTime: expiration.UTC().Format(time.RFC3339),
		ClientState:        clientState,
	})
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, http.MethodPost, c.baseURL+"/subscriptions", body)
	if err != nil {
		return nil, err
	}
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	return &sub, nil
}

// RenewSubscription pushes a subscription's expiration forward.
func (c *Client) RenewSubscription(ctx context.Context, subscriptionID string, expiration time.Time) (*Subscription, error) {
	body, err := json.Marshal(map[string]string{
		"expirationDateTime": expiration.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, http.MethodPatch, c.baseURL+"/subscriptions/"+subscriptionID, body)
	if err != nil {
		return nil, err
	}
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription on the remote side.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.baseURL+"/subscriptions/"+subscriptionID, nil)
	return err
}

// ValidateAuth probes whether the connection's credentials are accepted.
func (c *Client) ValidateAuth(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/organization", nil)
	return err
}
