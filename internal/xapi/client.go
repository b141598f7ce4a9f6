package xapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"permatweet/internal/metrics"
	"permatweet/internal/model"
)

// BatchLimit is the maximum number of IDs accepted by the batch endpoints.
const BatchLimit = 100

// Client defines the methods we use from the X API.
type Client interface {
	MentionsSince(ctx context.Context, userID string, since time.Time, limit int) ([]model.Mention, error)
	TweetsByIDs(ctx context.Context, ids []string) ([]model.Tweet, error)
	UserByUsername(ctx context.Context, username string) (model.User, error)
	PostReply(ctx context.Context, inReplyToID, text string, media []byte) (string, error)
}

// AccessPolicy supplies the credential for each outbound call and absorbs
// per-call request accounting. A static token and a rotating credential
// pool both implement it.
type AccessPolicy interface {
	Token(ctx context.Context) (string, error)
	Consume(ctx context.Context, n int64) error
}

// StaticBearer is the single-credential AccessPolicy.
type StaticBearer string

func (b StaticBearer) Token(ctx context.Context) (string, error) { return string(b), nil }
func (b StaticBearer) Consume(ctx context.Context, n int64) error { return nil }

// HTTPClient talks to the X API v2 with client-side rate limiting and
// bounded retry on throttling responses.
type HTTPClient struct {
	baseURL     string
	uploadURL   string
	access      AccessPolicy
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	resetMargin time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewHTTPClient(access AccessPolicy) *HTTPClient {
	return &HTTPClient{
		baseURL:     "https://api.twitter.com/2",
		uploadURL:   "https://upload.twitter.com/1.1/media/upload.json",
		access:      access,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(2), 5),
		maxAttempts: 3,
		resetMargin: 2 * time.Second,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MentionsSince returns mentions of userID newer than since, with author
// profiles and reply/quote references attached.
func (c *HTTPClient) MentionsSince(ctx context.Context, userID string, since time.Time, limit int) ([]model.Mention, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(clamp(limit, 5, 100)))
	q.Set("tweet.fields", "created_at,author_id,referenced_tweets")
	q.Set("expansions", "author_id")
	q.Set("user.fields", "username,name,profile_image_url,verified,protected")
	if !since.IsZero() {
		q.Set("start_time", since.UTC().Format(time.RFC3339))
	}
	u := fmt.Sprintf("%s/users/%s/mentions?%s", c.baseURL, url.PathEscape(userID), q.Encode())

	var raw struct {
		Data     []apiTweet  `json:"data"`
		Includes apiIncludes `json:"includes"`
	}
	if err := c.getJSON(ctx, u, 1, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Mention, 0, len(raw.Data))
	for _, d := range raw.Data {
		t := d.toTweet(raw.Includes)
		out = append(out, model.Mention{
			ID:         t.ID,
			Text:       t.Text,
			AuthorID:   t.AuthorID,
			CreatedAt:  t.CreatedAt,
			References: t.References,
			Author:     t.Author,
		})
	}
	return out, nil
}

// TweetsByIDs fetches up to BatchLimit tweets in one call. IDs the API
// does not return simply do not appear in the result; callers treat them
// as not found.
func (c *HTTPClient) TweetsByIDs(ctx context.Context, ids []string) ([]model.Tweet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > BatchLimit {
		ids = ids[:BatchLimit]
	}
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("tweet.fields", "created_at,author_id,public_metrics,referenced_tweets,attachments")
	q.Set("expansions", "author_id,attachments.media_keys")
	q.Set("media.fields", "url,preview_image_url")
	q.Set("user.fields", "username,name,profile_image_url,verified,protected")
	u := fmt.Sprintf("%s/tweets?%s", c.baseURL, q.Encode())

	var raw struct {
		Data     []apiTweet  `json:"data"`
		Includes apiIncludes `json:"includes"`
	}
	if err := c.getJSON(ctx, u, 1, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Tweet, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, d.toTweet(raw.Includes))
	}
	return out, nil
}

// UserByUsername looks up a single user by handle.
func (c *HTTPClient) UserByUsername(ctx context.Context, username string) (model.User, error) {
	if username == "" {
		return model.User{}, errors.New("empty username")
	}
	u := fmt.Sprintf("%s/users/by/username/%s?user.fields=username,name,profile_image_url,verified,protected",
		c.baseURL, url.PathEscape(username))
	var raw struct {
		Data apiUser `json:"data"`
	}
	if err := c.getJSON(ctx, u, 1, &raw); err != nil {
		return model.User{}, err
	}
	if raw.Data.ID == "" {
		return model.User{}, ErrNotFound
	}
	user, _ := apiIncludes{Users: []apiUser{raw.Data}}.user(raw.Data.ID)
	return user, nil
}

// PostReply posts a reply tweet, optionally attaching one media buffer.
// It returns the created tweet's ID.
func (c *HTTPClient) PostReply(ctx context.Context, inReplyToID, text string, media []byte) (string, error) {
	body := map[string]any{
		"text": text,
		"reply": map[string]string{
			"in_reply_to_tweet_id": inReplyToID,
		},
	}
	requests := int64(1)
	if len(media) > 0 {
		mediaID, err := c.uploadMedia(ctx, media)
		if err != nil {
			return "", fmt.Errorf("media upload: %w", err)
		}
		body["media"] = map[string][]string{"media_ids": {mediaID}}
		requests++
	}
	bz, _ := json.Marshal(body)

	var raw struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	respBz, err := c.do(ctx, http.MethodPost, c.baseURL+"/tweets", "application/json", bz, requests)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(respBz, &raw); err != nil {
		return "", err
	}
	return raw.Data.ID, nil
}

func (c *HTTPClient) uploadMedia(ctx context.Context, media []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("media_data", base64.StdEncoding.EncodeToString(media)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	respBz, err := c.do(ctx, http.MethodPost, c.uploadURL, w.FormDataContentType(), buf.Bytes(), 0)
	if err != nil {
		return "", err
	}
	var raw struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.Unmarshal(respBz, &raw); err != nil {
		return "", err
	}
	if raw.MediaIDString == "" {
		return "", errors.New("no media id in upload response")
	}
	return raw.MediaIDString, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, requests int64, out any) error {
	bz, err := c.do(ctx, http.MethodGet, u, "", nil, requests)
	if err != nil {
		return err
	}
	return json.Unmarshal(bz, out)
}

// do performs one logical API call with bounded retry on throttling.
// A throttled response is retried after sleeping until the server's reset
// instant plus a safety margin; any other failure propagates immediately.
// On success the access policy is charged `requests` logical requests.
func (c *HTTPClient) do(ctx context.Context, method, u, contentType string, body []byte, requests int64) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var lastReset time.Time
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		token, err := c.access.Token(ctx)
		if err != nil {
			return nil, err
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		respBz, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastReset = resetTime(resp.Header)
			metrics.ThrottleWaits.Inc()
			if err := c.sleep(ctx, time.Until(lastReset)+c.resetMargin); err != nil {
				return nil, err
			}
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("x api status %d: %s", resp.StatusCode, truncate(respBz, 200))
		}
		if requests > 0 {
			if err := c.access.Consume(ctx, requests); err != nil {
				return nil, err
			}
		}
		return respBz, nil
	}
	return nil, &ThrottleError{Reset: lastReset}
}

// resetTime reads the window reset instant from the response headers,
// preferring x-rate-limit-reset (epoch seconds) over Retry-After.
func resetTime(h http.Header) time.Time {
	if v := h.Get("x-rate-limit-reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(secs, 0)
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Now().Add(time.Duration(secs) * time.Second)
		}
	}
	return time.Now()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
