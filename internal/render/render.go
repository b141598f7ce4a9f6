package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"permatweet/internal/model"
)

// Renderer turns a tweet snapshot into an image of the tweet card.
// The drawing engine itself is an external service.
type Renderer interface {
	Render(ctx context.Context, t model.Tweet) ([]byte, error)
}

// HTTPRenderer posts the tweet snapshot to a render service and returns
// the PNG bytes it responds with.
type HTTPRenderer struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPRenderer(baseURL string) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, t model.Tweet) ([]byte, error) {
	bz, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/render", bytes.NewReader(bz))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service status %d", resp.StatusCode)
	}
	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("render service returned empty image")
	}
	return img, nil
}
