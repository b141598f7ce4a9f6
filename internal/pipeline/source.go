package pipeline

import (
	"context"
	"time"

	"permatweet/internal/model"
	"permatweet/internal/xapi"
)

// APISource polls the mention timeline through the API client.
type APISource struct {
	client xapi.Client
	userID string
	limit  int
}

func NewAPISource(client xapi.Client, userID string, limit int) *APISource {
	return &APISource{client: client, userID: userID, limit: limit}
}

func (s *APISource) MentionsSince(ctx context.Context, since time.Time) ([]model.Mention, error) {
	return s.client.MentionsSince(ctx, s.userID, since, s.limit)
}
