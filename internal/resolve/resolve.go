package resolve

import (
	"context"

	"permatweet/internal/model"
	"permatweet/internal/xapi"
)

// Tweets fetches the unique tweet ID set in batches and resolves quoted
// originals exactly one level deep: a tweet carrying a quote reference
// gets its QuotedTweet populated from a second batch fetch, but a quote
// inside a quoted tweet is left unexpanded. IDs missing from the result
// were not returned by the API and are treated as not found downstream.
func Tweets(ctx context.Context, client xapi.Client, ids []string) (map[string]model.Tweet, error) {
	tweets, err := fetchBatches(ctx, client, ids)
	if err != nil {
		return nil, err
	}

	var quotedIDs []string
	seen := make(map[string]bool)
	for _, t := range tweets {
		if qid := t.QuotedID(); qid != "" && !seen[qid] {
			seen[qid] = true
			quotedIDs = append(quotedIDs, qid)
		}
	}
	if len(quotedIDs) == 0 {
		return tweets, nil
	}

	quoted, err := fetchBatches(ctx, client, quotedIDs)
	if err != nil {
		return nil, err
	}
	for id, t := range tweets {
		qid := t.QuotedID()
		if qid == "" {
			continue
		}
		if q, ok := quoted[qid]; ok {
			t.QuotedTweet = &q
			tweets[id] = t
		}
	}
	return tweets, nil
}

func fetchBatches(ctx context.Context, client xapi.Client, ids []string) (map[string]model.Tweet, error) {
	out := make(map[string]model.Tweet, len(ids))
	for i := 0; i < len(ids); i += xapi.BatchLimit {
		end := i + xapi.BatchLimit
		if end > len(ids) {
			end = len(ids)
		}
		tweets, err := client.TweetsByIDs(ctx, ids[i:end])
		if err != nil {
			return nil, err
		}
		for _, t := range tweets {
			out[t.ID] = t
		}
	}
	return out, nil
}
