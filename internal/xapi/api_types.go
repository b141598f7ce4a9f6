package xapi

import (
	"time"

	"permatweet/internal/model"
)

// Wire shapes for the X API v2 responses we consume.

type apiTweet struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	AuthorID         string    `json:"author_id"`
	CreatedAt        time.Time `json:"created_at"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
	Attachments struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
	PublicMetrics struct {
		LikeCount    int `json:"like_count"`
		ReplyCount   int `json:"reply_count"`
		RetweetCount int `json:"retweet_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
}

type apiUser struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url"`
	Verified        bool   `json:"verified"`
	Protected       bool   `json:"protected"`
}

type apiMedia struct {
	MediaKey        string `json:"media_key"`
	URL             string `json:"url"`
	PreviewImageURL string `json:"preview_image_url"`
}

type apiIncludes struct {
	Users []apiUser  `json:"users"`
	Media []apiMedia `json:"media"`
}

func (t apiTweet) toTweet(inc apiIncludes) model.Tweet {
	out := model.Tweet{
		ID:           t.ID,
		AuthorID:     t.AuthorID,
		Text:         t.Text,
		CreatedAt:    t.CreatedAt,
		LikeCount:    t.PublicMetrics.LikeCount,
		ReplyCount:   t.PublicMetrics.ReplyCount,
		RetweetCount: t.PublicMetrics.RetweetCount,
		QuoteCount:   t.PublicMetrics.QuoteCount,
	}
	for _, r := range t.ReferencedTweets {
		out.References = append(out.References, model.Reference{Type: r.Type, ID: r.ID})
	}
	if u, ok := inc.user(t.AuthorID); ok {
		out.Author = &u
	}
	for _, key := range t.Attachments.MediaKeys {
		for _, m := range inc.Media {
			if m.MediaKey != key {
				continue
			}
			if m.URL != "" {
				out.MediaURLs = append(out.MediaURLs, m.URL)
			} else if m.PreviewImageURL != "" {
				out.MediaURLs = append(out.MediaURLs, m.PreviewImageURL)
			}
		}
	}
	return out
}

func (inc apiIncludes) user(id string) (model.User, bool) {
	for _, u := range inc.Users {
		if u.ID == id {
			return model.User{
				ID:        u.ID,
				Username:  u.Username,
				Name:      u.Name,
				AvatarURL: u.ProfileImageURL,
				Verified:  u.Verified,
				Protected: u.Protected,
			}, true
		}
	}
	return model.User{}, false
}
