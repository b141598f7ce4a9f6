package model

import "time"

// Reference types carried on a tweet or mention, as reported by the API.
const (
	RefQuoted    = "quoted"
	RefRepliedTo = "replied_to"
)

// Reference points at another tweet by ID.
type Reference struct {
	Type string
	ID   string
}

// User represents a subset of X user fields used by the bot.
type User struct {
	ID        string
	Username  string
	Name      string
	AvatarURL string
	Verified  bool
	Protected bool
}

// Mention is one inbound tweet naming the bot account. Mentions are
// ephemeral: they arrive once per poll and are never stored as-is.
type Mention struct {
	ID         string
	Text       string
	AuthorID   string
	CreatedAt  time.Time
	References []Reference
	Author     *User // denormalized profile when the source provides it
}

// Tweet represents a subset of X tweet fields used by the bot.
type Tweet struct {
	ID           string
	AuthorID     string
	Text         string
	CreatedAt    time.Time
	LikeCount    int
	ReplyCount   int
	RetweetCount int
	QuoteCount   int
	MediaURLs    []string
	References   []Reference
	Author       *User
	QuotedTweet  *Tweet
}

// QuotedID returns the ID of the tweet this tweet quotes, or "".
func (t Tweet) QuotedID() string {
	for _, r := range t.References {
		if r.Type == RefQuoted {
			return r.ID
		}
	}
	return ""
}
