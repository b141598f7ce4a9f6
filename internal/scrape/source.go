package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"permatweet/internal/model"
)

// Source is the browser-scrape mention source: it drives a headless
// browser session against the notifications timeline instead of the API.
// The session is a long-lived resource; callers Open it before polling
// starts and Close it on shutdown.
type Source struct {
	cookies  *CookieStore
	headless bool
	log      *zap.Logger

	browserCtx context.Context
	cancelFns  []context.CancelFunc
}

func NewSource(cookies *CookieStore, headless bool, log *zap.Logger) *Source {
	return &Source{cookies: cookies, headless: headless, log: log}
}

// Open starts the browser session and restores the persisted login.
func (s *Source) Open(ctx context.Context) error {
	if !s.cookies.IsValid() {
		return errors.New("no valid session cookies; log in and export cookies first")
	}
	stored, err := s.cookies.Load()
	if err != nil {
		return err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.headless),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	s.browserCtx = browserCtx
	s.cancelFns = []context.CancelFunc{browserCancel, allocCancel}

	if err := s.injectCookies(browserCtx, stored.Cookies); err != nil {
		s.Close()
		return fmt.Errorf("failed to inject cookies: %w", err)
	}
	s.log.Info("browser session opened")
	return nil
}

// Close releases the browser session.
func (s *Source) Close() {
	for _, cancel := range s.cancelFns {
		cancel()
	}
	s.cancelFns = nil
	s.browserCtx = nil
}

func (s *Source) injectCookies(ctx context.Context, cookies []*network.Cookie) error {
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				err := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithSameSite(c.SameSite).
					Do(ctx)
				if err != nil {
					return err
				}
			}
			return nil
		}),
	)
}

// rawMention is the shape extracted from the DOM via JavaScript.
type rawMention struct {
	ID           string `json:"id"`
	AuthorHandle string `json:"authorHandle"`
	AuthorName   string `json:"authorName"`
	Text         string `json:"text"`
	Timestamp    string `json:"timestamp"`
	QuotedID     string `json:"quotedId"`
	RepliedToID  string `json:"repliedToId"`
}

// extractJS pulls mention tweets out of the notifications timeline.
const extractJS = `
	(function() {
		const tweets = document.querySelectorAll('article[data-testid="tweet"]');
		const results = [];
		tweets.forEach(el => {
			try {
				const statusLink = el.querySelector('a[href*="/status/"]');
				const id = statusLink?.href?.match(/status\/(\d+)/)?.[1];
				if (!id) return;

				let authorHandle = '';
				let authorName = '';
				const userNameEl = el.querySelector('[data-testid="User-Name"]');
				if (userNameEl) {
					const handleLink = userNameEl.querySelector('a[href^="/"]');
					if (handleLink) {
						authorHandle = handleLink.getAttribute('href')?.replace('/', '') || '';
					}
					const nameSpan = userNameEl.querySelector('span');
					authorName = nameSpan?.textContent || '';
				}

				const textEl = el.querySelector('[data-testid="tweetText"]');
				const text = textEl?.textContent || '';

				const timeEl = el.querySelector('time');
				const timestamp = timeEl?.getAttribute('datetime') || '';

				// an embedded quote card links to the quoted status
				let quotedId = '';
				const quoteLink = el.querySelector('div[role="link"] a[href*="/status/"]');
				if (quoteLink) {
					quotedId = quoteLink.href.match(/status\/(\d+)/)?.[1] || '';
				}

				results.push({ id, authorHandle, authorName, text, timestamp, quotedId, repliedToId: '' });
			} catch (e) {}
		});
		return results;
	})()
`

// MentionsSince scrapes the notifications timeline and returns mentions
// newer than since. Author IDs are handles here; the rest of the pipeline
// treats them as opaque requester identities.
func (s *Source) MentionsSince(ctx context.Context, since time.Time) ([]model.Mention, error) {
	if s.browserCtx == nil {
		return nil, errors.New("browser session not open")
	}
	runCtx, cancel := context.WithTimeout(s.browserCtx, 2*time.Minute)
	defer cancel()

	var raw []rawMention
	if err := chromedp.Run(runCtx,
		chromedp.Navigate("https://x.com/notifications/mentions"),
		chromedp.WaitVisible(`article[data-testid="tweet"]`, chromedp.ByQuery),
		chromedp.Evaluate(extractJS, &raw),
	); err != nil {
		return nil, fmt.Errorf("failed to scrape mentions: %w", err)
	}

	out := mentionsFromRaw(raw, since)
	s.log.Info("mentions scraped", zap.Int("count", len(out)))
	return out, nil
}

func mentionsFromRaw(raw []rawMention, since time.Time) []model.Mention {
	out := make([]model.Mention, 0, len(raw))
	for _, r := range raw {
		ts, _ := time.Parse(time.RFC3339, r.Timestamp)
		if !since.IsZero() && !ts.After(since) {
			continue
		}
		m := model.Mention{
			ID:        r.ID,
			Text:      r.Text,
			AuthorID:  r.AuthorHandle,
			CreatedAt: ts,
			Author: &model.User{
				ID:       r.AuthorHandle,
				Username: r.AuthorHandle,
				Name:     r.AuthorName,
			},
		}
		if r.QuotedID != "" {
			m.References = append(m.References, model.Reference{Type: model.RefQuoted, ID: r.QuotedID})
		}
		if r.RepliedToID != "" {
			m.References = append(m.References, model.Reference{Type: model.RefRepliedTo, ID: r.RepliedToID})
		}
		out = append(out, m)
	}
	return out
}
