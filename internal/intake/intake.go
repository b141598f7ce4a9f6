package intake

import (
	"context"
	"regexp"

	"go.uber.org/zap"

	"permatweet/internal/model"
	"permatweet/internal/store"
)

var (
	statusURLRe = regexp.MustCompile(`(?:twitter\.com|x\.com)/[A-Za-z0-9_]+/status(?:es)?/(\d+)`)
	bareIDRe    = regexp.MustCompile(`\b(\d{18,19})\b`)
)

// Result maps each resolvable mention to its target tweet and carries the
// deduplicated unique tweet ID set for the whole batch, in first-seen order.
type Result struct {
	Targets map[string]string // mention ID -> tweet ID
	Unique  []string
}

// Resolve turns a batch of mentions into the unique set of target tweet
// IDs. Author profiles are upserted best-effort along the way; a mention
// that yields no target is dropped from this cycle and never retried.
func Resolve(ctx context.Context, st *store.Store, mentions []model.Mention, log *zap.Logger) Result {
	res := Result{Targets: make(map[string]string, len(mentions))}
	seen := make(map[string]bool)
	for _, m := range mentions {
		if m.Author != nil && m.Author.ID != "" {
			if err := st.UpsertUser(ctx, *m.Author); err != nil {
				log.Warn("author upsert failed", zap.String("user_id", m.Author.ID), zap.Error(err))
			}
		}
		target := TargetID(m)
		if target == "" {
			log.Info("mention unresolved", zap.String("mention_id", m.ID))
			continue
		}
		res.Targets[m.ID] = target
		if !seen[target] {
			seen[target] = true
			res.Unique = append(res.Unique, target)
		}
	}
	return res
}

// TargetID resolves the single tweet a mention refers to, in priority
// order: explicit quote reference, explicit reply-parent reference, a
// status URL in the text, then a bare 18-19 digit numeral.
func TargetID(m model.Mention) string {
	for _, r := range m.References {
		if r.Type == model.RefQuoted {
			return r.ID
		}
	}
	for _, r := range m.References {
		if r.Type == model.RefRepliedTo {
			return r.ID
		}
	}
	if match := statusURLRe.FindStringSubmatch(m.Text); match != nil {
		return match[1]
	}
	if match := bareIDRe.FindStringSubmatch(m.Text); match != nil {
		return match[1]
	}
	return ""
}
