package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"permatweet/internal/config"
	"permatweet/internal/store"
)

// Decision is the outcome of a quota check. Remaining counts use
// post-decrement accounting: they report the budget left after the
// request being gated succeeds.
type Decision struct {
	Allowed          bool
	Reason           string
	DailyRemaining   int
	MonthlyRemaining int
}

// Gate enforces per-user daily/monthly request limits.
// Storage errors fail open: availability over strict enforcement.
type Gate struct {
	st  *store.Store
	cfg config.QuotaConfig
	log *zap.Logger
	now func() time.Time
}

func New(st *store.Store, cfg config.QuotaConfig, log *zap.Logger) *Gate {
	return &Gate{st: st, cfg: cfg, log: log, now: time.Now}
}

// Check reports whether userID may make one more request.
func (g *Gate) Check(ctx context.Context, userID string) Decision {
	full := Decision{
		Allowed:          true,
		DailyRemaining:   g.cfg.DailyLimit,
		MonthlyRemaining: g.cfg.MonthlyLimit,
	}
	q, err := g.st.GetQuota(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		// first-time user: full budget
		return full
	}
	if err != nil {
		g.log.Warn("quota check failed open", zap.String("user_id", userID), zap.Error(err))
		return full
	}

	today := g.now().UTC().Format("2006-01-02")
	daily, monthly := q.DailyRequests, q.MonthlyRequests
	if q.LastRequestDate != today {
		daily = 0
	}
	if len(q.LastRequestDate) >= 7 && q.LastRequestDate[:7] != today[:7] {
		monthly = 0
	}

	dailyRemaining := remaining(g.cfg.DailyLimit, daily)
	monthlyRemaining := remaining(g.cfg.MonthlyLimit, monthly)
	if g.cfg.DailyLimit > 0 && dailyRemaining == 0 {
		return Decision{
			Reason:           fmt.Sprintf("daily limit of %d reached", g.cfg.DailyLimit),
			DailyRemaining:   0,
			MonthlyRemaining: postDecrement(g.cfg.MonthlyLimit, monthly),
		}
	}
	if g.cfg.MonthlyLimit > 0 && monthlyRemaining == 0 {
		return Decision{
			Reason:           fmt.Sprintf("monthly limit of %d reached", g.cfg.MonthlyLimit),
			DailyRemaining:   postDecrement(g.cfg.DailyLimit, daily),
			MonthlyRemaining: 0,
		}
	}
	return Decision{
		Allowed:          true,
		DailyRemaining:   postDecrement(g.cfg.DailyLimit, daily),
		MonthlyRemaining: postDecrement(g.cfg.MonthlyLimit, monthly),
	}
}

// Record counts one served request against userID. The underlying upsert
// is a single atomic statement, so concurrent increments for the same
// user cannot lose updates.
func (g *Gate) Record(ctx context.Context, userID string) error {
	return g.st.IncrementQuota(ctx, userID, g.now().UTC().Format("2006-01-02"))
}

func remaining(limit, used int) int {
	if limit <= 0 {
		return 1 // dimension disabled, always one more available
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

func postDecrement(limit, used int) int {
	if limit <= 0 {
		return 0
	}
	r := limit - used - 1
	if r < 0 {
		return 0
	}
	return r
}
