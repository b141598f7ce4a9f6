package credpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"permatweet/internal/store"
)

// ErrNoCredential is returned when every credential set has exhausted its
// request budget. Callers must surface this instead of attempting the call.
var ErrNoCredential = errors.New("no credential with remaining budget")

// renewPeriod is how far the renewal date advances when a counter resets.
const renewPeriod = 30 * 24 * time.Hour

// Pool selects among persisted credential sets, reclaiming counters whose
// renewal date has passed and charging consumption to the set backing the
// most recent call. It implements xapi.AccessPolicy.
type Pool struct {
	st  *store.Store
	log *zap.Logger
	now func() time.Time

	mu       sync.Mutex
	activeID int64
}

func New(st *store.Store, log *zap.Logger) *Pool {
	return &Pool{st: st, log: log, now: time.Now}
}

// Acquire resets any credential whose renewal date has passed, then
// returns the active set with the most remaining budget.
func (p *Pool) Acquire(ctx context.Context) (store.Credential, error) {
	creds, err := p.st.Credentials(ctx)
	if err != nil {
		return store.Credential{}, err
	}
	now := p.now().UTC()
	for i, c := range creds {
		if !c.RenewDate.After(now) {
			if err := p.st.ResetCredential(ctx, c.ID, now.Add(renewPeriod)); err != nil {
				p.log.Warn("credential reset failed", zap.String("name", c.Name), zap.Error(err))
				continue
			}
			creds[i].RequestCount = 0
			p.log.Info("credential counter reclaimed", zap.String("name", c.Name))
		}
	}

	best := -1
	var bestRemaining int64
	for i, c := range creds {
		if !c.IsActive {
			continue
		}
		rem := c.RequestLimit - c.RequestCount
		if c.RequestLimit <= 0 {
			rem = 1 << 30 // unlimited
		}
		if rem <= 0 {
			continue
		}
		if best == -1 || rem > bestRemaining {
			best = i
			bestRemaining = rem
		}
	}
	if best == -1 {
		return store.Credential{}, ErrNoCredential
	}
	return creds[best], nil
}

// Token selects the best available credential and remembers it as the
// target of the next Consume call.
func (p *Pool) Token(ctx context.Context) (string, error) {
	cred, err := p.Acquire(ctx)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.activeID = cred.ID
	p.mu.Unlock()
	return cred.BearerToken, nil
}

// Consume charges n logical requests to the credential backing the most
// recent Token call.
func (p *Pool) Consume(ctx context.Context, n int64) error {
	p.mu.Lock()
	id := p.activeID
	p.mu.Unlock()
	if id == 0 {
		return nil
	}
	return p.st.ConsumeCredential(ctx, id, n)
}

// Seed upserts configured credential sets into the store, preserving any
// stored request counters.
func (p *Pool) Seed(ctx context.Context, sets []SeedSet) error {
	renew := p.now().UTC().Add(renewPeriod)
	for _, s := range sets {
		if err := p.st.UpsertCredential(ctx, s.Name, s.BearerToken, s.RequestLimit, renew); err != nil {
			return err
		}
	}
	return nil
}

// SeedSet is one configured credential set.
type SeedSet struct {
	Name         string
	BearerToken  string
	RequestLimit int64
}
