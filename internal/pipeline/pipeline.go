package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"permatweet/internal/archive"
	"permatweet/internal/intake"
	"permatweet/internal/metrics"
	"permatweet/internal/model"
	"permatweet/internal/quota"
	"permatweet/internal/render"
	"permatweet/internal/resolve"
	"permatweet/internal/store"
	"permatweet/internal/xapi"
)

// MentionSource yields the batch of new mentions for one poll tick.
// The API poller and the browser scraper both implement it.
type MentionSource interface {
	MentionsSince(ctx context.Context, since time.Time) ([]model.Mention, error)
}

// ErrCycleInProgress is returned when RunCycle is invoked while another
// run holds the single-run lock.
var ErrCycleInProgress = errors.New("a pipeline cycle is already running")

const cursorKey = "intake:last_mention_ts"

// Pipeline drives processing records through render and upload, one
// strictly sequential cycle at a time.
type Pipeline struct {
	st          *store.Store
	client      xapi.Client
	source      MentionSource
	gate        *quota.Gate
	renderer    render.Renderer
	uploader    archive.Uploader
	maxAttempts int
	log         *zap.Logger

	// guards one active run; out-of-band invocations are rejected
	// rather than queued
	mu sync.Mutex
}

func New(st *store.Store, client xapi.Client, source MentionSource, gate *quota.Gate,
	renderer render.Renderer, uploader archive.Uploader, maxAttempts int, log *zap.Logger) *Pipeline {
	return &Pipeline{
		st:          st,
		client:      client,
		source:      source,
		gate:        gate,
		renderer:    renderer,
		uploader:    uploader,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// RunCycle performs one poll tick: drain pending retries oldest-first by
// bucket, then intake and process one batch of new mentions. Individual
// item failures are absorbed into retry buckets; only batch-level errors
// propagate, and the caller logs them without stopping the loop.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	if !p.mu.TryLock() {
		return ErrCycleInProgress
	}
	defer p.mu.Unlock()

	start := time.Now()
	metrics.CyclesRun.Inc()
	defer metrics.ObserveCycleDuration(start)

	if err := p.drainRetries(ctx); err != nil {
		p.log.Error("retry drain failed", zap.Error(err))
	}
	return p.intakeNew(ctx)
}

func (p *Pipeline) drainRetries(ctx context.Context) error {
	recs, err := p.st.RetryableRecords(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if p.maxAttempts > 0 && rec.Attempts >= p.maxAttempts {
			p.log.Warn("record dead-lettered",
				zap.String("tweet_id", rec.TweetID),
				zap.String("requester_id", rec.RequesterID),
				zap.Int("attempts", rec.Attempts))
			if err := p.st.SetStatus(ctx, rec.TweetID, rec.RequesterID, store.StatusDeadLetter, rec.ErrorMessage); err != nil {
				p.log.Error("dead-letter transition failed", zap.Error(err))
			}
			continue
		}
		metrics.RetriesDrained.WithLabelValues(string(rec.Status)).Inc()
		switch rec.Status {
		case store.StatusUploadFailed:
			// snapshot is already stored: re-render and retry the
			// upload step only
			p.retryUpload(ctx, rec)
		default:
			// fetch_failed and other_failed both re-fetch and fully
			// reprocess
			p.reprocess(ctx, rec)
		}
	}
	return nil
}

func (p *Pipeline) retryUpload(ctx context.Context, rec store.ProcessingRecord) {
	img, err := p.renderer.Render(ctx, rec.Snapshot)
	if err != nil {
		p.fail(ctx, rec.TweetID, rec.RequesterID, store.StatusOtherFailed, "render: "+err.Error())
		return
	}
	p.uploadAndFinish(ctx, rec.MentionID, rec.RequesterID, rec.Snapshot, img)
}

func (p *Pipeline) reprocess(ctx context.Context, rec store.ProcessingRecord) {
	tweets, err := resolve.Tweets(ctx, p.client, []string{rec.TweetID})
	if err != nil {
		p.fail(ctx, rec.TweetID, rec.RequesterID, store.StatusFetchFailed, "fetch: "+err.Error())
		return
	}
	tweet, ok := tweets[rec.TweetID]
	if !ok {
		p.fail(ctx, rec.TweetID, rec.RequesterID, store.StatusFetchFailed, "tweet not found")
		return
	}
	p.process(ctx, rec.MentionID, rec.RequesterID, tweet)
}

func (p *Pipeline) intakeNew(ctx context.Context) error {
	sinceStr, err := p.st.LoadCursor(ctx, cursorKey)
	if err != nil {
		return err
	}
	var since time.Time
	if sinceStr != "" {
		if ts, err := time.Parse(time.RFC3339Nano, sinceStr); err == nil {
			since = ts
		}
	}

	mentions, err := p.source.MentionsSince(ctx, since)
	if err != nil {
		return err
	}
	if len(mentions) == 0 {
		return nil
	}

	res := intake.Resolve(ctx, p.st, mentions, p.log)
	tweets, err := resolve.Tweets(ctx, p.client, res.Unique)
	if err != nil {
		return err
	}

	latest := since
	for _, m := range mentions {
		if m.CreatedAt.After(latest) {
			latest = m.CreatedAt
		}
		target, ok := res.Targets[m.ID]
		if !ok {
			continue
		}
		metrics.MentionsProcessed.Inc()
		tweet, ok := tweets[target]
		if !ok {
			// not in the batch result: not found this cycle, will be
			// re-fetched on a later tick
			rec := store.ProcessingRecord{
				TweetID:      target,
				RequesterID:  m.AuthorID,
				MentionID:    m.ID,
				Status:       store.StatusFetchFailed,
				ErrorMessage: "tweet not found",
			}
			if err := p.st.UpsertRecord(ctx, rec); err != nil {
				p.log.Error("record upsert failed", zap.Error(err))
			}
			continue
		}
		p.process(ctx, m.ID, m.AuthorID, tweet)
	}

	if latest.After(since) {
		if err := p.st.SaveCursor(ctx, cursorKey, latest.Format(time.RFC3339Nano)); err != nil {
			p.log.Error("cursor save failed", zap.Error(err))
		}
	}
	return nil
}

// process takes one resolved (mention, tweet) pair through quota gate,
// visibility check, render, upload, and reply.
func (p *Pipeline) process(ctx context.Context, mentionID, requesterID string, tweet model.Tweet) {
	rec := store.ProcessingRecord{
		TweetID:     tweet.ID,
		RequesterID: requesterID,
		MentionID:   mentionID,
		Status:      store.StatusProcessing,
		Snapshot:    tweet,
	}
	if err := p.st.UpsertRecord(ctx, rec); err != nil {
		p.log.Error("record upsert failed", zap.Error(err))
		return
	}

	d := p.gate.Check(ctx, requesterID)
	if !d.Allowed {
		if err := p.st.SetStatus(ctx, tweet.ID, requesterID, store.StatusQuotaBlocked, d.Reason); err != nil {
			p.log.Error("quota-blocked transition failed", zap.Error(err))
		}
		p.logUsage(ctx, requesterID, tweet.ID, store.EventQuotaExceeded, "", d.Reason)
		p.reply(ctx, mentionID, quotaReply(d), nil)
		return
	}

	if !publiclyVisible(tweet) {
		// private tweets get no reply, by policy
		p.fail(ctx, tweet.ID, requesterID, store.StatusOtherFailed, "tweet is not publicly visible")
		return
	}

	img, err := p.renderer.Render(ctx, tweet)
	if err != nil {
		p.fail(ctx, tweet.ID, requesterID, store.StatusOtherFailed, "render: "+err.Error())
		p.logUsage(ctx, requesterID, tweet.ID, store.EventError, "", err.Error())
		p.reply(ctx, mentionID, errorReply(), nil)
		return
	}

	p.uploadAndFinish(ctx, mentionID, requesterID, tweet, img)
}

// uploadAndFinish runs the upload step and, on success, the completion
// sequence: archival ID stored, quota incremented, success logged, reply
// sent with the archive link and the rendered image attached.
func (p *Pipeline) uploadAndFinish(ctx context.Context, mentionID, requesterID string, tweet model.Tweet, img []byte) {
	res := p.uploader.Upload(ctx, img, "image/png")
	if !res.Success || !archive.ValidTxID(res.ID) {
		msg := res.Err
		if msg == "" {
			msg = "invalid transaction id " + res.ID
		}
		p.fail(ctx, tweet.ID, requesterID, store.StatusUploadFailed, msg)
		p.logUsage(ctx, requesterID, tweet.ID, store.EventError, "", msg)
		return
	}

	if err := p.st.Complete(ctx, tweet.ID, requesterID, res.ID); err != nil {
		p.log.Error("completion failed", zap.Error(err))
		return
	}
	metrics.ArchivesCompleted.Inc()
	if err := p.gate.Record(ctx, requesterID); err != nil {
		p.log.Warn("quota increment failed", zap.String("user_id", requesterID), zap.Error(err))
	}
	p.logUsage(ctx, requesterID, tweet.ID, store.EventSuccess, res.ID, "")
	p.reply(ctx, mentionID, successReply(p.uploader.URL(res.ID)), img)
	p.log.Info("archive completed",
		zap.String("tweet_id", tweet.ID),
		zap.String("requester_id", requesterID),
		zap.String("tx_id", res.ID))
}

func (p *Pipeline) fail(ctx context.Context, tweetID, requesterID string, status store.Status, msg string) {
	p.log.Warn("processing failed",
		zap.String("tweet_id", tweetID),
		zap.String("requester_id", requesterID),
		zap.String("bucket", string(status)),
		zap.String("error", msg))
	if err := p.st.SetStatus(ctx, tweetID, requesterID, status, msg); err != nil {
		p.log.Error("failure transition failed", zap.Error(err))
	}
}

func (p *Pipeline) logUsage(ctx context.Context, userID, tweetID, event, archivalID, errMsg string) {
	if err := p.st.InsertUsageLog(ctx, userID, tweetID, event, archivalID, errMsg); err != nil {
		p.log.Error("usage log insert failed", zap.Error(err))
	}
}

func (p *Pipeline) reply(ctx context.Context, mentionID, text string, media []byte) {
	if mentionID == "" {
		return
	}
	if _, err := p.client.PostReply(ctx, mentionID, text, media); err != nil {
		p.log.Error("reply failed", zap.String("mention_id", mentionID), zap.Error(err))
	}
}

func publiclyVisible(t model.Tweet) bool {
	return t.Author == nil || !t.Author.Protected
}
