package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"permatweet/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQuotaFirstTimeUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetQuota(ctx, "u1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for first-time user, got %v", err)
	}

	if err := s.IncrementQuota(ctx, "u1", "2026-09-01"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	q, err := s.GetQuota(ctx, "u1")
	if err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if q.DailyRequests != 1 || q.MonthlyRequests != 1 {
		t.Fatalf("got daily=%d monthly=%d, want 1/1", q.DailyRequests, q.MonthlyRequests)
	}
}

func TestQuotaDayRollover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.IncrementQuota(ctx, "u1", "2026-09-01"); err != nil {
			t.Fatal(err)
		}
	}
	// next day, same month: daily resets, monthly carries
	if err := s.IncrementQuota(ctx, "u1", "2026-09-02"); err != nil {
		t.Fatal(err)
	}
	q, _ := s.GetQuota(ctx, "u1")
	if q.DailyRequests != 1 {
		t.Errorf("daily=%d after day rollover, want 1", q.DailyRequests)
	}
	if q.MonthlyRequests != 4 {
		t.Errorf("monthly=%d after day rollover, want 4", q.MonthlyRequests)
	}

	// next month: both reset
	if err := s.IncrementQuota(ctx, "u1", "2026-10-01"); err != nil {
		t.Fatal(err)
	}
	q, _ = s.GetQuota(ctx, "u1")
	if q.DailyRequests != 1 || q.MonthlyRequests != 1 {
		t.Errorf("got daily=%d monthly=%d after month rollover, want 1/1", q.DailyRequests, q.MonthlyRequests)
	}
	if q.LastRequestDate != "2026-10-01" {
		t.Errorf("last_request_date=%q, want 2026-10-01", q.LastRequestDate)
	}
}

func TestRecordLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := ProcessingRecord{
		TweetID:     "100",
		RequesterID: "u1",
		MentionID:   "900",
		Status:      StatusProcessing,
		Snapshot:    model.Tweet{ID: "100", Text: "hello"},
	}
	if err := s.UpsertRecord(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.SetStatus(ctx, "100", "u1", StatusUploadFailed, "bundler down"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRecord(ctx, "100", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusUploadFailed || got.Attempts != 1 {
		t.Fatalf("got status=%s attempts=%d, want upload_failed/1", got.Status, got.Attempts)
	}
	if got.ErrorMessage != "bundler down" {
		t.Errorf("error message = %q", got.ErrorMessage)
	}
	if got.Snapshot.Text != "hello" {
		t.Errorf("snapshot text = %q, want hello", got.Snapshot.Text)
	}

	if err := s.Complete(ctx, "100", "u1", "abc123"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetRecord(ctx, "100", "u1")
	if got.Status != StatusCompleted || got.ArchivalID != "abc123" {
		t.Fatalf("got status=%s archival=%s after complete", got.Status, got.ArchivalID)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error message not cleared on complete: %q", got.ErrorMessage)
	}
}

func TestUpsertRecordPreservesAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := ProcessingRecord{TweetID: "100", RequesterID: "u1", Status: StatusProcessing}
	if err := s.UpsertRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus(ctx, "100", "u1", StatusFetchFailed, "gone"); err != nil {
		t.Fatal(err)
	}
	// re-upserting on retry must not wipe the attempt counter
	rec.Status = StatusProcessing
	if err := s.UpsertRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetRecord(ctx, "100", "u1")
	if got.Attempts != 1 {
		t.Fatalf("attempts=%d after upsert, want 1 preserved", got.Attempts)
	}
	if got.Status != StatusProcessing {
		t.Fatalf("status=%s, want processing", got.Status)
	}
}

func TestRetryableRecordsOrderAndExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []ProcessingRecord{
		{TweetID: "1", RequesterID: "u", Status: StatusOtherFailed},
		{TweetID: "2", RequesterID: "u", Status: StatusCompleted},
		{TweetID: "3", RequesterID: "u", Status: StatusFetchFailed},
		{TweetID: "4", RequesterID: "u", Status: StatusUploadFailed},
		{TweetID: "5", RequesterID: "u", Status: StatusDeadLetter},
		{TweetID: "6", RequesterID: "u", Status: StatusQuotaBlocked},
		{TweetID: "7", RequesterID: "u", Status: StatusProcessing},
	}
	for _, r := range seed {
		if err := s.UpsertRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.RetryableRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d retryable records, want 3", len(recs))
	}
	want := []string{"4", "3", "1"} // upload, fetch, other
	for i, r := range recs {
		if r.TweetID != want[i] {
			t.Errorf("position %d: got tweet %s, want %s", i, r.TweetID, want[i])
		}
	}
}

func TestCredentialConsumeAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	renew := time.Now().UTC().Add(30 * 24 * time.Hour)
	if err := s.UpsertCredential(ctx, "primary", "tok-a", 100, renew); err != nil {
		t.Fatal(err)
	}
	creds, err := s.Credentials(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(creds) != 1 {
		t.Fatalf("got %d credentials", len(creds))
	}
	id := creds[0].ID

	if err := s.ConsumeCredential(ctx, id, 7); err != nil {
		t.Fatal(err)
	}
	// re-seed with a new token keeps the counter
	if err := s.UpsertCredential(ctx, "primary", "tok-b", 200, renew); err != nil {
		t.Fatal(err)
	}
	creds, _ = s.Credentials(ctx)
	if creds[0].RequestCount != 7 {
		t.Errorf("request_count=%d after re-seed, want 7", creds[0].RequestCount)
	}
	if creds[0].BearerToken != "tok-b" || creds[0].RequestLimit != 200 {
		t.Errorf("token/limit not refreshed: %+v", creds[0])
	}

	if err := s.ResetCredential(ctx, id, renew.Add(30*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	creds, _ = s.Credentials(ctx)
	if creds[0].RequestCount != 0 {
		t.Errorf("request_count=%d after reset, want 0", creds[0].RequestCount)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.LoadCursor(ctx, "intake:last_mention_ts")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Fatalf("got %q for missing cursor, want empty", v)
	}

	if err := s.SaveCursor(ctx, "intake:last_mention_ts", "2026-09-01T10:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveCursor(ctx, "intake:last_mention_ts", "2026-09-01T11:00:00Z"); err != nil {
		t.Fatal(err)
	}
	v, _ = s.LoadCursor(ctx, "intake:last_mention_ts")
	if v != "2026-09-01T11:00:00Z" {
		t.Fatalf("cursor=%q, want latest value", v)
	}
}
