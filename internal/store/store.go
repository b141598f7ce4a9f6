package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"permatweet/internal/model"
)

// Status is the lifecycle state of a ProcessingRecord.
type Status string

const (
	StatusCreated      Status = "created"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusUploadFailed Status = "upload_failed"
	StatusFetchFailed  Status = "fetch_failed"
	StatusOtherFailed  Status = "other_failed"
	StatusQuotaBlocked Status = "quota_blocked"
	StatusDeadLetter   Status = "dead_letter"
)

// RetryBuckets lists the retry-eligible statuses in drain order.
var RetryBuckets = []Status{StatusUploadFailed, StatusFetchFailed, StatusOtherFailed}

// ProcessingRecord tracks one (tweet, requester) archival attempt.
// Records are never deleted; they double as the audit log.
type ProcessingRecord struct {
	TweetID      string
	RequesterID  string
	MentionID    string
	Status       Status
	Attempts     int
	Snapshot     model.Tweet
	ArchivalID   string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Quota is one user's request counters.
type Quota struct {
	UserID          string
	DailyRequests   int
	MonthlyRequests int
	LastRequestDate string // YYYY-MM-DD
}

// Credential is one persisted API credential set.
type Credential struct {
	ID           int64
	Name         string
	BearerToken  string
	RequestCount int64
	RequestLimit int64
	RenewDate    time.Time
	IsActive     bool
}

// UsageEvent types written to the usage log.
const (
	EventSuccess       = "success"
	EventError         = "error"
	EventQuotaExceeded = "quota_exceeded"
)

// Store wraps the SQLite database holding all durable bot state.
type Store struct{ sql *sql.DB }

func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		return nil, err
	}
	s := &Store{sql: d}
	if err := s.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.sql.Close() }

func (s *Store) migrate() error {
	_, err := s.sql.Exec(`
	CREATE TABLE IF NOT EXISTS users (
	  id TEXT PRIMARY KEY,
	  username TEXT NOT NULL,
	  display_name TEXT,
	  avatar_url TEXT,
	  verified INTEGER NOT NULL DEFAULT 0,
	  created_at INTEGER NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS user_quotas (
	  user_id TEXT PRIMARY KEY,
	  daily_requests INTEGER NOT NULL DEFAULT 0,
	  monthly_requests INTEGER NOT NULL DEFAULT 0,
	  last_request_date TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS usage_logs (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  user_id TEXT NOT NULL,
	  tweet_id TEXT NOT NULL,
	  event_type TEXT NOT NULL,
	  archival_id TEXT,
	  error_message TEXT,
	  created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS processing_records (
	  tweet_id TEXT NOT NULL,
	  requester_id TEXT NOT NULL,
	  mention_id TEXT,
	  status TEXT NOT NULL,
	  attempts INTEGER NOT NULL DEFAULT 0,
	  snapshot TEXT,
	  archival_id TEXT,
	  error_message TEXT,
	  created_at INTEGER NOT NULL,
	  updated_at INTEGER NOT NULL,
	  PRIMARY KEY (tweet_id, requester_id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_status ON processing_records(status);
	CREATE TABLE IF NOT EXISTS credentials (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  name TEXT NOT NULL UNIQUE,
	  bearer_token TEXT NOT NULL,
	  request_count INTEGER NOT NULL DEFAULT 0,
	  request_limit INTEGER NOT NULL DEFAULT 0,
	  renew_date INTEGER NOT NULL,
	  is_active INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS cursors (
	  key TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`)
	return err
}

// UpsertUser creates or refreshes a user profile.
func (s *Store) UpsertUser(ctx context.Context, u model.User) error {
	if u.ID == "" {
		return errors.New("empty user id")
	}
	now := time.Now().UTC().Unix()
	_, err := s.sql.ExecContext(ctx, `
	INSERT INTO users(id, username, display_name, avatar_url, verified, created_at, updated_at)
	VALUES(?,?,?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET
	  username=excluded.username,
	  display_name=excluded.display_name,
	  avatar_url=excluded.avatar_url,
	  verified=excluded.verified,
	  updated_at=excluded.updated_at`,
		u.ID, u.Username, u.Name, u.AvatarURL, boolInt(u.Verified), now, now)
	return err
}

// GetQuota loads a user's quota row. Returns sql.ErrNoRows for first-time users.
func (s *Store) GetQuota(ctx context.Context, userID string) (Quota, error) {
	var q Quota
	row := s.sql.QueryRowContext(ctx,
		`SELECT user_id, daily_requests, monthly_requests, last_request_date FROM user_quotas WHERE user_id=?`, userID)
	err := row.Scan(&q.UserID, &q.DailyRequests, &q.MonthlyRequests, &q.LastRequestDate)
	return q, err
}

// IncrementQuota bumps a user's counters for the given day in one atomic
// statement. A counter resets to 1 when its stored period has rolled over.
func (s *Store) IncrementQuota(ctx context.Context, userID string, day string) error {
	_, err := s.sql.ExecContext(ctx, `
	INSERT INTO user_quotas(user_id, daily_requests, monthly_requests, last_request_date)
	VALUES(?, 1, 1, ?)
	ON CONFLICT(user_id) DO UPDATE SET
	  daily_requests = CASE
	    WHEN user_quotas.last_request_date = excluded.last_request_date
	    THEN user_quotas.daily_requests + 1 ELSE 1 END,
	  monthly_requests = CASE
	    WHEN substr(user_quotas.last_request_date, 1, 7) = substr(excluded.last_request_date, 1, 7)
	    THEN user_quotas.monthly_requests + 1 ELSE 1 END,
	  last_request_date = excluded.last_request_date`,
		userID, day)
	return err
}

// InsertUsageLog appends a write-once usage event.
func (s *Store) InsertUsageLog(ctx context.Context, userID, tweetID, eventType, archivalID, errMsg string) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO usage_logs(user_id, tweet_id, event_type, archival_id, error_message, created_at) VALUES(?,?,?,?,?,?)`,
		userID, tweetID, eventType, archivalID, errMsg, time.Now().UTC().Unix())
	return err
}

// UsageLog is one recorded usage event.
type UsageLog struct {
	UserID       string
	TweetID      string
	EventType    string
	ArchivalID   string
	ErrorMessage string
	CreatedAt    time.Time
}

// UsageLogs returns a user's usage events, newest first.
func (s *Store) UsageLogs(ctx context.Context, userID string, limit int) ([]UsageLog, error) {
	rows, err := s.sql.QueryContext(ctx, `
	SELECT user_id, tweet_id, event_type, archival_id, error_message, created_at
	FROM usage_logs WHERE user_id=? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UsageLog
	for rows.Next() {
		var l UsageLog
		var archivalID, errMsg sql.NullString
		var created int64
		if err := rows.Scan(&l.UserID, &l.TweetID, &l.EventType, &archivalID, &errMsg, &created); err != nil {
			return nil, err
		}
		l.ArchivalID = archivalID.String
		l.ErrorMessage = errMsg.String
		l.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertRecord creates or overwrites the record for a (tweet, requester)
// pair at the given status, storing the tweet snapshot.
func (s *Store) UpsertRecord(ctx context.Context, rec ProcessingRecord) error {
	snap, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Unix()
	_, err = s.sql.ExecContext(ctx, `
	INSERT INTO processing_records(tweet_id, requester_id, mention_id, status, attempts, snapshot, archival_id, error_message, created_at, updated_at)
	VALUES(?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(tweet_id, requester_id) DO UPDATE SET
	  mention_id=excluded.mention_id,
	  status=excluded.status,
	  snapshot=excluded.snapshot,
	  error_message=excluded.error_message,
	  updated_at=excluded.updated_at`,
		rec.TweetID, rec.RequesterID, rec.MentionID, rec.Status, rec.Attempts,
		string(snap), rec.ArchivalID, rec.ErrorMessage, now, now)
	return err
}

// SetStatus moves a record to status, recording the attempt and error message.
func (s *Store) SetStatus(ctx context.Context, tweetID, requesterID string, status Status, errMsg string) error {
	_, err := s.sql.ExecContext(ctx, `
	UPDATE processing_records
	SET status=?, error_message=?, attempts=attempts+1, updated_at=?
	WHERE tweet_id=? AND requester_id=?`,
		status, errMsg, time.Now().UTC().Unix(), tweetID, requesterID)
	return err
}

// Complete marks a record completed with its archival ID.
func (s *Store) Complete(ctx context.Context, tweetID, requesterID, archivalID string) error {
	_, err := s.sql.ExecContext(ctx, `
	UPDATE processing_records
	SET status=?, archival_id=?, error_message='', updated_at=?
	WHERE tweet_id=? AND requester_id=?`,
		StatusCompleted, archivalID, time.Now().UTC().Unix(), tweetID, requesterID)
	return err
}

// UpdateSnapshot replaces the stored tweet snapshot for a record.
func (s *Store) UpdateSnapshot(ctx context.Context, tweetID, requesterID string, t model.Tweet) error {
	snap, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.sql.ExecContext(ctx,
		`UPDATE processing_records SET snapshot=?, updated_at=? WHERE tweet_id=? AND requester_id=?`,
		string(snap), time.Now().UTC().Unix(), tweetID, requesterID)
	return err
}

// GetRecord loads one record.
func (s *Store) GetRecord(ctx context.Context, tweetID, requesterID string) (ProcessingRecord, error) {
	row := s.sql.QueryRowContext(ctx, `
	SELECT tweet_id, requester_id, mention_id, status, attempts, snapshot, archival_id, error_message, created_at, updated_at
	FROM processing_records WHERE tweet_id=? AND requester_id=?`, tweetID, requesterID)
	return scanRecord(row)
}

// RetryableRecords returns all retry-eligible records, bucketed in drain
// order (upload_failed, fetch_failed, other_failed) and oldest-failure
// first within a bucket. Completed records are never selected.
func (s *Store) RetryableRecords(ctx context.Context) ([]ProcessingRecord, error) {
	rows, err := s.sql.QueryContext(ctx, `
	SELECT tweet_id, requester_id, mention_id, status, attempts, snapshot, archival_id, error_message, created_at, updated_at
	FROM processing_records
	WHERE status IN (?,?,?)
	ORDER BY CASE status WHEN ? THEN 0 WHEN ? THEN 1 ELSE 2 END, updated_at ASC`,
		StatusUploadFailed, StatusFetchFailed, StatusOtherFailed,
		StatusUploadFailed, StatusFetchFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProcessingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanRecord(row scanner) (ProcessingRecord, error) {
	var rec ProcessingRecord
	var snap sql.NullString
	var archivalID, errMsg, mentionID sql.NullString
	var created, updated int64
	err := row.Scan(&rec.TweetID, &rec.RequesterID, &mentionID, &rec.Status, &rec.Attempts,
		&snap, &archivalID, &errMsg, &created, &updated)
	if err != nil {
		return rec, err
	}
	rec.MentionID = mentionID.String
	rec.ArchivalID = archivalID.String
	rec.ErrorMessage = errMsg.String
	rec.CreatedAt = time.Unix(created, 0).UTC()
	rec.UpdatedAt = time.Unix(updated, 0).UTC()
	if snap.Valid && snap.String != "" {
		_ = json.Unmarshal([]byte(snap.String), &rec.Snapshot)
	}
	return rec, nil
}

// UpsertCredential seeds or refreshes a credential set by name, preserving
// the stored request counter.
func (s *Store) UpsertCredential(ctx context.Context, name, bearerToken string, requestLimit int64, renewDate time.Time) error {
	_, err := s.sql.ExecContext(ctx, `
	INSERT INTO credentials(name, bearer_token, request_count, request_limit, renew_date, is_active)
	VALUES(?,?,0,?,?,1)
	ON CONFLICT(name) DO UPDATE SET
	  bearer_token=excluded.bearer_token,
	  request_limit=excluded.request_limit`,
		name, bearerToken, requestLimit, renewDate.Unix())
	return err
}

// Credentials returns all credential sets.
func (s *Store) Credentials(ctx context.Context) ([]Credential, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT id, name, bearer_token, request_count, request_limit, renew_date, is_active FROM credentials ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Credential
	for rows.Next() {
		var c Credential
		var renew int64
		var active int
		if err := rows.Scan(&c.ID, &c.Name, &c.BearerToken, &c.RequestCount, &c.RequestLimit, &renew, &active); err != nil {
			return nil, err
		}
		c.RenewDate = time.Unix(renew, 0).UTC()
		c.IsActive = active != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConsumeCredential atomically adds n to a credential's request counter.
func (s *Store) ConsumeCredential(ctx context.Context, id int64, n int64) error {
	_, err := s.sql.ExecContext(ctx,
		`UPDATE credentials SET request_count=request_count+? WHERE id=?`, n, id)
	return err
}

// ResetCredential zeroes a credential's counter and advances its renewal date.
func (s *Store) ResetCredential(ctx context.Context, id int64, renewDate time.Time) error {
	_, err := s.sql.ExecContext(ctx,
		`UPDATE credentials SET request_count=0, renew_date=? WHERE id=?`, renewDate.Unix(), id)
	return err
}

// SaveCursor stores a named cursor value.
func (s *Store) SaveCursor(ctx context.Context, key, value string) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO cursors(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// LoadCursor returns a named cursor value, or "" if absent.
func (s *Store) LoadCursor(ctx context.Context, key string) (string, error) {
	row := s.sql.QueryRowContext(ctx, `SELECT value FROM cursors WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
