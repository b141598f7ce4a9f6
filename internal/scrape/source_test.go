package scrape

import (
	"testing"
	"time"

	"permatweet/internal/model"
)

func TestMentionsFromRawFiltersBySince(t *testing.T) {
	raw := []rawMention{
		{ID: "1", AuthorHandle: "alice", Text: "old", Timestamp: "2026-09-01T09:00:00Z"},
		{ID: "2", AuthorHandle: "bob", Text: "new", Timestamp: "2026-09-01T11:00:00Z"},
		{ID: "3", AuthorHandle: "carol", Text: "boundary", Timestamp: "2026-09-01T10:00:00Z"},
	}
	since := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	got := mentionsFromRaw(raw, since)
	if len(got) != 1 {
		t.Fatalf("got %d mentions, want 1", len(got))
	}
	if got[0].ID != "2" || got[0].AuthorID != "bob" {
		t.Errorf("mention = %+v", got[0])
	}
	if got[0].Author == nil || got[0].Author.Username != "bob" {
		t.Errorf("author = %+v", got[0].Author)
	}
}

func TestMentionsFromRawQuoteReference(t *testing.T) {
	raw := []rawMention{
		{ID: "1", AuthorHandle: "alice", Timestamp: "2026-09-01T11:00:00Z", QuotedID: "555"},
	}
	got := mentionsFromRaw(raw, time.Time{})
	if len(got) != 1 {
		t.Fatalf("got %d mentions", len(got))
	}
	refs := got[0].References
	if len(refs) != 1 || refs[0].Type != model.RefQuoted || refs[0].ID != "555" {
		t.Errorf("references = %v", refs)
	}
}

func TestMentionsFromRawZeroSinceKeepsAll(t *testing.T) {
	raw := []rawMention{
		{ID: "1", Timestamp: "2020-01-01T00:00:00Z"},
		{ID: "2", Timestamp: ""},
	}
	got := mentionsFromRaw(raw, time.Time{})
	if len(got) != 2 {
		t.Fatalf("got %d mentions, want 2", len(got))
	}
}
