package scrape

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func authCookies(expires time.Time) []*network.Cookie {
	exp := float64(expires.Unix())
	return []*network.Cookie{
		{Name: "auth_token", Value: "aaa", Domain: ".x.com", Expires: exp},
		{Name: "ct0", Value: "bbb", Domain: ".x.com", Expires: exp},
		{Name: "guest_id", Value: "ccc", Domain: ".x.com", Expires: exp},
	}
}

func TestCookieStoreRoundTrip(t *testing.T) {
	cs := NewCookieStore(filepath.Join(t.TempDir(), "session", "cookies.json"))
	expires := time.Now().Add(24 * time.Hour)

	if err := cs.Save(authCookies(expires)); err != nil {
		t.Fatalf("save: %v", err)
	}
	stored, err := cs.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(stored.Cookies) != 3 {
		t.Fatalf("got %d cookies", len(stored.Cookies))
	}
	if stored.ExpiresAt.Unix() != expires.Unix() {
		t.Errorf("expires_at = %v, want %v", stored.ExpiresAt, expires)
	}
	if !cs.IsValid() {
		t.Error("fresh session reported invalid")
	}
}

func TestCookieStoreExpired(t *testing.T) {
	cs := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	if err := cs.Save(authCookies(time.Now().Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if cs.IsValid() {
		t.Error("expired session reported valid")
	}
}

func TestCookieStoreMissingAuthCookies(t *testing.T) {
	cs := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	exp := float64(time.Now().Add(24 * time.Hour).Unix())
	cookies := []*network.Cookie{
		{Name: "guest_id", Value: "ccc", Expires: exp},
	}
	if err := cs.Save(cookies); err != nil {
		t.Fatal(err)
	}
	if cs.IsValid() {
		t.Error("session without auth cookies reported valid")
	}
}

func TestCookieStoreClear(t *testing.T) {
	cs := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	if err := cs.Save(authCookies(time.Now().Add(24 * time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := cs.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := cs.Load(); !os.IsNotExist(err) {
		t.Errorf("load after clear: %v", err)
	}
	if cs.IsValid() {
		t.Error("cleared session reported valid")
	}
}
