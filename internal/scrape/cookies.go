package scrape

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
)

// CookieStore persists the X.com session cookies the scrape source needs
// between runs, so a login survives process restarts.
type CookieStore struct {
	path string
}

// StoredCookies is the persisted cookie payload.
type StoredCookies struct {
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path}
}

// Save persists cookies to disk, recording the earliest expiry among the
// auth cookies so IsValid can report staleness without a browser.
func (cs *CookieStore) Save(cookies []*network.Cookie) error {
	if err := os.MkdirAll(filepath.Dir(cs.path), 0o700); err != nil {
		return err
	}
	var earliest time.Time
	for _, c := range cookies {
		if c.Name == "auth_token" || c.Name == "ct0" {
			exp := time.Unix(int64(c.Expires), 0)
			if earliest.IsZero() || exp.Before(earliest) {
				earliest = exp
			}
		}
	}
	data, err := json.MarshalIndent(StoredCookies{
		Cookies:    cookies,
		CapturedAt: time.Now(),
		ExpiresAt:  earliest,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cs.path, data, 0o600)
}

// Load retrieves cookies from disk.
func (cs *CookieStore) Load() (*StoredCookies, error) {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		return nil, err
	}
	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// IsValid reports whether stored cookies exist, carry the required auth
// cookies, and have not expired.
func (cs *CookieStore) IsValid() bool {
	stored, err := cs.Load()
	if err != nil {
		return false
	}
	if time.Now().After(stored.ExpiresAt) {
		return false
	}
	hasAuth, hasCT0 := false, false
	for _, c := range stored.Cookies {
		switch c.Name {
		case "auth_token":
			hasAuth = true
		case "ct0":
			hasCT0 = true
		}
	}
	return hasAuth && hasCT0
}

// Clear removes stored cookies.
func (cs *CookieStore) Clear() error {
	return os.Remove(cs.path)
}
