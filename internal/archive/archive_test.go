package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"go.uber.org/zap"

	"permatweet/internal/config"
)

const sampleTxID = "aBcDeFgHiJkLmNoPqRsTuVwXyZ0123456789-_AbCdE"

func TestValidTxID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{sampleTxID, true},
		{strings.Repeat("a", 43), true},
		{strings.Repeat("a", 42), false},
		{strings.Repeat("a", 44), false},
		{"", false},
		{strings.Repeat("a", 42) + "!", false},
		{strings.Repeat("a", 42) + "=", false},
	}
	for _, tc := range cases {
		if got := ValidTxID(tc.id); got != tc.want {
			t.Errorf("ValidTxID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestUploadDirectSmallBuffer(t *testing.T) {
	var gotBody []byte
	var gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tx" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotCT = r.Header.Get("Content-Type")
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		gotBody = buf.Bytes()
		fmt.Fprintf(w, `{"id":%q}`, sampleTxID)
	}))
	defer srv.Close()

	u := NewArweaveUploader(config.ArchiveConfig{
		BundlerURL:    srv.URL,
		Gateway:       "arweave.net",
		SizeThreshold: 100 * 1024,
	}, zap.NewNop())

	data := bytes.Repeat([]byte{0x89}, 40*1024)
	res := u.Upload(context.Background(), data, "image/png")
	if !res.Success {
		t.Fatalf("upload failed: %s", res.Err)
	}
	if res.ID != sampleTxID {
		t.Errorf("id = %q", res.ID)
	}
	if !bytes.Equal(gotBody, data) {
		t.Error("bundler did not receive the buffer verbatim")
	}
	if gotCT != "image/png" {
		t.Errorf("content type = %q", gotCT)
	}
	if got := u.URL(res.ID); got != "https://arweave.net/"+sampleTxID {
		t.Errorf("URL = %q", got)
	}
}

func TestUploadDirectRejectsBadTxID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"too-short"}`)
	}))
	defer srv.Close()

	u := NewArweaveUploader(config.ArchiveConfig{BundlerURL: srv.URL, SizeThreshold: 1024}, zap.NewNop())
	res := u.Upload(context.Background(), []byte("x"), "image/png")
	if res.Success {
		t.Fatal("accepted malformed tx id")
	}
	if !strings.Contains(res.Err, "invalid tx id") {
		t.Errorf("err = %q", res.Err)
	}
}

func TestUploadDirectBundlerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u := NewArweaveUploader(config.ArchiveConfig{BundlerURL: srv.URL, SizeThreshold: 1024}, zap.NewNop())
	res := u.Upload(context.Background(), []byte("x"), "image/png")
	if res.Success {
		t.Fatal("upload reported success on 502")
	}
	if !strings.Contains(res.Err, "502") {
		t.Errorf("err = %q", res.Err)
	}
}

func TestUploadChainLargeBuffer(t *testing.T) {
	var gotArgs []string
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotArgs = append([]string{name}, args...)
		return exec.CommandContext(ctx, "echo", "Uploaded to https://arweave.net/"+sampleTxID)
	}
	t.Cleanup(func() { execCommand = exec.CommandContext })

	u := NewArweaveUploader(config.ArchiveConfig{
		UploaderBin:   "arweave-deploy",
		WalletPath:    "/keys/wallet.json",
		Gateway:       "arweave.net",
		SizeThreshold: 100,
	}, zap.NewNop())

	res := u.Upload(context.Background(), bytes.Repeat([]byte{1}, 200), "image/png")
	if !res.Success {
		t.Fatalf("chain upload failed: %s", res.Err)
	}
	if res.ID != sampleTxID {
		t.Errorf("id = %q", res.ID)
	}
	if gotArgs[0] != "arweave-deploy" {
		t.Errorf("spawned %q", gotArgs[0])
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"--key-file /keys/wallet.json", "--content-type image/png", "--no-confirmation"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestUploadChainNoTxIDInOutput(t *testing.T) {
	execCommand = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "echo", "something went sideways")
	}
	t.Cleanup(func() { execCommand = exec.CommandContext })

	u := NewArweaveUploader(config.ArchiveConfig{SizeThreshold: 0}, zap.NewNop())
	res := u.Upload(context.Background(), []byte("big"), "image/png")
	if res.Success {
		t.Fatal("success without a tx id")
	}
	if !strings.Contains(res.Err, "no tx id") {
		t.Errorf("err = %q", res.Err)
	}
}

func TestFindTxID(t *testing.T) {
	out := "Submitting...\nYour file is deployed at https://arweave.net/" + sampleTxID + "\nDone."
	if got := findTxID(out); got != sampleTxID {
		t.Errorf("findTxID = %q", got)
	}
	if got := findTxID("nothing here"); got != "" {
		t.Errorf("findTxID on noise = %q", got)
	}
}
