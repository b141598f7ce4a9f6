package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"time"

	"go.uber.org/zap"

	"permatweet/internal/config"
	"permatweet/internal/metrics"
)

// txIDRe matches an Arweave transaction ID: exactly 43 URL-safe base64 chars.
var txIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

// ValidTxID reports whether s is a usable archive transaction identifier.
func ValidTxID(s string) bool { return txIDRe.MatchString(s) }

// Result is the uniform outcome of either upload path.
type Result struct {
	Success bool
	ID      string
	Err     string
}

// Uploader stores a byte buffer on the archival network.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) Result
	URL(txID string) string
}

// execCommand is swappable for tests.
var execCommand = exec.CommandContext

// ArweaveUploader chooses between the synchronous signed-upload bundler
// path for small buffers and the asynchronous on-chain process-spawn path
// for large ones, based on a fixed byte threshold.
type ArweaveUploader struct {
	cfg        config.ArchiveConfig
	httpClient *http.Client
	log        *zap.Logger
}

func NewArweaveUploader(cfg config.ArchiveConfig, log *zap.Logger) *ArweaveUploader {
	return &ArweaveUploader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		log:        log,
	}
}

func (u *ArweaveUploader) Upload(ctx context.Context, data []byte, contentType string) Result {
	if len(data) <= u.cfg.SizeThreshold {
		return u.uploadDirect(ctx, data, contentType)
	}
	return u.uploadChain(ctx, data, contentType)
}

// URL builds the public archive link for a transaction ID.
func (u *ArweaveUploader) URL(txID string) string {
	return fmt.Sprintf("https://%s/%s", u.cfg.Gateway, txID)
}

// uploadDirect posts the buffer to the bundler and returns the settled
// transaction ID immediately.
func (u *ArweaveUploader) uploadDirect(ctx context.Context, data []byte, contentType string) Result {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.BundlerURL+"/tx", bytes.NewReader(data))
	if err != nil {
		return Result{Err: err.Error()}
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return Result{Err: err.Error()}
	}
	defer resp.Body.Close()
	bz, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Result{Err: fmt.Sprintf("bundler status %d", resp.StatusCode)}
	}
	var raw struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(bz, &raw); err != nil {
		return Result{Err: fmt.Sprintf("bundler response: %v", err)}
	}
	if !ValidTxID(raw.ID) {
		return Result{Err: fmt.Sprintf("bundler returned invalid tx id %q", raw.ID)}
	}
	metrics.ObserveUpload("direct", start)
	u.log.Info("direct upload settled", zap.String("tx_id", raw.ID), zap.Int("bytes", len(data)))
	return Result{Success: true, ID: raw.ID}
}

// uploadChain spawns the external on-chain uploader and parses the
// transaction ID from its output. The transaction settles later; the ID
// is usable as a link as soon as the process reports it.
func (u *ArweaveUploader) uploadChain(ctx context.Context, data []byte, contentType string) Result {
	start := time.Now()
	f, err := os.CreateTemp("", "permatweet-upload-*")
	if err != nil {
		return Result{Err: err.Error()}
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return Result{Err: err.Error()}
	}
	if err := f.Close(); err != nil {
		return Result{Err: err.Error()}
	}

	cmd := execCommand(ctx, u.cfg.UploaderBin,
		f.Name(),
		"--key-file", u.cfg.WalletPath,
		"--content-type", contentType,
		"--no-confirmation")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Result{Err: fmt.Sprintf("uploader process: %v: %s", err, truncate(out, 200))}
	}
	id := findTxID(string(out))
	if id == "" {
		return Result{Err: fmt.Sprintf("no tx id in uploader output: %s", truncate(out, 200))}
	}
	metrics.ObserveUpload("chain", start)
	u.log.Info("chain upload submitted", zap.String("tx_id", id), zap.Int("bytes", len(data)))
	return Result{Success: true, ID: id}
}

var txIDScanRe = regexp.MustCompile(`[A-Za-z0-9_-]{43}`)

// findTxID scans process output for the first token shaped like a tx ID.
func findTxID(out string) string {
	return txIDScanRe.FindString(out)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
