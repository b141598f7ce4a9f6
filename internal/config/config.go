package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
// It captures the monitored account, credentials, quota limits,
// and the external render/archive endpoints.
type Config struct {
	Account     AccountConfig      `yaml:"account"`
	Credentials []CredentialConfig `yaml:"credentials"`
	Quota       QuotaConfig        `yaml:"quota"`
	Pipeline    PipelineConfig     `yaml:"pipeline"`
	Render      RenderConfig       `yaml:"render"`
	Archive     ArchiveConfig      `yaml:"archive"`
	Storage     StorageConfig      `yaml:"storage"`
	Browser     BrowserConfig      `yaml:"browser"`
	Logging     LoggingConfig      `yaml:"logging"`
	Metrics     MetricsConfig      `yaml:"metrics"`
}

type AccountConfig struct {
	// Handle of the monitored bot account, without the leading @.
	Handle string `yaml:"handle"`
}

// CredentialConfig is one API credential set of the rotating pool.
type CredentialConfig struct {
	Name        string `yaml:"name"`
	BearerToken string `yaml:"bearerToken"`
	// Monthly request ceiling for this set. 0 means unlimited.
	RequestLimit int64 `yaml:"requestLimit"`
}

type QuotaConfig struct {
	// Per-user request limits. 0 disables the dimension.
	DailyLimit   int `yaml:"dailyLimit"`
	MonthlyLimit int `yaml:"monthlyLimit"`
}

type PipelineConfig struct {
	// Poll interval, e.g. "5m".
	PollInterval string `yaml:"pollInterval"`
	// Mention source: "api" or "browser".
	Source string `yaml:"source"`
	// Retry attempts before a record is dead-lettered.
	MaxAttempts int `yaml:"maxAttempts"`
	// Mentions fetched per poll.
	BatchLimit int `yaml:"batchLimit"`
}

type RenderConfig struct {
	// Base URL of the tweet-card render service.
	URL string `yaml:"url"`
}

type ArchiveConfig struct {
	// Bundler endpoint for the small-file signed-upload path.
	BundlerURL string `yaml:"bundlerUrl"`
	// Gateway host used to build public archive links.
	Gateway string `yaml:"gateway"`
	// Arweave wallet key file.
	WalletPath string `yaml:"walletPath"`
	// External uploader binary for the large-file on-chain path.
	UploaderBin string `yaml:"uploaderBin"`
	// Byte threshold selecting between the two paths.
	SizeThreshold int `yaml:"sizeThreshold"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

type BrowserConfig struct {
	CookiePath string `yaml:"cookiePath"`
	Headless   bool   `yaml:"headless"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Account: AccountConfig{Handle: ""},
		Quota:   QuotaConfig{DailyLimit: 10, MonthlyLimit: 100},
		Pipeline: PipelineConfig{
			PollInterval: "5m",
			Source:       "api",
			MaxAttempts:  10,
			BatchLimit:   50,
		},
		Render: RenderConfig{URL: "http://localhost:3000"},
		Archive: ArchiveConfig{
			BundlerURL:    "https://node2.irys.xyz",
			Gateway:       "arweave.net",
			WalletPath:    "./wallet.json",
			UploaderBin:   "arweave-deploy",
			SizeThreshold: 100 * 1024,
		},
		Storage: StorageConfig{DBPath: "./permatweet.db"},
		Browser: BrowserConfig{CookiePath: "./cookies.json", Headless: true},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Addr: ""},
	}
}

// Interval parses the poll interval, falling back to 5 minutes.
func (p PipelineConfig) Interval() time.Duration {
	d, err := time.ParseDuration(p.PollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if len(c.Credentials) == 0 {
		if tok := os.Getenv("X_BEARER_TOKEN"); tok != "" {
			c.Credentials = []CredentialConfig{{Name: "env", BearerToken: tok}}
		}
	}
	if c.Account.Handle == "" {
		c.Account.Handle = os.Getenv("PERMATWEET_HANDLE")
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = os.Getenv("PERMATWEET_DB")
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = os.Getenv("METRICS_ADDR")
	}
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
