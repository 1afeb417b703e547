// Package config loads service settings from the environment and the
// pipelines file. Signing keys are referenced indirectly (env: or file:
// schemes) and resolved once at startup; the resolved seeds never appear in
// logs or serialized config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/anchord/internal/model"
	"github.com/alfredjeanlab/anchord/internal/registry"
)

type Config struct {
	HTTPAddr          string // ANCHORD_HTTP_ADDR (default ":8080")
	LogDir            string // ANCHORD_LOG_DIR (required; receipt log location)
	PipelinesFile     string // ANCHORD_PIPELINES_FILE (required; TOML)
	HorizonURL        string // ANCHORD_HORIZON_URL (required for serve)
	NetworkPassphrase string // ANCHORD_NETWORK_PASSPHRASE (required for serve)
	NATSURL           string // ANCHORD_NATS_URL (optional, empty = no events)
	AuthToken         string // ANCHORD_AUTH_TOKEN (optional, empty = auth disabled)

	MaxQueue          int           // ANCHORD_MAX_QUEUE (default 1024; pipeline fallback)
	AnalyzerTimeout   time.Duration // ANCHORD_ANALYZER_TIMEOUT (default 10s; pipeline fallback)
	FeeCeiling        int64         // ANCHORD_FEE_CEILING (default 10000 stroops)
	SubmitDeadline    time.Duration // ANCHORD_SUBMIT_DEADLINE (default 5m)
	ConfirmDeadline   time.Duration // ANCHORD_CONFIRM_DEADLINE (default 15m)
	IdempotencyWindow time.Duration // ANCHORD_IDEMPOTENCY_WINDOW (default 24h)

	// Compaction and archive settings
	CompactionInterval time.Duration // ANCHORD_COMPACTION_INTERVAL (default 1h; 0 = disabled)
	ArchiveS3Bucket    string        // ANCHORD_ARCHIVE_S3_BUCKET (enables S3 archival when set)
	ArchiveS3Endpoint  string        // ANCHORD_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region    string        // ANCHORD_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix    string        // ANCHORD_ARCHIVE_S3_PREFIX (default "anchord/segments")

	Pipelines      []model.PipelineConfig
	SourceAccounts []SourceAccount
}

// SourceAccount is one entry of the signing pool. SigningKey holds the
// resolved seed; it is excluded from every serialization.
type SourceAccount struct {
	PublicKey  string `toml:"public_key" json:"public_key"`
	KeyRef     string `toml:"signing_key_ref" json:"signing_key_ref"`
	SigningKey string `toml:"-" json:"-"`
}

func Load() (*Config, error) {
	c := &Config{
		HTTPAddr:          envOrDefault("ANCHORD_HTTP_ADDR", ":8080"),
		LogDir:            os.Getenv("ANCHORD_LOG_DIR"),
		PipelinesFile:     os.Getenv("ANCHORD_PIPELINES_FILE"),
		HorizonURL:        os.Getenv("ANCHORD_HORIZON_URL"),
		NetworkPassphrase: os.Getenv("ANCHORD_NETWORK_PASSPHRASE"),
		NATSURL:           os.Getenv("ANCHORD_NATS_URL"),
		AuthToken:         os.Getenv("ANCHORD_AUTH_TOKEN"),
		ArchiveS3Bucket:   os.Getenv("ANCHORD_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("ANCHORD_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("ANCHORD_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:   envOrDefault("ANCHORD_ARCHIVE_S3_PREFIX", "anchord/segments"),
	}
	if c.LogDir == "" {
		return nil, fmt.Errorf("ANCHORD_LOG_DIR is required")
	}
	if c.PipelinesFile == "" {
		return nil, fmt.Errorf("ANCHORD_PIPELINES_FILE is required")
	}

	var err error
	if c.MaxQueue, err = envInt("ANCHORD_MAX_QUEUE", 1024); err != nil {
		return nil, err
	}
	feeCeiling, err := envInt("ANCHORD_FEE_CEILING", 10000)
	if err != nil {
		return nil, err
	}
	c.FeeCeiling = int64(feeCeiling)
	if c.SubmitDeadline, err = envDuration("ANCHORD_SUBMIT_DEADLINE", 5*time.Minute); err != nil {
		return nil, err
	}
	if c.ConfirmDeadline, err = envDuration("ANCHORD_CONFIRM_DEADLINE", 15*time.Minute); err != nil {
		return nil, err
	}
	if c.IdempotencyWindow, err = envDuration("ANCHORD_IDEMPOTENCY_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if c.CompactionInterval, err = envDuration("ANCHORD_COMPACTION_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if c.AnalyzerTimeout, err = envDuration("ANCHORD_ANALYZER_TIMEOUT", registry.DefaultTimeout); err != nil {
		return nil, err
	}

	if err := c.loadPipelinesFile(); err != nil {
		return nil, err
	}
	return c, nil
}

// pipelinesFile is the TOML shape of the pipelines file. Durations that the
// runtime expresses as time.Duration are written in the file as integer
// milliseconds (backoff_ms) or Go duration strings (idempotency_window).
type pipelinesFile struct {
	Pipelines      []pipelineEntry `toml:"pipelines"`
	SourceAccounts []SourceAccount `toml:"source_accounts"`
}

type pipelineEntry struct {
	Name               string `toml:"name"`
	Analyzer           string `toml:"analyzer"`
	OpKind             string `toml:"op_kind"`
	PaymentDestination string `toml:"payment_destination"`
	PaymentAssetCode   string `toml:"payment_asset_code"`
	PaymentAssetIssuer string `toml:"payment_asset_issuer"`
	PaymentAmount      string `toml:"payment_amount"`
	MaxAttempts        int    `toml:"max_attempts"`
	BackoffMS          int    `toml:"backoff_ms"`
	AnalyzerTimeoutMS  int    `toml:"analyzer_timeout_ms"`
	Workers            int    `toml:"workers"`
	MaxQueue           int    `toml:"max_queue"`
	IdempotencyWindow  string `toml:"idempotency_window"`
}

func (c *Config) loadPipelinesFile() error {
	var f pipelinesFile
	if _, err := toml.DecodeFile(c.PipelinesFile, &f); err != nil {
		return fmt.Errorf("parsing %s: %w", c.PipelinesFile, err)
	}
	if len(f.Pipelines) == 0 {
		return fmt.Errorf("%s: no pipelines defined", c.PipelinesFile)
	}

	for _, e := range f.Pipelines {
		pc := model.PipelineConfig{
			Name:               e.Name,
			Analyzer:           e.Analyzer,
			OpKind:             model.OpKind(e.OpKind),
			PaymentDestination: e.PaymentDestination,
			PaymentAssetCode:   e.PaymentAssetCode,
			PaymentAssetIssuer: e.PaymentAssetIssuer,
			PaymentAmount:      e.PaymentAmount,
			MaxAttempts:        e.MaxAttempts,
			Backoff:            time.Duration(e.BackoffMS) * time.Millisecond,
			AnalyzerTimeout:    time.Duration(e.AnalyzerTimeoutMS) * time.Millisecond,
			Workers:            e.Workers,
			MaxQueue:           e.MaxQueue,
		}
		if pc.MaxQueue == 0 {
			pc.MaxQueue = c.MaxQueue
		}
		if pc.AnalyzerTimeout == 0 {
			pc.AnalyzerTimeout = c.AnalyzerTimeout
		}
		if e.IdempotencyWindow != "" {
			d, err := time.ParseDuration(e.IdempotencyWindow)
			if err != nil {
				return fmt.Errorf("pipeline %q: idempotency_window: %w", e.Name, err)
			}
			pc.IdempotencyWindow = d
		} else {
			pc.IdempotencyWindow = c.IdempotencyWindow
		}
		c.Pipelines = append(c.Pipelines, pc)
	}

	for _, a := range f.SourceAccounts {
		key, err := ResolveSecret(a.KeyRef)
		if err != nil {
			return fmt.Errorf("source account %s: %w", a.PublicKey, err)
		}
		a.SigningKey = key
		c.SourceAccounts = append(c.SourceAccounts, a)
	}
	return nil
}

// ResolveSecret dereferences a secret reference. Supported schemes are
// "env:VAR" and "file:/path"; anything else is rejected so raw seeds cannot
// be committed to the pipelines file by accident.
func ResolveSecret(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v := os.Getenv(name)
		if v == "" {
			return "", fmt.Errorf("secret ref %q: environment variable %s is empty", ref, name)
		}
		return v, nil
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimPrefix(ref, "file:")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("secret ref %q: %w", ref, err)
		}
		return strings.TrimSpace(string(data)), nil
	case ref == "":
		return "", fmt.Errorf("signing_key_ref is required")
	default:
		return "", fmt.Errorf("secret ref %q: unsupported scheme (use env: or file:)", ref)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
