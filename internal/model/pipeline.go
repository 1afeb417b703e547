package model

import (
	"time"
)

// OpKind selects the ledger operation variant a pipeline emits.
type OpKind string

const (
	OpManageData OpKind = "manage_data"
	OpPayment    OpKind = "payment"
)

// String returns the string representation of the op kind.
func (k OpKind) String() string {
	return string(k)
}

// IsValid checks whether the op kind is a known value.
func (k OpKind) IsValid() bool {
	switch k {
	case OpManageData, OpPayment:
		return true
	}
	return false
}

// PipelineConfig binds an analyzer to a ledger-op template and retry policy.
// The op kind is fixed per pipeline, never per event.
type PipelineConfig struct {
	Name     string `json:"name" toml:"name"`
	Analyzer string `json:"analyzer" toml:"analyzer"`
	OpKind   OpKind `json:"op_kind" toml:"op_kind"`

	// Payment template, used only when OpKind is "payment". An empty asset
	// code means the native asset.
	PaymentDestination string `json:"payment_destination,omitempty" toml:"payment_destination"`
	PaymentAssetCode   string `json:"payment_asset_code,omitempty" toml:"payment_asset_code"`
	PaymentAssetIssuer string `json:"payment_asset_issuer,omitempty" toml:"payment_asset_issuer"`
	PaymentAmount      string `json:"payment_amount,omitempty" toml:"payment_amount"`

	MaxAttempts       int           `json:"max_attempts" toml:"max_attempts"`
	Backoff           time.Duration `json:"backoff" toml:"-"`
	Workers           int           `json:"workers" toml:"workers"`
	MaxQueue          int           `json:"max_queue" toml:"max_queue"`
	IdempotencyWindow time.Duration `json:"idempotency_window" toml:"-"`
	AnalyzerTimeout   time.Duration `json:"analyzer_timeout" toml:"-"`
}

// Defaults used when a pipeline omits optional settings.
const (
	DefaultMaxAttempts       = 6
	DefaultBackoff           = 250 * time.Millisecond
	DefaultWorkers           = 4
	DefaultMaxQueue          = 1024
	DefaultIdempotencyWindow = 24 * time.Hour
)

// ApplyDefaults fills zero-valued optional fields.
func (p *PipelineConfig) ApplyDefaults() {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff == 0 {
		p.Backoff = DefaultBackoff
	}
	if p.Workers == 0 {
		p.Workers = DefaultWorkers
	}
	if p.MaxQueue == 0 {
		p.MaxQueue = DefaultMaxQueue
	}
	if p.IdempotencyWindow == 0 {
		p.IdempotencyWindow = DefaultIdempotencyWindow
	}
}
