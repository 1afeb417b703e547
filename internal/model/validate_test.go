package model

import (
	"strings"
	"testing"
)

func TestValidateEvent(t *testing.T) {
	valid := func() *Event {
		return &Event{Pipeline: "fraud", Payload: map[string]any{"k": "v"}}
	}

	if err := ValidateEvent(valid()); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Event)
		field  string
	}{
		{"missing pipeline", func(e *Event) { e.Pipeline = " " }, "pipeline"},
		{"missing payload", func(e *Event) { e.Payload = nil }, "payload"},
		{"event id too long", func(e *Event) { e.EventID = strings.Repeat("x", 257) }, "event_id"},
		{"event id with slash", func(e *Event) { e.EventID = "a/b" }, "event_id"},
		{"event id with whitespace", func(e *Event) { e.EventID = "a b" }, "event_id"},
	}
	for _, tc := range tests {
		ev := valid()
		tc.mutate(ev)
		err := ValidateEvent(ev)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.field) {
			t.Errorf("%s: error %q does not mention field %q", tc.name, err, tc.field)
		}
	}
}

func TestValidatePipeline(t *testing.T) {
	valid := func() *PipelineConfig {
		return &PipelineConfig{Name: "fraud", Analyzer: "score", OpKind: OpManageData}
	}

	if err := ValidatePipeline(valid()); err != nil {
		t.Fatalf("valid pipeline rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*PipelineConfig)
		field  string
	}{
		{"missing name", func(p *PipelineConfig) { p.Name = "" }, "name"},
		{"missing analyzer", func(p *PipelineConfig) { p.Analyzer = "" }, "analyzer"},
		{"bad op kind", func(p *PipelineConfig) { p.OpKind = "teleport" }, "op_kind"},
		{"payment without destination", func(p *PipelineConfig) {
			p.OpKind = OpPayment
			p.PaymentAmount = "1.5"
		}, "payment_destination"},
		{"payment without amount", func(p *PipelineConfig) {
			p.OpKind = OpPayment
			p.PaymentDestination = "GDEST"
		}, "payment_amount"},
		{"credit asset without issuer", func(p *PipelineConfig) {
			p.OpKind = OpPayment
			p.PaymentDestination = "GDEST"
			p.PaymentAmount = "1.5"
			p.PaymentAssetCode = "USDC"
		}, "payment_asset_issuer"},
		{"negative max attempts", func(p *PipelineConfig) { p.MaxAttempts = -1 }, "max_attempts"},
	}
	for _, tc := range tests {
		pc := valid()
		tc.mutate(pc)
		err := ValidatePipeline(pc)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.field) {
			t.Errorf("%s: error %q does not mention field %q", tc.name, err, tc.field)
		}
	}
}

func TestPipelineConfig_ApplyDefaults(t *testing.T) {
	p := &PipelineConfig{Name: "fraud", Analyzer: "score", OpKind: OpManageData}
	p.ApplyDefaults()

	if p.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", p.MaxAttempts, DefaultMaxAttempts)
	}
	if p.Backoff != DefaultBackoff {
		t.Errorf("Backoff = %v, want %v", p.Backoff, DefaultBackoff)
	}
	if p.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", p.Workers, DefaultWorkers)
	}
	if p.MaxQueue != DefaultMaxQueue {
		t.Errorf("MaxQueue = %d, want %d", p.MaxQueue, DefaultMaxQueue)
	}
	if p.IdempotencyWindow != DefaultIdempotencyWindow {
		t.Errorf("IdempotencyWindow = %v, want %v", p.IdempotencyWindow, DefaultIdempotencyWindow)
	}

	// Explicit settings survive.
	q := &PipelineConfig{Name: "x", Analyzer: "y", OpKind: OpManageData, Workers: 2, MaxQueue: 8}
	q.ApplyDefaults()
	if q.Workers != 2 || q.MaxQueue != 8 {
		t.Errorf("explicit values overwritten: workers=%d queue=%d", q.Workers, q.MaxQueue)
	}
}
