package registry

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/alfredjeanlab/anchord/internal/canonical"
)

// RegisterBuiltins installs the analyzers shipped with the daemon. They are
// all deterministic: given the same payload they produce decisions with
// stable fingerprints.
func RegisterBuiltins(r *Registry) error {
	builtins := []Analyzer{
		{
			Name:          "passthrough",
			Version:       "1",
			Deterministic: true,
			Func:          passthrough,
		},
		{
			Name:          "annotate",
			Version:       "1",
			Deterministic: true,
			Func:          annotate,
		},
		{
			Name:          "score",
			Version:       "1",
			Deterministic: true,
			Func:          score,
		},
	}
	for _, a := range builtins {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// passthrough anchors the event payload unchanged.
func passthrough(_ context.Context, payload map[string]any) (map[string]any, error) {
	return payload, nil
}

// annotate wraps the event payload with the analyzer identity. The version
// is embedded in the decision, so bumping it changes fingerprints on purpose.
func annotate(_ context.Context, payload map[string]any) (map[string]any, error) {
	return map[string]any{
		"analyzer": "annotate",
		"version":  "1",
		"input":    payload,
	}, nil
}

// score attaches a stable pseudo-score in [0, 1) derived from the canonical
// encoding of the payload. It stands in for model-backed analyzers in
// pipelines that only need a reproducible verdict.
func score(_ context.Context, payload map[string]any) (map[string]any, error) {
	enc, err := canonical.Encode(payload)
	if err != nil {
		return nil, err
	}
	fp := canonical.Fingerprint(enc)
	v := binary.BigEndian.Uint64(fp[:8])
	s := float64(v) / math.MaxUint64
	// Two decimal places keeps the decision payload compact.
	s = math.Floor(s*100) / 100
	return map[string]any{
		"result": "ok",
		"score":  s,
	}, nil
}
