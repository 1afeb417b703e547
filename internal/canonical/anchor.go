package canonical

import (
	"encoding/hex"
)

// Ledger manage_data fields are capped at 64 bytes each.
const (
	// MaxDataValue is the ledger's limit on a manage_data value.
	MaxDataValue = 64
	// TruncationMarker replaces the last byte of a truncated value.
	TruncationMarker = 0xFF
	// dataNamePrefix starts every anchor entry name.
	dataNamePrefix = "fp_"
)

// DataName returns the manage_data name for a fingerprint: the ASCII prefix
// "fp_" followed by the lowercase hex of the first 30 fingerprint bytes.
// The result is exactly 63 bytes, one under the ledger's 64-byte cap.
func DataName(fp [32]byte) string {
	return dataNamePrefix + hex.EncodeToString(fp[:30])
}

// HexFingerprint returns the full fingerprint as lowercase hex.
func HexFingerprint(fp [32]byte) string {
	return hex.EncodeToString(fp[:])
}

// Truncate left-truncates b to limit bytes. When truncation occurs the last
// retained byte is replaced with TruncationMarker so readers can tell a
// truncated value from one that happened to fit exactly.
func Truncate(b []byte, limit int) []byte {
	if limit <= 0 || len(b) <= limit {
		return b
	}
	out := make([]byte, limit)
	copy(out, b[:limit])
	out[limit-1] = TruncationMarker
	return out
}
