package ledger

import (
	"context"
	"fmt"

	"github.com/stellar/go/txnbuild"

	"github.com/alfredjeanlab/anchord/internal/model"
)

// txTimeout bounds how long a signed envelope stays valid; stale retries
// past this window are rejected with tx_too_late instead of double-anchoring.
const txTimeout = 300

// Operation describes the single ledger operation a pipeline emits: either a
// manage_data entry or a payment. The variant is chosen per pipeline, not
// per event.
type Operation struct {
	Kind model.OpKind

	// manage_data fields; both capped at 64 bytes by the ledger.
	DataName  string
	DataValue []byte

	// payment fields; empty AssetCode means the native asset. Amount is a
	// decimal string with up to 7 fractional digits.
	Destination string
	AssetCode   string
	AssetIssuer string
	Amount      string

	// MemoHash, when set, is attached as the transaction memo. Payment
	// pipelines carry the decision fingerprint here.
	MemoHash *[32]byte
}

// SignedTx is a locally assembled, signed transaction envelope. The hash is
// the transaction id Horizon will report, precomputed so it can be recorded
// durably before submission.
type SignedTx struct {
	Envelope string
	Hash     string
	Sequence int64
}

// BuildAndSign assembles and signs a single-operation transaction envelope
// against the given source account. It is purely local apart from the first
// sequence load. Builds on one account are serialized.
func (c *Client) BuildAndSign(ctx context.Context, acct *Account, op Operation, fee int64) (*SignedTx, error) {
	txOp, err := buildOp(op)
	if err != nil {
		return nil, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	seq, err := c.reserve(ctx, acct)
	if err != nil {
		return nil, fmt.Errorf("reserving sequence: %w", err)
	}

	sourceAccount := txnbuild.NewSimpleAccount(acct.kp.Address(), seq)
	params := txnbuild.TransactionParams{
		SourceAccount:        &sourceAccount,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{txOp},
		BaseFee:              fee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(txTimeout),
		},
	}
	if op.MemoHash != nil {
		params.Memo = txnbuild.MemoHash(*op.MemoHash)
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		// The local cache advanced but no envelope exists for the reserved
		// sequence; force a reload before the next build.
		acct.seq = 0
		acct.loaded = false
		return nil, fmt.Errorf("building transaction: %w", err)
	}

	tx, err = tx.Sign(c.networkPassphrase, acct.kp)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}

	envelope, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	hash, err := tx.HashHex(c.networkPassphrase)
	if err != nil {
		return nil, fmt.Errorf("hashing transaction: %w", err)
	}

	return &SignedTx{Envelope: envelope, Hash: hash, Sequence: seq + 1}, nil
}

// buildOp converts an Operation variant into a txnbuild operation.
func buildOp(op Operation) (txnbuild.Operation, error) {
	switch op.Kind {
	case model.OpManageData:
		if len(op.DataName) > 64 {
			return nil, fmt.Errorf("manage_data name exceeds 64 bytes (%d)", len(op.DataName))
		}
		if len(op.DataValue) > 64 {
			return nil, fmt.Errorf("manage_data value exceeds 64 bytes (%d)", len(op.DataValue))
		}
		return &txnbuild.ManageData{Name: op.DataName, Value: op.DataValue}, nil

	case model.OpPayment:
		var asset txnbuild.Asset = txnbuild.NativeAsset{}
		if op.AssetCode != "" {
			asset = txnbuild.CreditAsset{Code: op.AssetCode, Issuer: op.AssetIssuer}
		}
		return &txnbuild.Payment{
			Destination: op.Destination,
			Amount:      op.Amount,
			Asset:       asset,
		}, nil

	default:
		return nil, fmt.Errorf("unknown op kind %q", op.Kind)
	}
}
