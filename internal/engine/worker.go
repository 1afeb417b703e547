package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/anchord/internal/canonical"
	"github.com/alfredjeanlab/anchord/internal/events"
	"github.com/alfredjeanlab/anchord/internal/ledger"
	"github.com/alfredjeanlab/anchord/internal/model"
	"github.com/alfredjeanlab/anchord/internal/receipt"
	"github.com/alfredjeanlab/anchord/internal/registry"
)

func (e *Engine) workerLoop(p *pipeline) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case j := <-p.jobs:
			<-p.slots
			e.process(p, j.pipeline, j.decisionID)
			e.inflight.remove(j.pipeline + "/" + j.decisionID)
		}
	}
}

// process drives one decision through the state machine, entering at
// whatever stage the receipt has reached. No error escapes without a receipt
// transition.
func (e *Engine) process(p *pipeline, pipelineName, decisionID string) {
	r, err := e.store.Get(pipelineName, decisionID)
	if err != nil {
		e.logger.Error("receipt vanished from store", "pipeline", pipelineName, "decision_id", decisionID, "err", err)
		return
	}

	switch r.State {
	case model.StatePending:
		e.analyze(p, r)
	case model.StateSubmitting:
		e.resume(p, r)
	case model.StateSubmitted:
		e.awaitConfirm(pipelineName, decisionID, r.TxID)
	default:
		// Terminal (cancelled while queued, or already reconciled).
	}
}

// analyze runs steps 2-5 of the pipeline: idempotency dedupe, analyzer
// invocation, canonicalization, and the SUBMITTING transition.
func (e *Engine) analyze(p *pipeline, r *model.Receipt) {
	a, err := e.registry.Resolve(p.cfg.Analyzer)
	if err != nil {
		e.fail(r, fmt.Sprintf("resolving analyzer: %v", err))
		return
	}
	// A pipeline-level analyzer_timeout_ms overrides the registration default.
	if p.cfg.AnalyzerTimeout > 0 {
		a.Timeout = p.cfg.AnalyzerTimeout
	}

	// At-most-once per (pipeline, fingerprint): a deterministic analyzer fed
	// the same event payload yields the same decision, so a prior CONFIRMED
	// receipt inside the idempotency window is copied instead of re-anchored.
	// Other pipelines run other analyzers and anchor independently.
	if a.Deterministic {
		if prior, err := e.store.FindByFingerprint(r.Pipeline, r.EventFingerprint); err == nil &&
			prior.State == model.StateConfirmed &&
			prior.Key() != r.Key() &&
			time.Since(prior.UpdatedAt) <= p.cfg.IdempotencyWindow {
			copied, terr := e.store.Transition(r.Pipeline, r.DecisionID, model.StateConfirmed, receipt.TransitionFields{
				TxID:            prior.TxID,
				Fingerprint:     prior.Fingerprint,
				Decision:        prior.Decision,
				AnalyzerVersion: prior.AnalyzerVersion,
			})
			if terr != nil {
				e.logger.Warn("dedupe transition rejected", "decision_id", r.DecisionID, "err", terr)
				return
			}
			e.logger.Info("idempotent hit, copied prior confirmation",
				"pipeline", r.Pipeline, "decision_id", r.DecisionID, "tx_id", prior.TxID)
			e.publish(events.TopicReceiptConfirmed, events.ReceiptConfirmed{Receipt: copied, TxID: prior.TxID})
			return
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(r.Event, &payload); err != nil {
		e.fail(r, fmt.Sprintf("decoding stored event: %v", err))
		return
	}

	out, err := e.runAnalyzer(a, payload)
	if err != nil {
		e.fail(r, fmt.Sprintf("analyzer %s: %v", a.Name, err))
		return
	}

	decision := model.Decision{
		Payload:         out,
		ProducedAt:      time.Now().UTC(),
		AnalyzerVersion: a.Version,
	}

	enc, err := canonical.Encode(out)
	if err != nil {
		e.fail(r, fmt.Sprintf("encoding decision: %v", err))
		return
	}
	fp := canonical.Fingerprint(enc)

	rawDecision, err := json.Marshal(decision)
	if err != nil {
		e.fail(r, fmt.Sprintf("marshaling decision: %v", err))
		return
	}

	updated, err := e.store.Transition(r.Pipeline, r.DecisionID, model.StateSubmitting, receipt.TransitionFields{
		Fingerprint:     canonical.HexFingerprint(fp),
		Decision:        rawDecision,
		AnalyzerVersion: a.Version,
	})
	if err != nil {
		// Cancelled while the analyzer ran.
		e.logger.Warn("submitting transition rejected", "decision_id", r.DecisionID, "err", err)
		return
	}
	e.publish(events.TopicReceiptTransition, events.ReceiptTransition{Receipt: updated, From: model.StatePending})

	e.submitAndConfirm(p, updated, e.buildOperation(p.cfg, fp, enc), fp)
}

// runAnalyzer invokes the analyzer bounded by its timeout. The analyzer is
// never retried; it may be non-idempotent. A panic is converted to an error.
func (e *Engine) runAnalyzer(a registry.Analyzer, payload map[string]any) (map[string]any, error) {
	type result struct {
		payload map[string]any
		err     error
	}

	ctx, cancel := context.WithTimeout(e.ctx, a.Timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		out, err := a.Func(ctx, payload)
		ch <- result{payload: out, err: err}
	}()

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("timed out after %s", a.Timeout)
	}
}

// resume re-enters a receipt found in SUBMITTING: the decision is already
// recorded. If a tx hash was persisted before the interruption the ledger is
// polled first; the transaction may have been accepted even though the
// submission response was lost. Only a provably stale envelope is rebuilt.
func (e *Engine) resume(p *pipeline, r *model.Receipt) {
	if r.TxID != "" {
		ctx, cancel := context.WithTimeout(e.ctx, 30*time.Second)
		status, code, err := e.ledger.PollStatus(ctx, r.TxID)
		cancel()
		if err == nil {
			switch status {
			case ledger.TxCompleted:
				updated, terr := e.store.Transition(r.Pipeline, r.DecisionID, model.StateConfirmed, receipt.TransitionFields{
					TxID: r.TxID,
				})
				if terr != nil {
					e.logger.Warn("confirmed transition rejected", "decision_id", r.DecisionID, "err", terr)
					return
				}
				e.logger.Info("found transaction already included",
					"pipeline", r.Pipeline, "decision_id", r.DecisionID, "tx_id", r.TxID)
				e.publish(events.TopicReceiptConfirmed, events.ReceiptConfirmed{Receipt: updated, TxID: r.TxID})
				return
			case ledger.TxFailed:
				if code != "tx_too_late" {
					e.fail(r, code)
					return
				}
				// Expired time bounds; rebuilding cannot double-anchor.
			case ledger.TxPending:
				if time.Since(r.UpdatedAt) < envelopeStaleness {
					// The envelope may still be in flight within its time
					// bounds. Wait for the next reconcile pass.
					return
				}
			}
		}
	}

	if r.Attempts >= p.cfg.MaxAttempts {
		e.abandon(r, fmt.Sprintf("max attempts exceeded (%d)", r.Attempts), r.Attempts)
		return
	}

	var decision model.Decision
	if err := json.Unmarshal(r.Decision, &decision); err != nil {
		e.fail(r, fmt.Sprintf("decoding stored decision: %v", err))
		return
	}
	enc, err := canonical.Encode(decision.Payload)
	if err != nil {
		e.fail(r, fmt.Sprintf("re-encoding decision: %v", err))
		return
	}

	var fp [32]byte
	raw, err := hex.DecodeString(r.Fingerprint)
	if err != nil || len(raw) != 32 {
		e.fail(r, "stored fingerprint unreadable")
		return
	}
	copy(fp[:], raw)

	e.submitAndConfirm(p, r, e.buildOperation(p.cfg, fp, enc), fp)
}

// buildOperation instantiates the pipeline's op template for one decision.
// manage_data ops carry the fingerprint in the entry name and the canonical
// bytes (truncated to the ledger cap) in the value; payments carry the
// fingerprint as a hash memo.
func (e *Engine) buildOperation(cfg model.PipelineConfig, fp [32]byte, enc []byte) ledger.Operation {
	switch cfg.OpKind {
	case model.OpPayment:
		memo := fp
		return ledger.Operation{
			Kind:        model.OpPayment,
			Destination: cfg.PaymentDestination,
			AssetCode:   cfg.PaymentAssetCode,
			AssetIssuer: cfg.PaymentAssetIssuer,
			Amount:      cfg.PaymentAmount,
			MemoHash:    &memo,
		}
	default:
		return ledger.Operation{
			Kind:      model.OpManageData,
			DataName:  canonical.DataName(fp),
			DataValue: canonical.Truncate(enc, canonical.MaxDataValue),
		}
	}
}

// submitAndConfirm runs steps 6-8: load account, probe fee, build and sign,
// submit with retry, then poll for confirmation. The precomputed tx hash is
// persisted before the first submission so a crash mid-submit leaves a
// reconcilable trail.
func (e *Engine) submitAndConfirm(p *pipeline, r *model.Receipt, op ledger.Operation, fp [32]byte) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.SubmitDeadline)
	defer cancel()

	acct := e.ledger.AccountFor(fp[:])
	fee := e.ledger.ProbeFee(ctx)

	signed, err := e.ledger.BuildAndSign(ctx, acct, op, fee)
	if err != nil {
		if errors.Is(err, ledger.ErrNetworkUnavailable) {
			e.abandonOrRetryLater(p, r, fmt.Sprintf("building transaction: %v", err))
			return
		}
		e.fail(r, fmt.Sprintf("building transaction: %v", err))
		return
	}

	recorded, err := e.store.Transition(r.Pipeline, r.DecisionID, model.StateSubmitting, receipt.TransitionFields{
		TxID: signed.Hash,
	})
	if err != nil {
		// Cancelled between the SUBMITTING transition and the hash recording.
		e.logger.Warn("tx hash transition rejected", "decision_id", r.DecisionID, "err", err)
		return
	}
	r = recorded

	res, submitErr := e.ledger.SubmitWithRetry(ctx, signed.Envelope)
	if res == nil {
		e.abandonOrRetryLater(p, r, fmt.Sprintf("submitting: %v", submitErr))
		return
	}
	attempts := r.Attempts + res.Attempts

	switch res.Outcome {
	case ledger.OutcomeAccepted:
		txID := res.TxID
		if txID == "" {
			txID = signed.Hash
		}
		updated, terr := e.store.Transition(r.Pipeline, r.DecisionID, model.StateSubmitted, receipt.TransitionFields{
			TxID:     txID,
			Attempts: attempts,
		})
		if terr != nil {
			e.logger.Error("submitted transition rejected after acceptance",
				"decision_id", r.DecisionID, "tx_id", txID, "err", terr)
			return
		}
		e.publish(events.TopicReceiptTransition, events.ReceiptTransition{Receipt: updated, From: model.StateSubmitting})
		e.awaitConfirm(r.Pipeline, r.DecisionID, txID)

	case ledger.OutcomeRejectedPermanent:
		// The on-chain sequence may not have advanced; reload before the
		// next build on this account.
		acct.Invalidate()
		updated, terr := e.store.Transition(r.Pipeline, r.DecisionID, model.StateFailed, receipt.TransitionFields{
			LastError: res.Code,
			Attempts:  attempts,
		})
		if terr != nil {
			e.logger.Warn("failed transition rejected", "decision_id", r.DecisionID, "err", terr)
			return
		}
		e.logger.Warn("ledger rejected transaction",
			"pipeline", r.Pipeline, "decision_id", r.DecisionID, "code", res.Code)
		e.publish(events.TopicReceiptFailed, events.ReceiptFailed{Receipt: updated, Reason: res.Code})

	default:
		// Transient failures exhausted this cycle.
		if attempts >= p.cfg.MaxAttempts {
			e.abandon(r, fmt.Sprintf("retries exhausted after %d attempts: %s", attempts, res.Code), attempts)
			return
		}
		updated, terr := e.store.Transition(r.Pipeline, r.DecisionID, model.StateSubmitting, receipt.TransitionFields{
			LastError: res.Code,
			Attempts:  attempts,
		})
		if terr != nil {
			e.logger.Warn("retry transition rejected", "decision_id", r.DecisionID, "err", terr)
			return
		}
		e.logger.Warn("submission deferred to reconciler",
			"pipeline", r.Pipeline, "decision_id", r.DecisionID, "attempts", attempts)
		e.publish(events.TopicReceiptTransition, events.ReceiptTransition{Receipt: updated, From: model.StateSubmitting})
	}
}

// awaitConfirm polls the ledger until the transaction completes or the
// confirmation deadline passes. CONFIRMED is sticky; a poll timeout leaves
// the receipt SUBMITTED for the reconciler.
func (e *Engine) awaitConfirm(pipelineName, decisionID, txID string) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.ConfirmDeadline)
	defer cancel()

	status, code, err := e.ledger.WaitConfirm(ctx, txID)
	if err != nil {
		e.logger.Warn("confirmation polling failed", "tx_id", txID, "err", err)
		return
	}

	switch status {
	case ledger.TxCompleted:
		updated, terr := e.store.Transition(pipelineName, decisionID, model.StateConfirmed, receipt.TransitionFields{
			TxID: txID,
		})
		if terr != nil {
			e.logger.Warn("confirmed transition rejected", "decision_id", decisionID, "err", terr)
			return
		}
		e.logger.Info("decision anchored",
			"pipeline", pipelineName, "decision_id", decisionID, "tx_id", txID)
		e.publish(events.TopicReceiptConfirmed, events.ReceiptConfirmed{Receipt: updated, TxID: txID})

	case ledger.TxFailed:
		updated, terr := e.store.Transition(pipelineName, decisionID, model.StateFailed, receipt.TransitionFields{
			LastError: code,
		})
		if terr != nil {
			e.logger.Warn("failed transition rejected", "decision_id", decisionID, "err", terr)
			return
		}
		e.publish(events.TopicReceiptFailed, events.ReceiptFailed{Receipt: updated, Reason: code})

	default:
		e.logger.Info("confirmation deferred to reconciler",
			"pipeline", pipelineName, "decision_id", decisionID, "tx_id", txID)
	}
}

// fail moves a receipt to FAILED with the given reason.
func (e *Engine) fail(r *model.Receipt, reason string) {
	updated, err := e.store.Transition(r.Pipeline, r.DecisionID, model.StateFailed, receipt.TransitionFields{
		LastError: reason,
	})
	if err != nil {
		e.logger.Warn("failed transition rejected", "decision_id", r.DecisionID, "err", err)
		return
	}
	e.logger.Warn("decision failed", "pipeline", r.Pipeline, "decision_id", r.DecisionID, "reason", reason)
	e.publish(events.TopicReceiptFailed, events.ReceiptFailed{Receipt: updated, Reason: reason})
}

// abandon moves a receipt to ABANDONED with the given reason and final
// attempt count.
func (e *Engine) abandon(r *model.Receipt, reason string, attempts int) {
	updated, err := e.store.Transition(r.Pipeline, r.DecisionID, model.StateAbandoned, receipt.TransitionFields{
		LastError: reason,
		Attempts:  attempts,
	})
	if err != nil {
		e.logger.Warn("abandoned transition rejected", "decision_id", r.DecisionID, "err", err)
		return
	}
	e.logger.Warn("decision abandoned", "pipeline", r.Pipeline, "decision_id", r.DecisionID, "reason", reason)
	e.publish(events.TopicReceiptAbandoned, events.ReceiptAbandoned{Receipt: updated, Reason: reason})
}

// abandonOrRetryLater abandons when attempts are exhausted, otherwise keeps
// the receipt SUBMITTING so the reconciler retries after the backoff window.
func (e *Engine) abandonOrRetryLater(p *pipeline, r *model.Receipt, reason string) {
	if r.Attempts+1 >= p.cfg.MaxAttempts {
		e.abandon(r, reason, r.Attempts+1)
		return
	}
	updated, err := e.store.Transition(r.Pipeline, r.DecisionID, model.StateSubmitting, receipt.TransitionFields{
		LastError: reason,
		Attempts:  r.Attempts + 1,
	})
	if err != nil {
		e.logger.Warn("retry transition rejected", "decision_id", r.DecisionID, "err", err)
		return
	}
	e.publish(events.TopicReceiptTransition, events.ReceiptTransition{Receipt: updated, From: r.State})
}
