package engine

import (
	"fmt"
	"time"
)

// envelopeStaleness mirrors the signed envelope's time bounds. A SUBMITTING
// receipt younger than this may still have its transaction land, so the
// reconciler waits instead of resubmitting; past it the old envelope is
// guaranteed tx_too_late and rebuilding is safe.
const envelopeStaleness = 5 * time.Minute

// reconcileLoop re-feeds stalled receipts to the workers. On startup it
// sweeps everything non-terminal left behind by a previous run, then revisits
// on a fixed interval. Receipts a worker currently owns are skipped via the
// inflight set.
func (e *Engine) reconcileLoop() {
	defer e.wg.Done()

	for _, p := range e.pipelines {
		if n := e.sweep(p, 0); n > 0 {
			e.logger.Info("recovered receipts from previous run",
				"pipeline", p.cfg.Name, "count", n)
		}
	}

	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			for _, p := range e.pipelines {
				e.sweep(p, e.cfg.ReconcileInterval)
			}
		}
	}
}

// Reconcile sweeps one pipeline immediately and reports how many receipts
// were re-queued. Exposed for the admin endpoint and the reconcile command.
func (e *Engine) Reconcile(pipelineName string) (int, error) {
	p, ok := e.pipelines[pipelineName]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPipeline, pipelineName)
	}
	return e.sweep(p, 0), nil
}

// sweep enqueues every non-terminal receipt of a pipeline that is not already
// in flight and has been idle for at least minAge. Queue capacity is
// respected; whatever does not fit waits for the next tick.
func (e *Engine) sweep(p *pipeline, minAge time.Duration) int {
	n := 0
	for _, r := range e.store.ListPending(p.cfg.Name, 0) {
		if minAge > 0 && time.Since(r.UpdatedAt) < minAge {
			continue
		}
		key := r.Key()
		if !e.inflight.tryAdd(key) {
			continue
		}
		select {
		case p.slots <- struct{}{}:
		default:
			e.inflight.remove(key)
			return n
		}
		p.jobs <- job{pipeline: r.Pipeline, decisionID: r.DecisionID}
		n++
	}
	return n
}
