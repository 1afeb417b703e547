// Package engine orchestrates the decision pipeline: resolve the analyzer,
// compute the decision, fingerprint it, anchor it on the ledger, and record
// every receipt transition. Intake returns as soon as a PENDING receipt
// exists; all ledger work happens on per-pipeline workers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/anchord/internal/canonical"
	"github.com/alfredjeanlab/anchord/internal/events"
	"github.com/alfredjeanlab/anchord/internal/idgen"
	"github.com/alfredjeanlab/anchord/internal/ledger"
	"github.com/alfredjeanlab/anchord/internal/model"
	"github.com/alfredjeanlab/anchord/internal/receipt"
	"github.com/alfredjeanlab/anchord/internal/registry"
)

var (
	// ErrUnknownPipeline is returned for events naming an unconfigured pipeline.
	ErrUnknownPipeline = errors.New("unknown pipeline")
	// ErrOverloaded is returned when a pipeline's intake queue is full.
	ErrOverloaded = errors.New("pipeline queue full")
	// ErrNotCancellable is returned when cancelling a receipt that has
	// already reached SUBMITTED or a terminal state.
	ErrNotCancellable = errors.New("receipt not cancellable")
	// ErrMalformedEvent is returned when an event payload cannot be
	// canonically encoded at intake.
	ErrMalformedEvent = errors.New("malformed event")
)

// Config carries engine-wide deadlines. Per-pipeline settings live in the
// pipeline configs.
type Config struct {
	SubmitDeadline    time.Duration // overall deadline for one submission cycle (default 5m)
	ConfirmDeadline   time.Duration // deadline for confirmation polling (default 15m)
	ReconcileInterval time.Duration // how often stalled receipts are revisited (default 30s)
}

// Defaults for Config.
const (
	DefaultSubmitDeadline    = 5 * time.Minute
	DefaultConfirmDeadline   = 15 * time.Minute
	DefaultReconcileInterval = 30 * time.Second
)

type job struct {
	pipeline   string
	decisionID string
}

type pipeline struct {
	cfg   model.PipelineConfig
	jobs  chan job
	slots chan struct{}
}

// depth reports how many decisions are queued, bounded by the pipeline's
// MaxQueue: a slot is held from intake until a worker dequeues the job.
func (p *pipeline) depth() int {
	return len(p.slots)
}

// Engine runs all configured pipelines.
type Engine struct {
	cfg       Config
	store     *receipt.Store
	registry  *registry.Registry
	ledger    *ledger.Client
	publisher events.Publisher
	logger    *slog.Logger

	pipelines map[string]*pipeline
	locks     *keyedLocks
	inflight  *inflightSet

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates the pipeline configs and builds an engine. Analyzer
// references are resolved eagerly so misconfigurations fail at startup, not
// on the first event.
func New(cfg Config, pipelines []model.PipelineConfig, store *receipt.Store, reg *registry.Registry, lc *ledger.Client, pub events.Publisher, logger *slog.Logger) (*Engine, error) {
	if cfg.SubmitDeadline == 0 {
		cfg.SubmitDeadline = DefaultSubmitDeadline
	}
	if cfg.ConfirmDeadline == 0 {
		cfg.ConfirmDeadline = DefaultConfirmDeadline
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		registry:  reg,
		ledger:    lc,
		publisher: pub,
		logger:    logger,
		pipelines: make(map[string]*pipeline),
		locks:     newKeyedLocks(),
		inflight:  newInflightSet(),
	}

	for _, pc := range pipelines {
		pc.ApplyDefaults()
		if err := model.ValidatePipeline(&pc); err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", pc.Name, err)
		}
		if _, err := reg.Resolve(pc.Analyzer); err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", pc.Name, err)
		}
		if _, ok := e.pipelines[pc.Name]; ok {
			return nil, fmt.Errorf("duplicate pipeline %q", pc.Name)
		}
		e.pipelines[pc.Name] = &pipeline{
			cfg:   pc,
			jobs:  make(chan job, pc.MaxQueue),
			slots: make(chan struct{}, pc.MaxQueue),
		}
	}
	return e, nil
}

// Start launches the pipeline workers and the reconciler, then recovers any
// receipts left non-terminal by a previous run.
func (e *Engine) Start() {
	e.ctx, e.cancel = context.WithCancel(context.Background())

	for _, p := range e.pipelines {
		for i := 0; i < p.cfg.Workers; i++ {
			e.wg.Add(1)
			go e.workerLoop(p)
		}
	}

	e.wg.Add(1)
	go e.reconcileLoop()
}

// Stop cancels all work and waits for workers to drain.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Submit performs intake: assign a decision id, create the PENDING receipt,
// and hand the decision to the pipeline's queue. It returns immediately;
// analysis and anchoring happen in the background. Re-submitting a known
// (pipeline, event_id) returns the existing receipt without re-execution.
func (e *Engine) Submit(ctx context.Context, ev *model.Event) (*model.Receipt, error) {
	if err := model.ValidateEvent(ev); err != nil {
		return nil, err
	}
	p, ok := e.pipelines[ev.Pipeline]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, ev.Pipeline)
	}

	decisionID := ev.EventID
	if decisionID == "" {
		id, err := idgen.Generate()
		if err != nil {
			return nil, err
		}
		decisionID = id
	}

	unlock := e.locks.lock(ev.Pipeline + "/" + decisionID)
	defer unlock()

	if r, err := e.store.Get(ev.Pipeline, decisionID); err == nil {
		return r, nil
	}

	enc, err := canonical.Encode(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	eventFP := canonical.HexFingerprint(canonical.Fingerprint(enc))

	rawEvent, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	// Reserve a queue slot before creating the receipt so overload fails
	// fast without leaving an orphan PENDING record.
	select {
	case p.slots <- struct{}{}:
	default:
		return nil, fmt.Errorf("%w: %q at %d", ErrOverloaded, ev.Pipeline, cap(p.slots))
	}

	r, err := e.store.Create(ev.Pipeline, decisionID, eventFP, rawEvent)
	if err != nil {
		<-p.slots
		if errors.Is(err, receipt.ErrExists) {
			return e.store.Get(ev.Pipeline, decisionID)
		}
		return nil, err
	}

	e.inflight.tryAdd(r.Key())
	e.publish(events.TopicReceiptCreated, events.ReceiptCreated{Receipt: r})

	// Guaranteed space: the slot reserved above matches queue capacity.
	p.jobs <- job{pipeline: ev.Pipeline, decisionID: decisionID}
	return r, nil
}

// Receipt returns the receipt for a decision id.
func (e *Engine) Receipt(decisionID string) (*model.Receipt, error) {
	return e.store.GetByID(decisionID)
}

// Pending returns non-terminal receipts for a pipeline.
func (e *Engine) Pending(pipelineName string, limit int) ([]*model.Receipt, error) {
	if _, ok := e.pipelines[pipelineName]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, pipelineName)
	}
	return e.store.ListPending(pipelineName, limit), nil
}

// Cancel abandons a decision that has not yet been handed to the ledger.
// A SUBMITTED decision cannot be cancelled; its transaction may already be
// included, so the receipt stays and is reconciled instead.
func (e *Engine) Cancel(ctx context.Context, decisionID string) (*model.Receipt, error) {
	r, err := e.store.GetByID(decisionID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(r.Key())
	defer unlock()

	r, err = e.store.Get(r.Pipeline, r.DecisionID)
	if err != nil {
		return nil, err
	}
	if r.State != model.StatePending && r.State != model.StateSubmitting {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCancellable, decisionID, r.State)
	}

	updated, err := e.store.Transition(r.Pipeline, r.DecisionID, model.StateAbandoned, receipt.TransitionFields{
		LastError: "cancelled by admin",
	})
	if err != nil {
		return nil, err
	}
	e.publish(events.TopicReceiptAbandoned, events.ReceiptAbandoned{Receipt: updated, Reason: "cancelled by admin"})
	return updated, nil
}

// QueueDepths reports the current intake queue depth per pipeline.
func (e *Engine) QueueDepths() map[string]int {
	depths := make(map[string]int, len(e.pipelines))
	for name, p := range e.pipelines {
		depths[name] = p.depth()
	}
	return depths
}

// Pipelines returns the configured pipeline names.
func (e *Engine) Pipelines() []string {
	names := make([]string, 0, len(e.pipelines))
	for n := range e.pipelines {
		names = append(names, n)
	}
	return names
}

// publish emits an event to the bus. Best-effort: failures are logged, never
// propagated into the pipeline.
func (e *Engine) publish(topic string, event any) {
	if err := e.publisher.Publish(context.Background(), topic, event); err != nil {
		e.logger.Warn("failed to publish event", "topic", topic, "err", err)
	}
}
