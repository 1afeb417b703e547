// Package receipt persists every decision's fate in an append-only segment
// log. Every state transition is written to the log before the in-memory
// index is updated; the index is rebuilt on startup by replaying from the
// last checkpoint. The store is the only globally mutable state in the
// process, with a single writer serialized by the store mutex.
package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alfredjeanlab/anchord/internal/model"
)

var (
	// ErrNotFound is returned when no receipt matches the lookup.
	ErrNotFound = errors.New("receipt not found")
	// ErrExists is returned when creating a receipt whose (pipeline,
	// decision_id) is already present.
	ErrExists = errors.New("receipt already exists")
	// ErrIllegalTransition is returned when a transition violates the
	// receipt state machine.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrCorrupted is returned when replay finds a record with a bad
	// checksum. The process exits with code 3 on this error.
	ErrCorrupted = errors.New("receipt log corrupted")
)

const manifestName = "manifest"

// manifest points at the active segment and lists all live segments in
// replay order.
type manifest struct {
	Active   uint64   `json:"active"`
	Segments []uint64 `json:"segments"`
}

// checkpoint is the payload of a Checkpoint record: the full set of live
// receipts in log order at compaction time.
type checkpoint struct {
	Receipts []*model.Receipt `json:"receipts"`
}

// TransitionFields carries the optional receipt fields set alongside a state
// change. Zero values leave the stored field untouched, except Attempts
// which replaces the stored count when positive.
type TransitionFields struct {
	TxID            string
	LastError       string
	Attempts        int
	Fingerprint     string
	Decision        json.RawMessage
	AnalyzerVersion string
}

// Store is a durable receipt store backed by a segment log.
type Store struct {
	mu     sync.RWMutex
	dir    string
	logger *slog.Logger

	active    *os.File
	activeSeg uint64
	segments  []uint64

	// order holds receipts in log order; the maps index into the same
	// structs. Log order is the deterministic tiebreak for "earliest".
	order     []*model.Receipt
	byKey     map[string]*model.Receipt
	byID      map[string][]*model.Receipt
	byEventFP map[string][]*model.Receipt
}

// Open opens (or initializes) the store directory and replays the log.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	s := &Store{
		dir:       dir,
		logger:    logger,
		byKey:     make(map[string]*model.Receipt),
		byID:      make(map[string][]*model.Receipt),
		byEventFP: make(map[string][]*model.Receipt),
	}

	m, err := s.loadManifest()
	if err != nil {
		return nil, err
	}
	s.segments = m.Segments
	s.activeSeg = m.Active

	for i, seg := range m.Segments {
		last := i == len(m.Segments)-1
		if err := s.replaySegment(seg, last); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(filepath.Join(dir, segmentName(s.activeSeg)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening active segment: %w", err)
	}
	s.active = f
	return s, nil
}

// loadManifest reads the manifest, initializing a fresh one for an empty dir.
func (s *Store) loadManifest() (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		m := &manifest{Active: 0, Segments: []uint64{0}}
		if err := s.writeManifest(m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: bad manifest: %v", ErrCorrupted, err)
	}
	if len(m.Segments) == 0 {
		return nil, fmt.Errorf("%w: manifest lists no segments", ErrCorrupted)
	}
	return &m, nil
}

// writeManifest atomically replaces the manifest.
func (s *Store) writeManifest(m *manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	tmp := filepath.Join(s.dir, manifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, manifestName)); err != nil {
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return syncDir(s.dir)
}

// replaySegment applies every record in one segment. A torn trailing record
// is tolerated only in the final segment, where it is truncated away; any
// other framing or checksum failure surfaces as ErrCorrupted.
func (s *Store) replaySegment(seg uint64, last bool) error {
	path := filepath.Join(s.dir, segmentName(seg))
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) && last {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening segment %d: %w", seg, err)
	}
	defer f.Close()

	var offset int64
	for {
		typ, payload, err := readRecord(f)
		if err == io.EOF {
			return nil
		}
		if err == io.ErrUnexpectedEOF {
			if !last {
				return fmt.Errorf("%w: segment %d ends mid-record", ErrCorrupted, seg)
			}
			s.logger.Warn("truncating torn record at log tail", "segment", seg, "offset", offset)
			return os.Truncate(path, offset)
		}
		if err != nil {
			return fmt.Errorf("segment %d at offset %d: %w", seg, offset, err)
		}

		if err := s.apply(typ, payload); err != nil {
			return fmt.Errorf("segment %d at offset %d: %w", seg, offset, err)
		}
		offset += recHeaderSize + int64(len(payload))
	}
}

// apply replays a single record into the in-memory index.
func (s *Store) apply(typ byte, payload []byte) error {
	switch typ {
	case recCreateReceipt:
		var r model.Receipt
		if err := json.Unmarshal(payload, &r); err != nil {
			return fmt.Errorf("%w: bad create record: %v", ErrCorrupted, err)
		}
		s.index(&r)
	case recTransitionReceipt:
		var r model.Receipt
		if err := json.Unmarshal(payload, &r); err != nil {
			return fmt.Errorf("%w: bad transition record: %v", ErrCorrupted, err)
		}
		existing, ok := s.byKey[r.Key()]
		if !ok {
			// Transition for a receipt created before the last checkpoint
			// window; index it as if newly seen.
			s.index(&r)
			return nil
		}
		*existing = r
	case recCheckpoint:
		var cp checkpoint
		if err := json.Unmarshal(payload, &cp); err != nil {
			return fmt.Errorf("%w: bad checkpoint record: %v", ErrCorrupted, err)
		}
		s.order = nil
		s.byKey = make(map[string]*model.Receipt)
		s.byID = make(map[string][]*model.Receipt)
		s.byEventFP = make(map[string][]*model.Receipt)
		for _, r := range cp.Receipts {
			s.index(r)
		}
	default:
		return fmt.Errorf("%w: unknown record type %d", ErrCorrupted, typ)
	}
	return nil
}

// index inserts a receipt into all lookup structures.
func (s *Store) index(r *model.Receipt) {
	s.order = append(s.order, r)
	s.byKey[r.Key()] = r
	s.byID[r.DecisionID] = append(s.byID[r.DecisionID], r)
	if r.EventFingerprint != "" {
		fpKey := r.Pipeline + "/" + r.EventFingerprint
		s.byEventFP[fpKey] = append(s.byEventFP[fpKey], r)
	}
}

// append writes a framed record to the active segment and syncs it. The log
// write happens before any in-memory mutation.
func (s *Store) append(typ byte, payload []byte) error {
	if _, err := s.active.Write(encodeRecord(typ, payload)); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	if err := s.active.Sync(); err != nil {
		return fmt.Errorf("syncing log: %w", err)
	}
	return nil
}

// Create records a new receipt in state PENDING. The event fingerprint and
// raw event payload are retained so the decision can be re-processed after a
// restart.
func (s *Store) Create(pipeline, decisionID, eventFingerprint string, event json.RawMessage) (*model.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pipeline + "/" + decisionID
	if _, ok := s.byKey[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, key)
	}

	now := time.Now().UTC()
	r := &model.Receipt{
		DecisionID:       decisionID,
		Pipeline:         pipeline,
		State:            model.StatePending,
		EventFingerprint: eventFingerprint,
		Event:            event,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling receipt: %w", err)
	}
	if err := s.append(recCreateReceipt, payload); err != nil {
		return nil, err
	}
	s.index(r)
	return r.Clone(), nil
}

// Transition moves a receipt to a new state, enforcing the state machine,
// and persists the updated receipt before mutating the index.
func (s *Store) Transition(pipeline, decisionID string, next model.State, f TransitionFields) (*model.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byKey[pipeline+"/"+decisionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, pipeline, decisionID)
	}
	if !cur.State.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s (%s/%s)", ErrIllegalTransition, cur.State, next, pipeline, decisionID)
	}

	updated := cur.Clone()
	updated.State = next
	updated.UpdatedAt = time.Now().UTC()
	if f.TxID != "" {
		updated.TxID = f.TxID
	}
	if f.LastError != "" {
		updated.LastError = f.LastError
	}
	if f.Attempts > 0 {
		updated.Attempts = f.Attempts
	}
	if f.Fingerprint != "" {
		updated.Fingerprint = f.Fingerprint
	}
	if f.Decision != nil {
		updated.Decision = f.Decision
	}
	if f.AnalyzerVersion != "" {
		updated.AnalyzerVersion = f.AnalyzerVersion
	}

	payload, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("marshaling receipt: %w", err)
	}
	if err := s.append(recTransitionReceipt, payload); err != nil {
		return nil, err
	}
	*cur = *updated
	return updated.Clone(), nil
}

// Get returns the receipt for (pipeline, decision_id).
func (s *Store) Get(pipeline, decisionID string) (*model.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byKey[pipeline+"/"+decisionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, pipeline, decisionID)
	}
	return r.Clone(), nil
}

// GetByID returns the earliest-created receipt with the given decision id
// across pipelines. Decision ids are unique per pipeline; cross-pipeline
// collisions resolve deterministically to the first one logged.
func (s *Store) GetByID(decisionID string) (*model.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs := s.byID[decisionID]
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, decisionID)
	}
	return rs[0].Clone(), nil
}

// FindByFingerprint returns the earliest CONFIRMED receipt for an event
// fingerprint within one pipeline if one exists, else the earliest receipt
// with that fingerprint in log order. Dedupe is scoped per pipeline: the same
// event payload fed to two pipelines runs two different analyzers and must
// anchor twice. ErrNotFound when no receipt matches.
func (s *Store) FindByFingerprint(pipeline, eventFingerprint string) (*model.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs := s.byEventFP[pipeline+"/"+eventFingerprint]
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w: fingerprint %s", ErrNotFound, eventFingerprint)
	}
	for _, r := range rs {
		if r.State == model.StateConfirmed {
			return r.Clone(), nil
		}
	}
	return rs[0].Clone(), nil
}

// ListPending returns non-terminal receipts for a pipeline in log order, up
// to limit (0 = no limit). Used for recovery and the admin surface.
func (s *Store) ListPending(pipeline string, limit int) []*model.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Receipt
	for _, r := range s.order {
		if pipeline != "" && r.Pipeline != pipeline {
			continue
		}
		if r.State.Terminal() {
			continue
		}
		out = append(out, r.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Stats returns receipt counts per state.
func (s *Store) Stats() map[model.State]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := make(map[model.State]int)
	for _, r := range s.order {
		stats[r.State]++
	}
	return stats
}

// Len returns the number of live receipts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Compact writes a checkpoint of the live receipts into a fresh segment and
// retires all earlier segments, dropping superseded records. It returns the
// paths of the retired segment files; the caller may archive them before
// deletion.
func (s *Store) Compact() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := checkpoint{Receipts: s.order}
	payload, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("marshaling checkpoint: %w", err)
	}

	next := s.activeSeg + 1
	path := filepath.Join(s.dir, segmentName(next))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating segment %d: %w", next, err)
	}
	if _, err := f.Write(encodeRecord(recCheckpoint, payload)); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("syncing checkpoint: %w", err)
	}

	// The manifest flip is the commit point: once it lands, replay starts
	// at the checkpoint and the old segments are garbage.
	if err := s.writeManifest(&manifest{Active: next, Segments: []uint64{next}}); err != nil {
		f.Close()
		return nil, err
	}

	retired := make([]string, 0, len(s.segments))
	for _, seg := range s.segments {
		retired = append(retired, filepath.Join(s.dir, segmentName(seg)))
	}

	old := s.active
	s.active = f
	s.activeSeg = next
	s.segments = []uint64{next}
	if old != nil {
		old.Close()
	}
	return retired, nil
}

// Close closes the active segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	err := s.active.Close()
	s.active = nil
	return err
}
