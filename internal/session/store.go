// Package session holds the build session store: the process-wide list of
// known build records, the active selection, and the actions that call the
// builder backend and reconcile responses into local state. Components
// observe changes through a channel-broadcast subscription rather than
// shared mutable globals.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	"github.com/liquidcrypto/liquidos-builder/internal/builder/api"
	berrors "github.com/liquidcrypto/liquidos-builder/internal/errors"
	"github.com/liquidcrypto/liquidos-builder/internal/history"
	"github.com/liquidcrypto/liquidos-builder/internal/metrics"
	"github.com/liquidcrypto/liquidos-builder/internal/retry"
)

// BackendClient is the builder API surface the store depends on.
// *api.Client implements it; tests substitute fakes.
type BackendClient interface {
	CreateBuild(ctx context.Context, req api.CreateBuildRequest) (builder.BuildRecord, error)
	ExecuteBuild(ctx context.Context, id string) error
	ApproveBuild(ctx context.Context, id string, stories []builder.UserStory) (builder.BuildUpdate, error)
	ResumeBuild(ctx context.Context, id string) (builder.BuildUpdate, error)
	CancelBuild(ctx context.Context, id string) error
	InstallBuild(ctx context.Context, id string) error
	BuildStatus(ctx context.Context, id string) (builder.BuildUpdate, error)
	BuildHistory(ctx context.Context) ([]builder.BuildRecord, error)
	DeleteBuild(ctx context.Context, id string) error
	RequestEdit(ctx context.Context, appID, description string) (builder.BuildUpdate, error)
}

// Notifier is told when a build reaches a terminal phase.
type Notifier interface {
	BuildFinished(rec builder.BuildRecord)
}

// errStaleUpdate marks a server response that arrived after a local
// override and must not clobber it.
var errStaleUpdate = errors.New("stale update discarded")

// tracked pairs a record with its override generation. The generation is
// bumped on every local override (cancel); server responses captured under
// an older generation are discarded.
type tracked struct {
	rec      builder.BuildRecord
	override uint64
}

// Store is the build session store.
type Store struct {
	client    BackendClient
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	history   *history.Store
	notifier  Notifier
	execRetry retry.Config

	mu        sync.RWMutex
	order     []string
	records   map[string]*tracked
	activeID  string
	lastError string

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewStore creates a session store backed by the given client.
func NewStore(client BackendClient, logger zerolog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger.With().Str("component", "session").Logger(),
		execRetry: retry.DefaultConfig(),
		records:   make(map[string]*tracked),
		subs:      make(map[int]chan Event),
	}
}

// SetMetrics attaches a metrics collector.
func (s *Store) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetHistory attaches the optional SQLite persistence backend.
func (s *Store) SetHistory(h *history.Store) { s.history = h }

// SetNotifier attaches the optional terminal-phase notifier.
func (s *Store) SetNotifier(n Notifier) { s.notifier = n }

// SetExecRetry overrides the retry policy for the async execute spawn.
func (s *Store) SetExecRetry(cfg retry.Config) { s.execRetry = cfg }

// --- Snapshot accessors ---

// Builds returns a copy of every tracked record in insertion order.
func (s *Store) Builds() []builder.BuildRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]builder.BuildRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].rec)
	}
	return out
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (builder.BuildRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.records[id]
	if !ok {
		return builder.BuildRecord{}, false
	}
	return t.rec, true
}

// ActiveID returns the id of the currently selected build, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetActive selects a tracked build.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	t, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("build %s: %w", id, berrors.ErrBuildGone)
	}
	s.activeID = id
	rec := t.rec
	s.mu.Unlock()
	s.emit(Event{Type: EventActiveChanged, Build: rec})
	return nil
}

// LastError returns the most recent captured action error, or "".
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// ClearError resets the captured action error.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()
}

// --- Actions ---

// SubmitBuild creates a build, makes it active, and spawns server-side
// execution as an explicit async task. An execute failure does not roll
// back the created record; it is reported through the record's error field.
func (s *Store) SubmitBuild(ctx context.Context, req api.CreateBuildRequest) (builder.BuildRecord, error) {
	start := time.Now()
	rec, err := s.client.CreateBuild(ctx, req)
	s.observe("submit", start, err)
	if err != nil {
		s.captureError(err)
		return builder.BuildRecord{}, err
	}

	s.mu.Lock()
	s.insertLocked(rec)
	s.activeID = rec.ID
	s.mu.Unlock()

	s.persist(rec)
	s.emit(Event{Type: EventBuildAdded, Build: rec})
	s.emit(Event{Type: EventActiveChanged, Build: rec})

	go s.execute(rec.ID)
	return rec, nil
}

// execute starts server-side work for a freshly created build, with retries
// for transient failures. A permanent failure lands in the record's error
// field so it is not invisible.
func (s *Store) execute(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := s.execRetry
	cfg.Notify = func(attempt int, err error) {
		s.logger.Warn().Err(err).Str("build_id", id).Int("attempt", attempt).Msg("execute retrying")
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return s.client.ExecuteBuild(ctx, id)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("build_id", id).Msg("execute failed")
		msg := "execute failed: " + err.Error()
		_, _ = s.applyUpdate(id, builder.BuildUpdate{Error: &msg}, nil)
	}
}

// ApproveBuild approves a plan awaiting review, optionally with edited
// stories, and merges the response.
func (s *Store) ApproveBuild(ctx context.Context, id string, stories []builder.UserStory) error {
	start := time.Now()
	upd, err := s.client.ApproveBuild(ctx, id, stories)
	s.observe("approve", start, err)
	if err != nil {
		s.captureError(err)
		return err
	}
	_, err = s.applyUpdate(id, upd, nil)
	return err
}

// ResumeBuild resumes a build, merges the response, and makes it active.
func (s *Store) ResumeBuild(ctx context.Context, id string) error {
	start := time.Now()
	upd, err := s.client.ResumeBuild(ctx, id)
	s.observe("resume", start, err)
	if err != nil {
		s.captureError(err)
		return err
	}
	if _, err := s.applyUpdate(id, upd, nil); err != nil {
		return err
	}
	return s.SetActive(id)
}

// CancelBuild applies the local failed override first, then tells the
// server. The override stands regardless of the server outcome, and the
// bumped generation stops in-flight polls from clobbering it.
func (s *Store) CancelBuild(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("build %s: %w", id, berrors.ErrBuildGone)
	}
	t.override++
	phase := builder.PhaseFailed
	msg := builder.ErrCancelled
	prevPhase := t.rec.Phase
	builder.BuildUpdate{Phase: &phase, Error: &msg}.Apply(&t.rec)
	rec := t.rec
	s.mu.Unlock()

	s.afterMerge(rec, prevPhase)

	if err := s.client.CancelBuild(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("build_id", id).Msg("server cancel failed; local override stands")
	}
	if s.metrics != nil {
		s.metrics.RecordAction("cancel", "ok")
	}
	return nil
}

// InstallBuild asks the server to install the generated files. There is no
// client-side confirmation; the dev server picks up new files on its own.
func (s *Store) InstallBuild(ctx context.Context, id string) error {
	start := time.Now()
	err := s.client.InstallBuild(ctx, id)
	s.observe("install", start, err)
	if err != nil {
		s.captureError(err)
	}
	return err
}

// PollStatus fetches and merges the server state of one build. Failures are
// returned for the caller to count but never captured as user-visible
// errors; the next tick retries. Responses that predate a local override
// are discarded.
func (s *Store) PollStatus(ctx context.Context, id string) error {
	s.mu.RLock()
	t, ok := s.records[id]
	var captured uint64
	if ok {
		captured = t.override
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("build %s: %w", id, berrors.ErrBuildGone)
	}

	upd, err := s.client.BuildStatus(ctx, id)
	if err != nil {
		s.recordPoll("error")
		s.logger.Debug().Err(err).Str("build_id", id).Msg("poll failed")
		return err
	}

	if _, err := s.applyUpdate(id, upd, &captured); err != nil {
		if errors.Is(err, errStaleUpdate) {
			s.recordPoll("stale")
			return nil
		}
		return err
	}
	s.recordPoll("ok")
	return nil
}

// LoadHistory replaces the list with the server's history. Records carrying
// a local terminal override are kept when the server copy would regress them.
func (s *Store) LoadHistory(ctx context.Context) error {
	start := time.Now()
	records, err := s.client.BuildHistory(ctx)
	s.observe("history", start, err)
	if err != nil {
		s.captureError(err)
		return err
	}

	s.mu.Lock()
	order := make([]string, 0, len(records))
	next := make(map[string]*tracked, len(records))
	for _, rec := range records {
		rec.Progress.Clamp()
		if old, ok := s.records[rec.ID]; ok {
			if old.override > 0 && old.rec.Phase.Terminal() && !rec.Phase.Terminal() {
				next[rec.ID] = old
			} else {
				builder.UpdateFrom(rec).Apply(&old.rec)
				next[rec.ID] = old
			}
		} else {
			next[rec.ID] = &tracked{rec: rec}
		}
		order = append(order, rec.ID)
	}
	if _, ok := next[s.activeID]; !ok {
		s.activeID = ""
	}
	s.order = order
	s.records = next
	snapshot := make([]builder.BuildRecord, 0, len(order))
	for _, id := range order {
		snapshot = append(snapshot, next[id].rec)
	}
	s.mu.Unlock()

	for _, rec := range snapshot {
		s.persist(rec)
	}
	s.emit(Event{Type: EventHistoryReplaced})
	return nil
}

// SeedFromCache preloads records from the local history database, for
// startup before the backend is reachable. Server history still wins once
// LoadHistory succeeds.
func (s *Store) SeedFromCache() error {
	if s.history == nil {
		return nil
	}
	records, err := s.history.ListBuilds()
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, rec := range records {
		if _, ok := s.records[rec.ID]; !ok {
			s.insertLocked(rec)
		}
	}
	s.mu.Unlock()

	if len(records) > 0 {
		s.emit(Event{Type: EventHistoryReplaced})
	}
	return nil
}

// DeleteBuild removes a build server-side and locally. The active pointer
// is cleared when it referenced the deleted record.
func (s *Store) DeleteBuild(ctx context.Context, id string) error {
	start := time.Now()
	err := s.client.DeleteBuild(ctx, id)
	s.observe("delete", start, err)
	if err != nil {
		s.captureError(err)
		return err
	}

	s.mu.Lock()
	if _, ok := s.records[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.records, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == id {
		s.activeID = ""
	}
	s.mu.Unlock()

	if s.history != nil {
		if err := s.history.DeleteBuild(id); err != nil {
			s.logger.Warn().Err(err).Str("build_id", id).Msg("failed to delete build from history")
		}
	}
	s.emit(Event{Type: EventBuildRemoved, Build: builder.BuildRecord{ID: id}})
	return nil
}

// RequestEdit submits an edit build against an existing app, tracks the
// resulting record, and makes it active.
func (s *Store) RequestEdit(ctx context.Context, appID, description string) (builder.BuildRecord, error) {
	start := time.Now()
	upd, err := s.client.RequestEdit(ctx, appID, description)
	s.observe("edit", start, err)
	if err != nil {
		s.captureError(err)
		return builder.BuildRecord{}, err
	}
	if upd.ID == "" {
		err := fmt.Errorf("edit response missing build id: %w", berrors.ErrInvalidInput)
		s.captureError(err)
		return builder.BuildRecord{}, err
	}

	now := time.Now().UTC()
	rec := builder.BuildRecord{
		ID:          upd.ID,
		AppID:       appID,
		Phase:       builder.PhaseStaging,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	upd.Apply(&rec)

	s.mu.Lock()
	s.insertLocked(rec)
	s.activeID = rec.ID
	s.mu.Unlock()

	s.persist(rec)
	s.emit(Event{Type: EventBuildAdded, Build: rec})
	s.emit(Event{Type: EventActiveChanged, Build: rec})
	return rec, nil
}

// ApplyServerUpdate merges a pushed server update (status stream). The same
// override guard as polling applies.
func (s *Store) ApplyServerUpdate(id string, upd builder.BuildUpdate) error {
	s.mu.RLock()
	t, ok := s.records[id]
	var captured uint64
	if ok {
		captured = t.override
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("build %s: %w", id, berrors.ErrBuildGone)
	}
	_, err := s.applyUpdate(id, upd, &captured)
	if errors.Is(err, errStaleUpdate) {
		return nil
	}
	return err
}

// --- internals ---

// insertLocked appends a record; caller holds s.mu.
func (s *Store) insertLocked(rec builder.BuildRecord) {
	if _, ok := s.records[rec.ID]; ok {
		builder.UpdateFrom(rec).Apply(&s.records[rec.ID].rec)
		return
	}
	s.records[rec.ID] = &tracked{rec: rec}
	s.order = append(s.order, rec.ID)
}

// applyUpdate merges upd into the record with the given id. When captured
// is non-nil the merge is discarded if the record's override generation
// moved, or if a terminal local override would be regressed.
func (s *Store) applyUpdate(id string, upd builder.BuildUpdate, captured *uint64) (builder.BuildRecord, error) {
	s.mu.Lock()
	t, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return builder.BuildRecord{}, fmt.Errorf("build %s: %w", id, berrors.ErrBuildGone)
	}
	if captured != nil {
		if t.override != *captured {
			s.mu.Unlock()
			return builder.BuildRecord{}, errStaleUpdate
		}
		if t.override > 0 && t.rec.Phase.Terminal() && (upd.Phase == nil || !upd.Phase.Terminal()) {
			s.mu.Unlock()
			return builder.BuildRecord{}, errStaleUpdate
		}
	}
	prevPhase := t.rec.Phase
	upd.Apply(&t.rec)
	rec := t.rec
	s.mu.Unlock()

	s.afterMerge(rec, prevPhase)
	return rec, nil
}

// afterMerge handles phase-transition side effects and persistence.
func (s *Store) afterMerge(rec builder.BuildRecord, prevPhase builder.Phase) {
	if rec.Phase != prevPhase {
		if s.metrics != nil {
			s.metrics.RecordPhase(string(rec.Phase))
		}
		if rec.Phase.Terminal() && s.notifier != nil {
			go s.notifier.BuildFinished(rec)
		}
	}
	s.persist(rec)
	s.emit(Event{Type: EventBuildUpdated, Build: rec})
}

func (s *Store) persist(rec builder.BuildRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.SaveBuild(rec); err != nil {
		s.logger.Warn().Err(err).Str("build_id", rec.ID).Msg("failed to persist build")
	}
}

func (s *Store) captureError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *Store) observe(action string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordAction(action, status)
	s.metrics.ObserveAction(action, time.Since(start).Seconds())
}

func (s *Store) recordPoll(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordPoll(outcome)
	}
}
