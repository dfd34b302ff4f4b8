// Package pipeline composes transcription, extraction, and persistence for
// one recording. The stages are sequential: extraction needs the transcript,
// and a scheduled action needs its owning task row. Retry policy lives here,
// never inside a stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	murmurerrors "murmur/internal/errors"
	"murmur/internal/events"
	"murmur/internal/extract"
	"murmur/internal/logging"
	"murmur/internal/reminder"
	"murmur/internal/task"
	"murmur/internal/timing"
)

var (
	// ErrUnknownRun is returned for review actions on a run id that never
	// existed or aged out of the transcript cache.
	ErrUnknownRun = errors.New("unknown pipeline run")

	// ErrReviewResolved is returned when accept, retry, and cancel race:
	// whichever lands first wins and the rest fail.
	ErrReviewResolved = errors.New("review already resolved")
)

// transcriptCacheSize bounds how many runs can await review or retry.
const transcriptCacheSize = 64

// RunState is a pipeline run's terminal or review state.
type RunState string

const (
	RunReviewing    RunState = "reviewing"
	RunAutoAccepted RunState = "auto-accepted"
	RunAccepted     RunState = "accepted"
	RunCancelled    RunState = "cancelled"
	RunFailed       RunState = "failed"
)

// Transcriber is the speech-to-text stage.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// ExtractionStage maps a transcript to a best-effort result.
type ExtractionStage interface {
	Extract(ctx context.Context, transcript string, opts extract.Options) *extract.Outcome
}

// PersistStore is the slice of the durable store the pipeline writes to.
type PersistStore interface {
	CreateTask(ctx context.Context, t *task.Task) error
	CreateAction(ctx context.Context, a *task.ScheduledAction) error
}

// Result is what one run (or one review action) hands back to the caller.
type Result struct {
	RunID     string                   `json:"runId"`
	State     RunState                 `json:"state"`
	Source    extract.Source           `json:"source"`
	Extracted task.TranscriptionResult `json:"extracted"`
	Timings   timing.Timings           `json:"timings"`
	TaskIDs   []string                 `json:"taskIds,omitempty"`
	ActionIDs []string                 `json:"actionIds,omitempty"`
}

// review is one run awaiting an explicit accept, retry, or cancel.
type review struct {
	mu       sync.Mutex
	resolved bool
	outcome  *extract.Outcome
}

// Options configure a pipeline.
type Options struct {
	// Settings selects notification channels for created actions.
	Settings task.NotificationSettings
	// Retry bounds transient durable-write retries.
	Retry murmurerrors.RetryConfig
}

// Pipeline is the per-recording orchestrator.
type Pipeline struct {
	transcriber Transcriber
	extractor   ExtractionStage
	store       PersistStore
	dispatcher  reminder.Dispatcher
	bus         *events.Bus
	metrics     *Metrics
	logger      logging.Logger
	opts        Options
	now         func() time.Time

	transcripts *lru.Cache[string, string]
	mu          sync.Mutex
	reviews     map[string]*review
}

// New wires the orchestrator. dispatcher, bus, and metrics may be nil.
func New(transcriber Transcriber, extractor ExtractionStage, store PersistStore,
	dispatcher reminder.Dispatcher, bus *events.Bus, metrics *Metrics,
	opts Options, logger logging.Logger) (*Pipeline, error) {

	transcripts, err := lru.New[string, string](transcriptCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create transcript cache: %w", err)
	}
	if opts.Settings == (task.NotificationSettings{}) {
		opts.Settings = task.DefaultNotificationSettings()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = murmurerrors.DefaultRetryConfig()
	}
	return &Pipeline{
		transcriber: transcriber,
		extractor:   extractor,
		store:       store,
		dispatcher:  dispatcher,
		bus:         bus,
		metrics:     metrics,
		logger:      logging.OrNop(logger),
		opts:        opts,
		now:         time.Now,
		transcripts: transcripts,
		reviews:     make(map[string]*review),
	}, nil
}

// Process runs transcription then extraction over one recording's audio.
// High-confidence actionable results persist immediately; everything else
// parks for explicit review. The returned Result always carries timings,
// including on failure.
func (p *Pipeline) Process(ctx context.Context, audio []byte, aggressive bool) (*Result, error) {
	rec := timing.NewRecorder()
	result := &Result{RunID: newRunID()}

	stopTranscribe := rec.Start(timing.StageTranscription)
	transcript, err := p.transcriber.Transcribe(ctx, audio)
	stopTranscribe()
	if err != nil {
		result.State = RunFailed
		result.Timings = rec.Snapshot()
		p.metrics.observeRun(RunFailed, result.Timings.TotalSeconds())
		return result, fmt.Errorf("transcription stage: %w", err)
	}
	p.transcripts.Add(result.RunID, transcript)

	outcome := p.extract(ctx, rec, transcript, aggressive)
	p.finishRun(ctx, rec, result, outcome)
	return result, nil
}

// Accept persists the parked result's candidates verbatim. First review
// action on the run wins; later ones get ErrReviewResolved.
func (p *Pipeline) Accept(ctx context.Context, runID string) (*Result, error) {
	rev, err := p.review(runID)
	if err != nil {
		return nil, err
	}
	rev.mu.Lock()
	defer rev.mu.Unlock()
	if rev.resolved {
		return nil, ErrReviewResolved
	}
	rev.resolved = true
	p.dropReview(runID)

	rec := timing.NewRecorder()
	result := &Result{
		RunID:     runID,
		State:     RunAccepted,
		Source:    rev.outcome.Source,
		Extracted: rev.outcome.Result,
	}
	if err := p.persist(ctx, rec, result, rev.outcome.Result.Candidates); err != nil {
		result.State = RunFailed
		result.Timings = rec.Snapshot()
		p.metrics.observeRun(RunFailed, result.Timings.TotalSeconds())
		return result, err
	}
	result.Timings = rec.Snapshot()
	p.metrics.observeRun(RunAccepted, result.Timings.TotalSeconds())
	return result, nil
}

// Retry re-runs only extraction over the cached transcript, optionally with
// aggressive correction. The fresh result goes through the same auto-accept
// decision as the original run.
func (p *Pipeline) Retry(ctx context.Context, runID string, aggressive bool) (*Result, error) {
	rev, err := p.review(runID)
	if err != nil {
		return nil, err
	}
	transcript, ok := p.transcripts.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: transcript evicted for %s", ErrUnknownRun, runID)
	}

	rev.mu.Lock()
	defer rev.mu.Unlock()
	if rev.resolved {
		return nil, ErrReviewResolved
	}

	rec := timing.NewRecorder()
	result := &Result{RunID: runID}
	outcome := p.extract(ctx, rec, transcript, aggressive)

	if p.autoAccept(outcome) {
		rev.resolved = true
		p.dropReview(runID)
		p.conclude(ctx, rec, result, outcome, RunAutoAccepted)
		return result, nil
	}
	rev.outcome = outcome
	result.State = RunReviewing
	result.Source = outcome.Source
	result.Extracted = outcome.Result
	result.Timings = rec.Snapshot()
	p.metrics.observeRun(RunReviewing, result.Timings.TotalSeconds())
	return result, nil
}

// Cancel discards a parked result. First review action wins.
func (p *Pipeline) Cancel(runID string) error {
	rev, err := p.review(runID)
	if err != nil {
		return err
	}
	rev.mu.Lock()
	defer rev.mu.Unlock()
	if rev.resolved {
		return ErrReviewResolved
	}
	rev.resolved = true
	p.dropReview(runID)
	p.transcripts.Remove(runID)
	p.metrics.observeRun(RunCancelled, 0)
	p.logger.Debug("run %s cancelled", runID)
	return nil
}

func (p *Pipeline) extract(ctx context.Context, rec *timing.Recorder, transcript string, aggressive bool) *extract.Outcome {
	stop := rec.Start(timing.StageExtraction)
	outcome := p.extractor.Extract(ctx, transcript, extract.Options{
		AggressiveCorrection: aggressive,
		ReferenceTime:        p.now(),
	})
	stop()
	if outcome.Source == extract.SourceFallback {
		p.metrics.observeFallback()
	}
	return outcome
}

// finishRun applies the auto-accept policy to a fresh extraction outcome.
func (p *Pipeline) finishRun(ctx context.Context, rec *timing.Recorder, result *Result, outcome *extract.Outcome) {
	if p.autoAccept(outcome) {
		p.conclude(ctx, rec, result, outcome, RunAutoAccepted)
		return
	}

	p.mu.Lock()
	p.reviews[result.RunID] = &review{outcome: outcome}
	p.mu.Unlock()

	result.State = RunReviewing
	result.Source = outcome.Source
	result.Extracted = outcome.Result
	result.Timings = rec.Snapshot()
	p.metrics.observeRun(RunReviewing, result.Timings.TotalSeconds())
}

// conclude persists an accepted outcome and seals the result.
func (p *Pipeline) conclude(ctx context.Context, rec *timing.Recorder, result *Result, outcome *extract.Outcome, state RunState) {
	result.State = state
	result.Source = outcome.Source
	result.Extracted = outcome.Result
	if err := p.persist(ctx, rec, result, outcome.Result.Candidates); err != nil {
		p.logger.Error("run %s persist failed: %v", result.RunID, err)
		result.State = RunFailed
		result.Extracted.PotentialErrors = append(result.Extracted.PotentialErrors, err.Error())
	}
	result.Timings = rec.Snapshot()
	p.metrics.observeRun(result.State, result.Timings.TotalSeconds())
}

// autoAccept implements the confirmation policy: high confidence plus at
// least one candidate that is either scheduled or actionable.
func (p *Pipeline) autoAccept(outcome *extract.Outcome) bool {
	if outcome.Result.Confidence != task.ConfidenceHigh {
		return false
	}
	for _, candidate := range outcome.Result.Candidates {
		if candidate.ScheduledFor != nil || candidate.ActionType.Schedulable() {
			return true
		}
	}
	return false
}

// persist writes every candidate. A task row always lands; a scheduled
// action lands only for actionable candidates whose schedule is still in the
// future, so nothing backdated ever reaches the reminder dispatchers. An
// action write failing after its task succeeded is partial success: logged
// and reported on the result, never rolled back.
func (p *Pipeline) persist(ctx context.Context, rec *timing.Recorder, result *Result, candidates []task.Candidate) error {
	stop := rec.Start(timing.StageDatabase)
	defer stop()

	now := p.now()
	for _, candidate := range candidates {
		row := p.taskFromCandidate(candidate, now)
		if err := row.Validate(); err != nil {
			p.logger.Warn("skipping invalid candidate %q: %v", candidate.Title, err)
			continue
		}
		if err := p.retryWrite(ctx, func(ctx context.Context) error {
			return p.store.CreateTask(ctx, row)
		}); err != nil {
			return fmt.Errorf("%w: task %q: %v", murmurerrors.ErrDurablePersistFailed, row.Title, err)
		}
		result.TaskIDs = append(result.TaskIDs, row.ID)
		p.publish(events.Change{Table: events.TableTasks, Op: events.OpInsert, RowID: row.ID})

		if !p.shouldSchedule(candidate, now) {
			continue
		}
		action := p.actionFromCandidate(candidate, row.ID, now)
		if err := p.retryWrite(ctx, func(ctx context.Context) error {
			return p.store.CreateAction(ctx, action)
		}); err != nil {
			wrapped := fmt.Errorf("%w: action for task %s: %v", murmurerrors.ErrDurablePersistFailed, row.ID, err)
			p.logger.Warn("partial persist, task kept without action: %v", wrapped)
			result.Extracted.PotentialErrors = append(result.Extracted.PotentialErrors, wrapped.Error())
			continue
		}
		result.ActionIDs = append(result.ActionIDs, action.ID)
		p.publish(events.Change{Table: events.TableScheduledActions, Op: events.OpInsert, RowID: action.ID})

		if p.dispatcher != nil && !p.dispatcher.ScheduleReminder(action) {
			p.logger.Debug("on-device scheduling unavailable for %s, sweep will deliver", action.ID)
		}
	}
	return nil
}

func (p *Pipeline) shouldSchedule(candidate task.Candidate, now time.Time) bool {
	return candidate.ActionType.Schedulable() &&
		candidate.ScheduledFor != nil &&
		candidate.ScheduledFor.After(now)
}

func (p *Pipeline) taskFromCandidate(candidate task.Candidate, now time.Time) *task.Task {
	row := &task.Task{
		ID:           task.NewTaskID(),
		Title:        candidate.Title,
		Description:  candidate.Description,
		Priority:     candidate.Priority,
		ActionType:   candidate.ActionType,
		ScheduledFor: candidate.ScheduledFor,
		Contact:      candidate.Contact,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	row.Normalize()
	return row
}

func (p *Pipeline) actionFromCandidate(candidate task.Candidate, taskID string, now time.Time) *task.ScheduledAction {
	return &task.ScheduledAction{
		ID:           task.NewActionID(),
		TaskID:       taskID,
		ActionType:   candidate.ActionType,
		ScheduledFor: *candidate.ScheduledFor,
		Contact:      candidate.Contact,
		Settings:     p.opts.Settings,
		Status:       task.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (p *Pipeline) retryWrite(ctx context.Context, write murmurerrors.RetryableFunc) error {
	return murmurerrors.Retry(ctx, p.opts.Retry, p.logger, write)
}

func (p *Pipeline) review(runID string) (*review, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rev, ok := p.reviews[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return rev, nil
}

func (p *Pipeline) dropReview(runID string) {
	p.mu.Lock()
	delete(p.reviews, runID)
	p.mu.Unlock()
}

func (p *Pipeline) publish(change events.Change) {
	if p.bus != nil {
		p.bus.Publish(change)
	}
}

func newRunID() string {
	return fmt.Sprintf("run-%s", uuid.NewString())
}
