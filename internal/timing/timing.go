// Package timing instruments per-stage pipeline latency. The recorded
// durations surface verbatim in the voice-processing API response.
package timing

import (
	"sync"
	"time"
)

// Stage names recorded by the pipeline.
const (
	StageTranscription = "transcription"
	StageExtraction    = "extraction"
	StageDatabase      = "database"
)

// Timings is the wire shape of one pipeline run's stage latencies, in
// milliseconds.
type Timings struct {
	WhisperTime  int64 `json:"whisperTime"`
	ChatGPTTime  int64 `json:"chatgptTime"`
	DatabaseTime int64 `json:"databaseTime"`
	TotalTime    int64 `json:"totalTime"`
}

// TotalSeconds converts the run's wall time for histogram observation.
func (t Timings) TotalSeconds() float64 {
	return float64(t.TotalTime) / 1000
}

// Recorder accumulates stage durations for one pipeline run. Safe for
// concurrent use; stages of a single run happen to be sequential but the
// database stage can overlap a dispatcher callback.
type Recorder struct {
	mu      sync.Mutex
	started time.Time
	stages  map[string]time.Duration
	now     func() time.Time
}

// NewRecorder starts a recorder for one run.
func NewRecorder() *Recorder {
	return newRecorderAt(time.Now)
}

func newRecorderAt(now func() time.Time) *Recorder {
	return &Recorder{
		started: now(),
		stages:  make(map[string]time.Duration),
		now:     now,
	}
}

// Start begins timing a named stage and returns the stop function. Calling
// stop more than once keeps the first measurement.
func (r *Recorder) Start(stage string) func() {
	begin := r.now()
	var once sync.Once
	return func() {
		once.Do(func() {
			elapsed := r.now().Sub(begin)
			r.mu.Lock()
			r.stages[stage] += elapsed
			r.mu.Unlock()
		})
	}
}

// Add records an externally measured duration against a stage.
func (r *Recorder) Add(stage string, d time.Duration) {
	r.mu.Lock()
	r.stages[stage] += d
	r.mu.Unlock()
}

// Stage returns the accumulated duration for one stage.
func (r *Recorder) Stage(stage string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stages[stage]
}

// Snapshot freezes the run into the wire shape. TotalTime is wall time since
// the recorder was created, not the sum of stages.
func (r *Recorder) Snapshot() Timings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Timings{
		WhisperTime:  r.stages[StageTranscription].Milliseconds(),
		ChatGPTTime:  r.stages[StageExtraction].Milliseconds(),
		DatabaseTime: r.stages[StageDatabase].Milliseconds(),
		TotalTime:    r.now().Sub(r.started).Milliseconds(),
	}
}
