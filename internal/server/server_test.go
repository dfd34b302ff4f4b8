package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	murmurerrors "murmur/internal/errors"
	"murmur/internal/events"
	"murmur/internal/pipeline"
	"murmur/internal/reminder"
	"murmur/internal/task"
	"murmur/internal/timing"
)

type stubProcessor struct {
	result    *pipeline.Result
	err       error
	acceptErr error
	lastAudio []byte
}

func (s *stubProcessor) Process(_ context.Context, audio []byte, _ bool) (*pipeline.Result, error) {
	s.lastAudio = audio
	return s.result, s.err
}

func (s *stubProcessor) Accept(context.Context, string) (*pipeline.Result, error) {
	if s.acceptErr != nil {
		return nil, s.acceptErr
	}
	return s.result, nil
}

func (s *stubProcessor) Retry(context.Context, string, bool) (*pipeline.Result, error) {
	return s.result, s.err
}

func (s *stubProcessor) Cancel(string) error { return s.acceptErr }

type stubSweeper struct {
	report *reminder.Report
	err    error
}

func (s *stubSweeper) Sweep(context.Context) (*reminder.Report, error) {
	return s.report, s.err
}

type stubLister struct {
	tasks []task.Task
	err   error
}

func (s *stubLister) ListTasks(context.Context) ([]task.Task, error) {
	return s.tasks, s.err
}

func newTestServer(p Processor, sw SweepRunner, l TaskLister, bus *events.Bus) *Server {
	if bus == nil {
		bus = events.NewBus()
	}
	return New(Config{Addr: "127.0.0.1:0", Debug: false}, p, sw, l, bus, nil)
}

func reviewingResult() *pipeline.Result {
	at := time.Date(2026, 8, 28, 10, 10, 0, 0, time.UTC)
	return &pipeline.Result{
		RunID:  "run-1",
		State:  pipeline.RunReviewing,
		Source: "model",
		Extracted: task.TranscriptionResult{
			RawTranscription: "remind me in ten minutes to call nigel",
			CleanedText:      "Remind me in ten minutes to call Nigel.",
			Candidates: []task.Candidate{{
				Title:        "call nigel",
				Priority:     task.PriorityMedium,
				ActionType:   task.ActionReminder,
				ScheduledFor: &at,
				Contact:      &task.ContactInfo{Name: "nigel"},
			}},
			Confidence: task.ConfidenceMedium,
		},
		Timings: timing.Timings{WhisperTime: 120, ChatGPTTime: 340, TotalTime: 500},
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestVoiceProcessSuccess(t *testing.T) {
	p := &stubProcessor{result: reviewingResult()}
	s := newTestServer(p, &stubSweeper{}, &stubLister{}, nil)

	audio := base64.StdEncoding.EncodeToString([]byte("pcm audio bytes"))
	rec := postJSON(t, s.Handler(), "/api/voice/process", map[string]any{
		"audio":                     audio,
		"forceAggressiveCorrection": true,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("pcm audio bytes"), p.lastAudio)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "remind me in ten minutes to call nigel", got["rawTranscription"])
	assert.Equal(t, "medium", got["confidence"])
	candidates := got["extractedTasks"].([]any)
	require.Len(t, candidates, 1)
	assert.Equal(t, "call nigel", candidates[0].(map[string]any)["title"])
	timings := got["timings"].(map[string]any)
	assert.Equal(t, float64(120), timings["whisperTime"])
	assert.Equal(t, float64(500), timings["totalTime"])
}

func TestVoiceProcessRejectsEmptyAudio(t *testing.T) {
	p := &stubProcessor{}
	s := newTestServer(p, &stubSweeper{}, &stubLister{}, nil)

	rec := postJSON(t, s.Handler(), "/api/voice/process", map[string]any{"audio": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, false, got["success"])
	// The pipeline never ran.
	assert.Nil(t, p.lastAudio)
}

func TestVoiceProcessTranscriptionDown(t *testing.T) {
	p := &stubProcessor{
		result: &pipeline.Result{RunID: "run-2", State: pipeline.RunFailed, Timings: timing.Timings{TotalTime: 42}},
		err:    murmurerrors.ErrTranscriptionUnavailable,
	}
	s := newTestServer(p, &stubSweeper{}, &stubLister{}, nil)

	audio := base64.StdEncoding.EncodeToString([]byte("audio"))
	rec := postJSON(t, s.Handler(), "/api/voice/process", map[string]any{"audio": audio})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, false, got["success"])
	assert.Equal(t, float64(42), got["timings"].(map[string]any)["totalTime"])
}

func TestReviewEndpointStatusMapping(t *testing.T) {
	p := &stubProcessor{acceptErr: pipeline.ErrUnknownRun}
	s := newTestServer(p, &stubSweeper{}, &stubLister{}, nil)

	rec := postJSON(t, s.Handler(), "/api/voice/runs/run-x/accept", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	p.acceptErr = pipeline.ErrReviewResolved
	rec = postJSON(t, s.Handler(), "/api/voice/runs/run-x/cancel", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSweepEndpoint(t *testing.T) {
	sw := &stubSweeper{report: &reminder.Report{
		Success:        true,
		ProcessedCount: 2,
		Actions: []reminder.RowResult{
			{ID: "act-1", ActionType: "reminder", TaskTitle: "call nigel", Status: "completed"},
			{ID: "act-2", ActionType: "call", TaskTitle: "call dana", Status: "completed"},
		},
	}}
	s := newTestServer(&stubProcessor{}, sw, &stubLister{}, nil)

	rec := postJSON(t, s.Handler(), "/api/actions/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, float64(2), got["processed_count"])
	actions := got["actions"].([]any)
	assert.Equal(t, "act-1", actions[0].(map[string]any)["id"])
}

func TestSweepEndpointFailure(t *testing.T) {
	sw := &stubSweeper{err: errors.New("store offline")}
	s := newTestServer(&stubProcessor{}, sw, &stubLister{}, nil)

	rec := postJSON(t, s.Handler(), "/api/actions/sweep", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListTasks(t *testing.T) {
	l := &stubLister{tasks: []task.Task{{ID: "tsk-1", Title: "call nigel", Priority: task.PriorityMedium, ActionType: task.ActionCall}}}
	s := newTestServer(&stubProcessor{}, &stubSweeper{}, l, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	tasks := got["tasks"].([]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, "call nigel", tasks[0].(map[string]any)["title"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(&stubProcessor{}, &stubSweeper{}, &stubLister{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestEventsWebsocketPushesChanges(t *testing.T) {
	bus := events.NewBus()
	s := newTestServer(&stubProcessor{}, &stubSweeper{}, &stubLister{}, bus)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The watcher registers during the upgrade; give it a beat before
	// publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(events.Change{Table: events.TableTasks, Op: events.OpInsert, RowID: "tsk-9"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var change events.Change
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, events.TableTasks, change.Table)
	assert.Equal(t, events.OpInsert, change.Op)
	assert.Equal(t, "tsk-9", change.RowID)
}
