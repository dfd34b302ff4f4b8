package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	murmurerrors "murmur/internal/errors"
	"murmur/internal/jsonx"
	"murmur/internal/logging"
	"murmur/internal/task"
	"murmur/internal/timeparse"
)

// Source records which path produced an extraction outcome.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Outcome is the tagged result of one extraction run. Downstream code never
// touches raw model JSON; it only sees this validated shape.
type Outcome struct {
	Result task.TranscriptionResult
	Source Source
}

// Options tune one extraction run.
type Options struct {
	// AggressiveCorrection widens the model's tolerance for garbled input.
	AggressiveCorrection bool
	// ReferenceTime anchors relative time expressions. Zero means now.
	ReferenceTime time.Time
}

// Extractor runs the extraction stage.
type Extractor struct {
	llm    LLMClient
	logger logging.Logger
}

// NewExtractor wires an extractor to a language-model client.
func NewExtractor(llm LLMClient, logger logging.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logging.OrNop(logger)}
}

// Extract maps a raw transcript to a best-effort result. It never returns an
// error: a failed model call or unparsable response degrades to the keyword
// fallback with confidence forced low.
func (e *Extractor) Extract(ctx context.Context, transcript string, opts Options) *Outcome {
	ref := opts.ReferenceTime
	if ref.IsZero() {
		ref = time.Now()
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return &Outcome{
			Result: task.TranscriptionResult{
				Confidence:      task.ConfidenceLow,
				PotentialErrors: []string{"transcript was empty"},
			},
			Source: SourceFallback,
		}
	}

	raw, err := e.llm.Complete(ctx, CompletionRequest{
		System:      promptFor(opts.AggressiveCorrection),
		User:        transcript,
		Temperature: 0.2,
	})
	if err != nil {
		e.logger.Warn("extraction model call failed, using keyword fallback: %v", err)
		return fallbackOutcome(transcript, ref, "language model unavailable: "+err.Error())
	}

	result, parseErr := parseModelResponse(raw)
	if parseErr != nil {
		parseErr = fmt.Errorf("%w: %v", murmurerrors.ErrExtractionMalformed, parseErr)
		e.logger.Warn("extraction response unparsable even after repair: %v", parseErr)
		return fallbackOutcome(transcript, ref, "model returned malformed JSON")
	}

	result.RawTranscription = transcript
	if strings.TrimSpace(result.CleanedText) == "" {
		result.CleanedText = transcript
	}
	normalizeResult(result)
	overwriteSchedules(result, transcript, ref)
	return &Outcome{Result: *result, Source: SourceModel}
}

// parseModelResponse decodes the strict JSON contract, running the payload
// through jsonrepair when the first decode fails.
func parseModelResponse(raw string) (*task.TranscriptionResult, error) {
	cleaned := stripFences(raw)

	var result task.TranscriptionResult
	if err := jsonx.Unmarshal([]byte(cleaned), &result); err == nil {
		return &result, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(cleaned)
	if repairErr != nil {
		return nil, repairErr
	}
	if err := jsonx.Unmarshal([]byte(repaired), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// stripFences removes a markdown code fence the model sometimes wraps around
// the JSON despite instructions.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// normalizeResult clamps enum fields to known values and drops candidates
// without a usable title.
func normalizeResult(result *task.TranscriptionResult) {
	switch result.Confidence {
	case task.ConfidenceLow, task.ConfidenceMedium, task.ConfidenceHigh:
	default:
		result.Confidence = task.ConfidenceLow
	}

	kept := result.Candidates[:0]
	for _, c := range result.Candidates {
		c.Title = strings.TrimSpace(c.Title)
		if c.Title == "" {
			continue
		}
		switch c.Priority {
		case task.PriorityLow, task.PriorityMedium, task.PriorityHigh:
		default:
			c.Priority = task.PriorityMedium
		}
		if !c.ActionType.Schedulable() {
			c.ActionType = task.ActionNote
		}
		if c.Contact != nil && c.Contact.Empty() {
			c.Contact = nil
		}
		kept = append(kept, c)
	}
	result.Candidates = kept
}

// overwriteSchedules re-derives every candidate's schedule from the original
// transcript. The model is never trusted with relative times; whatever it
// proposed is discarded.
func overwriteSchedules(result *task.TranscriptionResult, transcript string, ref time.Time) {
	resolved, ok := timeparse.Resolve(transcript, ref)
	for i := range result.Candidates {
		if ok {
			t := resolved
			result.Candidates[i].ScheduledFor = &t
		} else {
			result.Candidates[i].ScheduledFor = nil
		}
	}
}
