package extract

import (
	"regexp"
	"strings"
	"time"

	"murmur/internal/task"
	"murmur/internal/timeparse"
)

const fallbackTitleLimit = 80

// Trigger words checked in order; the first hit decides the action type.
var triggerWords = []struct {
	word   string
	action task.ActionType
}{
	{"remind", task.ActionReminder},
	{"call", task.ActionCall},
	{"text", task.ActionText},
	{"email", task.ActionEmail},
}

var contactRe = regexp.MustCompile(`(?i)\b(?:call|text|email)\s+([a-z]+)\b`)

// Words that follow a contact verb without naming anyone.
var contactStopwords = map[string]bool{
	"me": true, "my": true, "the": true, "a": true, "an": true,
	"him": true, "her": true, "them": true, "back": true,
}

// fallbackOutcome is the keyword-heuristic extractor used when the model call
// fails or returns garbage. It produces at most one candidate and always
// labels the result low confidence.
func fallbackOutcome(transcript string, ref time.Time, reason string) *Outcome {
	candidate := task.Candidate{
		Title:      truncateTitle(transcript),
		Priority:   task.PriorityMedium,
		ActionType: task.ActionNote,
	}

	lowered := strings.ToLower(transcript)
	for _, trigger := range triggerWords {
		if strings.Contains(lowered, trigger.word) {
			candidate.ActionType = trigger.action
			break
		}
	}
	if name := contactName(transcript); name != "" {
		candidate.Contact = &task.ContactInfo{Name: name}
	}
	if resolved, ok := timeparse.Resolve(transcript, ref); ok {
		candidate.ScheduledFor = &resolved
	}

	return &Outcome{
		Result: task.TranscriptionResult{
			RawTranscription: transcript,
			CleanedText:      transcript,
			Candidates:       []task.Candidate{candidate},
			Improvements:     "keyword fallback, no cleanup applied",
			Confidence:       task.ConfidenceLow,
			PotentialErrors:  []string{reason},
		},
		Source: SourceFallback,
	}
}

// contactName pulls the word after a call/text/email verb, skipping pronouns
// and articles, so "call nigel" yields "nigel" but "call me" yields nothing.
func contactName(transcript string) string {
	for _, m := range contactRe.FindAllStringSubmatch(transcript, -1) {
		word := strings.ToLower(m[1])
		if !contactStopwords[word] {
			return word
		}
	}
	return ""
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= fallbackTitleLimit {
		return s
	}
	cut := s[:fallbackTitleLimit]
	if idx := strings.LastIndex(cut, " "); idx > fallbackTitleLimit/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
