package extract

const systemPrompt = `You are a task-extraction engine for a voice note app.
The user message is a raw speech-to-text transcript. Clean it up and extract
actionable tasks.

Respond with ONLY a JSON object, no markdown fences, matching exactly:
{
  "cleanedText": "the transcript with recognition noise removed",
  "extractedTasks": [
    {
      "title": "short imperative title",
      "description": "optional detail, empty string if none",
      "priority": "low" | "medium" | "high",
      "actionType": "reminder" | "call" | "text" | "email" | "note",
      "scheduledFor": null,
      "contactInfo": {"name": "", "phone": "", "email": ""}
    }
  ],
  "improvements": "one sentence on what you cleaned up",
  "confidence": "low" | "medium" | "high",
  "potentialErrors": ["free-text warnings about ambiguous words"]
}

Rules:
- Extract zero tasks when the transcript contains no actionable request.
- Always leave scheduledFor null; the caller resolves times itself.
- confidence reflects how sure you are the transcript was understood.
- List any words you suspect were misrecognized in potentialErrors.`

const aggressiveSystemPrompt = systemPrompt + `

This transcript is badly garbled. Aggressively reconstruct the speaker's
intent: fix homophones, merge fragmented words, and drop filler. Still report
every guess you make in potentialErrors and lower confidence accordingly.`

func promptFor(aggressive bool) string {
	if aggressive {
		return aggressiveSystemPrompt
	}
	return systemPrompt
}
