package inference

import (
	"strings"

	"modelgate/internal/llm"
)

// Accumulate folds the next model chunk into the accumulated response text.
// Model runtimes differ in whether they emit incremental deltas or
// growing-prefix snapshots: if next already contains acc as a prefix, it
// replaces the accumulator (snapshot-style); otherwise it is appended
// (delta-style). This keeps the final text correct regardless of stream
// shape, and is the rule every sink consumer applies when reassembling a
// response from chunks.
func Accumulate(acc, next string) string {
	if next == "" {
		return acc
	}
	if strings.HasPrefix(next, acc) {
		return next
	}
	return acc + next
}

// buildMessages constructs the chat-formatted prompt handed to the active
// provider: a system message first when non-empty, then the user prompt.
func buildMessages(systemPrompt, prompt string) []llm.Message {
	var msgs []llm.Message
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: prompt})
	return msgs
}
