// Package prompt assembles the system prompt handed to the model: a pure
// function of its inputs, with a fixed section order so that identical
// inputs always produce a byte-identical prompt.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"modelgate/internal/persistence"
	"modelgate/internal/search"
)

const persona = `You are a helpful, precise assistant running inside a local inference gateway. You reason carefully and say when you are uncertain.`

const toolProtocol = `Tool protocol: to look something up on the web, emit a line of the exact form "[SEARCH: your query]". To pull in the full transcript of a referenced past session, emit "[EXPAND: <session-uuid>]". Issue at most one of each per turn, and do not explain that you are issuing it.`

// RelatedSummary is one past-session summary available for expansion.
type RelatedSummary struct {
	ID      string
	Title   string
	Summary string
}

// ExpandedTranscript is the full transcript of a session pulled in via
// [EXPAND: id].
type ExpandedTranscript struct {
	ID         string
	Transcript string
}

// Inputs are the assembler's full set of pure-function inputs.
type Inputs struct {
	Now                 time.Time
	Memories            []string
	History             []persistence.HistoryEntry
	RelatedSummaries    []RelatedSummary
	ExpandedTranscripts []ExpandedTranscript
	SearchResults       *search.Response
	UserSystemPrompt    string
}

const maxHistoryTurns = 16

// Assemble builds the system prompt. Section order is fixed: persona, tool
// protocol, operational rules, verified memory, recent dialogue, related
// summaries, expanded transcripts, search results, final instruction, and
// (if present) the user's own system prompt under an additional-context
// heading.
func Assemble(in Inputs) string {
	var b strings.Builder

	writeSection(&b, persona)
	writeSection(&b, toolProtocol)
	writeSection(&b, operationalRules(in.Now))

	if len(in.Memories) > 0 {
		writeSection(&b, memoryBlock(in.Memories))
	}

	if len(in.History) > 0 {
		writeSection(&b, historyBlock(in.History))
	}

	if len(in.RelatedSummaries) > 0 {
		writeSection(&b, relatedSummariesBlock(in.RelatedSummaries))
	}

	if len(in.ExpandedTranscripts) > 0 {
		writeSection(&b, expandedTranscriptsBlock(in.ExpandedTranscripts))
	}

	if in.SearchResults != nil {
		writeSection(&b, searchResultsBlock(in.SearchResults))
	}

	writeSection(&b, finalInstruction)

	if strings.TrimSpace(in.UserSystemPrompt) != "" {
		writeSection(&b, "## Additional context\n\n"+strings.TrimSpace(in.UserSystemPrompt))
	}

	return strings.TrimRight(b.String(), "\n")
}

const finalInstruction = `Use the data provided above to answer. If you lack the information needed and a web search would help, issue "[SEARCH: …]" instead of guessing.`

func writeSection(b *strings.Builder, section string) {
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(section)
}

func operationalRules(now time.Time) string {
	return fmt.Sprintf("## Operational rules\n\nCurrent date and time: %s.", now.Format(time.RFC1123))
}

func memoryBlock(memories []string) string {
	var b strings.Builder
	b.WriteString("## Verified memory\n\n")
	for _, m := range memories {
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func historyBlock(history []persistence.HistoryEntry) string {
	trimmed := history
	if len(trimmed) > maxHistoryTurns {
		trimmed = trimmed[len(trimmed)-maxHistoryTurns:]
	}
	var b strings.Builder
	b.WriteString("## Recent dialogue\n\n")
	for _, h := range trimmed {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToUpper(h.Role), h.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func relatedSummariesBlock(summaries []RelatedSummary) string {
	var b strings.Builder
	b.WriteString("## Related past sessions\n\n")
	b.WriteString(`Each entry below is a summary of a past session. If its detail would help answer the current question, issue "[EXPAND: <id>]" to pull in its full transcript.` + "\n\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s — %s: %s\n", s.ID, s.Title, s.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func expandedTranscriptsBlock(transcripts []ExpandedTranscript) string {
	var b strings.Builder
	b.WriteString("## Expanded session transcripts\n\n")
	for _, t := range transcripts {
		fmt.Fprintf(&b, "### Session %s\n\n%s\n\n", t.ID, strings.TrimSpace(t.Transcript))
	}
	return strings.TrimRight(b.String(), "\n")
}

func searchResultsBlock(resp *search.Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Search results for %q\n\n", resp.Query)
	for _, r := range resp.Results {
		fmt.Fprintf(&b, "- %s (%s)\n", r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&b, "  %s\n", r.Description)
		}
		if r.Content != "" {
			fmt.Fprintf(&b, "  %s\n", r.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
