package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/persistence"
	"modelgate/internal/search"
)

func baseInputs() Inputs {
	return Inputs{
		Now: time.Date(2026, time.July, 31, 9, 30, 0, 0, time.UTC),
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	in := baseInputs()
	in.Memories = []string{"user prefers terse answers"}
	in.History = []persistence.HistoryEntry{{Role: "user", Content: "hi"}}

	first := Assemble(in)
	second := Assemble(in)
	assert.Equal(t, first, second)
}

func TestAssembleSectionOrder(t *testing.T) {
	in := baseInputs()
	in.Memories = []string{"memory fact"}
	in.History = []persistence.HistoryEntry{{Role: "user", Content: "hello"}}
	in.RelatedSummaries = []RelatedSummary{{ID: "s1", Title: "Trip", Summary: "Japan trip"}}
	in.ExpandedTranscripts = []ExpandedTranscript{{ID: "s1", Transcript: "USER: hi\nASSISTANT: hello"}}
	in.SearchResults = &search.Response{Query: "golang", Results: []search.Result{{Title: "Go", URL: "https://go.dev"}}}
	in.UserSystemPrompt = "Be extra formal."

	out := Assemble(in)

	idxPersona := indexOf(t, out, "helpful, precise assistant")
	idxTool := indexOf(t, out, "Tool protocol")
	idxRules := indexOf(t, out, "Operational rules")
	idxMemory := indexOf(t, out, "Verified memory")
	idxHistory := indexOf(t, out, "Recent dialogue")
	idxSummaries := indexOf(t, out, "Related past sessions")
	idxExpanded := indexOf(t, out, "Expanded session transcripts")
	idxSearch := indexOf(t, out, "Search results for")
	idxAdditional := indexOf(t, out, "Additional context")

	assert.Less(t, idxPersona, idxTool)
	assert.Less(t, idxTool, idxRules)
	assert.Less(t, idxRules, idxMemory)
	assert.Less(t, idxMemory, idxHistory)
	assert.Less(t, idxHistory, idxSummaries)
	assert.Less(t, idxSummaries, idxExpanded)
	assert.Less(t, idxExpanded, idxSearch)
	assert.Less(t, idxSearch, idxAdditional)
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	require.Fail(t, "not found", needle)
	return -1
}

func TestAssembleOmitsEmptySections(t *testing.T) {
	out := Assemble(baseInputs())
	assert.NotContains(t, out, "Verified memory")
	assert.NotContains(t, out, "Recent dialogue")
	assert.NotContains(t, out, "Related past sessions")
	assert.NotContains(t, out, "Expanded session transcripts")
	assert.NotContains(t, out, "Search results for")
	assert.NotContains(t, out, "Additional context")
}

func TestAssembleTrimsHistoryToLast16Turns(t *testing.T) {
	in := baseInputs()
	for i := 0; i < 20; i++ {
		in.History = append(in.History, persistence.HistoryEntry{Role: "user", Content: "turn"})
	}
	out := Assemble(in)
	assert.NotContains(t, out, "turn_0")

	count := 0
	for i := 0; i+4 <= len(out); i++ {
		if out[i:i+4] == "USER" {
			count++
		}
	}
	assert.Equal(t, maxHistoryTurns, count)
}

func TestAssembleIncludesWallClockDatetime(t *testing.T) {
	out := Assemble(baseInputs())
	assert.Contains(t, out, "2026")
}
