package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulateDeltaStyle(t *testing.T) {
	acc := ""
	acc = Accumulate(acc, "Hello")
	acc = Accumulate(acc, ", world")
	acc = Accumulate(acc, "!")
	assert.Equal(t, "Hello, world!", acc)
}

func TestAccumulateSnapshotStyle(t *testing.T) {
	acc := ""
	acc = Accumulate(acc, "Hel")
	acc = Accumulate(acc, "Hello")
	acc = Accumulate(acc, "Hello, world")
	assert.Equal(t, "Hello, world", acc)
}

func TestAccumulateMixedStyle(t *testing.T) {
	acc := ""
	acc = Accumulate(acc, "Hello")
	acc = Accumulate(acc, "Hello there") // snapshot replaces
	acc = Accumulate(acc, "!")           // delta appends
	assert.Equal(t, "Hello there!", acc)
}

func TestAccumulateIgnoresEmpty(t *testing.T) {
	acc := Accumulate("Hello", "")
	assert.Equal(t, "Hello", acc)
}

func TestBuildMessagesWithSystemPrompt(t *testing.T) {
	msgs := buildMessages("be terse", "hi")
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, "system", msgs[0].Role)
		assert.Equal(t, "be terse", msgs[0].Content)
		assert.Equal(t, "user", msgs[1].Role)
		assert.Equal(t, "hi", msgs[1].Content)
	}
}

func TestBuildMessagesWithoutSystemPrompt(t *testing.T) {
	msgs := buildMessages("", "hi")
	if assert.Len(t, msgs, 1) {
		assert.Equal(t, "user", msgs[0].Role)
	}
}
