package inference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkPutDeliversWhileConsumerAlive(t *testing.T) {
	s := NewSink(2)
	s.Put(Event{Kind: ChunkToken, Text: "a"})
	s.Put(Event{Kind: ChunkEndOfStream})

	ev := <-s.Events()
	assert.Equal(t, "a", ev.Text)
	ev = <-s.Events()
	assert.Equal(t, ChunkEndOfStream, ev.Kind)
}

func TestSinkPutDropsAfterClose(t *testing.T) {
	s := NewSink(1)
	s.Put(Event{Kind: ChunkToken, Text: "fills the buffer"})
	s.Close()

	// With the buffer full and the consumer gone, Put must return instead
	// of blocking the producer.
	done := make(chan struct{})
	go func() {
		s.Put(Event{Kind: ChunkToken, Text: "dropped"})
		s.Put(Event{Kind: ChunkEndOfStream})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put blocked on a closed sink")
	}
}

func TestSinkCloseIsIdempotent(t *testing.T) {
	s := NewSink(1)
	s.Close()
	require.NotPanics(t, s.Close)
}
