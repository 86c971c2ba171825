package services

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recthink/internal/metrics"
	"recthink/internal/models"
)

// recordingSink 记录收到的事件，failAfter>0时第failAfter个之后返回错误
type recordingSink struct {
	mu        sync.Mutex
	events    []models.StreamEvent
	failAfter int
}

func (s *recordingSink) Send(event models.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return errors.New("client gone")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Events() []models.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StreamEvent(nil), s.events...)
}

func TestStream_Sequence(t *testing.T) {
	sink := &recordingSink{}
	m := metrics.New()
	s := NewStream(sink, nil, m)

	s.Chunk(0, 0, "Hel")
	s.Chunk(0, 0, "")
	s.Fragments(1)(2, "lo")
	s.Final(&models.RefinementResult{Response: "Hello"})
	s.Chunk(1, 0, "late")
	s.Error("ignored")

	events := sink.Events()
	require.Len(t, events, 3)
	assert.Equal(t, models.StreamEvent{Type: models.EventChunk, Seq: 1, Round: 0, Alternative: 0, Content: "Hel"}, events[0])
	assert.Equal(t, models.StreamEvent{Type: models.EventChunk, Seq: 2, Round: 1, Alternative: 2, Content: "lo"}, events[1])
	assert.Equal(t, models.EventFinal, events[2].Type)
	assert.Equal(t, uint64(3), events[2].Seq)
	assert.Equal(t, "Hello", events[2].Result.Response)
	assert.True(t, s.Closed())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.StreamFragments))
}

func TestStream_Disconnect(t *testing.T) {
	sink := &recordingSink{failAfter: 1}
	s := NewStream(sink, nil, nil)

	s.Chunk(0, 0, "a")
	assert.False(t, s.Closed())
	s.Chunk(0, 0, "b")
	assert.True(t, s.Closed())
	s.Chunk(0, 0, "c")
	s.Final(&models.RefinementResult{})

	assert.Len(t, sink.Events(), 1)
}

func TestStream_Error(t *testing.T) {
	sink := &recordingSink{}
	s := NewStream(sink, nil, nil)

	s.Error("generation failed")
	s.Final(&models.RefinementResult{})

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventError, events[0].Type)
	assert.Equal(t, "generation failed", events[0].Detail)
}

func TestStream_NilSink(t *testing.T) {
	s := NewStream(nil, nil, nil)
	assert.Nil(t, s.Fragments(0))

	s.Chunk(0, 0, "x")
	s.Final(&models.RefinementResult{})
	s.Error("x")
	assert.False(t, s.Closed())
}

func TestStream_ConcurrentChunks(t *testing.T) {
	sink := &recordingSink{}
	s := NewStream(sink, nil, nil)

	var wg sync.WaitGroup
	for alt := 0; alt < 4; alt++ {
		wg.Add(1)
		go func(alt int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				s.Chunk(1, alt, "x")
			}
		}(alt)
	}
	wg.Wait()

	events := sink.Events()
	require.Len(t, events, 100)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Seq)
	}
}
