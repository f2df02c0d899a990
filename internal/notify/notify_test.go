package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"uk.co.dudmesh.cambio/internal/model"
)

type memorySink struct {
	mu    sync.Mutex
	items []model.Notification
	fail  bool
	block chan struct{}
}

func (s *memorySink) AppendNotification(_ context.Context, n *model.Notification) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.items = append(s.items, *n)
	return nil
}

func TestPublisher(t *testing.T) {
	assert := assert.New(t)
	sink := &memorySink{}
	p := NewPublisher(sink, 10)

	assert.True(p.Registration("a@b.com", "a"))
	assert.True(p.Verification("a@b.com"))
	assert.True(p.System("Código enviado", "Se envió un código a a@b.com", "a@b.com"))
	p.Close()

	if assert.Len(sink.items, 3) {
		assert.Equal(model.NotificationRegistration, sink.items[0].Type)
		assert.Equal(model.NotificationVerification, sink.items[1].Type)
		assert.Equal(model.NotificationSystem, sink.items[2].Type)
		assert.Equal("a@b.com", sink.items[1].Email)
		assert.NotEmpty(sink.items[0].ID)
		assert.False(sink.items[0].Read)
	}

	assert.False(p.System("late", "after close", ""), "closed publisher drops events")
	p.Close()
}

func TestPublisherSinkFailure(t *testing.T) {
	assert := assert.New(t)
	sink := &memorySink{fail: true}
	p := NewPublisher(sink, 10)

	assert.True(p.Verification("a@b.com"), "failures surface in the log, not to the caller")
	p.Close()
	assert.Empty(sink.items)
}

func TestPublisherQueueFull(t *testing.T) {
	assert := assert.New(t)
	sink := &memorySink{block: make(chan struct{})}
	p := NewPublisher(sink, 1)

	accepted := 0
	for i := 0; i < 5; i++ {
		if p.System("event", "msg", "") {
			accepted++
		}
	}
	assert.GreaterOrEqual(accepted, 1)
	assert.LessOrEqual(accepted, 2, "one in flight plus one queued")

	close(sink.block)
	p.Close()
	assert.Len(sink.items, accepted)
}
