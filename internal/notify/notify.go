// Package notify records audit events for the admin back-office. Publishing
// never blocks and never fails the caller: events are queued and written by a
// single worker, and dropped with a warning when the queue is full.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.cambio/internal/model"
)

const DefaultQueueSize = 256

type Sink interface {
	AppendNotification(ctx context.Context, n *model.Notification) error
}

type Publisher struct {
	sink    Sink
	queue   chan *model.Notification
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
}

func NewPublisher(sink Sink, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	p := &Publisher{
		sink:    sink,
		queue:   make(chan *model.Notification, queueSize),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
	go p.run()
	return p
}

// Publish queues n and reports whether it was accepted.
func (p *Publisher) Publish(n *model.Notification) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		log.Warnf("notify: publisher closed, dropping %s notification %q", n.Type, n.Title)
		return false
	}
	select {
	case p.queue <- n:
		return true
	default:
		log.Warnf("notify: queue full, dropping %s notification %q", n.Type, n.Title)
		return false
	}
}

func (p *Publisher) Registration(email, name string) bool {
	return p.Publish(model.NewNotification(model.NotificationRegistration,
		"Nuevo usuario registrado",
		fmt.Sprintf("%s (%s) se ha registrado.", name, email),
		email))
}

func (p *Publisher) Verification(email string) bool {
	return p.Publish(model.NewNotification(model.NotificationVerification,
		"Correo verificado",
		fmt.Sprintf("%s ha verificado su correo electrónico.", email),
		email))
}

func (p *Publisher) System(title, message, email string) bool {
	return p.Publish(model.NewNotification(model.NotificationSystem, title, message, email))
}

// Close stops accepting events and waits for queued ones to be written.
func (p *Publisher) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for n := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.sink.AppendNotification(ctx, n); err != nil {
			log.Errorf("notify: storing %s notification %q: %+v", n.Type, n.Title, err)
		}
		cancel()
	}
}
