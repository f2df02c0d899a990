// Package guard absorbs client double-submits on the send-code endpoint. It
// tracks, per email and calendar day, whether a request is in flight and when
// an email was last dispatched. State lives in a cache.Store so a shared
// backend can replace the in-process one, but the check-and-set below is only
// atomic within one process.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.cambio/internal/cache"
	"uk.co.dudmesh.cambio/internal/model"
)

const (
	DefaultInFlightWindow = 10 * time.Second
	DefaultSentWindow     = 60 * time.Second

	entryTTL = 24 * time.Hour
)

type inFlight struct {
	StartedAt time.Time `json:"startedAt"`
	Done      bool      `json:"done"`
}

type sent struct {
	SentAt time.Time `json:"sentAt"`
}

type Guard struct {
	mu             sync.Mutex
	store          cache.Store
	clock          cache.Clock
	inFlightWindow time.Duration
	sentWindow     time.Duration
}

type Option func(*Guard)

func WithClock(clock cache.Clock) Option {
	return func(g *Guard) { g.clock = clock }
}

func WithWindows(inFlight, sent time.Duration) Option {
	return func(g *Guard) {
		g.inFlightWindow = inFlight
		g.sentWindow = sent
	}
}

func New(store cache.Store, opts ...Option) *Guard {
	g := &Guard{
		store:          store,
		clock:          cache.SystemClock,
		inFlightWindow: DefaultInFlightWindow,
		sentWindow:     DefaultSentWindow,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Release ends a guarded request. sent reports whether an email went out.
type Release func(sent bool)

// Begin admits a request for email or reports why it must wait. The returned
// Release must be called once the request completes, successful or not.
func (g *Guard) Begin(ctx context.Context, email string) (Release, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	key := dayKey(email, now)

	var current inFlight
	found, err := cache.GetJSON(ctx, g.store, "guard:inflight:"+key, &current)
	if err != nil {
		log.Warnf("guard: reading in-flight state for %s: %+v", email, err)
	}
	if found && !current.Done && now.Sub(current.StartedAt) < g.inFlightWindow {
		return nil, model.ErrorRequestInProgress
	}

	var last sent
	found, err = cache.GetJSON(ctx, g.store, "guard:sent:"+key, &last)
	if err != nil {
		log.Warnf("guard: reading sent state for %s: %+v", email, err)
	}
	if found && now.Sub(last.SentAt) < g.sentWindow {
		return nil, model.ErrorEmailSentRecently
	}

	started := inFlight{StartedAt: now}
	if err := cache.SetJSON(ctx, g.store, "guard:inflight:"+key, started, entryTTL); err != nil {
		log.Warnf("guard: recording in-flight state for %s: %+v", email, err)
	}

	detached := context.WithoutCancel(ctx)
	var once sync.Once
	return func(emailSent bool) {
		once.Do(func() { g.release(detached, key, started, emailSent) })
	}, nil
}

func (g *Guard) release(ctx context.Context, key string, started inFlight, emailSent bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	started.Done = true
	if err := cache.SetJSON(ctx, g.store, "guard:inflight:"+key, started, entryTTL); err != nil {
		log.Warnf("guard: releasing %s: %+v", key, err)
	}
	if !emailSent {
		return
	}
	if err := cache.SetJSON(ctx, g.store, "guard:sent:"+key, sent{SentAt: g.clock.Now()}, entryTTL); err != nil {
		log.Warnf("guard: recording sent state for %s: %+v", key, err)
	}
}

func dayKey(email string, now time.Time) string {
	return fmt.Sprintf("%s:%s", model.NormalizeEmail(email), now.UTC().Format(time.DateOnly))
}
