// Package janitor periodically drops expired verification codes from the
// durable store and evicts stale entries from the process cache.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/robfig/cron/v3"

	"uk.co.dudmesh.cambio/internal/cache"
)

type Purger interface {
	PurgeExpiredCodes(ctx context.Context, now time.Time) (int, error)
}

type Sweeper interface {
	Sweep() int
}

type Janitor struct {
	cron    *cron.Cron
	purger  Purger
	sweeper Sweeper
	clock   cache.Clock
	timeout time.Duration
}

// New schedules the cleanup on a five field cron spec. sweeper may be nil
// when the cache evicts on its own.
func New(spec string, purger Purger, sweeper Sweeper, clock cache.Clock) (*Janitor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule '%s': %w", spec, err)
	}
	if clock == nil {
		clock = cache.SystemClock
	}

	j := &Janitor{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		purger:  purger,
		sweeper: sweeper,
		clock:   clock,
		timeout: time.Minute,
	}
	j.cron.Schedule(schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		j.Run(ctx)
	}))
	return j, nil
}

// Run performs one cleanup pass and reports how many codes were purged.
func (j *Janitor) Run(ctx context.Context) int {
	purged, err := j.purger.PurgeExpiredCodes(ctx, j.clock.Now())
	if err != nil {
		log.Errorf("janitor: purging expired codes: %+v", err)
	}
	swept := 0
	if j.sweeper != nil {
		swept = j.sweeper.Sweep()
	}
	if purged > 0 || swept > 0 {
		log.Infof("janitor: purged %d expired codes, swept %d cache entries", purged, swept)
	}
	return purged
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish.
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}
