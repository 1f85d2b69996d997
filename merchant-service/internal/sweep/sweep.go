/**
 * @description
 * This package wraps robfig/cron to run the checkout session expiry sweep
 * on a configurable schedule, instead of a bare time.Ticker loop.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Cron scheduling.
 */

package sweep

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Job is a unit of sweep work that reports how many records it acted on.
type Job func(ctx context.Context) (int, error)

// Sweeper runs a Job on a cron schedule.
type Sweeper struct {
	cron *cron.Cron
	ctx  context.Context
}

// NewSweeper builds a Sweeper bound to ctx, registering job under schedule
// (standard cron syntax, or "@every 1m"-style descriptors). An invalid
// schedule falls back to "@every 1m" rather than leaving the sweep unset.
func NewSweeper(ctx context.Context, schedule string, name string, job Job) *Sweeper {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	s := &Sweeper{cron: c, ctx: ctx}

	wrapped := func() {
		n, err := job(ctx)
		if err != nil {
			log.Printf("level=warn component=%s msg=\"sweep failed\" err=%v", name, err)
			return
		}
		if n > 0 {
			log.Printf("level=info component=%s msg=\"swept records\" count=%d", name, n)
		}
	}

	if _, err := c.AddFunc(schedule, wrapped); err != nil {
		log.Printf("level=warn component=%s msg=\"invalid sweep schedule; falling back\" schedule=%q err=%v", name, schedule, err)
		_, _ = c.AddFunc("@every 1m", wrapped)
	}
	return s
}

// Start begins running scheduled jobs in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Sweeper) Stop() { <-s.cron.Stop().Done() }
