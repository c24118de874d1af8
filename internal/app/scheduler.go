package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/r3e-network/mcp-gateway/internal/logging"
	"github.com/r3e-network/mcp-gateway/internal/ratelimit"
	"github.com/r3e-network/mcp-gateway/internal/router"
)

// routerSweepInterval and routerSweepMaxIdle bound the router's metrics
// sweep (§5.D): every 5 minutes, drop tracking state for servers idle
// longer than one hour or no longer registered.
const (
	routerSweepInterval = 5 * time.Minute
	routerSweepMaxIdle  = time.Hour
)

// scheduler runs the gateway's periodic maintenance jobs (router metrics
// sweep, rate limiter fairness-window cleanup) on a cron.Cron, the same
// ticker-with-stop-channel shape as the teacher's background cleanup
// loops, generalized to a real scheduler so each job gets its own
// expression instead of a hand-rolled goroutine per job.
type scheduler struct {
	cron *cron.Cron
	log  *logging.Logger
}

func newScheduler(log *logging.Logger, rtr *router.Router, limiter *ratelimit.Limiter, cleanupInterval time.Duration) (*scheduler, error) {
	return newSchedulerWithIntervals(log, rtr, limiter, routerSweepInterval, routerSweepMaxIdle, cleanupInterval)
}

func newSchedulerWithIntervals(log *logging.Logger, rtr *router.Router, limiter *ratelimit.Limiter, sweepInterval, sweepMaxIdle, cleanupInterval time.Duration) (*scheduler, error) {
	c := cron.New()
	s := &scheduler{cron: c, log: log}

	if _, err := c.AddFunc(fmt.Sprintf("@every %s", sweepInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepInterval)
		defer cancel()
		if err := rtr.Sweep(ctx, sweepMaxIdle); err != nil {
			s.log.WithError(err).Warn("router sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule router sweep: %w", err)
	}

	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", cleanupInterval), func() {
		limiter.Cleanup()
	}); err != nil {
		return nil, fmt.Errorf("schedule ratelimit cleanup: %w", err)
	}

	return s, nil
}

func (s *scheduler) Start() { s.cron.Start() }

func (s *scheduler) Stop() { s.cron.Stop() }
