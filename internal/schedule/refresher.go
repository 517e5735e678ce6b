// Package schedule runs stats passes on a fixed interval.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/wikimannia/refreshstats/internal/logger"
	"github.com/wikimannia/refreshstats/internal/model"
)

// Runner is the part of the reconciler the scheduler drives.
type Runner interface {
	ReconcileAll(ctx context.Context) (model.Report, error)
}

// Config holds configuration for the refresher.
type Config struct {
	Interval time.Duration
	// SkipStartup disables the pass normally run when the refresher starts.
	SkipStartup bool
	Logger      logger.Logger
}

// Refresher periodically reconciles the site statistics.
type Refresher struct {
	runner   Runner
	interval time.Duration
	log      logger.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu   sync.Mutex
	last model.Report
	runs int
}

// NewRefresher starts a refresher. It returns nil when the interval is 0
// (disabled).
func NewRefresher(runner Runner, cfg Config) *Refresher {
	if cfg.Interval <= 0 || runner == nil {
		return nil
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	rf := &Refresher{
		runner:   runner,
		interval: cfg.Interval,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}

	rf.wg.Add(1)
	go rf.loop(!cfg.SkipStartup)

	return rf
}

func (rf *Refresher) loop(startup bool) {
	defer rf.wg.Done()

	// Startup pass to catch up after downtime.
	if startup {
		rf.runOnce()
	}

	ticker := time.NewTicker(rf.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rf.runOnce()
		case <-rf.ctx.Done():
			return
		}
	}
}

func (rf *Refresher) runOnce() {
	rep, err := rf.runner.ReconcileAll(rf.ctx)
	if err != nil {
		rf.log.Warn("scheduled stats pass interrupted", logger.Error(err))
	} else if !rep.OK {
		rf.log.Warn("scheduled stats pass left unresolved counters",
			logger.Int("unresolved", rep.Count(model.StatusUnresolved)))
	}

	rf.mu.Lock()
	rf.last = rep
	rf.runs++
	rf.mu.Unlock()
}

// Last returns the most recent report and how many passes have run.
func (rf *Refresher) Last() (model.Report, int) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.last, rf.runs
}

// Stop signals the refresher to stop and waits for an in-flight pass.
func (rf *Refresher) Stop() {
	rf.stopOnce.Do(func() {
		rf.cancel()
		rf.wg.Wait()
	})
}
