package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/simplecache/internal/monitoring"
	"github.com/charlesng35/simplecache/pkg/logger"
)

const defaultSweepSpec = "@every 1m"

// Sweeper purges expired entries and reports how many were removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type sweepJob struct {
	name    string
	sweeper Sweeper
}

// Cleaner runs expiration sweeps on a cron schedule. Reads already ignore
// expired entries; sweeping only reclaims the space they hold.
type Cleaner struct {
	jobs     []sweepJob
	cron     *cron.Cron
	schedule string
	now      func() time.Time
	entries  func() int
	onSwept  func(job string, removed int)
	log      *zap.Logger
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used to time jobs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSchedule overrides the cron specification shared by all sweeps.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithSweeper registers a named sweep job. Nil sweepers are ignored.
func WithSweeper(name string, sweeper Sweeper) Option {
	return func(cleaner *Cleaner) {
		if sweeper != nil {
			cleaner.jobs = append(cleaner.jobs, sweepJob{name: name, sweeper: sweeper})
		}
	}
}

// WithEntryCounter publishes the value of count to the entries gauge after
// every run.
func WithEntryCounter(count func() int) Option {
	return func(cleaner *Cleaner) {
		cleaner.entries = count
	}
}

// WithSweptHook is called after each job that removed at least one entry.
func WithSweptHook(fn func(job string, removed int)) Option {
	return func(cleaner *Cleaner) {
		cleaner.onSwept = fn
	}
}

// NewCleaner constructs a Cleaner. Without sweepers Start is a no-op.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		schedule: defaultSweepSpec,
		now:      time.Now,
		log:      logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(cleaner)
	}
	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Jobs lists the registered job names.
func (c *Cleaner) Jobs() []string {
	names := make([]string, 0, len(c.jobs))
	for _, job := range c.jobs {
		names = append(names, job.name)
	}
	return names
}

// Start registers the sweep with the scheduler and launches it.
func (c *Cleaner) Start() error {
	if len(c.jobs) == 0 {
		return nil
	}
	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("expiration sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.schedule, err)
	}
	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce runs every sweep sequentially and returns their combined errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, job := range c.jobs {
		start := c.now()
		removed, err := job.sweeper.Sweep(ctx)
		duration := c.now().Sub(start)

		if err != nil {
			monitoring.RecordMaintenanceRun(job.name, "failure", err.Error(), duration)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.name, err))
			continue
		}

		monitoring.RecordMaintenanceRun(job.name, "success", "", duration)
		monitoring.RecordExpired(removed)
		if removed > 0 {
			c.log.Debug("expired entries purged", zap.String("job", job.name), zap.Int("removed", removed))
			if c.onSwept != nil {
				c.onSwept(job.name, removed)
			}
		}
	}

	if c.entries != nil {
		monitoring.SetCacheEntries(c.entries())
	}
	return errs
}
