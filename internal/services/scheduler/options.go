package scheduler

import (
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

type options struct {
	Logger   *log.Logger
	Cron     *cron.Cron
	Parser   cron.Parser
	Location *time.Location
	Workers  int
	Overlap  OverlapPolicy
	Now      func() time.Time
}

// Option configures the scheduler service.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:   log.New(os.Stdout, "[SCHEDULER] ", log.LstdFlags),
		Location: time.UTC,
		Workers:  10,
		Overlap:  OverlapSkip,
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithCron supplies a preconfigured cron engine.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithParser overrides the cron expression parser.
func WithParser(p cron.Parser) Option {
	return func(o *options) {
		o.Parser = p
	}
}

// WithLocation sets the timezone schedules are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.Location = loc
		}
	}
}

// WithWorkers bounds the number of concurrently executing jobs.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithOverlapPolicy selects skip or queue behavior for overlapping fires
// of the same task.
func WithOverlapPolicy(p OverlapPolicy) Option {
	return func(o *options) {
		o.Overlap = p
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.Now = now
		}
	}
}
