// Package scheduler runs a task on a cron schedule. A tick that fires while
// the previous run is still going is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSpec       = "0 */15 * * * *"
	DefaultRunTimeout = 90 * time.Second
)

// Task is one unit of scheduled work.
type Task func(ctx context.Context) error

type Config struct {
	// Spec is a six-field cron expression (seconds first).
	Spec       string
	RunTimeout time.Duration
	// RunOnStart fires the task once as soon as the scheduler starts.
	RunOnStart bool
	Location   *time.Location
}

type Scheduler struct {
	name string
	task Task
	cfg  Config
	log  logrus.FieldLogger
	cron *cron.Cron

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	inRun   sync.WaitGroup
}

func New(name string, task Task, cfg Config, log logrus.FieldLogger) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "scheduler").WithField("task", name)

	cl := cronLogger{log}
	s := &Scheduler{
		name: name,
		task: task,
		cfg:  cfg,
		log:  log,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	if _, err := s.cron.AddFunc(cfg.Spec, s.tick); err != nil {
		return nil, fmt.Errorf("schedule %s %q: %w", name, cfg.Spec, err)
	}
	return s, nil
}

// Start begins firing the task. Runs in progress are cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("already running")
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.cfg.RunOnStart {
		go s.tick()
	}
	s.cron.Start()
	s.log.WithField("spec", s.cfg.Spec).Info("started")
}

// Stop halts the schedule and waits for a run in progress to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.inRun.Wait()
	s.log.Info("stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Next is the time of the next scheduled run, zero when stopped.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 || !s.Running() {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	base := s.ctx
	s.inRun.Add(1)
	s.mu.Unlock()
	defer s.inRun.Done()

	ctx, cancel := context.WithTimeout(base, s.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	err := s.task(ctx)
	entry := s.log.WithField("duration", time.Since(start).String())
	switch {
	case err == nil:
		entry.Debug("run finished")
	case errors.Is(err, context.Canceled):
		entry.Info("run cancelled")
	default:
		entry.WithError(err).Error("run failed")
	}
}

// cronLogger routes the cron library's logging through logrus.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
