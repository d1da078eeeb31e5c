// Package worker runs the service's background tasks on fixed intervals.
// A task never overlaps itself: a tick that fires while the previous run is
// still going is skipped.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrTaskRunning = errors.New("task already running")
)

type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means the run is only bounded by Stop.
	Timeout    time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

type task struct {
	Task
	job    cron.Job
	ctx    context.Context
	cancel context.CancelFunc
	busy   atomic.Bool
}

// Periodic schedules tasks with robfig/cron. Each task has its own context,
// cancelled by Stop.
type Periodic struct {
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	running sync.WaitGroup
	started bool
	stopped bool
}

func NewPeriodic(logger zerolog.Logger) *Periodic {
	logger = logger.With().Str("component", "worker").Logger()
	return &Periodic{
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Add registers t. It must be called before Start.
func (p *Periodic) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("task needs a name and a run func")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.tasks[t.Name]; dup {
		return fmt.Errorf("task %s already registered", t.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tk := &task{Task: t, ctx: ctx, cancel: cancel}
	cl := cronLogger{p.logger}
	chain := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { p.execute(tk) }))
	// busy covers the whole chain, not just Run.
	tk.job = cron.FuncJob(func() {
		if !tk.busy.CompareAndSwap(false, true) {
			p.logger.Debug().Str("task", tk.Name).Msg("run skipped, previous run still active")
			return
		}
		defer tk.busy.Store(false)
		chain.Run()
	})
	p.tasks[t.Name] = tk
	p.cron.Schedule(cron.Every(t.Interval), tk.job)
	return nil
}

func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.cron.Start()
	for _, tk := range p.tasks {
		p.logger.Info().Str("task", tk.Name).Dur("interval", tk.Interval).Msg("task scheduled")
		if tk.RunOnStart {
			go tk.job.Run()
		}
	}
}

// Trigger starts a run of the named task in the background. It returns
// ErrTaskRunning when a run is already in progress; a trigger racing a
// scheduled tick is still skipped by the job chain.
func (p *Periodic) Trigger(name string) error {
	p.mu.Lock()
	tk, ok := p.tasks[name]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if tk.busy.Load() {
		return fmt.Errorf("%w: %s", ErrTaskRunning, name)
	}
	go tk.job.Run()
	return nil
}

// Running reports whether a run of the named task is in progress.
func (p *Periodic) Running(name string) bool {
	p.mu.Lock()
	tk, ok := p.tasks[name]
	p.mu.Unlock()
	return ok && tk.busy.Load()
}

// Stop cancels every task context and waits for running tasks to return, or
// for ctx to expire.
func (p *Periodic) Stop(ctx context.Context) error {
	cronDone := p.cron.Stop()

	p.mu.Lock()
	p.stopped = true
	for _, tk := range p.tasks {
		tk.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		p.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Periodic) execute(tk *task) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.running.Add(1)
	p.mu.Unlock()
	defer p.running.Done()

	ctx := tk.ctx
	if tk.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tk.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := tk.Run(ctx)
	evt := p.logger.Debug()
	if err != nil {
		evt = p.logger.Warn().Err(err)
	}
	evt.Str("task", tk.Name).Dur("duration", time.Since(start)).Msg("task finished")
}

// cronLogger adapts zerolog to cron.Logger. Cron's info lines are per tick
// and go to debug.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
