package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-cloudauth/adapters/gojob"
	"github.com/goliatone/go-cloudauth/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Sweeper refreshes the due credentials of one provider.
type Sweeper interface {
	RefreshDue(ctx context.Context, providerID string, horizon time.Duration) (core.RefreshDueResult, error)
}

// JobEnqueuer hands sweeps to a queue instead of running them in process.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job gojob.RefreshJob) error
}

type Config struct {
	// Schedule is a standard cron expression or descriptor such as @hourly.
	Schedule  string
	Horizon   time.Duration
	Providers []string
	// Timeout bounds one tick. Zero means the tick runs until every sweep ends.
	Timeout time.Duration
	// Concurrency caps parallel provider sweeps. Zero sweeps all at once.
	Concurrency int
}

// ConfigFromCore derives a trigger config from the engine configuration.
func ConfigFromCore(cfg core.Config, providers []string) Config {
	return Config{
		Schedule:  cfg.Refresh.Schedule,
		Horizon:   cfg.Refresh.Horizon,
		Providers: providers,
	}
}

type Option func(*Trigger)

// WithEnqueuer makes each tick enqueue one refresh job per provider.
func WithEnqueuer(enqueuer JobEnqueuer) Option {
	return func(t *Trigger) {
		t.enqueuer = enqueuer
	}
}

func WithLogger(logger core.Logger) Option {
	return func(t *Trigger) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(t *Trigger) {
		if loc != nil {
			t.location = loc
		}
	}
}

// Trigger runs RefreshDue for every configured provider on a cron schedule.
type Trigger struct {
	cfg      Config
	schedule cron.Schedule
	sweeper  Sweeper
	enqueuer JobEnqueuer
	logger   core.Logger
	location *time.Location

	mu      sync.Mutex
	cron    *cron.Cron
	done    chan struct{}
	running bool

	// watchers tracks the goroutines that stop a run when its ctx ends.
	watchers sync.WaitGroup
}

func New(cfg Config, sweeper Sweeper, opts ...Option) (*Trigger, error) {
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		cfg.Schedule = core.DefaultRefreshCron
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = core.DefaultRefreshWindow
	}
	cfg.Providers = normalizeProviders(cfg.Providers)
	if len(cfg.Providers) == 0 {
		return nil, core.NewConfigurationError("scheduler: at least one provider is required")
	}

	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, core.WithCause(core.NewConfigurationError("scheduler: invalid schedule %q", cfg.Schedule), err)
	}

	t := &Trigger{
		cfg:      cfg,
		schedule: schedule,
		sweeper:  sweeper,
		logger:   glog.Nop(),
		location: time.UTC,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if t.sweeper == nil && t.enqueuer == nil {
		return nil, core.NewConfigurationError("scheduler: a sweeper or an enqueuer is required")
	}
	return t, nil
}

// Next reports the first tick after now.
func (t *Trigger) Next(now time.Time) time.Time {
	return t.schedule.Next(now.In(t.location))
}

// Start registers the trigger with a cron runner and starts it. The runner
// stops when ctx is done or Stop is called.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("scheduler: trigger already started")
	}

	runner := cron.New(cron.WithLocation(t.location))
	runner.Schedule(t.schedule, cron.FuncJob(func() {
		if _, err := t.RunOnce(ctx); err != nil {
			t.logger.Warn("scheduled refresh sweep failed", "error", err)
		}
	}))
	runner.Start()
	done := make(chan struct{})
	t.cron = runner
	t.done = done
	t.running = true
	t.logger.Info("refresh trigger started", "schedule", t.cfg.Schedule, "providers", strings.Join(t.cfg.Providers, ","))

	t.watchers.Add(1)
	go func() {
		defer t.watchers.Done()
		select {
		case <-ctx.Done():
			t.stop(done)
		case <-done:
		}
	}()
	return nil
}

// Stop halts the cron runner and waits for a running tick to finish.
func (t *Trigger) Stop() {
	t.stop(nil)
}

// stop halts the current run. A non-nil run only stops the run it belongs
// to, so a stale watcher cannot stop a restarted trigger.
func (t *Trigger) stop(run chan struct{}) {
	t.mu.Lock()
	if run != nil && t.done != run {
		t.mu.Unlock()
		return
	}
	runner := t.cron
	if t.done != nil {
		close(t.done)
	}
	t.cron = nil
	t.done = nil
	t.running = false
	t.mu.Unlock()
	if runner == nil {
		return
	}
	<-runner.Stop().Done()
}

// RunOnce performs a single tick. Provider sweeps run in parallel and one
// failing provider does not cancel the others.
func (t *Trigger) RunOnce(ctx context.Context) ([]core.RefreshDueResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	results := make([]core.RefreshDueResult, len(t.cfg.Providers))
	errs := make([]error, len(t.cfg.Providers))
	var group errgroup.Group
	if t.cfg.Concurrency > 0 {
		group.SetLimit(t.cfg.Concurrency)
	}
	for i, providerID := range t.cfg.Providers {
		group.Go(func() error {
			results[i], errs[i] = t.tick(ctx, providerID)
			return nil
		})
	}
	_ = group.Wait()

	var failed []string
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed = append(failed, fmt.Sprintf("%s: %v", t.cfg.Providers[i], err))
		t.logger.Error("refresh sweep failed", "provider_id", t.cfg.Providers[i], "error", err)
	}
	if len(failed) > 0 {
		return results, fmt.Errorf("scheduler: %s", strings.Join(failed, "; "))
	}
	return results, nil
}

func (t *Trigger) tick(ctx context.Context, providerID string) (core.RefreshDueResult, error) {
	if t.enqueuer != nil {
		err := t.enqueuer.Enqueue(ctx, gojob.RefreshJob{ProviderID: providerID, Horizon: t.cfg.Horizon})
		if err == nil {
			t.logger.Debug("refresh sweep enqueued", "provider_id", providerID)
		}
		return core.RefreshDueResult{ProviderID: providerID}, err
	}
	result, err := t.sweeper.RefreshDue(ctx, providerID, t.cfg.Horizon)
	if err != nil {
		return result, err
	}
	t.logger.Info("refresh sweep finished",
		"provider_id", providerID,
		"scanned", result.Scanned,
		"refreshed", result.Refreshed,
		"failed", result.Failed,
		"deactivated", result.Deactivated,
	)
	return result, nil
}

func normalizeProviders(providers []string) []string {
	out := make([]string, 0, len(providers))
	for _, providerID := range providers {
		providerID = strings.TrimSpace(strings.ToLower(providerID))
		if providerID == "" || slices.Contains(out, providerID) {
			continue
		}
		out = append(out, providerID)
	}
	return out
}
