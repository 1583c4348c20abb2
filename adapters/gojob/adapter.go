package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-cloudauth/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDRefreshDue        = "cloudauth.refresh_due"
	JobIDRefreshCredential = "cloudauth.credential.refresh"
)

const (
	paramProviderID     = "provider_id"
	paramOwner          = "owner"
	paramHorizonSeconds = "horizon_seconds"

	dedupDrop = "drop"
)

// RefreshJob is one queued refresh: a whole-provider sweep when Owner is
// empty, a single credential otherwise.
type RefreshJob struct {
	ProviderID string
	Owner      string
	Horizon    time.Duration
}

func (j RefreshJob) jobID() string {
	if strings.TrimSpace(j.Owner) == "" {
		return JobIDRefreshDue
	}
	return JobIDRefreshCredential
}

// RefreshService is the part of the lifecycle engine the worker drives.
type RefreshService interface {
	RefreshDue(ctx context.Context, providerID string, horizon time.Duration) (core.RefreshDueResult, error)
	RefreshIfDue(ctx context.Context, owner string, providerID string, horizon time.Duration) (core.RefreshOutcome, error)
}

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage maps a refresh job to go-job. Jobs for the same target
// and horizon share an idempotency key so a backlog does not stack sweeps.
func ToExecutionMessage(j RefreshJob) *job.ExecutionMessage {
	providerID := strings.TrimSpace(strings.ToLower(j.ProviderID))
	owner := strings.TrimSpace(j.Owner)
	seconds := int64(j.Horizon / time.Second)
	params := map[string]any{
		paramProviderID:     providerID,
		paramHorizonSeconds: seconds,
	}
	key := providerID
	if owner != "" {
		params[paramOwner] = owner
		key = providerID + ":" + owner
	}
	return &job.ExecutionMessage{
		JobID:          j.jobID(),
		ScriptPath:     j.jobID(),
		Parameters:     params,
		IdempotencyKey: j.jobID() + ":" + key + ":" + strconv.FormatInt(seconds, 10),
		DedupPolicy:    job.DeduplicationPolicy(dedupDrop),
	}
}

// FromExecutionMessage reads a refresh job back. Parameters may have been
// through a JSON round trip, so numbers arrive as float64 or strings.
func FromExecutionMessage(msg *job.ExecutionMessage) (RefreshJob, error) {
	if msg == nil {
		return RefreshJob{}, core.NewBadInputError("gojob: execution message is required")
	}
	jobID := strings.TrimSpace(msg.JobID)
	if jobID != JobIDRefreshDue && jobID != JobIDRefreshCredential {
		return RefreshJob{}, core.NewBadInputError("gojob: unsupported job %q", jobID)
	}
	out := RefreshJob{
		ProviderID: stringParam(msg.Parameters, paramProviderID),
		Owner:      stringParam(msg.Parameters, paramOwner),
	}
	if out.ProviderID == "" {
		return RefreshJob{}, core.NewBadInputError("gojob: job %q has no provider id", jobID)
	}
	if jobID == JobIDRefreshCredential && out.Owner == "" {
		return RefreshJob{}, core.NewBadInputError("gojob: job %q has no owner", jobID)
	}
	seconds, err := intParam(msg.Parameters, paramHorizonSeconds)
	if err != nil {
		return RefreshJob{}, err
	}
	out.Horizon = time.Duration(seconds) * time.Second
	return out, nil
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, j RefreshJob) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(j.ProviderID) == "" {
		return core.NewBadInputError("gojob: provider id is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(j))
}

// Processor pulls refresh jobs and runs them against the engine. Retryable
// failures are requeued with the provider's retry hint when it has one.
type Processor struct {
	dequeuer queue.Dequeuer
	service  RefreshService
	policy   RetryPolicy
	backoff  core.RefreshBackoffScheduler
	hook     worker.Hook
}

func NewProcessor(dequeuer queue.Dequeuer, service RefreshService, policy RetryPolicy) *Processor {
	return &Processor{
		dequeuer: dequeuer,
		service:  service,
		policy:   policy,
		backoff:  core.ExponentialBackoffScheduler{Initial: 30 * time.Second, Max: 10 * time.Minute},
	}
}

// WithHook reports each run to hook, for example a LoggingHook.
func (p *Processor) WithHook(hook worker.Hook) *Processor {
	if p != nil {
		p.hook = hook
	}
	return p
}

// ProcessNext handles one delivery. attempt is the delivery attempt as
// tracked by the queue backend, starting at 1.
func (p *Processor) ProcessNext(ctx context.Context, attempt int) error {
	if p == nil || p.dequeuer == nil || p.service == nil {
		return fmt.Errorf("gojob: processor is not configured")
	}
	delivery, err := p.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	if attempt < 1 {
		attempt = 1
	}

	event := worker.Event{
		Message:   delivery.Message(),
		Delivery:  delivery,
		Attempt:   attempt,
		StartedAt: time.Now().UTC(),
	}
	p.emit(ctx, p.onStart, event)

	runErr := p.run(ctx, delivery.Message())
	event.Duration = time.Since(event.StartedAt)
	if runErr == nil {
		p.emit(ctx, p.onSuccess, event)
		return delivery.Ack(ctx)
	}

	event.Err = runErr
	opts := queue.NackOptions{Requeue: true, Reason: runErr.Error()}
	if !core.IsRetryable(runErr) {
		opts.Requeue = false
		opts.DeadLetter = true
	} else if hint := core.RetryAfter(runErr); hint > 0 {
		opts.Delay = hint
	} else {
		opts.Delay = p.backoff.NextDelay(attempt)
	}
	opts = p.policy.NormalizeAttempt(opts, attempt)
	event.Delay = opts.Delay
	if opts.Requeue {
		p.emit(ctx, p.onRetry, event)
	} else {
		p.emit(ctx, p.onFailure, event)
	}
	if err := delivery.Nack(ctx, opts); err != nil {
		return err
	}
	return runErr
}

func (p *Processor) run(ctx context.Context, msg *job.ExecutionMessage) error {
	j, err := FromExecutionMessage(msg)
	if err != nil {
		return err
	}
	if j.Owner == "" {
		_, err = p.service.RefreshDue(ctx, j.ProviderID, j.Horizon)
		return err
	}
	_, err = p.service.RefreshIfDue(ctx, j.Owner, j.ProviderID, j.Horizon)
	return err
}

func (p *Processor) emit(ctx context.Context, fn func(context.Context, worker.Event), event worker.Event) {
	if p.hook == nil {
		return
	}
	fn(ctx, event)
}

func (p *Processor) onStart(ctx context.Context, e worker.Event)   { p.hook.OnStart(ctx, e) }
func (p *Processor) onSuccess(ctx context.Context, e worker.Event) { p.hook.OnSuccess(ctx, e) }
func (p *Processor) onFailure(ctx context.Context, e worker.Event) { p.hook.OnFailure(ctx, e) }
func (p *Processor) onRetry(ctx context.Context, e worker.Event)   { p.hook.OnRetry(ctx, e) }

// LoggingHook writes worker events through the engine logger.
type LoggingHook struct {
	logger core.Logger
}

func NewLoggingHook(logger core.Logger) *LoggingHook {
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) OnStart(_ context.Context, event worker.Event) {
	h.log("debug", "refresh job started", event)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event worker.Event) {
	h.log("info", "refresh job finished", event)
}

func (h *LoggingHook) OnFailure(_ context.Context, event worker.Event) {
	h.log("error", "refresh job failed", event)
}

func (h *LoggingHook) OnRetry(_ context.Context, event worker.Event) {
	h.log("warn", "refresh job requeued", event)
}

func (h *LoggingHook) log(level string, message string, event worker.Event) {
	if h == nil || h.logger == nil {
		return
	}
	args := eventArgs(event)
	switch level {
	case "debug":
		h.logger.Debug(message, args...)
	case "warn":
		h.logger.Warn(message, args...)
	case "error":
		h.logger.Error(message, args...)
	default:
		h.logger.Info(message, args...)
	}
}

func eventArgs(event worker.Event) []any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	args := []any{
		"attempt", event.Attempt,
		"duration_ms", event.Duration.Milliseconds(),
	}
	if message != nil {
		args = append(args,
			"job_id", message.JobID,
			"provider_id", stringParam(message.Parameters, paramProviderID),
		)
	}
	if event.Delay > 0 {
		args = append(args, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func intParam(params map[string]any, key string) (int64, error) {
	value, ok := params[key]
	if !ok || value == nil {
		return 0, nil
	}
	switch typed := value.(type) {
	case int:
		return int64(typed), nil
	case int64:
		return typed, nil
	case float64:
		return int64(typed), nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0, core.NewBadInputError("gojob: parameter %s is not an integer", key)
		}
		return parsed, nil
	default:
		return 0, core.NewBadInputError("gojob: parameter %s has unsupported type %T", key, value)
	}
}

var (
	_ worker.Hook = (*LoggingHook)(nil)
)
