// Package worker polls the governance API for approved actions, verifies
// each one locally and executes it under resource limits. Every claimed
// action is completed with exactly one artifact, including refusals.
package worker

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThewitchASarz/sucrityflash/internal/client"
	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/token"
	"github.com/ThewitchASarz/sucrityflash/internal/service/execution"
	"github.com/ThewitchASarz/sucrityflash/internal/toolexec"
)

// API is the subset of the governance API a worker uses.
type API interface {
	PollActions(ctx context.Context, limit int) ([]domain.WorkItem, error)
	ClaimAction(ctx context.Context, actionID string) (domain.WorkItem, error)
	CompleteAction(ctx context.Context, actionID string, req execution.CompleteRequest) (execution.Result, error)
	RunStatus(ctx context.Context, runID string) (domain.RunStatus, error)
}

var _ API = (*client.Client)(nil)

type Worker struct {
	api      API
	verifier token.Verifier
	executor toolexec.Executor
	id       string
	interval time.Duration
	batch    int
	memory   int64
	cpu      float64
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func New(cfg Config, api API, verifier token.Verifier, executor toolexec.Executor, opts ...Option) *Worker {
	w := &Worker{
		api:      api,
		verifier: verifier,
		executor: executor,
		id:       cfg.WorkerID,
		interval: cfg.PollInterval,
		batch:    cfg.BatchSize,
		memory:   cfg.MemoryLimit,
		cpu:      cfg.CPULimit,
		logger:   slog.Default(),
		now:      time.Now,
	}
	if w.interval <= 0 {
		w.interval = 5 * time.Second
	}
	if w.batch <= 0 {
		w.batch = 10
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", "worker_id", w.id, "executor", w.executor.Kind(), "interval", w.interval.String(), "batch", w.batch)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", "worker_id", w.id)
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes one batch and returns how many actions it completed.
func (w *Worker) RunOnce(ctx context.Context) int {
	items, err := w.api.PollActions(ctx, w.batch)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("poll failed", "error", err)
		}
		return 0
	}
	done := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return done
		}
		if w.process(ctx, item) {
			done++
		}
	}
	return done
}

func (w *Worker) process(ctx context.Context, polled domain.WorkItem) bool {
	actionID := polled.Action.ID
	item, err := w.api.ClaimAction(ctx, actionID)
	if err != nil {
		if client.StatusOf(err) == http.StatusConflict {
			w.logger.Info("claim lost", "action_id", actionID, "error", err)
		} else {
			w.logger.Warn("claim failed", "action_id", actionID, "error", err)
		}
		return false
	}
	if item.Action.ID == "" {
		item = polled
	}
	action := item.Action

	status, err := w.api.RunStatus(ctx, action.RunID)
	if err != nil {
		w.refuse(ctx, action, domain.WrapError(domain.CodeExecutionFailed, err, "run status unavailable"))
		return true
	}
	if status != domain.RunStatusRunning {
		w.refuse(ctx, action, domain.NewError(domain.CodeRunNotRunning, "run %s is %s", action.RunID, status))
		return true
	}

	spec, err := Verify(w.verifier, item, w.now())
	if err != nil {
		w.refuse(ctx, action, err)
		return true
	}
	w.complete(ctx, action, w.execute(ctx, action, spec))
	return true
}

func (w *Worker) execute(ctx context.Context, action domain.ActionSpec, spec ToolSpec) execution.CompleteRequest {
	cmd := action.Invocation.Args.Command(action.Target)
	art := w.artifact(action, cmd.Argv)

	res, err := w.executor.Run(ctx, toolexec.Spec{
		Name:   action.ID,
		Binary: spec.Binary,
		Image:  spec.Image,
		Argv:   cmd.Argv,
		Stdin:  cmd.Stdin,
		Limits: spec.limits(w.memory, w.cpu),
	})
	if err != nil {
		art.ErrorCode = domain.CodeExecutionFailed
		art.Error = err.Error()
		return execution.CompleteRequest{Status: domain.ActionStatusFailed, Artifact: art}
	}

	art.DurationMs = res.Duration.Milliseconds()
	art.ReturnCode = res.ReturnCode
	art.Stdout = res.Stdout
	art.Stderr = res.Stderr
	art.StdoutTruncated = res.StdoutTruncated
	art.StderrTruncated = res.StderrTruncated
	art.Summary = summarize(action.Tool(), res.Stdout)

	switch {
	case res.TimedOut:
		art.ErrorCode = domain.CodeResourceLimitExceeded
		art.Error = "wall clock timeout exceeded"
	case res.MemoryExceeded:
		art.ErrorCode = domain.CodeResourceLimitExceeded
		art.Error = "memory limit exceeded"
	case res.ReturnCode != 0:
		art.ErrorCode = domain.CodeExecutionFailed
		art.Error = "tool exited with a non zero status"
	}
	if art.ErrorCode != "" {
		return execution.CompleteRequest{Status: domain.ActionStatusFailed, Artifact: art}
	}
	return execution.CompleteRequest{Status: domain.ActionStatusExecuted, Artifact: art}
}

func (w *Worker) refuse(ctx context.Context, action domain.ActionSpec, cause error) {
	code := domain.CodeOf(cause)
	if code == "" {
		code = domain.CodeTokenInvalid
	}
	w.logger.Warn("action refused", "action_id", action.ID, "run_id", action.RunID, "code", code, "error", cause)

	var argv []string
	if action.Invocation.Args != nil {
		argv = action.Invocation.Args.Command(action.Target).Argv
	}
	art := w.artifact(action, argv)
	art.ReturnCode = -1
	art.ErrorCode = code
	art.Error = domain.ReasonOf(cause)
	w.complete(ctx, action, execution.CompleteRequest{Status: domain.ActionStatusFailed, Artifact: art})
}

func (w *Worker) artifact(action domain.ActionSpec, argv []string) domain.Artifact {
	return domain.Artifact{
		Tool:      action.Tool(),
		Target:    action.Target,
		Args:      argv,
		Timestamp: w.now().UTC(),
		WorkerID:  w.id,
	}
}

// complete reports the outcome. Completion is idempotent on the API side so
// it is retried; it also survives shutdown so a claimed action is not left
// EXECUTING.
func (w *Worker) complete(ctx context.Context, action domain.ActionSpec, req execution.CompleteRequest) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		var res execution.Result
		res, err = w.api.CompleteAction(cctx, action.ID, req)
		if err == nil {
			w.logger.Info("action completed",
				"action_id", action.ID,
				"run_id", action.RunID,
				"status", res.Action.Status,
				"code", req.Artifact.ErrorCode,
				"evidence_id", res.Evidence.ID,
			)
			return
		}
		if s := client.StatusOf(err); s >= 400 && s < 500 {
			break
		}
		if attempt < 3 && !sleepCtx(cctx, time.Duration(attempt)*time.Second) {
			break
		}
	}
	w.logger.Error("completion failed", "action_id", action.ID, "run_id", action.RunID, "error", err)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
