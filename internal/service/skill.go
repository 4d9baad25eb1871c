package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/config"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/skill"
	"github.com/rs/zerolog/log"
)

// SkillCatalog resolves skills and accumulates their statistics
type SkillCatalog interface {
	Lookup(name string) (skill.Skill, error)
	RecordExecution(name string, success bool, duration time.Duration, at time.Time)
}

// SkillAdmitter gates executions against the tenant's per-minute budget
type SkillAdmitter interface {
	AdmitSkill(ctx context.Context, tenantID string, tier domain.Tier) (domain.QuotaDecision, error)
}

// ExecuteOptions tunes a single execution
type ExecuteOptions struct {
	Timeout        time.Duration
	MaxAttempts    int
	BaseRetryDelay time.Duration
	TrackStats     bool
	Progress       domain.ProgressFunc

	// Admitted observes the admission decision of an admitted execution
	Admitted func(domain.QuotaDecision)
}

// SkillEngine validates, admits, times out, retries and records skill executions
type SkillEngine struct {
	catalog  SkillCatalog
	admitter SkillAdmitter
	execLog  domain.SkillExecutionRepository
	defaults ExecuteOptions
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewSkillEngine creates a new engine. admitter and execLog may be nil.
func NewSkillEngine(catalog SkillCatalog, admitter SkillAdmitter, execLog domain.SkillExecutionRepository, cfg config.SkillsConfig) *SkillEngine {
	return &SkillEngine{
		catalog:  catalog,
		admitter: admitter,
		execLog:  execLog,
		defaults: ExecuteOptions{
			Timeout:        cfg.Timeout,
			MaxAttempts:    cfg.MaxAttempts,
			BaseRetryDelay: cfg.BaseRetryDelay,
			TrackStats:     cfg.TrackStats,
		},
		sleep: sleepContext,
		now:   time.Now,
	}
}

// DefaultOptions returns the configured execution options
func (e *SkillEngine) DefaultOptions() ExecuteOptions {
	return e.defaults
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs the full pipeline for one request. It never returns nil and
// never panics; every failure is reported through the result's error.
func (e *SkillEngine) Execute(ctx context.Context, req *domain.SkillExecutionRequest, opts ExecuteOptions) *domain.SkillExecutionResult {
	if opts.Timeout <= 0 {
		opts.Timeout = e.defaults.Timeout
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	logger := log.With().
		Str("skill", req.SkillName).
		Str("tenant_id", req.TenantID).
		Str("request_id", req.RequestID).
		Logger()

	s, err := e.catalog.Lookup(req.SkillName)
	if err != nil {
		return domain.FailedResult(domain.AsError(err), 0, 0)
	}

	if res := s.Validate(req.Params); !res.Valid {
		verr := domain.NewError(domain.CodeValidation, "invalid skill parameters", false).
			WithDetails(map[string]any{"errors": res.Errors})
		return domain.FailedResult(verr, 0, 0)
	}

	if e.admitter != nil {
		decision, err := e.admitter.AdmitSkill(ctx, req.TenantID, req.Tier)
		if err != nil {
			return domain.FailedResult(domain.WrapError(domain.CodeInternal, true, err, "quota check failed"), 0, 0)
		}
		if !decision.Allowed {
			qerr := domain.NewError(domain.CodeQuotaExceeded, "skill execution quota exceeded", false).
				WithDetails(map[string]any{"resource": domain.ResourceSkills})
			return domain.FailedResult(qerr, 0, 0)
		}
		if opts.Admitted != nil {
			opts.Admitted(decision)
		}
	}

	start := e.now()
	emit := e.progressEmitter(req.SkillName, opts.Progress)
	emit(domain.ProgressEvent{Stage: domain.StageStarting, Attempt: 1})

	data, attempts, execErr := e.run(ctx, s, req, opts, emit)
	elapsed := e.now().Sub(start)

	var result *domain.SkillExecutionResult
	if execErr == nil {
		result = domain.SucceededResult(data, elapsed, attempts)
		emit(domain.ProgressEvent{Stage: domain.StageCompleted, Attempt: attempts, Progress: 100})
		logger.Info().Int("attempts", attempts).Dur("elapsed", elapsed).Msg("skill execution completed")
	} else {
		result = domain.FailedResult(execErr, elapsed, attempts)
		emit(domain.ProgressEvent{Stage: domain.StageError, Attempt: attempts, Error: execErr, Message: execErr.Message})
		logger.Warn().Str("code", string(execErr.Code)).Int("attempts", attempts).Msg("skill execution failed")
	}

	if opts.TrackStats {
		e.record(ctx, req, result)
	}
	return result
}

// run is the attempt loop
func (e *SkillEngine) run(ctx context.Context, s skill.Skill, req *domain.SkillExecutionRequest, opts ExecuteOptions, emit func(domain.ProgressEvent)) (any, int, *domain.Error) {
	var last *domain.Error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		data, err := e.attempt(ctx, s, req, opts.Timeout, attempt, emit)
		if err == nil {
			return data, attempt, nil
		}

		last = domain.AsError(err)
		if !last.Retryable {
			return nil, attempt, last
		}
		if attempt == opts.MaxAttempts {
			break
		}

		delay := opts.BaseRetryDelay * time.Duration(1<<(attempt-1))
		emit(domain.ProgressEvent{
			Stage:   domain.StageRetrying,
			Attempt: attempt + 1,
			Error:   last,
			Message: fmt.Sprintf("retrying in %s", delay),
		})
		if err := e.sleep(ctx, delay); err != nil {
			return nil, attempt, domain.WrapError(domain.CodeExecution, false, err, "execution cancelled")
		}
	}

	maxErr := domain.WrapError(domain.CodeMaxRetriesExceeded, false, last,
		"skill %s failed after %d attempts", req.SkillName, opts.MaxAttempts).
		WithDetails(map[string]any{"last_error": last})
	return nil, opts.MaxAttempts, maxErr
}

type attemptOutcome struct {
	data any
	err  error
}

// attempt races one execution against the timeout. The skill goroutine is
// abandoned on timeout; its result channel is buffered so it can still exit.
func (e *SkillEngine) attempt(ctx context.Context, s skill.Skill, req *domain.SkillExecutionRequest, timeout time.Duration, n int, emit func(domain.ProgressEvent)) (any, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ec := skill.ExecContext{
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Progress: func(percent int, message string) {
			emit(domain.ProgressEvent{Stage: domain.StageProgress, Attempt: n, Progress: percent, Message: message})
		},
	}

	done := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptOutcome{err: domain.NewError(domain.CodeExecution, fmt.Sprintf("skill panicked: %v", r), false)}
			}
		}()
		data, err := s.Execute(actx, req.Params, ec)
		done <- attemptOutcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, domain.WrapError(domain.CodeExecution, false, ctx.Err(), "execution cancelled")
		}
		return nil, domain.NewError(domain.CodeTimeout,
			fmt.Sprintf("skill %s timed out after %s", req.SkillName, timeout), true)
	}
}

// progressEmitter stamps events and shields the pipeline from callback panics
func (e *SkillEngine) progressEmitter(name string, fn domain.ProgressFunc) func(domain.ProgressEvent) {
	return func(ev domain.ProgressEvent) {
		if fn == nil {
			return
		}
		ev.Skill = name
		ev.Timestamp = e.now().UTC()

		defer func() {
			if r := recover(); r != nil {
				log.Warn().Interface("panic", r).Str("skill", name).Str("stage", string(ev.Stage)).
					Msg("progress callback panicked")
			}
		}()
		fn(ev)
	}
}

func (e *SkillEngine) record(ctx context.Context, req *domain.SkillExecutionRequest, result *domain.SkillExecutionResult) {
	at := e.now().UTC()
	e.catalog.RecordExecution(req.SkillName, result.Success, time.Duration(result.ExecutionTimeMs)*time.Millisecond, at)

	if e.execLog == nil {
		return
	}

	rec := &domain.SkillExecutionRecord{
		SkillName:       req.SkillName,
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		ExecutionTimeMs: result.ExecutionTimeMs,
		Success:         result.Success,
		Attempts:        result.Attempts,
		CreatedAt:       at,
	}
	if result.Error != nil {
		rec.ErrorCode = result.Error.Code
	}

	// the caller's context may already be cancelled
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.execLog.Record(wctx, rec); err != nil {
		log.Warn().Err(err).Str("skill", req.SkillName).Msg("failed to record skill execution")
	}
}
