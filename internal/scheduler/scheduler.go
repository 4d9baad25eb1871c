package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/service"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// SkillRunner executes the skill bound to a job
type SkillRunner interface {
	Execute(ctx context.Context, req *domain.SkillExecutionRequest, opts service.ExecuteOptions) *domain.SkillExecutionResult
	DefaultOptions() service.ExecuteOptions
}

// Notifier receives cron lifecycle events for a job's owner
type Notifier func(job domain.CronJob, event string, payload any)

type scheduled struct {
	job     domain.CronJob
	entryID cron.EntryID
}

// Scheduler runs recurring skill executions on this instance
type Scheduler struct {
	cron   *cron.Cron
	runner SkillRunner
	now    func() time.Time

	mu     sync.RWMutex
	jobs   map[string]*scheduled
	notify Notifier

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Jobs do not fire until Start is called.
func New(runner SkillRunner) *Scheduler {
	logger := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner: runner,
		now:    time.Now,
		jobs:   make(map[string]*scheduled),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetNotifier installs the lifecycle event sink
func (s *Scheduler) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = n
}

// Start begins firing jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", s.Len()).Msg("Cron scheduler started")
}

// Stop halts scheduling, cancels running executions and waits for them
// until ctx is done. It returns the jobs that were registered.
func (s *Scheduler) Stop(ctx context.Context) []domain.CronJob {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("Timed out waiting for running cron jobs")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]domain.CronJob, 0, len(s.jobs))
	for id, sj := range s.jobs {
		jobs = append(jobs, sj.job)
		s.cron.Remove(sj.entryID)
		delete(s.jobs, id)
	}
	return jobs
}

// Add parses the job's schedule and registers it. A malformed schedule
// is a validation error.
func (s *Scheduler) Add(job domain.CronJob) (*domain.CronJob, error) {
	schedule, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return nil, domain.WrapError(domain.CodeValidation, false, err, "invalid schedule %q", job.Schedule).
			WithDetails(map[string]any{"field": "schedule"})
	}

	now := s.now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = now
	job.NextRunAt = schedule.Next(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return nil, fmt.Errorf("cron job already exists: %s", job.ID)
	}

	id := job.ID
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(id) }))
	s.jobs[id] = &scheduled{job: job, entryID: entryID}

	log.Info().
		Str("job_id", id).
		Str("tenant_id", job.TenantID).
		Str("schedule", job.Schedule).
		Str("skill", job.SkillName).
		Msg("Cron job scheduled")

	out := job
	return &out, nil
}

// Remove unregisters a job owned by tenantID
func (s *Scheduler) Remove(id, tenantID string) (*domain.CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, ok := s.jobs[id]
	if !ok {
		return nil, domain.NewError(domain.CodeInvalidPayload, "cron job not found", false).
			WithDetails(map[string]any{"job_id": id})
	}
	if sj.job.TenantID != tenantID {
		return nil, domain.NewError(domain.CodeForbidden, "cron job belongs to another tenant", false)
	}

	s.cron.Remove(sj.entryID)
	delete(s.jobs, id)

	log.Info().Str("job_id", id).Str("tenant_id", tenantID).Msg("Cron job removed")
	job := sj.job
	return &job, nil
}

// Get returns a copy of a registered job
func (s *Scheduler) Get(id string) (domain.CronJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sj, ok := s.jobs[id]
	if !ok {
		return domain.CronJob{}, false
	}
	return sj.job, true
}

// List returns the tenant's jobs ordered by creation time
func (s *Scheduler) List(tenantID string) []domain.CronJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []domain.CronJob
	for _, sj := range s.jobs {
		if sj.job.TenantID == tenantID {
			jobs = append(jobs, sj.job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs
}

// Len returns the number of registered jobs
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// RunNow fires a job immediately, outside its schedule
func (s *Scheduler) RunNow(id string) error {
	if _, ok := s.Get(id); !ok {
		return domain.ErrNotFound
	}
	s.fire(id)
	return nil
}

func (s *Scheduler) fire(id string) {
	s.mu.RLock()
	sj, ok := s.jobs[id]
	var job domain.CronJob
	if ok {
		job = sj.job
	}
	notify := s.notify
	s.mu.RUnlock()
	if !ok {
		return
	}

	emit := func(event string, payload any) {
		if notify != nil {
			notify(job, event, payload)
		}
	}

	firedAt := s.now()
	emit(domain.EventCronTriggered, map[string]any{
		"job_id":       job.ID,
		"name":         job.Name,
		"skill":        job.SkillName,
		"triggered_at": firedAt,
	})

	req := &domain.SkillExecutionRequest{
		SkillName: job.SkillName,
		Params:    job.Params,
		TenantID:  job.TenantID,
		UserID:    job.UserID,
		Tier:      job.Tier,
		SessionID: job.SessionID,
		RequestID: job.ID + ":" + firedAt.UTC().Format(time.RFC3339),
	}
	result := s.runner.Execute(s.ctx, req, s.runner.DefaultOptions())

	s.mu.Lock()
	if cur, ok := s.jobs[id]; ok {
		last := firedAt
		cur.job.LastRunAt = &last
		if entry := s.cron.Entry(cur.entryID); entry.Valid() {
			cur.job.NextRunAt = entry.Next
		}
	}
	s.mu.Unlock()

	if result.Success {
		emit(domain.EventCronCompleted, map[string]any{
			"job_id": job.ID,
			"name":   job.Name,
			"result": result,
		})
		return
	}

	log.Warn().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Str("skill", job.SkillName).
		Str("code", string(result.Error.Code)).
		Msg("Cron job execution failed")
	emit(domain.EventCronFailed, map[string]any{
		"job_id": job.ID,
		"name":   job.Name,
		"error":  result.Error,
	})
}

// cronLogger adapts the global zerolog logger to cron.Logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
