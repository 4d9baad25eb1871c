package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []*domain.SkillExecutionRequest
	result   *domain.SkillExecutionResult
}

func (r *fakeRunner) Execute(_ context.Context, req *domain.SkillExecutionRequest, _ service.ExecuteOptions) *domain.SkillExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.result
}

func (r *fakeRunner) DefaultOptions() service.ExecuteOptions {
	return service.ExecuteOptions{MaxAttempts: 1, Timeout: time.Second}
}

type recorded struct {
	job   domain.CronJob
	event string
}

func newTestScheduler(result *domain.SkillExecutionResult) (*Scheduler, *fakeRunner, *[]recorded) {
	runner := &fakeRunner{result: result}
	s := New(runner)
	var mu sync.Mutex
	events := &[]recorded{}
	s.SetNotifier(func(job domain.CronJob, event string, _ any) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, recorded{job: job, event: event})
	})
	return s, runner, events
}

func testJob() domain.CronJob {
	return domain.CronJob{
		Name:      "nightly digest",
		Schedule:  "0 3 * * *",
		SkillName: "digest",
		Params:    json.RawMessage(`{"limit":5}`),
		TenantID:  "t1",
		UserID:    "u1",
		Tier:      domain.TierTeams,
	}
}

func TestScheduler_AddComputesNextRun(t *testing.T) {
	s, _, _ := newTestScheduler(domain.SucceededResult("ok", 0, 1))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	job, err := s.Add(testJob())
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, fixed, job.CreatedAt)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), job.NextRunAt)
	assert.Equal(t, 1, s.Len())
	assert.Len(t, s.List("t1"), 1)
	assert.Empty(t, s.List("t2"))
}

func TestScheduler_AddRejectsBadSchedule(t *testing.T) {
	s, _, _ := newTestScheduler(nil)

	job := testJob()
	job.Schedule = "every tuesday-ish"
	_, err := s.Add(job)
	require.Error(t, err)

	derr := domain.AsError(err)
	assert.Equal(t, domain.CodeValidation, derr.Code)
	assert.False(t, derr.Retryable)
	assert.Zero(t, s.Len())
}

func TestScheduler_RunNowSuccess(t *testing.T) {
	s, runner, events := newTestScheduler(domain.SucceededResult("digest ready", 0, 1))

	job, err := s.Add(testJob())
	require.NoError(t, err)
	require.NoError(t, s.RunNow(job.ID))

	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	assert.Equal(t, "digest", req.SkillName)
	assert.Equal(t, "t1", req.TenantID)
	assert.Equal(t, domain.TierTeams, req.Tier)
	assert.JSONEq(t, `{"limit":5}`, string(req.Params))

	require.Len(t, *events, 2)
	assert.Equal(t, domain.EventCronTriggered, (*events)[0].event)
	assert.Equal(t, domain.EventCronCompleted, (*events)[1].event)
	assert.Equal(t, "u1", (*events)[1].job.UserID)

	stored, ok := s.Get(job.ID)
	require.True(t, ok)
	assert.NotNil(t, stored.LastRunAt)
}

func TestScheduler_RunNowFailure(t *testing.T) {
	failed := domain.FailedResult(domain.NewError(domain.CodeMaxRetriesExceeded, "gave up", false), 0, 3)
	s, _, events := newTestScheduler(failed)

	job, err := s.Add(testJob())
	require.NoError(t, err)
	require.NoError(t, s.RunNow(job.ID))

	require.Len(t, *events, 2)
	assert.Equal(t, domain.EventCronFailed, (*events)[1].event)
}

func TestScheduler_Remove(t *testing.T) {
	s, _, _ := newTestScheduler(nil)
	job, err := s.Add(testJob())
	require.NoError(t, err)

	_, err = s.Remove(job.ID, "intruder")
	require.Error(t, err)
	assert.Equal(t, domain.CodeForbidden, domain.AsError(err).Code)
	assert.Equal(t, 1, s.Len())

	removed, err := s.Remove(job.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, removed.ID)
	assert.Zero(t, s.Len())

	_, err = s.Remove(job.ID, "t1")
	assert.Error(t, err)
	assert.ErrorIs(t, s.RunNow(job.ID), domain.ErrNotFound)
}

func TestScheduler_StopReturnsJobs(t *testing.T) {
	s, _, _ := newTestScheduler(nil)
	s.Start()

	_, err := s.Add(testJob())
	require.NoError(t, err)
	second := testJob()
	second.Schedule = "@every 1h"
	_, err = s.Add(second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	jobs := s.Stop(ctx)
	assert.Len(t, jobs, 2)
	assert.Zero(t, s.Len())
}
