package scheduler

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/distributed_lock"
	"dataquality-service/service/models"
	"dataquality-service/service/validation_engine"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []validation_engine.RunRequest
	err      error
}

func (f *fakeRunner) RunValidation(ctx context.Context, req validation_engine.RunRequest) (*models.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.RunSummary{RunID: "run-1", Mode: req.Mode, Status: models.RunStatusCompleted}, nil
}

type fakeRetention struct {
	runsBefore    time.Time
	historyBefore time.Time
	err           error
}

func (f *fakeRetention) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	f.runsBefore = before
	return 3, f.err
}

func (f *fakeRetention) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	f.historyBefore = before
	return 7, nil
}

func newScheduler(t *testing.T, mutate func(cfg *config.EngineConfig)) (*SchedulerService, *fakeRunner, *fakeRetention, *config.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.Schedule.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}
	manager := config.NewManagerWithConfig("", cfg)
	runner := &fakeRunner{}
	store := &fakeRetention{}
	return NewSchedulerService(manager, runner, store, nil), runner, store, manager
}

func TestReschedule_RegistersConfiguredJobs(t *testing.T) {
	s, _, _, _ := newScheduler(t, nil)
	require.NoError(t, s.Reschedule(s.cfg.Current()))

	entries := s.Entries()
	assert.Len(t, entries, 3)
	assert.Contains(t, entries, JobFast)
	assert.Contains(t, entries, JobSlow)
	assert.Contains(t, entries, JobRetention)
}

func TestReschedule_DisabledScheduleKeepsRetention(t *testing.T) {
	s, _, _, _ := newScheduler(t, func(cfg *config.EngineConfig) { cfg.Schedule.Enabled = false })
	require.NoError(t, s.Reschedule(s.cfg.Current()))

	entries := s.Entries()
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, JobRetention)
}

func TestReschedule_InvalidCronKeepsExistingJobs(t *testing.T) {
	s, _, _, manager := newScheduler(t, nil)
	require.NoError(t, s.Reschedule(manager.Current()))

	bad := config.Default()
	bad.Schedule.Enabled = true
	bad.Schedule.FastCron = "not a cron"
	err := s.Reschedule(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobFast)
	assert.Len(t, s.Entries(), 3)

	// 配置变更通知同样不会破坏已有任务
	s.OnConfigChange(manager.Current(), bad)
	assert.Len(t, s.Entries(), 3)
}

func TestJob_TriggersValidationRun(t *testing.T) {
	s, runner, _, _ := newScheduler(t, nil)

	s.jobFunc(JobFast)()
	s.jobFunc(JobSlow)()

	require.Len(t, runner.requests, 2)
	assert.Equal(t, models.RunModeFast, runner.requests[0].Mode)
	assert.Equal(t, models.RunModeSlow, runner.requests[1].Mode)
	assert.Equal(t, "scheduler", runner.requests[0].TriggeredBy)
}

func TestJob_SkipsWhenLockHeld(t *testing.T) {
	cfg := config.Default()
	cfg.Schedule.Enabled = true
	lock := distributed_lock.NewLocalLock()
	runner := &fakeRunner{}
	s := NewSchedulerService(config.NewManagerWithConfig("", cfg), runner, &fakeRetention{}, lock)

	ok, err := lock.TryLock(context.Background(), JobFast, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	s.jobFunc(JobFast)()
	assert.Empty(t, runner.requests)

	// 锁释放后正常执行
	require.NoError(t, lock.Unlock(context.Background(), JobFast))
	s.jobFunc(JobFast)()
	assert.Len(t, runner.requests, 1)
}

func TestJob_RunFailureDoesNotPanic(t *testing.T) {
	s, runner, _, _ := newScheduler(t, nil)
	runner.err = errors.New("remote down")

	assert.NotPanics(t, func() { s.jobFunc(JobFast)() })
	assert.Len(t, runner.requests, 1)
}

func TestSweep_UsesRetentionDays(t *testing.T) {
	now := time.Date(2026, 6, 30, 3, 30, 0, 0, time.UTC)
	store := &fakeRetention{}

	runs, histories, err := Sweep(context.Background(), store, config.RetentionConfig{RunDays: 30, HistoryDays: 180}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), runs)
	assert.Equal(t, int64(7), histories)
	assert.Equal(t, time.Date(2026, 5, 31, 3, 30, 0, 0, time.UTC), store.runsBefore)
	assert.Equal(t, time.Date(2026, 1, 1, 3, 30, 0, 0, time.UTC), store.historyBefore)
}

func TestSweep_SkipsDisabledAndWrapsErrors(t *testing.T) {
	now := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	store := &fakeRetention{}
	runs, histories, err := Sweep(context.Background(), store, config.RetentionConfig{}, now)
	require.NoError(t, err)
	assert.Zero(t, runs)
	assert.Zero(t, histories)
	assert.True(t, store.runsBefore.IsZero())

	cause := errors.New("db gone")
	_, _, err = Sweep(context.Background(), &fakeRetention{err: cause}, config.RetentionConfig{RunDays: 1}, now)
	assert.ErrorIs(t, err, cause)
}

func TestStartStop(t *testing.T) {
	s, _, _, _ := newScheduler(t, nil)
	require.NoError(t, s.Start())
	for name, next := range s.Entries() {
		assert.False(t, next.IsZero(), name)
	}
	s.Stop()
}
