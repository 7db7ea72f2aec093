/*
 * @module service/scheduler/quality_scheduler
 * @description 定时触发器，按配置的Cron表达式触发快速/全量校验运行与保留清理
 * @architecture 基于robfig/cron的调度器模式
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 加载配置 -> 注册Cron任务 -> 获取锁 -> 执行 -> 释放锁；配置变更时重新注册
 * @rules 多实例部署时同一任务只在一个实例执行；任务失败只记录日志，不影响后续触发
 * @dependencies github.com/robfig/cron/v3, service/distributed_lock
 * @refs service/validation_engine/engine.go, service/database/run_store.go
 */

package scheduler

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/distributed_lock"
	"dataquality-service/service/models"
	"dataquality-service/service/monitoring"
	"dataquality-service/service/validation_engine"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	JobFast      = "fast_validation"
	JobSlow      = "slow_validation"
	JobRetention = "retention"
)

// Runner 校验运行入口
type Runner interface {
	RunValidation(ctx context.Context, req validation_engine.RunRequest) (*models.RunSummary, error)
}

// RetentionStore 保留清理所需的存储能力
type RetentionStore interface {
	PruneRuns(ctx context.Context, before time.Time) (int64, error)
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
}

// ConfigSource 配置快照来源
type ConfigSource interface {
	Current() *config.EngineConfig
}

// SchedulerService 质量校验调度器服务
type SchedulerService struct {
	cfg      ConfigSource
	runner   Runner
	store    RetentionStore
	executor *distributed_lock.LockExecutor
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSchedulerService 创建调度器服务，lock 为空时使用进程内锁
func NewSchedulerService(cfg ConfigSource, runner Runner, store RetentionStore, lock distributed_lock.DistributedLock) *SchedulerService {
	if lock == nil {
		lock = distributed_lock.NewLocalLock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerService{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		executor: distributed_lock.NewLockExecutor(lock),
		now:      time.Now,
		cron:     cron.New(cron.WithSeconds()),
		entries:  make(map[string]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 注册任务并启动调度器
func (s *SchedulerService) Start() error {
	slog.Info("启动质量校验调度器")
	if err := s.Reschedule(s.cfg.Current()); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop 停止调度器，等待正在执行的任务结束
func (s *SchedulerService) Stop() {
	slog.Info("停止质量校验调度器")
	s.cancel()
	<-s.cron.Stop().Done()
	slog.Info("质量校验调度器已停止")
}

// OnConfigChange 配置变更时重新注册任务
func (s *SchedulerService) OnConfigChange(_, newConfig *config.EngineConfig) {
	if err := s.Reschedule(newConfig); err != nil {
		slog.Error("配置变更后重新注册定时任务失败，保留原有任务", "error", err)
	}
}

// Reschedule 按配置重新注册全部定时任务；表达式非法时不修改已有任务
func (s *SchedulerService) Reschedule(cfg *config.EngineConfig) error {
	specs := map[string]string{}
	if cfg.Schedule.Enabled {
		if cfg.Schedule.FastCron != "" {
			specs[JobFast] = cfg.Schedule.FastCron
		}
		if cfg.Schedule.SlowCron != "" {
			specs[JobSlow] = cfg.Schedule.SlowCron
		}
	}
	if cfg.Retention.Cron != "" {
		specs[JobRetention] = cfg.Retention.Cron
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedules := make(map[string]cron.Schedule, len(specs))
	for name, spec := range specs {
		schedule, err := parser.Parse(spec)
		if err != nil {
			return fmt.Errorf("任务 %s 的Cron表达式无效 [%s]: %w", name, spec, err)
		}
		schedules[name] = schedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	for name, schedule := range schedules {
		s.entries[name] = s.cron.Schedule(schedule, cron.FuncJob(s.jobFunc(name)))
		slog.Info("已注册定时任务", "job", name, "cron", specs[name])
	}
	return nil
}

// Entries 已注册任务及下次触发时间
func (s *SchedulerService) Entries() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

func (s *SchedulerService) jobFunc(name string) func() {
	switch name {
	case JobFast:
		return func() { s.guard(JobFast, func(ctx context.Context) error { return s.runMode(ctx, models.RunModeFast) }) }
	case JobSlow:
		return func() { s.guard(JobSlow, func(ctx context.Context) error { return s.runMode(ctx, models.RunModeSlow) }) }
	default:
		return func() { s.guard(JobRetention, s.sweepRetention) }
	}
}

// guard 在锁保护下执行任务并记录结果
func (s *SchedulerService) guard(name string, fn func(ctx context.Context) error) {
	ttl := s.cfg.Current().Schedule.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	ran, err := s.executor.ExecuteWithLockAndRefresh(s.ctx, name, ttl, ttl/3, func() error {
		return fn(s.ctx)
	})
	switch {
	case err != nil:
		monitoring.SchedulerJobsTotal.WithLabelValues(name, "error").Inc()
		slog.Error("定时任务执行失败", "job", name, "error", err)
	case !ran:
		monitoring.SchedulerJobsTotal.WithLabelValues(name, "skipped").Inc()
		slog.Info("定时任务已由其他实例执行，跳过", "job", name)
	default:
		monitoring.SchedulerJobsTotal.WithLabelValues(name, "success").Inc()
	}
}

func (s *SchedulerService) runMode(ctx context.Context, mode models.RunMode) error {
	summary, err := s.runner.RunValidation(ctx, validation_engine.RunRequest{
		Mode:        mode,
		TriggeredBy: "scheduler",
	})
	if err != nil {
		return fmt.Errorf("定时%s校验失败: %w", mode, err)
	}
	slog.Info("定时校验完成", "mode", mode, "run_id", summary.RunID, "status", summary.Status)
	return nil
}

func (s *SchedulerService) sweepRetention(ctx context.Context) error {
	_, _, err := Sweep(ctx, s.store, s.cfg.Current().Retention, s.now())
	return err
}

// Sweep 按保留天数清理过期运行与评分历史，天数不大于0时跳过对应清理
func Sweep(ctx context.Context, store RetentionStore, cfg config.RetentionConfig, now time.Time) (runs, histories int64, err error) {
	if cfg.RunDays > 0 {
		runs, err = store.PruneRuns(ctx, now.AddDate(0, 0, -cfg.RunDays))
		if err != nil {
			return 0, 0, fmt.Errorf("清理过期运行失败: %w", err)
		}
	}
	if cfg.HistoryDays > 0 {
		histories, err = store.PruneHistory(ctx, now.AddDate(0, 0, -cfg.HistoryDays))
		if err != nil {
			return runs, 0, fmt.Errorf("清理过期评分历史失败: %w", err)
		}
	}
	slog.Info("保留清理完成", "runs", runs, "histories", histories)
	return runs, histories, nil
}
