/*
 * @module service/validation_engine/engine
 * @description 校验编排引擎，负责一次校验运行的范围解析、任务分发、结果汇总与事务化持久化
 * @architecture 分层架构 - 核心服务层，工作池并发模型
 * @documentReference ai_docs/validation_engine_design.md
 * @stateFlow 解析实体范围 -> 创建running运行 -> 顺序/工作池执行(实体,校验器)任务 -> 截止时间处理 -> 单事务写入 -> 评分钩子
 * @rules 单个校验器失败不影响其它校验器；失败与未完成的任务各产生一条critical结果；持久化失败时运行标记为failed
 * @dependencies dataquality-service/service/data_quality, dataquality-service/service/database, github.com/prometheus/client_golang
 * @refs service/data_quality/registry.go, service/database/run_store.go, service/scoring
 */

package validation_engine

import (
	"context"
	"dataquality-service/client"
	"dataquality-service/service/config"
	"dataquality-service/service/data_quality"
	"dataquality-service/service/models"
	"dataquality-service/service/monitoring"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrUnknownEntity 运行范围引用了未配置的实体
	ErrUnknownEntity = errors.New("未配置的实体")
	// ErrInvalidMode 运行模式非法
	ErrInvalidMode = errors.New("运行模式非法")
)

// ConfigSource 提供当前配置快照
type ConfigSource interface {
	Current() *config.EngineConfig
}

// RunStore 运行持久化
type RunStore interface {
	CreateRun(ctx context.Context, run *models.ValidationRun) error
	FinalizeRun(ctx context.Context, run *models.ValidationRun, results []models.ValidationResult, metrics []models.ValidationMetric) error
	MarkFailed(ctx context.Context, runID, reason string, at time.Time) error
}

// Scorer 运行完成后的评分钩子
type Scorer interface {
	ScoreRun(ctx context.Context, runID string) ([]*models.ValidationHistory, error)
}

// RunRequest 校验运行请求
type RunRequest struct {
	Mode         models.RunMode `json:"mode"`
	EntityFilter []string       `json:"entity_filter"`
	TriggeredBy  string         `json:"triggered_by"`
	Sequential   *bool          `json:"sequential,omitempty"` // 覆盖模式默认的执行方式
}

// Engine 校验编排引擎
type Engine struct {
	config   ConfigSource
	registry *data_quality.Registry
	remote   client.RemoteQuerier
	local    data_quality.LocalReader
	store    RunStore
	scorer   Scorer
	now      func() time.Time
}

// NewEngine 创建校验编排引擎
func NewEngine(cfg ConfigSource, registry *data_quality.Registry, remote client.RemoteQuerier, local data_quality.LocalReader, store RunStore) *Engine {
	return &Engine{
		config:   cfg,
		registry: registry,
		remote:   remote,
		local:    local,
		store:    store,
		now:      time.Now,
	}
}

// SetScorer 设置运行完成后的评分钩子
func (e *Engine) SetScorer(scorer Scorer) {
	e.scorer = scorer
}

// job 一个(实体, 校验器)执行单元
type job struct {
	index     int
	entity    *config.EntityConfig
	validator data_quality.Validator
}

type jobOutput struct {
	results  []models.ValidationResult
	metrics  []models.ValidationMetric
	failed   bool
	timedOut bool
}

// RunValidation 执行一次校验运行
func (e *Engine) RunValidation(ctx context.Context, req RunRequest) (*models.RunSummary, error) {
	cfg := e.config.Current()
	if req.Mode == "" {
		req.Mode = models.RunModeFast
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMode, req.Mode)
	}

	entities, err := resolveEntities(cfg, req.EntityFilter)
	if err != nil {
		return nil, err
	}
	jobs, err := e.planJobs(entities)
	if err != nil {
		return nil, err
	}

	sequential := cfg.IsSequential(string(req.Mode))
	if req.Sequential != nil {
		sequential = *req.Sequential
	}

	run := &models.ValidationRun{
		Mode:         req.Mode,
		Status:       models.RunStatusRunning,
		StartedAt:    e.now(),
		TriggeredBy:  req.TriggeredBy,
		EntityFilter: models.JSONBStringArray(req.EntityFilter),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	slog.Info("校验运行开始", "run_id", run.ID, "mode", run.Mode, "entities", len(entities), "jobs", len(jobs), "sequential", sequential)

	timeout := cfg.TimeoutFor(string(req.Mode))
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	workers := cfg.Engine.WorkerPoolSize
	if sequential || workers < 1 {
		workers = 1
	}
	col := e.dispatch(runCtx, cfg, run, jobs, workers, cfg.Engine.AbandonOnTimeout).seal()

	// 父上下文取消后仍需完成落库
	persistCtx := context.WithoutCancel(ctx)
	deadlineHit := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	results := col.results
	unfinished := 0
	for _, j := range jobs {
		if col.finished[j.index] {
			continue
		}
		unfinished++
		results = append(results, e.unfinishedResult(run.ID, j, deadlineHit))
		monitoring.ValidatorFailuresTotal.WithLabelValues(j.validator.Name(), "not_finished").Inc()
	}

	validatorsRun := len(col.finished)
	validatorsFailed := col.failed + unfinished
	run.TimedOut = deadlineHit && (unfinished > 0 || col.timedOut > 0)
	status := models.RunStatusCompleted
	if validatorsFailed > 0 {
		status = models.RunStatusPartial
	}
	run.ApplyCounts(results, col.clean)
	run.Metadata = models.JSONB{
		"jobs":              len(jobs),
		"validators_run":    validatorsRun,
		"validators_failed": validatorsFailed,
		"sequential":        sequential,
		"timeout_seconds":   timeout.Seconds(),
	}
	if err := run.TransitionTo(status, e.now()); err != nil {
		return nil, err
	}

	if err := e.store.FinalizeRun(persistCtx, run, results, col.metrics); err != nil {
		slog.Error("校验运行持久化失败", "run_id", run.ID, "error", err)
		failedAt := e.now()
		if markErr := e.store.MarkFailed(persistCtx, run.ID, err.Error(), failedAt); markErr != nil {
			slog.Error("标记运行失败状态失败", "run_id", run.ID, "error", markErr)
		}
		run.Status = models.RunStatusFailed
		run.CompletedAt = &failedAt
		run.ErrorMessage = err.Error()
		monitoring.RunsTotal.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
		return models.NewRunSummary(run, validatorsRun, validatorsFailed), err
	}

	for _, r := range results {
		monitoring.ResultsTotal.WithLabelValues(string(r.Severity)).Inc()
	}
	monitoring.RunsTotal.WithLabelValues(string(run.Mode), string(run.Status)).Inc()
	monitoring.RunDuration.WithLabelValues(string(run.Mode)).Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())

	summary := models.NewRunSummary(run, validatorsRun, validatorsFailed)
	slog.Info("校验运行结束", "run_id", run.ID, "status", run.Status, "outcome", summary.Outcome,
		"results", run.TotalCount, "validators_failed", validatorsFailed, "timed_out", run.TimedOut)

	if cfg.Engine.ScoreAfterRun && e.scorer != nil {
		histories, err := e.scorer.ScoreRun(persistCtx, run.ID)
		if err != nil {
			slog.Error("运行后评分失败", "run_id", run.ID, "error", err)
		} else {
			summary.Scores = make(map[string]float64, len(histories))
			for _, h := range histories {
				summary.Scores[h.EntityType] = h.Score
			}
		}
	}
	return summary, nil
}

// resolveEntities 过滤条件与已配置实体求交，保持配置顺序
func resolveEntities(cfg *config.EngineConfig, filter []string) ([]*config.EntityConfig, error) {
	if len(filter) == 0 {
		entities := make([]*config.EntityConfig, 0, len(cfg.Entities))
		for i := range cfg.Entities {
			entities = append(entities, &cfg.Entities[i])
		}
		return entities, nil
	}

	wanted := make(map[string]bool, len(filter))
	for _, name := range filter {
		if _, ok := cfg.Entity(name); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
		}
		wanted[name] = true
	}
	var entities []*config.EntityConfig
	for i := range cfg.Entities {
		if wanted[cfg.Entities[i].Name] {
			entities = append(entities, &cfg.Entities[i])
		}
	}
	return entities, nil
}

func (e *Engine) planJobs(entities []*config.EntityConfig) ([]job, error) {
	var jobs []job
	for _, entity := range entities {
		validators, err := e.registry.Resolve(entity)
		if err != nil {
			return nil, err
		}
		for _, v := range validators {
			jobs = append(jobs, job{index: len(jobs), entity: entity, validator: v})
		}
	}
	return jobs, nil
}

// dispatch 通过容量为workers的信号量分发任务，workers为1时即顺序执行
func (e *Engine) dispatch(ctx context.Context, cfg *config.EngineConfig, run *models.ValidationRun, jobs []job, workers int, abandon bool) *collector {
	col := newCollector()
	workerPool := make(chan struct{}, workers)
	done := make(chan struct{})

	go func() {
		defer close(done)
		var wg sync.WaitGroup
	dispatchLoop:
		for _, j := range jobs {
			select {
			case workerPool <- struct{}{}:
			case <-ctx.Done():
				break dispatchLoop
			}
			if ctx.Err() != nil {
				<-workerPool
				break
			}

			wg.Add(1)
			go func(j job) {
				defer wg.Done()
				defer func() { <-workerPool }()
				vc := &data_quality.ValidationContext{
					Config: cfg,
					Entity: j.entity,
					Remote: e.remote,
					Local:  e.local,
					RunID:  run.ID,
					Mode:   run.Mode,
				}
				if !col.add(j.index, e.execute(ctx, vc, j)) {
					slog.Warn("校验器在运行终结后返回，结果已丢弃", "run_id", run.ID, "validator", j.validator.Name(), "entity", j.entity.Name)
				}
			}(j)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if abandon {
			slog.Warn("运行到达截止时间，放弃等待执行中的校验器", "run_id", run.ID)
		} else {
			<-done
		}
	}
	return col
}

// execute 执行单个校验器，错误与panic转换为一条critical结果
func (e *Engine) execute(ctx context.Context, vc *data_quality.ValidationContext, j job) (out jobOutput) {
	name := j.validator.Name()
	start := time.Now()
	defer func() {
		monitoring.ValidatorDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	results, metrics, err := safeValidate(ctx, vc, j.validator)
	if err == nil {
		for i := range results {
			results[i].RunID = vc.RunID
			if results[i].EntityType == "" {
				results[i].EntityType = j.entity.Name
			}
			if results[i].Validator == "" {
				results[i].Validator = name
			}
		}
		for i := range metrics {
			metrics[i].RunID = vc.RunID
			if metrics[i].EntityType == "" {
				metrics[i].EntityType = j.entity.Name
			}
		}
		return jobOutput{results: results, metrics: metrics}
	}

	reason := failureReason(ctx, err)
	monitoring.ValidatorFailuresTotal.WithLabelValues(name, reason).Inc()
	slog.Error("校验器执行失败", "run_id", vc.RunID, "validator", name, "entity", j.entity.Name, "reason", reason, "error", err)

	result := vc.NewResult(name, models.SeverityCritical, err.Error())
	result.Metadata = models.JSONB{"reason": reason}
	var logicErr *data_quality.ValidationLogicError
	if errors.As(err, &logicErr) && logicErr.Panic != nil {
		result.Metadata["stack"] = logicErr.Stack
	}
	return jobOutput{
		results:  []models.ValidationResult{result},
		failed:   true,
		timedOut: reason == "timeout",
	}
}

// safeValidate 调用校验器并捕获panic
func safeValidate(ctx context.Context, vc *data_quality.ValidationContext, v data_quality.Validator) (results []models.ValidationResult, metrics []models.ValidationMetric, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &data_quality.ValidationLogicError{
				Validator:  v.Name(),
				EntityType: vc.Entity.Name,
				Panic:      r,
				Stack:      string(debug.Stack()),
			}
		}
	}()

	results, metrics, err = v.Validate(ctx, vc)
	if err != nil {
		var logicErr *data_quality.ValidationLogicError
		if !errors.As(err, &logicErr) {
			err = &data_quality.ValidationLogicError{Validator: v.Name(), EntityType: vc.Entity.Name, Err: err}
		}
		return nil, nil, err
	}
	return results, metrics, nil
}

func failureReason(ctx context.Context, err error) string {
	var logicErr *data_quality.ValidationLogicError
	var authErr *client.AuthError
	var malformed *client.MalformedResponseError
	switch {
	case errors.As(err, &logicErr) && logicErr.Panic != nil:
		return "panic"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &authErr):
		return "auth"
	case errors.Is(err, client.ErrRetriesExhausted):
		return "retries_exhausted"
	case errors.As(err, &malformed):
		return "malformed_response"
	}
	return "error"
}

func (e *Engine) unfinishedResult(runID string, j job, deadlineHit bool) models.ValidationResult {
	message := fmt.Sprintf("校验器 %s 在实体 %s 上未执行: 运行已取消", j.validator.Name(), j.entity.Name)
	reason := "cancelled"
	if deadlineHit {
		message = fmt.Sprintf("校验器 %s 在实体 %s 上超时或未开始", j.validator.Name(), j.entity.Name)
		reason = "timeout"
	}
	return models.ValidationResult{
		RunID:      runID,
		EntityType: j.entity.Name,
		Validator:  j.validator.Name(),
		Severity:   models.SeverityCritical,
		Message:    message,
		Metadata:   models.JSONB{"reason": reason},
	}
}
