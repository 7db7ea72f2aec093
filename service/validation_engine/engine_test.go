/*
 * @module service/validation_engine/engine_test
 * @description 校验编排引擎测试
 * @architecture 测试层 - SQLite内存库 + 伪远端
 * @documentReference ai_docs/test_plan.md
 * @stateFlow 构造配置与本地表 -> 执行运行 -> 校验摘要与持久化状态
 * @rules 覆盖部分失败、截止时间、持久化失败、并发上限与范围解析
 * @dependencies testing, testify, dataquality-service/testutil
 * @refs engine.go, collector.go
 */

package validation_engine

import (
	"context"
	"dataquality-service/client"
	"dataquality-service/service/config"
	"dataquality-service/service/data_quality"
	"dataquality-service/service/database"
	"dataquality-service/service/models"
	"dataquality-service/service/scoring"
	"dataquality-service/testutil"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeRemote struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (f *fakeRemote) Query(ctx context.Context, spec client.QuerySpec) ([]models.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !spec.CountOnly {
		return nil, errors.New("only count queries are faked")
	}
	return []models.Row{{client.CountKey: f.counts[spec.Resource]}}, nil
}

type funcValidator struct {
	name string
	fn   func(ctx context.Context, vc *data_quality.ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error)
}

func (v funcValidator) Name() string { return v.name }

func (v funcValidator) Validate(ctx context.Context, vc *data_quality.ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
	return v.fn(ctx, vc)
}

// EngineTestSuite 校验引擎测试套件
type EngineTestSuite struct {
	suite.Suite
	testDB *testutil.TestDB
	store  *database.RunStore
	remote *fakeRemote
	cfg    *config.EngineConfig
	ctx    context.Context
}

// SetupTest 准备 200 条客户记录，其中 20 条缺少 email
func (suite *EngineTestSuite) SetupTest() {
	suite.testDB = testutil.NewTestDB()
	suite.store = database.NewRunStore(suite.testDB.DB)
	suite.remote = &fakeRemote{counts: map[string]int64{"customers": 200}}
	suite.ctx = context.Background()

	rows := make([]models.Row, 0, 200)
	for i := 1; i <= 200; i++ {
		row := models.Row{"id": i, "email": "user@example.com"}
		if i <= 20 {
			row["email"] = nil
		}
		rows = append(rows, row)
	}
	testutil.NewTestDataFactory(suite.testDB.DB).CreateEntityTable("customers", []string{"id", "email"}, rows)

	suite.cfg = config.Default()
	suite.cfg.Entities = []config.EntityConfig{{
		Name:                    "customers",
		LocalTable:              "customers",
		RemoteResource:          "customers",
		KeyField:                "id",
		Validators:              []string{data_quality.CountValidatorName, data_quality.CompletenessValidatorName},
		CountTolerancePct:       1,
		CountErrorMultiplier:    2,
		CompletenessThreshold:   95,
		CompletenessWarningBand: 10,
		RequiredFields:          []string{"email"},
	}}
}

// TearDownTest 关闭数据库
func (suite *EngineTestSuite) TearDownTest() {
	suite.testDB.Close()
}

func (suite *EngineTestSuite) newEngine(registry *data_quality.Registry) *Engine {
	if registry == nil {
		registry = data_quality.NewDefaultRegistry()
	}
	return NewEngine(config.NewManagerWithConfig("", suite.cfg), registry, suite.remote, database.NewLocalStore(suite.testDB.DB), suite.store)
}

func (suite *EngineTestSuite) TestFastRun_CompletesWithCompletenessWarning() {
	engine := suite.newEngine(nil)
	scorer, err := scoring.NewScoringEngine(config.NewManagerWithConfig("", suite.cfg), suite.store, nil)
	suite.Require().NoError(err)
	engine.SetScorer(scorer)

	summary, err := engine.RunValidation(suite.ctx, RunRequest{Mode: models.RunModeFast, TriggeredBy: "test"})
	suite.Require().NoError(err)

	suite.Equal(models.RunStatusCompleted, summary.Status)
	suite.Equal(models.OutcomeIssuesFound, summary.Outcome)
	suite.Equal(1, summary.SeverityCounts[models.SeverityWarning])
	suite.Equal(0, summary.SeverityCounts[models.SeverityCritical])
	suite.Equal(2, summary.ValidatorsRun)
	suite.Zero(summary.ValidatorsFailed)
	// 数量匹配100与完整度90按同等权重归一化后为95
	suite.Equal(map[string]float64{"customers": 95}, summary.Scores)

	run, err := suite.store.GetRun(suite.ctx, summary.RunID)
	suite.Require().NoError(err)
	suite.Equal(models.RunStatusCompleted, run.Status)
	suite.NotNil(run.CompletedAt)
	suite.Equal(1, run.PassedCount)

	metrics, err := suite.store.ListMetrics(suite.ctx, summary.RunID, "customers")
	suite.Require().NoError(err)
	values := map[string]float64{}
	for _, m := range metrics {
		values[m.MetricName] = m.MetricValue
	}
	suite.Equal(90.0, values[data_quality.MetricFieldCompleteness])
	suite.Equal(100.0, values[data_quality.MetricCountMatchPct])
	suite.Equal(200.0, values[data_quality.MetricLocalCount])

	history, err := suite.store.GetHistory(suite.ctx, summary.RunID, "customers")
	suite.Require().NoError(err)
	suite.Equal(95.0, history.Score)
	suite.Equal(100.0, history.CategoryScores[config.CategoryCountValidation])
	suite.Equal(90.0, history.CategoryScores[config.CategoryFieldCompleteness])
	suite.NotContains(history.CategoryScores, config.CategoryBusinessRules)
}

func (suite *EngineTestSuite) TestPartialFailure_PanicBecomesCriticalResult() {
	registry := data_quality.NewRegistry()
	suite.Require().NoError(registry.Register(data_quality.NewCountValidator()))
	suite.Require().NoError(registry.Register(data_quality.NewCompletenessValidator()))
	suite.Require().NoError(registry.Register(funcValidator{
		name: data_quality.RelationshipValidatorName,
		fn: func(ctx context.Context, vc *data_quality.ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
			var parents map[string]string
			parents["x"] = "y"
			return nil, nil, nil
		},
	}))
	suite.cfg.Entities[0].Validators = nil

	summary, err := suite.newEngine(registry).RunValidation(suite.ctx, RunRequest{Mode: models.RunModeFast})
	suite.Require().NoError(err)

	suite.Equal(models.RunStatusPartial, summary.Status)
	suite.Equal(models.OutcomeChecksIncomplete, summary.Outcome)
	suite.Equal(1, summary.ValidatorsFailed)
	suite.Equal(1, summary.SeverityCounts[models.SeverityCritical])
	suite.Equal(1, summary.SeverityCounts[models.SeverityWarning])

	results, _, err := suite.store.ListResults(suite.ctx, summary.RunID, database.ResultQuery{Severity: "critical"})
	suite.Require().NoError(err)
	suite.Require().Len(results, 1)
	suite.Equal(data_quality.RelationshipValidatorName, results[0].Validator)
	suite.Equal("panic", results[0].Metadata["reason"])

	metrics, err := suite.store.ListMetrics(suite.ctx, summary.RunID, "")
	suite.Require().NoError(err)
	suite.NotEmpty(metrics)
}

func (suite *EngineTestSuite) TestPersistenceFailure_MarksRunFailed() {
	suite.Require().NoError(suite.testDB.DB.Migrator().DropTable(&models.ValidationMetric{}))

	summary, err := suite.newEngine(nil).RunValidation(suite.ctx, RunRequest{Mode: models.RunModeFast})

	var persistErr *database.PersistenceError
	suite.Require().True(errors.As(err, &persistErr))
	suite.Require().NotNil(summary)
	suite.Equal(models.RunStatusFailed, summary.Status)
	suite.Equal(models.OutcomeRunFailed, summary.Outcome)

	run, err := suite.store.GetRun(suite.ctx, summary.RunID)
	suite.Require().NoError(err)
	suite.Equal(models.RunStatusFailed, run.Status)
	suite.NotEmpty(run.ErrorMessage)

	var results int64
	suite.testDB.DB.Model(&models.ValidationResult{}).Where("run_id = ?", summary.RunID).Count(&results)
	suite.Zero(results)
}

func (suite *EngineTestSuite) TestDeadline_WaitsForInFlightAndReportsUnstarted() {
	registry := data_quality.NewRegistry()
	suite.Require().NoError(registry.Register(funcValidator{
		name: "slow_check",
		fn: func(ctx context.Context, vc *data_quality.ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		},
	}))
	suite.Require().NoError(registry.Register(data_quality.NewCountValidator()))
	suite.cfg.Entities[0].Validators = nil
	suite.cfg.Engine.SlowTimeout = 50 * time.Millisecond

	summary, err := suite.newEngine(registry).RunValidation(suite.ctx, RunRequest{Mode: models.RunModeSlow})
	suite.Require().NoError(err)

	suite.Equal(models.RunStatusPartial, summary.Status)
	suite.True(summary.TimedOut)
	suite.Equal(2, summary.ValidatorsFailed)
	suite.Equal(2, summary.SeverityCounts[models.SeverityCritical])

	results, _, err := suite.store.ListResults(suite.ctx, summary.RunID, database.ResultQuery{})
	suite.Require().NoError(err)
	for _, r := range results {
		suite.Equal("timeout", r.Metadata["reason"])
	}
}

func (suite *EngineTestSuite) TestDeadline_AbandonStopsWaiting() {
	release := make(chan struct{})
	defer close(release)

	registry := data_quality.NewRegistry()
	suite.Require().NoError(registry.Register(funcValidator{
		name: "stuck_check",
		fn: func(ctx context.Context, vc *data_quality.ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
			<-release
			return nil, nil, nil
		},
	}))
	suite.cfg.Entities[0].Validators = nil
	suite.cfg.Engine.FastTimeout = 50 * time.Millisecond
	suite.cfg.Engine.AbandonOnTimeout = true

	start := time.Now()
	summary, err := suite.newEngine(registry).RunValidation(suite.ctx, RunRequest{Mode: models.RunModeFast})
	suite.Require().NoError(err)

	suite.Less(time.Since(start), 5*time.Second)
	suite.Equal(models.RunStatusPartial, summary.Status)
	suite.True(summary.TimedOut)
	suite.Equal(0, summary.ValidatorsRun)
	suite.Equal(1, summary.SeverityCounts[models.SeverityCritical])
}

func (suite *EngineTestSuite) TestWorkerPool_BoundsConcurrency() {
	var active, peak atomic.Int32
	probe := func(ctx context.Context, vc *data_quality.ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil, nil, nil
	}

	registry := data_quality.NewRegistry()
	for _, name := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
		suite.Require().NoError(registry.Register(funcValidator{name: name, fn: probe}))
	}
	suite.cfg.Entities[0].Validators = nil
	suite.cfg.Engine.WorkerPoolSize = 2
	engine := suite.newEngine(registry)

	summary, err := engine.RunValidation(suite.ctx, RunRequest{Mode: models.RunModeFast})
	suite.Require().NoError(err)
	suite.Equal(models.RunStatusCompleted, summary.Status)
	suite.Equal(6, summary.ValidatorsRun)
	suite.LessOrEqual(peak.Load(), int32(2))

	peak.Store(0)
	_, err = engine.RunValidation(suite.ctx, RunRequest{Mode: models.RunModeSlow})
	suite.Require().NoError(err)
	suite.Equal(int32(1), peak.Load())
}

func (suite *EngineTestSuite) TestDuplicateMetricsAreMerged() {
	emit := func(value float64) func(ctx context.Context, vc *data_quality.ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
		return func(ctx context.Context, vc *data_quality.ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
			return nil, []models.ValidationMetric{vc.NewMetric("probe", "shared_metric", value)}, nil
		}
	}
	registry := data_quality.NewRegistry()
	suite.Require().NoError(registry.Register(funcValidator{name: "first", fn: emit(1)}))
	suite.Require().NoError(registry.Register(funcValidator{name: "second", fn: emit(2)}))
	suite.cfg.Entities[0].Validators = nil

	summary, err := suite.newEngine(registry).RunValidation(suite.ctx, RunRequest{Mode: models.RunModeSlow})
	suite.Require().NoError(err)

	metrics, err := suite.store.ListMetrics(suite.ctx, summary.RunID, "customers")
	suite.Require().NoError(err)
	suite.Require().Len(metrics, 1)
	suite.Equal(2.0, metrics[0].MetricValue)
}

func (suite *EngineTestSuite) TestRequestErrors_DoNotCreateRuns() {
	engine := suite.newEngine(nil)

	_, err := engine.RunValidation(suite.ctx, RunRequest{Mode: models.RunModeFast, EntityFilter: []string{"ghosts"}})
	suite.ErrorIs(err, ErrUnknownEntity)

	_, err = engine.RunValidation(suite.ctx, RunRequest{Mode: "weekly"})
	suite.ErrorIs(err, ErrInvalidMode)

	_, total, err := suite.store.ListRuns(suite.ctx, database.RunQuery{})
	suite.Require().NoError(err)
	suite.Zero(total)
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestResolveEntities_KeepsConfiguredOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Entities = []config.EntityConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	entities, err := resolveEntities(cfg, []string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "a", entities[0].Name)
	assert.Equal(t, "c", entities[1].Name)

	all, err := resolveEntities(cfg, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
