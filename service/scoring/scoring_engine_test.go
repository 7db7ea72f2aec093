/*
 * @module service/scoring/scoring_engine_test
 * @description 评分引擎测试
 * @architecture 测试层 - SQLite内存库集成测试
 * @documentReference ai_docs/test_plan.md
 * @stateFlow 写入运行与指标 -> 评分 -> 校验历史与告警
 * @rules 覆盖幂等、异常检测、按实体独立评分
 * @dependencies testing, testify, dataquality-service/testutil
 * @refs scoring_engine.go
 */

package scoring

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/database"
	"dataquality-service/service/event"
	"dataquality-service/service/models"
	"dataquality-service/testutil"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []*event.AnomalyAlert
}

func (p *recordingPublisher) Publish(ctx context.Context, alert *event.AnomalyAlert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// ScoringEngineTestSuite 评分引擎测试套件
type ScoringEngineTestSuite struct {
	suite.Suite
	testDB    *testutil.TestDB
	factory   *testutil.TestDataFactory
	store     *database.RunStore
	publisher *recordingPublisher
	engine    *ScoringEngine
	base      time.Time
	ctx       context.Context
}

// SetupTest 每个测试使用独立的内存库
func (suite *ScoringEngineTestSuite) SetupTest() {
	suite.testDB = testutil.NewTestDB()
	suite.factory = testutil.NewTestDataFactory(suite.testDB.DB)
	suite.store = database.NewRunStore(suite.testDB.DB)
	suite.publisher = &recordingPublisher{}
	suite.base = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	suite.ctx = context.Background()

	engine, err := NewScoringEngine(config.NewManagerWithConfig("", config.Default()), suite.store, suite.publisher)
	suite.Require().NoError(err)
	engine.now = func() time.Time { return suite.base.Add(24 * time.Hour) }
	suite.engine = engine
}

// TearDownTest 关闭数据库
func (suite *ScoringEngineTestSuite) TearDownTest() {
	suite.testDB.Close()
}

func (suite *ScoringEngineTestSuite) completedRun(metrics map[string]map[string]float64) *models.ValidationRun {
	run := suite.factory.CreateRun(testutil.WithStatus(models.RunStatusCompleted))
	for entity, values := range metrics {
		for name, value := range values {
			suite.Require().NoError(suite.testDB.DB.Create(&models.ValidationMetric{
				RunID: run.ID, EntityType: entity, MetricName: name, MetricValue: value,
			}).Error)
		}
	}
	return run
}

func (suite *ScoringEngineTestSuite) TestScoreRun_IsIdempotent() {
	run := suite.completedRun(map[string]map[string]float64{
		"orders": {
			"business_rule_compliance": 80,
			"count_match_pct":          100,
			"field_completeness":       90,
			"data_type_accuracy":       95,
			"relationship_integrity":   100,
		},
	})

	first, err := suite.engine.ScoreRun(suite.ctx, run.ID)
	suite.Require().NoError(err)
	suite.Require().Len(first, 1)
	suite.Equal(92.25, first[0].Score)
	suite.Equal(80.0, first[0].CategoryScores["business_rules"])

	second, err := suite.engine.ScoreRun(suite.ctx, run.ID)
	suite.Require().NoError(err)
	suite.Require().Len(second, 1)
	suite.Equal(first[0].ID, second[0].ID)
	suite.Equal(first[0].Score, second[0].Score)

	var count int64
	suite.testDB.DB.Model(&models.ValidationHistory{}).Count(&count)
	suite.EqualValues(1, count)
	suite.Empty(suite.publisher.alerts)
}

func (suite *ScoringEngineTestSuite) TestScoreRun_DetectsDeviationFromRollingWindow() {
	for i, score := range []float64{90, 91, 89, 90, 90} {
		suite.factory.CreateHistory("orders", score, suite.base.Add(time.Duration(i)*time.Hour))
	}
	run := suite.completedRun(map[string]map[string]float64{"orders": {"business_rule_compliance": 70}})

	histories, err := suite.engine.ScoreRun(suite.ctx, run.ID)
	suite.Require().NoError(err)
	suite.Require().Len(histories, 1)

	h := histories[0]
	suite.True(h.IsAnomaly)
	suite.Equal(5, h.WindowSize)
	suite.Equal(90.0, h.RollingAverage)
	suite.Less(h.Deviation, -2.0)

	suite.Require().Len(suite.publisher.alerts, 1)
	suite.Equal("orders", suite.publisher.alerts[0].EntityType)
	suite.Equal(run.ID, suite.publisher.alerts[0].RunID)

	// 重复评分不重复告警
	_, err = suite.engine.ScoreRun(suite.ctx, run.ID)
	suite.Require().NoError(err)
	suite.Len(suite.publisher.alerts, 1)
}

func (suite *ScoringEngineTestSuite) TestScoreRun_FloorWithoutHistory() {
	run := suite.completedRun(map[string]map[string]float64{"orders": {"field_completeness": 50}})

	histories, err := suite.engine.ScoreRun(suite.ctx, run.ID)
	suite.Require().NoError(err)
	suite.Require().Len(histories, 1)
	suite.True(histories[0].IsAnomaly)
	suite.Equal(0, histories[0].WindowSize)
	suite.Contains(histories[0].AnomalyReason, "下限")
}

// 业务规则合规率按实体各自计算，评分不能串用
func (suite *ScoringEngineTestSuite) TestScoreRun_ScoresEachEntityFromItsOwnMetrics() {
	run := suite.completedRun(map[string]map[string]float64{
		"buildings": {"business_rule_compliance": 75},
		"rooms":     {"business_rule_compliance": 50},
	})

	histories, err := suite.engine.ScoreRun(suite.ctx, run.ID)
	suite.Require().NoError(err)
	suite.Require().Len(histories, 2)
	suite.Equal("buildings", histories[0].EntityType)
	suite.Equal(75.0, histories[0].Score)
	suite.Equal("rooms", histories[1].EntityType)
	suite.Equal(50.0, histories[1].Score)

	scores, err := suite.engine.RunScores(suite.ctx, run.ID)
	suite.Require().NoError(err)
	suite.Require().Len(scores, 2)
	suite.NotEqual(scores[0].Score, scores[1].Score)
}

func (suite *ScoringEngineTestSuite) TestScoreRun_RejectsUnfinishedRun() {
	run := suite.factory.CreateRun()
	_, err := suite.engine.ScoreRun(suite.ctx, run.ID)
	suite.ErrorIs(err, ErrRunNotScorable)

	_, err = suite.engine.ScoreRun(suite.ctx, "missing")
	suite.ErrorIs(err, database.ErrRunNotFound)
}

func (suite *ScoringEngineTestSuite) TestEntityQuality_ReportsTrend() {
	suite.factory.CreateHistory("orders", 80, suite.base)
	suite.factory.CreateHistory("orders", 90, suite.base.Add(time.Hour))

	quality, err := suite.engine.EntityQuality(suite.ctx, "orders")
	suite.Require().NoError(err)
	suite.Equal(90.0, quality.Latest.Score)
	suite.Require().NotNil(quality.Trend)
	suite.Equal(Up, quality.Trend.Direction)
	suite.Equal(10.0, quality.Trend.DeltaScore)

	_, err = suite.engine.EntityQuality(suite.ctx, "ghosts")
	suite.ErrorIs(err, database.ErrHistoryNotFound)
}

func TestScoringEngine(t *testing.T) {
	suite.Run(t, new(ScoringEngineTestSuite))
}

func TestNewScoringEngine_RejectsInvalidWeights(t *testing.T) {
	cfg := config.Default()
	cfg.Scoring.Weights = map[string]float64{
		config.CategoryBusinessRules:     25,
		config.CategoryCountValidation:   20,
		config.CategoryFieldCompleteness: 20,
		config.CategoryDataTypes:         15,
		config.CategoryRelationships:     10,
	}

	_, err := NewScoringEngine(config.NewManagerWithConfig("", cfg), nil, nil)
	assert.Error(t, err)
}
