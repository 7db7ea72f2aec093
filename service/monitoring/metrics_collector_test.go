package monitoring

import (
	"testing"
	"time"

	"dataquality-service/service/models"
	"dataquality-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectRunStatistics(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()
	factory := testutil.NewTestDataFactory(tdb.DB)
	now := time.Now()

	completed := factory.CreateRun(testutil.WithStartedAt(now.Add(-2*time.Hour)), testutil.WithStatus(models.RunStatusCompleted))
	partial := factory.CreateRun(testutil.WithStartedAt(now.Add(-time.Hour)), testutil.WithStatus(models.RunStatusPartial))
	factory.CreateRun(testutil.WithStartedAt(now.Add(-30*time.Minute)), testutil.WithStatus(models.RunStatusFailed))
	factory.CreateRun()
	// 时间范围之外
	factory.CreateRun(testutil.WithStartedAt(now.Add(-48*time.Hour)), testutil.WithStatus(models.RunStatusCompleted))

	require.NoError(t, tdb.DB.Model(completed).Updates(map[string]interface{}{"warning_count": 2, "info_count": 1}).Error)
	require.NoError(t, tdb.DB.Model(partial).Updates(map[string]interface{}{"critical_count": 1, "timed_out": true}).Error)

	anomaly := factory.CreateHistory("rooms", 40, now.Add(-time.Hour))
	require.NoError(t, tdb.DB.Model(anomaly).Update("is_anomaly", true).Error)
	factory.CreateHistory("rooms", 90, now.Add(-2*time.Hour))

	stats, err := NewMetricsCollector(tdb.DB).CollectRunStatistics("24h")
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.TotalRuns)
	assert.Equal(t, int64(1), stats.RunningRuns)
	assert.Equal(t, int64(1), stats.CompletedRuns)
	assert.Equal(t, int64(1), stats.PartialRuns)
	assert.Equal(t, int64(1), stats.FailedRuns)
	assert.Equal(t, int64(1), stats.TimedOutRuns)
	assert.InDelta(t, 33.33, stats.SuccessRate, 0.01)
	assert.InDelta(t, 60, stats.AvgDurationSecs, 0.001)
	assert.Equal(t, int64(2), stats.SeverityTotals[models.SeverityWarning])
	assert.Equal(t, int64(1), stats.SeverityTotals[models.SeverityCritical])
	assert.Equal(t, int64(1), stats.AnomalyCount)
	assert.Equal(t, int64(4), stats.ModeBreakdown[models.RunModeFast])
}
