package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"dataquality-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	tdb := testutil.NewTestDB()
	defer tdb.Close()

	checker := NewHealthChecker(time.Second)
	checker.Register("database", true, DatabaseCheck(tdb.DB))
	checker.Register("remote", false, StatsCheck(func() map[string]interface{} {
		return map[string]interface{}{"request_count": 3}
	}))

	status := checker.CheckOverallHealth(context.Background())
	assert.Equal(t, StatusHealthy, status.Overall)
	require.Contains(t, status.Components, "database")
	assert.Equal(t, StatusHealthy, status.Components["database"].Status)
	assert.Equal(t, 3, status.Components["remote"].Metrics["request_count"])
	assert.Empty(t, status.Issues)
}

func TestHealthChecker_OptionalFailureIsWarning(t *testing.T) {
	checker := NewHealthChecker(time.Second)
	checker.Register("database", true, func(ctx context.Context) (map[string]interface{}, error) { return nil, nil })
	checker.Register("redis", false, func(ctx context.Context) (map[string]interface{}, error) {
		return nil, errors.New("connection refused")
	})

	status := checker.CheckOverallHealth(context.Background())
	assert.Equal(t, StatusWarning, status.Overall)
	assert.Equal(t, []string{"redis: connection refused"}, status.Issues)
}

func TestHealthChecker_RequiredFailureIsCritical(t *testing.T) {
	checker := NewHealthChecker(10 * time.Millisecond)
	checker.Register("redis", false, func(ctx context.Context) (map[string]interface{}, error) {
		return nil, errors.New("down")
	})
	checker.Register("database", true, func(ctx context.Context) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	status := checker.CheckOverallHealth(context.Background())
	assert.Equal(t, StatusCritical, status.Overall)
	assert.Equal(t, StatusCritical, status.Components["database"].Status)
	assert.Len(t, status.Issues, 2)
}
