package data_quality

import (
	"context"
	"dataquality-service/client"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"errors"
)

type fakeLocal struct {
	records map[string][]models.Row
	err     error
}

func (f *fakeLocal) Count(ctx context.Context, entity *config.EntityConfig) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(f.records[entity.Name])), nil
}

func (f *fakeLocal) Records(ctx context.Context, entity *config.EntityConfig, fields []string) ([]models.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[entity.Name], nil
}

type fakeRemote struct {
	counts map[string]int64
	err    error
	calls  int
}

func (f *fakeRemote) Query(ctx context.Context, spec client.QuerySpec) ([]models.Row, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !spec.CountOnly {
		return nil, errors.New("only count queries are faked")
	}
	return []models.Row{{client.CountKey: f.counts[spec.Resource]}}, nil
}

// newContext 构造单实体校验上下文
func newContext(entity config.EntityConfig, local *fakeLocal, remote *fakeRemote, others ...config.EntityConfig) *ValidationContext {
	cfg := config.Default()
	cfg.Entities = append([]config.EntityConfig{entity}, others...)
	if remote == nil {
		remote = &fakeRemote{}
	}
	return &ValidationContext{
		Config: cfg,
		Entity: &cfg.Entities[0],
		Remote: remote,
		Local:  local,
		RunID:  "run-1",
		Mode:   models.RunModeFast,
	}
}

func metricValue(metrics []models.ValidationMetric, name string) (float64, bool) {
	for _, m := range metrics {
		if m.MetricName == name {
			return m.MetricValue, true
		}
	}
	return 0, false
}

func rowsWithNulls(total, nulls int, field string) []models.Row {
	rows := make([]models.Row, 0, total)
	for i := 0; i < total; i++ {
		row := models.Row{"id": i}
		if i < nulls {
			row[field] = nil
		} else {
			row[field] = "value"
		}
		rows = append(rows, row)
	}
	return rows
}
