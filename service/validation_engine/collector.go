package validation_engine

import (
	"dataquality-service/service/models"
	"sync"
)

// collector 汇总各校验任务的输出，运行终结后拒绝迟到的写入
type collector struct {
	mu          sync.Mutex
	sealed      bool
	results     []models.ValidationResult
	metrics     map[string]models.ValidationMetric
	metricOrder []string
	finished    map[int]bool
	failed      int
	clean       int
	timedOut    int
}

func newCollector() *collector {
	return &collector{
		metrics:  make(map[string]models.ValidationMetric),
		finished: make(map[int]bool),
	}
}

// add 记录一个任务的输出，同一实体同一指标后写覆盖先写
func (c *collector) add(jobIndex int, out jobOutput) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return false
	}

	c.finished[jobIndex] = true
	c.results = append(c.results, out.results...)
	for _, m := range out.metrics {
		key := m.MetricKey()
		if _, exists := c.metrics[key]; !exists {
			c.metricOrder = append(c.metricOrder, key)
		}
		c.metrics[key] = m
	}
	switch {
	case out.timedOut:
		c.timedOut++
		c.failed++
	case out.failed:
		c.failed++
	case !hasIssues(out.results):
		c.clean++
	}
	return true
}

// seal 停止接收并返回快照
func (c *collector) seal() collected {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true

	metrics := make([]models.ValidationMetric, 0, len(c.metricOrder))
	for _, key := range c.metricOrder {
		metrics = append(metrics, c.metrics[key])
	}
	finished := make(map[int]bool, len(c.finished))
	for k, v := range c.finished {
		finished[k] = v
	}
	return collected{
		results:  append([]models.ValidationResult(nil), c.results...),
		metrics:  metrics,
		finished: finished,
		failed:   c.failed,
		clean:    c.clean,
		timedOut: c.timedOut,
	}
}

type collected struct {
	results  []models.ValidationResult
	metrics  []models.ValidationMetric
	finished map[int]bool
	failed   int
	clean    int
	timedOut int
}

func hasIssues(results []models.ValidationResult) bool {
	for _, r := range results {
		if r.Severity.Rank() >= models.SeverityWarning.Rank() {
			return true
		}
	}
	return false
}
