package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ortaieb/image-checker/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is implemented by the admission pipeline.
type StatsSource interface {
	Stats(ctx context.Context) domain.QueueStats
}

type queueCollector struct {
	src    StatsSource
	logger *slog.Logger

	depthDesc    *prometheus.Desc
	capacityDesc *prometheus.Desc
	workersDesc  *prometheus.Desc
	recordsDesc  *prometheus.Desc
}

func newQueueCollector(src StatsSource, logger *slog.Logger) *queueCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &queueCollector{
		src:    src,
		logger: logger,
		depthDesc: prometheus.NewDesc(
			namespace+"_queue_depth",
			"Requests waiting in the admission queue.",
			nil, nil,
		),
		capacityDesc: prometheus.NewDesc(
			namespace+"_queue_capacity",
			"Configured admission queue capacity.",
			nil, nil,
		),
		workersDesc: prometheus.NewDesc(
			namespace+"_workers",
			"Number of workers consuming the admission queue.",
			nil, nil,
		),
		recordsDesc: prometheus.NewDesc(
			namespace+"_records",
			"Processing records held in the status store by state.",
			[]string{"state"}, nil,
		),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depthDesc
	ch <- c.capacityDesc
	ch <- c.workersDesc
	ch <- c.recordsDesc
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	if c.src == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s := c.src.Stats(ctx)
	emitGauge(ch, c.depthDesc, float64(s.Depth))
	emitGauge(ch, c.capacityDesc, float64(s.Capacity))
	emitGauge(ch, c.workersDesc, float64(s.Workers))
	emitGauge(ch, c.recordsDesc, float64(s.Accepted), string(domain.StateAccepted))
	emitGauge(ch, c.recordsDesc, float64(s.InProgress), string(domain.StateInProgress))
	emitGauge(ch, c.recordsDesc, float64(s.Completed), string(domain.StateCompleted))
	emitGauge(ch, c.recordsDesc, float64(s.Failed), string(domain.StateFailed))
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerQueueCollectorOnce sync.Once

func RegisterQueueCollector(src StatsSource, logger *slog.Logger) {
	registerQueueCollectorOnce.Do(func() {
		c := newQueueCollector(src, logger)
		if err := prometheus.Register(c); err != nil {
			c.logger.Warn("queue collector registration failed", "err", err)
		}
	})
}
