package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/digidex/digidex-crawler/internal/progress"
)

// PrometheusSink exports crawl progress metrics. It owns all collectors for
// run lifecycle and per-item outcomes.
type PrometheusSink struct {
	runsStarted     prometheus.Counter
	runsCompleted   *prometheus.CounterVec
	itemsProcessed  *prometheus.CounterVec
	itemDuration    prometheus.Histogram
	progressPercent prometheus.Gauge
	entitiesTotal   prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digidex_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digidex_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "digidex_items_processed_total",
			Help: "Entities attempted partitioned by outcome.",
		}, []string{"outcome"}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "digidex_item_duration_seconds",
			Help:    "Wall time per processed entity.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		progressPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "digidex_run_progress_percent",
			Help: "Progress of the current crawl run as an integer percentage.",
		}),
		entitiesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "digidex_run_entities_total",
			Help: "Deduplicated candidate count of the current crawl run.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.itemsProcessed,
		s.itemDuration,
		s.progressPercent,
		s.entitiesTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.progressPercent.Set(0)
		s.entitiesTotal.Set(0)
	case progress.StageRunDiscovered:
		s.entitiesTotal.Set(float64(evt.Total))
	case progress.StageItemDone:
		s.itemsProcessed.WithLabelValues(evt.Outcome).Inc()
		s.progressPercent.Set(float64(evt.Percent()))
		if evt.Dur > 0 {
			s.itemDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
