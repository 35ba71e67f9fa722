package cleanup

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	zerr "zotregistry.dev/tagprune/errors"
)

const (
	metricsNamespace = "tagprune"
	pushJobName      = "tagprune"
)

// Metrics are kept in a private registry and only leave the process through Push.
type Metrics struct {
	registry     *prometheus.Registry
	selected     *prometheus.CounterVec
	deleted      *prometheus.CounterVec
	deleteErrors *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	lastRun      prometheus.Gauge
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		selected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tags_selected_total",
				Help:      "Total number of tags selected for deletion",
			},
			[]string{"policy", "repository"},
		),
		deleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tags_deleted_total",
				Help:      "Total number of tags deleted from the registry",
			},
			[]string{"policy", "repository"},
		),
		deleteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tag_delete_errors_total",
				Help:      "Total number of tags which could not be deleted",
			},
			[]string{"policy", "repository"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "repositories_skipped_total",
				Help:      "Total number of repositories skipped by IgnoreRepos rules",
			},
			[]string{"policy"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Time the last cleanup run finished",
			},
		),
	}

	metrics.registry.MustRegister(metrics.selected, metrics.deleted, metrics.deleteErrors, metrics.skipped,
		metrics.lastRun)

	return metrics
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends the current values to the Pushgateway at url.
func (m *Metrics) Push(ctx context.Context, url string) error {
	if err := push.New(url, pushJobName).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", zerr.ErrMetricsPush, url, err)
	}

	return nil
}
