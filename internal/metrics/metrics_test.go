package metrics

import (
	"testing"

	"landpub/internal/config"
	"landpub/internal/log"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExportMetricsObservable(t *testing.T) {
	m := NewExportMetrics(nil, &config.Config{PublishRate: 4, PageSize: 10}, log.NewLogger())

	m.RateBackoffs.Inc()
	m.RateBackoffs.Inc()
	if got := testutil.ToFloat64(m.RateBackoffs); got != 2 {
		t.Errorf("expected 2 backoffs, got %f", got)
	}

	m.PassDuration.Observe(0.5)
	if got := testutil.CollectAndCount(m.PassDuration); got != 1 {
		t.Errorf("expected 1 histogram series, got %d", got)
	}

	m.PublishTotal.WithLabelValues("vk", "success").Add(3)
	if got := testutil.ToFloat64(m.PublishTotal.WithLabelValues("vk", "success")); got != 3 {
		t.Errorf("expected 3 successes, got %f", got)
	}
}
