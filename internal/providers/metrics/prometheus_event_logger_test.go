package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBeginEventCountsAndTimes(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	logger := NewPrometheusEventLogger(registry)

	end := logger.BeginEvent("get_host_secrets", "host")
	end()
	logger.BeginEvent("get_function_secrets", "function/fn")()

	if got := testutil.ToFloat64(logger.events.WithLabelValues("get_host_secrets", "host")); got != 1 {
		t.Fatalf("expected 1 host event, got %v", got)
	}
	if got := testutil.ToFloat64(logger.events.WithLabelValues("get_function_secrets", "function/fn")); got != 1 {
		t.Fatalf("expected 1 function event, got %v", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	foundHistogram := false
	for _, family := range families {
		if family.GetName() == "funcvault_secret_event_duration_seconds" {
			foundHistogram = true
		}
	}
	if !foundHistogram {
		t.Fatalf("expected duration histogram to be registered")
	}
}

func TestDiscardEventLogger(t *testing.T) {
	t.Parallel()

	DiscardEventLogger{}.BeginEvent("noop", "host")()
}
