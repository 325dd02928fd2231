package supervisor

import (
	"testing"
	"time"

	"github.com/sshfleet/sshfleet/internal/domain"
)

func TestHealthEvaluatorTriggersAfterDuration(t *testing.T) {
	cfg := domain.HealthCheck{
		Enabled: true,
		CPU:     domain.HealthCheckRule{Enabled: true, ThresholdPct: 50, DurationS: 2},
	}
	h := newHealthEvaluator(cfg)
	base := time.Unix(1000, 0)

	samples := []struct {
		offset time.Duration
		cpu    float64
	}{
		{0, 20},
		{1 * time.Second, 25},
		{2 * time.Second, 30},
	}

	var lastTrigger bool
	for _, s := range samples {
		_, trigger := h.observe(domain.Sample{CPUPct: domain.F64Ptr(s.cpu)}, base.Add(s.offset))
		lastTrigger = trigger
	}
	if !lastTrigger {
		t.Fatal("expected health check to trigger by the third sample")
	}
}

func TestHealthEvaluatorRecoversAboveThreshold(t *testing.T) {
	cfg := domain.HealthCheck{
		Enabled: true,
		CPU:     domain.HealthCheckRule{Enabled: true, ThresholdPct: 50, DurationS: 2},
	}
	h := newHealthEvaluator(cfg)
	base := time.Unix(1000, 0)

	h.observe(domain.Sample{CPUPct: domain.F64Ptr(20)}, base)
	h.observe(domain.Sample{CPUPct: domain.F64Ptr(90)}, base.Add(time.Second))
	_, trigger := h.observe(domain.Sample{CPUPct: domain.F64Ptr(20)}, base.Add(3*time.Second))
	if trigger {
		t.Fatal("recovery above threshold should reset the below-since timer")
	}
}

func TestHealthEvaluatorDisabledNeverTriggers(t *testing.T) {
	h := newHealthEvaluator(domain.HealthCheck{Enabled: false})
	_, trigger := h.observe(domain.Sample{CPUPct: domain.F64Ptr(0)}, time.Now())
	if trigger {
		t.Fatal("disabled health check must never trigger")
	}
}

func TestHealthEvaluatorIgnoresNilSample(t *testing.T) {
	cfg := domain.HealthCheck{Enabled: true, CPU: domain.HealthCheckRule{Enabled: true, ThresholdPct: 50, DurationS: 1}}
	h := newHealthEvaluator(cfg)
	_, trigger := h.observe(domain.Sample{CPUPct: nil}, time.Now())
	if trigger {
		t.Fatal("a sample missing the metric must not count toward the below-threshold window")
	}
}
