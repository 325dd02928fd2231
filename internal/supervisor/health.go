package supervisor

import (
	"time"

	"github.com/sshfleet/sshfleet/internal/domain"
)

// healthEvaluator watches consecutive metric samples against the CPU and
// GPU floor rules configured for a host and reports when a force restart
// is warranted: usage has stayed below a rule's threshold for at least its
// configured duration.
type healthEvaluator struct {
	cfg domain.HealthCheck

	cpuBelowSince *time.Time
	gpuBelowSince *time.Time
}

func newHealthEvaluator(cfg domain.HealthCheck) *healthEvaluator {
	return &healthEvaluator{cfg: cfg}
}

// observe records one sample and reports whether a rule has now tripped.
// When a previously-below-threshold metric recovers, the evaluator simply
// clears its tracking; the recovery is not reported to the caller and is
// not logged.
func (h *healthEvaluator) observe(sample domain.Sample, now time.Time) (reason string, trigger bool) {
	if !h.cfg.Enabled {
		return "", false
	}

	if h.cfg.CPU.Enabled && sample.CPUPct != nil {
		if reason, trigger := evaluateRule(&h.cpuBelowSince, *sample.CPUPct, h.cfg.CPU, now, "CPU"); trigger {
			return reason, true
		}
	}
	if h.cfg.GPU.Enabled && sample.GPUUtilPct != nil {
		if reason, trigger := evaluateRule(&h.gpuBelowSince, *sample.GPUUtilPct, h.cfg.GPU, now, "GPU"); trigger {
			return reason, true
		}
	}
	return "", false
}

func evaluateRule(belowSince **time.Time, value float64, rule domain.HealthCheckRule, now time.Time, label string) (string, bool) {
	if value >= rule.ThresholdPct {
		*belowSince = nil
		return "", false
	}

	if *belowSince == nil {
		t := now
		*belowSince = &t
		return "", false
	}

	if now.Sub(**belowSince) >= time.Duration(rule.DurationS)*time.Second {
		*belowSince = nil
		return "Health check: " + label + " usage too low", true
	}
	return "", false
}
