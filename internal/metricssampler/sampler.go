// Package metricssampler reads CPU, RAM, and GPU usage from a remote host
// over an already-open command runner and converts the raw text into a
// domain.Sample. CPU needs a previous reading to compute a delta, so the
// Sampler keeps that single piece of state per host; everything else is a
// pure parse of one command's output.
package metricssampler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sshfleet/sshfleet/internal/domain"
	"github.com/sshfleet/sshfleet/internal/sshsession"
)

// Runner executes a short bounded remote command and reports its output.
type Runner interface {
	RunShort(ctx context.Context, command string) (sshsession.RunResult, error)
}

const (
	cpuStatCmd  = "cat /proc/stat"
	memInfoCmd  = "cat /proc/meminfo"
	nvidiaSMICmd = "nvidia-smi --query-gpu=utilization.gpu,memory.used,memory.total --format=csv,noheader,nounits"
)

// cpuBaseline is the previous (total, idle) jiffy reading for one host.
type cpuBaseline struct {
	total uint64
	idle  uint64
	valid bool
}

// Sampler collects one Sample per tick per host. It is not safe for
// concurrent use by multiple goroutines against the same host name; a
// Supervisor calls it serially from its own control loop.
type Sampler struct {
	baselines map[string]*cpuBaseline
}

// New returns a Sampler with no prior CPU baselines.
func New() *Sampler {
	return &Sampler{baselines: make(map[string]*cpuBaseline)}
}

// ResetBaseline discards the stored CPU baseline for hostName, forcing the
// next sample to report cpu_pct = none. Callers reset this on every
// (re)connect and every process (re)start, since a jiffy delta computed
// across a restart would be meaningless.
func (s *Sampler) ResetBaseline(hostName string) {
	delete(s.baselines, hostName)
}

// Sample collects CPU, RAM, and GPU readings for hostName over r. Any
// metric that cannot be obtained is reported as nil; a sample with every
// field nil is still returned, never an error — metric collection failures
// are never fatal to the caller's lifecycle.
func (s *Sampler) Sample(ctx context.Context, r Runner, hostName string) domain.Sample {
	sample := domain.Sample{
		HostName:   hostName,
		TimestampS: time.Now().Unix(),
	}

	if cpuPct, ok := s.sampleCPU(ctx, r, hostName); ok {
		sample.CPUPct = domain.F64Ptr(cpuPct)
	}

	if usedMB, totalMB, ok := sampleRAM(ctx, r); ok {
		sample.RAMUsedMB = domain.F64Ptr(usedMB)
		sample.RAMTotalMB = domain.F64Ptr(totalMB)
	}

	if util, memUsed, memTotal, ok := sampleGPU(ctx, r); ok {
		sample.GPUUtilPct = domain.F64Ptr(util)
		sample.GPUMemUsedMB = domain.F64Ptr(memUsed)
		sample.GPUMemTotalMB = domain.F64Ptr(memTotal)
	}

	return sample
}

func (s *Sampler) sampleCPU(ctx context.Context, r Runner, hostName string) (float64, bool) {
	res, err := r.RunShort(ctx, cpuStatCmd)
	if err != nil || !res.ExitOK {
		return 0, false
	}

	total, idle, ok := parseProcStatCPU(res.Stdout)
	if !ok {
		return 0, false
	}

	prev, have := s.baselines[hostName]
	s.baselines[hostName] = &cpuBaseline{total: total, idle: idle, valid: true}
	if !have || !prev.valid {
		return 0, false
	}

	deltaTotal := total - prev.total
	deltaIdle := idle - prev.idle
	if total < prev.total || deltaTotal == 0 {
		return 0, false
	}

	pct := 100 * (1 - float64(deltaIdle)/float64(deltaTotal))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// parseProcStatCPU parses the aggregate "cpu  ..." line of /proc/stat.
// Fields are: user nice system idle iowait irq softirq steal guest
// guest_nice. idle+iowait (fields 4,5, 1-indexed) is the idle share; the
// sum of all fields is the total.
func parseProcStatCPU(procStat string) (total, idle uint64, ok bool) {
	for _, line := range strings.Split(procStat, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 || fields[0] != "cpu" {
			continue
		}
		vals := make([]uint64, 0, len(fields)-1)
		for _, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return 0, 0, false
			}
			vals = append(vals, v)
		}
		for _, v := range vals {
			total += v
		}
		idle = vals[3] + vals[4]
		return total, idle, true
	}
	return 0, 0, false
}

func sampleRAM(ctx context.Context, r Runner) (usedMB, totalMB float64, ok bool) {
	res, err := r.RunShort(ctx, memInfoCmd)
	if err != nil || !res.ExitOK {
		return 0, 0, false
	}

	var memTotalKB, memAvailableKB float64
	var haveTotal, haveAvail bool

	for _, line := range strings.Split(res.Stdout, "\n") {
		if v, ok := parseMeminfoLine(line, "MemTotal:"); ok {
			memTotalKB = v
			haveTotal = true
		} else if v, ok := parseMeminfoLine(line, "MemAvailable:"); ok {
			memAvailableKB = v
			haveAvail = true
		}
	}
	if !haveTotal || !haveAvail {
		return 0, 0, false
	}

	totalMB = memTotalKB / 1024
	usedMB = (memTotalKB - memAvailableKB) / 1024
	return usedMB, totalMB, true
}

func parseMeminfoLine(line, prefix string) (float64, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, prefix) {
		return 0, false
	}
	fields := strings.Fields(strings.TrimPrefix(line, prefix))
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func sampleGPU(ctx context.Context, r Runner) (util, memUsed, memTotal float64, ok bool) {
	res, err := r.RunShort(ctx, nvidiaSMICmd)
	if err != nil || !res.ExitOK {
		return 0, 0, 0, false
	}

	firstLine := strings.TrimSpace(res.Stdout)
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	if firstLine == "" {
		return 0, 0, 0, false
	}

	parts := strings.Split(firstLine, ",")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, 0, 0, false
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], true
}
