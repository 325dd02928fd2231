package domain

// Sample is one metrics reading for a host. Any field may be nil if the
// host did not provide it; a sample with every field nil is still emitted
// and persisted.
type Sample struct {
	HostName      string   `json:"host_name"`
	TimestampS    int64    `json:"timestamp_s"`
	CPUPct        *float64 `json:"cpu_pct,omitempty"`
	RAMUsedMB     *float64 `json:"ram_used_mb,omitempty"`
	RAMTotalMB    *float64 `json:"ram_total_mb,omitempty"`
	GPUUtilPct    *float64 `json:"gpu_util_pct,omitempty"`
	GPUMemUsedMB  *float64 `json:"gpu_mem_used_mb,omitempty"`
	GPUMemTotalMB *float64 `json:"gpu_mem_total_mb,omitempty"`
}

func F64Ptr(v float64) *float64 { return &v }
