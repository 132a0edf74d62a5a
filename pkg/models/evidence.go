package models

// EvidenceBundle aggregates the context gathered for one analysis. Sources
// fail independently; a nil section means that source was unavailable.
type EvidenceBundle struct {
	Metrics   *MetricsEvidence   `json:"metrics,omitempty"`
	Sessions  *SessionsEvidence  `json:"sessions,omitempty"`
	CloudLogs *CloudLogsEvidence `json:"cloud_logs,omitempty"`
	Code      *CodeEvidence      `json:"code,omitempty"`

	// Derived scores computed after gathering.
	InfrastructureCorrelation float64 `json:"infrastructure_correlation"`
	UserImpactScore           float64 `json:"user_impact_score"`

	// Errors holds one message per source that failed, keyed by source name.
	Errors map[string]string `json:"errors,omitempty"`
}

// MetricsEvidence is infrastructure telemetry around the error window.
type MetricsEvidence struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	ErrorRate     float64 `json:"error_rate"`
	LatencyP95Ms  float64 `json:"latency_p95_ms"`
}

// SessionsEvidence summarizes affected user sessions.
type SessionsEvidence struct {
	AffectedSessions int      `json:"affected_sessions"`
	SampleActions    []string `json:"sample_actions,omitempty"`
}

// CloudLogsEvidence holds log lines correlated with the error.
type CloudLogsEvidence struct {
	Lines []string `json:"lines,omitempty"`
}

// CodeEvidence holds source context around the suspected location.
type CodeEvidence struct {
	File    string `json:"file,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Blame   string `json:"blame,omitempty"`
}
