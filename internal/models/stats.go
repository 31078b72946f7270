package models

// ChargingSummary aggregates charging sessions.
type ChargingSummary struct {
	TotalSessions     int      `json:"total_sessions"`
	CompletedSessions int      `json:"completed_sessions"`
	AvgDuration       *float64 `json:"avg_duration"`
	MinDuration       *float64 `json:"min_duration"`
	MaxDuration       *float64 `json:"max_duration"`
	AvgRate           *float64 `json:"avg_rate"`
}

// UsageSummary aggregates usage sessions.
type UsageSummary struct {
	TotalSessions  int      `json:"total_sessions"`
	AvgDuration    *float64 `json:"avg_duration"`
	TotalUsageTime float64  `json:"total_usage_time"`
	TotalCallTime  float64  `json:"total_call_time"`
	AvgDrainRate   *float64 `json:"avg_drain_rate"`
}

// Statistics is the response of the statistics query.
type Statistics struct {
	Hostname  string               `json:"hostname"`
	Charging  ChargingSummary      `json:"charging"`
	Usage     UsageSummary         `json:"usage"`
	Estimates map[string]Estimates `json:"estimates"`
}
