package metrics

import (
	"math"
	"time"

	"pipelinewatch/internal/models"
)

// Uptime summarises the connectivity history of the deployment.
type Uptime struct {
	Deployment    string  `json:"deployment,omitempty"`
	UptimePercent float64 `json:"uptime_percent"`
	TotalChecks   int     `json:"total_checks"`
	Passing       int     `json:"passing"`
	Failing       int     `json:"failing"`
	LastState     string  `json:"last_state,omitempty"`
	LastUpdated   string  `json:"last_updated,omitempty"`
}

// ComputeUptime aggregates uptime statistics from connectivity samples.
// Samples are expected in chronological order.
func ComputeUptime(samples []models.ConnectivityStatus) Uptime {
	var result Uptime
	var lastTime time.Time
	for _, sample := range samples {
		if sample.OK {
			result.Passing++
		} else {
			result.Failing++
		}
		if !sample.CheckedAt.Before(lastTime) {
			lastTime = sample.CheckedAt
			result.LastState = stateLabel(sample.OK)
			result.Deployment = sample.Deployment
		}
	}
	result.TotalChecks = result.Passing + result.Failing
	if result.TotalChecks > 0 {
		result.UptimePercent = round2(float64(result.Passing) / float64(result.TotalChecks) * 100)
	}
	if !lastTime.IsZero() {
		result.LastUpdated = lastTime.UTC().Format(time.RFC3339)
	}
	return result
}

func stateLabel(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
