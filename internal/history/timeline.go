package history

import (
	"sort"
	"time"

	"pipelinewatch/internal/models"
)

const (
	// DefaultTimelinePoints controls how many buckets a timeline has.
	DefaultTimelinePoints = 80
	maxDetailsPerPoint    = 4

	ClassConnected    = "state-success"
	ClassDisconnected = "state-error"
	ClassMissing      = "state-missing"
)

// BuildConnectivityTimeline reduces cycle samples into compact timeline points.
// A bucket takes the state of its newest sample. Empty buckets inherit the
// previous state while the gap is below twice the median polling interval.
func BuildConnectivityTimeline(entries []models.ConnectivityStatus, start, end time.Time, points int) []models.TimelinePoint {
	if points <= 0 {
		points = DefaultTimelinePoints
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}

	samples := make([]models.ConnectivityStatus, 0, len(entries))
	for _, entry := range entries {
		if entry.CheckedAt.IsZero() {
			continue
		}
		samples = append(samples, entry)
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].CheckedAt.Before(samples[j].CheckedAt)
	})

	bucketDuration := end.Sub(start) / time.Duration(points)
	if bucketDuration <= 0 {
		bucketDuration = time.Minute
	}
	gapThreshold := derivePollGap(samples)

	result := make([]models.TimelinePoint, 0, points)
	idx := 0
	var last models.ConnectivityStatus
	var haveLast bool
	for idx < len(samples) && samples[idx].CheckedAt.Before(start) {
		last = samples[idx]
		haveLast = true
		idx++
	}

	for i := 0; i < points; i++ {
		bucketStart := start.Add(time.Duration(i) * bucketDuration)
		bucketEnd := bucketStart.Add(bucketDuration)
		if i == points-1 {
			bucketEnd = end
		}

		point := models.TimelinePoint{
			ClassName: ClassMissing,
			Label:     "No data",
			Start:     bucketStart,
			End:       bucketEnd,
		}

		var inBucket []models.ConnectivityStatus
		for idx < len(samples) && samples[idx].CheckedAt.Before(bucketEnd) {
			inBucket = append(inBucket, samples[idx])
			idx++
		}

		switch {
		case len(inBucket) > 0:
			last = inBucket[len(inBucket)-1]
			haveLast = true
			point.ClassName, point.Label = classify(last)
			for _, sample := range inBucket {
				if sample.OK || len(point.Details) >= maxDetailsPerPoint {
					continue
				}
				point.Details = append(point.Details, detailOf(sample))
			}
		case haveLast && bucketStart.Sub(last.CheckedAt) <= gapThreshold:
			point.ClassName, point.Label = classify(last)
			if !last.OK {
				detail := detailOf(last)
				detail.Timestamp = bucketStart
				point.Details = []models.TimelineDetail{detail}
			}
		}

		result = append(result, point)
	}
	return result
}

// derivePollGap estimates how long a sample stays representative.
func derivePollGap(samples []models.ConnectivityStatus) time.Duration {
	const defaultGap = time.Minute
	if len(samples) < 2 {
		return defaultGap
	}
	diffs := make([]time.Duration, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		if d := samples[i].CheckedAt.Sub(samples[i-1].CheckedAt); d > 0 {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return defaultGap
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i] < diffs[j] })
	gap := diffs[len(diffs)/2] * 2
	if gap < 20*time.Second {
		return 20 * time.Second
	}
	if gap > time.Hour {
		return time.Hour
	}
	return gap
}

func detailOf(status models.ConnectivityStatus) models.TimelineDetail {
	state := "connected"
	if !status.OK {
		state = "disconnected"
	}
	return models.TimelineDetail{
		Timestamp: status.CheckedAt,
		State:     state,
		Error:     status.Error,
	}
}

func classify(status models.ConnectivityStatus) (className, label string) {
	if status.OK {
		return ClassConnected, "Connected"
	}
	return ClassDisconnected, "No Connection"
}
