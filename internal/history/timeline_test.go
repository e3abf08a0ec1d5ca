package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelinewatch/internal/models"
)

var base = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func TestTimelineWithoutSamples(t *testing.T) {
	points := BuildConnectivityTimeline(nil, base, base.Add(time.Hour), 6)
	require.Len(t, points, 6)
	for _, p := range points {
		assert.Equal(t, ClassMissing, p.ClassName)
		assert.Nil(t, p.Details)
	}
	assert.Equal(t, base, points[0].Start)
	assert.Equal(t, base.Add(time.Hour), points[5].End)
}

func TestTimelineDefaultsPoints(t *testing.T) {
	points := BuildConnectivityTimeline(nil, base, base, 0)
	assert.Len(t, points, DefaultTimelinePoints)
}

func TestTimelineNewestSampleWins(t *testing.T) {
	samples := []models.ConnectivityStatus{
		{OK: true, CheckedAt: base.Add(10 * time.Second)},
		{OK: false, Error: "connection refused", CheckedAt: base.Add(20 * time.Second)},
		{OK: true, CheckedAt: base.Add(70 * time.Second)},
	}
	points := BuildConnectivityTimeline(samples, base, base.Add(2*time.Minute), 2)
	require.Len(t, points, 2)

	assert.Equal(t, ClassDisconnected, points[0].ClassName)
	assert.Equal(t, "No Connection", points[0].Label)
	require.Len(t, points[0].Details, 1)
	assert.Equal(t, "connection refused", points[0].Details[0].Error)

	assert.Equal(t, ClassConnected, points[1].ClassName)
	assert.Empty(t, points[1].Details)
}

func TestTimelineFillsShortGaps(t *testing.T) {
	samples := []models.ConnectivityStatus{
		{OK: true, CheckedAt: base.Add(-5 * time.Second)},
	}
	points := BuildConnectivityTimeline(samples, base, base.Add(4*time.Minute), 4)
	require.Len(t, points, 4)

	assert.Equal(t, ClassConnected, points[0].ClassName)
	assert.Equal(t, ClassMissing, points[1].ClassName)
	assert.Equal(t, ClassMissing, points[3].ClassName)
}

func TestDerivePollGap(t *testing.T) {
	var samples []models.ConnectivityStatus
	for i := 0; i < 5; i++ {
		samples = append(samples, models.ConnectivityStatus{CheckedAt: base.Add(time.Duration(i) * 30 * time.Second)})
	}
	assert.Equal(t, time.Minute, derivePollGap(samples))
	assert.Equal(t, time.Minute, derivePollGap(samples[:1]))

	fast := []models.ConnectivityStatus{{CheckedAt: base}, {CheckedAt: base.Add(time.Second)}}
	assert.Equal(t, 20*time.Second, derivePollGap(fast))
}
