package monitor

import "time"

// Recorder receives probe and cycle events, typically for metrics.
type Recorder interface {
	ProbeAttempt()
	ProbeRetry()
	CycleApplied(connected bool, took time.Duration)
	CycleDiscarded()
	Reauth(err error)
}

type nopRecorder struct{}

func (nopRecorder) ProbeAttempt()                    {}
func (nopRecorder) ProbeRetry()                      {}
func (nopRecorder) CycleApplied(bool, time.Duration) {}
func (nopRecorder) CycleDiscarded()                  {}
func (nopRecorder) Reauth(error)                     {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
