package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pipelinewatch/internal/logging"
	"pipelinewatch/internal/models"
)

// DefaultInterval is the polling period between probe cycles.
const DefaultInterval = 10 * time.Second

// Reauthenticator refreshes the session after connectivity is lost.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// ErrReauthSkipped is returned, possibly wrapped, by a Reauthenticator that
// declines on purpose, for example after the user signed out.
var ErrReauthSkipped = errors.New("re-authentication skipped")

// ReauthFunc adapts a function to Reauthenticator.
type ReauthFunc func(ctx context.Context) error

func (f ReauthFunc) Reauthenticate(ctx context.Context) error { return f(ctx) }

// StatusObserver receives the connectivity flag after every applied cycle.
type StatusObserver func(connected bool)

// CycleObserver receives the full record of every applied cycle.
type CycleObserver func(CycleResult)

// CycleResult records one completed probe cycle.
type CycleResult struct {
	Seq        uint64        `json:"seq"`
	Deployment string        `json:"deployment,omitempty"`
	Connected  bool          `json:"connected"`
	Attempts   int           `json:"attempts"`
	Delays     int           `json:"delays"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Status converts the cycle into a persisted connectivity sample.
func (r CycleResult) Status() models.ConnectivityStatus {
	return models.ConnectivityStatus{
		Seq:        r.Seq,
		Deployment: r.Deployment,
		OK:         r.Connected,
		Attempts:   r.Attempts,
		LatencyMs:  r.Latency.Milliseconds(),
		Error:      r.Error,
		CheckedAt:  r.FinishedAt,
	}
}

// Options configures a Monitor.
type Options struct {
	Deployment string
	Interval   time.Duration
	Policy     Policy
	Recorder   Recorder
}

// Monitor periodically probes the deployment and exposes a connectivity flag.
// The flag starts disconnected and always reflects the newest completed cycle.
type Monitor struct {
	prober   *Prober
	reauth   Reauthenticator
	interval time.Duration
	logger   logging.Logger
	recorder Recorder

	seq atomic.Uint64

	mu         sync.RWMutex
	deployment string
	connected  bool
	latest     *CycleResult
	appliedSeq uint64
	started    bool
	stopped    bool

	// applyMu keeps state writes and observer notifications in seq order.
	applyMu sync.Mutex

	obsMu     sync.Mutex
	observers map[int]CycleObserver
	nextObs   int

	ctx     context.Context
	cancel  context.CancelFunc
	trigger chan struct{}
	doneCh  chan struct{}
	cycles  sync.WaitGroup

	stopOnce sync.Once
}

// New creates a monitor. reauth may be nil.
func New(opts Options, provider HandleProvider, reauth Reauthenticator, logger logging.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	rec := recorderOrNop(opts.Recorder)

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		prober: &Prober{
			Provider: provider,
			Policy:   opts.Policy,
			Logger:   logger,
			Recorder: rec,
		},
		reauth:     reauth,
		interval:   opts.Interval,
		logger:     logger,
		recorder:   rec,
		deployment: strings.TrimSpace(opts.Deployment),
		observers:  make(map[int]CycleObserver),
		ctx:        ctx,
		cancel:     cancel,
		trigger:    make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the polling loop. The first cycle runs immediately.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.run()
}

// Stop cancels the timer and any in-flight cycle, then waits for them to finish.
// Results that complete after Stop are discarded.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		started := m.started
		m.mu.Unlock()

		m.cancel()
		if started {
			<-m.doneCh
		}
		m.cycles.Wait()
	})
}

// SetDeployment switches the monitored deployment and triggers an immediate cycle.
func (m *Monitor) SetDeployment(ref string) {
	ref = strings.TrimSpace(ref)
	m.mu.Lock()
	if ref == m.deployment {
		m.mu.Unlock()
		return
	}
	m.deployment = ref
	m.mu.Unlock()

	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Deployment returns the currently monitored deployment reference.
func (m *Monitor) Deployment() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deployment
}

// Connected reports the connectivity flag.
func (m *Monitor) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Latest returns the most recently applied cycle.
func (m *Monitor) Latest() (CycleResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.latest == nil {
		return CycleResult{}, false
	}
	return *m.latest, true
}

// Subscribe registers an observer of the connectivity flag. It is called after
// every applied cycle, including ones that leave the flag unchanged.
func (m *Monitor) Subscribe(observer StatusObserver) (unsubscribe func()) {
	return m.SubscribeCycles(func(r CycleResult) { observer(r.Connected) })
}

// SubscribeCycles registers an observer of full cycle records.
func (m *Monitor) SubscribeCycles(observer CycleObserver) (unsubscribe func()) {
	m.obsMu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = observer
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

// RunOnce executes a single cycle synchronously and returns its result.
// The result is applied only if no newer cycle has completed in the meantime.
func (m *Monitor) RunOnce(ctx context.Context) CycleResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	res, _ := m.cycle(ctx)
	return res
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	m.launch()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.launch()
		case <-m.trigger:
			m.launch()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Monitor) launch() {
	m.cycles.Add(1)
	go func() {
		defer m.cycles.Done()
		m.cycle(m.ctx)
	}()
}

// cycle probes once, applies the outcome if it is still the newest and runs
// the post-probe reaction. It reports whether the result was applied.
func (m *Monitor) cycle(ctx context.Context) (CycleResult, bool) {
	seq := m.seq.Add(1)
	ref := m.Deployment()

	res := CycleResult{
		Seq:        seq,
		Deployment: ref,
		StartedAt:  time.Now().UTC(),
	}
	outcome := m.prober.Probe(ctx, ref)
	res.Connected = outcome.Connected
	res.Attempts = outcome.Attempts
	res.Delays = outcome.Delays
	res.Latency = outcome.Latency
	if outcome.Err != nil {
		res.Error = outcome.Err.Error()
	}
	res.FinishedAt = time.Now().UTC()

	if ctx.Err() != nil || !m.apply(res) {
		m.recorder.CycleDiscarded()
		return res, false
	}

	if !res.Connected && ref != "" {
		m.reauthenticate(ctx, ref)
	}
	return res, true
}

func (m *Monitor) apply(res CycleResult) bool {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	if m.stopped || res.Seq <= m.appliedSeq {
		m.mu.Unlock()
		return false
	}
	m.appliedSeq = res.Seq
	m.connected = res.Connected
	m.latest = &res
	m.mu.Unlock()

	m.recorder.CycleApplied(res.Connected, res.FinishedAt.Sub(res.StartedAt))
	m.notify(res)
	return true
}

func (m *Monitor) notify(res CycleResult) {
	m.obsMu.Lock()
	observers := make([]CycleObserver, 0, len(m.observers))
	for _, obs := range m.observers {
		observers = append(observers, obs)
	}
	m.obsMu.Unlock()

	for _, obs := range observers {
		m.safeNotify(obs, res)
	}
}

func (m *Monitor) safeNotify(obs CycleObserver, res CycleResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("panic", r).Error("status observer panicked")
		}
	}()
	obs(res)
}

func (m *Monitor) reauthenticate(ctx context.Context, ref string) {
	if m.reauth == nil {
		return
	}
	err := m.reauth.Reauthenticate(ctx)
	if errors.Is(err, ErrReauthSkipped) {
		m.logger.WithError(err).WithField("deployment", ref).Debug("authentication refresh skipped")
		return
	}
	m.recorder.Reauth(err)
	if err != nil {
		m.logger.WithError(err).WithField("deployment", ref).Error("failed to refresh authentication")
	}
}
