package transmit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/radio-control/siggen/internal/adapter"
	"github.com/radio-control/siggen/internal/adapter/fake"
	"github.com/radio-control/siggen/internal/audit"
	"github.com/radio-control/siggen/internal/config"
	"github.com/radio-control/siggen/internal/dispatch"
	"github.com/radio-control/siggen/internal/stream"
	"github.com/radio-control/siggen/internal/telemetry"
)

// MockTimer records arms and cancels without scheduling anything.
type MockTimer struct {
	mu      sync.Mutex
	arms    []armCall
	cancels int
	armed   bool
	token   uint64
}

type armCall struct {
	d     time.Duration
	token uint64
}

func (m *MockTimer) Arm(d time.Duration, token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arms = append(m.arms, armCall{d: d, token: token})
	m.armed = true
	m.token = token
}

func (m *MockTimer) Cancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	was := m.armed
	m.armed = false
	return was
}

func (m *MockTimer) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// expire simulates the deadline passing and returns the token it carried.
func (m *MockTimer) expire() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = false
	return m.token
}

// MockProducer tracks active runs.
type MockProducer struct {
	mu       sync.Mutex
	next     int
	active   map[stream.Handle]string
	starts   []string
	stops    []stream.Handle
	ready    []stream.Handle
	rates    []uint32
	startErr error
}

func NewMockProducer() *MockProducer {
	return &MockProducer{active: make(map[stream.Handle]string)}
}

func (m *MockProducer) Start(path string) (stream.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", &stream.FileOpenError{Path: path, Err: m.startErr}
	}
	m.next++
	h := stream.Handle(fmt.Sprintf("run-%d", m.next))
	m.active[h] = path
	m.starts = append(m.starts, path)
	return h, nil
}

func (m *MockProducer) Stop(h stream.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, h)
	m.stops = append(m.stops, h)
}

func (m *MockProducer) Ready(h stream.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = append(m.ready, h)
}

func (m *MockProducer) SetSampleRate(hz uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates = append(m.rates, hz)
}

// complete ends h the way the real producer does before posting.
func (m *MockProducer) complete(h stream.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, h)
}

func (m *MockProducer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

type recordingPersister struct {
	saved []config.LastConfig
	err   error
}

func (p *recordingPersister) Save(lc config.LastConfig) error {
	p.saved = append(p.saved, lc)
	return p.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (p *recordingPublisher) Publish(ev telemetry.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []telemetry.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []telemetry.Event
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type auditRecord struct {
	actor, action, target, result string
}

type recordingAudit struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *recordingAudit) LogAction(ctx context.Context, action, target, result string, _ time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{
		actor:  audit.ActorFromContext(ctx),
		action: action,
		target: target,
		result: result,
	})
}

func (a *recordingAudit) all() []auditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]auditRecord(nil), a.records...)
}

type countingRecorder struct {
	transitions  []string
	staleTimers  int
	staleStreams int
	restarts     int
	faults       map[string]int
	progress     int64
}

func (r *countingRecorder) ObserveTransition(from, to, trigger string) {
	r.transitions = append(r.transitions, from+"->"+to+":"+trigger)
}
func (r *countingRecorder) IncStaleTimer()       { r.staleTimers++ }
func (r *countingRecorder) IncStaleStream()      { r.staleStreams++ }
func (r *countingRecorder) IncRestart()          { r.restarts++ }
func (r *countingRecorder) SetProgress(b int64)  { r.progress = b }
func (r *countingRecorder) IncFault(code string) { r.faults[code]++ }

type harness struct {
	c         *Controller
	tx        *fake.Transmitter
	producer  *MockProducer
	timer     *MockTimer
	persister *recordingPersister
	events    *recordingPublisher
	audit     *recordingAudit
	metrics   *countingRecorder
	path      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.C8")
	if err := os.WriteFile(path, make([]byte, 8000), 0644); err != nil {
		t.Fatalf("Failed to write waveform: %v", err)
	}

	h := &harness{
		tx:        fake.NewTransmitter("test"),
		producer:  NewMockProducer(),
		timer:     &MockTimer{},
		persister: &recordingPersister{},
		events:    &recordingPublisher{},
		audit:     &recordingAudit{},
		metrics:   &countingRecorder{faults: make(map[string]int)},
		path:      path,
	}
	h.c = New(h.tx, h.producer, h.timer, Options{
		Persister: h.persister,
		Events:    h.events,
		Audit:     h.audit,
		Metrics:   h.metrics,
	})
	h.c.SelectFile(path)
	return h
}

// check asserts the structural invariants that hold in every state.
func (h *harness) check(t *testing.T) {
	t.Helper()

	state := h.c.State()
	if h.producer.Active() > 1 {
		t.Fatalf("%s: %d streams active", state, h.producer.Active())
	}
	switch state {
	case Idle:
		if h.timer.Armed() {
			t.Errorf("idle with timer armed")
		}
		if h.producer.Active() != 0 {
			t.Errorf("idle with stream active")
		}
		if h.tx.Enabled() {
			t.Errorf("idle with radio enabled")
		}
	case Streaming:
		if h.timer.Armed() {
			t.Errorf("streaming with timer armed")
		}
		if h.producer.Active() != 1 || !h.tx.Enabled() {
			t.Errorf("streaming without stream and radio")
		}
	case CyclicBurst:
		if !h.timer.Armed() || h.producer.Active() != 1 || !h.tx.Enabled() {
			t.Errorf("burst needs timer, stream and radio")
		}
	case CyclicPause:
		if !h.timer.Armed() {
			t.Errorf("pause with timer disarmed")
		}
		if h.producer.Active() != 0 || h.tx.Enabled() {
			t.Errorf("pause with stream or radio on")
		}
	}
	if got := h.c.Status().State; got != state {
		t.Errorf("status snapshot %s lags state %s", got, state)
	}
}

func (h *harness) fire(t *testing.T) {
	t.Helper()
	h.c.OnTimerFired(h.timer.expire())
	h.check(t)
}

func (h *harness) endOfFile(t *testing.T) {
	t.Helper()
	run := h.c.Status().Run
	h.producer.complete(run)
	h.c.OnStreamDone(dispatch.StreamDone{Run: run, Reason: stream.ReasonEndOfFile})
	h.check(t)
}

func cyclic(burst, pause int) config.CycleConfig {
	return config.CycleConfig{BurstSeconds: burst, PauseSeconds: pause, LoopEnabled: true}
}

func oneShot() config.CycleConfig {
	return config.CycleConfig{BurstSeconds: 1, PauseSeconds: 0, LoopEnabled: false}
}

func TestToggleTwiceReturnsToIdle(t *testing.T) {
	h := newHarness(t)

	if err := h.c.Toggle(oneShot()); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if h.c.State() != Streaming {
		t.Fatalf("Expected streaming, got %s", h.c.State())
	}
	h.check(t)

	if err := h.c.Toggle(oneShot()); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if h.c.State() != Idle {
		t.Fatalf("Expected idle, got %s", h.c.State())
	}
	h.check(t)

	calls := h.tx.Calls()
	if len(calls) != 2 || calls[0] != "enable" || calls[1] != "disable" {
		t.Errorf("Expected enable then disable, got %v", calls)
	}
	if len(h.timer.arms) != 0 {
		t.Errorf("One-shot playback armed the timer %d times", len(h.timer.arms))
	}
}

func TestToggleFromCyclicStatesStopsEverything(t *testing.T) {
	for _, inPause := range []bool{false, true} {
		t.Run(fmt.Sprintf("pause=%v", inPause), func(t *testing.T) {
			h := newHarness(t)
			if err := h.c.Toggle(cyclic(5, 3)); err != nil {
				t.Fatalf("Toggle failed: %v", err)
			}
			if inPause {
				h.fire(t)
			}
			live := h.c.Token()

			if err := h.c.Toggle(cyclic(5, 3)); err != nil {
				t.Fatalf("Toggle failed: %v", err)
			}
			h.check(t)
			if h.c.State() != Idle {
				t.Fatalf("Expected idle, got %s", h.c.State())
			}
			if h.c.Token() == live {
				t.Error("Cancel did not invalidate the live token")
			}
		})
	}
}

func TestToggleWithoutWaveform(t *testing.T) {
	h := newHarness(t)
	h.c.SelectFile("")

	err := h.c.Toggle(oneShot())
	var openErr *stream.FileOpenError
	if !errors.As(err, &openErr) || !errors.Is(err, ErrNoWaveform) {
		t.Fatalf("Expected FileOpenError wrapping ErrNoWaveform, got %v", err)
	}
	if h.c.State() != Idle {
		t.Errorf("Expected idle, got %s", h.c.State())
	}
	if len(h.tx.Calls()) != 0 {
		t.Errorf("Transmitter touched: %v", h.tx.Calls())
	}
	if faults := h.events.ofType("fault"); len(faults) != 1 || faults[0].Data["code"] != "FILE_OPEN_ERROR" {
		t.Errorf("Expected one FILE_OPEN_ERROR fault, got %+v", faults)
	}
}

func TestStartFailureLeavesRadioOff(t *testing.T) {
	h := newHarness(t)
	h.producer.startErr = os.ErrNotExist

	err := h.c.Toggle(cyclic(5, 3))
	var openErr *stream.FileOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Expected FileOpenError, got %v", err)
	}
	h.check(t)
	if h.c.State() != Idle {
		t.Errorf("Expected idle, got %s", h.c.State())
	}
	if len(h.timer.arms) != 0 {
		t.Error("Timer armed after failed start")
	}
	if len(h.persister.saved) != 0 {
		t.Error("Failed start was persisted")
	}

	records := h.audit.all()
	last := records[len(records)-1]
	if last.action != "start" || last.result != "ERROR" {
		t.Errorf("Expected start ERROR audit, got %+v", last)
	}
}

func TestEnableFailureIsSurfaced(t *testing.T) {
	h := newHarness(t)
	h.tx.SetErrorSimulation("enable", "busy")

	err := h.c.Toggle(oneShot())
	if !errors.Is(err, adapter.ErrBusy) {
		t.Fatalf("Expected ErrBusy, got %v", err)
	}
	if len(h.producer.starts) != 0 {
		t.Error("Stream started without radio")
	}
	if h.c.State() != Idle {
		t.Errorf("Expected idle, got %s", h.c.State())
	}
	if h.metrics.faults["BUSY"] != 1 {
		t.Errorf("Expected BUSY fault, got %v", h.metrics.faults)
	}
}

func TestEndOfFileWithoutLoopGoesIdle(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(oneShot()); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}

	h.endOfFile(t)

	if h.c.State() != Idle {
		t.Fatalf("Expected idle, got %s", h.c.State())
	}
	if len(h.producer.starts) != 1 {
		t.Errorf("Expected a single start, got %d", len(h.producer.starts))
	}
	if h.tx.Enabled() {
		t.Error("Radio left on")
	}
}

func TestLoopWithoutPauseRestarts(t *testing.T) {
	h := newHarness(t)
	cfg := cyclic(5, 0)
	if err := h.c.Toggle(cfg); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if h.c.State() != Streaming {
		t.Fatalf("Zero pause should stream continuously, got %s", h.c.State())
	}

	const n = 4
	for i := 0; i < n; i++ {
		h.endOfFile(t)
		if h.c.State() != Streaming {
			t.Fatalf("Restart %d: expected streaming, got %s", i+1, h.c.State())
		}
	}

	if len(h.producer.starts) != n+1 {
		t.Errorf("Expected %d starts, got %d", n+1, len(h.producer.starts))
	}
	if got := h.c.Status().Restarts; got != n {
		t.Errorf("Expected %d restarts, got %d", n, got)
	}
	if h.metrics.restarts != n {
		t.Errorf("Expected %d restart metrics, got %d", n, h.metrics.restarts)
	}
	if calls := h.tx.Calls(); len(calls) != 1 || calls[0] != "enable" {
		t.Errorf("Radio toggled during restarts: %v", calls)
	}
	if len(h.timer.arms) != 0 {
		t.Errorf("Timer armed %d times", len(h.timer.arms))
	}
	if len(h.events.ofType("restart")) != n {
		t.Errorf("Expected %d restart events", n)
	}
}

func TestCycleAlternatesBurstAndPause(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	h.check(t)

	want := []State{CyclicBurst}
	got := []State{h.c.State()}
	for i := 0; i < 6; i++ {
		h.fire(t)
		got = append(got, h.c.State())
		if i%2 == 0 {
			want = append(want, CyclicPause)
		} else {
			want = append(want, CyclicBurst)
		}
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Step %d: expected %s, got %s (sequence %v)", i, want[i], got[i], got)
		}
	}

	if len(h.timer.arms) != 7 {
		t.Fatalf("Expected 7 arms, got %d", len(h.timer.arms))
	}
	var prev uint64
	for i, arm := range h.timer.arms {
		wantD := 5 * time.Second
		if i%2 == 1 {
			wantD = 3 * time.Second
		}
		if arm.d != wantD {
			t.Errorf("Arm %d: expected %v, got %v", i, wantD, arm.d)
		}
		if arm.token <= prev {
			t.Errorf("Arm %d: token %d not above %d", i, arm.token, prev)
		}
		prev = arm.token
	}

	calls := h.tx.Calls()
	for i, call := range calls {
		wantCall := "enable"
		if i%2 == 1 {
			wantCall = "disable"
		}
		if call != wantCall {
			t.Fatalf("Radio call %d: expected %s, got %s (%v)", i, wantCall, call, calls)
		}
	}
	if len(h.producer.starts) != 4 {
		t.Errorf("Expected a stream start per burst, got %d", len(h.producer.starts))
	}
}

func TestEndOfFileDuringBurstKeepsTimer(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(cyclic(10, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	token := h.c.Token()
	arms := len(h.timer.arms)
	first := h.c.Status().Run

	h.endOfFile(t)

	if h.c.State() != CyclicBurst {
		t.Fatalf("Expected burst, got %s", h.c.State())
	}
	if h.c.Token() != token || len(h.timer.arms) != arms || h.timer.cancels != 0 {
		t.Error("End of file disturbed the burst timer")
	}
	if h.c.Status().Run == first {
		t.Error("Expected a new run handle")
	}
}

func TestStaleTimerIsDiscarded(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	stale := h.c.Token()

	// Toggle off while the firing is already queued.
	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	h.c.OnTimerFired(stale)
	h.check(t)
	if h.c.State() != Idle {
		t.Fatalf("Stale timer changed state to %s", h.c.State())
	}

	// Restart and deliver the old token into a live burst.
	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	h.c.OnTimerFired(stale)
	h.check(t)
	if h.c.State() != CyclicBurst {
		t.Fatalf("Stale timer changed state to %s", h.c.State())
	}

	if h.metrics.staleTimers != 2 {
		t.Errorf("Expected 2 stale timers, got %d", h.metrics.staleTimers)
	}
}

func TestStaleEndOfFileIsDiscarded(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	old := h.c.Status().Run
	h.fire(t)

	h.c.OnStreamDone(dispatch.StreamDone{Run: old, Reason: stream.ReasonEndOfFile})
	h.check(t)
	if h.c.State() != CyclicPause {
		t.Fatalf("Expected pause, got %s", h.c.State())
	}

	h.c.OnStreamDone(dispatch.StreamDone{Run: "unknown", Reason: stream.ReasonCancelled})
	if h.metrics.staleStreams != 2 {
		t.Errorf("Expected 2 stale completions, got %d", h.metrics.staleStreams)
	}
}

func TestReadErrorFromEveryActiveState(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.CycleConfig
		fires int
		want  State
	}{
		{"streaming", oneShot(), 0, Streaming},
		{"burst", cyclic(5, 3), 0, CyclicBurst},
		{"pause", cyclic(5, 3), 1, CyclicPause},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if err := h.c.Toggle(tt.cfg); err != nil {
				t.Fatalf("Toggle failed: %v", err)
			}
			for i := 0; i < tt.fires; i++ {
				h.fire(t)
			}
			if h.c.State() != tt.want {
				t.Fatalf("Expected %s, got %s", tt.want, h.c.State())
			}

			run := h.c.lastRun
			h.producer.complete(run)
			readErr := &stream.ReadError{Path: h.path, Offset: 4096, Err: errors.New("i/o error")}
			h.c.OnStreamDone(dispatch.StreamDone{Run: run, Reason: stream.ReasonReadError, Err: readErr})

			h.check(t)
			if h.c.State() != Idle {
				t.Fatalf("Expected idle, got %s", h.c.State())
			}
			faults := h.events.ofType("fault")
			if len(faults) != 1 || faults[0].Data["code"] != "STREAM_READ_ERROR" {
				t.Errorf("Expected exactly one STREAM_READ_ERROR fault, got %+v", faults)
			}
			if h.c.Status().LastError == "" {
				t.Error("Expected last error in status")
			}

			// A duplicate completion after Idle is ignored.
			h.c.OnStreamDone(dispatch.StreamDone{Run: run, Reason: stream.ReasonReadError, Err: readErr})
			if len(h.events.ofType("fault")) != 1 {
				t.Error("Read error surfaced twice")
			}
		})
	}
}

func TestInvalidRangeIsRejected(t *testing.T) {
	h := newHarness(t)

	err := h.c.Toggle(config.CycleConfig{BurstSeconds: 0, PauseSeconds: 3, LoopEnabled: true})
	if !errors.Is(err, ErrInvalidRange) || !errors.Is(err, config.ErrCycleRange) {
		t.Fatalf("Expected ErrInvalidRange, got %v", err)
	}
	if h.c.State() != Idle || len(h.tx.Calls()) != 0 {
		t.Error("Invalid toggle had side effects")
	}

	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	// Stopping does not read the config, so a bad one still stops.
	if err := h.c.Toggle(config.CycleConfig{BurstSeconds: 0, PauseSeconds: 3, LoopEnabled: true}); err != nil {
		t.Fatalf("Stop with out-of-range config failed: %v", err)
	}
	h.check(t)
	if h.c.State() != Idle || h.tx.Enabled() || h.timer.armed {
		t.Errorf("Expected idle with radio off and no timer, got %s radio=%v timer=%v",
			h.c.State(), h.tx.Enabled(), h.timer.armed)
	}

	records := h.audit.all()
	if records[0].action != "toggle" || records[0].result != "INVALID_RANGE" {
		t.Errorf("Expected INVALID_RANGE audit, got %+v", records[0])
	}
}

func TestConfigureAppliesAtNextTransition(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}

	if err := h.c.Configure(cyclic(2, 4)); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if h.c.Status().Cycle != cyclic(5, 3) {
		t.Error("Configure changed the running cycle immediately")
	}

	h.fire(t)
	h.fire(t)

	arms := h.timer.arms
	if arms[1].d != 4*time.Second || arms[2].d != 2*time.Second {
		t.Errorf("Expected pause 4s then burst 2s, got %v then %v", arms[1].d, arms[2].d)
	}

	if err := h.c.Configure(cyclic(0, 4)); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Expected ErrInvalidRange, got %v", err)
	}
}

func TestConfigureBeforeStopIsKeptForNextStart(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(oneShot()); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if err := h.c.Configure(cyclic(5, 3)); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if got := h.c.Status().NextCycle; got != cyclic(5, 3) {
		t.Errorf("Expected pending cycle in status, got %+v", got)
	}

	if err := h.c.Toggle(h.c.Status().NextCycle); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := h.c.Status().Cycle; got != cyclic(5, 3) {
		t.Errorf("Pending cycle dropped on stop, got %+v", got)
	}

	if err := h.c.Toggle(h.c.Status().Cycle); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	h.check(t)
	if h.c.State() != CyclicBurst {
		t.Fatalf("Expected cyclic burst, got %s", h.c.State())
	}
	if last := h.timer.arms[len(h.timer.arms)-1]; last.d != 5*time.Second {
		t.Errorf("Expected 5s burst armed, got %v", last.d)
	}
}

func TestConfigureCycleOffMidBurstKeepsStreaming(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if err := h.c.Configure(cyclic(5, 0)); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	h.fire(t)

	if h.c.State() != Streaming {
		t.Fatalf("Expected streaming, got %s", h.c.State())
	}
	if calls := h.tx.Calls(); len(calls) != 1 {
		t.Errorf("Radio toggled: %v", calls)
	}
}

func TestRestartFailureGoesIdle(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	h.producer.startErr = errors.New("permission denied")

	h.endOfFile(t)

	if h.c.State() != Idle {
		t.Fatalf("Expected idle, got %s", h.c.State())
	}
	if h.metrics.faults["FILE_OPEN_ERROR"] != 1 {
		t.Errorf("Expected FILE_OPEN_ERROR fault, got %v", h.metrics.faults)
	}
}

func TestPauseToBurstStartFailureGoesIdle(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	h.fire(t)
	h.producer.startErr = errors.New("file removed")

	h.fire(t)

	if h.c.State() != Idle {
		t.Fatalf("Expected idle, got %s", h.c.State())
	}
	if len(h.events.ofType("fault")) != 1 {
		t.Error("Expected the failure to be surfaced once")
	}
}

func TestMetadataOverridesTuning(t *testing.T) {
	h := newHarness(t)
	sidecar := stream.MetadataPath(h.path)
	if err := os.WriteFile(sidecar, []byte("center_frequency=915000000\nsample_rate=2000\n"), 0644); err != nil {
		t.Fatalf("Failed to write sidecar: %v", err)
	}

	if err := h.c.Toggle(oneShot()); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}

	tuning := h.tx.CurrentTuning()
	if tuning.FrequencyHz != 915000000 || tuning.SampleRateHz != 2000 {
		t.Errorf("Sidecar not applied: %+v", tuning)
	}
	if len(h.producer.rates) != 1 || h.producer.rates[0] != 2000 {
		t.Errorf("Expected playback paced at 2000 samples/s, got %v", h.producer.rates)
	}
	// 8000 bytes at 2 bytes per sample and 2000 samples/s.
	if got := h.c.Status().DurationMs; got != 2000 {
		t.Errorf("Expected 2000ms duration, got %d", got)
	}
}

func TestStartPersistsLastConfig(t *testing.T) {
	h := newHarness(t)
	h.persister.err = errors.New("disk full")

	if err := h.c.Toggle(cyclic(7, 2)); err != nil {
		t.Fatalf("Persist failure must not fail the start: %v", err)
	}

	want := config.LastConfig{Path: h.path, Cycle: cyclic(7, 2)}
	if len(h.persister.saved) != 1 || h.persister.saved[0] != want {
		t.Errorf("Expected %+v saved, got %+v", want, h.persister.saved)
	}
}

func TestProgressAndBufferReadyFollowLiveRun(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(oneShot()); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	run := h.c.Status().Run

	h.c.OnProgress(dispatch.Progress{Run: run, Bytes: 16384})
	h.c.OnProgress(dispatch.Progress{Run: "old", Bytes: 99})
	h.c.OnBufferReady(dispatch.BufferReady{Run: run})
	h.c.OnBufferReady(dispatch.BufferReady{Run: "old"})
	h.c.OnBufferReady(dispatch.BufferReady{})

	if got := h.c.Status().ProgressBytes; got != 16384 {
		t.Errorf("Expected 16384 progress bytes, got %d", got)
	}
	if len(h.producer.ready) != 2 || h.producer.ready[0] != run || h.producer.ready[1] != run {
		t.Errorf("Expected two readies for %s, got %v", run, h.producer.ready)
	}

	if err := h.c.Toggle(oneShot()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	h.c.OnBufferReady(dispatch.BufferReady{})
	if len(h.producer.ready) != 2 {
		t.Error("Ready forwarded with no active run")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Toggle(cyclic(5, 3)); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}

	h.c.Shutdown()
	h.c.Shutdown()
	h.check(t)

	disables := 0
	for _, call := range h.tx.Calls() {
		if call == "disable" {
			disables++
		}
	}
	if disables != 1 {
		t.Errorf("Expected one disable, got %d", disables)
	}
}

func TestRequestsThroughDispatcher(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.c.RequestStop(ctx, "alice"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("Expected ErrNotAttached, got %v", err)
	}

	d := dispatch.NewDispatcher(16, nil)
	h.c.Attach(d)
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	if err := h.c.RequestToggle(ctx, h.path, cyclic(5, 3), "alice"); err != nil {
		t.Fatalf("RequestToggle failed: %v", err)
	}
	if h.c.Status().State != CyclicBurst {
		t.Fatalf("Expected burst, got %s", h.c.Status().State)
	}

	if err := h.c.RequestConfigure(ctx, cyclic(0, 0), "alice"); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Expected ErrInvalidRange, got %v", err)
	}
	if err := h.c.RequestStop(ctx, "bob"); err != nil {
		t.Fatalf("RequestStop failed: %v", err)
	}
	if h.c.Status().State != Idle {
		t.Fatalf("Expected idle, got %s", h.c.Status().State)
	}

	d.Stop()
	if err := <-runDone; err != nil {
		t.Errorf("Run returned %v", err)
	}

	var sawAlice, sawBob bool
	for _, r := range h.audit.all() {
		if r.action == "start" && r.actor == "alice" {
			sawAlice = true
		}
		if r.action == "stop" && r.actor == "bob" {
			sawBob = true
		}
	}
	if !sawAlice || !sawBob {
		t.Errorf("Audit actors not recorded: %+v", h.audit.all())
	}
}

type capturePoster struct {
	msgs      []dispatch.Message
	interrupt []bool
}

func (p *capturePoster) Post(msg dispatch.Message, fromInterrupt bool) error {
	p.msgs = append(p.msgs, msg)
	p.interrupt = append(p.interrupt, fromInterrupt)
	return nil
}

func TestNotificationSourcesOnlyPost(t *testing.T) {
	p := &capturePoster{}

	TimerPoster(p)(42)
	cb := StreamCallbacks(p)
	cb.Progress("run-1", 1024)
	cb.Done("run-1", stream.ReasonEndOfFile, nil)

	if len(p.msgs) != 3 {
		t.Fatalf("Expected 3 posts, got %d", len(p.msgs))
	}
	if msg, ok := p.msgs[0].(dispatch.TimerFired); !ok || msg.Token != 42 {
		t.Errorf("Unexpected timer message %+v", p.msgs[0])
	}
	if msg, ok := p.msgs[2].(dispatch.StreamDone); !ok || msg.Reason != stream.ReasonEndOfFile {
		t.Errorf("Unexpected done message %+v", p.msgs[2])
	}
	for i, fromInterrupt := range p.interrupt {
		if !fromInterrupt {
			t.Errorf("Post %d not marked as interrupt context", i)
		}
	}
}
