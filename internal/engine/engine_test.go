package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gge-tracker/gge-tracker-sub003/internal/clock"
	"github.com/gge-tracker/gge-tracker-sub003/internal/transport"
)

// fakeTransport records outgoing frames and lets tests inject inbound ones.
type fakeTransport struct {
	mu   sync.Mutex
	h    transport.Handlers
	sent []string
}

func (f *fakeTransport) Open() error {
	if f.h.OnOpen != nil {
		f.h.OnOpen()
	}
	return nil
}

func (f *fakeTransport) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) deliver(text string) { f.h.OnData(text) }

func (f *fakeTransport) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeTransport, *clock.Fake) {
	t.Helper()
	ft := &fakeTransport{}
	clk := clock.NewFake()
	e := New(cfg, clk, nil, func(h transport.Handlers) transport.Transport {
		ft.h = h
		return ft
	})
	require.NoError(t, e.Init())
	require.True(t, e.Opened.IsSet())
	return e, ft, clk
}

func TestBackoffDelaySequence(t *testing.T) {
	want := []time.Duration{
		2 * time.Minute,
		3 * time.Minute,
		5 * time.Minute,
		10 * time.Minute,
		30 * time.Minute,
		60 * time.Minute,
		60 * time.Minute,
		60 * time.Minute,
	}
	for attempt, d := range want {
		assert.Equal(t, d, BackoffDelay(attempt), "attempt %d", attempt)
	}
}

func TestCorrelationFirstRegisteredWins(t *testing.T) {
	e, ft, _ := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	first := e.ExpectCommand("gbd", nil, time.Second)
	second := e.ExpectCommand("gbd", nil, 50*time.Millisecond)

	ft.deliver(`xt%gbd%1%0%{"gpi":{"uid":42}}%`)

	resp, err := first.Await()
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Status)

	_, err = second.Await()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCorrelationPayloadShape(t *testing.T) {
	e, ft, _ := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	w := e.ExpectCommand("gaa", map[string]any{"KID": 2}, time.Second)

	// Wrong kingdom first, then the one the waiter asked for.
	ft.deliver(`xt%gaa%1%0%{"KID":1,"A":[]}%`)
	ft.deliver(`xt%gaa%1%0%{"KID":2,"A":[]}%`)

	resp, err := w.Await()
	require.NoError(t, err)
	payload, ok := resp.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), payload["KID"])
}

func TestAwaitTimeoutDropsWaiter(t *testing.T) {
	e, ft, _ := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	w := e.ExpectCommand("gbd", nil, 30*time.Millisecond)
	_, err := w.Await()
	require.ErrorIs(t, err, ErrTimeout)

	// The frame arriving after the timeout must be dropped, not buffered:
	// a waiter registered afterwards never sees it.
	ft.deliver(`xt%gbd%1%0%`)
	_, err = e.WaitForCommand("gbd", nil, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExpiredUnawaitedWaiterReleasesFrames(t *testing.T) {
	e, ft, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	// Registered but never awaited, as happens when the caller errors out
	// between Expect and Await. Its deadline still evicts it.
	stale := e.ExpectCommand("gbd", nil, 20*time.Millisecond)
	clk.Advance(25 * time.Millisecond)

	live := e.ExpectCommand("gbd", nil, time.Second)
	ft.deliver(`xt%gbd%1%0%{"gpi":{"uid":42}}%`)

	resp, err := live.Await()
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Status)

	_, err = stale.Await()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExpiredWaitersLeaveNoTimers(t *testing.T) {
	e, ft, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	w := e.ExpectCommand("gbd", nil, time.Second)
	require.Equal(t, 1, clk.Pending())

	// A match cancels the expiry timer.
	ft.deliver(`xt%gbd%1%0%`)
	_, err := w.Await()
	require.NoError(t, err)
	assert.Equal(t, 0, clk.Pending())

	// So does an awaited timeout.
	_, err = e.WaitForCommand("gbd", nil, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, clk.Pending())
}

func TestXMLCorrelation(t *testing.T) {
	e, ft, _ := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	w := e.ExpectXML("sys", "apiOK", "0", time.Second)
	ft.deliver(`<msg t='sys'><body action='apiOK' r='0'></body></msg>`)

	resp, err := w.Await()
	require.NoError(t, err)
	assert.Equal(t, "sys", resp.Tag)
	assert.Equal(t, "apiOK", resp.Action)
}

func TestHeartbeatLoop(t *testing.T) {
	e, ft, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	e.PingAndCheck()
	require.Equal(t, []string{"xt%EmpireEx_2%pin%1%"}, ft.frames())
	assert.Equal(t, 0, e.Attempts())

	clk.Advance(60 * time.Second)
	assert.Len(t, ft.frames(), 2)
	clk.Advance(60 * time.Second)
	assert.Len(t, ft.frames(), 3)

	// Loop dies with the connected flag.
	e.Connected.Clear()
	clk.Advance(5 * time.Minute)
	assert.Len(t, ft.frames(), 3)
}

func TestExtraLoginStep(t *testing.T) {
	e, ft, clk := newTestEngine(t, Config{Zone: "EmpireEx_2", ExtraLoginStep: true})

	e.PingAndCheck()
	clk.Advance(time.Second)

	assert.Contains(t, ft.frames(), "xt%EmpireEx_2%sce%1%")
}

func TestRestartSchedulesConnectWithBackoff(t *testing.T) {
	e, _, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	var mu sync.Mutex
	connects := 0
	e.SetConnectFunc(func() {
		mu.Lock()
		connects++
		mu.Unlock()
	})

	e.Restart()
	assert.Equal(t, 1, e.Attempts())

	delay, ok := clk.NextDelay()
	require.True(t, ok)
	assert.GreaterOrEqual(t, delay, BackoffDelay(0))
	assert.Less(t, delay, BackoffDelay(0)+30*time.Second)

	clk.Advance(delay)
	mu.Lock()
	assert.Equal(t, 1, connects)
	mu.Unlock()
}

func TestRestartCounterResetsOnSteadyState(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	e.Restart()
	e.Restart()
	require.Equal(t, 2, e.Attempts())

	e.PingAndCheck()
	assert.Equal(t, 0, e.Attempts())
}

func TestShutdownBlocksRestart(t *testing.T) {
	e, _, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	e.Shutdown()
	e.Restart()
	assert.Equal(t, 0, e.Attempts())
	assert.Equal(t, 0, clk.Pending())
}

func TestProbeTimeoutRestartsOnlyIfStillConnected(t *testing.T) {
	e, _, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})
	e.waitTimeout = 20 * time.Millisecond

	e.Connected.Set()
	e.CheckConnection()

	// The probe times out on the wall clock, then arms the delayed restart.
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, 5*time.Millisecond)

	// A reconnect completing inside the delay window must cancel the restart.
	e.Connected.Clear()
	clk.Advance(probeRetryDelay)
	assert.Equal(t, 0, e.Attempts())
}

func TestProbeTimeoutRestartsWhenConnectionStaysUp(t *testing.T) {
	e, _, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})
	e.waitTimeout = 20 * time.Millisecond

	e.Connected.Set()
	e.CheckConnection()

	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, 5*time.Millisecond)

	clk.Advance(probeRetryDelay)
	assert.Equal(t, 1, e.Attempts())
}

func TestProbeSuccessReschedules(t *testing.T) {
	e, ft, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})
	e.Connected.Set()

	e.CheckConnection()
	require.Eventually(t, func() bool {
		for _, f := range ft.frames() {
			if f == "xt%EmpireEx_2%gpi%1%" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	ft.deliver(`xt%gpi%1%0%{"T":1}%`)

	// Next probe lands a full interval out.
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, 5*time.Millisecond)
	delay, ok := clk.NextDelay()
	require.True(t, ok)
	assert.Equal(t, probeInterval, delay)
}

func TestRemoteCloseArmsOfflineRecheck(t *testing.T) {
	e, ft, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})
	e.Connected.Set()

	// The peer drops the transport underneath us.
	ft.h.OnClose(1006, "abnormal closure")

	require.False(t, e.IsConnected())
	delay, ok := clk.NextDelay()
	require.True(t, ok)
	assert.Equal(t, offlineProbeDelay, delay)

	clk.Advance(offlineProbeDelay)
	assert.Equal(t, 1, e.Attempts())
}

func TestEngineTeardownSkipsOfflineRecheck(t *testing.T) {
	e, ft, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})
	e.SetConnectFunc(func() {})
	e.Connected.Set()

	e.Restart()
	require.Equal(t, 1, clk.Pending())

	// The read loop reporting the close we initiated must not stack an
	// offline re-check on top of the scheduled reconnect.
	ft.h.OnClose(1000, "normal closure")
	assert.Equal(t, 1, clk.Pending())
}

func TestCheckConnectionWhileDisconnected(t *testing.T) {
	e, _, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	e.CheckConnection()
	delay, ok := clk.NextDelay()
	require.True(t, ok)
	require.Equal(t, offlineProbeDelay, delay)

	// Still down when the re-check fires: a restart is scheduled.
	clk.Advance(offlineProbeDelay)
	assert.Equal(t, 1, e.Attempts())
}

func TestCheckConnectionRecoveredBeforeRecheck(t *testing.T) {
	e, _, clk := newTestEngine(t, Config{Zone: "EmpireEx_2"})

	e.CheckConnection()
	e.Connected.Set()
	clk.Advance(offlineProbeDelay)
	assert.Equal(t, 0, e.Attempts())
}
