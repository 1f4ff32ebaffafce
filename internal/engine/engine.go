// Package engine implements the connection core. An Engine owns one
// transport for one game zone, frames outgoing commands, decodes inbound
// frames, correlates them with outstanding waiters, and keeps the
// connection alive with heartbeats, periodic probes, and backoff-scheduled
// restarts. The transport itself carries no request ids, so correlation is
// purely by command name and payload shape, first registered first served.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gge-tracker/gge-tracker-sub003/internal/clock"
	"github.com/gge-tracker/gge-tracker-sub003/internal/events"
	"github.com/gge-tracker/gge-tracker-sub003/internal/protocol"
	"github.com/gge-tracker/gge-tracker-sub003/internal/syncutil"
	"github.com/gge-tracker/gge-tracker-sub003/internal/transport"
)

// Steady-state commands.
const (
	CmdHeartbeat  = "pin" // fire-and-forget keepalive
	CmdProbe      = "gpi" // no-op status command, reply expected
	CmdExtraLogin = "sce" // optional housekeeping step after login
)

const (
	// DefaultWaitTimeout bounds correlated calls that pass no explicit deadline.
	DefaultWaitTimeout = 5 * time.Second

	heartbeatInterval = 60 * time.Second
	probeInterval     = 15 * time.Minute
	probeRetryDelay   = 10 * time.Second
	offlineProbeDelay = 10 * time.Minute

	backoffJitterSeconds = 30
)

// ErrTimeout is returned by correlated calls when no matching frame arrived
// within the deadline. It never affects the connection itself.
var ErrTimeout = errors.New("timed out waiting for matching response")

// backoffMinutes holds the total pre-jitter reconnect delay, in minutes,
// for the first five consecutive restart attempts. From the fifth attempt
// on the delay is a flat hour.
var backoffMinutes = [...]int{2, 3, 5, 10, 30}

// BackoffDelay returns the pre-jitter reconnect delay for an attempt count.
func BackoffDelay(attempt int) time.Duration {
	if attempt >= len(backoffMinutes) {
		return 60 * time.Minute
	}
	return time.Duration(backoffMinutes[attempt]) * time.Minute
}

// TransportFactory builds a fresh transport wired to the given handlers.
// Each (re)connect attempt consumes one transport.
type TransportFactory func(transport.Handlers) transport.Transport

// Config identifies one zone connection.
type Config struct {
	Zone           string
	Variant        string
	ServerID       int
	Username       string
	Password       string
	ExtraLoginStep bool
}

// pendingRequest is one outstanding correlated call.
type pendingRequest struct {
	kind    protocol.Kind
	command string
	match   any
	tag     string
	action  string
	room    string

	resp   *protocol.Response
	done   *syncutil.Flag
	expire clock.Timer
}

func (p *pendingRequest) matches(resp *protocol.Response) bool {
	if p.kind != resp.Kind {
		return false
	}
	if p.kind == protocol.KindDelimited {
		return p.command == resp.Command && protocol.PayloadMatches(p.match, resp.Payload)
	}
	return p.tag == resp.Tag && p.action == resp.Action && p.room == resp.Room
}

// Engine drives one zone connection.
type Engine struct {
	mu sync.Mutex

	cfg Config
	clk clock.Clock
	bus *events.Bus
	log zerolog.Logger

	newTransport TransportFactory
	connectFn    func()

	tr      transport.Transport
	pending []*pendingRequest

	attempts    int
	waitTimeout time.Duration

	// Opened tracks the transport, Connected the logged-in steady state,
	// Closed a deliberate process-level shutdown.
	Opened    *syncutil.Flag
	Connected *syncutil.Flag
	Closed    *syncutil.Flag
}

// New creates an Engine for one zone. The bus may be nil.
func New(cfg Config, clk clock.Clock, bus *events.Bus, factory TransportFactory) *Engine {
	return &Engine{
		cfg:          cfg,
		clk:          clk,
		bus:          bus,
		log:          log.With().Str("component", "engine").Str("zone", cfg.Zone).Logger(),
		newTransport: factory,
		waitTimeout:  DefaultWaitTimeout,
		Opened:       syncutil.NewFlag(),
		Connected:    syncutil.NewFlag(),
		Closed:       syncutil.NewFlag(),
	}
}

// SetConnectFunc registers the routine that runs a full connect attempt.
// Restart schedules it after the backoff delay.
func (e *Engine) SetConnectFunc(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectFn = fn
}

// Zone returns the logical server identifier.
func (e *Engine) Zone() string { return e.cfg.Zone }

// Variant returns the game variant this connection belongs to.
func (e *Engine) Variant() string { return e.cfg.Variant }

// Credentials returns the account bound to this connection.
func (e *Engine) Credentials() (username, password string, serverID int) {
	return e.cfg.Username, e.cfg.Password, e.cfg.ServerID
}

// IsConnected reports whether the connection is in logged-in steady state.
func (e *Engine) IsConnected() bool { return e.Connected.IsSet() }

// Attempts returns the consecutive-restart counter.
func (e *Engine) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// Init builds a fresh transport, wires its events into the engine, and
// opens it. The Opened flag is set once the transport reports connected.
func (e *Engine) Init() error {
	h := transport.Handlers{
		OnOpen: func() {
			e.Opened.Set()
		},
		OnData: e.handleData,
		OnError: func(err error) {
			e.log.Warn().Err(err).Msg("transport error")
			e.Restart()
		},
		OnClose: func(code int, reason string) {
			e.log.Info().Int("code", code).Str("reason", reason).Msg("transport closed")
			e.Disconnect(true)
		},
	}

	tr := e.newTransport(h)
	e.mu.Lock()
	e.tr = tr
	e.mu.Unlock()
	e.Opened.Clear()

	return tr.Open()
}

// SendRaw frames and sends a delimited command.
func (e *Engine) SendRaw(command string, args ...string) error {
	return e.send(protocol.BuildCommand(e.cfg.Zone, command, args...))
}

// SendJSON frames and sends a delimited command whose single argument is
// the JSON serialization of data.
func (e *Engine) SendJSON(command string, data any) error {
	frame, err := protocol.BuildJSONCommand(e.cfg.Zone, command, data)
	if err != nil {
		return err
	}
	return e.send(frame)
}

// SendXML frames and sends an XML envelope.
func (e *Engine) SendXML(tag, action, room, body string) error {
	return e.send(protocol.BuildXML(tag, action, room, body))
}

func (e *Engine) send(frame string) error {
	e.mu.Lock()
	tr := e.tr
	e.mu.Unlock()
	if tr == nil {
		return fmt.Errorf("zone %s: transport not open", e.cfg.Zone)
	}
	e.log.Trace().Str("frame", frame).Msg("send")
	return tr.Send(frame)
}

// Waiter is a registered correlated call. Registration happens at Expect
// time so a reply racing the send cannot slip past unmatched.
type Waiter struct {
	e       *Engine
	p       *pendingRequest
	timeout time.Duration
	desc    string
}

// ExpectCommand registers a waiter for a delimited reply. The match spec
// follows protocol.PayloadMatches semantics.
func (e *Engine) ExpectCommand(command string, match any, timeout time.Duration) *Waiter {
	p := &pendingRequest{
		kind:    protocol.KindDelimited,
		command: command,
		match:   match,
		done:    syncutil.NewFlag(),
	}
	e.register(p, timeout)
	return &Waiter{e: e, p: p, timeout: timeout, desc: "command " + command}
}

// ExpectXML registers a waiter for an XML reply.
func (e *Engine) ExpectXML(tag, action, room string, timeout time.Duration) *Waiter {
	p := &pendingRequest{
		kind:   protocol.KindXML,
		tag:    tag,
		action: action,
		room:   room,
		done:   syncutil.NewFlag(),
	}
	e.register(p, timeout)
	return &Waiter{e: e, p: p, timeout: timeout, desc: "xml " + tag + "/" + action}
}

// register adds a pending request and arms its expiry. The deadline belongs
// to the request, not to Await: a waiter whose caller bails out before
// awaiting still leaves the list on time instead of stealing a frame from
// the next registration.
func (e *Engine) register(p *pendingRequest, timeout time.Duration) {
	// Armed before the request is visible to handleData, so a matching
	// frame never races a nil timer.
	p.expire = e.clk.AfterFunc(timeout, func() { e.expirePending(p) })
	e.mu.Lock()
	e.pending = append(e.pending, p)
	e.mu.Unlock()
}

// expirePending drops an unmatched request when its deadline elapses.
func (e *Engine) expirePending(p *pendingRequest) {
	e.mu.Lock()
	if p.resp == nil {
		e.removeLocked(p)
	}
	e.mu.Unlock()
	p.done.Set()
}

// Await blocks until the waiter matches or its deadline elapses. On
// timeout the waiter is removed from the pending list so later unrelated
// frames cannot spuriously match it.
func (w *Waiter) Await() (*protocol.Response, error) {
	fired := w.p.done.Wait(w.timeout)
	w.p.expire.Stop()

	if fired && w.p.resp != nil {
		return w.p.resp, nil
	}
	if fired {
		// The expiry removed the request before this Await got to it.
		return nil, fmt.Errorf("%s: %w", w.desc, ErrTimeout)
	}

	w.e.mu.Lock()
	if w.p.resp != nil {
		// Matched in the window between the deadline and this lock.
		w.e.mu.Unlock()
		return w.p.resp, nil
	}
	w.e.removeLocked(w.p)
	w.e.mu.Unlock()

	return nil, fmt.Errorf("%s: %w", w.desc, ErrTimeout)
}

// WaitForCommand registers and awaits a delimited reply in one call.
func (e *Engine) WaitForCommand(command string, match any, timeout time.Duration) (*protocol.Response, error) {
	return e.ExpectCommand(command, match, timeout).Await()
}

// WaitForXML registers and awaits an XML reply in one call.
func (e *Engine) WaitForXML(tag, action, room string, timeout time.Duration) (*protocol.Response, error) {
	return e.ExpectXML(tag, action, room, timeout).Await()
}

// removeLocked must be called with e.mu held.
func (e *Engine) removeLocked(target *pendingRequest) {
	for i, p := range e.pending {
		if p == target {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

// handleData decodes one inbound frame and fulfills the first structurally
// matching pending request, removing it atomically with the match. A frame
// satisfies at most one waiter; unmatched frames are dropped, never
// buffered.
func (e *Engine) handleData(text string) {
	resp, err := protocol.Decode(text)
	if err != nil {
		e.log.Warn().Err(err).Msg("dropping undecodable frame")
		return
	}

	e.mu.Lock()
	for i, p := range e.pending {
		if p.matches(resp) {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			p.resp = resp
			e.mu.Unlock()
			p.expire.Stop()
			p.done.Set()
			return
		}
	}
	e.mu.Unlock()

	if resp.Kind == protocol.KindDelimited {
		e.log.Trace().Str("command", resp.Command).Msg("unmatched frame dropped")
	} else {
		e.log.Trace().Str("action", resp.Action).Msg("unmatched frame dropped")
	}
}

// PingAndCheck enters steady state after a successful login: marks the
// connection live, resets the restart counter, fires the heartbeat loop and
// the optional extra login step.
func (e *Engine) PingAndCheck() {
	e.mu.Lock()
	e.attempts = 0
	e.mu.Unlock()

	e.Connected.Set()
	e.log.Info().Msg("connection established")
	e.emitStatus(events.EventZoneConnected, "")

	if err := e.SendRaw(CmdHeartbeat); err != nil {
		e.log.Warn().Err(err).Msg("heartbeat send failed")
	}
	e.clk.AfterFunc(heartbeatInterval, e.heartbeat)

	if e.cfg.ExtraLoginStep {
		e.clk.AfterFunc(time.Second, func() {
			if e.Connected.IsSet() {
				if err := e.SendRaw(CmdExtraLogin); err != nil {
					e.log.Warn().Err(err).Msg("extra login step failed")
				}
			}
		})
	}
}

// heartbeat re-arms itself while the connection stays live; the loop dies
// implicitly once Connected clears.
func (e *Engine) heartbeat() {
	if !e.Connected.IsSet() {
		return
	}
	if err := e.SendRaw(CmdHeartbeat); err != nil {
		e.log.Warn().Err(err).Msg("heartbeat send failed")
	}
	e.clk.AfterFunc(heartbeatInterval, e.heartbeat)
}

// CheckConnection probes the connection with a no-op status command and
// reschedules itself while the probe succeeds. Invoked on an already
// disconnected engine it instead arms a one-shot re-check that restarts
// only if the connection still has not come back.
func (e *Engine) CheckConnection() {
	if !e.Connected.IsSet() {
		e.clk.AfterFunc(offlineProbeDelay, func() {
			if !e.Connected.IsSet() && !e.Closed.IsSet() {
				e.log.Warn().Msg("still disconnected after offline re-check")
				e.Restart()
			}
		})
		return
	}
	go e.probe()
}

func (e *Engine) probe() {
	w := e.ExpectCommand(CmdProbe, nil, e.waitTimeout)
	if err := e.SendRaw(CmdProbe); err != nil {
		e.log.Warn().Err(err).Msg("probe send failed")
	}

	if _, err := w.Await(); err != nil {
		e.log.Warn().Err(err).Msg("connection probe unanswered")
		e.clk.AfterFunc(probeRetryDelay, func() {
			// Re-read the flag right before acting: a reconnect may have
			// completed inside the delay window, and restarting a fresh
			// connection here would fight the backoff counter.
			if e.Connected.IsSet() {
				e.Restart()
			}
		})
		return
	}

	e.clk.AfterFunc(probeInterval, e.CheckConnection)
}

// Disconnect clears the live state and closes the transport; the Engine
// itself survives for reuse. With reconnect set, tearing down a transport
// nobody had closed yet arms the offline re-check, so a connection the peer
// dropped comes back without waiting for the next probe. Engine-driven
// teardowns pass false or find the transport already consumed, so the
// re-check never piles on top of an arranged reconnect.
func (e *Engine) Disconnect(reconnect bool) {
	e.mu.Lock()
	tr := e.tr
	e.tr = nil
	e.mu.Unlock()

	wasConnected := e.Connected.IsSet()
	e.Connected.Clear()
	e.Opened.Clear()

	if tr != nil {
		_ = tr.Close()
	}
	if wasConnected {
		e.emitStatus(events.EventZoneDisconnected, "")
	}
	if reconnect && tr != nil && !e.Closed.IsSet() {
		e.CheckConnection()
	}
}

// Restart tears the connection down and schedules a fresh connect attempt
// after the backoff delay for the current consecutive-attempt count. The
// counter resets only on the next successful PingAndCheck.
func (e *Engine) Restart() {
	if e.Closed.IsSet() {
		return
	}

	e.mu.Lock()
	attempt := e.attempts
	e.attempts++
	connect := e.connectFn
	e.mu.Unlock()

	delay := BackoffDelay(attempt) + time.Duration(rand.Intn(backoffJitterSeconds))*time.Second
	e.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
	e.emitStatus(events.EventZoneRestarting, delay.String())

	e.Disconnect(false)

	if connect != nil {
		e.clk.AfterFunc(delay, connect)
	}
}

// Shutdown closes the connection for good; no reconnect follows.
func (e *Engine) Shutdown() {
	e.Closed.Set()
	e.Disconnect(false)
}

func (e *Engine) emitStatus(t events.EventType, detail string) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(context.Background(), events.Event{
		Type:   t,
		Source: "engine",
		Payload: events.ZoneStatus{
			Zone:      e.cfg.Zone,
			Variant:   e.cfg.Variant,
			Connected: e.Connected.IsSet(),
			Attempts:  e.Attempts(),
			Detail:    detail,
		},
	})
}
