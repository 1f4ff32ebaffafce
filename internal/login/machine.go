// Package login drives a connection from a freshly opened transport to the
// logged-in steady state. The Machine owns the shared XML handshake
// prologue; realm-specific login exchanges are pluggable strategies.
package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gge-tracker/gge-tracker-sub003/internal/clock"
	"github.com/gge-tracker/gge-tracker-sub003/internal/engine"
	"github.com/gge-tracker/gge-tracker-sub003/internal/events"
)

const (
	// openTimeout bounds the wait for the transport to come up.
	openTimeout = 60 * time.Second

	// retryDelay is the pause before re-running a failed connect attempt.
	retryDelay = 5 * time.Minute

	// apiVersion is the protocol version announced during the handshake.
	apiVersion = "166"
)

// ErrInvalidCredentials marks a login rejected for bad credentials. It is
// terminal: the machine gives up instead of retrying.
var ErrInvalidCredentials = errors.New("login rejected: invalid credentials")

// Strategy performs the realm-specific login exchange once the handshake
// prologue has completed.
type Strategy interface {
	Login(e *engine.Engine) error
}

// Machine runs connect attempts for one zone.
type Machine struct {
	eng   *engine.Engine
	strat Strategy
	clk   clock.Clock
	bus   *events.Bus
	log   zerolog.Logger
}

// NewMachine wires a machine to its engine and strategy. The bus may be nil.
func NewMachine(eng *engine.Engine, strat Strategy, clk clock.Clock, bus *events.Bus) *Machine {
	return &Machine{
		eng:   eng,
		strat: strat,
		clk:   clk,
		bus:   bus,
		log:   log.With().Str("component", "login").Str("zone", eng.Zone()).Logger(),
	}
}

// Engine returns the engine this machine drives.
func (m *Machine) Engine() *engine.Engine { return m.eng }

// Connect runs one full connect attempt: transport, handshake, login,
// steady state. Any failure except bad credentials schedules a retry; a
// panic inside the attempt is contained and treated the same way.
func (m *Machine) Connect() {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("connect attempt panicked")
			m.retryLater()
		}
	}()

	if err := m.connect(); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			m.log.Error().Err(err).Msg("giving up on zone")
			m.emitLoginFailed(err)
			return
		}
		m.log.Warn().Err(err).Dur("retry_in", retryDelay).Msg("connect attempt failed")
		m.retryLater()
	}
}

func (m *Machine) retryLater() {
	m.clk.AfterFunc(retryDelay, m.Connect)
}

func (m *Machine) connect() error {
	if err := m.eng.Init(); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	if !m.eng.Opened.Wait(openTimeout) {
		m.eng.Disconnect(false)
		return errors.New("transport did not open in time")
	}

	if err := m.handshake(); err != nil {
		m.eng.Disconnect(false)
		return fmt.Errorf("handshake: %w", err)
	}

	if err := m.strat.Login(m.eng); err != nil {
		m.eng.Disconnect(false)
		return err
	}

	m.eng.PingAndCheck()
	m.eng.CheckConnection()
	return nil
}

// handshake runs the fixed XML prologue every realm shares: version check,
// zone login, auto-join, round trip. Replies to the version check and the
// zone login arrive interleaved, so both waiters are registered before the
// requests go out.
func (m *Machine) handshake() error {
	apiOK := m.eng.ExpectXML("sys", "apiOK", "0", engine.DefaultWaitTimeout)
	if err := m.eng.SendXML("sys", "verChk", "0", fmt.Sprintf("<ver v='%s' />", apiVersion)); err != nil {
		return err
	}

	nfo := m.eng.ExpectCommand("nfo", nil, engine.DefaultWaitTimeout)
	body := fmt.Sprintf("<login z='%s'><nick><![CDATA[]]></nick><pword><![CDATA[]]></pword></login>", m.eng.Zone())
	if err := m.eng.SendXML("sys", "login", "0", body); err != nil {
		return err
	}

	resp, err := nfo.Await()
	if err != nil {
		return err
	}
	if resp.Status != 0 {
		return fmt.Errorf("zone login refused with status %d", resp.Status)
	}
	if _, err := apiOK.Await(); err != nil {
		return err
	}

	join := m.eng.ExpectXML("sys", "joinOK", "1", engine.DefaultWaitTimeout)
	if err := m.eng.SendXML("sys", "autoJoin", "-1", ""); err != nil {
		return err
	}
	if _, err := join.Await(); err != nil {
		return err
	}

	rt := m.eng.ExpectXML("sys", "roundTripRes", "1", engine.DefaultWaitTimeout)
	if err := m.eng.SendXML("sys", "roundTrip", "1", ""); err != nil {
		return err
	}
	if _, err := rt.Await(); err != nil {
		return err
	}

	return nil
}

func (m *Machine) emitLoginFailed(err error) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(context.Background(), events.Event{
		Type:   events.EventZoneLoginFailed,
		Source: "login",
		Payload: events.ZoneStatus{
			Zone:    m.eng.Zone(),
			Variant: m.eng.Variant(),
			Detail:  err.Error(),
		},
	})
}
