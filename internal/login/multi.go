package login

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gge-tracker/gge-tracker-sub003/internal/engine"
	"github.com/gge-tracker/gge-tracker-sub003/internal/events"
)

// core_lga outcome strings carried in the payload "error" field.
const (
	lgaSuccess        = "success"
	lgaPlayerNotFound = "player not found"
)

var errPlayerNotFound = errors.New("account does not exist on this network")

// MultiRealm logs in against networks with a central account service. The
// outcome travels in the payload rather than the status column, and an
// unknown account can be registered on the fly with a throwaway address,
// after which the login is retried exactly once.
type MultiRealm struct {
	Language string
	Bus      *events.Bus
}

func (s MultiRealm) Login(e *engine.Engine) error {
	err := s.attempt(e)
	if !errors.Is(err, errPlayerNotFound) {
		return err
	}

	if err := s.register(e); err != nil {
		return fmt.Errorf("register account: %w", err)
	}
	return s.attempt(e)
}

func (s MultiRealm) attempt(e *engine.Engine) error {
	user, pass, _ := e.Credentials()

	payload := map[string]any{
		"NOM":  user,
		"PW":   pass,
		"LANG": s.Language,
		"DID":  "0",
	}

	w := e.ExpectCommand("core_lga", nil, engine.DefaultWaitTimeout)
	if err := e.SendJSON("core_lga", payload); err != nil {
		return err
	}

	resp, err := w.Await()
	if err != nil {
		return err
	}

	switch outcome(resp.Payload) {
	case lgaSuccess:
		return nil
	case lgaPlayerNotFound:
		return errPlayerNotFound
	default:
		return fmt.Errorf("login rejected: %q", outcome(resp.Payload))
	}
}

func (s MultiRealm) register(e *engine.Engine) error {
	user, pass, _ := e.Credentials()
	mail := throwawayEmail(user)

	log.Info().Str("zone", e.Zone()).Str("mail", mail).Msg("registering account")

	payload := map[string]any{
		"NOM":  user,
		"PW":   pass,
		"MAIL": mail,
		"LANG": s.Language,
		"AID":  "0",
	}

	w := e.ExpectCommand("core_reg", nil, engine.DefaultWaitTimeout)
	if err := e.SendJSON("core_reg", payload); err != nil {
		return err
	}

	resp, err := w.Await()
	if err != nil {
		return err
	}
	if out := outcome(resp.Payload); out != lgaSuccess {
		return fmt.Errorf("registration rejected: %q", out)
	}

	if s.Bus != nil {
		s.Bus.Emit(context.Background(), events.Event{
			Type:   events.EventZoneRegistered,
			Source: "login",
			Payload: events.ZoneStatus{
				Zone:    e.Zone(),
				Variant: e.Variant(),
				Detail:  user,
			},
		})
	}
	return nil
}

// outcome extracts the "error" field from a core_* payload.
func outcome(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["error"].(string)
	return s
}

// throwawayEmail derives a registration address that is unique per run but
// still traceable to the account name.
func throwawayEmail(user string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return user + "." + id + "@tracker.invalid"
}
