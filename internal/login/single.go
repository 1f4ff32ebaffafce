package login

import (
	"fmt"

	"github.com/gge-tracker/gge-tracker-sub003/internal/engine"
)

// lli status codes.
const statusInvalidCredentials = 21

// SingleRealm logs in against networks where the account lives directly on
// the zone server. One lli exchange decides the outcome.
type SingleRealm struct {
	// Language and Referrer vary per network deployment.
	Language string
	Referrer string
}

func (s SingleRealm) Login(e *engine.Engine) error {
	user, pass, serverID := e.Credentials()

	payload := map[string]any{
		"CONM":  175,
		"RTM":   24,
		"ID":    0,
		"PL":    1,
		"NOM":   user,
		"PW":    pass,
		"LT":    nil,
		"LANG":  s.Language,
		"DID":   "0",
		"AID":   "1674256959939529708",
		"KID":   "",
		"REF":   s.Referrer,
		"GCI":   "",
		"SID":   serverID,
		"PLFID": 1,
	}

	w := e.ExpectCommand("lli", nil, engine.DefaultWaitTimeout)
	if err := e.SendJSON("lli", payload); err != nil {
		return err
	}

	resp, err := w.Await()
	if err != nil {
		return err
	}

	switch resp.Status {
	case 0:
		return nil
	case statusInvalidCredentials:
		return ErrInvalidCredentials
	default:
		return fmt.Errorf("login rejected with status %d", resp.Status)
	}
}
