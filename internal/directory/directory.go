// Package directory discovers game zones from per-variant XML feeds and
// owns the live connection for each one.
package directory

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gge-tracker/gge-tracker-sub003/internal/clock"
	"github.com/gge-tracker/gge-tracker-sub003/internal/engine"
	"github.com/gge-tracker/gge-tracker-sub003/internal/events"
	"github.com/gge-tracker/gge-tracker-sub003/internal/login"
	"github.com/gge-tracker/gge-tracker-sub003/internal/store"
	"github.com/gge-tracker/gge-tracker-sub003/internal/transport"
)

// feedTimeout bounds one feed download.
const feedTimeout = 60 * time.Second

// Variant describes one game network: where to find its server feed, which
// zones to track, and how to log in.
type Variant struct {
	Name           string   `json:"name"`
	FeedURL        string   `json:"feed_url"`
	Allowed        []string `json:"allowed_zones"`
	Strategy       string   `json:"strategy"` // "single" or "multi"
	Stream         bool     `json:"stream"`   // raw TCP stream instead of websocket
	Locale         string   `json:"locale"`
	Referrer       string   `json:"referrer"`
	ExtraLoginStep bool     `json:"extra_login_step"`
}

// feed mirrors the server list XML. A feed carrying a single instance
// still decodes into a one-element slice.
type feed struct {
	XMLName   xml.Name       `xml:"network"`
	Instances []feedInstance `xml:"instances>instance"`
}

type feedInstance struct {
	Zone   string `xml:"zone"`
	Server string `xml:"server"`
}

// Conn bundles everything owned per zone.
type Conn struct {
	Engine  *engine.Engine
	Machine *login.Machine
	Variant string
}

// Directory holds the connection set keyed by zone name.
type Directory struct {
	mu    sync.Mutex
	conns map[string]*Conn

	store  *store.Store
	clk    clock.Clock
	bus    *events.Bus
	client *http.Client
	log    zerolog.Logger
}

// New creates an empty directory. The bus may be nil.
func New(st *store.Store, clk clock.Clock, bus *events.Bus) *Directory {
	return &Directory{
		conns:  make(map[string]*Conn),
		store:  st,
		clk:    clk,
		bus:    bus,
		client: &http.Client{Timeout: feedTimeout},
		log:    log.With().Str("component", "directory").Logger(),
	}
}

// Discover downloads each variant's feed and builds a connection for every
// allowed zone that has complete credentials. A variant whose feed is
// unreachable or unparsable is logged and skipped, the remaining variants
// still get their zones. Zones without credentials are likewise logged and
// skipped, never half-connected.
func (d *Directory) Discover(ctx context.Context, variants []Variant) {
	for _, v := range variants {
		instances, err := d.fetchFeed(ctx, v.FeedURL)
		if err != nil {
			d.log.Warn().Err(err).Str("variant", v.Name).Msg("skipping variant with broken feed")
			continue
		}

		for _, inst := range instances {
			if inst.Zone == "" || inst.Server == "" {
				continue
			}
			if !zoneAllowed(v.Allowed, inst.Zone) {
				continue
			}

			creds, err := d.store.Lookup(inst.Zone)
			if err != nil {
				d.log.Warn().Err(err).Str("zone", inst.Zone).Str("variant", v.Name).
					Msg("skipping zone without usable account")
				continue
			}

			conn := d.buildConn(v, inst.Zone, inst.Server, creds)
			d.Add(inst.Zone, conn)
			d.log.Info().Str("zone", inst.Zone).Str("variant", v.Name).Msg("zone discovered")
		}
	}
}

func (d *Directory) fetchFeed(ctx context.Context, url string) ([]feedInstance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var f feed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return f.Instances, nil
}

func (d *Directory) buildConn(v Variant, zone, serverURL string, creds store.Credentials) *Conn {
	cfg := engine.Config{
		Zone:           zone,
		Variant:        v.Name,
		ServerID:       creds.ServerID,
		Username:       creds.Username,
		Password:       creds.Password,
		ExtraLoginStep: v.ExtraLoginStep,
	}

	var factory engine.TransportFactory
	if v.Stream {
		addr := transport.StreamAddr(serverURL)
		factory = func(h transport.Handlers) transport.Transport {
			return transport.NewTCPStream(addr, h)
		}
	} else {
		factory = func(h transport.Handlers) transport.Transport {
			return transport.NewWebSocket(serverURL, h)
		}
	}

	eng := engine.New(cfg, d.clk, d.bus, factory)

	var strat login.Strategy
	if v.Strategy == "multi" {
		strat = login.MultiRealm{Language: v.Locale, Bus: d.bus}
	} else {
		strat = login.SingleRealm{Language: v.Locale, Referrer: v.Referrer}
	}

	m := login.NewMachine(eng, strat, d.clk, d.bus)
	eng.SetConnectFunc(m.Connect)

	return &Conn{Engine: eng, Machine: m, Variant: v.Name}
}

// Add registers a connection under a zone name, replacing any previous one.
func (d *Directory) Add(zone string, conn *Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[zone] = conn
}

// Get returns the connection for a zone, or nil.
func (d *Directory) Get(zone string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[zone]
}

// Zones lists all known zone names, sorted.
func (d *Directory) Zones() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	zones := make([]string, 0, len(d.conns))
	for zone := range d.conns {
		zones = append(zones, zone)
	}
	sort.Strings(zones)
	return zones
}

// Status snapshots every connection.
func (d *Directory) Status() []events.ZoneStatus {
	d.mu.Lock()
	conns := make(map[string]*Conn, len(d.conns))
	for zone, c := range d.conns {
		conns[zone] = c
	}
	d.mu.Unlock()

	zones := make([]string, 0, len(conns))
	for zone := range conns {
		zones = append(zones, zone)
	}
	sort.Strings(zones)

	out := make([]events.ZoneStatus, 0, len(zones))
	for _, zone := range zones {
		c := conns[zone]
		out = append(out, events.ZoneStatus{
			Zone:      zone,
			Variant:   c.Variant,
			Connected: c.Engine.IsConnected(),
			Attempts:  c.Engine.Attempts(),
		})
	}
	return out
}

// StartAll launches a connect attempt for every connection.
func (d *Directory) StartAll() {
	for _, zone := range d.Zones() {
		conn := d.Get(zone)
		d.log.Info().Str("zone", zone).Msg("starting connection")
		go conn.Machine.Connect()
	}
}

// RestartAll forces a reconnect cycle on every connection.
func (d *Directory) RestartAll() {
	for _, zone := range d.Zones() {
		d.log.Info().Str("zone", zone).Msg("restart requested")
		d.Get(zone).Engine.Restart()
	}
}

// Shutdown closes every connection for good.
func (d *Directory) Shutdown() {
	for _, zone := range d.Zones() {
		d.Get(zone).Engine.Shutdown()
	}
}

func zoneAllowed(allowed []string, zone string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == zone {
			return true
		}
	}
	return false
}
