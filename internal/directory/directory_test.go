package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gge-tracker/gge-tracker-sub003/internal/clock"
	"github.com/gge-tracker/gge-tracker-sub003/internal/store"
)

const multiInstanceFeed = `<network>
  <instances>
    <instance>
      <zone>EmpireEx_2</zone>
      <server>wss://ep2.example.net:443/socket</server>
    </instance>
    <instance>
      <zone>EmpireEx_21</zone>
      <server>wss://ep21.example.net:443/socket</server>
    </instance>
  </instances>
</network>`

const singleInstanceFeed = `<network>
  <instances>
    <instance>
      <zone>EmpirefourkingdomsExGG_3</zone>
      <server>wss://e4k3.example.net:443/socket</server>
    </instance>
  </instances>
</network>`

func newTestStore(t *testing.T, accounts map[string]store.Credentials) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Seed(accounts))
	return s
}

func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoverBuildsConnections(t *testing.T) {
	st := newTestStore(t, map[string]store.Credentials{
		"EmpireEx_2":  {Username: "a", Password: "b", ServerID: 2},
		"EmpireEx_21": {Username: "c", Password: "d", ServerID: 21},
	})
	srv := serveFeed(t, multiInstanceFeed)

	d := New(st, clock.NewFake(), nil)
	d.Discover(context.Background(), []Variant{{
		Name: "empire", FeedURL: srv.URL, Strategy: "single",
	}})

	assert.Equal(t, []string{"EmpireEx_2", "EmpireEx_21"}, d.Zones())

	conn := d.Get("EmpireEx_2")
	require.NotNil(t, conn)
	assert.Equal(t, "empire", conn.Variant)
	assert.Equal(t, "EmpireEx_2", conn.Engine.Zone())
	assert.False(t, conn.Engine.IsConnected())
}

func TestDiscoverSingleInstanceFeed(t *testing.T) {
	st := newTestStore(t, map[string]store.Credentials{
		"EmpirefourkingdomsExGG_3": {Username: "a", Password: "b", ServerID: 3},
	})
	srv := serveFeed(t, singleInstanceFeed)

	d := New(st, clock.NewFake(), nil)
	d.Discover(context.Background(), []Variant{{
		Name: "e4k", FeedURL: srv.URL, Strategy: "multi",
	}})

	assert.Equal(t, []string{"EmpirefourkingdomsExGG_3"}, d.Zones())
}

func TestDiscoverHonorsAllowList(t *testing.T) {
	st := newTestStore(t, map[string]store.Credentials{
		"EmpireEx_2":  {Username: "a", Password: "b", ServerID: 2},
		"EmpireEx_21": {Username: "c", Password: "d", ServerID: 21},
	})
	srv := serveFeed(t, multiInstanceFeed)

	d := New(st, clock.NewFake(), nil)
	d.Discover(context.Background(), []Variant{{
		Name: "empire", FeedURL: srv.URL, Allowed: []string{"EmpireEx_21"},
	}})

	assert.Equal(t, []string{"EmpireEx_21"}, d.Zones())
}

func TestDiscoverSkipsZonesWithoutCredentials(t *testing.T) {
	st := newTestStore(t, map[string]store.Credentials{
		"EmpireEx_2": {Username: "a", Password: "b", ServerID: 2},
		// EmpireEx_21 has a row but no password.
		"EmpireEx_21": {Username: "c"},
	})
	srv := serveFeed(t, multiInstanceFeed)

	d := New(st, clock.NewFake(), nil)
	d.Discover(context.Background(), []Variant{{
		Name: "empire", FeedURL: srv.URL,
	}})

	assert.Equal(t, []string{"EmpireEx_2"}, d.Zones())
}

func TestDiscoverSkipsVariantWithBrokenFeed(t *testing.T) {
	st := newTestStore(t, map[string]store.Credentials{
		"EmpireEx_2":  {Username: "a", Password: "b", ServerID: 2},
		"EmpireEx_21": {Username: "c", Password: "d", ServerID: 21},
	})
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(broken.Close)
	healthy := serveFeed(t, multiInstanceFeed)

	// The broken feed costs only its own variant; the healthy one that
	// follows still gets all its zones.
	d := New(st, clock.NewFake(), nil)
	d.Discover(context.Background(), []Variant{
		{Name: "e4k", FeedURL: broken.URL},
		{Name: "empire", FeedURL: healthy.URL},
	})

	assert.Equal(t, []string{"EmpireEx_2", "EmpireEx_21"}, d.Zones())
}

func TestStatusSnapshot(t *testing.T) {
	st := newTestStore(t, map[string]store.Credentials{
		"EmpireEx_2": {Username: "a", Password: "b", ServerID: 2},
	})
	srv := serveFeed(t, multiInstanceFeed)

	d := New(st, clock.NewFake(), nil)
	d.Discover(context.Background(), []Variant{{Name: "empire", FeedURL: srv.URL}})

	status := d.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "EmpireEx_2", status[0].Zone)
	assert.Equal(t, "empire", status[0].Variant)
	assert.False(t, status[0].Connected)
	assert.Equal(t, 0, status[0].Attempts)
}
