package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gge-tracker/gge-tracker-sub003/internal/directory"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIPort, cfg.ApplicationData.APIPort)

	// The default file is persisted for editing.
	_, err = os.Stat(filepath.Join(dir, DefaultConfigFile))
	assert.NoError(t, err)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	body := `{
		"tracker_data": {
			"variants": [
				{"name": "empire", "feed_url": "https://example.net/feed.xml", "strategy": "single"}
			],
			"accounts": {
				"EmpireEx_2": {"username": "tracker01", "password": "hunter2", "server_id": 9}
			}
		},
		"application_data": {"api_port": 6000}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(body), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.ApplicationData.APIPort)
	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.ApplicationData.Security.RateLimitRPS)
	assert.Equal(t, "info", cfg.ApplicationData.Logging.Level)

	td := cfg.GetTrackerData()
	require.Len(t, td.Variants, 1)
	assert.Equal(t, "empire", td.Variants[0].Name)
	assert.Equal(t, 9, td.Accounts["EmpireEx_2"].ServerID)
}

func variantWith(name, feedURL, strategy string) directory.Variant {
	return directory.Variant{Name: name, FeedURL: feedURL, Strategy: strategy}
}

func TestValidateRejectsBadVariant(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) {
			c.TrackerData.Variants = []directory.Variant{
				variantWith("", "https://example.net/feed.xml", "single")}
		}},
		{"duplicate variant", func(c *Config) {
			c.TrackerData.Variants = []directory.Variant{
				variantWith("empire", "https://example.net/feed.xml", "single"),
				variantWith("empire", "https://example.net/feed2.xml", "single")}
		}},
		{"bad feed url", func(c *Config) {
			c.TrackerData.Variants = []directory.Variant{
				variantWith("empire", "not a url", "single")}
		}},
		{"bad strategy", func(c *Config) {
			c.TrackerData.Variants = []directory.Variant{
				variantWith("empire", "https://example.net/feed.xml", "federated")}
		}},
		{"bad port", func(c *Config) {
			c.ApplicationData.APIPort = 0
		}},
		{"incomplete account", func(c *Config) {
			c.TrackerData.Accounts = map[string]Account{"EmpireEx_2": {Username: "only"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidateAcceptsDefault(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}
