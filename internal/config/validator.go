package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for obvious mistakes before anything
// connects with it.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ApplicationData.APIPort < 1 || c.ApplicationData.APIPort > 65535 {
		return fmt.Errorf("invalid api_port %d", c.ApplicationData.APIPort)
	}

	switch c.ApplicationData.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.ApplicationData.Logging.Level)
	}

	seen := make(map[string]bool)
	for i, v := range c.TrackerData.Variants {
		if v.Name == "" {
			return fmt.Errorf("variant %d has no name", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate variant %q", v.Name)
		}
		seen[v.Name] = true

		if _, err := url.ParseRequestURI(v.FeedURL); err != nil {
			return fmt.Errorf("variant %q has invalid feed_url: %w", v.Name, err)
		}
		switch v.Strategy {
		case "", "single", "multi":
		default:
			return fmt.Errorf("variant %q has unknown strategy %q", v.Name, v.Strategy)
		}
	}

	for zone, acct := range c.TrackerData.Accounts {
		if zone == "" {
			return fmt.Errorf("account entry with empty zone name")
		}
		if acct.Username == "" || acct.Password == "" {
			return fmt.Errorf("account for zone %q is missing a username or password", zone)
		}
	}

	return nil
}
