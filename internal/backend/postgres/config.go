package postgres

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultNotifyChannel is the LISTEN channel the change trigger publishes to.
const DefaultNotifyChannel = "leaguesync_changes"

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config holds configuration for the PostgreSQL backend.
type Config struct {
	Pool PoolConfig `yaml:"pool"`

	// Tables lists the tables queries may name. Anything else is rejected
	// before SQL is built.
	Tables []string `yaml:"tables"`

	// NotifyChannel is the LISTEN channel carrying row changes.
	// Default: leaguesync_changes
	NotifyChannel string `yaml:"notify_channel"`

	// AutoMigrate installs the change trigger function on startup.
	AutoMigrate bool `yaml:"auto_migrate"`

	// QueryTimeout bounds each pull query.
	// Default: 10s
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}
	for _, t := range c.Tables {
		if !identRe.MatchString(t) {
			return fmt.Errorf("invalid table name %q", t)
		}
	}
	if !identRe.MatchString(c.NotifyChannel) {
		return fmt.Errorf("invalid notify channel %q", c.NotifyChannel)
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	c.Pool.ApplyDefaults()
	if c.NotifyChannel == "" {
		c.NotifyChannel = DefaultNotifyChannel
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
}
