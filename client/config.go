package client

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the runtime tunables of a Client. Values load from the
// environment, optionally overridden by a YAML file via LoadConfig.
type Config struct {
	// CallTimeout bounds every proxy call. Zero disables the bound and
	// leaves only the caller's context.
	CallTimeout time.Duration `yaml:"call_timeout" env:"OPCDA_CALL_TIMEOUT" env-default:"10s"`

	// EventQueueSize bounds the per-connection callback event channel.
	EventQueueSize int `yaml:"event_queue_size" env:"OPCDA_EVENT_QUEUE_SIZE" env-default:"256"`

	// SubscriptionBuffer bounds each subscription's update channel. When a
	// consumer falls behind the oldest buffered update is dropped.
	SubscriptionBuffer int `yaml:"subscription_buffer" env:"OPCDA_SUBSCRIPTION_BUFFER" env-default:"64"`

	// PumpInterval is the idle interval between apartment message-loop pumps.
	PumpInterval time.Duration `yaml:"pump_interval" env:"OPCDA_PUMP_INTERVAL" env-default:"10ms"`

	// DefaultUpdateRate is the group update rate, in milliseconds, used when
	// a GroupDef does not set one.
	DefaultUpdateRate uint32 `yaml:"default_update_rate_ms" env:"OPCDA_DEFAULT_UPDATE_RATE_MS" env-default:"1000"`

	// BrowsePageSize is the number of item identifiers fetched per browse
	// cursor advance.
	BrowsePageSize int `yaml:"browse_page_size" env:"OPCDA_BROWSE_PAGE_SIZE" env-default:"64"`
}

// DefaultConfig returns a Config populated from the environment, falling
// back to the documented defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	// ReadEnv cannot fail on this struct: every field has a default.
	_ = cleanenv.ReadEnv(cfg)

	return cfg
}

// LoadConfig reads a YAML config file, with environment variables taking
// precedence over file values.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return cfg, nil
}
