package fanctrld

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/mdouchement/fanctrld/session"
	"github.com/mdouchement/fanctrld/target"
	"go.yaml.in/yaml/v4"
)

// SerialDummy selects the in-memory board instead of a real OpenFan.
const SerialDummy = "dummy"

type Config struct {
	Debug   bool   `yaml:"debug"`
	LogFile string `yaml:"log_file"`

	Listen string `yaml:"listen"`
	HTTP   string `yaml:"http"`
	Store  string `yaml:"store"`
	Serial string `yaml:"serial"`

	PoolSize             int       `yaml:"pool_size"`
	IdleTimeout          *Duration `yaml:"idle_timeout"`  // 0s disables it.
	LoginTimeout         *Duration `yaml:"login_timeout"` // 0s disables it.
	RequireAuthForConfig *bool     `yaml:"require_auth_for_config"`

	QueueSize      int      `yaml:"queue_size"`
	EnqueueTimeout Duration `yaml:"enqueue_timeout"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	Housekeeping   Duration `yaml:"housekeeping"`
	StaleTimeout   Duration `yaml:"stale_timeout"`
	TachoInterval  Duration `yaml:"tacho_interval"`
	HardwareFault  string   `yaml:"hardware_fault"`

	ChannelSettings map[string]*Channel          `yaml:"channels"`
	Channels        map[int]target.ChannelConfig `yaml:"-"`
}

// Channel seeds the configuration of a channel the store does not know yet.
// Omitted keys keep the firmware defaults.
type Channel struct {
	Enabled  *bool   `yaml:"enabled"`
	LowTemp  *uint32 `yaml:"low_temp"`
	HighTemp *uint32 `yaml:"high_temp"`
	MinDuty  *uint8  `yaml:"min_duty"`
}

func (ch Channel) ChannelConfig() target.ChannelConfig {
	cfg := target.DefaultChannelConfig()
	if ch.Enabled != nil {
		cfg.Enabled = *ch.Enabled
	}
	if ch.LowTemp != nil {
		cfg.LowTemp = *ch.LowTemp
	}
	if ch.HighTemp != nil {
		cfg.HighTemp = *ch.HighTemp
	}
	if ch.MinDuty != nil {
		cfg.MinDuty = *ch.MinDuty
	}
	return cfg
}

// Default returns the configuration used when no file is given.
func Default() Config {
	c := Config{}
	c.defaults()
	return c
}

func Load(path string) (Config, error) {
	var c Config

	f, err := os.Open(path)
	if err != nil {
		return c, err
	}
	defer f.Close()

	codec := yaml.NewDecoder(f)
	if err = codec.Decode(&c); err != nil {
		return c, err
	}

	c.defaults()
	return c, c.validate()
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":1234"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	if c.IdleTimeout == nil {
		c.IdleTimeout = &Duration{Duration: 10 * time.Second}
	}
	if c.LoginTimeout == nil {
		c.LoginTimeout = &Duration{Duration: 10 * time.Second}
	}
	if c.RequireAuthForConfig == nil {
		c.RequireAuthForConfig = ToPtr(true)
	}

	if c.QueueSize <= 0 {
		c.QueueSize = 10
	}
	c.EnqueueTimeout = c.EnqueueTimeout.Or(10 * time.Millisecond)
	c.ReadTimeout = c.ReadTimeout.Or(100 * time.Millisecond)
	c.Housekeeping = c.Housekeeping.Or(time.Second)
	c.TachoInterval = c.TachoInterval.Or(time.Second)
	if c.HardwareFault == "" {
		c.HardwareFault = string(target.FaultHalt)
	}
	if c.Channels == nil {
		c.Channels = make(map[int]target.ChannelConfig)
	}
}

func (c *Config) validate() error {
	switch target.FaultPolicy(c.HardwareFault) {
	case target.FaultHalt, target.FaultIsolate:
	default:
		return fmt.Errorf("hardware_fault: unsupported policy %s", strconv.Quote(c.HardwareFault))
	}

	if c.IdleTimeout.Duration < 0 || c.LoginTimeout.Duration < 0 {
		return errors.New("idle_timeout, login_timeout: must not be negative")
	}
	if c.StaleTimeout.Duration < 0 {
		return errors.New("stale_timeout: must not be negative")
	}

	reName := regexp.MustCompile(`^fan(\d+)$`)
	for name, settings := range c.ChannelSettings {
		match := reName.FindStringSubmatch(name)
		if len(match) != 2 {
			return fmt.Errorf("%s: invalid name", name)
		}
		id, err := strconv.Atoi(match[1])
		if err != nil || id < 1 || id > target.NumChannels {
			return fmt.Errorf("%s: invalid number range", name)
		}
		if settings == nil {
			return fmt.Errorf("%s: empty settings", name)
		}

		cfg := settings.ChannelConfig()
		if err = cfg.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		c.Channels[id-1] = cfg // fan1 => 0, fan6 => 5
	}

	return nil
}

func (c Config) EngineOptions() target.Options {
	return target.Options{
		QueueSize:      c.QueueSize,
		EnqueueTimeout: c.EnqueueTimeout.Duration,
		ReadTimeout:    c.ReadTimeout.Duration,
		Housekeeping:   c.Housekeeping.Duration,
		StaleTimeout:   c.StaleTimeout.Duration,
		FaultPolicy:    target.FaultPolicy(c.HardwareFault),
	}
}

func (c Config) SessionOptions() session.Options {
	return session.Options{
		PoolSize:     c.PoolSize,
		IdleTimeout:  c.IdleTimeout.Duration,
		LoginTimeout: c.LoginTimeout.Duration,
	}
}
