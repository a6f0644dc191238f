package main

import (
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/jakecoffman/efp"
	"github.com/mitchellh/mapstructure"
	"github.com/op/go-logging"
)

// fileConfig is the CLI configuration. YAML and TOML files share it: both
// are decoded to a generic map first and then onto the defaults.
type fileConfig struct {
	Name          string        `mapstructure:"name"`
	MTU           int           `mapstructure:"mtu"`
	BucketCount   int           `mapstructure:"bucket_count"`
	BucketTimeout uint32        `mapstructure:"bucket_timeout"`
	HOLTimeout    uint32        `mapstructure:"hol_timeout"`
	Tick          time.Duration `mapstructure:"tick"`

	Log    logConfig    `mapstructure:"log"`
	Send   sendConfig   `mapstructure:"send"`
	Recv   recvConfig   `mapstructure:"recv"`
	Replay replayConfig `mapstructure:"replay"`
	Soak   soakConfig   `mapstructure:"soak"`
}

type logConfig struct {
	Level string `mapstructure:"level"`
}

type sendConfig struct {
	Addr    string  `mapstructure:"addr"`
	Size    int     `mapstructure:"size"`
	Rate    float64 `mapstructure:"rate"`
	Count   int     `mapstructure:"count"`
	Stream  uint8   `mapstructure:"stream"`
	Content string  `mapstructure:"content"`
}

type recvConfig struct {
	Listen string        `mapstructure:"listen"`
	Stats  time.Duration `mapstructure:"stats"`
}

type replayConfig struct {
	Port uint16 `mapstructure:"port"`
}

type soakConfig struct {
	Iterations int     `mapstructure:"iterations"`
	MaxSize    int     `mapstructure:"max_size"`
	Drop       float64 `mapstructure:"drop"`
	Reorder    float64 `mapstructure:"reorder"`
	Duplicate  float64 `mapstructure:"duplicate"`
	Rate       float64 `mapstructure:"rate"`
	Seed       int64   `mapstructure:"seed"`
}

func defaultFileConfig() *fileConfig {
	return &fileConfig{
		MTU:           1456,
		BucketCount:   efp.DefaultBucketCount,
		BucketTimeout: 50,
		HOLTimeout:    20,
		Tick:          10 * time.Millisecond,
		Log:           logConfig{Level: "INFO"},
		Send: sendConfig{
			Addr:    "127.0.0.1:8987",
			Size:    8000,
			Rate:    30,
			Count:   300,
			Content: "h264",
		},
		Recv: recvConfig{
			Listen: "0.0.0.0:8987",
			Stats:  5 * time.Second,
		},
		Soak: soakConfig{
			Iterations: 2000,
			MaxSize:    20000,
			Drop:       0.01,
			Reorder:    0.05,
			Duplicate:  0.01,
		},
	}
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]interface{}{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}

	conf := defaultFileConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           conf,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	conf.setDefaults()
	if err := conf.validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

func (c *fileConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "efp-" + uuid.NewString()[:8]
	}
	if c.Tick <= 0 {
		c.Tick = 10 * time.Millisecond
	}
	if c.BucketCount == 0 {
		c.BucketCount = efp.DefaultBucketCount
	}
}

func (c *fileConfig) validate() error {
	var allErrors []error

	if c.MTU < efp.MinMTU || c.MTU > efp.MaxMTU {
		allErrors = append(allErrors, fmt.Errorf("mtu %d must be between %d and %d", c.MTU, efp.MinMTU, efp.MaxMTU))
	}
	if c.BucketCount <= 0 || c.BucketCount > 1<<16 || bits.OnesCount(uint(c.BucketCount)) != 1 {
		allErrors = append(allErrors, fmt.Errorf("bucket_count %d must be a power of two no larger than 65536", c.BucketCount))
	}
	if c.BucketTimeout == 0 {
		allErrors = append(allErrors, fmt.Errorf("bucket_timeout must be positive"))
	}
	if c.HOLTimeout >= c.BucketTimeout {
		allErrors = append(allErrors, fmt.Errorf("hol_timeout %d must be less than bucket_timeout %d", c.HOLTimeout, c.BucketTimeout))
	}
	if _, err := logging.LogLevel(c.Log.Level); err != nil {
		allErrors = append(allErrors, fmt.Errorf("log.level %q is not a level", c.Log.Level))
	}

	allErrors = append(allErrors, c.Send.validate(c.MTU)...)
	allErrors = append(allErrors, c.Soak.validate()...)
	if c.Recv.Stats < 0 {
		allErrors = append(allErrors, fmt.Errorf("recv.stats must not be negative"))
	}
	return writeErr(allErrors)
}

func (s *sendConfig) validate(mtu int) []error {
	var errs []error
	if s.Size <= 0 || (mtu >= efp.MinMTU && s.Size > efp.MaxFrameSize(mtu)) {
		errs = append(errs, fmt.Errorf("send.size %d out of range", s.Size))
	}
	if s.Rate < 0 {
		errs = append(errs, fmt.Errorf("send.rate must not be negative"))
	}
	if s.Count < 0 {
		errs = append(errs, fmt.Errorf("send.count must not be negative"))
	}
	if _, err := efp.ParseContentType(s.Content); err != nil {
		errs = append(errs, fmt.Errorf("send.content: %v", err))
	}
	return errs
}

func (s *soakConfig) validate() []error {
	var errs []error
	probabilities := []struct {
		name  string
		value float64
	}{{"drop", s.Drop}, {"reorder", s.Reorder}, {"duplicate", s.Duplicate}}
	for _, p := range probabilities {
		if p.value < 0 || p.value > 1 {
			errs = append(errs, fmt.Errorf("soak.%s %v must be between 0 and 1", p.name, p.value))
		}
	}
	if s.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("soak.max_size must be positive"))
	}
	if s.Rate < 0 {
		errs = append(errs, fmt.Errorf("soak.rate must not be negative"))
	}
	return errs
}

func writeErr(allErrors []error) error {
	if len(allErrors) > 0 {
		var messages []string
		for _, err := range allErrors {
			messages = append(messages, err.Error())
		}
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return nil
}

// protocolConfig builds the library configuration for one end of a link.
func (c *fileConfig) protocolConfig(mode efp.Mode) *efp.Config {
	config := efp.NewDefaultConfig()
	config.Name = c.Name
	config.MTU = c.MTU
	config.Mode = mode
	config.BucketCount = c.BucketCount
	config.BucketTimeout = c.BucketTimeout
	config.HOLTimeout = c.HOLTimeout
	config.TickInterval = c.Tick
	return config
}

func logCounters(name string, p *efp.Protocol) {
	counters := p.Counters()
	var parts []string
	for i, n := range counters {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", efp.CounterNames[i], n))
		}
	}
	log.Infof("[%s] %s", name, strings.Join(parts, " | "))
}
