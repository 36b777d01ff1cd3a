// Package config loads the runtime tuning file for vivbliss-watch.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bling0390/vivbliss-watch/errs"
)

const (
	defaultWorkers    = 4
	defaultQueueDepth = 64

	defaultDispatchBatch    = 20
	defaultDispatchInterval = time.Minute
	defaultCrawlInterval    = 24 * time.Hour
)

// Duration wraps time.Duration with yaml string parsing ("1m", "24h").
type Duration struct {
	value time.Duration
}

// UnmarshalYAML parses a Go duration string. Empty values stay zero so the
// loader can apply defaults.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	text := strings.TrimSpace(node.Value)
	if text == "" {
		d.value = 0
		return nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	if parsed <= 0 {
		return fmt.Errorf("duration must be > 0, got %q", node.Value)
	}
	d.value = parsed
	return nil
}

// Or returns the parsed duration or the fallback when unset.
func (d Duration) Or(fallback time.Duration) time.Duration {
	if d.value <= 0 {
		return fallback
	}
	return d.value
}

// DispatchConfig tunes the outbox drain loop.
type DispatchConfig struct {
	BatchSize int      `yaml:"batchSize"`
	Interval  Duration `yaml:"interval"`
}

// EffectiveBatchSize returns the configured batch size or the default.
func (c DispatchConfig) EffectiveBatchSize() int {
	if c.BatchSize <= 0 {
		return defaultDispatchBatch
	}
	return c.BatchSize
}

// EffectiveInterval returns the configured interval or the one-minute default.
func (c DispatchConfig) EffectiveInterval() time.Duration {
	return c.Interval.Or(defaultDispatchInterval)
}

// CrawlConfig tunes the extractor schedule.
type CrawlConfig struct {
	Interval   Duration `yaml:"interval"`
	RunAtStart bool     `yaml:"runAtStart"`
}

// EffectiveInterval returns the configured interval or the daily default.
func (c CrawlConfig) EffectiveInterval() time.Duration {
	return c.Interval.Or(defaultCrawlInterval)
}

// PoolConfig sizes the shared worker pool.
type PoolConfig struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queueDepth"`
}

// EffectiveWorkers returns the configured worker count or the default.
func (c PoolConfig) EffectiveWorkers() int {
	if c.Workers <= 0 {
		return defaultWorkers
	}
	return c.Workers
}

// EffectiveQueueDepth returns the configured queue depth or the default.
func (c PoolConfig) EffectiveQueueDepth() int {
	if c.QueueDepth <= 0 {
		return defaultQueueDepth
	}
	return c.QueueDepth
}

// AppConfig is the yaml tuning file. Every field has a working default, so a
// missing file is a valid deployment.
type AppConfig struct {
	Pool     PoolConfig     `yaml:"pool"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Crawl    CrawlConfig    `yaml:"crawl"`
}

// Load reads the yaml config at path. A missing file returns defaults; a
// malformed file is an error.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errs.New("app config", errs.CodeConfig,
			errs.WithMessage(fmt.Sprintf("read %s", trimmed)), errs.WithCause(err))
	}
	decoder := yaml.NewDecoder(strings.NewReader(string(raw)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return AppConfig{}, errs.New("app config", errs.CodeConfig,
			errs.WithMessage(fmt.Sprintf("parse %s", trimmed)), errs.WithCause(err))
	}
	return cfg, nil
}
