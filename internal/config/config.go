// Package config loads space server settings from an optional YAML file
// and the environment. Environment variables win over the file.
//
//	name: jobs
//	listen: ":9000"
//	addr: http://10.0.0.5:9000
//	registry: http://10.0.0.2:8080
//	poll_interval: 2s
//	failure_threshold: 1
//	state: /var/lib/tupled/jobs.db
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/tuplespace/internal/replication"
)

// Config holds the settings of one space server
type Config struct {
	Name             string        `yaml:"name"`
	Listen           string        `yaml:"listen"`
	Addr             string        `yaml:"addr"`
	Registry         string        `yaml:"registry"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	FailureThreshold int           `yaml:"failure_threshold"`
	StatePath        string        `yaml:"state"`
}

func Default() Config {
	return Config{
		Name:             "tuplespace",
		Listen:           ":9000",
		Addr:             "http://127.0.0.1:9000",
		Registry:         "http://127.0.0.1:8080",
		PollInterval:     replication.DefaultPollInterval,
		FailureThreshold: replication.DefaultFailureThreshold,
	}
}

// Load builds a Config from defaults, the YAML file named by TUPLED_CONFIG
// and the TUPLED_* / REGISTRY_ADDR variables. lookup is usually os.LookupEnv.
func Load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path, ok := lookup("TUPLED_CONFIG"); ok && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"TUPLED_NAME", &c.Name},
		{"TUPLED_LISTEN", &c.Listen},
		{"TUPLED_ADDR", &c.Addr},
		{"REGISTRY_ADDR", &c.Registry},
		{"TUPLED_STATE", &c.StatePath},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	if v, ok := lookup("TUPLED_POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TUPLED_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	if v, ok := lookup("TUPLED_FAILURE_THRESHOLD"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TUPLED_FAILURE_THRESHOLD: %w", err)
		}
		c.FailureThreshold = n
	}
	return nil
}

// Validate reports the first setting a server cannot start with
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	for _, u := range []struct{ field, value string }{{"addr", c.Addr}, {"registry", c.Registry}} {
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", u.field, u.value)
		}
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1, got %d", c.FailureThreshold)
	}
	return nil
}

// Replication returns the coordinator settings
func (c Config) Replication() replication.Config {
	return replication.Config{
		Name:             c.Name,
		Addr:             c.Addr,
		PollInterval:     c.PollInterval,
		FailureThreshold: c.FailureThreshold,
	}
}
