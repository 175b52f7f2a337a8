package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

func setString(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

// envVars are the supported overrides, mostly deployment locations and
// endpoints that differ per environment.
var envVars = []envVar{
	{"COLDLINE_HOT_DRIVER", setString(func(c *Config) *string { return &c.Hot.Driver })},
	{"COLDLINE_HOT_PATH", setString(func(c *Config) *string { return &c.Hot.Path })},
	{"COLDLINE_HOT_TABLE", setString(func(c *Config) *string { return &c.Hot.Table })},
	{"COLDLINE_HOT_REGION", setString(func(c *Config) *string { return &c.Hot.Region })},
	{"COLDLINE_HOT_ENDPOINT", setString(func(c *Config) *string { return &c.Hot.Endpoint })},
	{"COLDLINE_COLD_DRIVER", setString(func(c *Config) *string { return &c.Cold.Driver })},
	{"COLDLINE_COLD_PATH", setString(func(c *Config) *string { return &c.Cold.Path })},
	{"COLDLINE_COLD_BUCKET", setString(func(c *Config) *string { return &c.Cold.Bucket })},
	{"COLDLINE_COLD_PREFIX", setString(func(c *Config) *string { return &c.Cold.Prefix })},
	{"COLDLINE_COLD_CREDENTIALS_FILE", setString(func(c *Config) *string { return &c.Cold.CredentialsFile })},
	{"COLDLINE_CACHE_DRIVER", setString(func(c *Config) *string { return &c.Cache.Driver })},
	{"COLDLINE_REDIS_ADDR", func(c *Config, v string) error {
		c.Cache.Address = v
		if v != "" && c.Cache.Driver == "none" {
			c.Cache.Driver = "redis"
		}
		return nil
	}},
	{"COLDLINE_REDIS_DB", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Cache.Database = n
		return nil
	}},
	{"COLDLINE_KAFKA_BROKERS", func(c *Config, v string) error {
		c.Feed.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Feed.Brokers = append(c.Feed.Brokers, b)
			}
		}
		return nil
	}},
	{"COLDLINE_KAFKA_TOPIC", setString(func(c *Config) *string { return &c.Feed.Topic })},
	{"COLDLINE_KAFKA_GROUP_ID", setString(func(c *Config) *string { return &c.Feed.GroupID })},
	{"COLDLINE_STATE_DB", setString(func(c *Config) *string { return &c.StateDB })},
	{"COLDLINE_METRICS_ADDR", setString(func(c *Config) *string { return &c.MetricsAddr })},
}

// ApplyEnv overrides cfg from COLDLINE_* variables that are set.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok {
			continue
		}
		if err := ev.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", ev.name, err)
		}
	}
	return nil
}

// EnvNames lists the recognized override variables.
func EnvNames() []string {
	names := make([]string, len(envVars))
	for i, ev := range envVars {
		names[i] = ev.name
	}
	return names
}
