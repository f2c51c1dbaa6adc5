package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
// Configuration errors fail the process at startup; nothing here is
// recoverable at runtime.
func (c *GathererConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Vendor.RestURL == "" {
		return errors.New("vendor.rest_url is required")
	}
	if c.Vendor.WSURL == "" {
		return errors.New("vendor.ws_url is required")
	}
	if c.Vendor.APIToken == "" {
		return errors.New("vendor.api_token is required")
	}

	if c.Broker.WSURL == "" {
		return errors.New("broker.ws_url is required")
	}

	if err := c.Database.Archive.validate("database.archive"); err != nil {
		return err
	}

	if c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}

	if len(c.Symbols) == 0 {
		return errors.New("symbols must list at least one symbol")
	}
	seen := make(map[string]struct{}, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" {
			return errors.New("symbols must not contain empty entries")
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("symbols contains duplicate %q", s)
		}
		seen[s] = struct{}{}
	}

	if c.RateLimit.Capacity < 1 {
		return errors.New("rate_limit.capacity must be >= 1")
	}
	if c.RateLimit.RefillPerMinute < 1 {
		return errors.New("rate_limit.refill_per_minute must be >= 1")
	}

	if c.Scheduler.Workers < 1 {
		return errors.New("scheduler.workers must be >= 1")
	}
	tc := c.Scheduler.TierCadences
	if tc.T0 <= 0 || tc.T1 <= 0 || tc.T2 <= 0 || tc.T3 <= 0 {
		return errors.New("scheduler.tier_cadences must all be positive")
	}
	if !(tc.T0 <= tc.T1 && tc.T1 <= tc.T2 && tc.T2 <= tc.T3) {
		return errors.New("scheduler.tier_cadences must be ordered t0 <= t1 <= t2 <= t3")
	}

	if c.Stream.ReconnectBaseDelay > c.Stream.ReconnectMaxDelay {
		return fmt.Errorf("stream.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Stream.ReconnectBaseDelay, c.Stream.ReconnectMaxDelay)
	}

	if c.Depth.MaxConcurrent < 1 {
		return errors.New("depth.max_concurrent must be >= 1")
	}
	if c.Depth.StableThreshold < 1 {
		return errors.New("depth.stable_threshold must be >= 1")
	}
	for _, p := range c.Depth.Pinned {
		if p == "" {
			return errors.New("depth.pinned must not contain empty entries")
		}
	}

	if c.Cache.StreamMaxLen < 1 {
		return errors.New("cache.stream_maxlen must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
