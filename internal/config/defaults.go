package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultVendorTimeout        = 30 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultRedisPort            = 6379
	DefaultRedisPrefix          = "flow"
	DefaultRedisPoolSize        = 10
	DefaultRateCapacity         = 100
	DefaultRateRefillPerMinute  = 100
	DefaultSchedulerWorkers     = 8
	DefaultT0Cadence            = 30 * time.Second
	DefaultT1Cadence            = 5 * time.Minute
	DefaultT2Cadence            = 1 * time.Hour
	DefaultT3Cadence            = 24 * time.Hour
	DefaultAcquireTimeout       = 15 * time.Second
	DefaultRetryDelay           = 2 * time.Second
	DefaultRetryAfter           = 10 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultHealthyReset         = 60 * time.Second
	DefaultStalenessWindow      = 90 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultStreamBufferSize     = 10000
	DefaultDepthMaxConcurrent   = 3
	DefaultDepthDwell           = 30 * time.Second
	DefaultDepthTickInterval    = 1 * time.Second
	DefaultDepthCooldown        = 2 * time.Minute
	DefaultDepthStableRotations = 5
	DefaultSubscribeTimeout     = 10 * time.Second
	DefaultStreamMaxLen         = 1000
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

func (c *GathererConfig) applyDefaults() {
	if c.Vendor.Timeout == 0 {
		c.Vendor.Timeout = DefaultVendorTimeout
	}

	applyDBDefaults(&c.Database.Archive)

	if c.Redis.Port == 0 {
		c.Redis.Port = DefaultRedisPort
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = DefaultRedisPoolSize
	}

	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = DefaultRateCapacity
	}
	if c.RateLimit.RefillPerMinute == 0 {
		c.RateLimit.RefillPerMinute = DefaultRateRefillPerMinute
	}

	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = DefaultSchedulerWorkers
	}
	if c.Scheduler.TierCadences.T0 == 0 {
		c.Scheduler.TierCadences.T0 = DefaultT0Cadence
	}
	if c.Scheduler.TierCadences.T1 == 0 {
		c.Scheduler.TierCadences.T1 = DefaultT1Cadence
	}
	if c.Scheduler.TierCadences.T2 == 0 {
		c.Scheduler.TierCadences.T2 = DefaultT2Cadence
	}
	if c.Scheduler.TierCadences.T3 == 0 {
		c.Scheduler.TierCadences.T3 = DefaultT3Cadence
	}
	if c.Scheduler.AcquireTimeout == 0 {
		c.Scheduler.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.Scheduler.RetryDelay == 0 {
		c.Scheduler.RetryDelay = DefaultRetryDelay
	}
	if c.Scheduler.RetryAfter == 0 {
		c.Scheduler.RetryAfter = DefaultRetryAfter
	}

	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.HealthyReset == 0 {
		c.Stream.HealthyReset = DefaultHealthyReset
	}
	if c.Stream.StalenessWindow == 0 {
		c.Stream.StalenessWindow = DefaultStalenessWindow
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}

	if c.Depth.MaxConcurrent == 0 {
		c.Depth.MaxConcurrent = DefaultDepthMaxConcurrent
	}
	if c.Depth.Dwell == 0 {
		c.Depth.Dwell = DefaultDepthDwell
	}
	if c.Depth.TickInterval == 0 {
		c.Depth.TickInterval = DefaultDepthTickInterval
	}
	if c.Depth.Cooldown == 0 {
		c.Depth.Cooldown = DefaultDepthCooldown
	}
	if c.Depth.StableThreshold == 0 {
		c.Depth.StableThreshold = DefaultDepthStableRotations
	}
	if c.Depth.SubscribeTimeout == 0 {
		c.Depth.SubscribeTimeout = DefaultSubscribeTimeout
	}

	if c.Cache.StreamMaxLen == 0 {
		c.Cache.StreamMaxLen = DefaultStreamMaxLen
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
