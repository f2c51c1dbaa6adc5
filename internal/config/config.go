package config

import "time"

// GathererConfig is the root configuration for a gatherer instance.
type GathererConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Vendor    VendorConfig    `yaml:"vendor"`
	Broker    BrokerConfig    `yaml:"broker"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Symbols   []string        `yaml:"symbols"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Stream    StreamConfig    `yaml:"stream"`
	Depth     DepthConfig     `yaml:"depth"`
	Cache     CacheConfig     `yaml:"cache"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this gatherer.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// VendorConfig holds market-data vendor API settings.
type VendorConfig struct {
	RestURL  string        `yaml:"rest_url"`
	WSURL    string        `yaml:"ws_url"`
	APIToken string        `yaml:"api_token"` // Bearer token, also appended to the WS URL query
	Timeout  time.Duration `yaml:"timeout"`
}

// BrokerConfig holds brokerage streaming API settings.
type BrokerConfig struct {
	WSURL    string `yaml:"ws_url"`
	ClientID int    `yaml:"client_id"`
	Venue    string `yaml:"venue"`
}

// DatabaseConfig holds the archive database connection.
type DatabaseConfig struct {
	Archive DBConfig `yaml:"archive"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the hot-cache connection.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	PoolSize int    `yaml:"pool_size"`
}

// RateLimitConfig holds the REST quota token bucket settings.
// Capacity and refill are configured below the provider's advertised quota
// to leave headroom for retries.
type RateLimitConfig struct {
	Capacity        int `yaml:"capacity"`
	RefillPerMinute int `yaml:"refill_per_minute"`
}

// SchedulerConfig holds REST scheduler settings.
type SchedulerConfig struct {
	Workers        int           `yaml:"workers"`
	TierCadences   TierCadences  `yaml:"tier_cadences"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"` // Max wait for a rate-limit token before the cycle is skipped
	RetryDelay     time.Duration `yaml:"retry_delay"`     // Fixed delay before the single 5xx/network retry
	RetryAfter     time.Duration `yaml:"retry_after"`     // Default backoff when a 429 carries no Retry-After
}

// TierCadences holds the polling interval per cadence tier.
type TierCadences struct {
	T0 time.Duration `yaml:"t0"`
	T1 time.Duration `yaml:"t1"`
	T2 time.Duration `yaml:"t2"`
	T3 time.Duration `yaml:"t3"`
}

// StreamConfig holds vendor WebSocket session settings.
type StreamConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	HealthyReset       time.Duration `yaml:"healthy_reset"`    // Connected time after which the backoff attempt counter resets
	StalenessWindow    time.Duration `yaml:"staleness_window"` // No inbound frame for this long marks the connection stale
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// DepthConfig holds brokerage depth rotation settings.
type DepthConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"` // Provider-imposed cap on simultaneous depth subscriptions
	Pinned           []string      `yaml:"pinned"`         // Always-on symbols excluded from rotation
	Dwell            time.Duration `yaml:"dwell"`          // Time a symbol holds a slot before rotating out
	TickInterval     time.Duration `yaml:"tick_interval"`
	Cooldown         time.Duration `yaml:"cooldown"`        // Pause after a too-many-subscriptions error before regrowing
	StableThreshold  int           `yaml:"stable_threshold"` // Error-free rotations required before one grow step
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
}

// CacheConfig holds hot-cache retention settings.
type CacheConfig struct {
	StreamMaxLen int64         `yaml:"stream_maxlen"` // Cap on bounded-log entries per scope
	LogTTL       time.Duration `yaml:"log_ttl"`       // Optional expiry for bounded-log keys (0 = none)
}

// MetricsConfig holds the health/metrics HTTP endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
