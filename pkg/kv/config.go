package kv

import "time"

// RedisOption configures the Redis store.
type RedisOption func(*RedisConfig)

type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	PoolTimeout  time.Duration
	MinIdleConns int
	Prefix       string
}

func WithRedisHost(host string) RedisOption {
	return func(c *RedisConfig) { c.Host = host }
}

func WithRedisPort(port int) RedisOption {
	return func(c *RedisConfig) { c.Port = port }
}

func WithRedisPassword(password string) RedisOption {
	return func(c *RedisConfig) { c.Password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(c *RedisConfig) { c.DB = db }
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
		c.PoolTimeout = timeout
	}
}

// WithRedisPrefix namespaces every key, e.g. "autotrader:signal:KRW-BTC".
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

// MemoryOption configures the in-process store.
type MemoryOption func(*MemoryConfig)

type MemoryConfig struct {
	CleanupInterval time.Duration
	Clock           func() time.Time
}

func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

// WithMemoryClock overrides time.Now for expiry checks.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(c *MemoryConfig) { c.Clock = clock }
}
