package config

// WithPort sets the HTTP listen port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the runtime environment name
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the submission index database. An empty or
// "memory" URL selects the in-memory repository.
func WithDatabase(url string) Option {
	return func(c *ServerConfig) error {
		return applyDatabaseURL(url, c)
	}
}

// WithStorageBackend adds or replaces a storage backend and makes it the default
func WithStorageBackend(backend StorageBackendConfig) Option {
	return func(c *ServerConfig) error {
		c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
		c.DefaultStorageBackend = backend.Name
		return nil
	}
}

// WithRedis configures the shared counter store for the rate limiter
func WithRedis(addr, password string, db int) Option {
	return func(c *ServerConfig) error {
		c.RedisAddr = addr
		c.RedisPassword = password
		c.RedisDB = db
		return nil
	}
}

// WithRateLimitPolicy sets the two-tier token bucket policy
func WithRateLimitPolicy(maxAuthenticated, maxAnonymous float64, windowMillis int) Option {
	return func(c *ServerConfig) error {
		c.RateLimit = RateLimitConfig{
			MaxAuthenticated: maxAuthenticated,
			MaxAnonymous:     maxAnonymous,
			WindowMillis:     windowMillis,
		}
		return nil
	}
}
