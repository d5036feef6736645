// internal/common/config/config.go
package config

// Config is the main application configuration struct.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Notify      NotifyConfig      `mapstructure:"notifications"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// BackendConfig holds REST backend settings.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// RealtimeConfig holds websocket channel settings.
type RealtimeConfig struct {
	BaseURL          string `mapstructure:"base_url"`          // ws:// or wss:// origin
	HandshakeTimeout int    `mapstructure:"handshake_timeout"` // milliseconds
	ReconnectDelay   int    `mapstructure:"reconnect_delay"`   // milliseconds
}

// NotifyConfig holds notification polling settings.
type NotifyConfig struct {
	PollInterval int `mapstructure:"poll_interval"` // milliseconds
}

// NegotiationConfig holds service-request negotiation settings.
type NegotiationConfig struct {
	Deadline int `mapstructure:"deadline"` // milliseconds
}

// CredentialsConfig holds the account the agent signs in with.
type CredentialsConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Role     string `mapstructure:"role"` // "user" or "provider"
}

// RedisConfig holds the optional persistent notification read-state store.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
