package logger

// Config logger configuration
type Config struct {
	Level string `json:"level"` // log level: debug, info, warn, error (default: info)
}

// SetDefaults fills unset fields with defaults
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}
