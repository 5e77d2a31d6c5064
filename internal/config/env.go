package config

import "os"

// ApplyEnv applies environment variable overrides to the configuration.
// Only the log level may come from the environment: attomail may run with
// elevated privileges on behalf of an unprivileged caller, so the mailbox
// path and owner are never taken from it.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("ATTOMAIL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}
