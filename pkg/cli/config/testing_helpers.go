package config

import "time"

// NewLoggerForTest creates a Logger config for testing purposes
func NewLoggerForTest(level, format, output string) *Logger {
	return &Logger{level: level, format: format, output: output}
}

// NewVaultForTest creates a Vault config for testing purposes
func NewVaultForTest(dir, backend string, compactEvery int) *Vault {
	return &Vault{dir: dir, backend: backend, compactEvery: compactEvery}
}

// NewSentryForTest creates a Sentry config for testing purposes
func NewSentryForTest(dsn, env string) *Sentry {
	return &Sentry{dsn: dsn, env: env}
}

// NewNodeForTest creates a Node config with default values for testing purposes
func NewNodeForTest() *Node {
	return &Node{
		addr:              DefaultAddr,
		role:              DefaultRole,
		consciousness:     0.1,
		evolutionInterval: 300 * time.Second,
		dimension:         64,
		hiddenDim:         128,
		statusInterval:    30 * time.Second,
	}
}
