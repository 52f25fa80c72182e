package httpserver

import (
	"log/slog"
	"time"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	defaultReadTimeout     = 60 * time.Second
	defaultWriteTimeout    = 30 * time.Second
)

// Config holds the settings of the device API server.
type Config struct {
	// ListenAddr serves the status, scan and restore routes.
	ListenAddr string

	// MetricsAddr serves /metrics. Empty disables it.
	MetricsAddr string

	// EnablePprof mounts the profiler under /debug.
	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long /readyz reports unavailable before the
	// listener closes.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds how long an open restore or scan request
	// may finish after shutdown starts.
	GracefulShutdownDuration time.Duration

	// ReadTimeout and WriteTimeout bound a single request. Key parts and
	// ciphertext bodies are small, so the defaults are generous.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// withDefaults returns a copy with unset timeouts and logger filled in.
func (c Config) withDefaults() *Config {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.GracefulShutdownDuration <= 0 {
		c.GracefulShutdownDuration = defaultShutdownTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return &c
}
