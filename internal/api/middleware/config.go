// Package middleware provides HTTP middleware components for the linetrace API.
package middleware

import (
	"time"

	"github.com/linetrace/linetrace/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-operator: Applied to authenticated requests
//   - Unauthenticated: Applied to requests without an operator identity
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS   int // Default: 100
	OperatorRPS int // Default: 50
	UnAuthRPS   int // Default: 10

	// WatcherRPS and ReportRPS are shop-floor-wide budgets layered on top of
	// the tiers above for the watcher control and report rendering route
	// classes, which are far more expensive per request than a query.
	WatcherRPS int // Default: 2
	ReportRPS  int // Default: 5

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate) using computeBurstCapacity()
	GlobalBurst   int // Default: 0 (computed as 2 × GlobalRPS = 200)
	OperatorBurst int // Default: 0 (computed as 2 × OperatorRPS = 100)
	UnAuthBurst   int // Default: 0 (computed as 2 × UnAuthRPS = 20)
	WatcherBurst  int // Default: 0 (computed as 2 × WatcherRPS = 4)
	ReportBurst   int // Default: 0 (computed as 2 × ReportRPS = 10)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxOperators    int           // Default: 100 (warning threshold only; the map is not capped)
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes operators idle >1 hour
// Default max operators: 100 (a warning is logged once tracked operators reach 80% of it;
// operators beyond it are still tracked, the per-operator map is not capped).
func LoadConfig() *Config {
	return &Config{
		// Rate limits
		GlobalRPS:   config.GetEnvInt("LINETRACE_GLOBAL_RPS", defaultGlobalRPS),
		OperatorRPS: config.GetEnvInt("LINETRACE_OPERATOR_RPS", defaultOperatorRPS),
		UnAuthRPS:   config.GetEnvInt("LINETRACE_UNAUTH_RPS", defaultUnAuthRPS),
		WatcherRPS:  config.GetEnvInt("LINETRACE_WATCHER_RPS", defaultWatcherRPS),
		ReportRPS:   config.GetEnvInt("LINETRACE_REPORT_RPS", defaultReportRPS),

		// Burst overrides (0 = auto-compute)
		GlobalBurst:   config.GetEnvInt("LINETRACE_GLOBAL_BURST", 0),
		OperatorBurst: config.GetEnvInt("LINETRACE_OPERATOR_BURST", 0),
		UnAuthBurst:   config.GetEnvInt("LINETRACE_UNAUTH_BURST", 0),
		WatcherBurst:  config.GetEnvInt("LINETRACE_WATCHER_BURST", 0),
		ReportBurst:   config.GetEnvInt("LINETRACE_REPORT_BURST", 0),

		// Cleanup configuration
		CleanupInterval: config.GetEnvDuration(
			"LINETRACE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout:  config.GetEnvDuration("LINETRACE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxOperators: config.GetEnvInt("LINETRACE_RATE_LIMIT_MAX_OPERATORS", maxOperators),
	}
}
