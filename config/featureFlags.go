package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Attribution strategy names accepted by CONSUMPTION_ATTRIBUTION.
const (
	AttributionFifo    = "fifo"
	AttributionProRata = "pro_rata"
	AttributionLatest  = "latest"
)

// ConsumptionAttribution decides how consumption records that only carry a material id
// are attributed to purchases of that material.
//
// Set via env:
// - CONSUMPTION_ATTRIBUTION=fifo|pro_rata|latest (default fifo)
func ConsumptionAttribution() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CONSUMPTION_ATTRIBUTION")))
	switch v {
	case AttributionProRata, "prorata", "pro-rata":
		return AttributionProRata
	case AttributionLatest, "most_recent", "recent":
		return AttributionLatest
	default:
		return AttributionFifo
	}
}

// OpeningBalanceRetryEnabled runs the background worker that retries failed opening-balance pushes.
//
// Set via env:
// - OB_PUSH_RETRY_WORKER=false to disable (default enabled)
func OpeningBalanceRetryEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OB_PUSH_RETRY_WORKER")))
	return !(v == "0" || v == "false" || v == "no" || v == "n")
}

type PushRetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// GetPushRetryConfig reads the opening-balance push retry policy.
//
// Env:
// - OB_PUSH_MAX_ATTEMPTS (default 10)
// - OB_PUSH_BASE_BACKOFF_SECONDS (default 5)
// - OB_PUSH_MAX_BACKOFF_SECONDS (default 600)
func GetPushRetryConfig() PushRetryConfig {
	cfg := PushRetryConfig{
		MaxAttempts: 10,
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  10 * time.Minute,
	}
	if v := os.Getenv("OB_PUSH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv("OB_PUSH_BASE_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BaseBackoff = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("OB_PUSH_MAX_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBackoff = time.Duration(n) * time.Second
		}
	}
	return cfg
}
