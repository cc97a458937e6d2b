// Package config loads runtime configuration from environment variables
// and owns the small JSON state files shared with the desktop shell and
// the external watchdog.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all Course-Sentinel configuration from environment variables.
type Config struct {
	// Portal connection
	PortalBase string // base URL of the enrollment portal, up to /xsxkapp/sys/xsxkapp
	Campus     string // campus code sent in query descriptors
	BatchCode  string // default elective batch code; login state may override

	// Monitoring
	PollInterval    time.Duration // idle poll cadence per monitor
	ProbeInterval   time.Duration // login-probe cadence
	SupervisorTick  time.Duration // wishlist rescan cadence
	RecoverDeadline time.Duration // emergency rollback wall-clock budget
	StartSpec       string        // optional cron expression arming the monitor start

	// Files
	StatePath    string // credentials + notification settings (JSON)
	FlagPath     string // monitor-active flag consulted by the watchdog (JSON)
	WishlistPath string // optional YAML wishlist seed
	DBPath       string // bbolt history/event-log database
	LogDir       string // daily rotated text logs
	TextfilePath string // prometheus textfile export for the watchdog, empty to disable

	// OCR
	OCRCommand string // external captcha decoder command

	// Notifications
	WebhookURL     string
	WebhookHeaders string
	MQTTBroker     string
	MQTTTopic      string

	// Logging
	LogJSON bool
}

// Load reads all configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		PortalBase:      envStr("SENTINEL_PORTAL_BASE", "https://xk.ynu.edu.cn/xsxkapp/sys/xsxkapp"),
		Campus:          envStr("SENTINEL_CAMPUS", "02"),
		BatchCode:       envStr("SENTINEL_BATCH_CODE", "3d7ef3d38d4440a09b1ae65d3d7a04bc"),
		PollInterval:    envDuration("SENTINEL_POLL_INTERVAL", time.Second),
		ProbeInterval:   envDuration("SENTINEL_PROBE_INTERVAL", time.Minute),
		SupervisorTick:  envDuration("SENTINEL_SUPERVISOR_TICK", 500*time.Millisecond),
		RecoverDeadline: envDuration("SENTINEL_RECOVER_DEADLINE", 5*time.Minute),
		StartSpec:       envStr("SENTINEL_START_SPEC", ""),
		StatePath:       envStr("SENTINEL_STATE_PATH", "sentinel_state.json"),
		FlagPath:        envStr("SENTINEL_FLAG_PATH", "monitor_state.json"),
		WishlistPath:    envStr("SENTINEL_WISHLIST_PATH", "targets.yaml"),
		DBPath:          envStr("SENTINEL_DB_PATH", "sentinel.db"),
		LogDir:          envStr("SENTINEL_LOG_DIR", "logs"),
		TextfilePath:    envStr("SENTINEL_TEXTFILE_PATH", ""),
		OCRCommand:      envStr("SENTINEL_OCR_CMD", ""),
		WebhookURL:      envStr("SENTINEL_WEBHOOK_URL", ""),
		WebhookHeaders:  envStr("SENTINEL_WEBHOOK_HEADERS", ""),
		MQTTBroker:      envStr("SENTINEL_MQTT_BROKER", ""),
		MQTTTopic:       envStr("SENTINEL_MQTT_TOPIC", "course-sentinel/events"),
		LogJSON:         envBool("SENTINEL_LOG_JSON", false),
	}
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if _, err := url.Parse(c.PortalBase); err != nil || c.PortalBase == "" {
		errs = append(errs, fmt.Errorf("SENTINEL_PORTAL_BASE must be a valid URL, got %q", c.PortalBase))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("SENTINEL_POLL_INTERVAL must be > 0, got %s", c.PollInterval))
	}
	if c.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("SENTINEL_PROBE_INTERVAL must be > 0, got %s", c.ProbeInterval))
	}
	if c.SupervisorTick <= 0 {
		errs = append(errs, fmt.Errorf("SENTINEL_SUPERVISOR_TICK must be > 0, got %s", c.SupervisorTick))
	}
	if c.RecoverDeadline <= 0 {
		errs = append(errs, fmt.Errorf("SENTINEL_RECOVER_DEADLINE must be > 0, got %s", c.RecoverDeadline))
	}
	return errors.Join(errs...)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
