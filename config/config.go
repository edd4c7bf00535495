package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the agent configuration, loaded from the environment.
type Config struct {
	SiteID         string
	CloudAPIURL    string
	AgentAuthToken string

	NetworkInterface string
	Subnet           string

	DatabaseURL string
	RedisAddr   string
	ListenAddr  string

	PingInterval         time.Duration
	OfflineFailureCount  int
	OfflineThreshold     time.Duration
	PingLockTimeout      time.Duration
	SystemHeartbeatCheck time.Duration
	HeartbeatInterval    time.Duration
	RetryInterval        time.Duration
	ProbeTimeout         time.Duration
}

// Load reads configuration from the environment, applying defaults. It
// returns an error for missing required values so startup can fail loudly.
func Load() (*Config, error) {
	cfg := &Config{
		SiteID:           os.Getenv("SITE_ID"),
		CloudAPIURL:      os.Getenv("CLOUD_API_URL"),
		AgentAuthToken:   os.Getenv("AGENT_AUTH_TOKEN"),
		NetworkInterface: os.Getenv("NETWORK_INTERFACE"),
		Subnet:           os.Getenv("SUBNET"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        envString("REDIS_ADDR", "localhost:6379"),
		ListenAddr:       envString("LISTEN_ADDR", ":8089"),

		PingInterval:         envSeconds("PING_INTERVAL_SECONDS", 60),
		OfflineFailureCount:  envInt("OFFLINE_FAILURE_COUNT", 2),
		OfflineThreshold:     envSeconds("OFFLINE_THRESHOLD_SECONDS", 15),
		PingLockTimeout:      envSeconds("PING_LOCK_TIMEOUT_SECONDS", 60),
		SystemHeartbeatCheck: envSeconds("SYSTEM_HEARTBEAT_CHECK_SECONDS", 120),
		HeartbeatInterval:    envSeconds("HEARTBEAT_INTERVAL_SECONDS", 300),
		RetryInterval:        envSeconds("RETRY_INTERVAL_SECONDS", 900),
		ProbeTimeout:         envSeconds("PROBE_TIMEOUT_SECONDS", 30),
	}

	for name, val := range map[string]string{
		"SITE_ID":           cfg.SiteID,
		"CLOUD_API_URL":     cfg.CloudAPIURL,
		"AGENT_AUTH_TOKEN":  cfg.AgentAuthToken,
		"NETWORK_INTERFACE": cfg.NetworkInterface,
		"SUBNET":            cfg.Subnet,
	} {
		if val == "" {
			return nil, fmt.Errorf("missing required environment variable %s", name)
		}
	}
	if cfg.OfflineFailureCount < 1 {
		return nil, fmt.Errorf("OFFLINE_FAILURE_COUNT must be at least 1")
	}
	return cfg, nil
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envSeconds(name string, def int) time.Duration {
	return time.Duration(envInt(name, def)) * time.Second
}
