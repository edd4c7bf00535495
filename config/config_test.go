package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SITE_ID", "site-1")
	t.Setenv("CLOUD_API_URL", "https://cloud.example.com")
	t.Setenv("AGENT_AUTH_TOKEN", "secret")
	t.Setenv("NETWORK_INTERFACE", "eth0")
	t.Setenv("SUBNET", "192.168.1.0/24")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PingInterval != 60*time.Second {
		t.Errorf("PingInterval = %v", cfg.PingInterval)
	}
	if cfg.OfflineFailureCount != 2 {
		t.Errorf("OfflineFailureCount = %d", cfg.OfflineFailureCount)
	}
	if cfg.OfflineThreshold != 15*time.Second {
		t.Errorf("OfflineThreshold = %v", cfg.OfflineThreshold)
	}
	if cfg.PingLockTimeout != 60*time.Second {
		t.Errorf("PingLockTimeout = %v", cfg.PingLockTimeout)
	}
	if cfg.SystemHeartbeatCheck != 120*time.Second {
		t.Errorf("SystemHeartbeatCheck = %v", cfg.SystemHeartbeatCheck)
	}
	if cfg.RetryInterval != 900*time.Second {
		t.Errorf("RetryInterval = %v", cfg.RetryInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PING_INTERVAL_SECONDS", "120")
	t.Setenv("OFFLINE_FAILURE_COUNT", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PingInterval != 120*time.Second {
		t.Errorf("PingInterval = %v", cfg.PingInterval)
	}
	if cfg.OfflineFailureCount != 3 {
		t.Errorf("OfflineFailureCount = %d", cfg.OfflineFailureCount)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("SITE_ID", "")

	if _, err := Load(); err == nil {
		t.Fatalf("missing SITE_ID must fail")
	}
}

func TestLoadRejectsZeroFailureCount(t *testing.T) {
	setRequired(t)
	t.Setenv("OFFLINE_FAILURE_COUNT", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("zero failure count must fail")
	}
}
