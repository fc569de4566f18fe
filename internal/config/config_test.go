package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir()) // no config file on disk

	cfg, err := Load(false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Cache.TTLSeconds != 210 {
		t.Errorf("Expected cache TTL 210s, got %d", cfg.Cache.TTLSeconds)
	}
	if cfg.Timers.GroupWindowSeconds != 60 {
		t.Errorf("Expected 60s grouping window, got %d", cfg.Timers.GroupWindowSeconds)
	}
	if cfg.Timers.SilenceSeconds != 60 || cfg.Timers.CloseSeconds != 30 {
		t.Errorf("Expected 60s/30s inactivity pair, got %d/%d",
			cfg.Timers.SilenceSeconds, cfg.Timers.CloseSeconds)
	}
	if cfg.Timers.HeartbeatSeconds != 30 {
		t.Errorf("Expected 30s heartbeat, got %d", cfg.Timers.HeartbeatSeconds)
	}
	if cfg.Timers.HeartbeatRetries != 10 || cfg.Timers.HeartbeatBackoffMs != 200 {
		t.Errorf("Expected 10x200ms heartbeat retry budget, got %dx%dms",
			cfg.Timers.HeartbeatRetries, cfg.Timers.HeartbeatBackoffMs)
	}
	if cfg.Timers.WelcomeDelayMinMs != 1500 || cfg.Timers.WelcomeDelayMaxMs != 2500 {
		t.Errorf("Expected 1.5-2.5s welcome delay bounds, got %d-%dms",
			cfg.Timers.WelcomeDelayMinMs, cfg.Timers.WelcomeDelayMaxMs)
	}
}

func TestDurationHelpers(t *testing.T) {
	timers := TimersConfig{
		GroupWindowSeconds: 60,
		SilenceSeconds:     60,
		CloseSeconds:       30,
		HeartbeatSeconds:   30,
		HeartbeatBackoffMs: 200,
	}

	if timers.GroupWindow() != time.Minute {
		t.Errorf("Expected 1m group window, got %v", timers.GroupWindow())
	}
	if timers.CloseTimeout() != 30*time.Second {
		t.Errorf("Expected 30s close timeout, got %v", timers.CloseTimeout())
	}
	if timers.HeartbeatBackoff() != 200*time.Millisecond {
		t.Errorf("Expected 200ms backoff, got %v", timers.HeartbeatBackoff())
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HOVERCHAT_TIMERS_SILENCESECONDS", "90")

	cfg, err := Load(false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Timers.SilenceSeconds != 90 {
		t.Errorf("Expected env override to 90s, got %d", cfg.Timers.SilenceSeconds)
	}
}
