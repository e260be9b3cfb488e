package config

import "testing"

func TestDefaultMatchesComponentDefaults(t *testing.T) {
	c := Default()
	if c.NetworkID != NetworkLocalnet {
		t.Fatalf("expected localnet default, got %s", c.NetworkID)
	}
	if c.Banking.BatchSize != 128 || c.Banking.ParallelStages != 4 {
		t.Fatalf("unexpected banking defaults: %+v", c.Banking)
	}
	if c.FeeMarket.TargetUtilization != 0.5 {
		t.Fatalf("unexpected fee market target utilization: %v", c.FeeMarket.TargetUtilization)
	}
	if c.ResourceMonitor.MemoryCritical != 0.95 {
		t.Fatalf("unexpected memory critical threshold: %v", c.ResourceMonitor.MemoryCritical)
	}
}

func TestLoadWithMissingConfigFileFallsBackToDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load with no config files present should not error: %v", err)
	}
	if c.NetworkID != NetworkLocalnet {
		t.Fatalf("expected default network id, got %s", c.NetworkID)
	}
}
