package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
rpc:
  1: https://eth.example.org
verify:
  run_timeout: 10s
`)
	cfg, err := Load(path, WithEnv(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7090" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.Verify.RunTimeout.Duration != 10*time.Second {
		t.Fatalf("run timeout not parsed: %v", cfg.Verify.RunTimeout)
	}
	if cfg.Verify.SessionTTL.Duration != 30*time.Minute {
		t.Fatalf("session ttl default missing: %v", cfg.Verify.SessionTTL)
	}
	threshold, err := cfg.Threshold()
	if err != nil || threshold.String() != "10.000000000000000000" {
		t.Fatalf("unexpected threshold %v (%v)", threshold, err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
rpc:
  1: https://eth.example.org
`)
	cfg, err := Load(path, WithEnv(map[string]string{
		"ORACLEVERIFY_RPC_8453": "https://base.example.org",
		"ORACLEVERIFY_RPC_1":    "https://override.example.org",
		"ORACLEVERIFY_ENV":      "staging",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPC[1] != "https://override.example.org" || cfg.RPC[8453] != "https://base.example.org" {
		t.Fatalf("unexpected rpc map %v", cfg.RPC)
	}
	if cfg.Environment != "staging" {
		t.Fatalf("unexpected env %q", cfg.Environment)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no rpc":            "listen: \":1\"\n",
		"unsupported chain": "rpc:\n  10: https://op.example.org\n",
		"bad threshold":     "rpc:\n  1: https://x\nverify:\n  threshold_percent: \"-1\"\n",
		"bad duration":      "rpc:\n  1: https://x\nverify:\n  run_timeout: soon\n",
		"unknown field":     "rpc:\n  1: https://x\nsurprise: true\n",
		"bad sample ratio":  "rpc:\n  1: https://x\ntelemetry:\n  sample_ratio: 2\n",
		"negative run":      "rpc:\n  1: https://x\nverify:\n  run_timeout: -5s\n",
		"negative ttl":      "rpc:\n  1: https://x\nverify:\n  session_ttl: -1m\n",
		"negative interval": "rpc:\n  1: https://x\nregistry:\n  interval: -1s\n",
		"negative timeout":  "rpc:\n  1: https://x\ndirectory:\n  timeout: -2s\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body), WithEnv(nil)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadNamesNonPositiveDuration(t *testing.T) {
	path := writeConfig(t, "rpc:\n  1: https://x\nverify:\n  session_ttl: -1ns\n")
	_, err := Load(path, WithEnv(nil))
	if err == nil || !strings.Contains(err.Error(), "verify.session_ttl must be positive") {
		t.Fatalf("expected session_ttl error, got %v", err)
	}
}

func TestLoadRejectsBadEnvChain(t *testing.T) {
	path := writeConfig(t, "rpc:\n  1: https://x\n")
	_, err := Load(path, WithEnv(map[string]string{"ORACLEVERIFY_RPC_base": "https://x"}))
	if err == nil || !strings.Contains(err.Error(), "invalid chain id") {
		t.Fatalf("expected invalid chain id error, got %v", err)
	}
}
