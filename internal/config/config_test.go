package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsZeroValueConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Require.GetCycleDetection() != DefaultCycleDetection {
		t.Errorf("GetCycleDetection() = %q, want default %q", cfg.Require.GetCycleDetection(), DefaultCycleDetection)
	}
	if !cfg.JIT.IsEnabled() {
		t.Error("JIT.IsEnabled() should default to true")
	}
	if !cfg.Cancellation.ShouldSynthesizeError() {
		t.Error("Cancellation.ShouldSynthesizeError() should default to true")
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corvid.yaml")
	content := `
jit:
  enabled: false
require:
  aliases:
    lib: /srv/lib
  cycle_detection: allow
cancellation:
  synthesize_error: false
net:
  dial_timeout: 5s
process:
  max_blocking_workers: 4
log:
  level: debug
  use_json: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.JIT.IsEnabled() {
		t.Error("JIT.IsEnabled() = true, want false")
	}
	if got := cfg.Require.Aliases["lib"]; got != "/srv/lib" {
		t.Errorf("aliases[lib] = %q, want /srv/lib", got)
	}
	if got := cfg.Require.GetCycleDetection(); got != "allow" {
		t.Errorf("GetCycleDetection() = %q, want allow", got)
	}
	if cfg.Cancellation.ShouldSynthesizeError() {
		t.Error("ShouldSynthesizeError() = true, want false")
	}
	if got := cfg.Net.GetDialTimeout(); got != 5*time.Second {
		t.Errorf("GetDialTimeout() = %v, want 5s", got)
	}
	if got := cfg.Process.GetMaxBlockingWorkers(); got != 4 {
		t.Errorf("GetMaxBlockingWorkers() = %d, want 4", got)
	}
	if got := cfg.Log.GetLevel(); got != "debug" {
		t.Errorf("GetLevel() = %q, want debug", got)
	}
	if !cfg.Log.UseJSON {
		t.Error("UseJSON = false, want true")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("CORVID_TEST_ALIAS_DIR", "/from/env")

	path := filepath.Join(t.TempDir(), "corvid.yaml")
	content := `
require:
  aliases:
    lib: ${CORVID_TEST_ALIAS_DIR}
    fallback: ${CORVID_TEST_UNSET_VAR:-/default/path}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Require.Aliases["lib"]; got != "/from/env" {
		t.Errorf("aliases[lib] = %q, want /from/env", got)
	}
}

func TestGetMaxBlockingWorkersDefaultsOnNonPositive(t *testing.T) {
	cases := []int{0, -1}
	for _, v := range cases {
		c := ProcessConfig{MaxBlockingWorkers: v}
		if got := c.GetMaxBlockingWorkers(); got != DefaultMaxBlockingWorkers {
			t.Errorf("GetMaxBlockingWorkers() with MaxBlockingWorkers=%d = %d, want default %d", v, got, DefaultMaxBlockingWorkers)
		}
	}
}

func TestDurationUnmarshalYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corvid.yaml")
	if err := os.WriteFile(path, []byte("net:\n  dial_timeout: 250ms\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.Net.DialTimeout.Duration(); got != 250*time.Millisecond {
		t.Errorf("DialTimeout = %v, want 250ms", got)
	}
}

func TestDurationUnmarshalYAMLRejectsInvalidFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corvid.yaml")
	if err := os.WriteFile(path, []byte("net:\n  dial_timeout: not-a-duration\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for an invalid duration string")
	}
}
