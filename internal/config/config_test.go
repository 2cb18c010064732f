package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("storage:\n  driver: sqlite\n  path: ${MINIONFABRIC_TEST_PATH}\n"), 0600)
	os.Setenv("MINIONFABRIC_TEST_PATH", "/tmp/minionfabric-test.db")
	defer os.Unsetenv("MINIONFABRIC_TEST_PATH")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Storage.Path != "/tmp/minionfabric-test.db" {
		t.Errorf("storage.path = %q, want %q", cfg.Storage.Path, "/tmp/minionfabric-test.db")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("data_dir: ./statedir\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("listen.port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("storage.driver = %q, want %q", cfg.Storage.Driver, "memory")
	}
	if cfg.EventBus.DefaultRateLimit != 10 {
		t.Errorf("event_bus.default_rate_limit = %d, want 10", cfg.EventBus.DefaultRateLimit)
	}
}

func TestLoad_MinionDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("minions:\n  - id: aria\n    name: Aria\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.Minions) != 1 {
		t.Fatalf("len(minions) = %d, want 1", len(cfg.Minions))
	}
	if cfg.Minions[0].Temperature != 0.9 {
		t.Errorf("minion temperature = %f, want 0.9", cfg.Minions[0].Temperature)
	}
	if cfg.Minions[0].MaxTokens != 1024 {
		t.Errorf("minion max_tokens = %d, want 1024", cfg.Minions[0].MaxTokens)
	}
}

func TestValidate_BadStorageDriver(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "postgres"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for unknown storage driver")
	}
	if !strings.Contains(err.Error(), "storage.driver") {
		t.Errorf("error should mention storage.driver, got: %v", err)
	}
}

func TestValidate_ListenPortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 99999

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
	if !strings.Contains(err.Error(), "listen.port") {
		t.Errorf("error should mention listen.port, got: %v", err)
	}
}

func TestValidate_DuplicateMinionID(t *testing.T) {
	cfg := Default()
	cfg.Minions = []MinionConfig{
		{ID: "aria", Name: "Aria"},
		{ID: "aria", Name: "Aria Two"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for duplicate minion id")
	}
	if !strings.Contains(err.Error(), "duplicate minion id") {
		t.Errorf("error should mention duplicate minion id, got: %v", err)
	}
}

func TestValidate_MinionTemperatureOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Minions = []MinionConfig{{ID: "aria", Name: "Aria", Temperature: 3}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for temperature out of range")
	}
	if !strings.Contains(err.Error(), "temperature") {
		t.Errorf("error should mention temperature, got: %v", err)
	}
}

func TestValidate_UnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for unknown log level")
	}
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate cleanly, got: %v", err)
	}
}
