package layercake

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.AllowAnonymous || cfg.RequireAPIKey {
		t.Fatalf("unexpected default auth toggles: %+v", cfg)
	}
	if cfg.NodeExecutionTimeout != 5*time.Minute {
		t.Fatalf("expected 5m default node execution timeout, got %v", cfg.NodeExecutionTimeout)
	}
}

func TestLoadConfigFromEnvOverlaysValues(t *testing.T) {
	os.Setenv("LAYERCAKE_REQUIRE_API_KEY", "true")
	os.Setenv("LAYERCAKE_API_KEYS", "key-a, key-b")
	os.Setenv("LAYERCAKE_NODE_EXECUTION_TIMEOUT", "90s")
	defer func() {
		os.Unsetenv("LAYERCAKE_REQUIRE_API_KEY")
		os.Unsetenv("LAYERCAKE_API_KEYS")
		os.Unsetenv("LAYERCAKE_NODE_EXECUTION_TIMEOUT")
	}()

	cfg := LoadConfigFromEnv()
	if !cfg.RequireAPIKey {
		t.Fatal("expected RequireAPIKey overlaid to true")
	}
	if !cfg.HasAPIKey("key-a") || !cfg.HasAPIKey("key-b") {
		t.Fatalf("expected both configured API keys present, got %+v", cfg.APIKeys)
	}
	if cfg.HasAPIKey("key-c") {
		t.Fatal("expected an unconfigured key to be rejected")
	}
	if cfg.NodeExecutionTimeout != 90*time.Second {
		t.Fatalf("expected overlaid timeout of 90s, got %v", cfg.NodeExecutionTimeout)
	}
}

func TestLoadConfigFromEnvIgnoresInvalidOverrides(t *testing.T) {
	os.Setenv("LAYERCAKE_NODE_EXECUTION_TIMEOUT", "not-a-duration")
	defer os.Unsetenv("LAYERCAKE_NODE_EXECUTION_TIMEOUT")

	cfg := LoadConfigFromEnv()
	if cfg.NodeExecutionTimeout != DefaultConfig().NodeExecutionTimeout {
		t.Fatalf("expected invalid override to fall back to default, got %v", cfg.NodeExecutionTimeout)
	}
}
