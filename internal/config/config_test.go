package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
server:
  address: "127.0.0.1:9000"
cameras:
  - id: cam_A
    enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != "127.0.0.1:9000" {
		t.Errorf("expected configured address to be preserved, got %q", cfg.Server.Address)
	}
	if cfg.Pipeline.QueueMax != 10 {
		t.Errorf("expected default QueueMax=10, got %d", cfg.Pipeline.QueueMax)
	}
	if cfg.Pipeline.MinHits != 3 {
		t.Errorf("expected default MinHits=3, got %d", cfg.Pipeline.MinHits)
	}
	if cfg.Pipeline.MaxAge != 30 {
		t.Errorf("expected default MaxAge=30, got %d", cfg.Pipeline.MaxAge)
	}
	if cfg.Pipeline.EmbeddingDim != 512 {
		t.Errorf("expected default EmbeddingDim=512, got %d", cfg.Pipeline.EmbeddingDim)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error loading missing config file")
	}
}

func TestGetCamera(t *testing.T) {
	path := writeTestConfig(t, `
cameras:
  - id: cam_A
    enabled: true
  - id: cam_B
    enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cam := cfg.GetCamera("cam_A"); cam == nil || !cam.Enabled {
		t.Errorf("expected cam_A to be found and enabled, got %+v", cam)
	}
	if cam := cfg.GetCamera("missing"); cam != nil {
		t.Errorf("expected nil for unknown camera, got %+v", cam)
	}
}

func TestOnChangeInvokedOnReload(t *testing.T) {
	path := writeTestConfig(t, `
cameras:
  - id: cam_A
    enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	called := make(chan struct{}, 1)
	cfg.OnChange(func(*Config) {
		called <- struct{}{}
	})

	if err := os.WriteFile(path, []byte(`
cameras:
  - id: cam_A
    enabled: false
`), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	cfg.reload()

	select {
	case <-called:
	default:
		t.Error("expected OnChange callback to be invoked by reload")
	}

	if cam := cfg.GetCamera("cam_A"); cam == nil || cam.Enabled {
		t.Errorf("expected cam_A to reflect reloaded config, got %+v", cam)
	}
}
