package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "har.json")
	content := `{
		"host": "chrome.internal",
		"port": 9333,
		"parallel": 4,
		"timeout": 15000,
		"Headers": ["X-Run: nightly"],
		"chromepath": "/opt/chrome"
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Host != "chrome.internal" || cfg.Port != 9333 || cfg.Parallel != 4 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.Headers) != 1 || cfg.ChromePath != "/opt/chrome" {
		t.Errorf("field names should match case-insensitively, got %+v", cfg)
	}
	if cfg.TimeoutDuration() != 15*time.Second {
		t.Errorf("expected 15s timeout, got %v", cfg.TimeoutDuration())
	}
}

func TestLoadConfigMissing(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.json")} {
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig(%q) failed: %v", path, err)
		}
		if cfg.Host != "" || cfg.Port != 0 {
			t.Errorf("expected an empty config, got %+v", cfg)
		}
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"port": "high"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}
	if cfg.Host != DefaultHost || cfg.Port != DefaultPort || cfg.Parallel != DefaultParallel {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"port", Config{Port: 70000}, "port"},
		{"parallel", Config{Parallel: -2}, "parallel"},
		{"size", Config{Width: -1}, "width"},
		{"grace", Config{Grace: -5}, "grace"},
		{"timeout", Config{Timeout: -1}, "timeout"},
		{"header", Config{Headers: []string{"X-Ok: 1", "broken"}}, `"broken"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestEmulation(t *testing.T) {
	preset := (&Config{Agent: "nexus6p", Width: 100, Height: 100}).Emulation()
	if preset.Width != 412 || preset.Height != 732 || !preset.Mobile || preset.ScaleFactor != 3.5 {
		t.Errorf("unexpected preset %+v", preset)
	}
	if !strings.Contains(preset.UserAgent, "Nexus 6") {
		t.Errorf("unexpected user agent %q", preset.UserAgent)
	}

	raw := (&Config{Agent: "custom-agent/1.0", Width: 800, Height: 600}).Emulation()
	if raw.UserAgent != "custom-agent/1.0" || raw.Width != 800 || raw.Height != 600 || raw.Mobile {
		t.Errorf("unexpected raw agent %+v", raw)
	}

	if _, ok := LookupDevice("iphone6p"); !ok {
		t.Error("expected the iphone6p preset")
	}
	if _, ok := LookupDevice("toaster"); ok {
		t.Error("unexpected preset")
	}
}
