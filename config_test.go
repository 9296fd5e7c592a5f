package pushd

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigValidateDefaults(t *testing.T) {
	t.Setenv("PUSHD_CONFIG_DIR", t.TempDir())
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Fatalf("expected listen default %q, got %q", DefaultListen, cfg.Listen)
	}
	if cfg.JSONMaxBytes != DefaultJSONMaxBytes {
		t.Fatalf("expected json max default, got %d", cfg.JSONMaxBytes)
	}
	if cfg.External.Port != 21 || cfg.Internal.Port != 21 {
		t.Fatalf("expected ftp port 21, got %d/%d", cfg.External.Port, cfg.Internal.Port)
	}
	if cfg.Internal.LocalBase != cfg.External.LocalBase {
		t.Fatalf("internal base should fall back to external base, got %q", cfg.Internal.LocalBase)
	}
	if !filepath.IsAbs(cfg.LogDir) || filepath.Base(cfg.LogDir) != DefaultLogDirName {
		t.Fatalf("unexpected log dir %q", cfg.LogDir)
	}
	if cfg.FTPTimeout <= 0 || cfg.PreflightTimeout <= 0 || cfg.HostParallelism <= 0 {
		t.Fatalf("expected timing defaults, got %+v", cfg)
	}
}

func TestConfigValidateFillsZeroValues(t *testing.T) {
	cfg := Config{
		LogDir:   t.TempDir(),
		External: ProfileConfig{Hosts: []string{" web1 ", "", "web2"}, LocalBase: t.TempDir()},
		Internal: ProfileConfig{Hosts: []string{"intranet"}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := strings.Join(cfg.External.Hosts, ","); got != "web1,web2" {
		t.Fatalf("expected trimmed hosts, got %q", got)
	}
	if cfg.External.RemoteBase != "/" {
		t.Fatalf("expected remote base default /, got %q", cfg.External.RemoteBase)
	}
	if cfg.Listen != DefaultListen || cfg.JSONMaxBytes != DefaultJSONMaxBytes {
		t.Fatalf("expected listen/json defaults, got %q %d", cfg.Listen, cfg.JSONMaxBytes)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	base := t.TempDir()
	valid := func() Config {
		return Config{
			LogDir:   t.TempDir(),
			External: ProfileConfig{Hosts: []string{"web1"}, LocalBase: base},
			Internal: ProfileConfig{Hosts: []string{"intranet"}},
		}
	}
	cases := map[string]func(*Config){
		"no external hosts":       func(c *Config) { c.External.Hosts = nil },
		"two internal hosts":      func(c *Config) { c.Internal.Hosts = []string{"a", "b"} },
		"no internal host":        func(c *Config) { c.Internal.Hosts = []string{" "} },
		"missing local base":      func(c *Config) { c.External.LocalBase = "" },
		"port out of range":       func(c *Config) { c.External.Port = 70000 },
		"bad promote mapping":     func(c *Config) { c.PromoteMappings = []string{"/only/from"} },
		"self promote mapping":    func(c *Config) { c.PromoteMappings = []string{base + "=>" + base + "/"} },
		"runtime without metrics": func(c *Config) { c.EnableRuntimeMetrics = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDefaultConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PUSHD_CONFIG_DIR", dir)
	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir: %v", err)
	}
	if got != dir {
		t.Fatalf("expected %q, got %q", dir, got)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" web1, ,web2 ,")
	if len(got) != 2 || got[0] != "web1" || got[1] != "web2" {
		t.Fatalf("unexpected split %v", got)
	}
	if splitList("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
