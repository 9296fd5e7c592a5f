package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"

	"pkt.systems/pushd"
	"pkt.systems/pushd/api"
)

func executeRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PUSHD_CONFIG_DIR", t.TempDir())
	root := newRootCommand(pslog.NewStructured(io.Discard))
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCommand(pslog.NewStructured(io.Discard))
	for _, name := range []string{"config", "version", "resolve", "locks"} {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %q subcommand", name)
		}
	}
	if flag := root.PersistentFlags().ShorthandLookup("c"); flag == nil || flag.Name != "config" {
		t.Fatalf("expected -c shorthand for --config, got %#v", flag)
	}
}

func TestBindConfigFromFlagsAndEnv(t *testing.T) {
	t.Setenv("PUSHD_EXTERNAL_USER", "deploy")
	t.Setenv("PUSHD_INTERNAL_FTPS", "1")
	root, v := buildRootCommand(pslog.NewStructured(io.Discard))
	if err := root.ParseFlags([]string{
		"--external-hosts", "web1, web2:2121,ftps://web3/htdocs",
		"--json-max", "4MiB",
		"--promote-mappings", "/a=>/b,/c=>/d",
		"--host-parallelism", "2",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := bindConfig(v)
	if err != nil {
		t.Fatalf("bindConfig: %v", err)
	}
	if got := strings.Join(cfg.External.Hosts, "|"); got != "web1|web2:2121|ftps://web3/htdocs" {
		t.Fatalf("unexpected hosts %q", got)
	}
	if cfg.JSONMaxBytes != 4<<20 {
		t.Fatalf("expected 4MiB, got %d", cfg.JSONMaxBytes)
	}
	if len(cfg.PromoteMappings) != 2 || cfg.PromoteMappings[1] != "/c=>/d" {
		t.Fatalf("unexpected promote mappings %v", cfg.PromoteMappings)
	}
	if cfg.HostParallelism != 2 {
		t.Fatalf("expected host parallelism 2, got %d", cfg.HostParallelism)
	}
	if cfg.External.Username != "deploy" {
		t.Fatalf("expected env user, got %q", cfg.External.Username)
	}
	if !cfg.Internal.FTPS {
		t.Fatal("expected PUSHD_INTERNAL_FTPS=1 to enable ftps")
	}
	if len(cfg.Internal.Hosts) != 1 || cfg.Internal.Hosts[0] != pushd.DefaultInternalHost {
		t.Fatalf("unexpected internal hosts %v", cfg.Internal.Hosts)
	}
}

func TestFlagNamesAcceptUnderscores(t *testing.T) {
	root, v := buildRootCommand(pslog.NewStructured(io.Discard))
	if err := root.ParseFlags([]string{"--external_hosts", "web9", "--HOST_PARALLELISM", "3"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := bindConfig(v)
	if err != nil {
		t.Fatalf("bindConfig: %v", err)
	}
	if len(cfg.External.Hosts) != 1 || cfg.External.Hosts[0] != "web9" || cfg.HostParallelism != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestBindConfigRejectsBadJSONMax(t *testing.T) {
	root, v := buildRootCommand(pslog.NewStructured(io.Discard))
	if err := root.ParseFlags([]string{"--json-max", "lots"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := bindConfig(v); err == nil {
		t.Fatal("expected json-max parse error")
	}
}

func TestConfigGenRoundTripsThroughLoader(t *testing.T) {
	out, err := executeRootCommand(t, "config", "gen", "--stdout")
	if err != nil {
		t.Fatalf("config gen: %v", err)
	}
	var decoded configDefaults
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if decoded.Listen != pushd.DefaultListen || decoded.JSONMax != "2.0MiB" {
		t.Fatalf("unexpected defaults %+v", decoded)
	}

	path := filepath.Join(t.TempDir(), "pushd.yaml")
	edited := strings.Replace(out, "external-hosts:\n    - localhost", "external-hosts:\n    - web1\n    - web2", 1)
	if edited == out {
		t.Fatalf("generated yaml has unexpected host layout:\n%s", out)
	}
	if err := os.WriteFile(path, []byte(edited), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	v := viper.New()
	v.Set("config", path)
	if loaded, err := loadConfigFile(v); err != nil || loaded != path {
		t.Fatalf("loadConfigFile: %q %v", loaded, err)
	}
	cfg, err := bindConfig(v)
	if err != nil {
		t.Fatalf("bindConfig: %v", err)
	}
	if got := strings.Join(cfg.External.Hosts, ","); got != "web1,web2" {
		t.Fatalf("expected yaml host list, got %q", got)
	}
	if cfg.JSONMaxBytes != pushd.DefaultJSONMaxBytes {
		t.Fatalf("expected json max to round trip, got %d", cfg.JSONMaxBytes)
	}
	if cfg.FTPTimeout != pushd.DefaultFTPTimeout {
		t.Fatalf("expected ftp timeout to round trip, got %s", cfg.FTPTimeout)
	}
}

func TestConfigGenRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := executeRootCommand(t, "config", "gen", "--out", path); err != nil {
		t.Fatalf("first gen: %v", err)
	}
	if _, err := executeRootCommand(t, "config", "gen", "--out", path); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
	if _, err := executeRootCommand(t, "config", "gen", "--out", path, "--force"); err != nil {
		t.Fatalf("forced gen: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	t.Setenv("PUSHD_CONFIG_DIR", t.TempDir())
	v := viper.New()
	if path, err := loadConfigFile(v); err != nil || path != "" {
		t.Fatalf("expected implicit missing config to be ignored, got %q %v", path, err)
	}
	v.Set("config", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := loadConfigFile(v); err == nil {
		t.Fatal("expected explicit missing config to fail")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	fields := strings.Fields(out)
	if len(fields) != 2 || !strings.HasSuffix(out, "\n") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestResolveCommand(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "news"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "news", "index.html"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := executeRootCommand(t, "resolve", "--base", base, "https://example.com/news/", "/missing.html")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var resp api.ResolveResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Base != base || len(resp.Results) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !resp.Results[0].Exists || resp.Results[0].Rel != filepath.Join("news", "index.html") {
		t.Fatalf("unexpected first result %+v", resp.Results[0])
	}
	if resp.Results[1].Exists {
		t.Fatalf("expected missing second result %+v", resp.Results[1])
	}
	if _, err := executeRootCommand(t, "resolve", "--base", base); err == nil {
		t.Fatal("expected error without urls")
	}
}

func TestLocksCommand(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "claimed.asp"), []byte("<%\ncoder = \"jdoe\"\ntask = \"rewrite\"\n%>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "free.html"), []byte("<p>free</p>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := executeRootCommand(t, "locks", "--base", base, "/claimed.asp", "/free.html")
	if err != nil {
		t.Fatalf("locks: %v", err)
	}
	var resp api.LockCheckResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Locked) != 1 || resp.Locked[0].Coder != "jdoe" || resp.Locked[0].Task != "rewrite" {
		t.Fatalf("unexpected locks %+v", resp.Locked)
	}
	if resp.InspectedCount != 2 || resp.Inspected[1].Source != "none" {
		t.Fatalf("unexpected inspections %+v", resp.Inspected)
	}
}

func TestListValue(t *testing.T) {
	v := viper.New()
	v.Set("csv", " a, ,b ")
	v.Set("list", []any{"x", " y "})
	if got := listValue(v, "csv"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected csv split %v", got)
	}
	if got := listValue(v, "list"); len(got) != 2 || got[1] != "y" {
		t.Fatalf("unexpected list %v", got)
	}
	if got := listValue(v, "absent"); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
}
