package version

import (
	"runtime/debug"
	"strings"
	"time"
)

const (
	defaultModule = "pkt.systems/pushd"
	appName       = "pushd"
)

// buildVersion is set via -ldflags "-X pkt.systems/pushd/internal/version.buildVersion=...".
var buildVersion = ""

// Current returns the best available version string.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return v
		}
		if v := pseudo(info.Settings); v != "" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

// Module returns the module path from build info when available.
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}

// AppName is the short product name used in user agents and telemetry.
func AppName() string { return appName }

func pseudo(settings []debug.BuildSetting) string {
	vcs := make(map[string]string, len(settings))
	for _, s := range settings {
		vcs[s.Key] = s.Value
	}
	revision, stamp := vcs["vcs.revision"], vcs["vcs.time"]
	if revision == "" || stamp == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	ver := "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + revision
	if vcs["vcs.modified"] == "true" {
		ver += "+dirty"
	}
	return ver
}
