package pushd

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"

	"pkt.systems/pslog"

	"pkt.systems/pushd/api"
	"pkt.systems/pushd/internal/pathutil"
	"pkt.systems/pushd/internal/publish"
	"pkt.systems/pushd/internal/transfer"
	"pkt.systems/pushd/internal/version"
)

// targetOptions carries process-wide settings shared by every destination.
type targetOptions struct {
	cfg    Config
	dialer transfer.Dialer
	logger pslog.Logger
}

// BuildTarget turns one configured destination string into a transfer
// backend publishing files from p.LocalBase.
func BuildTarget(raw string, p ProfileConfig, cfg Config) (transfer.Backend, error) {
	return buildTarget(raw, p, targetOptions{cfg: cfg, logger: pslog.NoopLogger()})
}

func buildTarget(raw string, p ProfileConfig, opts targetOptions) (transfer.Backend, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("target: empty destination")
	}
	if !strings.Contains(raw, "://") {
		ftpCfg, err := bareFTPConfig(raw, p, opts.cfg)
		if err != nil {
			return nil, err
		}
		ftpCfg.Dialer, ftpCfg.Logger = opts.dialer, opts.logger
		return transfer.NewFTP(ftpCfg)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("target: parse %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ftp", "ftps":
		ftpCfg, err := BuildFTPConfig(raw, p, opts.cfg)
		if err != nil {
			return nil, err
		}
		ftpCfg.Dialer, ftpCfg.Logger = opts.dialer, opts.logger
		return transfer.NewFTP(ftpCfg)
	case "s3":
		objCfg, err := BuildObjectConfig(raw, p)
		if err != nil {
			return nil, err
		}
		objCfg.Logger = opts.logger
		return transfer.NewObject(objCfg)
	case "file":
		dir, err := pathutil.Absolute(u.Path)
		if err != nil {
			return nil, fmt.Errorf("target: %s: %w", raw, err)
		}
		if dir == "" {
			return nil, fmt.Errorf("target: %s: missing directory (expected file:///dir)", raw)
		}
		return transfer.NewCopy(transfer.CopyConfig{
			Label:    raw,
			Mappings: []transfer.Mapping{{From: p.LocalBase, To: dir}},
			Logger:   opts.logger,
		})
	default:
		return nil, fmt.Errorf("target: scheme %q not supported", u.Scheme)
	}
}

func bareFTPConfig(raw string, p ProfileConfig, cfg Config) (transfer.FTPConfig, error) {
	host, port := raw, p.Port
	if h, portStr, err := net.SplitHostPort(raw); err == nil {
		n, err := strconv.Atoi(portStr)
		if err != nil {
			return transfer.FTPConfig{}, fmt.Errorf("target: %s: invalid port %q", raw, portStr)
		}
		host, port = h, n
	}
	return transfer.FTPConfig{
		Label:              raw,
		Host:               host,
		Port:               port,
		TLS:                p.FTPS,
		InsecureSkipVerify: cfg.FTPTLSInsecure,
		Timeout:            cfg.FTPTimeout,
		Mappings:           []transfer.Mapping{{From: p.LocalBase, To: p.RemoteBase}},
	}, nil
}

// BuildFTPConfig parses ftp:// and ftps:// destinations. A URL path replaces
// the profile's remote base; "?insecure=1" skips certificate verification.
func BuildFTPConfig(raw string, p ProfileConfig, cfg Config) (transfer.FTPConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return transfer.FTPConfig{}, fmt.Errorf("target: parse %q: %w", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "ftp" && scheme != "ftps" {
		return transfer.FTPConfig{}, fmt.Errorf("target: scheme %q is not ftp", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return transfer.FTPConfig{}, fmt.Errorf("target: %s: missing host (expected %s://host[:port][/base])", raw, scheme)
	}
	port := p.Port
	if portStr := u.Port(); portStr != "" {
		if port, err = strconv.Atoi(portStr); err != nil {
			return transfer.FTPConfig{}, fmt.Errorf("target: %s: invalid port %q", raw, portStr)
		}
	}
	remoteBase := p.RemoteBase
	if trimmed := strings.TrimRight(u.Path, "/"); trimmed != "" {
		remoteBase = path.Clean(u.Path)
	}
	insecure := cfg.FTPTLSInsecure
	if v := u.Query().Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			insecure = ok
		}
	}
	u.User = nil
	return transfer.FTPConfig{
		Label:              u.String(),
		Host:               host,
		Port:               port,
		TLS:                scheme == "ftps",
		InsecureSkipVerify: insecure,
		Timeout:            cfg.FTPTimeout,
		Mappings:           []transfer.Mapping{{From: p.LocalBase, To: remoteBase}},
	}, nil
}

// BuildObjectConfig parses s3://[key:secret@]endpoint/bucket[/prefix]
// destinations. Query keys: insecure, path-style, region.
func BuildObjectConfig(raw string, p ProfileConfig) (transfer.ObjectConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return transfer.ObjectConfig{}, fmt.Errorf("target: parse %q: %w", raw, err)
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return transfer.ObjectConfig{}, fmt.Errorf("target: scheme %q is not s3", u.Scheme)
	}
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return transfer.ObjectConfig{}, fmt.Errorf("target: %s: missing endpoint (expected s3://endpoint/bucket[/prefix])", raw)
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return transfer.ObjectConfig{}, fmt.Errorf("target: %s: missing bucket (expected s3://endpoint/bucket[/prefix])", raw)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	var prefix string
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	query := u.Query()
	objCfg := transfer.ObjectConfig{
		Endpoint: endpoint,
		Region:   strings.TrimSpace(query.Get("region")),
		Bucket:   parts[0],
		Prefix:   prefix,
		Mappings: []transfer.Mapping{{From: p.LocalBase, To: ""}},
	}
	if v := query.Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			objCfg.Insecure = ok
		}
	}
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			objCfg.ForcePathStyle = ok
		}
	}
	if u.User != nil {
		objCfg.AccessKey = u.User.Username()
		objCfg.SecretKey, _ = u.User.Password()
		u.User = nil
	}
	objCfg.Label = u.String()
	return objCfg, nil
}

func buildProfile(name string, p ProfileConfig, opts targetOptions) (*publish.Profile, error) {
	targets := make([]transfer.Backend, 0, len(p.Hosts))
	seen := make(map[string]struct{}, len(p.Hosts))
	for _, raw := range p.Hosts {
		target, err := buildTarget(raw, p, opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		key := strings.ToLower(target.Name())
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%s: duplicate destination %q", name, target.Name())
		}
		seen[key] = struct{}{}
		targets = append(targets, target)
	}
	profile := &publish.Profile{
		Name:             name,
		Base:             p.LocalBase,
		Targets:          targets,
		Defaults:         transfer.Credentials{Username: p.Username, Password: p.Password},
		PreflightTimeout: opts.cfg.PreflightTimeout,
	}
	return profile, nil
}

// buildProfiles returns the external and internal publish profiles.
// External pushes prepare remote directories first; the internal profile has
// a single destination and honours the default-credentials sentinel.
func buildProfiles(opts targetOptions) (*publish.Profile, *publish.Profile, error) {
	external, err := buildProfile("external", opts.cfg.External, opts)
	if err != nil {
		return nil, nil, err
	}
	external.Preflight = true
	internal, err := buildProfile("internal", opts.cfg.Internal, opts)
	if err != nil {
		return nil, nil, err
	}
	internal.Single = true
	internal.AllowSentinel = true
	return external, internal, nil
}

// buildPromote returns the local copy backend for /api/promote, or nil when
// no mappings are configured.
func buildPromote(opts targetOptions) (transfer.Backend, error) {
	mappings, err := transfer.ParseMappings(opts.cfg.PromoteMappings)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, nil
	}
	for i, m := range mappings {
		if mappings[i].From, err = pathutil.Absolute(m.From); err != nil {
			return nil, fmt.Errorf("promote mapping %s: %w", m, err)
		}
		if mappings[i].To, err = pathutil.Absolute(m.To); err != nil {
			return nil, fmt.Errorf("promote mapping %s: %w", m, err)
		}
		if mappings[i].SelfCopy() {
			return nil, fmt.Errorf("promote mapping %s copies onto itself", m)
		}
	}
	return transfer.NewCopy(transfer.CopyConfig{Label: "promote", Mappings: mappings, Logger: opts.logger})
}

func healthDefaults(cfg Config, external, internal *publish.Profile, promote transfer.Backend) api.Defaults {
	defaults := api.Defaults{
		External:        profileDefaults(cfg.External, external),
		Internal:        profileDefaults(cfg.Internal, internal),
		PromoteMappings: []string{},
		LogDir:          cfg.LogDir,
		Version:         version.Current(),
	}
	if mapped, ok := promote.(interface{ Mappings() []transfer.Mapping }); ok {
		for _, m := range mapped.Mappings() {
			defaults.PromoteMappings = append(defaults.PromoteMappings, m.String())
		}
	}
	return defaults
}

func profileDefaults(p ProfileConfig, profile *publish.Profile) api.HostDefaults {
	return api.HostDefaults{
		Hosts:          profile.TargetNames(),
		Port:           p.Port,
		RemoteBase:     p.RemoteBase,
		LocalBase:      p.LocalBase,
		FTPS:           p.FTPS,
		HasDefaultUser: p.Username != "",
	}
}
