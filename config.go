package pushd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/pushd/internal/httpapi"
	"pkt.systems/pushd/internal/pathutil"
	"pkt.systems/pushd/internal/publish"
	"pkt.systems/pushd/internal/transfer"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":3000"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultJSONMaxBytes bounds incoming JSON payloads.
	DefaultJSONMaxBytes = httpapi.DefaultJSONMaxBytes
	// DefaultLocalBase is the local document root of the external site.
	DefaultLocalBase = "/var/www/dev"
	// DefaultLogDirName is the audit log directory under the config dir.
	DefaultLogDirName = "logs"
	// DefaultExternalHosts lists the external destinations.
	DefaultExternalHosts = "localhost"
	// DefaultExternalRemoteBase is the remote document root on external hosts.
	DefaultExternalRemoteBase = "/www"
	// DefaultInternalHost is the internal destination.
	DefaultInternalHost = "localhost"
	// DefaultInternalRemoteBase is the remote document root on the internal host.
	DefaultInternalRemoteBase = "/intranet"
	// DefaultFTPPort is the FTP control port used when a destination names none.
	DefaultFTPPort = transfer.DefaultFTPPort
	// DefaultFTPTimeout bounds connect and login per host.
	DefaultFTPTimeout = transfer.DefaultFTPTimeout
	// DefaultPreflightTimeout bounds best-effort remote directory creation.
	DefaultPreflightTimeout = publish.DefaultPreflightTimeout
	// DefaultHostParallelism caps concurrent host pushes per publish call.
	DefaultHostParallelism = publish.DefaultHostParallelism
	// DefaultShutdownTimeout caps the total shutdown time.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// ProfileConfig describes one publish destination set.
type ProfileConfig struct {
	// Hosts are destination strings: "host", "host:port", "ftp://", "ftps://",
	// "s3://endpoint/bucket/prefix" or "file:///dir".
	Hosts []string
	// Port applies to bare FTP hosts.
	Port int
	// RemoteBase is the remote root local files are mapped under.
	RemoteBase string
	// LocalBase is the local document root.
	LocalBase string
	// FTPS negotiates explicit TLS on bare FTP hosts.
	FTPS bool
	// Username and Password are used when a request omits them.
	Username string
	Password string
}

// Config captures the tunables for a pushd server.
type Config struct {
	Listen        string
	MetricsListen string
	// OTLPEndpoint enables tracing export, e.g. "grpc://collector:4317".
	OTLPEndpoint string
	// EnableRuntimeMetrics exports Go runtime metrics on MetricsListen.
	EnableRuntimeMetrics bool
	DisableHTTPTracing   bool
	JSONMaxBytes         int64
	// LogDir receives the daily audit log files.
	LogDir string

	External ProfileConfig
	Internal ProfileConfig

	// PromoteMappings are "from=>to" local copy rules for /api/promote.
	PromoteMappings []string

	FTPTimeout       time.Duration
	PreflightTimeout time.Duration
	// FTPTLSInsecure skips certificate verification on FTPS control connections.
	FTPTLSInsecure  bool
	HostParallelism int
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Listen:        DefaultListen,
		MetricsListen: DefaultMetricsListen,
		JSONMaxBytes:  DefaultJSONMaxBytes,
		External: ProfileConfig{
			Hosts:      splitList(DefaultExternalHosts),
			Port:       DefaultFTPPort,
			RemoteBase: DefaultExternalRemoteBase,
			LocalBase:  DefaultLocalBase,
		},
		Internal: ProfileConfig{
			Hosts:      []string{DefaultInternalHost},
			Port:       DefaultFTPPort,
			RemoteBase: DefaultInternalRemoteBase,
		},
		FTPTimeout:       DefaultFTPTimeout,
		PreflightTimeout: DefaultPreflightTimeout,
		HostParallelism:  DefaultHostParallelism,
	}
}

// Validate normalises the configuration in place and reports the first
// invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	if c.JSONMaxBytes <= 0 {
		c.JSONMaxBytes = DefaultJSONMaxBytes
	}
	if c.EnableRuntimeMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: runtime metrics require metrics-listen")
	}
	if c.FTPTimeout <= 0 {
		c.FTPTimeout = DefaultFTPTimeout
	}
	if c.PreflightTimeout <= 0 {
		c.PreflightTimeout = DefaultPreflightTimeout
	}
	if c.HostParallelism <= 0 {
		c.HostParallelism = DefaultHostParallelism
	}
	if c.LogDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return fmt.Errorf("config: log dir: %w", err)
		}
		c.LogDir = filepath.Join(dir, DefaultLogDirName)
	}
	logDir, err := pathutil.Absolute(c.LogDir)
	if err != nil {
		return fmt.Errorf("config: log dir: %w", err)
	}
	c.LogDir = logDir

	if err := c.External.normalize("external", ""); err != nil {
		return err
	}
	if len(c.External.Hosts) == 0 {
		return fmt.Errorf("config: external hosts are required")
	}
	if err := c.Internal.normalize("internal", c.External.LocalBase); err != nil {
		return err
	}
	if len(c.Internal.Hosts) != 1 {
		return fmt.Errorf("config: internal publishing needs exactly one host, got %d", len(c.Internal.Hosts))
	}
	mappings, err := transfer.ParseMappings(c.PromoteMappings)
	if err != nil {
		return fmt.Errorf("config: promote mappings: %w", err)
	}
	for _, m := range mappings {
		if m.SelfCopy() {
			return fmt.Errorf("config: promote mapping %s copies onto itself", m)
		}
	}
	return nil
}

func (p *ProfileConfig) normalize(name, fallbackBase string) error {
	hosts := p.Hosts[:0:0]
	for _, h := range p.Hosts {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	p.Hosts = hosts
	if p.Port == 0 {
		p.Port = DefaultFTPPort
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("config: %s port %d out of range", name, p.Port)
	}
	if strings.TrimSpace(p.RemoteBase) == "" {
		p.RemoteBase = "/"
	}
	if strings.TrimSpace(p.LocalBase) == "" {
		p.LocalBase = fallbackBase
	}
	if p.LocalBase == "" {
		return fmt.Errorf("config: %s local base is required", name)
	}
	base, err := pathutil.Absolute(p.LocalBase)
	if err != nil {
		return fmt.Errorf("config: %s local base: %w", name, err)
	}
	p.LocalBase = base
	p.Username = strings.TrimSpace(p.Username)
	return nil
}

// DefaultConfigDir returns the default configuration directory ($HOME/.pushd).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("PUSHD_CONFIG_DIR")); override != "" {
		return pathutil.Absolute(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pushd"), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
