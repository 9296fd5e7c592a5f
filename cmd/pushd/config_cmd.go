package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/pushd"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pushd configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var (
		outPath string
		force   bool
		stdout  bool
	)
	defaultOutput := "$HOME/.pushd/" + pushd.DefaultConfigFileName
	if dir, err := pushd.DefaultConfigDir(); err == nil {
		defaultOutput = filepath.Join(dir, pushd.DefaultConfigFileName)
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default pushd configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if outPath == "" {
				dir, err := pushd.DefaultConfigDir()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = filepath.Join(dir, pushd.DefaultConfigFileName)
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			// The file may carry FTP passwords once edited.
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

// configDefaults mirrors the root command flags; keys must match flag names.
type configDefaults struct {
	Listen               string   `yaml:"listen"`
	MetricsListen        string   `yaml:"metrics-listen"`
	OTLPEndpoint         string   `yaml:"otlp-endpoint"`
	EnableRuntimeMetrics bool     `yaml:"enable-runtime-metrics"`
	DisableHTTPTracing   bool     `yaml:"disable-http-tracing"`
	JSONMax              string   `yaml:"json-max"`
	LogDir               string   `yaml:"log-dir"`
	LogLevel             string   `yaml:"log-level"`
	LocalBase            string   `yaml:"local-base"`
	ExternalHosts        []string `yaml:"external-hosts"`
	ExternalPort         int      `yaml:"external-port"`
	ExternalRemoteBase   string   `yaml:"external-remote-base"`
	ExternalFTPS         bool     `yaml:"external-ftps"`
	ExternalUser         string   `yaml:"external-user"`
	ExternalPassword     string   `yaml:"external-password"`
	InternalHost         string   `yaml:"internal-host"`
	InternalPort         int      `yaml:"internal-port"`
	InternalRemoteBase   string   `yaml:"internal-remote-base"`
	InternalLocalBase    string   `yaml:"internal-local-base"`
	InternalFTPS         bool     `yaml:"internal-ftps"`
	InternalUser         string   `yaml:"internal-user"`
	InternalPassword     string   `yaml:"internal-password"`
	PromoteMappings      []string `yaml:"promote-mappings"`
	FTPTimeout           string   `yaml:"ftp-timeout"`
	PreflightTimeout     string   `yaml:"preflight-timeout"`
	FTPTLSInsecure       bool     `yaml:"ftp-tls-insecure"`
	HostParallelism      int      `yaml:"host-parallelism"`
	ShutdownTimeout      string   `yaml:"shutdown-timeout"`
}

func defaultConfigYAML() ([]byte, error) {
	cfg := pushd.DefaultConfig()
	logDir := ""
	if dir, err := pushd.DefaultConfigDir(); err == nil {
		logDir = filepath.Join(dir, pushd.DefaultLogDirName)
	}
	defaults := configDefaults{
		Listen:             cfg.Listen,
		MetricsListen:      cfg.MetricsListen,
		JSONMax:            humanizeBytes(cfg.JSONMaxBytes),
		LogDir:             logDir,
		LogLevel:           "info",
		LocalBase:          cfg.External.LocalBase,
		ExternalHosts:      cfg.External.Hosts,
		ExternalPort:       cfg.External.Port,
		ExternalRemoteBase: cfg.External.RemoteBase,
		InternalHost:       strings.Join(cfg.Internal.Hosts, ","),
		InternalPort:       cfg.Internal.Port,
		InternalRemoteBase: cfg.Internal.RemoteBase,
		PromoteMappings:    []string{},
		FTPTimeout:         cfg.FTPTimeout.String(),
		PreflightTimeout:   cfg.PreflightTimeout.String(),
		HostParallelism:    cfg.HostParallelism,
		ShutdownTimeout:    pushd.DefaultShutdownTimeout.String(),
	}
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	header := "# pushd configuration. Every key matches a command line flag and a PUSHD_* environment variable.\n"
	return append([]byte(header), data...), nil
}
