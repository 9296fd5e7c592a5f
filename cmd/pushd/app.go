package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/pslog"

	"pkt.systems/pushd"
	"pkt.systems/pushd/internal/pathutil"
	"pkt.systems/pushd/internal/svcfields"
)

const envPrefix = "PUSHD"

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix(envPrefix+"_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "pushd")
	root := newRootCommand(baseLogger)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ran, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 1
	}
	// Server failures go to the structured log; usage errors stay readable.
	if ran == root && root.Flags().Parsed() {
		svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
	} else {
		fmt.Fprintf(os.Stderr, "%s\n", err)
	}
	return 1
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd, _ := buildRootCommand(baseLogger)
	return cmd
}

// buildRootCommand also returns the viper instance bound to the root flags.
func buildRootCommand(baseLogger pslog.Logger) (*cobra.Command, *viper.Viper) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "pushd",
		Short:         "pushd publishes pages from a staging tree to the live web servers over FTP, S3 or local copy",
		SilenceErrors: true,
		Example: `
  # Two external FTP hosts and one intranet host
  pushd --local-base /var/www/dev --external-hosts web1,web2 --internal-host intranet

  # FTPS on a custom port, remote root /htdocs
  PUSHD_EXTERNAL_HOSTS=ftps://web1:990/htdocs PUSHD_EXTERNAL_USER=deploy pushd

  # Mirror every publish into a MinIO bucket as well
  pushd --external-hosts 'web1,s3://minio:9000/site?insecure=1&path-style=1'

  # Local promote mappings
  pushd --promote-mappings '/var/www/dev=>/var/www/live'
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()
			logger := baseLogger
			if level, ok := pslog.ParseLevel(strings.TrimSpace(v.GetString("log-level"))); ok {
				logger = logger.LogLevel(level)
			}
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")
			svcfields.WithSubsystem(logger, "server.lifecycle.init").Info(
				"welcome to pushd",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
			)

			configFile, err := loadConfigFile(v)
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}
			cfg, err := bindConfig(v)
			if err != nil {
				return err
			}

			server, err := pushd.NewServer(cfg, pushd.WithLogger(logger))
			if err != nil {
				return err
			}
			shutdownTimeout := v.GetDuration("shutdown-timeout")
			if shutdownTimeout <= 0 {
				shutdownTimeout = pushd.DefaultShutdownTimeout
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()
			select {
			case err := <-errCh:
				_ = server.Close()
				return err
			case <-ctx.Done():
			}
			cliLogger.Info("shutdown requested", "timeout", shutdownTimeout)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				cliLogger.Error("shutdown failed", "error", err)
				return err
			}
			return <-errCh
		},
	}

	cmd.SetGlobalNormalizationFunc(normalizeFlagName)
	persistent := cmd.PersistentFlags()
	persistent.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.pushd/"+pushd.DefaultConfigFileName+")")
	persistent.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	defaults := pushd.DefaultConfig()
	flags := cmd.Flags()
	flags.String("listen", defaults.Listen, "HTTP listen address")
	flags.String("metrics-listen", defaults.MetricsListen, "Prometheus /metrics listen address (empty disables)")
	flags.String("otlp-endpoint", "", "OTLP trace collector (host:port, grpc://, grpcs://, http:// or https://)")
	flags.Bool("enable-runtime-metrics", false, "export Go runtime metrics on the metrics endpoint")
	flags.Bool("disable-http-tracing", false, "disable per-request spans")
	flags.String("json-max", humanizeBytes(defaults.JSONMaxBytes), "maximum JSON request body size")
	flags.String("log-dir", "", "audit log directory (defaults to $HOME/.pushd/"+pushd.DefaultLogDirName+")")
	flags.String("local-base", defaults.External.LocalBase, "local document root of the site")
	flags.String("external-hosts", strings.Join(defaults.External.Hosts, ","), "comma separated external destinations (host[:port], ftp://, ftps://, s3://, file://)")
	flags.Int("external-port", defaults.External.Port, "FTP port for bare external hosts")
	flags.String("external-remote-base", defaults.External.RemoteBase, "remote document root on external hosts")
	flags.Bool("external-ftps", false, "use explicit FTPS for bare external hosts")
	flags.String("external-user", "", "default external FTP user")
	flags.String("external-password", "", "default external FTP password")
	flags.String("internal-host", defaults.Internal.Hosts[0], "internal destination")
	flags.Int("internal-port", defaults.Internal.Port, "FTP port for a bare internal host")
	flags.String("internal-remote-base", defaults.Internal.RemoteBase, "remote document root on the internal host")
	flags.String("internal-local-base", "", "local document root for internal publishing (defaults to --local-base)")
	flags.Bool("internal-ftps", false, "use explicit FTPS for a bare internal host")
	flags.String("internal-user", "", "default internal FTP user")
	flags.String("internal-password", "", "default internal FTP password")
	flags.String("promote-mappings", "", "comma separated from=>to local copy rules for /api/promote")
	flags.Duration("ftp-timeout", defaults.FTPTimeout, "connect and login timeout per host")
	flags.Duration("preflight-timeout", defaults.PreflightTimeout, "budget for remote directory creation before a push")
	flags.Bool("ftp-tls-insecure", false, "skip certificate verification on FTPS connections")
	flags.Int("host-parallelism", defaults.HostParallelism, "hosts pushed concurrently per publish")
	flags.Duration("shutdown-timeout", pushd.DefaultShutdownTimeout, "graceful shutdown budget")

	if err := v.BindPFlags(persistent); err != nil {
		panic(err)
	}
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		newConfigCommand(),
		newVersionCommand(),
		newResolveCommand(),
		newLocksCommand(),
	)
	return cmd, v
}

func bindConfig(v *viper.Viper) (pushd.Config, error) {
	cfg := pushd.DefaultConfig()
	cfg.Listen = v.GetString("listen")
	cfg.MetricsListen = v.GetString("metrics-listen")
	cfg.OTLPEndpoint = v.GetString("otlp-endpoint")
	cfg.EnableRuntimeMetrics = v.GetBool("enable-runtime-metrics")
	cfg.DisableHTTPTracing = v.GetBool("disable-http-tracing")
	if raw := strings.TrimSpace(v.GetString("json-max")); raw != "" {
		n, err := humanize.ParseBytes(raw)
		if err != nil {
			return cfg, fmt.Errorf("parse json-max: %w", err)
		}
		cfg.JSONMaxBytes = int64(n)
	}
	cfg.LogDir = v.GetString("log-dir")

	cfg.External = pushd.ProfileConfig{
		Hosts:      listValue(v, "external-hosts"),
		Port:       v.GetInt("external-port"),
		RemoteBase: v.GetString("external-remote-base"),
		LocalBase:  v.GetString("local-base"),
		FTPS:       v.GetBool("external-ftps"),
		Username:   v.GetString("external-user"),
		Password:   v.GetString("external-password"),
	}
	cfg.Internal = pushd.ProfileConfig{
		Hosts:      listValue(v, "internal-host"),
		Port:       v.GetInt("internal-port"),
		RemoteBase: v.GetString("internal-remote-base"),
		LocalBase:  v.GetString("internal-local-base"),
		FTPS:       v.GetBool("internal-ftps"),
		Username:   v.GetString("internal-user"),
		Password:   v.GetString("internal-password"),
	}
	cfg.PromoteMappings = listValue(v, "promote-mappings")
	cfg.FTPTimeout = v.GetDuration("ftp-timeout")
	cfg.PreflightTimeout = v.GetDuration("preflight-timeout")
	cfg.FTPTLSInsecure = v.GetBool("ftp-tls-insecure")
	cfg.HostParallelism = v.GetInt("host-parallelism")
	return cfg, nil
}

// normalizeFlagName lets --external_hosts stand in for --external-hosts, the
// spelling environment variables use.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(strings.ToLower(name), "_", "-"))
}

// listValue accepts a YAML list or a comma separated string.
func listValue(v *viper.Viper, key string) []string {
	var parts []string
	switch raw := v.Get(key).(type) {
	case []string:
		parts = raw
	case []any:
		for _, item := range raw {
			parts = append(parts, fmt.Sprint(item))
		}
	default:
		parts = strings.Split(v.GetString(key), ",")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadConfigFile(v *viper.Viper) (string, error) {
	cfgPath := strings.TrimSpace(v.GetString("config"))
	explicit := cfgPath != ""
	if !explicit {
		dir, err := pushd.DefaultConfigDir()
		if err != nil {
			return "", nil
		}
		cfgPath = filepath.Join(dir, pushd.DefaultConfigFileName)
	}
	expanded, err := pathutil.Absolute(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.IBytes(uint64(n)), " ", "")
}
