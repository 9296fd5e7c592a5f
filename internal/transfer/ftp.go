package transfer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jlaffaye/ftp"
	"pkt.systems/pslog"

	"pkt.systems/pushd/internal/svcfields"
)

const (
	// DefaultFTPPort is used when FTPConfig.Port is zero.
	DefaultFTPPort = 21
	// DefaultFTPTimeout bounds connecting and logging in.
	DefaultFTPTimeout = 60 * time.Second
)

// Conn is the subset of an FTP control connection the backend drives.
// *ftp.ServerConn satisfies it. Quit may be called while Login is blocked
// and must close the connection so that Login returns.
type Conn interface {
	Login(user, password string) error
	CurrentDir() (string, error)
	ChangeDir(path string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

// Dialer opens a control connection. tlsConfig is nil for plain FTP and
// requests explicit TLS (AUTH TLS) otherwise.
type Dialer func(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error)

// FTPConfig describes one FTP or FTPS destination.
type FTPConfig struct {
	// Label names the destination in summaries and logs. Defaults to Host.
	Label              string
	Host               string
	Port               int
	TLS                bool
	InsecureSkipVerify bool
	Timeout            time.Duration
	Mappings           []Mapping
	Dialer             Dialer
	Logger             pslog.Logger
}

// FTP pushes files over a single control connection per call.
type FTP struct {
	cfg    FTPConfig
	addr   string
	logger pslog.Logger
}

// NewFTP validates cfg and returns an FTP backend.
func NewFTP(cfg FTPConfig) (*FTP, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, errors.New("transfer: ftp host required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultFTPPort
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("transfer: ftp port %d out of range", cfg.Port)
	}
	if len(cfg.Mappings) == 0 {
		return nil, fmt.Errorf("transfer: ftp %s has no mappings", cfg.Host)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFTPTimeout
	}
	if cfg.Label == "" {
		cfg.Label = cfg.Host
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DialFTP
	}
	logger := svcfields.WithTarget(svcfields.WithSubsystem(cfg.Logger, "transfer", "ftp"), cfg.Label)
	return &FTP{
		cfg:    cfg,
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		logger: logger,
	}, nil
}

// DialFTP connects with github.com/jlaffaye/ftp, bounded by ctx.
func DialFTP(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, ftp.DialWithTimeout(time.Until(deadline)))
	}
	if tlsConfig != nil {
		opts = append(opts, ftp.DialWithExplicitTLS(tlsConfig))
	}
	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Name returns the configured label.
func (f *FTP) Name() string { return f.cfg.Label }

// Port returns the control port.
func (f *FTP) Port() int { return f.cfg.Port }

// Mappings returns the configured mappings.
func (f *FTP) Mappings() []Mapping { return f.cfg.Mappings }

// Push uploads files over one connection. Per-file failures do not abort the
// batch and the connection is always closed.
func (f *FTP) Push(ctx context.Context, creds Credentials, files []string) (Report, error) {
	conn, err := f.connect(ctx, creds)
	if err != nil {
		return Report{}, err
	}
	defer f.release(conn)

	home := homeDir(conn)
	report := Report{Outcomes: make([]Outcome, 0, len(files))}
	for _, file := range files {
		outcome := f.pushOne(conn, home, file)
		if outcome.Status == StatusError {
			f.logger.Warn("transfer.ftp.file.error", "file", file, "remote", outcome.Destination, "error", outcome.Err)
		} else {
			f.logger.Debug("transfer.ftp.file", "file", file, "remote", outcome.Destination, "status", string(outcome.Status))
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	sum := report.Summary()
	f.logger.Info("transfer.ftp.done", "ok", sum.OK, "err", sum.Failed, "skipped", sum.Skipped, "bytes", humanize.Bytes(uint64(sum.Bytes)))
	return report, nil
}

// Prepare creates the remote directory of every mapped file. Failures on
// individual directories are ignored.
func (f *FTP) Prepare(ctx context.Context, creds Credentials, files []string) error {
	conn, err := f.connect(ctx, creds)
	if err != nil {
		return &PreflightError{Target: f.cfg.Label, Err: err}
	}
	defer f.release(conn)
	home := homeDir(conn)
	seen := make(map[string]struct{}, len(files))
	for _, file := range files {
		remote, ok := f.remotePath(home, file)
		if !ok {
			continue
		}
		dir := path.Dir(remote)
		if _, done := seen[dir]; done {
			continue
		}
		seen[dir] = struct{}{}
		if err := ensureDir(conn, dir); err != nil {
			f.logger.Debug("transfer.ftp.preflight.dir", "dir", dir, "error", err)
		}
	}
	return nil
}

// Diagnosis is the outcome of a connectivity check.
type Diagnosis struct {
	Host       string
	OK         bool
	Stage      string
	Pwd        string
	RemoteBase string
	Err        string
}

// Diagnose connects, logs in, reads the working directory and ensures the
// first mapping's remote root exists. Stage names the step that failed.
func (f *FTP) Diagnose(ctx context.Context, creds Credentials) Diagnosis {
	remoteBase := f.cfg.Mappings[0].To
	d := Diagnosis{Host: f.cfg.Label, RemoteBase: remoteBase}
	conn, err := f.connect(ctx, creds)
	if err != nil {
		d.Stage, d.Err = "connect/login", err.Error()
		return d
	}
	defer f.release(conn)
	d.Pwd = homeDir(conn)
	if remoteBase == "" {
		remoteBase = "/"
	}
	if err := ensureDir(conn, anchor(d.Pwd, remoteBase)); err != nil {
		d.Stage, d.Err = "ensureDir", err.Error()
		return d
	}
	d.OK = true
	return d
}

func (f *FTP) connect(ctx context.Context, creds Credentials) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var tlsConfig *tls.Config
	if f.cfg.TLS {
		tlsConfig = &tls.Config{
			ServerName:         f.cfg.Host,
			InsecureSkipVerify: f.cfg.InsecureSkipVerify, //nolint:gosec
			MinVersion:         tls.VersionTLS12,
		}
	}
	f.logger.Info("transfer.ftp.connect", "addr", f.addr, "ftps", f.cfg.TLS)
	conn, err := f.cfg.Dialer(ctx, f.addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", f.addr, err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.Login(creds.Username, creds.Password) }()
	select {
	case err = <-done:
		if err != nil {
			_ = conn.Quit()
			return nil, fmt.Errorf("login %s: %w", f.addr, err)
		}
		return conn, nil
	case <-ctx.Done():
	}
	// Login is still in flight. Quit runs concurrently with it: it writes
	// QUIT and closes the control socket, and the close is what makes the
	// pending Login return. Wait for that so no goroutine keeps using conn.
	_ = conn.Quit()
	<-done
	return nil, fmt.Errorf("login %s: %w", f.addr, ctx.Err())
}

func (f *FTP) release(conn Conn) {
	if err := conn.Quit(); err != nil {
		f.logger.Debug("transfer.ftp.quit", "error", err)
	}
}

// remotePath maps file to an absolute remote path. Relative mapping targets
// hang off home, the login directory.
func (f *FTP) remotePath(home, file string) (string, bool) {
	m, rest, ok := Match(f.cfg.Mappings, file)
	if !ok {
		return "", false
	}
	return path.Join(anchor(home, m.To), rest), true
}

func anchor(home, p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(home, p)
}

func (f *FTP) pushOne(conn Conn, home, file string) Outcome {
	remote, ok := f.remotePath(home, file)
	if !ok {
		return skippedOutcome(file)
	}
	fh, err := os.Open(file)
	if err != nil {
		return errorOutcome(file, remote, fmt.Errorf("open local file: %w", err))
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		return errorOutcome(file, remote, err)
	}
	if !info.Mode().IsRegular() {
		return errorOutcome(file, remote, errors.New("local path is not a regular file"))
	}
	if err := ensureDir(conn, path.Dir(remote)); err != nil {
		return errorOutcome(file, remote, err)
	}
	if err := conn.Stor(remote, fh); err != nil {
		return errorOutcome(file, remote, fmt.Errorf("stor %s: %w", remote, err))
	}
	return okOutcome(file, remote, info.Size())
}

// homeDir returns the login directory, or "/" when the server will not say.
func homeDir(conn Conn) string {
	dir, err := conn.CurrentDir()
	if err != nil || !strings.HasPrefix(dir, "/") {
		return "/"
	}
	return path.Clean(dir)
}

// ensureDir creates dir one segment at a time, treating segments it can
// change into as existing.
func ensureDir(conn Conn, dir string) error {
	dir = path.Clean(dir)
	if dir == "/" || dir == "." {
		return nil
	}
	cur := ""
	if strings.HasPrefix(dir, "/") {
		cur = "/"
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		cur = path.Join(cur, part)
		if conn.ChangeDir(cur) == nil {
			continue
		}
		if err := conn.MakeDir(cur); err != nil {
			if conn.ChangeDir(cur) == nil {
				continue
			}
			return fmt.Errorf("mkdir %s: %w", cur, err)
		}
	}
	return nil
}
