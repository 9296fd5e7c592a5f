package transfer_test

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/pushd/internal/transfer"
	"pkt.systems/pushd/internal/transfer/transfertest"
)

func writeLocal(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newFTP(t *testing.T, srv *transfertest.FTPServer, base, remote string, mutate ...func(*transfer.FTPConfig)) *transfer.FTP {
	t.Helper()
	cfg := transfer.FTPConfig{
		Host:     "ftp1.example.org",
		Mappings: []transfer.Mapping{{From: base, To: remote}},
		Dialer:   srv.Dial,
		Timeout:  time.Second,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	backend, err := transfer.NewFTP(cfg)
	if err != nil {
		t.Fatalf("NewFTP: %v", err)
	}
	return backend
}

func TestFTPPushUploadsAndCreatesDirectories(t *testing.T) {
	base := t.TempDir()
	page := filepath.Join(base, "news", "2024", "item.html")
	writeLocal(t, page, "<p>news</p>")
	root := filepath.Join(base, "index.html")
	writeLocal(t, root, "<p>home</p>")

	srv := transfertest.NewFTPServer("deploy", "s3cret")
	backend := newFTP(t, srv, base, "/www")

	report, err := backend.Push(context.Background(), transfer.Credentials{Username: "deploy", Password: "s3cret"}, []string{page, root})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %+v", report.Outcomes)
	}
	if o := report.Outcomes[0]; o.Status != transfer.StatusOK || o.Destination != "/www/news/2024/item.html" || o.Bytes != int64(len("<p>news</p>")) {
		t.Fatalf("unexpected first outcome %+v", o)
	}
	if o := report.Outcomes[1]; o.Destination != "/www/index.html" {
		t.Fatalf("unexpected second outcome %+v", o)
	}
	if data, ok := srv.File("/www/news/2024/item.html"); !ok || string(data) != "<p>news</p>" {
		t.Fatalf("expected uploaded content, got %q ok=%v", data, ok)
	}
	if !srv.HasDir("/www/news/2024") {
		t.Fatal("expected nested remote directory to be created")
	}
	if srv.Quits() != 1 {
		t.Fatalf("expected connection to be released once, got %d", srv.Quits())
	}
}

func TestFTPPushPerFileFailuresDoNotAbort(t *testing.T) {
	base := t.TempDir()
	first := filepath.Join(base, "a.html")
	second := filepath.Join(base, "locked", "b.html")
	third := filepath.Join(base, "c.html")
	for _, f := range []string{first, second, third} {
		writeLocal(t, f, "x")
	}
	outside := filepath.Join(t.TempDir(), "elsewhere.html")
	writeLocal(t, outside, "x")

	srv := transfertest.NewFTPServer("u", "p")
	srv.FailStor("/site/a.html", errors.New("552 quota exceeded"))
	srv.FailMkdir("/site/locked", errors.New("550 permission denied"))
	backend := newFTP(t, srv, base, "/site")

	report, err := backend.Push(context.Background(), transfer.Credentials{Username: "u", Password: "p"}, []string{first, second, outside, third})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	statuses := make([]transfer.Status, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		statuses = append(statuses, o.Status)
		if o.Status != transfer.StatusOK && o.Err == "" {
			t.Fatalf("non-ok outcome without message: %+v", o)
		}
	}
	want := []transfer.Status{transfer.StatusError, transfer.StatusError, transfer.StatusSkipped, transfer.StatusOK}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, statuses)
		}
	}
	if !strings.Contains(report.Outcomes[0].Err, "quota") {
		t.Fatalf("expected stor error text, got %q", report.Outcomes[0].Err)
	}
	if report.Outcomes[2].Err != transfer.MsgNoMapping {
		t.Fatalf("expected skip message, got %q", report.Outcomes[2].Err)
	}
	if srv.Quits() != 1 {
		t.Fatalf("expected a single release, got %d", srv.Quits())
	}
}

func TestFTPPushConnectionFailures(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "a.html")
	writeLocal(t, file, "x")

	refused := transfertest.NewFTPServer("u", "p")
	refused.Refuse(errors.New("connection refused"))
	if _, err := newFTP(t, refused, base, "/").Push(context.Background(), transfer.Credentials{}, []string{file}); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected connect error, got %v", err)
	}

	srv := transfertest.NewFTPServer("u", "p")
	_, err := newFTP(t, srv, base, "/").Push(context.Background(), transfer.Credentials{Username: "u", Password: "wrong"}, []string{file})
	if err == nil || !strings.Contains(err.Error(), "login") {
		t.Fatalf("expected login error, got %v", err)
	}
	if srv.Quits() != 1 {
		t.Fatalf("expected failed login to close the connection, got %d quits", srv.Quits())
	}
	if len(srv.Files()) != 0 {
		t.Fatalf("expected nothing uploaded, got %v", srv.Files())
	}
}

// hangingConn blocks Login until Quit closes the connection, the way a
// control socket behaves when the server never answers USER.
type hangingConn struct {
	closed   chan struct{}
	once     sync.Once
	quits    atomic.Int32
	returned atomic.Bool
}

func (c *hangingConn) Login(string, string) error {
	<-c.closed
	c.returned.Store(true)
	return errors.New("use of closed network connection")
}

func (c *hangingConn) Quit() error {
	c.quits.Add(1)
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *hangingConn) CurrentDir() (string, error) { return "/", nil }
func (c *hangingConn) ChangeDir(string) error { return nil }
func (c *hangingConn) MakeDir(string) error { return nil }
func (c *hangingConn) Stor(string, io.Reader) error { return nil }

func TestFTPLoginTimeoutClosesConnection(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "a.html")
	writeLocal(t, file, "x")
	conn := &hangingConn{closed: make(chan struct{})}

	backend, err := transfer.NewFTP(transfer.FTPConfig{
		Host:     "silent.example.org",
		Mappings: []transfer.Mapping{{From: base, To: "/"}},
		Timeout:  20 * time.Millisecond,
		Dialer: func(context.Context, string, *tls.Config) (transfer.Conn, error) {
			return conn, nil
		},
	})
	if err != nil {
		t.Fatalf("NewFTP: %v", err)
	}
	_, err = backend.Push(context.Background(), transfer.Credentials{Username: "u", Password: "p"}, []string{file})
	if !errors.Is(err, context.DeadlineExceeded) || !strings.Contains(err.Error(), "login") {
		t.Fatalf("expected login deadline error, got %v", err)
	}
	if conn.quits.Load() != 1 {
		t.Fatalf("expected one quit, got %d", conn.quits.Load())
	}
	if !conn.returned.Load() {
		t.Fatal("expected pending login to have returned before Push")
	}
}

func TestFTPRelativeMappingUsesLoginDirectory(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "docs", "a.html")
	writeLocal(t, file, "x")

	srv := transfertest.NewFTPServer("u", "p")
	srv.SetHome("/home/u")
	backend := newFTP(t, srv, base, "public_html")
	report, err := backend.Push(context.Background(), transfer.Credentials{Username: "u", Password: "p"}, []string{file})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got := report.Outcomes[0].Destination; got != "/home/u/public_html/docs/a.html" {
		t.Fatalf("unexpected destination %q", got)
	}
}

func TestFTPPrepareIsBestEffort(t *testing.T) {
	base := t.TempDir()
	files := []string{filepath.Join(base, "a", "x.html"), filepath.Join(base, "b", "y.html"), filepath.Join(base, "a", "z.html")}

	srv := transfertest.NewFTPServer("u", "p")
	srv.FailMkdir("/www/b", errors.New("550 denied"))
	backend := newFTP(t, srv, base, "/www", func(c *transfer.FTPConfig) { c.TLS = true })
	if err := transfer.Prepare(context.Background(), backend, transfer.Credentials{Username: "u", Password: "p"}, files); err != nil {
		t.Fatalf("expected per-directory failures to be swallowed, got %v", err)
	}
	if !srv.HasDir("/www/a") || srv.HasDir("/www/b") {
		t.Fatal("expected /www/a created and /www/b refused")
	}
	if !srv.SawTLS() {
		t.Fatal("expected explicit TLS to be requested")
	}

	srv.Refuse(errors.New("no route to host"))
	err := transfer.Prepare(context.Background(), backend, transfer.Credentials{Username: "u", Password: "p"}, files)
	var pe *transfer.PreflightError
	if !errors.As(err, &pe) || pe.Target != "ftp1.example.org" {
		t.Fatalf("expected PreflightError, got %v", err)
	}
}

func TestFTPDiagnose(t *testing.T) {
	srv := transfertest.NewFTPServer("u", "p")
	backend := newFTP(t, srv, t.TempDir(), "/www/site")

	d := backend.Diagnose(context.Background(), transfer.Credentials{Username: "u", Password: "p"})
	if !d.OK || d.Pwd != "/" || d.RemoteBase != "/www/site" || !srv.HasDir("/www/site") {
		t.Fatalf("unexpected diagnosis %+v", d)
	}

	bad := backend.Diagnose(context.Background(), transfer.Credentials{Username: "u", Password: "nope"})
	if bad.OK || bad.Stage != "connect/login" || bad.Err == "" {
		t.Fatalf("expected login stage failure, got %+v", bad)
	}

	blocked := transfertest.NewFTPServer("u", "p")
	blocked.FailMkdir("/locked", errors.New("550 denied"))
	d = newFTP(t, blocked, t.TempDir(), "/locked/base").Diagnose(context.Background(), transfer.Credentials{Username: "u", Password: "p"})
	if d.OK || d.Stage != "ensureDir" {
		t.Fatalf("expected ensureDir stage failure, got %+v", d)
	}
}

func TestNewFTPValidation(t *testing.T) {
	if _, err := transfer.NewFTP(transfer.FTPConfig{Mappings: []transfer.Mapping{{From: "/", To: "/"}}}); err == nil {
		t.Fatal("expected missing host error")
	}
	if _, err := transfer.NewFTP(transfer.FTPConfig{Host: "h"}); err == nil {
		t.Fatal("expected missing mapping error")
	}
	if _, err := transfer.NewFTP(transfer.FTPConfig{Host: "h", Port: 70000, Mappings: []transfer.Mapping{{From: "/", To: "/"}}}); err == nil {
		t.Fatal("expected port range error")
	}
	b, err := transfer.NewFTP(transfer.FTPConfig{Host: "h", Mappings: []transfer.Mapping{{From: "/", To: "/"}}})
	if err != nil {
		t.Fatalf("NewFTP: %v", err)
	}
	if b.Port() != transfer.DefaultFTPPort || b.Name() != "h" {
		t.Fatalf("unexpected defaults port=%d name=%q", b.Port(), b.Name())
	}
}
