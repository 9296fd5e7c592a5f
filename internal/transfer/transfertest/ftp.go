// Package transfertest provides an in-memory FTP server double for tests.
package transfertest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"pkt.systems/pushd/internal/transfer"
)

// FTPServer records what clients store. The zero value is not usable; call
// NewFTPServer.
type FTPServer struct {
	mu        sync.Mutex
	user      string
	password  string
	home      string
	dirs      map[string]bool
	files     map[string][]byte
	refuse    error
	failStor  map[string]error
	failMkdir map[string]error
	dials     int
	quits     int
	sawTLS    bool
}

// NewFTPServer accepts user/password logins with "/" as home directory.
func NewFTPServer(user, password string) *FTPServer {
	return &FTPServer{
		user:      user,
		password:  password,
		home:      "/",
		dirs:      map[string]bool{"/": true},
		files:     make(map[string][]byte),
		failStor:  make(map[string]error),
		failMkdir: make(map[string]error),
	}
}

// SetHome changes the login directory, creating it.
func (s *FTPServer) SetHome(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.home = path.Clean(dir)
	for d := s.home; d != "/"; d = path.Dir(d) {
		s.dirs[d] = true
	}
}

// Refuse makes every dial fail with err.
func (s *FTPServer) Refuse(err error) {
	s.mu.Lock()
	s.refuse = err
	s.mu.Unlock()
}

// FailStor makes STOR of remote fail.
func (s *FTPServer) FailStor(remote string, err error) {
	s.mu.Lock()
	s.failStor[remote] = err
	s.mu.Unlock()
}

// FailMkdir makes MKD of dir fail.
func (s *FTPServer) FailMkdir(dir string, err error) {
	s.mu.Lock()
	s.failMkdir[dir] = err
	s.mu.Unlock()
}

// Dial satisfies transfer.Dialer.
func (s *FTPServer) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (transfer.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.refuse != nil {
		return nil, s.refuse
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		s.sawTLS = true
	}
	return &conn{srv: s, cwd: s.home}, nil
}

// File returns the stored content of remote.
func (s *FTPServer) File(remote string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[remote]
	return data, ok
}

// Files lists stored paths in lexical order.
func (s *FTPServer) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for name := range s.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasDir reports whether dir was created or pre-existed.
func (s *FTPServer) HasDir(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[path.Clean(dir)]
}

// Dials returns the number of dial attempts.
func (s *FTPServer) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Quits returns the number of connections closed by the client.
func (s *FTPServer) Quits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quits
}

// SawTLS reports whether any dial requested explicit TLS.
func (s *FTPServer) SawTLS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sawTLS
}

type conn struct {
	srv      *FTPServer
	cwd      string
	loggedIn bool
	closed   bool
}

func (c *conn) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(c.cwd, p)
}

func (c *conn) check() error {
	if c.closed {
		return errors.New("connection closed")
	}
	if !c.loggedIn {
		return errors.New("530 not logged in")
	}
	return nil
}

func (c *conn) Login(user, password string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if user != c.srv.user || password != c.srv.password {
		return errors.New("530 login incorrect")
	}
	c.loggedIn = true
	return nil
}

func (c *conn) CurrentDir() (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	return c.cwd, nil
}

func (c *conn) ChangeDir(p string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	target := c.abs(p)
	if !c.srv.dirs[target] {
		return fmt.Errorf("550 %s: no such directory", target)
	}
	c.cwd = target
	return nil
}

func (c *conn) MakeDir(p string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	target := c.abs(p)
	if err := c.srv.failMkdir[target]; err != nil {
		return err
	}
	if !c.srv.dirs[path.Dir(target)] {
		return fmt.Errorf("550 %s: parent missing", target)
	}
	c.srv.dirs[target] = true
	return nil
}

func (c *conn) Stor(p string, r io.Reader) error {
	if err := c.check(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	target := c.abs(p)
	if err := c.srv.failStor[target]; err != nil {
		return err
	}
	if !c.srv.dirs[path.Dir(target)] {
		return fmt.Errorf("553 %s: directory missing", target)
	}
	if strings.HasSuffix(target, "/") {
		return fmt.Errorf("553 %s: not a file name", target)
	}
	c.srv.files[target] = data
	return nil
}

func (c *conn) Quit() error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.srv.quits++
	return nil
}
