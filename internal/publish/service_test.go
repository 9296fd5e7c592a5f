package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/pushd/internal/lockscan"
	"pkt.systems/pushd/internal/transfer"
	"pkt.systems/pushd/internal/transfer/transfertest"
)

func TestCheckLocksReportsPageAndInclude(t *testing.T) {
	base := t.TempDir()
	writeSite(t, base, map[string]string{
		"news/index.html":  "<!--#include virtual=\"/inc/header.inc\" -->\n<p>news</p>",
		"inc/header.inc":   "<%\ncoder = \"mk\"\n%>",
		"about.html":       "<%\ncoder = \"\"\ntask = \"copy edit\"\n%>",
		"plain/index.html": "<p>plain</p>",
		"self.html":        "<%\ncoder = \"ann\"\n%>\n<!--#include file=\"header.inc\" -->",
		"header.inc":       "<%\ncoder = \"bob\"\n%>",
	})
	report := New().CheckLocks(context.Background(), &Profile{Name: "external", Base: base},
		[]string{"https://example.org/news/", "/about.html", "/plain/", "/self.html", "/nothing/here.html"})

	if len(report.Locks) != 2 {
		t.Fatalf("expected 2 locks, got %+v", report.Locks)
	}
	news, self := report.Locks[0], report.Locks[1]
	if news.Rel != filepath.Join("news", "index.html") || news.Source != lockscan.SourceInclude || news.Coder != "mk" {
		t.Fatalf("unexpected include lock %+v", news)
	}
	if news.IncludeAbs != filepath.Join(base, "inc", "header.inc") {
		t.Fatalf("unexpected include path %q", news.IncludeAbs)
	}
	if self.Source != lockscan.SourceFile || self.Coder != "ann" {
		t.Fatalf("page marker must win over include, got %+v", self)
	}

	byRel := make(map[string]lockscan.Inspection, len(report.Inspected))
	for _, in := range report.Inspected {
		byRel[filepath.ToSlash(in.Rel)] = in
	}
	if in, ok := byRel["about.html"]; !ok || in.Locked || in.Task != "copy edit" {
		t.Fatalf("expected unlocked marker for about.html, got %+v", byRel)
	}
	if in := byRel["plain/index.html"]; in.Source != lockscan.SourceNone || in.Locked {
		t.Fatalf("expected unmarked page to report source none, got %+v", in)
	}
	if len(report.Inspected) != 5 {
		t.Fatalf("expected one inspection per url, got %d", len(report.Inspected))
	}
}

func TestPromoteCopiesFiles(t *testing.T) {
	staging := t.TempDir()
	live := t.TempDir()
	outside := t.TempDir()
	writeSite(t, staging, map[string]string{"a/b.html": "hello"})
	writeSite(t, outside, map[string]string{"x.html": "x"})

	backend, err := transfer.NewCopy(transfer.CopyConfig{Mappings: []transfer.Mapping{{From: staging, To: live}}})
	if err != nil {
		t.Fatalf("NewCopy: %v", err)
	}
	res, err := New().Promote(context.Background(), backend, []string{
		filepath.Join(staging, "a", "b.html"),
		filepath.Join(outside, "x.html"),
		filepath.Join(staging, "missing.html"),
	})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if res.Promoted != 1 || res.Skipped != 1 || res.Errors != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	data, err := os.ReadFile(filepath.Join(live, "a", "b.html"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("expected copied file, got %q (%v)", data, err)
	}
	if res.Outcomes[1].Err != transfer.MsgNoMapping {
		t.Fatalf("expected skip reason, got %+v", res.Outcomes[1])
	}
}

func TestPromoteRequiresFiles(t *testing.T) {
	_, err := New().Promote(context.Background(), &stubBackend{name: "local"}, nil)
	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InputError, got %v", err)
	}
}

func TestDiagnoseReportsStages(t *testing.T) {
	good := transfertest.NewFTPServer("deploy", "pw")
	bad := transfertest.NewFTPServer("deploy", "other")
	profile := &Profile{
		Name: "external",
		Targets: []transfer.Backend{
			diagFTP(t, "web1", good),
			diagFTP(t, "web2", bad),
			&stubBackend{name: "plain"},
		},
	}
	report, err := New().Diagnose(context.Background(), profile, Request{Username: "deploy", Password: strPtr("pw")})
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if report.OK {
		t.Fatal("report must fail when any target fails")
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}
	if r := report.Results[0]; !r.OK || r.RemoteBase != "/www" {
		t.Fatalf("unexpected good result %+v", r)
	}
	if r := report.Results[1]; r.OK || r.Stage != "connect/login" || !strings.Contains(r.Err, "530") {
		t.Fatalf("unexpected bad result %+v", r)
	}
	if r := report.Results[2]; r.OK || r.Stage != "unsupported" {
		t.Fatalf("unexpected plain result %+v", r)
	}
	if !good.HasDir("/www") {
		t.Fatal("expected remote base to be created")
	}
}

func TestDiagnoseRequiresCredentials(t *testing.T) {
	_, err := New().Diagnose(context.Background(), &Profile{Name: "external"}, Request{})
	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected InputError, got %v", err)
	}
}

func diagFTP(t *testing.T, host string, srv *transfertest.FTPServer) *transfer.FTP {
	t.Helper()
	b, err := transfer.NewFTP(transfer.FTPConfig{
		Host:     host,
		Mappings: []transfer.Mapping{{From: "/site", To: "/www"}},
		Dialer:   srv.Dial,
		Timeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("NewFTP: %v", err)
	}
	return b
}
