package lockscan

import (
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/pushd/internal/resolve"
)

func writePage(t *testing.T, base, rel, body string) {
	t.Helper()
	path := filepath.Join(base, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCheckPageLock(t *testing.T) {
	base := t.TempDir()
	writePage(t, base, "news/index.asp", "<%\ncoder = \"jdoe\"\ntask = \"rewrite\"\n%>")
	s := New(base)

	info := s.Check(resolve.Path("https://example.org/news/index.asp"))
	if info == nil || !info.Locked {
		t.Fatalf("expected locked page, got %+v", info)
	}
	if info.Coder != "jdoe" || info.Task != "rewrite" || info.Source != SourceFile {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Abs != filepath.Join(base, "news", "index.asp") {
		t.Fatalf("unexpected abs path %q", info.Abs)
	}
}

func TestCheckCommentedMarkerIsIgnored(t *testing.T) {
	base := t.TempDir()
	writePage(t, base, "a.asp", "' coder = \"jdoe\"\n<p>body</p>")
	if info := New(base).Check("a.asp"); info != nil {
		t.Fatalf("expected no info for commented marker, got %+v", info)
	}
}

func TestCheckIncludeLock(t *testing.T) {
	base := t.TempDir()
	writePage(t, base, "inc/header.asp", `coder = "asmith" : task = "nav refresh"`)
	writePage(t, base, "products/list.asp", `<!--#include virtual="/inc/header.asp"-->`)
	writePage(t, base, "products/local_header.inc", `coder = "bchen"`)
	writePage(t, base, "products/detail.asp", `<!--#include file="local_header.inc"-->`)

	s := New(base)
	info := s.Check(filepath.FromSlash("products/list.asp"))
	if info == nil || !info.Locked || info.Source != SourceInclude {
		t.Fatalf("expected include lock, got %+v", info)
	}
	if info.Coder != "asmith" || info.IncludePath != "/inc/header.asp" {
		t.Fatalf("unexpected include info: %+v", info)
	}
	if info.IncludeAbs != filepath.Join(base, "inc", "header.asp") {
		t.Fatalf("unexpected include abs %q", info.IncludeAbs)
	}

	rel := s.Check(filepath.FromSlash("products/detail.asp"))
	if rel == nil || rel.Coder != "bchen" || rel.IncludeAbs != filepath.Join(base, "products", "local_header.inc") {
		t.Fatalf("expected relative include lock, got %+v", rel)
	}
}

func TestCheckPageWinsOverInclude(t *testing.T) {
	base := t.TempDir()
	writePage(t, base, "inc/header.asp", `coder = "asmith"`)
	writePage(t, base, "p.asp", "coder = \"owner\"\n<!--#include virtual=\"/inc/header.asp\"-->")
	info := New(base).Check("p.asp")
	if info == nil || info.Coder != "owner" || info.Source != SourceFile {
		t.Fatalf("expected page claim to win, got %+v", info)
	}
}

func TestCheckUnlockedPageWithLockedIncludeReportsInclude(t *testing.T) {
	base := t.TempDir()
	writePage(t, base, "inc/header.asp", `coder = "asmith"`)
	writePage(t, base, "p.asp", "coder = \"\"\ntask = \"\"\n<!--#include virtual=\"/inc/header.asp\"-->")
	info := New(base).Check("p.asp")
	if info == nil || !info.Locked || info.Source != SourceInclude {
		t.Fatalf("expected include claim, got %+v", info)
	}
}

func TestCheckInformationalAndMissing(t *testing.T) {
	base := t.TempDir()
	writePage(t, base, "free.asp", "coder = \"\"\ntask = \"\"")
	s := New(base)
	info := s.Check("free.asp")
	if info == nil || info.Locked || info.Source != SourceFile {
		t.Fatalf("expected informational entry, got %+v", info)
	}
	if s.Check("missing.asp") != nil {
		t.Fatal("expected nil for unreadable page")
	}
}

func TestCheckRefusesEscapingPaths(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "site")
	writePage(t, root, "secret.asp", `coder = "outside"`)
	writePage(t, base, "p.asp", `<!--#include file="../../secret.asp" --><!--#include file="../secret_header.asp"-->`)
	writePage(t, root, "secret_header.asp", `coder = "outside"`)

	s := New(base)
	if info := s.Check(filepath.Join("..", "secret.asp")); info != nil {
		t.Fatalf("expected escaping page to be ignored, got %+v", info)
	}
	if info := s.Check("p.asp"); info != nil {
		t.Fatalf("expected escaping include to be ignored, got %+v", info)
	}
}

func TestCheckFollowsAtMostThreeIncludes(t *testing.T) {
	base := t.TempDir()
	writePage(t, base, "inc/header4.asp", `coder = "late"`)
	writePage(t, base, "p.asp", `<!--#include virtual="/inc/header1.asp"-->
<!--#include virtual="/inc/header2.asp"-->
<!--#include virtual="/inc/header3.asp"-->
<!--#include virtual="/inc/header4.asp"-->`)
	if info := New(base).Check("p.asp"); info != nil {
		t.Fatalf("fourth include must not be followed, got %+v", info)
	}
	if info := New(base, WithMaxIncludes(4)).Check("p.asp"); info == nil || info.Coder != "late" {
		t.Fatalf("expected raised limit to find the claim, got %+v", info)
	}
}

func TestCollectPreservesOrderAndFiltersUnlocked(t *testing.T) {
	base := t.TempDir()
	writePage(t, base, "c.asp", `coder = "carol"`)
	writePage(t, base, "a.asp", `coder = "alice"`)
	writePage(t, base, "b.asp", `task = "nobody"`)

	locks := New(base).Collect([]string{"c.asp", "b.asp", "missing.asp", "a.asp"})
	if len(locks) != 2 {
		t.Fatalf("expected 2 locks, got %+v", locks)
	}
	if locks[0].Rel != "c.asp" || locks[1].Rel != "a.asp" {
		t.Fatalf("expected input order, got %s then %s", locks[0].Rel, locks[1].Rel)
	}
	for _, l := range locks {
		if !l.Locked {
			t.Fatalf("collect returned unlocked entry %+v", l)
		}
	}
}

func TestInspect(t *testing.T) {
	base := t.TempDir()
	writePage(t, base, "a.asp", `coder = "alice" : task = "hero"`)
	writePage(t, base, "b.asp", `task = "idle"`)
	writePage(t, base, "c.asp", `<p>plain</p>`)

	locks, inspected := New(base).Inspect([]string{"a.asp", "b.asp", "c.asp"})
	if len(locks) != 1 || locks[0].Rel != "a.asp" {
		t.Fatalf("unexpected locks %+v", locks)
	}
	want := []Inspection{
		{Rel: "a.asp", Source: SourceFile, Coder: "alice", Task: "hero", Locked: true},
		{Rel: "b.asp", Source: SourceFile, Task: "idle"},
		{Rel: "c.asp", Source: SourceNone},
	}
	if len(inspected) != len(want) {
		t.Fatalf("expected %d inspections, got %d", len(want), len(inspected))
	}
	for i := range want {
		if inspected[i] != want[i] {
			t.Fatalf("inspection %d: expected %+v, got %+v", i, want[i], inspected[i])
		}
	}
}
