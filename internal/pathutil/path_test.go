package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandUserAndEnv(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	t.Setenv("PUSHD_TEST_SITE", "/srv/site")

	cases := map[string]string{
		"":                       "",
		"~":                      home,
		"~/sites":                filepath.Join(home, "sites"),
		"$PUSHD_TEST_SITE/pages": "/srv/site/pages",
		"~other":                 "~other",
	}
	for in, want := range cases {
		got, err := ExpandUserAndEnv(in)
		if err != nil {
			t.Fatalf("ExpandUserAndEnv(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ExpandUserAndEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAbsolute(t *testing.T) {
	got, err := Absolute("relative/dir")
	if err != nil {
		t.Fatalf("Absolute: %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Fatalf("expected absolute path, got %q", got)
	}
	if got, _ := Absolute("  "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}
