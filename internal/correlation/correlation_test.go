package correlation

import (
	"context"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	if got, ok := Normalize("  publish-42  "); !ok || got != "publish-42" {
		t.Fatalf("expected trimmed id, got %q ok=%v", got, ok)
	}
	if _, ok := Normalize(""); ok {
		t.Fatal("empty id should be invalid")
	}
	if _, ok := Normalize(strings.Repeat("a", MaxIDLength+1)); ok {
		t.Fatal("overlong id should be invalid")
	}
	if _, ok := Normalize("bad\x01suffix"); ok {
		t.Fatal("non-printable should be invalid")
	}
}

func TestWithAndID(t *testing.T) {
	ctx := context.Background()
	if ID(ctx) != "" {
		t.Fatal("expected empty context to have no correlation id")
	}
	if ID(With(ctx, "\x00")) != "" {
		t.Fatal("expected invalid id to be ignored")
	}
	if got := ID(With(ctx, "abc")); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestFromHeaderGeneratesWhenMissing(t *testing.T) {
	if got := FromHeader("given"); got != "given" {
		t.Fatalf("expected header value to win, got %q", got)
	}
	id := FromHeader("")
	if _, ok := Normalize(id); !ok {
		t.Fatalf("generated id should be valid, got %q", id)
	}
}
