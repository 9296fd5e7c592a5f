package correlation

import (
	"context"
	"strings"

	"pkt.systems/pushd/internal/uuidv7"
)

// Header carries a caller-supplied correlation identifier.
const Header = "X-Correlation-Id"

// MaxIDLength defines the maximum number of characters accepted for correlation identifiers.
const MaxIDLength = 128

type contextKey struct{}

// With returns a context carrying id. Invalid identifiers leave ctx untouched.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, normalized)
}

// ID retrieves the correlation ID stored on ctx, if any.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// FromHeader returns the normalized header value or a freshly generated id.
func FromHeader(value string) string {
	if id, ok := Normalize(value); ok {
		return id
	}
	return Generate()
}

// Normalize validates and canonicalizes an external correlation identifier.
// It returns the normalized ID and true if the input is acceptable.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// Generate produces a new random correlation identifier.
func Generate() string {
	return uuidv7.NewString()
}
