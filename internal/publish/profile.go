package publish

import (
	"fmt"
	"strings"
	"time"

	"pkt.systems/pushd/internal/transfer"
)

// UseDefaultCredentials is the password sentinel that selects the configured
// credentials, ignoring any username sent with it.
const UseDefaultCredentials = "__USE_DEFAULT__"

// DefaultPreflightTimeout bounds best-effort directory preparation per host.
const DefaultPreflightTimeout = 30 * time.Second

// Profile is one publish destination set: a local base and the targets its
// files are pushed to.
type Profile struct {
	// Name prefixes audit events, e.g. "external".
	Name string
	Base string
	// Targets are pushed in parallel; summaries keep this order.
	Targets []transfer.Backend
	// Defaults fill in credentials a request leaves out.
	Defaults transfer.Credentials
	// Single turns a failure of the only target into a *HostError.
	Single bool
	// Preflight enables best-effort directory creation before each push.
	Preflight        bool
	PreflightTimeout time.Duration
	// AllowSentinel honours UseDefaultCredentials.
	AllowSentinel bool
}

// Request is one publish call.
type Request struct {
	URLs     []string
	Username string
	// Password is nil when the caller did not send one.
	Password *string
	Force    bool
	// Targets optionally restricts the profile's targets by name.
	Targets []string
}

// credentials merges the request with the profile defaults. The boolean is
// false when the merged result is unusable.
func (p *Profile) credentials(req Request) (transfer.Credentials, bool) {
	if p.AllowSentinel && req.Password != nil && *req.Password == UseDefaultCredentials {
		creds := transfer.Credentials{Username: strings.TrimSpace(p.Defaults.Username), Password: p.Defaults.Password}
		return creds, creds.Username != "" && creds.Password != ""
	}
	creds := transfer.Credentials{Username: strings.TrimSpace(req.Username)}
	if creds.Username == "" {
		creds.Username = strings.TrimSpace(p.Defaults.Username)
	}
	switch {
	case req.Password != nil:
		creds.Password = *req.Password
	case p.Defaults.Password != "":
		creds.Password = p.Defaults.Password
	default:
		return creds, false
	}
	return creds, creds.Username != ""
}

// selectTargets returns the targets named in want, in profile order, or all
// targets when want is empty.
func (p *Profile) selectTargets(want []string) ([]transfer.Backend, error) {
	if len(want) == 0 {
		return p.Targets, nil
	}
	wanted := make(map[string]bool, len(want))
	for _, name := range want {
		wanted[strings.ToLower(strings.TrimSpace(name))] = false
	}
	var out []transfer.Backend
	for _, t := range p.Targets {
		key := strings.ToLower(t.Name())
		if _, ok := wanted[key]; ok {
			wanted[key] = true
			out = append(out, t)
		}
	}
	for _, name := range want {
		if !wanted[strings.ToLower(strings.TrimSpace(name))] {
			return nil, &InputError{Msg: fmt.Sprintf("Unknown target %q.", name)}
		}
	}
	return out, nil
}

// TargetNames lists the configured target labels.
func (p *Profile) TargetNames() []string {
	names := make([]string, len(p.Targets))
	for i, t := range p.Targets {
		names[i] = t.Name()
	}
	return names
}
