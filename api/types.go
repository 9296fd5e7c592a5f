package api

// URLsRequest models the JSON payload for POST /api/check/locks,
// /api/check/locks-internal and /api/resolve.
type URLsRequest struct {
	// URLs lists page locations: absolute URLs, root-relative or bare paths.
	URLs []string `json:"urls"`
	// Profile selects the local base for /api/resolve ("external" or "internal").
	Profile string `json:"profile,omitempty"`
}

// PublishRequest models the JSON payload for POST /api/go-live/external and
// /api/go-live/internal.
type PublishRequest struct {
	// URLs lists the pages to publish.
	URLs []string `json:"urls"`
	// Username authenticates against the destination hosts.
	Username string `json:"username,omitempty"`
	// Password is nil when omitted; an empty string is a supplied password.
	Password *string `json:"password,omitempty"`
	// Force bypasses the editorial lock gate for this call.
	Force bool `json:"force,omitempty"`
	// Targets restricts the configured destinations by label.
	Targets []string `json:"targets,omitempty"`
}

// LockInfo describes one page whose lock marker was found.
type LockInfo struct {
	// Rel is the resolved page path relative to the local base.
	Rel string `json:"rel"`
	// Abs is the page's absolute local path.
	Abs string `json:"abs"`
	// Source is "file" when the page carries the marker, "include" when a header include does.
	Source string `json:"source"`
	// Coder names the editor holding the page.
	Coder string `json:"coder,omitempty"`
	// Task describes the editor's work item.
	Task string `json:"task,omitempty"`
	// Locked reports whether the coder field is non-empty.
	Locked bool `json:"locked"`
	// IncludePath is the include reference as written in the page.
	IncludePath string `json:"includePath,omitempty"`
	// IncludeAbs is the include's absolute local path.
	IncludeAbs string `json:"includeAbs,omitempty"`
}

// Inspection is the per-page verdict of a lock preflight.
type Inspection struct {
	Rel    string `json:"rel"`
	Source string `json:"source"`
	Coder  string `json:"coder,omitempty"`
	Task   string `json:"task,omitempty"`
	Locked bool   `json:"locked"`
}

// LockCheckResponse is returned by the lock preflight endpoints.
type LockCheckResponse struct {
	OK bool `json:"ok"`
	// Locked lists only the pages that would block a publish.
	Locked []LockInfo `json:"locked"`
	// InspectedCount is the number of submitted locations.
	InspectedCount int `json:"inspectedCount"`
	// Inspected carries one entry per submitted location, in input order.
	Inspected []Inspection `json:"inspected"`
}

// TransferOutcome is the result of one file on one destination.
type TransferOutcome struct {
	// File is the absolute local source path.
	File string `json:"file"`
	// Status is "ok", "skipped" or "error".
	Status string `json:"status"`
	// Dest is the computed destination, when one was derived.
	Dest string `json:"dest,omitempty"`
	// Error explains a skipped or failed file.
	Error string `json:"error,omitempty"`
}

// HostSummary aggregates one destination's outcomes for a publish call.
type HostSummary struct {
	// Host is the destination label as configured.
	Host string `json:"host"`
	// Port is the FTP control port; omitted for other backends.
	Port int `json:"port,omitempty"`
	// OK counts uploaded files.
	OK int `json:"ok"`
	// Err counts failed files. A connection failure counts every file.
	Err int `json:"err"`
	// Skipped counts files that matched no mapping.
	Skipped int `json:"skipped"`
	// Bytes is the total uploaded payload.
	Bytes int64 `json:"bytes"`
	// Note carries a non-fatal remark such as unmapped files.
	Note string `json:"note,omitempty"`
	// Error is the host-level failure message.
	Error string `json:"error,omitempty"`
	// Files lists per-file outcomes in request order.
	Files []TransferOutcome `json:"files,omitempty"`
}

// PublishResults groups the per-host summaries with the lock list observed
// (non-empty only on forced publishes).
type PublishResults struct {
	Hosts []HostSummary `json:"hosts"`
	Locks []LockInfo    `json:"locks"`
}

// PublishResponse is returned by the go-live endpoints on completion.
type PublishResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	// RunID identifies the publish run in logs and the audit trail.
	RunID   string         `json:"runId,omitempty"`
	Results PublishResults `json:"results"`
}

// PromoteRequest models the JSON payload for POST /api/promote.
type PromoteRequest struct {
	// Files lists absolute local paths to copy.
	Files []string `json:"files"`
}

// PromoteResponse reports a local copy run.
type PromoteResponse struct {
	OK       bool              `json:"ok"`
	Promoted int               `json:"promoted"`
	Errors   int               `json:"errors"`
	Results  []TransferOutcome `json:"results"`
}

// Resolution reports how one input maps onto the local base.
type Resolution struct {
	Input  string `json:"input"`
	Rel    string `json:"rel"`
	Abs    string `json:"abs"`
	Exists bool   `json:"exists"`
}

// ResolveResponse is returned by POST /api/resolve.
type ResolveResponse struct {
	OK      bool         `json:"ok"`
	Base    string       `json:"base"`
	Results []Resolution `json:"results"`
}

// DiagnoseRequest models the JSON payload for POST /api/diagnose/external.
type DiagnoseRequest struct {
	Username string  `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

// DiagnoseResult is one destination's connectivity verdict.
type DiagnoseResult struct {
	Host string `json:"host"`
	OK   bool   `json:"ok"`
	// Stage names the step that failed.
	Stage      string `json:"stage,omitempty"`
	Pwd        string `json:"pwd,omitempty"`
	RemoteBase string `json:"remoteBase,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DiagnoseResponse is returned by POST /api/diagnose/external.
type DiagnoseResponse struct {
	OK      bool             `json:"ok"`
	Results []DiagnoseResult `json:"results"`
}

// HostDefaults describes one configured publish profile.
type HostDefaults struct {
	// Hosts lists destination labels in configured order.
	Hosts []string `json:"hosts"`
	// Port is the default FTP control port.
	Port int `json:"port"`
	// RemoteBase is the remote root of the default mapping.
	RemoteBase string `json:"remoteBase"`
	// LocalBase is the local document root.
	LocalBase string `json:"localBase"`
	// FTPS reports whether explicit TLS is negotiated.
	FTPS bool `json:"ftps"`
	// HasDefaultUser reports whether server-side credentials are configured.
	HasDefaultUser bool `json:"hasDefaultUser"`
}

// Defaults is the configuration snapshot exposed by /api/health.
type Defaults struct {
	External HostDefaults `json:"external"`
	Internal HostDefaults `json:"internal"`
	// PromoteMappings renders each mapping as "from=>to".
	PromoteMappings []string `json:"promoteMappings"`
	// LogDir is where the audit log is written.
	LogDir  string `json:"logDir"`
	Version string `json:"version"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	OK bool `json:"ok"`
	// Time is the server time in RFC 3339 format.
	Time     string   `json:"time"`
	Defaults Defaults `json:"defaults"`
}

// ErrorResponse is the structured error payload returned on failures.
type ErrorResponse struct {
	// Success mirrors the go-live response shape.
	Success bool `json:"success"`
	// OK mirrors the preflight and promote response shape.
	OK bool `json:"ok"`
	// Error is the human-readable failure message.
	Error string `json:"error"`
	// ErrorCode is a stable machine-readable code.
	ErrorCode string `json:"error_code"`
	// MissingFiles lists absolute paths absent from the local base.
	MissingFiles []string `json:"missingFiles,omitempty"`
	// Locks lists the pages blocking an unforced publish.
	Locks []LockInfo `json:"locks,omitempty"`
	// Coders names the distinct editors holding the blocking pages.
	Coders []string `json:"coders,omitempty"`
	// Results carries the per-host detail of a failed single-destination publish.
	Results *PublishResults `json:"results,omitempty"`
	// CorrelationID links the failure to server logs.
	CorrelationID string `json:"correlation_id,omitempty"`
}
