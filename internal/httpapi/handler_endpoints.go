package httpapi

import (
	"net/http"
	"strings"
	"time"

	"pkt.systems/pushd/api"
	"pkt.systems/pushd/internal/publish"
	"pkt.systems/pushd/internal/resolve"
)

// handleCheckLocks godoc
// @Summary      Lock preflight for the external site
// @Tags         locks
// @Accept       json
// @Produce      json
// @Param        request  body      api.URLsRequest  true  "Page locations"
// @Success      200      {object}  api.LockCheckResponse
// @Router       /api/check/locks [post]
func (h *Handler) handleCheckLocks(w http.ResponseWriter, r *http.Request) error {
	return h.checkLocks(w, r, h.external)
}

// handleCheckLocksInternal godoc
// @Summary      Lock preflight for the internal site
// @Tags         locks
// @Router       /api/check/locks-internal [post]
func (h *Handler) handleCheckLocksInternal(w http.ResponseWriter, r *http.Request) error {
	return h.checkLocks(w, r, h.internal)
}

func (h *Handler) checkLocks(w http.ResponseWriter, r *http.Request, profile *publish.Profile) error {
	var req api.URLsRequest
	if err := h.readJSON(w, r, &req, true); err != nil {
		return err
	}
	if err := requireProfile(profile); err != nil {
		return err
	}
	report := h.orchestrator.CheckLocks(r.Context(), profile, req.URLs)
	h.writeJSON(w, http.StatusOK, api.LockCheckResponse{
		OK:             true,
		Locked:         lockInfos(report.Locks),
		InspectedCount: len(report.Inspected),
		Inspected:      inspections(report.Inspected),
	}, nil)
	return nil
}

// handleGoLiveExternal godoc
// @Summary      Publish pages to every external host
// @Description  Resolves the locations, requires every file locally, refuses locked pages unless force is set, then pushes to each host in parallel. Host failures are reported per host.
// @Tags         publish
// @Accept       json
// @Produce      json
// @Param        request  body      api.PublishRequest  true  "Publish parameters"
// @Success      200      {object}  api.PublishResponse
// @Failure      400      {object}  api.ErrorResponse
// @Failure      409      {object}  api.ErrorResponse
// @Failure      500      {object}  api.ErrorResponse
// @Router       /api/go-live/external [post]
func (h *Handler) handleGoLiveExternal(w http.ResponseWriter, r *http.Request) error {
	return h.goLive(w, r, h.external)
}

// handleGoLiveInternal godoc
// @Summary      Publish pages to the internal host
// @Description  Same as the external publish against a single host. A failed host is a 500. The password "__USE_DEFAULT__" selects the server-side credentials.
// @Tags         publish
// @Router       /api/go-live/internal [post]
func (h *Handler) handleGoLiveInternal(w http.ResponseWriter, r *http.Request) error {
	return h.goLive(w, r, h.internal)
}

func (h *Handler) goLive(w http.ResponseWriter, r *http.Request, profile *publish.Profile) error {
	var req api.PublishRequest
	if err := h.readJSON(w, r, &req, true); err != nil {
		return err
	}
	if err := requireProfile(profile); err != nil {
		return err
	}
	res, err := h.orchestrator.Publish(r.Context(), profile, publish.Request{
		URLs:     req.URLs,
		Username: req.Username,
		Password: req.Password,
		Force:    req.Force,
		Targets:  req.Targets,
	})
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, api.PublishResponse{
		Success: res.Success,
		Message: res.Message,
		RunID:   res.ID,
		Results: publishResults(res),
	}, nil)
	return nil
}

// handlePromote godoc
// @Summary      Copy local files through the promote mappings
// @Tags         promote
// @Accept       json
// @Produce      json
// @Param        request  body      api.PromoteRequest  true  "Absolute local paths"
// @Success      200      {object}  api.PromoteResponse
// @Router       /api/promote [post]
func (h *Handler) handlePromote(w http.ResponseWriter, r *http.Request) error {
	var req api.PromoteRequest
	if err := h.readJSON(w, r, &req, true); err != nil {
		return err
	}
	if h.promote == nil {
		return httpError{Status: http.StatusServiceUnavailable, Code: "promote_unconfigured", Detail: "no promote mappings configured"}
	}
	res, err := h.orchestrator.Promote(r.Context(), h.promote, req.Files)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, api.PromoteResponse{
		OK:       true,
		Promoted: res.Promoted,
		Errors:   res.Errors,
		Results:  transferOutcomes(res.Outcomes),
	}, nil)
	return nil
}

// handleResolve godoc
// @Summary      Show how locations map onto the local base
// @Tags         diagnostics
// @Router       /api/resolve [post]
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) error {
	var req api.URLsRequest
	if err := h.readJSON(w, r, &req, true); err != nil {
		return err
	}
	profile := h.external
	switch strings.ToLower(strings.TrimSpace(req.Profile)) {
	case "", "external":
	case "internal":
		profile = h.internal
	default:
		return httpError{Status: http.StatusBadRequest, Code: "unknown_profile", Detail: "profile must be external or internal"}
	}
	if err := requireProfile(profile); err != nil {
		return err
	}
	resolutions := resolve.Describe(profile.Base, req.URLs)
	out := make([]api.Resolution, len(resolutions))
	for i, res := range resolutions {
		out[i] = api.Resolution{Input: res.Input, Rel: res.Rel, Abs: res.Abs, Exists: res.Exists}
	}
	h.writeJSON(w, http.StatusOK, api.ResolveResponse{OK: true, Base: profile.Base, Results: out}, nil)
	return nil
}

// handleDiagnoseExternal godoc
// @Summary      Check login and remote base on every external host
// @Tags         diagnostics
// @Accept       json
// @Produce      json
// @Param        request  body      api.DiagnoseRequest  false  "Credentials; server defaults fill gaps"
// @Success      200      {object}  api.DiagnoseResponse
// @Router       /api/diagnose/external [post]
func (h *Handler) handleDiagnoseExternal(w http.ResponseWriter, r *http.Request) error {
	var req api.DiagnoseRequest
	if err := h.readJSON(w, r, &req, true); err != nil {
		return err
	}
	if err := requireProfile(h.external); err != nil {
		return err
	}
	report, err := h.orchestrator.Diagnose(r.Context(), h.external, publish.Request{Username: req.Username, Password: req.Password})
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, api.DiagnoseResponse{OK: report.OK, Results: diagnoseResults(report.Results)}, nil)
	return nil
}

// handleHealth godoc
// @Summary      Effective configuration defaults
// @Tags         system
// @Produce      json
// @Success      200  {object}  api.HealthResponse
// @Router       /api/health [get]
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) error {
	if err := requireMethod(r, http.MethodGet); err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, api.HealthResponse{
		OK:       true,
		Time:     h.clock.Now().UTC().Format(time.RFC3339Nano),
		Defaults: h.defaults,
	}, nil)
	return nil
}

func requireProfile(profile *publish.Profile) error {
	if profile == nil {
		return httpError{Status: http.StatusServiceUnavailable, Code: "profile_unconfigured", Detail: "publish profile not configured"}
	}
	return nil
}
