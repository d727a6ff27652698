package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/position"
	"github.com/scribely/tierq/stats"
)

// StatsResponse is the body of GET /v1/stats. Placement is attached
// when the job_id query parameter names a waiting job.
type StatsResponse struct {
	*stats.Snapshot
	Placement *position.Placement `json:"placement,omitempty"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	snap, err := a.eng.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := StatsResponse{Snapshot: snap}

	if raw := r.URL.Query().Get("job_id"); raw != "" {
		jobID, parseErr := id.ParseJobID(raw)
		if parseErr != nil {
			badRequest(w, "invalid job_id")
			return
		}
		p, locErr := a.eng.Locate(r.Context(), jobID)
		if locErr != nil {
			writeError(w, locErr)
			return
		}
		resp.Placement = p
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdmitResponse is the body of POST /v1/admit.
type AdmitResponse struct {
	Admitted []*job.Job `json:"admitted"`
}

// admit triggers one admission sweep on demand. External worker fleets
// call this before polling for newly running jobs.
func (a *API) admit(w http.ResponseWriter, r *http.Request) {
	admitted, err := a.eng.TryAdmit(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if admitted == nil {
		admitted = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, AdmitResponse{Admitted: admitted})
}

// MarkStatusRequest is the body of POST /v1/jobs/{jobID}/status.
type MarkStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) markStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}

	var req MarkStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return
	}

	j, err := a.eng.MarkStatus(r.Context(), jobID, job.Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// FinishJobRequest is the body of POST /v1/jobs/{jobID}/finish.
type FinishJobRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (a *API) finishJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}

	var req FinishJobRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return
	}

	j, err := a.eng.Finish(r.Context(), jobID, job.Status(req.Status), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Queue().Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "store unreachable",
			Code:  "store_unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
