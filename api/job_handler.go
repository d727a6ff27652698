package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scribely/tierq"
	"github.com/scribely/tierq/auth"
	"github.com/scribely/tierq/id"
	"github.com/scribely/tierq/job"
	"github.com/scribely/tierq/tier"
)

// defaultListLimit bounds unpaginated list responses.
const defaultListLimit = 50

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	Tier     string `json:"tier"`
	Source   string `json:"source"`
	Title    string `json:"title,omitempty"`
	Language string `json:"language,omitempty"`
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFrom(r.Context())
	if caller.Subject == "" {
		writeError(w, tierq.ErrUnauthorized)
		return
	}

	var req SubmitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return
	}
	if req.Source == "" {
		badRequest(w, "source is required")
		return
	}

	var opts []job.Option
	if req.Title != "" {
		opts = append(opts, job.WithTitle(req.Title))
	}
	if req.Language != "" {
		opts = append(opts, job.WithLanguage(req.Language))
	}

	j, err := a.eng.Submit(r.Context(), caller.Subject, tier.Tier(req.Tier), req.Source, opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}

	j, err := a.eng.Job(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	caller, _ := auth.IdentityFrom(r.Context())
	if !caller.Owns(j.OwnerID) {
		writeError(w, tierq.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}

	// Ownership is enforced by the engine from the context identity.
	j, err := a.eng.Cancel(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) jobPosition(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		badRequest(w, "invalid job id")
		return
	}

	j, err := a.eng.Job(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	caller, _ := auth.IdentityFrom(r.Context())
	if !caller.Owns(j.OwnerID) {
		writeError(w, tierq.ErrForbidden)
		return
	}

	p, err := a.eng.Locate(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	jobs, err := a.eng.Jobs(r.Context(), job.ListOpts{
		Owner:  q.Get("owner"),
		Status: job.Status(q.Get("status")),
		Phase:  job.Phase(q.Get("phase")),
		Limit:  intQuery(q, "limit", defaultListLimit),
		Offset: intQuery(q, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}
