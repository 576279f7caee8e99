package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xraph/ripple/id"
	"github.com/xraph/ripple/job"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CountsResponse is the number of jobs per state.
type CountsResponse struct {
	Counts job.Counts `json:"counts"`
	Total  int64      `json:"total"`
}

func (a *API) jobCounts(c *gin.Context) {
	counts, err := a.store.Counts(c.Request.Context())
	if err != nil {
		abort(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, CountsResponse{Counts: counts, Total: total})
}

// listJobs lists jobs in one state, failed by default.
func (a *API) listJobs(c *gin.Context) {
	state := job.State(c.DefaultQuery("state", string(job.StateFailed)))
	if !state.Valid() {
		abort(c, http.StatusBadRequest, "unknown state "+strconv.Quote(string(state)))
		return
	}

	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			abort(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	jobs, err := a.store.List(c.Request.Context(), state, limit)
	if err != nil {
		abort(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	j, err := a.store.Get(c.Request.Context(), jobID)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// retryJob moves a failed job back to waiting with a fresh attempt budget.
func (a *API) retryJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	if err := a.store.Retry(c.Request.Context(), jobID); err != nil {
		abortStoreError(c, err)
		return
	}
	a.logger.Info("failed job replayed", slog.String("job_id", jobID.String()))
	c.Status(http.StatusNoContent)
}

func parseJobID(c *gin.Context) (id.JobID, bool) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid job id: "+err.Error())
		return id.JobID{}, false
	}
	return jobID, true
}

func abortStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, job.ErrInvalidState):
		abort(c, http.StatusConflict, err.Error())
	default:
		abort(c, http.StatusInternalServerError, err.Error())
	}
}
