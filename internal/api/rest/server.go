package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/medlit/orchestrator/internal/core"
	"github.com/medlit/orchestrator/internal/service"
	"github.com/medlit/orchestrator/internal/shared/logging"
)

const defaultListLimit = 20

type API struct {
	jobs        service.JobService
	batch       *service.BatchCoordinator
	broadcaster core.Broadcaster
	logger      logging.Logger
}

func NewAPI(
	jobs service.JobService,
	batch *service.BatchCoordinator,
	broadcaster core.Broadcaster,
	logger logging.Logger,
) *API {
	return &API{
		jobs:        jobs,
		batch:       batch,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/jobs", a.createJob)
	mux.HandleFunc("GET /api/jobs", a.listJobs)
	mux.HandleFunc("GET /api/jobs/{id}", a.getJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", a.cancelJob)
	mux.HandleFunc("GET /api/jobs/{id}/events", a.streamJobEvents)
	mux.HandleFunc("POST /api/predict/batch", a.predictBatch)
	mux.HandleFunc("GET /api/models/{id}", a.getModel)
	mux.HandleFunc("GET /health", a.health)
}

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	kind, params, err := req.ToParams()
	if err != nil {
		a.respondDomainError(w, err)
		return
	}

	job, err := a.jobs.Submit(kind, req.TargetModelID, params)
	if err != nil {
		a.respondDomainError(w, err)
		return
	}

	a.respondJSON(w, http.StatusCreated, ToCreateJobResponse(job))
}

// getJob handles GET /api/jobs/{id}
func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseJobID(w, r)
	if !ok {
		return
	}

	job, err := a.jobs.Get(id)
	if err != nil {
		a.respondDomainError(w, err)
		return
	}

	a.respondJSON(w, http.StatusOK, ToGetJobResponse(job))
}

// cancelJob handles POST /api/jobs/{id}/cancel. Cancelling a terminal job
// is a no-op that reports the terminal state.
func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseJobID(w, r)
	if !ok {
		return
	}

	job, err := a.jobs.Cancel(id)
	if err != nil {
		a.respondDomainError(w, err)
		return
	}

	a.respondJSON(w, http.StatusAccepted, ToGetJobResponse(job))
}

// listJobs handles GET /api/jobs with filters and pagination
func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := core.JobFilter{
		ModelID: query.Get("model_id"),
		Limit:   defaultListLimit,
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status := core.JobStatus(statusStr)
		if !status.Valid() {
			a.respondError(w, http.StatusBadRequest, "invalid status filter", statusStr)
			return
		}
		filter.Status = &status
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	jobs, total, err := a.jobs.List(filter)
	if err != nil {
		a.respondDomainError(w, err)
		return
	}

	summaries := make([]JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, ToJobSummary(job))
	}

	var nextOffset *int
	if end := filter.Offset + len(jobs); end < total {
		nextOffset = &end
	}

	a.respondJSON(w, http.StatusOK, ListJobsResponse{
		Jobs:       summaries,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
		NextOffset: nextOffset,
	})
}

// predictBatch handles POST /api/predict/batch: the synchronous form of
// batch inference, bounded by the coordinator's concurrency limit.
func (a *API) predictBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchPredictRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	items := make([]core.BatchItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = core.BatchItem{Title: item.Title, Abstract: item.Abstract}
	}
	threshold := req.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	params := core.Params{Inference: &core.InferenceParams{Items: items, Threshold: threshold}}
	if err := params.Validate(core.TaskKindInference); err != nil {
		a.respondDomainError(w, err)
		return
	}

	result := a.batch.Run(r.Context(), req.ModelID, items, threshold, nil)

	a.respondJSON(w, http.StatusOK, BatchPredictResponse{
		Results:     result.Results,
		TotalTimeMS: result.TotalTimeMS,
	})
}

// getModel handles GET /api/models/{id}
func (a *API) getModel(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("id")
	if modelID == "" {
		a.respondError(w, http.StatusBadRequest, "model ID required", "")
		return
	}

	entry, err := a.jobs.Model(modelID)
	if err != nil {
		a.respondDomainError(w, err)
		return
	}

	a.respondJSON(w, http.StatusOK, ToGetModelResponse(entry))
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (a *API) parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job ID", raw)
		return uuid.Nil, false
	}
	return id, true
}

// respondDomainError maps domain errors onto HTTP status codes.
func (a *API) respondDomainError(w http.ResponseWriter, err error) {
	var validationErr *core.ValidationError
	switch {
	case errors.As(err, &validationErr):
		a.respondError(w, http.StatusBadRequest, "validation failed", validationErr.Error())
	case errors.Is(err, core.ErrModelBusy):
		a.respondError(w, http.StatusConflict, "model busy", err.Error())
	case errors.Is(err, core.ErrJobNotFound):
		a.respondError(w, http.StatusNotFound, "job not found", "")
	case errors.Is(err, core.ErrModelNotFound):
		a.respondError(w, http.StatusNotFound, "model not found", "")
	default:
		a.logger.Error("Request failed", "error", err)
		a.respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, error string, message string) {
	resp := ErrorResponse{
		Error:   error,
		Message: message,
		Code:    statusCode,
	}
	a.respondJSON(w, statusCode, resp)
}

const (
	readTimeout = 15 * time.Second
	idleTimeout = 60 * time.Second
)

// NewServer wires the API behind the middleware chain. The write timeout is
// left unset so event streams can outlive a single response deadline.
func NewServer(addr string, api *API, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := ChainMiddleware(
		mux,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	)

	return &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}
}
