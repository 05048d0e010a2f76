package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/toltec-astro/dvpipe/internal/metaservice"
)

const maxBody = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc  *metaservice.Service
	jobs JobNotifier
	now  func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(svc *metaservice.Service, jobs JobNotifier) *Handler {
	return &Handler{svc: svc, jobs: jobs, now: time.Now}
}

func contentType(f metaservice.Format) string {
	if f == metaservice.FormatSession {
		return "application/yaml; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return nil, false
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("request body is required"))
		return nil, false
	}
	return body, true
}

// ListBlocks handles GET /api/blocks.
//
//	@Summary		List metadata blocks
//	@Tags			schema
//	@Produce		json
//	@Success		200	{object}	BlockListResponse
//	@Security		BearerAuth
//	@Router			/blocks [get]
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BlockListResponse{Blocks: h.svc.Blocks(r.Context())})
}

// ListFields handles GET /api/blocks/{block}/fields.
//
//	@Summary		List the fields of a metadata block
//	@Tags			schema
//	@Produce		json
//	@Param			block	path		string	true	"Block name"
//	@Success		200		{object}	FieldListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{block}/fields [get]
func (h *Handler) ListFields(w http.ResponseWriter, r *http.Request) {
	block := chi.URLParam(r, "block")
	fields, err := h.svc.Fields(r.Context(), block)
	if err != nil {
		writeError(w, "list fields", err)
		return
	}
	writeJSON(w, http.StatusOK, FieldListResponse{Block: block, Fields: fields})
}

// GetField handles GET /api/fields/{name}.
//
//	@Summary		Describe one field
//	@Tags			schema
//	@Produce		json
//	@Param			name	path		string	true	"Field name"
//	@Success		200		{object}	FieldInfo
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/fields/{name} [get]
func (h *Handler) GetField(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Field(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, "get field", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request, from, to metaservice.Format) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	validate, _ := strconv.ParseBool(r.URL.Query().Get("validate"))
	out, err := h.svc.Convert(r.Context(), body, from, to, validate)
	if err != nil {
		writeError(w, "convert metadata", err)
		return
	}
	writeBytes(w, contentType(to), out)
}

// ToWire handles POST /api/metadata/wire.
//
//	@Summary		Convert flat metadata to the Dataverse wire document
//	@Tags			metadata
//	@Accept			json
//	@Produce		json
//	@Param			validate	query		bool	false	"Require every mandatory field"
//	@Success		200			{object}	object
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/metadata/wire [post]
func (h *Handler) ToWire(w http.ResponseWriter, r *http.Request) {
	h.convert(w, r, metaservice.FormatFlat, metaservice.FormatWire)
}

// ToFlat handles POST /api/metadata/flat.
//
//	@Summary		Convert a Dataverse wire document to flat metadata
//	@Tags			metadata
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	object
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/metadata/flat [post]
func (h *Handler) ToFlat(w http.ResponseWriter, r *http.Request) {
	h.convert(w, r, metaservice.FormatWire, metaservice.FormatFlat)
}

// Convert handles POST /api/metadata/convert.
//
//	@Summary		Convert metadata between flat, wire and session formats
//	@Tags			metadata
//	@Param			from		query		string	true	"Input format"	Enums(flat, wire, session)
//	@Param			to			query		string	true	"Output format"	Enums(flat, wire, session)
//	@Param			validate	query		bool	false	"Require every mandatory field"
//	@Success		200
//	@Failure		400	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/metadata/convert [post]
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := metaservice.ParseFormat(q.Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	to, err := metaservice.ParseFormat(q.Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	h.convert(w, r, from, to)
}

// Example handles GET /api/metadata/example.
//
//	@Summary		Reference LMT session
//	@Tags			metadata
//	@Param			format	query	string	false	"Output format"	Enums(flat, wire, session)
//	@Success		200
//	@Security		BearerAuth
//	@Router			/metadata/example [get]
func (h *Handler) Example(w http.ResponseWriter, r *http.Request) {
	format := metaservice.FormatWire
	if s := r.URL.Query().Get("format"); s != "" {
		f, err := metaservice.ParseFormat(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		format = f
	}
	g, err := h.svc.Example(r.Context(), h.now())
	if err != nil {
		writeError(w, "example", err)
		return
	}
	out, err := h.svc.Render(g, format)
	if err != nil {
		writeError(w, "example", err)
		return
	}
	writeBytes(w, contentType(format), out)
}

// ListIndices handles GET /api/indices.
//
//	@Summary		List stored dataset indices
//	@Tags			indices
//	@Produce		json
//	@Success		200	{object}	IndexListResponse
//	@Security		BearerAuth
//	@Router			/indices [get]
func (h *Handler) ListIndices(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Indices(r.Context())
	if err != nil {
		writeError(w, "list indices", err)
		return
	}
	writeJSON(w, http.StatusOK, IndexListResponse{Indices: items})
}

// GetIndex handles GET /api/indices/{id}.
//
//	@Summary		Get one dataset index
//	@Tags			indices
//	@Produce		json
//	@Param			id	path		string	true	"Project id"
//	@Success		200	{object}	models.DatasetIndex
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/indices/{id} [get]
func (h *Handler) GetIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := h.svc.Index(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get index", err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

// DeleteIndex handles DELETE /api/indices/{id}.
//
//	@Summary		Delete a dataset index
//	@Tags			indices
//	@Param			id	path	string	true	"Project id"
//	@Success		204	"Index deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/indices/{id} [delete]
func (h *Handler) DeleteIndex(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteIndex(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete index", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs handles GET /api/jobs.
//
//	@Summary		List pipeline jobs
//	@Tags			jobs
//	@Produce		json
//	@Success		200	{object}	JobListResponse
//	@Security		BearerAuth
//	@Router			/jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: h.svc.Jobs(r.Context())})
}

// RunJob handles POST /api/jobs/{name}.
//
//	@Summary		Run a pipeline job
//	@Tags			jobs
//	@Produce		json
//	@Param			name	path		string	true	"Job name"
//	@Success		200		{object}	JobRunResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/jobs/{name} [post]
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.hasJob(r, name) {
		writeJSON(w, http.StatusNotFound, errorBody("unknown job"))
		return
	}
	n, err := h.svc.RunJob(r.Context(), name)
	if h.jobs != nil {
		h.jobs.PublishJobFinished(name, n, err)
	}
	resp := JobRunResponse{Job: name, Items: n}
	if err != nil {
		slog.Warn("job finished with errors", slog.String("job", name), slog.String("error", err.Error()))
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) hasJob(r *http.Request, name string) bool {
	for _, j := range h.svc.Jobs(r.Context()) {
		if j.Name == name {
			return true
		}
	}
	return false
}
