package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/embedmark/internal/pageservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *pageservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *pageservice.Service) *Handler {
	return &Handler{svc: svc}
}

// pageRef extracts the page path or slug from the URL (everything after
// /api/pages/). Supports encoded slashes (e.g. docs%2Fguide.md).
func pageRef(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListPages handles GET /api/pages.
//
//	@Summary		List built pages with optional pagination and filtering
//	@Tags			pages
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Param			drafts	query		bool	false	"Include drafts"
//	@Success		200		{object}	PageListResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	drafts, _ := strconv.ParseBool(q.Get("drafts"))

	items, total, err := h.svc.ListPages(r.Context(), limit, offset, q.Get("tag"), drafts)
	if err != nil {
		writeServiceError(w, "list pages", err)
		return
	}
	writeJSON(w, http.StatusOK, PageListResponse{Pages: items, Total: total})
}

// GetPage handles GET /api/pages/*.
//
//	@Summary		Get a single built page by source path or slug
//	@Tags			pages
//	@Produce		json
//	@Param			ref	path		string	true	"Source path or slug"
//	@Success		200	{object}	PageDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{ref} [get]
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	ref := pageRef(r)
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	page, err := h.svc.GetPage(r.Context(), ref)
	if err != nil {
		writeServiceError(w, "get page", err, slog.String("ref", ref))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across pages
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeServiceError(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Render handles POST /api/render.
//
//	@Summary		Render a Markdown document without storing it
//	@Tags			render
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenderRequest	true	"Document to render"
//	@Success		200		{object}	RenderResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render [post]
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*maxMarkdownBytes)
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.RenderMarkdown(r.Context(), req.Markdown)
	if err != nil {
		writeServiceError(w, "render", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Classify handles GET /api/classify.
//
//	@Summary		Classify a URL into an embed kind
//	@Tags			render
//	@Produce		json
//	@Param			url	query		string	true	"URL to classify"
//	@Success		200	{object}	ClassifyResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/classify [get]
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'url' is required"))
		return
	}
	c, err := h.svc.Classify(r.Context(), raw)
	if err != nil {
		writeServiceError(w, "classify", err, slog.String("url", raw))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Preview handles GET /api/preview.
//
//	@Summary		Render the embed markup for one URL with fresh metadata
//	@Tags			render
//	@Produce		json
//	@Param			url		query		string	true	"URL to preview"
//	@Param			text	query		string	false	"Link text"
//	@Success		200		{object}	PreviewResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preview [get]
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	q := previewQuery{URL: r.URL.Query().Get("url"), Text: r.URL.Query().Get("text")}
	if err := q.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	p, err := h.svc.Preview(r.Context(), q.URL, q.Text)
	if err != nil {
		writeServiceError(w, "preview", err, slog.String("url", q.URL))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
