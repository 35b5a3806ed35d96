package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/embedmark/internal/index"
	"github.com/starford/embedmark/internal/models"
	"github.com/starford/embedmark/internal/pageservice"
)

const maxMarkdownBytes = 1 << 20

// RenderRequest is the request body for rendering a Markdown document.
type RenderRequest struct {
	Markdown string `json:"markdown" example:"See [[Home]] and https://youtu.be/abc" validate:"required"`
}

// Validate implements validation.Validatable.
func (r RenderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Markdown, validation.Required, validation.Length(1, maxMarkdownBytes)),
	)
}

// previewQuery holds the query parameters of GET /preview.
type previewQuery struct {
	URL  string
	Text string
}

// Validate implements validation.Validatable.
func (q previewQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.URL, validation.Required, is.URL),
		validation.Field(&q.Text, validation.Length(0, 512)),
	)
}

// PageDetail is the full page response type (aliased from the domain layer).
type PageDetail = pageservice.PageDetail

// PageListResponse wraps paginated page listings.
type PageListResponse struct {
	Pages []models.PageSummary `json:"pages" validate:"required"`
	Total int                  `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// RenderResponse is the result of POST /render.
type RenderResponse = pageservice.RenderResult

// ClassifyResponse is the result of GET /classify.
type ClassifyResponse = pageservice.Classification

// PreviewResponse is the result of GET /preview.
type PreviewResponse = pageservice.Preview
