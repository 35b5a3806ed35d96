// Package models defines the domain types for embedmark.
package models

import "time"

// Page is a built Markdown source as stored in the index.
type Page struct {
	Path        string    `json:"path"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Links       []string  `json:"links,omitempty"`
	Draft       bool      `json:"draft,omitempty"`
	Body        string    `json:"body,omitempty"`
	HTML        string    `json:"html,omitempty"`
	Checksum    string    `json:"checksum"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// URL returns the site-relative URL the page is published at.
func (p *Page) URL() string {
	return SlugURL(p.Slug)
}

// SlugURL returns the site-relative URL for a slug. The "index" slug is the
// site root.
func SlugURL(slug string) string {
	if slug == "" || slug == "index" {
		return "/"
	}
	return "/" + slug + "/"
}

// SourceMetadata is a lightweight representation of a source file returned by
// list operations.
type SourceMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PageSummary is a page without its body and rendered HTML.
type PageSummary struct {
	Path        string    `json:"path"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Draft       bool      `json:"draft,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Link is a directed wiki-link edge between two pages. Target is the raw
// reference as written.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
