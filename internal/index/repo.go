package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/starford/embedmark/internal/apperr"
	"github.com/starford/embedmark/internal/models"
)

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

const pageColumns = `path, slug, title, description, checksum, tags, draft, body, html, updated_at`

// UpsertPage inserts or replaces a page, its FTS entry, and its outgoing links
// within a transaction.
func (db *DB) UpsertPage(p *models.Page) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err = tx.Exec(`
		INSERT INTO pages (path, stem, slug, title, description, checksum, tags, draft, body, html, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			stem        = excluded.stem,
			slug        = excluded.slug,
			title       = excluded.title,
			description = excluded.description,
			checksum    = excluded.checksum,
			tags        = excluded.tags,
			draft       = excluded.draft,
			body        = excluded.body,
			html        = excluded.html,
			updated_at  = excluded.updated_at
	`, p.Path, stemOf(p.Path), p.Slug, p.Title, p.Description, p.Checksum,
		string(tagsJSON), p.Draft, p.Body, p.HTML, updated)
	if err != nil {
		return fmt.Errorf("index: upsert page: %w", err)
	}

	if err := ftsUpsert(tx, p.Path, p.Title, p.Body, p.Tags); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, p.Path); err != nil {
		return fmt.Errorf("index: clear links: %w", err)
	}
	if len(p.Links) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, target := range p.Links {
			if _, err := stmt.Exec(p.Path, target); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeletePage removes a page, its FTS entry, and outgoing links.
func (db *DB) DeletePage(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	if _, err := tx.Exec(`DELETE FROM links WHERE source = ?`, path); err != nil {
		return fmt.Errorf("index: delete links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM pages WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete page: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a page, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM pages WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns the stored checksum of every indexed page keyed by path.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM pages`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// GetPage returns the page stored at path.
func (db *DB) GetPage(path string) (*models.Page, error) {
	row := db.conn.QueryRow(`SELECT `+pageColumns+` FROM pages WHERE path = ?`, path)
	return db.scanPage(row)
}

// GetPageBySlug returns the page published at slug.
func (db *DB) GetPageBySlug(slug string) (*models.Page, error) {
	row := db.conn.QueryRow(`SELECT `+pageColumns+` FROM pages WHERE slug = ?`, slug)
	return db.scanPage(row)
}

func (db *DB) scanPage(row *sql.Row) (*models.Page, error) {
	var p models.Page
	var tags string
	err := row.Scan(&p.Path, &p.Slug, &p.Title, &p.Description, &p.Checksum,
		&tags, &p.Draft, &p.Body, &p.HTML, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: scan page: %w", err)
	}
	_ = json.Unmarshal([]byte(tags), &p.Tags)

	links, err := db.outgoing(p.Path)
	if err != nil {
		return nil, err
	}
	p.Links = links
	return &p, nil
}

func (db *DB) outgoing(source string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT target FROM links WHERE source = ? ORDER BY rowid`, source)
	if err != nil {
		return nil, fmt.Errorf("index: outgoing links: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListPages returns a page of summaries ordered by most recent update, and the
// total number of matching pages. An empty tag matches every page; drafts are
// only included when drafts is true.
func (db *DB) ListPages(limit, offset int, tag string, drafts bool) ([]models.PageSummary, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := []string{"1 = 1"}
	var args []any
	if !drafts {
		where = append(where, "draft = 0")
	}
	if tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(pages.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM pages WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count pages: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT path, slug, title, description, draft, updated_at
		FROM pages
		WHERE `+cond+`
		ORDER BY updated_at DESC, path
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list pages: %w", err)
	}
	defer rows.Close()

	out := []models.PageSummary{}
	for rows.Next() {
		var s models.PageSummary
		if err := rows.Scan(&s.Path, &s.Slug, &s.Title, &s.Description, &s.Draft, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// Backlinks returns the paths of all pages whose wiki-links reference the
// page at path, by file stem, extension-less path or title.
func (db *DB) Backlinks(path string) ([]string, error) {
	names := []string{stemOf(path), strings.TrimSuffix(path, ".md"), path}
	var title string
	_ = db.conn.QueryRow(`SELECT title FROM pages WHERE path = ?`, path).Scan(&title)
	if title != "" {
		names = append(names, title)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	args := make([]any, 0, len(names)+1)
	for _, n := range names {
		args = append(args, strings.ToLower(n))
	}
	args = append(args, path)

	rows, err := db.conn.Query(`
		SELECT DISTINCT source FROM links
		WHERE lower(target) IN (`+placeholders+`) AND source != ?
		ORDER BY source
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ResolveTarget finds the page a wiki-link target refers to. Matching is
// case-insensitive and tries, in order: the path, the path with ".md"
// appended, the file stem, and the title.
func (db *DB) ResolveTarget(target string) (*models.PageSummary, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, apperr.ErrNotFound
	}
	t := strings.ToLower(target)

	var s models.PageSummary
	err := db.conn.QueryRow(`
		SELECT path, slug, title, description, draft, updated_at
		FROM pages
		WHERE lower(path) = ? OR lower(path) = ? OR lower(stem) = ? OR lower(title) = ?
		ORDER BY
			CASE
				WHEN lower(path) = ? THEN 0
				WHEN lower(path) = ? THEN 1
				WHEN lower(stem) = ? THEN 2
				ELSE 3
			END,
			path
		LIMIT 1
	`, t, t+".md", t, t, t, t+".md", t).Scan(&s.Path, &s.Slug, &s.Title, &s.Description, &s.Draft, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: resolve target: %w", err)
	}
	return &s, nil
}

func stemOf(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}
