package index

import "github.com/starford/embedmark/internal/models"

// PageIndex defines the interface for page indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type PageIndex interface {
	UpsertPage(p *models.Page) error
	DeletePage(path string) error
	GetChecksum(path string) (string, error)
	AllChecksums() (map[string]string, error)
	GetPage(path string) (*models.Page, error)
	GetPageBySlug(slug string) (*models.Page, error)
	ListPages(limit, offset int, tag string, drafts bool) ([]models.PageSummary, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Backlinks(path string) ([]string, error)
	ResolveTarget(target string) (*models.PageSummary, error)
	Close() error
}

// Verify *DB satisfies PageIndex at compile time.
var _ PageIndex = (*DB)(nil)
