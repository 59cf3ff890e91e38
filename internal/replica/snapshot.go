package replica

import "github.com/pkgw/tectonopedia-ng/internal/domain"

// Snapshot is the materialized value of a document at one point in time.
type Snapshot struct {
	ID      domain.DocumentID
	State   domain.ReadyState
	Heads   []string
	Content string
}
