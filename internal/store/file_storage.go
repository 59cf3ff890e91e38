package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

const documentExt = ".automerge"

// FileStorage keeps one snapshot file per document under a directory.
type FileStorage struct {
	mu  sync.Mutex
	dir string
}

// NewFileStorage creates dir if needed and returns storage rooted there.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return &FileStorage{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *FileStorage) Dir() string { return s.dir }

// Load reads the snapshot of id. A missing file reports ok == false.
func (s *FileStorage) Load(ctx context.Context, id domain.DocumentID) ([]byte, bool, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	if b == nil {
		return nil, false, nil
	}
	return b, true, nil
}

// Save atomically replaces the snapshot of id.
func (s *FileStorage) Save(ctx context.Context, id domain.DocumentID, data []byte) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return nil
}

// maxNameLen keeps encoded file names under common file system limits.
const maxNameLen = 200

// path maps id to its snapshot file. Checksummed base58 ids are used as
// they are. Any other id is stored as "~" plus its unpadded base64url form;
// "~" is outside the base58 alphabet so the two forms never collide.
func (s *FileStorage) path(id domain.DocumentID) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty id", domain.ErrInvalidDocumentID)
	}
	name := string(id)
	if _, err := domain.ParseDocumentID(name); err != nil {
		name = "~" + base64.RawURLEncoding.EncodeToString([]byte(id))
	}
	if len(name) > maxNameLen {
		return "", fmt.Errorf("%w: id too long for file storage", domain.ErrInvalidDocumentID)
	}
	return filepath.Join(s.dir, name+documentExt), nil
}

var _ domain.DocumentStorage = (*FileStorage)(nil)
