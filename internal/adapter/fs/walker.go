package fs

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"docindex/internal/domain"
	"docindex/internal/port"
)

var _ port.BlobStore = (*DirStore)(nil)

// DirStore exposes a local directory as a blob store keyed by
// slash-separated paths relative to the root.
type DirStore struct {
	root     string
	includes []string
	excludes []string
}

func NewDirStore(root string, includes, excludes []string) (*DirStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	return &DirStore{
		root:     abs,
		includes: includes,
		excludes: excludes,
	}, nil
}

// Root returns the absolute root directory.
func (s *DirStore) Root() string {
	return s.root
}

func (s *DirStore) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(s.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." && s.shouldExclude(relPath+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.HasPrefix(relPath, prefix) {
			return nil
		}
		if s.Matches(relPath) {
			paths = append(paths, relPath)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

// Matches reports whether a relative path is selected by the include and
// exclude patterns.
func (s *DirStore) Matches(relPath string) bool {
	return s.shouldInclude(relPath) && !s.shouldExclude(relPath)
}

func (s *DirStore) Read(ctx context.Context, relPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, &domain.LoadError{Path: relPath, Err: err}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, &domain.LoadError{Path: relPath, Err: err}
	}
	return data, nil
}

func (s *DirStore) Stat(ctx context.Context, relPath string) (port.BlobInfo, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return port.BlobInfo{}, &domain.LoadError{Path: relPath, Err: err}
	}
	info, err := os.Stat(full)
	if err != nil {
		return port.BlobInfo{}, &domain.LoadError{Path: relPath, Err: err}
	}
	return port.BlobInfo{
		Path:    relPath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (s *DirStore) URL(relPath string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.root, filepath.FromSlash(relPath)))}
	return u.String()
}

// Rel converts an absolute filesystem path under the root to a blob path.
func (s *DirStore) Rel(abs string) (string, bool) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// resolve maps a blob path to a file under the root, refusing paths that
// would escape it.
func (s *DirStore) resolve(relPath string) (string, error) {
	clean := path.Clean("/" + relPath)
	if clean == "/" || clean != "/"+relPath {
		return "", fmt.Errorf("invalid blob path %q", relPath)
	}
	return filepath.Join(s.root, filepath.FromSlash(relPath)), nil
}

func (s *DirStore) shouldInclude(p string) bool {
	for _, pattern := range s.includes {
		matched, err := doublestar.Match(pattern, p)
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (s *DirStore) shouldExclude(p string) bool {
	for _, pattern := range s.excludes {
		matched, err := doublestar.Match(pattern, p)
		if err == nil && matched {
			return true
		}
	}
	return false
}
