package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
)

// FileStore keeps each folder token as a directory under basePath. It is the
// default for local runs and tests.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, errors.Wrap(err, "storage: ensure base path")
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Write stores data at basePath/folder/filename and returns the file path.
func (s *FileStore) Write(ctx context.Context, folder, filename string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := objectKey("", folder, filename)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", errors.Wrap(err, "storage: ensure directory")
	}
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.Wrap(err, "storage: write file")
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "storage: commit file")
	}
	return fullPath, nil
}

// Read returns the files in folder matching glob, sorted by name.
func (s *FileStore) Read(ctx context.Context, folder, glob string) ([]domain.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := sanitizeSegment("folder", folder)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, f)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: read folder")
	}
	var files []domain.File
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		ok, err := matchGlob(glob, e.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "storage: read %s", e.Name())
		}
		files = append(files, domain.File{Name: e.Name(), Data: data})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// ListFolders orders folders by when their request file was written.
func (s *FileStore) ListFolders(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list folders")
	}
	created := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(s.basePath, e.Name(), domain.RequestFile))
		if err != nil {
			info, err = e.Info()
			if err != nil {
				continue
			}
		}
		created[e.Name()] = info.ModTime()
	}
	return newestFirst(created), nil
}

var _ domain.ObjectStore = (*FileStore)(nil)
