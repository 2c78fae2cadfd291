package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"shortforge/internal/domain"
)

// MemoryStore is a process-local ObjectStore.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	folders map[string]map[string][]byte
	created map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		folders: make(map[string]map[string][]byte),
		created: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Write(ctx context.Context, folder, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := objectKey("", folder, filename)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	files, ok := s.folders[folder]
	if !ok {
		files = make(map[string][]byte)
		s.folders[folder] = files
		s.seq++
		// Sequence, not wall time, so folders created in the same instant
		// still list in creation order.
		s.created[folder] = time.Unix(0, s.seq)
	}
	files[filename] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (s *MemoryStore) Read(ctx context.Context, folder, glob string) ([]domain.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.File
	for name, data := range s.folders[folder] {
		ok, err := matchGlob(glob, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, domain.File{Name: name, Data: append([]byte(nil), data...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) ListFolders(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	created := make(map[string]time.Time, len(s.created))
	for k, v := range s.created {
		created[k] = v
	}
	return newestFirst(created), nil
}

// Names lists the files in folder.
func (s *MemoryStore) Names(folder string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.folders[folder]))
	for n := range s.folders[folder] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var _ domain.ObjectStore = (*MemoryStore)(nil)
