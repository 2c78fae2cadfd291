package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"shortforge/internal/domain"
)

// GCSStore keeps folders as object prefixes in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore dials Cloud Storage with application default credentials
// unless opts say otherwise.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: gcs client")
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Write(ctx context.Context, folder, filename string, data []byte) (string, error) {
	key, err := objectKey(s.prefix, folder, filename)
	if err != nil {
		return "", err
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(filename)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", errors.Wrapf(err, "storage: gcs write %s", key)
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrapf(err, "storage: gcs commit %s", key)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

func (s *GCSStore) Read(ctx context.Context, folder, glob string) ([]domain.File, error) {
	f, err := sanitizeSegment("folder", folder)
	if err != nil {
		return nil, err
	}
	bucket := s.client.Bucket(s.bucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: joinPrefix(s.prefix, f+"/"+literalPrefix(glob))})
	var files []domain.File
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "storage: gcs list")
		}
		_, name, ok := splitKey(s.prefix, attrs.Name)
		if !ok {
			continue
		}
		match, err := matchGlob(glob, name)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		r, err := bucket.Object(attrs.Name).NewReader(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "storage: gcs open %s", attrs.Name)
		}
		data, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "storage: gcs read %s", attrs.Name)
		}
		files = append(files, domain.File{Name: name, Data: data})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (s *GCSStore) ListFolders(ctx context.Context) ([]string, error) {
	q := &storage.Query{}
	if p := strings.Trim(s.prefix, "/"); p != "" {
		q.Prefix = p + "/"
	}
	if err := q.SetAttrSelection([]string{"Name", "Created"}); err != nil {
		return nil, errors.Wrap(err, "storage: gcs query")
	}
	created := map[string]time.Time{}
	it := s.client.Bucket(s.bucket).Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "storage: gcs list")
		}
		folder, _, ok := splitKey(s.prefix, attrs.Name)
		if !ok {
			continue
		}
		noteCreated(created, folder, attrs.Created)
	}
	return newestFirst(created), nil
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	switch path.Ext(filename) {
	case ".srt":
		return "application/x-subrip"
	case ".mp3":
		return "audio/mpeg"
	}
	return "application/octet-stream"
}

var _ domain.ObjectStore = (*GCSStore)(nil)
