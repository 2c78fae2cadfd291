package storage

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type gcsObject struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	Size        string `json:"size"`
	ContentType string `json:"contentType,omitempty"`
	TimeCreated string `json:"timeCreated"`
	Generation  string `json:"generation"`

	data []byte
}

// fakeGCS speaks enough of the Cloud Storage JSON API for one bucket:
// multipart and resumable uploads, object listing and media reads over both
// the JSON and XML paths.
type fakeGCS struct {
	t      *testing.T
	bucket string

	mu      sync.Mutex
	objects map[string]*gcsObject
	pending map[string]gcsObject
	clock   time.Time
	lists   []string
}

func newFakeGCS(t *testing.T, bucket string, start time.Time) *fakeGCS {
	return &fakeGCS{
		t:       t,
		bucket:  bucket,
		objects: map[string]*gcsObject{},
		pending: map[string]gcsObject{},
		clock:   start,
	}
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(p, "/upload/"):
		f.upload(w, r)
	case r.Method == http.MethodPut && strings.HasPrefix(p, "/upload/resumable/"):
		meta, ok := f.pending[strings.TrimPrefix(p, "/upload/resumable/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		f.store(w, meta, data)
	case r.Method == http.MethodGet && p == "/storage/v1/b/"+f.bucket+"/o":
		f.list(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/storage/v1/b/"+f.bucket+"/o/"):
		f.media(w, strings.TrimPrefix(p, "/storage/v1/b/"+f.bucket+"/o/"))
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/"+f.bucket+"/"):
		f.media(w, strings.TrimPrefix(p, "/"+f.bucket+"/"))
	default:
		f.t.Logf("fake gcs: unhandled %s %s", r.Method, r.URL)
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeGCS) upload(w http.ResponseWriter, r *http.Request) {
	var meta gcsObject
	switch r.URL.Query().Get("uploadType") {
	case "multipart":
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		part, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := json.NewDecoder(part).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		part, err = mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(part)
		if meta.Name == "" {
			meta.Name = r.URL.Query().Get("name")
		}
		f.store(w, meta, data)
	case "resumable":
		_ = json.NewDecoder(r.Body).Decode(&meta)
		if meta.Name == "" {
			meta.Name = r.URL.Query().Get("name")
		}
		id := uuid.NewString()
		f.pending[id] = meta
		w.Header().Set("Location", "http://"+r.Host+"/upload/resumable/"+id)
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "unsupported upload", http.StatusBadRequest)
	}
}

func (f *fakeGCS) store(w http.ResponseWriter, meta gcsObject, data []byte) {
	f.clock = f.clock.Add(time.Second)
	obj := &gcsObject{
		Bucket:      f.bucket,
		Name:        meta.Name,
		Size:        strconv.Itoa(len(data)),
		ContentType: meta.ContentType,
		TimeCreated: f.clock.UTC().Format(time.RFC3339Nano),
		Generation:  "1",
		data:        data,
	}
	f.objects[obj.Name] = obj
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(obj)
}

func (f *fakeGCS) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	f.lists = append(f.lists, prefix)
	names := make([]string, 0, len(f.objects))
	for name := range f.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	items := make([]*gcsObject, 0, len(names))
	for _, name := range names {
		items = append(items, f.objects[name])
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"kind": "storage#objects", "items": items})
}

func (f *fakeGCS) media(w http.ResponseWriter, name string) {
	obj, ok := f.objects[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Length", obj.Size)
	w.Header().Set("X-Goog-Generation", obj.Generation)
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(obj.data)
}

func (f *fakeGCS) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for name := range f.objects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (f *fakeGCS) listPrefixes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lists...)
}

func newFakeGCSStore(t *testing.T, prefix string) (*GCSStore, *fakeGCS) {
	t.Helper()
	fake := newFakeGCS(t, "runs", time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewGCSStore(context.Background(), "runs", prefix,
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, fake
}

func TestGCSStoreWriteReadList(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeGCSStore(t, "shorts/")

	url, err := store.Write(ctx, "20240601_aaaaaaaa_old", "script.json", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "gs://runs/shorts/20240601_aaaaaaaa_old/script.json", url)
	for name, data := range map[string]string{
		"image_00.png": "png",
		"image_01.png": "png2",
		"images.json":  "[]",
	} {
		_, err = store.Write(ctx, "20240602_bbbbbbbb_new", name, []byte(data))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"shorts/20240601_aaaaaaaa_old/script.json",
		"shorts/20240602_bbbbbbbb_new/image_00.png",
		"shorts/20240602_bbbbbbbb_new/image_01.png",
		"shorts/20240602_bbbbbbbb_new/images.json",
	}, fake.names())

	files, err := store.Read(ctx, "20240602_bbbbbbbb_new", "image_*.png")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "image_00.png", files[0].Name)
	assert.Equal(t, "image_01.png", files[1].Name)
	assert.Equal(t, []byte("png2"), files[1].Data)
	assert.Contains(t, fake.listPrefixes(), "shorts/20240602_bbbbbbbb_new/image_", "listing is narrowed to the glob's literal prefix")

	files, err = store.Read(ctx, "20240602_bbbbbbbb_new", "*.json")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "images.json", files[0].Name)

	files, err = store.Read(ctx, "20240603_cccccccc_none", "*")
	require.NoError(t, err)
	assert.Empty(t, files)

	folders, err := store.ListFolders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240602_bbbbbbbb_new", "20240601_aaaaaaaa_old"}, folders)
}

func TestGCSStoreListFoldersIgnoresForeignKeys(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeGCSStore(t, "shorts")

	_, err := store.Write(ctx, "20240601_aaaaaaaa_a", "request.json", []byte(`{}`))
	require.NoError(t, err)
	fake.mu.Lock()
	fake.objects["shorts/loose.txt"] = &gcsObject{Bucket: "runs", Name: "shorts/loose.txt", Size: "1", TimeCreated: "2030-01-01T00:00:00Z", Generation: "1", data: []byte("x")}
	fake.objects["shorts/a/b/c.txt"] = &gcsObject{Bucket: "runs", Name: "shorts/a/b/c.txt", Size: "1", TimeCreated: "2030-01-01T00:00:00Z", Generation: "1", data: []byte("x")}
	fake.mu.Unlock()

	folders, err := store.ListFolders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240601_aaaaaaaa_a"}, folders)
}

func TestGCSStoreRejectsTraversal(t *testing.T) {
	store, fake := newFakeGCSStore(t, "")
	ctx := context.Background()

	_, err := store.Write(ctx, "../etc", "passwd", []byte("x"))
	require.Error(t, err)
	_, err = store.Write(ctx, "20240601_aaaaaaaa_a", "../../passwd", []byte("x"))
	require.Error(t, err)
	_, err = store.Read(ctx, "a/b", "*")
	require.Error(t, err)
	assert.Empty(t, fake.names())
}

func TestNewGCSStoreRequiresBucket(t *testing.T) {
	_, err := NewGCSStore(context.Background(), " ", "")
	require.Error(t, err)
}
