package storage

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data     []byte
	modified time.Time
}

// fakeS3 serves path-style PutObject, GetObject and ListObjectsV2 for one
// bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	clock   time.Time
}

type listResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	MaxKeys     int           `xml:"MaxKeys"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

type listContent struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	Size         int    `xml:"Size"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.clock = f.clock.Add(time.Second)
		f.objects[key] = fakeObject{data: data, modified: f.clock}
		w.Header().Set("ETag", `"etag"`)
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		res := listResult{Name: bucket, Prefix: prefix, MaxKeys: 1000}
		keys := make([]string, 0, len(f.objects))
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			obj := f.objects[k]
			res.Contents = append(res.Contents, listContent{
				Key:          k,
				LastModified: obj.modified.UTC().Format("2006-01-02T15:04:05.000Z"),
				Size:         len(obj.data),
			})
		}
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)
	case r.Method == http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(obj.data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3Store(t *testing.T, prefix string) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string]fakeObject{}, clock: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	sess, err := session.NewSession(aws.NewConfig().
		WithRegion("us-east-1").
		WithEndpoint(srv.URL).
		WithS3ForcePathStyle(true).
		WithCredentials(credentials.NewStaticCredentials("id", "secret", "")))
	require.NoError(t, err)
	cfg := S3Config{Bucket: "runs", Region: "us-east-1", Prefix: prefix}
	return NewS3StoreWithClient(s3.New(sess), cfg), fake
}

func TestS3StoreWriteReadList(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeS3Store(t, "shorts")

	url, err := store.Write(ctx, "20240601_aaaaaaaa_old", "script.json", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "s3://runs/shorts/20240601_aaaaaaaa_old/script.json", url)
	_, err = store.Write(ctx, "20240602_bbbbbbbb_new", "image_00.png", []byte("png"))
	require.NoError(t, err)
	_, err = store.Write(ctx, "20240602_bbbbbbbb_new", "image_01.png", []byte("png2"))
	require.NoError(t, err)
	_, err = store.Write(ctx, "20240602_bbbbbbbb_new", "images.json", []byte(`[]`))
	require.NoError(t, err)

	assert.Contains(t, fake.objects, "shorts/20240602_bbbbbbbb_new/image_00.png")

	files, err := store.Read(ctx, "20240602_bbbbbbbb_new", "image_*.png")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "image_00.png", files[0].Name)
	assert.Equal(t, []byte("png2"), files[1].Data)

	folders, err := store.ListFolders(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"20240602_bbbbbbbb_new", "20240601_aaaaaaaa_old"}, folders)
}

func TestS3StoreRejectsTraversal(t *testing.T) {
	store, _ := newFakeS3Store(t, "")

	_, err := store.Write(context.Background(), "../etc", "passwd", []byte("x"))
	require.Error(t, err)
	_, err = store.Read(context.Background(), "a/b", "*")
	require.Error(t, err)
}
