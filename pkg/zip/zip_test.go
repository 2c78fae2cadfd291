package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortforge/internal/domain"
)

func TestArchiveFolder(t *testing.T) {
	files := []domain.File{
		{Name: "script.json", Data: []byte(`{"scenes":[]}`)},
		{Name: "clip_00.mp4", Data: []byte("mp4")},
	}

	data, err := ArchiveFolder("20240601_1a2b3c4d_owls", files)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "20240601_1a2b3c4d_owls/clip_00.mp4", zr.File[0].Name)
	assert.Equal(t, zip.Store, zr.File[0].Method)
	assert.Equal(t, zip.Deflate, zr.File[1].Method)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"scenes":[]}`, string(body))
}

func TestArchiveFolderIsDeterministic(t *testing.T) {
	a, err := ArchiveFolder("f", []domain.File{{Name: "b.txt", Data: []byte("b")}, {Name: "a.txt", Data: []byte("a")}})
	require.NoError(t, err)
	b, err := ArchiveFolder("f", []domain.File{{Name: "a.txt", Data: []byte("a")}, {Name: "b.txt", Data: []byte("b")}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
