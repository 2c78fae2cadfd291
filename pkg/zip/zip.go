// Package zip packs a run folder into a single archive for download.
package zip

import (
	"archive/zip"
	"bytes"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
)

// archiveTime is stamped on every entry so the same files give the same bytes.
var archiveTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ArchiveFolder zips files under a top-level directory named folder. Media
// that is already compressed is stored as is.
func ArchiveFolder(folder string, files []domain.File) ([]byte, error) {
	sorted := append([]domain.File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, f := range sorted {
		hdr := &zip.FileHeader{
			Name:     folder + "/" + f.Name,
			Method:   method(f.Name),
			Modified: archiveTime,
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, errors.Wrapf(err, "zip: create %s", f.Name)
		}
		if _, err := w.Write(f.Data); err != nil {
			return nil, errors.Wrapf(err, "zip: write %s", f.Name)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "zip: close")
	}
	return buf.Bytes(), nil
}

func method(name string) uint16 {
	for _, ext := range []string{".mp4", ".mp3", ".png", ".jpg", ".jpeg", ".webp"} {
		if strings.HasSuffix(name, ext) {
			return zip.Store
		}
	}
	return zip.Deflate
}
