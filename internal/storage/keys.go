// Package storage implements domain.ObjectStore on the local filesystem,
// Google Cloud Storage, Amazon S3, Postgres and in memory.
package storage

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var errInvalidKey = errors.New("storage: invalid key")

// sanitizeSegment validates a folder token or file name. Neither may contain
// separators or climb out of the store root.
func sanitizeSegment(kind, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.Wrapf(errInvalidKey, "%s is required", kind)
	}
	if strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return "", errors.Wrapf(errInvalidKey, "%s %q", kind, s)
	}
	return s, nil
}

func objectKey(prefix, folder, name string) (string, error) {
	f, err := sanitizeSegment("folder", folder)
	if err != nil {
		return "", err
	}
	n, err := sanitizeSegment("filename", name)
	if err != nil {
		return "", err
	}
	return joinPrefix(prefix, f+"/"+n), nil
}

func joinPrefix(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// splitKey turns "prefix/folder/name" back into (folder, name).
func splitKey(prefix, key string) (string, string, bool) {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		if !strings.HasPrefix(key, prefix+"/") {
			return "", "", false
		}
		key = strings.TrimPrefix(key, prefix+"/")
	}
	folder, name, ok := strings.Cut(key, "/")
	if !ok || folder == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return folder, name, true
}

// matchGlob reports whether name matches glob. An empty glob matches all.
func matchGlob(glob, name string) (bool, error) {
	if glob == "" || glob == "*" {
		return true, nil
	}
	ok, err := path.Match(glob, name)
	if err != nil {
		return false, errors.Wrapf(err, "storage: bad pattern %q", glob)
	}
	return ok, nil
}

// literalPrefix is the part of glob before its first meta character, used to
// narrow remote listings.
func literalPrefix(glob string) string {
	if i := strings.IndexAny(glob, `*?[\`); i >= 0 {
		return glob[:i]
	}
	return glob
}

// newestFirst orders folders by creation time, newest first. Ties fall back
// to the token itself, which starts with the date.
func newestFirst(created map[string]time.Time) []string {
	out := make([]string, 0, len(created))
	for f := range created {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := created[out[i]], created[out[j]]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i] > out[j]
	})
	return out
}

func noteCreated(created map[string]time.Time, folder string, t time.Time) {
	if prev, ok := created[folder]; !ok || t.Before(prev) {
		created[folder] = t
	}
}
