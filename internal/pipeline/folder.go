package pipeline

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxSlugLen = 40

// FolderNamer produces folder tokens. Now and NewID are injectable so tokens
// are reproducible in tests.
type FolderNamer struct {
	Now   func() time.Time
	NewID func() string
}

// DefaultFolderNamer uses the wall clock and random UUIDs.
func DefaultFolderNamer() FolderNamer {
	return FolderNamer{Now: time.Now, NewID: uuid.NewString}
}

// Token returns `{YYYYMMDD}_{shortId}_{slug}` for title.
func (n FolderNamer) Token(title string) string {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	newID := uuid.NewString
	if n.NewID != nil {
		newID = n.NewID
	}
	id := strings.ReplaceAll(newID(), "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return now().UTC().Format("20060102") + "_" + strings.ToLower(id) + "_" + Slugify(title)
}

// Slugify folds title to lower-case ASCII, replaces everything else with
// single dashes and caps the result at 40 characters.
func Slugify(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "untitled"
	}
	return slug
}
