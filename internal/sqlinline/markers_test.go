package sqlinline

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
)

var (
	sqlPattern    = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with|create)\b`)
	markerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// Every query constant must start with a unique --sql <uuid> line; the SQL
// runner logs and rejects queries by that marker.
func TestQueriesCarryUniqueMarkers(t *testing.T) {
	paths, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]string)
	fset := token.NewFileSet()
	for _, path := range paths {
		if strings.HasSuffix(path, "_test.go") {
			continue
		}
		src, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		file, err := parser.ParseFile(fset, path, src, 0)
		if err != nil {
			t.Fatal(err)
		}
		ast.Inspect(file, func(n ast.Node) bool {
			vs, ok := n.(*ast.ValueSpec)
			if !ok {
				return true
			}
			for i, value := range vs.Values {
				bl, ok := value.(*ast.BasicLit)
				if !ok || bl.Kind != token.STRING {
					continue
				}
				raw, err := unquote(bl.Value)
				if err != nil || !sqlPattern.MatchString(raw) {
					continue
				}
				name := vs.Names[i].Name
				marker := firstLine(raw)
				if !markerPattern.MatchString(marker) {
					t.Errorf("%s: %s has missing or invalid marker %q", fset.Position(bl.Pos()), name, marker)
					continue
				}
				if prev, dup := seen[marker]; dup {
					t.Errorf("%s: %s reuses the marker of %s", fset.Position(bl.Pos()), name, prev)
				}
				seen[marker] = name
			}
			return true
		})
	}
	if len(seen) == 0 {
		t.Fatal("no queries found")
	}
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if v != "" && v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}
