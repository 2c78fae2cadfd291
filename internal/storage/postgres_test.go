package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortforge/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

type stubExecutor struct {
	execs   []execCall
	queries []execCall
	rows    [][]any
	err     error
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return nil
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.queries = append(s.queries, execCall{query: query, args: args})
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{rows: s.rows, idx: -1}, nil
}

type stubRows struct {
	rows [][]any
	idx  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return r.rows[r.idx], nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *stubRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	if len(dest) != len(row) {
		return errors.Newf("scan: want %d columns, got %d", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		default:
			return errors.Newf("scan: unsupported dest %T", dest[i])
		}
	}
	return nil
}

func TestPostgresStoreWrite(t *testing.T) {
	exec := &stubExecutor{}
	store := NewPostgresStore(exec)

	url, err := store.Write(context.Background(), "20240601_abcd1234_owls", "script.json", []byte("{}"))

	require.NoError(t, err)
	assert.Equal(t, "postgres://run_artifacts/20240601_abcd1234_owls/script.json", url)
	require.Len(t, exec.execs, 1)
	assert.Equal(t, sqlinline.QUpsertArtifact, exec.execs[0].query)
	assert.Equal(t, []any{"20240601_abcd1234_owls", "script.json", []byte("{}")}, exec.execs[0].args)
}

func TestPostgresStoreReadFiltersGlob(t *testing.T) {
	exec := &stubExecutor{rows: [][]any{
		{"audio_00.mp3", []byte("a0")},
		{"audio_01.wav", []byte("a1")},
	}}
	store := NewPostgresStore(exec)

	files, err := store.Read(context.Background(), "run", "audio_*.mp3")

	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "audio_00.mp3", files[0].Name)
	assert.Equal(t, `audio\_%`, exec.queries[0].args[1])
}

func TestPostgresStoreListFolders(t *testing.T) {
	exec := &stubExecutor{rows: [][]any{{"b"}, {"a"}}}
	folders, err := NewPostgresStore(exec).ListFolders(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, folders)
}

func TestPostgresStoreEnsureSchema(t *testing.T) {
	exec := &stubExecutor{}
	require.NoError(t, NewPostgresStore(exec).EnsureSchema(context.Background()))
	require.Len(t, exec.execs, 1)
	assert.True(t, strings.Contains(exec.execs[0].query, "create table if not exists run_artifacts"))
}
