package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMarker = "--sql 0f1e2d3c-4b5a-4697-8877-665544332211"

type recordingDB struct {
	queries []string
	rows    [][]byte
	rowErr  error
}

func (d *recordingDB) Exec(_ context.Context, query string, _ ...any) (pgconn.CommandTag, error) {
	d.queries = append(d.queries, query)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *recordingDB) QueryRow(_ context.Context, query string, _ ...any) pgx.Row {
	d.queries = append(d.queries, query)
	return scanRow{err: d.rowErr, value: "token"}
}

func (d *recordingDB) Query(_ context.Context, query string, _ ...any) (pgx.Rows, error) {
	d.queries = append(d.queries, query)
	return &blobRows{data: d.rows, idx: -1}, nil
}

type scanRow struct {
	err   error
	value string
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.value
	return nil
}

type blobRows struct {
	pgx.Rows
	data   [][]byte
	idx    int
	closes int
}

func (r *blobRows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *blobRows) Scan(dest ...any) error {
	*dest[0].(*[]byte) = r.data[r.idx]
	return nil
}

func (r *blobRows) Close() { r.closes++ }

func newTestRunner(db SQLExecutor) (*SQLRunner, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	runner := NewSQLRunner(db, zerolog.New(buf).Level(zerolog.DebugLevel))
	tick := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	runner.now = func() time.Time {
		tick = tick.Add(10 * time.Millisecond)
		return tick
	}
	return runner, buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestSQLRunnerStripsMarkerAndLogsArgBytes(t *testing.T) {
	db := &recordingDB{}
	runner, buf := newTestRunner(db)

	_, err := runner.Exec(context.Background(), testMarker+"\ninsert into run_artifacts values ($1, $2, $3)", "folder", "a.png", []byte("12345"))

	require.NoError(t, err)
	require.Len(t, db.queries, 1)
	assert.Equal(t, "insert into run_artifacts values ($1, $2, $3)", db.queries[0])
	lines := logLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "0f1e2d3c-4b5a-4697-8877-665544332211", lines[0]["sql"])
	assert.EqualValues(t, 16, lines[0]["arg_bytes"])
	assert.EqualValues(t, 1, lines[0]["rows"])
}

func TestSQLRunnerRejectsMissingMarker(t *testing.T) {
	db := &recordingDB{}
	runner, _ := newTestRunner(db)
	ctx := context.Background()

	_, err := runner.Exec(ctx, "select 1")
	require.Error(t, err)
	_, err = runner.Query(ctx, "--sql not-a-uuid\nselect 1")
	require.Error(t, err)
	var s string
	require.Error(t, runner.QueryRow(ctx, "   ").Scan(&s))
	assert.Empty(t, db.queries, "nothing reaches the database without a marker")
}

func TestSQLRunnerQueryReportsRowsAndBytesOnClose(t *testing.T) {
	db := &recordingDB{rows: [][]byte{[]byte("abc"), []byte("defgh")}}
	runner, buf := newTestRunner(db)

	rows, err := runner.Query(context.Background(), testMarker+"\nselect data from run_artifacts")
	require.NoError(t, err)
	for rows.Next() {
		var data []byte
		require.NoError(t, rows.Scan(&data))
	}
	rows.Close()
	rows.Close()

	lines := logLines(t, buf)
	require.Len(t, lines, 1, "close logs once")
	assert.Equal(t, "sql: query", lines[0]["message"])
	assert.EqualValues(t, 2, lines[0]["rows"])
	assert.EqualValues(t, 8, lines[0]["bytes"])
}

func TestSQLRunnerQueryRowNoRowsIsQuiet(t *testing.T) {
	db := &recordingDB{rowErr: errors.Wrap(pgx.ErrNoRows, "lookup")}
	runner, buf := newTestRunner(db)

	var token string
	err := runner.QueryRow(context.Background(), testMarker+"\nselect token from integration_tokens").Scan(&token)

	require.True(t, IsNoRows(err))
	assert.Empty(t, strings.TrimSpace(buf.String()))
}
