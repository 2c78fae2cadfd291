package storage

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
	"shortforge/internal/infra"
	"shortforge/internal/sqlinline"
)

// PostgresStore keeps artifacts as rows of run_artifacts. It suits small
// deployments that already run Postgres for credentials.
type PostgresStore struct {
	sql infra.SQLExecutor
}

func NewPostgresStore(sql infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{sql: sql}
}

// EnsureSchema creates the artifacts table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QCreateArtifactsTable); err != nil {
		return errors.Wrap(err, "storage: create run_artifacts")
	}
	return nil
}

func (s *PostgresStore) Write(ctx context.Context, folder, filename string, data []byte) (string, error) {
	key, err := objectKey("", folder, filename)
	if err != nil {
		return "", err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertArtifact, folder, filename, data); err != nil {
		return "", errors.Wrapf(err, "storage: upsert %s", key)
	}
	return "postgres://run_artifacts/" + key, nil
}

func (s *PostgresStore) Read(ctx context.Context, folder, glob string) ([]domain.File, error) {
	f, err := sanitizeSegment("folder", folder)
	if err != nil {
		return nil, err
	}
	rows, err := s.sql.Query(ctx, sqlinline.QSelectArtifactsByFolder, f, likePrefix(literalPrefix(glob)))
	if err != nil {
		return nil, errors.Wrap(err, "storage: select artifacts")
	}
	defer rows.Close()

	var files []domain.File
	for rows.Next() {
		var file domain.File
		if err := rows.Scan(&file.Name, &file.Data); err != nil {
			return nil, errors.Wrap(err, "storage: scan artifact")
		}
		ok, err := matchGlob(glob, file.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, file)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "storage: iterate artifacts")
	}
	return files, nil
}

func (s *PostgresStore) ListFolders(ctx context.Context) ([]string, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectFolders)
	if err != nil {
		return nil, errors.Wrap(err, "storage: select folders")
	}
	defer rows.Close()
	var folders []string
	for rows.Next() {
		var folder string
		if err := rows.Scan(&folder); err != nil {
			return nil, errors.Wrap(err, "storage: scan folder")
		}
		folders = append(folders, folder)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "storage: iterate folders")
	}
	return folders, nil
}

// likePrefix escapes LIKE metacharacters in prefix and appends a wildcard.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

var _ domain.ObjectStore = (*PostgresStore)(nil)
