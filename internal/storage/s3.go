package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cockroachdb/errors"

	"shortforge/internal/domain"
)

// S3Config locates the bucket. Endpoint is only set for S3-compatible
// services and tests.
type S3Config struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
}

// S3Store keeps folders as key prefixes in an S3 bucket.
type S3Store struct {
	svc *s3.S3
	cfg S3Config
}

// NewS3Store builds a client from the default credential chain.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "storage: aws session")
	}
	return NewS3StoreWithClient(s3.New(sess), cfg), nil
}

func NewS3StoreWithClient(svc *s3.S3, cfg S3Config) *S3Store {
	return &S3Store{svc: svc, cfg: cfg}
}

func (s *S3Store) Write(ctx context.Context, folder, filename string, data []byte) (string, error) {
	key, err := objectKey(s.cfg.Prefix, folder, filename)
	if err != nil {
		return "", err
	}
	_, err = s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(filename)),
	})
	if err != nil {
		return "", errors.Wrapf(err, "storage: s3 put %s", key)
	}
	return fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key), nil
}

func (s *S3Store) Read(ctx context.Context, folder, glob string) ([]domain.File, error) {
	f, err := sanitizeSegment("folder", folder)
	if err != nil {
		return nil, err
	}
	var keys []string
	var matchErr error
	err = s.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(joinPrefix(s.cfg.Prefix, f+"/"+literalPrefix(glob))),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			_, name, ok := splitKey(s.cfg.Prefix, aws.StringValue(obj.Key))
			if !ok {
				continue
			}
			match, err := matchGlob(glob, name)
			if err != nil {
				matchErr = err
				return false
			}
			if match {
				keys = append(keys, aws.StringValue(obj.Key))
			}
		}
		return true
	})
	if matchErr != nil {
		return nil, matchErr
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: s3 list")
	}

	files := make([]domain.File, 0, len(keys))
	for _, key := range keys {
		out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "storage: s3 get %s", key)
		}
		data, err := io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "storage: s3 read %s", key)
		}
		_, name, _ := splitKey(s.cfg.Prefix, key)
		files = append(files, domain.File{Name: name, Data: data})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (s *S3Store) ListFolders(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.cfg.Bucket)}
	if p := strings.Trim(s.cfg.Prefix, "/"); p != "" {
		input.Prefix = aws.String(p + "/")
	}
	created := map[string]time.Time{}
	err := s.svc.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			folder, _, ok := splitKey(s.cfg.Prefix, aws.StringValue(obj.Key))
			if !ok {
				continue
			}
			noteCreated(created, folder, aws.TimeValue(obj.LastModified))
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "storage: s3 list")
	}
	return newestFirst(created), nil
}

var _ domain.ObjectStore = (*S3Store)(nil)
