package storage

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/ghodss/yaml"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
)

const (
	DownloaderMaxConcurrency = 5                // parallel downloads per Fetch call
	DownloaderMaxPartSize    = 32 * 1024 * 1024 // 32 MB per part
)

type S3Config struct {
	Region   string
	Endpoint string // non-empty for minio / localstack style deployments
	AccessID string
	Secret   string

	// WorkDir receives the downloaded bundle contents, one subdirectory
	// per test id. Defaults to the OS temp dir.
	WorkDir string
}

// S3 implements Functions against AWS S3 (or any S3-compatible endpoint).
type S3 struct {
	cfg     S3Config
	session *session.Session
	log     zerolog.Logger
}

type credentialsProvider struct {
	accessID, secret string
}

func (p *credentialsProvider) Retrieve() (credentials.Value, error) {
	return credentials.Value{
		AccessKeyID:     p.accessID,
		SecretAccessKey: p.secret,
	}, nil
}

func (p *credentialsProvider) IsExpired() bool { return false }

func NewS3(cfg S3Config, logger zerolog.Logger) (*S3, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.AccessID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewCredentials(&credentialsProvider{cfg.AccessID, cfg.Secret}))
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	s, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &S3{cfg: cfg, session: s, log: logger.With().Str("component", "s3").Logger()}, nil
}

func (c *S3) Fetch(ctx context.Context, testID uuid.UUID, bucket string) (*directive.BlockStorageDirective, error) {
	svc := s3.New(c.session)
	prefix := path.Join("tests", testID.String()) + "/"

	keys, err := c.listKeys(ctx, svc, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list bundle objects: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no bundle found under s3://%s/%s", bucket, prefix)
	}

	local := filepath.Join(c.cfg.WorkDir, testID.String())
	var manifest []byte
	for _, key := range keys {
		body, err := c.download(ctx, svc, bucket, key)
		if err != nil {
			return nil, err
		}
		rel := strings.TrimPrefix(key, prefix)
		dst := filepath.Join(local, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, body, 0o644); err != nil {
			return nil, err
		}
		if rel == "test-config.yaml" || rel == "test-config.yml" || rel == "test-config.json" {
			manifest = body
		}
	}
	if manifest == nil {
		return nil, fmt.Errorf("bundle has no test-config.(yaml|json) under s3://%s/%s", bucket, prefix)
	}

	var bsd directive.BlockStorageDirective
	if err := yaml.Unmarshal(manifest, &bsd); err != nil {
		return nil, fmt.Errorf("parse test-config: %w", err)
	}
	if bsd.Bucket == "" {
		bsd.Bucket = bucket
	}
	if bsd.EvidenceDir == "" {
		bsd.EvidenceDir = filepath.Join(local, "evidence")
	}
	c.log.Debug().Str("test", testID.String()).Int("objects", len(keys)).Msg("bundle fetched")
	return &bsd, nil
}

func (c *S3) Store(ctx context.Context, testID uuid.UUID, bucket, evidenceDir string) error {
	uploader := s3manager.NewUploader(c.session)
	prefix := path.Join("tests", testID.String(), "evidence")

	return filepath.WalkDir(evidenceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(evidenceDir, p)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		if _, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body),
		}); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		return nil
	})
}

func (c *S3) listKeys(ctx context.Context, svc *s3.S3, bucket, prefix string) ([]string, error) {
	input := &s3.ListObjectsInput{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	var keys []string
	err := svc.ListObjectsPagesWithContext(ctx, input, func(page *s3.ListObjectsOutput, lastPage bool) bool {
		for _, o := range page.Contents {
			keys = append(keys, *o.Key)
		}
		return !lastPage
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *S3) download(ctx context.Context, svc *s3.S3, bucket, key string) ([]byte, error) {
	downloader := s3manager.NewDownloaderWithClient(svc, func(d *s3manager.Downloader) {
		d.Concurrency = DownloaderMaxConcurrency
		d.PartSize = DownloaderMaxPartSize
	})
	buf := &aws.WriteAtBuffer{}
	if _, err := downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return buf.Bytes(), nil
}
