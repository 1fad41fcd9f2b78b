// Package archive uploads dispatch results to S3-compatible object storage
// for audit. Archiving is best-effort: failures are logged by callers and
// never fail a job.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"doraemon/internal/queue"
	"doraemon/internal/types"
)

// Config carries the object-storage settings.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store writes result objects under results/<repo>/<sha>.json.
type Store struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive: endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("archive: access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: init client: %w", err)
	}
	return &Store{client: client, bucket: bucket, region: region}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Put stores one dispatch result.
func (s *Store) Put(ctx context.Context, res types.DispatchResult) error {
	if s == nil {
		return nil
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("archive: ensure bucket: %w", err)
	}
	content, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("archive: marshal result: %w", err)
	}
	key := ObjectKey(res.RepoName, res.Sha)
	_, err = s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

// Tee decorates a queue so every dispatch result is also archived.
// Archive failures are logged and swallowed; the dispatch itself decides
// the job's fate.
type Tee struct {
	queue.Queue
	store *Store
	log   *slog.Logger
}

func NewTee(q queue.Queue, store *Store, log *slog.Logger) *Tee {
	if log == nil {
		log = slog.Default()
	}
	return &Tee{Queue: q, store: store, log: log}
}

func (t *Tee) PublishDispatch(ctx context.Context, res types.DispatchResult) error {
	if err := t.Queue.PublishDispatch(ctx, res); err != nil {
		return err
	}
	if err := t.store.Put(ctx, res); err != nil {
		t.log.Warn("archive: result upload failed", "repo", res.RepoName, "sha", res.Sha, "err", err)
	}
	return nil
}

// ObjectKey maps a result onto its object name.
func ObjectKey(repo, sha string) string {
	repo = strings.ReplaceAll(strings.TrimSpace(repo), "..", "")
	if repo == "" {
		repo = "unknown"
	}
	if sha = strings.TrimSpace(sha); sha == "" {
		sha = "unknown"
	}
	return fmt.Sprintf("results/%s/%s.json", repo, sha)
}
