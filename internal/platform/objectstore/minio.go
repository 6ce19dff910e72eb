package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// EnsureEvidenceBucket creates the evidence bucket with object locking, sets
// compliance retention and installs the deny-delete policy. It is safe to rerun.
func EnsureEvidenceBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketEvidence)
	if err != nil {
		return fmt.Errorf("evidence bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketEvidence, minio.MakeBucketOptions{Region: cfg.Region, ObjectLocking: true}); err != nil {
			return fmt.Errorf("make evidence bucket: %w", err)
		}
	}

	mode := minio.Compliance
	validity := uint(cfg.RetentionDays)
	unit := minio.Days
	if err := client.SetObjectLockConfig(ctx, cfg.BucketEvidence, &mode, &validity, &unit); err != nil {
		return fmt.Errorf("set evidence object lock: %w", err)
	}

	policy, err := EvidenceBucketPolicy(cfg.BucketEvidence)
	if err != nil {
		return fmt.Errorf("render evidence policy: %w", err)
	}
	if err := client.SetBucketPolicy(ctx, cfg.BucketEvidence, policy); err != nil {
		return fmt.Errorf("set evidence policy: %w", err)
	}
	return nil
}

func CheckEvidenceBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketEvidence)
	if err != nil {
		return fmt.Errorf("evidence bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("evidence bucket missing: %s", cfg.BucketEvidence)
	}
	return nil
}

// MinIOStore is the production EvidenceStore.
type MinIOStore struct {
	client    *minio.Client
	bucket    string
	retention time.Duration
	now       func() time.Time
}

func NewMinIOStore(client *minio.Client, cfg Config) *MinIOStore {
	if client == nil {
		return nil
	}
	return &MinIOStore{
		client:    client,
		bucket:    cfg.BucketEvidence,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

func (s *MinIOStore) Put(ctx context.Context, key string, body []byte, contentType string) (ObjectInfo, error) {
	if _, err := s.Stat(ctx, key); err == nil {
		return ObjectInfo{}, ErrObjectExists
	} else if !errors.Is(err, ErrObjectNotFound) {
		return ObjectInfo{}, err
	}
	if contentType == "" {
		contentType = "application/json"
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:     contentType,
		Mode:            minio.Compliance,
		RetainUntilDate: s.now().Add(s.retention).UTC(),
		SendContentMd5:  true,
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("put evidence object: %w", err)
	}
	return ObjectInfo{Bucket: s.bucket, Key: key, Size: info.Size, ETag: info.ETag}, nil
}

func (s *MinIOStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get evidence object: %w", mapNotFound(err))
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read evidence object: %w", mapNotFound(err))
	}
	return body, nil
}

func (s *MinIOStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapNotFound(err)
	}
	return ObjectInfo{Bucket: s.bucket, Key: key, Size: info.Size, ETag: info.ETag}, nil
}

func (s *MinIOStore) URI(key string) string {
	return uri(s.bucket, key)
}

func mapNotFound(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return ErrObjectNotFound
	}
	return err
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

var _ EvidenceStore = (*MinIOStore)(nil)
