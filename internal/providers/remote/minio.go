package remote

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"genimage/internal/domain"
)

// ObjectStoreOptions configures the S3-compatible backing store.
type ObjectStoreOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	TTL       time.Duration
}

// ObjectStore serves remote refs out of an S3-compatible bucket. The URI in
// each ref is a presigned GET link, so expiry is enforced by the store
// itself rather than by us.
type ObjectStore struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

var _ Service = (*ObjectStore)(nil)

// NewObjectStore connects to the object store. Endpoints may be given with or
// without a scheme; a scheme overrides the UseSSL flag.
func NewObjectStore(opts ObjectStoreOptions) (*ObjectStore, error) {
	endpoint := opts.Endpoint
	useSSL := opts.UseSSL
	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("remote: parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: useSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: init object store: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &ObjectStore{client: client, bucket: opts.Bucket, ttl: ttl, now: time.Now}, nil
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("remote: bucket exists %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("remote: create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *ObjectStore) Upload(ctx context.Context, data []byte, mime string) (domain.RemoteRef, error) {
	key := "uploads/" + uuid.NewString()
	if mime == "" {
		mime = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mime})
	if err != nil {
		return domain.RemoteRef{}, fmt.Errorf("remote: put object: %w", err)
	}
	return s.presign(ctx, key)
}

func (s *ObjectStore) Get(ctx context.Context, id string) (domain.RemoteRef, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{}); err != nil {
		if isMissingObject(err) {
			return domain.RemoteRef{}, fmt.Errorf("remote: object %s: %w", id, domain.ErrNotFound)
		}
		return domain.RemoteRef{}, fmt.Errorf("remote: stat object %s: %w", id, err)
	}
	return s.presign(ctx, id)
}

// Delete removes the object. Unknown ids are not an error.
func (s *ObjectStore) Delete(ctx context.Context, id string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil && !isMissingObject(err) {
		return fmt.Errorf("remote: remove object %s: %w", id, err)
	}
	return nil
}

func (s *ObjectStore) presign(ctx context.Context, key string) (domain.RemoteRef, error) {
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, nil)
	if err != nil {
		return domain.RemoteRef{}, fmt.Errorf("remote: presign %s: %w", key, err)
	}
	return domain.RemoteRef{
		ID:        key,
		URI:       signed.String(),
		ExpiresAt: s.now().Add(s.ttl),
	}, nil
}

func isMissingObject(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404
}
