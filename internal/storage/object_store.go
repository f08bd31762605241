package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"imagedrop/internal/config"
)

// ObjectStore keeps blobs in an S3 compatible bucket. PutObject only makes an
// object visible once the upload completes, which gives the same publish
// guarantee as DiskStore's rename.
type ObjectStore struct {
	client *minio.Client
	bucket string
	region string
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Ensure creates the bucket when it does not exist yet.
func (s *ObjectStore) Ensure(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *ObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (PutResult, error) {
	if err := validateKey(key); err != nil {
		return PutResult{}, err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err == nil {
		return PutResult{}, fmt.Errorf("%w: %s", ErrBlobExists, key)
	} else if !isNoSuchKey(err) {
		return PutResult{}, fmt.Errorf("stat object: %w", err)
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("put object: %w", err)
	}
	return PutResult{Key: key, SizeBytes: info.Size}, nil
}

func (s *ObjectStore) Open(ctx context.Context, key string) (Object, error) {
	if err := validateKey(key); err != nil {
		return Object{}, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, fmt.Errorf("get object: %w", err)
	}
	// GetObject is lazy; Stat surfaces a missing key before any bytes are sent.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return Object{}, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return Object{}, fmt.Errorf("stat object: %w", err)
	}
	return Object{Body: obj, SizeBytes: info.Size}, nil
}

func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *ObjectStore) Walk(ctx context.Context, fn func(ObjectInfo) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list objects: %w", obj.Err)
		}
		if err := fn(ObjectInfo{
			Key:          obj.Key,
			SizeBytes:    obj.Size,
			LastModified: obj.LastModified,
		}); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
