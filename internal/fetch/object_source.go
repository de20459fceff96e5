package fetch

import (
	"context"
	"fmt"
	"io"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"riffle/internal/artifact"
)

// ObjectConfig connects the object source to an S3-compatible store
// holding producer spills.
type ObjectConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// SizeCacheEntries bounds the stat cache. Zero means 1024.
	SizeCacheEntries int
}

// ObjectSource streams spills out of an S3-compatible object store.
// Object lengths learned from stat calls are kept in an LRU so repeated
// size lookups for the same spill do not hit the store again.
type ObjectSource struct {
	client *minio.Client
	bucket string
	sizes  *lru.Cache[string, int64]
}

func NewObjectSource(cfg ObjectConfig) (*ObjectSource, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object source endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("object source access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object source bucket is required")
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
		return nil, fmt.Errorf("init object client: %w", err)
	}

	entries := cfg.SizeCacheEntries
	if entries <= 0 {
		entries = 1024
	}
	sizes, err := lru.New[string, int64](entries)
	if err != nil {
		return nil, fmt.Errorf("init size cache: %w", err)
	}

	return &ObjectSource{client: client, bucket: bucket, sizes: sizes}, nil
}

// ObjectKey is the store layout for a spill: spills/p<part>/a<attempt>/s<spill>.
func ObjectKey(o artifact.Origin) string {
	return "spills/" + o.String()
}

func (s *ObjectSource) key(req Request) string {
	if k := strings.TrimSpace(req.Key); k != "" {
		return k
	}
	return ObjectKey(req.Origin)
}

// Open stats the object, caches its length, and returns the object
// stream. A missing object maps to ErrNoSuchSpill.
func (s *ObjectSource) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	key := s.key(req)
	if _, err := s.stat(ctx, key); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return obj, nil
}

// SpillSize reports the spill's object length, from cache when
// possible.
func (s *ObjectSource) SpillSize(ctx context.Context, req Request) (int64, error) {
	key := s.key(req)
	if size, ok := s.sizes.Get(key); ok {
		return size, nil
	}
	return s.stat(ctx, key)
}

func (s *ObjectSource) stat(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return 0, fmt.Errorf("object %s: %w", key, ErrNoSuchSpill)
		}
		return 0, fmt.Errorf("stat object %s: %w", key, err)
	}
	s.sizes.Add(key, info.Size)
	return info.Size, nil
}
