package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/tencentyun/cos-go-sdk-v5"

	"github.com/dbslice/dbslice/pkg/compression"
)

// COSConfig holds the Tencent Cloud COS connection settings for a sink.
type COSConfig struct {
	Bucket    string
	Region    string
	SecretID  string
	SecretKey string
	Domain    string // e.g., "myqcloud.com"
	Scheme    string // e.g., "https" or "http"
}

// COSSink implements Sink against a Tencent Cloud COS bucket. Like
// DirSink, every open stream holds the sink's mutex until Close.
type COSSink struct {
	client     *cos.Client
	bucket     string
	region     string
	domain     string
	scheme     string
	compressor compression.Compressor
	mu         sync.Mutex
}

// NewCOSSink creates a new COSSink.
func NewCOSSink(cfg *COSConfig, compressor compression.Compressor) (*COSSink, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("bucket and region are required for COS sink")
	}
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("credentials are required for COS sink")
	}

	domain := cfg.Domain
	if domain == "" {
		domain = "myqcloud.com"
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}

	bucketURL, err := url.Parse(fmt.Sprintf("%s://%s.cos.%s.%s", scheme, cfg.Bucket, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bucket URL: %w", err)
	}
	serviceURL, err := url.Parse(fmt.Sprintf("%s://cos.%s.%s", scheme, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("failed to parse service URL: %w", err)
	}

	client := cos.NewClient(&cos.BaseURL{
		BucketURL:  bucketURL,
		ServiceURL: serviceURL,
	}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})

	return &COSSink{
		client:     client,
		bucket:     cfg.Bucket,
		region:     cfg.Region,
		domain:     domain,
		scheme:     scheme,
		compressor: compressor,
	}, nil
}

// OpenSegment acquires the sink mutex and returns a writer for the
// segment at (tableID, index).
func (s *COSSink) OpenSegment(ctx context.Context, tableID string, index int) (io.WriteCloser, error) {
	return s.open(ctx, segmentKey(tableID, index))
}

// OpenManifest acquires the sink mutex and returns a writer for the
// manifest blob.
func (s *COSSink) OpenManifest(ctx context.Context) (io.WriteCloser, error) {
	return s.open(ctx, manifestKey)
}

func (s *COSSink) open(ctx context.Context, key string) (io.WriteCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	return newBufferedCompressWriter(s.compressor, func(data []byte) error {
		defer s.mu.Unlock()
		_, err := s.client.Object.Put(ctx, key, bytes.NewReader(data), nil)
		if err != nil {
			return fmt.Errorf("failed to upload to COS: %w", err)
		}
		return nil
	}), nil
}

// OpenSegmentReader opens a previously-written segment for reading.
func (s *COSSink) OpenSegmentReader(ctx context.Context, tableID string, index int) (io.ReadCloser, error) {
	return s.openReader(ctx, segmentKey(tableID, index))
}

// OpenManifestReader opens the manifest blob for reading.
func (s *COSSink) OpenManifestReader(ctx context.Context) (io.ReadCloser, error) {
	return s.openReader(ctx, manifestKey)
}

func (s *COSSink) openReader(ctx context.Context, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	resp, err := s.client.Object.Get(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download from COS: %w", err)
	}
	return decompressReader(resp.Body, s.compressor)
}

// URL returns the public URL for the given key, useful for diagnostics.
func (s *COSSink) URL(key string) string {
	return fmt.Sprintf("%s://%s.cos.%s.%s/%s", s.scheme, s.bucket, s.region, s.domain, key)
}
