package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbslice/dbslice/pkg/compression"
	"github.com/dbslice/dbslice/pkg/config"
)

func TestNewCOSSink_Validation(t *testing.T) {
	noop := compression.NewNoOpCompressor()

	t.Run("MissingBucket", func(t *testing.T) {
		cfg := &COSConfig{
			Region:    "ap-guangzhou",
			SecretID:  "test-id",
			SecretKey: "test-key",
		}

		s, err := NewCOSSink(cfg, noop)
		assert.Error(t, err)
		assert.Nil(t, s)
		assert.Contains(t, err.Error(), "bucket and region are required")
	})

	t.Run("MissingRegion", func(t *testing.T) {
		cfg := &COSConfig{
			Bucket:    "test-bucket",
			SecretID:  "test-id",
			SecretKey: "test-key",
		}

		s, err := NewCOSSink(cfg, noop)
		assert.Error(t, err)
		assert.Nil(t, s)
		assert.Contains(t, err.Error(), "bucket and region are required")
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		cfg := &COSConfig{
			Bucket: "test-bucket",
			Region: "ap-guangzhou",
		}

		s, err := NewCOSSink(cfg, noop)
		assert.Error(t, err)
		assert.Nil(t, s)
		assert.Contains(t, err.Error(), "credentials are required")
	})

	t.Run("ValidConfig", func(t *testing.T) {
		cfg := &COSConfig{
			Bucket:    "test-bucket",
			Region:    "ap-guangzhou",
			SecretID:  "test-id",
			SecretKey: "test-key",
		}

		s, err := NewCOSSink(cfg, noop)
		assert.NoError(t, err)
		assert.NotNil(t, s)
	})
}

func TestCOSSink_URL(t *testing.T) {
	cfg := &COSConfig{
		Bucket:    "my-bucket",
		Region:    "ap-guangzhou",
		SecretID:  "test-id",
		SecretKey: "test-key",
	}

	s, err := NewCOSSink(cfg, compression.NewNoOpCompressor())
	require.NoError(t, err)

	url := s.URL(manifestKey)
	expected := "https://my-bucket.cos.ap-guangzhou.myqcloud.com/manifest"
	assert.Equal(t, expected, url)
}

func TestNew_COSSink(t *testing.T) {
	cfg := &config.OutputConfig{
		Type:      "cos",
		Bucket:    "test-bucket",
		Region:    "ap-guangzhou",
		SecretID:  "test-id",
		SecretKey: "test-key",
	}

	s, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, s)

	_, ok := s.(*COSSink)
	assert.True(t, ok)
}

func TestValidateConfig(t *testing.T) {
	t.Run("NilConfig", func(t *testing.T) {
		err := ValidateConfig(nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "output config is nil")
	})

	t.Run("InvalidOutputType", func(t *testing.T) {
		cfg := &config.OutputConfig{Type: "s3"}
		err := ValidateConfig(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported sink type")
	})

	t.Run("COSMissingBucket", func(t *testing.T) {
		cfg := &config.OutputConfig{
			Type:      "cos",
			Region:    "ap-guangzhou",
			SecretID:  "test-id",
			SecretKey: "test-key",
		}
		err := ValidateConfig(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "COS bucket is required")
	})

	t.Run("COSMissingRegion", func(t *testing.T) {
		cfg := &config.OutputConfig{
			Type:      "cos",
			Bucket:    "test-bucket",
			SecretID:  "test-id",
			SecretKey: "test-key",
		}
		err := ValidateConfig(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "COS region is required")
	})

	t.Run("COSMissingCredentials", func(t *testing.T) {
		cfg := &config.OutputConfig{
			Type:   "cos",
			Bucket: "test-bucket",
			Region: "ap-guangzhou",
		}
		err := ValidateConfig(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "COS credentials are required")
	})

	t.Run("DirMissingPath", func(t *testing.T) {
		cfg := &config.OutputConfig{Type: "dir"}
		err := ValidateConfig(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "dir sink requires a path")
	})

	t.Run("ValidCOSConfig", func(t *testing.T) {
		cfg := &config.OutputConfig{
			Type:      "cos",
			Bucket:    "test-bucket",
			Region:    "ap-guangzhou",
			SecretID:  "test-id",
			SecretKey: "test-key",
		}
		err := ValidateConfig(cfg)
		assert.NoError(t, err)
	})

	t.Run("ValidDirConfig", func(t *testing.T) {
		cfg := &config.OutputConfig{
			Type: "dir",
			Path: "/tmp/slice",
		}
		err := ValidateConfig(cfg)
		assert.NoError(t, err)
	})
}
