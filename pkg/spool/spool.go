// Package spool keeps the CSV of failed bulk batches so they can be retried
// later. Batches go to a local directory or to an S3 bucket.
package spool

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/compression"
	"github.com/ajitpratap0/orbit/pkg/errors"
)

// Spool stores one named payload and returns where it was written.
type Spool interface {
	Store(ctx context.Context, key string, data []byte) (location string, err error)
}

// Spool kinds.
const (
	KindNone = ""
	KindDir  = "dir"
	KindS3   = "s3"
)

// Config selects and configures a spool.
type Config struct {
	Type   string `yaml:"type"`
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
	// Compression is applied to every payload before it is stored.
	Compression compression.Algorithm `yaml:"compression"`
}

// Validate checks that the selected spool has what it needs.
func (c Config) Validate() error {
	if !compression.Valid(c.Compression) {
		return errors.Newf(errors.ErrorTypeConfig, "unknown spool.compression %q", c.Compression)
	}
	switch c.Type {
	case KindNone:
		return nil
	case KindDir:
		if c.Dir == "" {
			return errors.New(errors.ErrorTypeConfig, "spool.dir is required for a dir spool")
		}
	case KindS3:
		if c.Bucket == "" {
			return errors.New(errors.ErrorTypeConfig, "spool.bucket is required for an s3 spool")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown spool type %q", c.Type)
	}
	return nil
}

// New builds the spool described by cfg. It returns nil when spooling is
// disabled.
func New(ctx context.Context, cfg Config, log *zap.Logger) (Spool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var inner Spool
	switch cfg.Type {
	case KindDir:
		d, err := NewDir(cfg.Dir, log)
		if err != nil {
			return nil, err
		}
		inner = d
	case KindS3:
		s, err := NewS3(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		inner = s
	default:
		return nil, nil
	}

	if cfg.Compression == "" || cfg.Compression == compression.None {
		return inner, nil
	}
	c, err := compression.NewCompressor(&compression.Config{Algorithm: cfg.Compression, Level: compression.Default})
	if err != nil {
		return nil, err
	}
	return Compressed(inner, c), nil
}

// Compressed wraps a spool so payloads are compressed with c before they are
// stored. The key gets the codec's file extension.
func Compressed(inner Spool, c compression.Compressor) Spool {
	return &compressed{inner: inner, codec: c}
}

type compressed struct {
	inner Spool
	codec compression.Compressor
}

func (c *compressed) Store(ctx context.Context, key string, data []byte) (string, error) {
	packed, err := c.codec.Compress(data)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress spooled payload")
	}
	return c.inner.Store(ctx, key+c.codec.Extension(), packed)
}

// Dir writes payloads below a root directory.
type Dir struct {
	root   string
	logger *zap.Logger
}

// NewDir creates root if needed.
func NewDir(root string, log *zap.Logger) (*Dir, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid spool directory")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create spool directory")
	}
	return &Dir{root: abs, logger: log.With(zap.String("component", "spool"))}, nil
}

// Root returns the absolute spool directory.
func (d *Dir) Root() string { return d.root }

// Store writes data to root/key and returns the file path.
func (d *Dir) Store(_ context.Context, key string, data []byte) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	path := filepath.Join(d.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to create spool directory")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // spooled CSV is not secret
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to write spool file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to write spool file")
	}

	d.logger.Debug("spooled", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// cleanKey rejects keys escaping the spool root.
func cleanKey(key string) (string, error) {
	clean := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+key)), "/")
	if key == "" || clean == "" || clean == "." {
		return "", errors.New(errors.ErrorTypeValidation, "empty spool key")
	}
	return clean, nil
}
