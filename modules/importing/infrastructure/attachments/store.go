// Package attachments is a filesystem content-addressable store for evidence files.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
	"github.com/iota-uz/field-registry/pkg/logging"
)

var ErrNotFound = errors.New("attachment not found")

// FileStore keeps each blob once, zstd compressed, at dir/ab/cd/<hash>.zst.
type FileStore struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	log     *logrus.Entry
}

type Option func(*FileStore)

func WithLogger(log *logrus.Entry) Option {
	return func(s *FileStore) {
		if log != nil {
			s.log = log
		}
	}
}

func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	s := &FileStore{dir: dir, encoder: encoder, decoder: decoder, log: logging.NopEntry()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FileStore) path(hash string) (string, error) {
	if len(hash) != 64 {
		return "", fmt.Errorf("invalid content hash %q", hash)
	}
	return filepath.Join(s.dir, hash[0:2], hash[2:4], hash+".zst"), nil
}

// Store writes data under its BLAKE3 hash. Storing the same bytes twice is a no-op.
func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := packagecodec.HashBytes(data)
	target, err := s.path(hash)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".incoming-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(s.encoder.EncodeAll(data, nil)); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"hash": hash, "size": len(data)}).Debug("attachment stored")
	return hash, nil
}

func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target, err := s.path(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Open returns the decompressed blob.
func (s *FileStore) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.path(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &blobReader{dec: dec, file: f}, nil
}

// Read returns the whole decompressed blob.
func (s *FileStore) Read(ctx context.Context, hash string) ([]byte, error) {
	target, err := s.path(hash)
	if err != nil {
		return nil, err
	}
	compressed, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.decoder.DecodeAll(compressed, nil)
}

type blobReader struct {
	dec  *zstd.Decoder
	file *os.File
}

func (r *blobReader) Read(p []byte) (int, error) { return r.dec.Read(p) }

func (r *blobReader) Close() error {
	r.dec.Close()
	return r.file.Close()
}
