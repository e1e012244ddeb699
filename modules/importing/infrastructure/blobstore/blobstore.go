// Package blobstore keeps raw package bytes: a mutable incoming area and an
// immutable zstd archive written once a package is committed.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

var ErrNotFound = errors.New("package blob not found")

type FileStore struct {
	incomingDir string
	archiveDir  string
}

func NewFileStore(incomingDir, archiveDir string) (*FileStore, error) {
	for _, dir := range []string{incomingDir, archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create blob dir %s: %w", dir, err)
		}
	}
	return &FileStore{incomingDir: incomingDir, archiveDir: archiveDir}, nil
}

func (s *FileStore) incomingPath(id uuid.UUID) string {
	return filepath.Join(s.incomingDir, id.String()+".pkg")
}

func (s *FileStore) archivePath(id uuid.UUID) string {
	return filepath.Join(s.archiveDir, id.String()+".pkg.zst")
}

func writeAtomic(target string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// PutIncoming stores the uploaded bytes and returns their location.
func (s *FileStore) PutIncoming(ctx context.Context, id uuid.UUID, raw []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := s.incomingPath(id)
	if err := writeAtomic(target, raw, 0o640); err != nil {
		return "", fmt.Errorf("store incoming package: %w", err)
	}
	return target, nil
}

func (s *FileStore) ReadIncoming(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.incomingPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Archive compresses the incoming bytes into a read-only archive file and
// drops the incoming copy. Archiving twice keeps the first archive.
func (s *FileStore) Archive(ctx context.Context, id uuid.UUID) (string, error) {
	target := s.archivePath(id)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	raw, err := s.ReadIncoming(ctx, id)
	if err != nil {
		return "", err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return "", err
	}
	defer enc.Close()
	if err := writeAtomic(target, enc.EncodeAll(raw, nil), 0o444); err != nil {
		return "", fmt.Errorf("archive package: %w", err)
	}
	if err := os.Remove(s.incomingPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	return target, nil
}

// OpenArchive streams the decompressed archived package.
func (s *FileStore) OpenArchive(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.archivePath(id))
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
	return &archiveReader{dec: dec, file: f}, nil
}

// DeleteIncoming removes the incoming copy, if any.
func (s *FileStore) DeleteIncoming(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.incomingPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type archiveReader struct {
	dec  *zstd.Decoder
	file *os.File
}

func (r *archiveReader) Read(p []byte) (int, error) { return r.dec.Read(p) }

func (r *archiveReader) Close() error {
	r.dec.Close()
	return r.file.Close()
}
