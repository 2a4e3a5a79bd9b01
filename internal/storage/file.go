// Package storage provides the byte-addressable file primitive the WAL and
// heap segment are built on: a flat, growable byte array with random-access
// read/write and explicit resize.
package storage

import (
	"os"

	"github.com/pkg/errors"
)

// FileStore is random-access byte storage with explicit resizing. It makes
// no durability promises beyond what the underlying OS file offers; callers
// that need fsync semantics call Sync explicitly.
type FileStore interface {
	Size() (int64, error)
	Resize(newSize int64) error
	ReadBlock(offset int64, out []byte) error
	WriteBlock(in []byte, offset int64) error
	Sync() error
	Close() error
}

// OSFileStore is a FileStore backed by a single *os.File. It deliberately
// holds no internal write buffer and performs no background flushing or
// segmentation: every WriteBlock lands directly via WriteAt, and growth goes
// through Truncate.
type OSFileStore struct {
	f *os.File
}

// OpenFileStore opens (creating if necessary) a single file at path as the
// backing store for a WAL or heap segment.
func OpenFileStore(path string) (*OSFileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open file store %q", path)
	}
	return &OSFileStore{f: f}, nil
}

func (s *OSFileStore) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat file store")
	}
	return info.Size(), nil
}

func (s *OSFileStore) Resize(newSize int64) error {
	if err := s.f.Truncate(newSize); err != nil {
		return errors.Wrapf(err, "resize file store to %d", newSize)
	}
	return nil
}

func (s *OSFileStore) ReadBlock(offset int64, out []byte) error {
	n, err := s.f.ReadAt(out, offset)
	if err != nil && n != len(out) {
		return errors.Wrapf(err, "read block at %d len %d", offset, len(out))
	}
	return nil
}

func (s *OSFileStore) WriteBlock(in []byte, offset int64) error {
	if _, err := s.f.WriteAt(in, offset); err != nil {
		return errors.Wrapf(err, "write block at %d len %d", offset, len(in))
	}
	return nil
}

func (s *OSFileStore) Sync() error {
	if err := s.f.Sync(); err != nil {
		return errors.Wrap(err, "sync file store")
	}
	return nil
}

func (s *OSFileStore) Close() error {
	if err := s.f.Close(); err != nil {
		return errors.Wrap(err, "close file store")
	}
	return nil
}
