// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"simflow/pkg/record"
)

// FileStore is the filesystem Store reference implementation. Keys map to
// paths under a root directory. A writer stages frames in a hidden temp
// file next to the final path and publishes with a rename on Close, so a
// reader either sees the complete file or no file at all.
type FileStore struct {
	name string
	root string
}

// NewFileStore creates the root directory if needed and returns a store.
func NewFileStore(name, root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("resource: store %q: root directory is required", name)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("resource: store %q: create root: %w", name, err)
	}
	return &FileStore{name: name, root: root}, nil
}

func (s *FileStore) Name() string { return s.name }

// OpenWriter stages a new writer for key. It fails with ErrKeyExists when
// the key has already been finalized, and with a path error when the key
// escapes the root or its parent directory cannot be created.
func (s *FileStore) OpenWriter(key string) (Writer, error) {
	final, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(final); err == nil {
		return nil, fmt.Errorf("resource: store %q: key %q: %w", s.name, key, ErrKeyExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("resource: store %q: stat %q: %w", s.name, key, err)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("resource: store %q: create parent for %q: %w", s.name, key, err)
	}
	tmp := filepath.Join(filepath.Dir(final), "."+filepath.Base(final)+".tmp."+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("resource: store %q: stage %q: %w", s.name, key, err)
	}
	return &fileWriter{f: f, w: bufio.NewWriter(f), tmp: tmp, final: final}, nil
}

// Open returns the raw byte stream for key.
func (s *FileStore) Open(key string) (ReadCloser, error) {
	final, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(final)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("resource: store %q: key %q: %w", s.name, key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Exists reports whether key has been finalized.
func (s *FileStore) Exists(key string) (bool, error) {
	final, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(final); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Size reports the byte size of a finalized key.
func (s *FileStore) Size(key string) (int64, error) {
	final, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(final)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("resource: store %q: key %q: %w", s.name, key, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *FileStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("resource: store %q: empty key", s.name)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("resource: store %q: key %q escapes root", s.name, key)
	}
	return filepath.Join(s.root, clean), nil
}

type fileWriter struct {
	f     *os.File
	w     *bufio.Writer
	tmp   string
	final string
	bytes int64
	done  bool
}

func (w *fileWriter) WriteRecord(v any) error {
	if w.done {
		return ErrClosed
	}
	n, err := record.WriteFrame(w.w, v)
	w.bytes += n
	return err
}

// Close flushes, fsyncs, and renames the temp file into place. The rename
// is the visibility point: before it the key does not exist, after it the
// content is complete and immutable.
func (w *fileWriter) Close() error {
	if w.done {
		return ErrClosed
	}
	w.done = true
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(w.tmp)
		return err
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(w.tmp)
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmp)
		return err
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		_ = os.Remove(w.tmp)
		return err
	}
	return nil
}

func (w *fileWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return os.Remove(w.tmp)
}

func (w *fileWriter) Bytes() int64 { return w.bytes }

// ReadOne decodes the single record stored under key. A key holding zero
// or more than one frame is an error: batch keys are read with DecodeAll,
// single-record keys (metadata) with ReadOne.
func ReadOne[T any](s Store, key string) (T, error) {
	var zero T
	rc, err := s.Open(key)
	if err != nil {
		return zero, err
	}
	defer rc.Close()
	all, err := record.DecodeAll[T](io.Reader(rc))
	if err != nil {
		return zero, err
	}
	if len(all) != 1 {
		return zero, fmt.Errorf("resource: key %q holds %d records, want exactly 1", key, len(all))
	}
	return all[0], nil
}
