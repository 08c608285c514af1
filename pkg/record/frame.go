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

package record

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame so a corrupt length prefix cannot make
// a reader allocate unbounded memory.
const MaxFrameSize = 16 << 20

var (
	// ErrFrameTooLarge is returned when a frame's length prefix exceeds
	// MaxFrameSize.
	ErrFrameTooLarge = errors.New("record: frame exceeds size limit")
)

// WriteFrame appends one length-prefixed record to w and returns the number
// of bytes written. The prefix is a uvarint byte count followed by the JSON
// body, so files are streams of self-delimiting frames.
func WriteFrame(w io.Writer, v any) (int64, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("record: marshal frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return 0, ErrFrameTooLarge
	}
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(body)))
	if _, err := w.Write(prefix[:n]); err != nil {
		return 0, err
	}
	if _, err := w.Write(body); err != nil {
		return int64(n), err
	}
	return int64(n + len(body)), nil
}

// ReadFrame reads the next frame from r into v. It returns io.EOF when the
// stream is cleanly exhausted and io.ErrUnexpectedEOF when a frame is
// truncated mid-body.
func ReadFrame(r *bufio.Reader, v any) error {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("record: read frame prefix: %w", err)
	}
	if size > MaxFrameSize {
		return ErrFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return io.ErrUnexpectedEOF
		}
		return fmt.Errorf("record: read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("record: decode frame: %w", err)
	}
	return nil
}

// DecodeAll reads every frame from r into values of type T until EOF.
func DecodeAll[T any](r io.Reader) ([]T, error) {
	br := bufio.NewReader(r)
	var out []T
	for {
		var v T
		err := ReadFrame(br, &v)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}
