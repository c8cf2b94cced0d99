// Copyright 2024 LatentFS Authors
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

// Package storage provides flat, prefix-addressable key spaces with
// handle-based random-access I/O.
//
// Keys are opaque strings that must not contain '/'. There is no notion of
// directories at this layer; callers emulate them on top of ListByPrefix.
package storage

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"
)

// Attributes is the metadata a backend keeps per entry.
type Attributes struct {
	Size             int64
	ModificationTime time.Time
}

// Handle is an open entry in the key space.
type Handle interface {
	// Read returns up to length bytes starting at position. A short (or
	// empty) result means end of entry.
	Read(position int64, length int) ([]byte, error)
	// Write stores data at position, extending the entry if needed.
	Write(data []byte, position int64) (int, error)
	Close() error
	GetAttributes() (Attributes, error)
	// SetAttributes applies attrs.Size (truncate or zero-extend). Other
	// fields are ignored.
	SetAttributes(attrs Attributes) error
}

// Backend is a flat key space.
type Backend interface {
	// Open returns a handle for key. When create is true a missing key is
	// created empty; otherwise a missing key fails with ENOENT.
	Open(key string, create bool) (Handle, error)
	// SetAttributes is the key-level variant of Handle.SetAttributes.
	SetAttributes(key string, attrs Attributes) error
	Exists(key string) (bool, error)
	// Rename moves oldKey to newKey, replacing newKey if it exists.
	Rename(oldKey, newKey string) error
	Unlink(key string) error
	// ListByPrefix returns every key starting with prefix, in key order.
	ListByPrefix(prefix string) ([]string, error)
}

// BackendError is a coded failure produced by a backend. Code follows the
// backend binding convention of a negated errno (e.g. -ENOENT).
type BackendError struct {
	Op   string
	Key  string
	Code int
	Err  error // underlying driver error, if any
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("storage: %s %q: code %d", e.Op, e.Key, e.Code)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }

// newError builds a BackendError for errno.
func newError(op, key string, errno syscall.Errno) *BackendError {
	return &BackendError{Op: op, Key: key, Code: -int(errno)}
}

// wrapError turns a driver failure into an EIO BackendError. Errors that
// already are BackendErrors pass through.
func wrapError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Key: key, Code: -int(syscall.EIO), Err: err}
}

// CodeOf reports the errno carried by err when it is a BackendError.
func CodeOf(err error) (syscall.Errno, bool) {
	var be *BackendError
	if !errors.As(err, &be) || be == nil {
		return 0, false
	}
	return syscall.Errno(-be.Code), true
}

// validateKey rejects keys the flat key space cannot hold.
func validateKey(op, key string) error {
	if key == "" || strings.Contains(key, "/") {
		return newError(op, key, syscall.EINVAL)
	}
	return nil
}

// resize returns data truncated or zero-extended to size.
func resize(data []byte, size int64) []byte {
	if size <= int64(len(data)) {
		return data[:size]
	}
	grown := make([]byte, size)
	copy(grown, data)
	return grown
}

// writeAt splices p into data at position, zero-filling any gap.
func writeAt(data, p []byte, position int64) []byte {
	end := position + int64(len(p))
	if end > int64(len(data)) {
		data = resize(data, end)
	}
	copy(data[position:end], p)
	return data
}

// readAt returns at most length bytes of data starting at position.
func readAt(data []byte, position int64, length int) []byte {
	if position >= int64(len(data)) || length <= 0 {
		return []byte{}
	}
	end := position + int64(length)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	out := make([]byte, end-position)
	copy(out, data[position:end])
	return out
}
