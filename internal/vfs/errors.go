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

package vfs

import (
	"errors"
	"syscall"

	"keyfs/internal/storage"
)

// VFS error codes mapped to syscall errors
var (
	ENOENT     = syscall.ENOENT     // No such file or directory
	EEXIST     = syscall.EEXIST     // File exists
	ENOTDIR    = syscall.ENOTDIR    // Not a directory
	EISDIR     = syscall.EISDIR     // Is a directory
	EBADF      = syscall.EBADF      // Bad file descriptor
	EINVAL     = syscall.EINVAL     // Invalid argument
	EOPNOTSUPP = syscall.EOPNOTSUPP // Operation not supported
	ENOTTY     = syscall.ENOTTY     // Inappropriate ioctl for device
	EIO        = syscall.EIO        // I/O error
	EPERM      = syscall.EPERM      // Operation not permitted
	EBUSY      = syscall.EBUSY      // Device or resource busy
	ENOTEMPTY  = syscall.ENOTEMPTY  // Directory not empty
)

// Translate maps a backend failure onto the file-tree error space.
//
// A *storage.BackendError becomes the errno it carries; a code that is not a
// negated errno becomes EIO. Any other error is returned unchanged: it is a
// bug in the adapter or the backend binding, not a filesystem condition.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var be *storage.BackendError
	if !errors.As(err, &be) {
		return err
	}
	if be.Code >= 0 {
		return EIO
	}
	return syscall.Errno(-be.Code)
}
