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

// Package common holds slash-path helpers shared by the keyfs front ends.
// Paths are always relative to the mount root and never escape it.
package common

import (
	"path"
	"strings"
)

// NormalizePath cleans p as if rooted at the mount root and strips the
// leading slash. The root itself normalizes to "".
func NormalizePath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// SplitPath splits a path into its components
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// ParentPath returns the parent directory of a path ("" for the root).
func ParentPath(p string) string {
	p = NormalizePath(p)
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// BaseName returns the last component of a path ("" for the root).
func BaseName(p string) string {
	p = NormalizePath(p)
	return p[strings.LastIndex(p, "/")+1:]
}
