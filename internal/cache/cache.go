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

// Package cache provides cache implementations for the keyfs VFS layer.
//
// Caches are keyed by storage key and owned by one FS instance; the FS
// invalidates entries on every mutation it performs. Mutations made by other
// writers on the same backend become visible after the TTL.
package cache

import "os"

// Disabled turns every cache into a permanent miss.
// Set via KEYFS_CACHE=0 environment variable.
var Disabled = os.Getenv("KEYFS_CACHE") == "0"
