/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// attached tracks the buffer roles held by this process. Keys are "<role>/<name>".
var attached = cmap.New[*attachment]()

type attachment struct {
	name string
	role Role
}

func registryKey(name string, role Role) string {
	return string(role) + "/" + name
}

// claim registers role on name for this process. It fails if a Writer or
// Reader in this process already holds the same role.
func claim(name string, role Role) (release func(), err error) {
	key := registryKey(name, role)
	if !attached.SetIfAbsent(key, &attachment{name: name, role: role}) {
		if role == RoleWriter {
			return nil, ErrWriterAlreadyConnected
		}
		return nil, ErrReaderAlreadyConnected
	}
	return func() { attached.Remove(key) }, nil
}

// holds reports whether this process holds role on name.
func holds(name string, role Role) bool {
	return attached.Has(registryKey(name, role))
}

// Attached lists the buffer names this process has open in the given role.
func Attached(role Role) []string {
	var names []string
	for item := range attached.IterBuffered() {
		if item.Val.role == role {
			names = append(names, item.Val.name)
		}
	}
	return names
}
