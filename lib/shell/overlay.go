// Copyright 2026 Gravitational, Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shell

import (
	"sort"
	"strings"
	"time"
)

// Overlay is a per-session copy-on-write view over the shared, immutable
// FS. Writes never touch the base tree; they live only in the overlay,
// which is discarded when the session ends.
type Overlay struct {
	base    *FS
	writes  map[string]*Node // nil value means "deleted"
	renamed map[string]bool
}

// NewOverlay wraps base for one session.
func NewOverlay(base *FS) *Overlay {
	return &Overlay{
		base:   base,
		writes: make(map[string]*Node),
	}
}

// Lookup resolves a path through the overlay first, falling back to the
// shared base tree.
func (o *Overlay) Lookup(p string) (*Node, bool) {
	p = normalize(p)
	if n, ok := o.writes[p]; ok {
		if n == nil {
			return nil, false
		}
		return n, true
	}
	return o.base.Lookup(p)
}

// Write records a file or directory write in the overlay.
func (o *Overlay) Write(p string, n *Node) {
	o.writes[normalize(p)] = n
}

// Delete marks a path as removed in the overlay, without touching base.
func (o *Overlay) Delete(p string) {
	o.writes[normalize(p)] = nil
}

// List returns the sorted, deduplicated union of base and overlay entries
// for a directory, honoring overlay deletions.
func (o *Overlay) List(dir string) ([]string, bool) {
	dir = normalize(dir)
	if n, ok := o.Lookup(dir); !ok || n.Kind != NodeDir {
		return nil, false
	}

	names := map[string]bool{}
	if baseNames, ok := o.base.List(dir); ok {
		for _, n := range baseNames {
			names[n] = true
		}
	}

	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	for p, n := range o.writes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		if n == nil {
			delete(names, rest)
		} else {
			names[rest] = true
		}
	}

	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, true
}

// Mkdir creates an empty directory node in the overlay.
func (o *Overlay) Mkdir(p string) {
	o.Write(p, &Node{Kind: NodeDir, Mode: 0755, ModTime: time.Now()})
}

// WriteFile creates or replaces a file node in the overlay.
func (o *Overlay) WriteFile(p string, content []byte) {
	o.Write(p, &Node{Kind: NodeFile, Content: content, Mode: 0644, ModTime: time.Now()})
}
