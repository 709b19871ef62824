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

// Package shell implements the Simulated Filesystem (SFS) and the Shell
// Interpreter (SI) that runs over it.
package shell

import (
	"os"
	"path"
	"sort"
	"strings"
	"time"

	radix "github.com/armon/go-radix"

	"github.com/gravitational/trace"
)

// NodeKind distinguishes files from directories in the simulated tree.
type NodeKind int

const (
	NodeFile NodeKind = iota
	NodeDir
)

// Node is one entry in the Simulated Filesystem. Nodes are immutable once
// built; mutation only ever happens in a per-session Overlay.
type Node struct {
	Kind    NodeKind
	Content []byte
	Mode    os.FileMode
	ModTime time.Time
}

// FS is the shared, read-only, immutable filesystem tree. It is loaded
// once at startup (from an archive — loading itself is outside this
// package's responsibility per spec.md §1's Non-goals) and shared by every
// session.
type FS struct {
	tree *radix.Tree
}

// NewFS builds an FS from a flat map of normalized absolute paths to nodes.
// Directory nodes for every ancestor of a given path are synthesized if not
// already present, so callers only need to supply the interesting entries.
func NewFS(nodes map[string]*Node) *FS {
	tree := radix.New()
	for p, n := range nodes {
		tree.Insert(normalize(p), n)
	}
	for p := range nodes {
		for _, ancestor := range ancestors(p) {
			key := normalize(ancestor)
			if _, ok := tree.Get(key); !ok {
				tree.Insert(key, &Node{Kind: NodeDir, Mode: 0755, ModTime: time.Now()})
			}
		}
	}
	if _, ok := tree.Get("/"); !ok {
		tree.Insert("/", &Node{Kind: NodeDir, Mode: 0755})
	}
	return &FS{tree: tree}
}

func normalize(p string) string {
	p = path.Clean("/" + p)
	return p
}

func ancestors(p string) []string {
	p = normalize(p)
	var out []string
	for p != "/" {
		p = path.Dir(p)
		out = append(out, p)
	}
	return out
}

// Lookup returns the node at an absolute path.
func (fs *FS) Lookup(p string) (*Node, bool) {
	n, ok := fs.tree.Get(normalize(p))
	if !ok {
		return nil, false
	}
	return n.(*Node), true
}

// List returns the sorted base names of a directory's direct children.
func (fs *FS) List(dir string) ([]string, bool) {
	n, ok := fs.Lookup(dir)
	if !ok || n.Kind != NodeDir {
		return nil, false
	}

	prefix := normalize(dir)
	if prefix != "/" {
		prefix += "/"
	}

	seen := map[string]bool{}
	var out []string
	fs.tree.WalkPrefix(prefix, func(key string, _ any) bool {
		rest := strings.TrimPrefix(key, prefix)
		if rest == "" {
			return false
		}
		name := strings.SplitN(rest, "/", 2)[0]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
		return false
	})
	sort.Strings(out)
	return out, true
}

// ErrNotFound is returned by overlay lookups for a path that exists
// neither in the overlay nor the base tree.
var ErrNotFound = trace.NotFound("no such file or directory")
