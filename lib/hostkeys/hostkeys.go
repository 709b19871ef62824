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

// Package hostkeys loads the server's SSH host keys from a directory.
// It never generates a key: provisioning the folder with real key
// material is treated as an external collaborator per spec.md §1's
// Non-goals.
package hostkeys

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/gravitational/trace"
)

// Load reads every PEM-encoded private key file directly inside dir and
// returns the parsed signers, in the order os.ReadDir returns them.
// Files that do not look like a PEM private key (extension not one of
// the recognized host key names) are skipped.
func Load(dir string) ([]ssh.Signer, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var signers []ssh.Signer
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !isHostKeyName(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, trace.Wrap(err)
		}

		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, trace.WrapWithMessage(err, "parsing host key %q", path)
		}
		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, trace.NotFound("no host keys found in %q", dir)
	}
	return signers, nil
}

func isHostKeyName(name string) bool {
	name = strings.ToLower(name)
	suffixes := []string{"_key", ".pem", "key"}
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
