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

package hostkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeEd25519Key(t *testing.T, dir, name string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), pem.EncodeToMemory(block), 0600))
}

func TestLoadFindsHostKeys(t *testing.T) {
	dir := t.TempDir()
	writeEd25519Key(t, dir, "ssh_host_ed25519_key")
	writeEd25519Key(t, dir, "ignored.txt")

	signers, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, signers, 1)
}

func TestLoadReturnsNotFoundWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)
}

func TestIsHostKeyName(t *testing.T) {
	require.True(t, isHostKeyName("ssh_host_rsa_key"))
	require.True(t, isHostKeyName("server.pem"))
	require.False(t, isHostKeyName("readme.md"))
}
