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

package srv

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/coldwatch/sshtrap/lib/intel"
	"github.com/coldwatch/sshtrap/lib/policy"
	"github.com/coldwatch/sshtrap/lib/shell"
)

func testHostKey(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func startTestServer(t *testing.T, pol policy.Policy) (addr string) {
	t.Helper()

	pipeline := newTestPipeline(t)
	baseFS := shell.NewFS(shell.DefaultTree(shell.DefaultPersona()))

	server, err := New(Config{
		HostKeys: []ssh.Signer{testHostKey(t)},
		Policy:   pol,
		Pipeline: pipeline,
		Intel:    intel.NewManager(nil, nil),
		BaseFS:   baseFS,
		Clock:    clockwork.NewRealClock(),
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })

	return ln.Addr().String()
}

func dial(t *testing.T, addr, user string) *ssh.Client {
	t.Helper()
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password("anything")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHoneypotPolicyAcceptsAndRunsShell(t *testing.T) {
	pol := policy.DefaultPolicy()
	pol.Tarpit.Enabled = false
	addr := startTestServer(t, pol)

	client := dial(t, addr, "root")

	session, err := client.NewSession()
	require.NoError(t, err)
	defer session.Close()

	stdin, err := session.StdinPipe()
	require.NoError(t, err)

	var out bytes.Buffer
	session.Stdout = &out

	require.NoError(t, session.Shell())

	_, err = stdin.Write([]byte("whoami\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "root")
	}, 2*time.Second, 10*time.Millisecond)

	stdin.Write([]byte("exit\n"))
	session.Wait()
}

func TestRejectAllPolicyDeniesAuthentication(t *testing.T) {
	pol := policy.DefaultPolicy()
	pol.RejectAll = true
	pol.Tarpit.Enabled = false
	addr := startTestServer(t, pol)

	_, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "root",
		Auth:            []ssh.AuthMethod{ssh.Password("anything")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	require.Error(t, err)
}

func TestExecRunsSingleCommandAndExitsZero(t *testing.T) {
	pol := policy.DefaultPolicy()
	pol.Tarpit.Enabled = false
	addr := startTestServer(t, pol)

	client := dial(t, addr, "root")

	session, err := client.NewSession()
	require.NoError(t, err)
	defer session.Close()

	err = session.Run("id")
	require.NoError(t, err)
}

func TestServeAcceptsOnEveryListener(t *testing.T) {
	pipeline := newTestPipeline(t)
	baseFS := shell.NewFS(shell.DefaultTree(shell.DefaultPersona()))

	pol := policy.DefaultPolicy()
	pol.Tarpit.Enabled = false

	server, err := New(Config{
		HostKeys: []ssh.Signer{testHostKey(t)},
		Policy:   pol,
		Pipeline: pipeline,
		Intel:    intel.NewManager(nil, nil),
		BaseFS:   baseFS,
		Clock:    clockwork.NewRealClock(),
	})
	require.NoError(t, err)

	lnA, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	lnB, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go server.Serve(lnA, lnB)
	t.Cleanup(func() { server.Close() })

	dial(t, lnA.Addr().String(), "root")
	dial(t, lnB.Addr().String(), "root")
}

func TestSFTPSubsystemRejectedWhenDisabled(t *testing.T) {
	pol := policy.DefaultPolicy()
	pol.Tarpit.Enabled = false
	pol.SFTPEnabled = false
	addr := startTestServer(t, pol)

	client := dial(t, addr, "root")

	session, err := client.NewSession()
	require.NoError(t, err)
	defer session.Close()

	err = session.RequestSubsystem("sftp")
	require.Error(t, err)
}
