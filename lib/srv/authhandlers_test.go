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
	"context"
	"net"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/coldwatch/sshtrap/lib/events"
	"github.com/coldwatch/sshtrap/lib/policy"
)

type fakePool struct{}

func (fakePool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag("INSERT 0 1"), nil
}
func (fakePool) QueryRow(context.Context, string, ...any) pgx.Row { return fakeRow{} }
func (fakePool) Close()                                          {}

type fakeRow struct{}

func (fakeRow) Scan(dest ...any) error { return pgx.ErrNoRows }

type fakeConnMetadata struct {
	user string
}

func (f fakeConnMetadata) User() string          { return f.user }
func (f fakeConnMetadata) SessionID() []byte     { return nil }
func (f fakeConnMetadata) ClientVersion() []byte { return nil }
func (f fakeConnMetadata) ServerVersion() []byte { return nil }
func (f fakeConnMetadata) RemoteAddr() net.Addr  { return &net.TCPAddr{IP: net.ParseIP("198.51.100.7")} }
func (f fakeConnMetadata) LocalAddr() net.Addr   { return &net.TCPAddr{IP: net.ParseIP("10.0.0.1")} }

func newTestPipeline(t *testing.T) *events.Pipeline {
	t.Helper()
	p, err := events.New(events.Config{DB: fakePool{}, Clock: clockwork.NewRealClock()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p.Start(ctx)
	t.Cleanup(p.Close)
	return p
}

func TestDecideAcceptsUnderHoneypotPolicy(t *testing.T) {
	pipeline := newTestPipeline(t)
	h, err := NewAuthHandlers(AuthHandlerConfig{
		Policy:   policy.DefaultPolicy(),
		Pipeline: pipeline,
		Peer:     net.ParseIP("198.51.100.7"),
	})
	require.NoError(t, err)

	perms, err := h.PasswordCallback(fakeConnMetadata{user: "admin"}, []byte("hunter2"))
	require.NoError(t, err)
	require.NotNil(t, perms)

	id, err := authIDFromPermissions(perms)
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestDecideRejectsUnderLoggingPolicy(t *testing.T) {
	pipeline := newTestPipeline(t)
	pol := policy.DefaultPolicy()
	pol.RejectAll = true

	h, err := NewAuthHandlers(AuthHandlerConfig{
		Policy:   pol,
		Pipeline: pipeline,
		Peer:     net.ParseIP("198.51.100.7"),
	})
	require.NoError(t, err)

	perms, err := h.PasswordCallback(fakeConnMetadata{user: "admin"}, []byte("hunter2"))
	require.Error(t, err)
	require.Nil(t, perms)
}

func TestAuthIDFromPermissionsRejectsMissingExtension(t *testing.T) {
	_, err := authIDFromPermissions(nil)
	require.Error(t, err)
}
