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
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/gravitational/trace"

	"github.com/coldwatch/sshtrap/lib/events"
)

// handleConnection drives one accepted TCP connection through ConnTrack
// emission, the SSH handshake, authentication, and the channel loop, per
// spec.md §4.1.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	peer, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		peer = conn.RemoteAddr().String()
	}
	peerIP := net.ParseIP(peer)

	connLog := s.log.WithField(trace.ComponentFields, log.Fields{"remote": peer})

	s.cfg.Pipeline.SendConnTrack(events.ConnTrack{IP: peerIP})

	decoration := s.cfg.Intel.Decorate(context.Background(), peerIP, iicSoftDeadline)

	authHandlers, err := NewAuthHandlers(AuthHandlerConfig{
		Policy:     s.cfg.Policy,
		Pipeline:   s.cfg.Pipeline,
		Peer:       peerIP,
		Decoration: decoration,
	})
	if err != nil {
		connLog.WithError(err).Warn("failed to build auth handlers")
		return
	}

	sshCfg := &ssh.ServerConfig{
		PasswordCallback:            authHandlers.PasswordCallback,
		PublicKeyCallback:           authHandlers.PublicKeyCallback,
		KeyboardInteractiveCallback: authHandlers.KeyboardInteractiveCallback,
		NoClientAuthCallback:        authHandlers.NoClientAuthCallback,
		MaxAuthTries:                maxAuthTries,
		ServerVersion:               "SSH-2.0-OpenSSH_8.9p1",
	}
	if s.cfg.Policy.Banner != "" {
		sshCfg.BannerCallback = func(ssh.ConnMetadata) string {
			return s.cfg.Policy.Banner
		}
	}
	for _, signer := range s.cfg.HostKeys {
		sshCfg.AddHostKey(signer)
	}

	conn.SetReadDeadline(s.cfg.Clock.Now().Add(handshakeTimeout))

	sconn, chans, reqs, err := ssh.NewServerConn(conn, sshCfg)
	if err != nil {
		connLog.WithError(err).Debug("handshake failed")
		return
	}
	defer sconn.Close()

	conn.SetReadDeadline(time.Time{})

	authID, err := authIDFromPermissions(sconn.Permissions)
	if err != nil {
		connLog.WithError(err).Warn("accepted connection had no auth id")
		return
	}

	go ssh.DiscardRequests(reqs)

	start := s.cfg.Clock.Now()
	s.serveChannels(conn, sconn, chans, authID, peerIP, connLog)
	end := s.cfg.Clock.Now()

	s.cfg.Pipeline.SendSession(events.Session{
		AuthID:          authID,
		Start:           start,
		End:             end,
		DurationSeconds: int64(end.Sub(start).Seconds()),
	})
}
