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

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/coldwatch/sshtrap/lib/events"
	"github.com/coldwatch/sshtrap/lib/sftpsrv"
	"github.com/coldwatch/sshtrap/lib/shell"
)

// execRequest is the payload of an "exec" channel request.
type execRequest struct {
	Command string
}

// subsystemRequest is the payload of a "subsystem" channel request.
type subsystemRequest struct {
	Name string
}

// serveChannels is the per-connection channel multiplexer described in
// spec.md §4.1: a "session" channel carrying a shell/pty-req becomes SI, a
// single "exec" request is recorded and tarpitted then closed, a
// subsystem=sftp request becomes SFTPS if enabled, and anything else is
// rejected outright.
func (s *Server) serveChannels(conn net.Conn, sconn *ssh.ServerConn, chans <-chan ssh.NewChannel, authID uuid.UUID, peer net.IP, connLog *log.Entry) {
	overlay := shell.NewOverlay(s.cfg.BaseFS)
	persona := shell.DefaultPersona()
	if s.cfg.Policy.Hostname != "" {
		persona.Hostname = s.cfg.Policy.Hostname
	}

	for newChan := range chans {
		conn.SetReadDeadline(s.cfg.Clock.Now().Add(idleTimeout))

		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}

		ch, requests, err := newChan.Accept()
		if err != nil {
			connLog.WithError(err).Debug("failed to accept channel")
			continue
		}

		go s.serveSession(ch, requests, overlay, persona, authID, sconn.User(), connLog)
	}
}

// serveSession handles the requests carried over a single "session"
// channel. Only the first recognized request (shell/pty-req, exec, or
// subsystem=sftp) determines what the channel becomes; everything else is
// denied per-request without closing the channel early.
func (s *Server) serveSession(ch ssh.Channel, requests <-chan *ssh.Request, overlay *shell.Overlay, persona shell.Persona, authID uuid.UUID, user string, connLog *log.Entry) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "shell", "pty-req":
			req.Reply(true, nil)
			if req.Type == "pty-req" {
				continue
			}
			s.runShell(ch, overlay, persona, authID, user, connLog)
			return

		case "exec":
			var payload execRequest
			ssh.Unmarshal(req.Payload, &payload)
			req.Reply(true, nil)
			s.runExec(ch, payload.Command, authID, connLog)
			return

		case "subsystem":
			var payload subsystemRequest
			ssh.Unmarshal(req.Payload, &payload)
			if payload.Name != "sftp" || !s.cfg.Policy.SFTPEnabled {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.runSFTP(ch, overlay, authID, connLog)
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) runShell(ch ssh.Channel, overlay *shell.Overlay, persona shell.Persona, authID uuid.UUID, user string, connLog *log.Entry) {
	if user == "" {
		user = "root"
	}
	session := shell.NewSession(overlay, persona, user)
	interp := shell.NewInterpreter(ch, session, s.cfg.Pipeline, authID, s.cfg.Clock, s.cfg.Policy.Tarpit)
	if err := interp.Serve(context.Background()); err != nil {
		connLog.WithError(err).Debug("shell interpreter exited with error")
	}
}

// runExec implements spec.md §4.1's single-command path: record one
// Command event for the whole request line, apply the tarpit delay, and
// report a clean exit without running anything.
func (s *Server) runExec(ch ssh.Channel, command string, authID uuid.UUID, connLog *log.Entry) {
	s.cfg.Pipeline.SendCommand(events.Command{AuthID: authID, Command: command})

	if err := s.cfg.Policy.Tarpit.Throttle(context.Background(), s.cfg.Clock); err != nil {
		return
	}

	status := struct{ Status uint32 }{Status: 0}
	ch.SendRequest("exit-status", false, ssh.Marshal(&status))
}

func (s *Server) runSFTP(ch ssh.Channel, overlay *shell.Overlay, authID uuid.UUID, connLog *log.Entry) {
	handler, err := sftpsrv.NewHandler(sftpsrv.Config{
		Overlay: overlay,
		Sink:    s.cfg.Pipeline,
		AuthID:  authID,
		Clock:   s.cfg.Clock,
	})
	if err != nil {
		connLog.WithError(err).Warn("failed to build sftp handler")
		return
	}
	if err := handler.Serve(ch); err != nil {
		connLog.WithError(err).Debug("sftp session ended with error")
	}
}
